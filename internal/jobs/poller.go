package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/domain/anchor"
	"github.com/agrimrv/backend/internal/observability"
)

type AnchorWorkflow interface {
	Poll(ctx context.Context, rec *anchor.Record) (*anchor.Record, error)
	Resume(ctx context.Context, rec *anchor.Record) (*anchor.Record, error)
}

type PollerConfig struct {
	BatchSize        int32
	Concurrency      int32
	Lease            time.Duration
	SubmitStaleAfter time.Duration
}

// Summary counts what one pass did. Skipped records were owned by another
// poller instance.
type Summary struct {
	Polled  int64
	Resumed int64
	Skipped int64
	Errors  int64
}

// Poller advances pending anchors. Several pollers may share a store: each
// record is leased with a versioned update before it is polled, and only the
// winner of that update touches the ledger.
type Poller struct {
	store    anchor.Store
	workflow AnchorWorkflow
	cfg      PollerConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewPoller(store anchor.Store, workflow AnchorWorkflow, cfg PollerConfig, metrics *observability.Metrics, logger *slog.Logger) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.SubmitStaleAfter <= 0 {
		cfg.SubmitStaleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		workflow: workflow,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	now := p.now()
	pending, err := p.store.ListDue(ctx, anchor.StatePendingConfirmation, now, p.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}
	stranded, err := p.store.ListDue(ctx, anchor.StateSubmitting, now.Add(-p.cfg.SubmitStaleAfter), p.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	var polled, resumed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.cfg.Concurrency))

	for i := range pending {
		rec := pending[i]
		g.Go(func() error {
			switch err := p.pollOne(gctx, &rec, now); {
			case err == nil:
				polled.Add(1)
			case errors.Is(err, anchor.ErrStaleWrite):
				skipped.Add(1)
				p.metrics.PollerRecord("skipped")
			default:
				failed.Add(1)
				p.metrics.PollerRecord("error")
				p.logger.Error("anchor poll failed", "record_id", rec.ID, "hash", canonical.HashHex(rec.ProfileHash), "err", err)
			}
			return nil
		})
	}
	for i := range stranded {
		rec := stranded[i]
		g.Go(func() error {
			out, err := p.workflow.Resume(gctx, &rec)
			switch {
			case err == nil:
				resumed.Add(1)
				p.metrics.PollerRecord("resumed_" + string(out.State))
			case errors.Is(err, anchor.ErrStaleWrite):
				skipped.Add(1)
				p.metrics.PollerRecord("skipped")
			default:
				failed.Add(1)
				p.metrics.PollerRecord("error")
				p.logger.Error("anchor resume failed", "record_id", rec.ID, "hash", canonical.HashHex(rec.ProfileHash), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	p.metrics.PollerPass(p.now())

	return Summary{
		Polled:  polled.Load(),
		Resumed: resumed.Load(),
		Skipped: skipped.Load(),
		Errors:  failed.Load(),
	}, ctx.Err()
}

func (p *Poller) pollOne(ctx context.Context, rec *anchor.Record, now time.Time) error {
	leased := rec.Clone()
	leased.NextPollAt = now.Add(p.cfg.Lease)
	leased.UpdatedAt = now
	owned, err := p.store.Update(ctx, &leased, rec.Version)
	if err != nil {
		return err
	}
	out, err := p.workflow.Poll(ctx, owned)
	if err != nil {
		return err
	}
	p.metrics.PollerRecord(string(out.State))
	return nil
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sum, err := p.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("poller run failed", "err", err)
				continue
			}
			if sum.Polled+sum.Resumed+sum.Errors > 0 {
				p.logger.Info("poller pass", "polled", sum.Polled, "resumed", sum.Resumed, "skipped", sum.Skipped, "errors", sum.Errors)
			}
		}
	}
}
