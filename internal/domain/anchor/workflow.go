package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrimrv/backend/internal/apperr"
	"github.com/agrimrv/backend/internal/blockchain"
	"github.com/agrimrv/backend/internal/canonical"
	"github.com/agrimrv/backend/internal/observability"
)

// pollBackoffFactor caps the poll error backoff at this multiple of PollInterval.
const pollBackoffFactor = 16

type SubmitInput struct {
	FarmerID string
	Revision int64
	Hash     []byte
	Payload  []byte
}

// Workflow drives anchor records through
// submitting -> pending_confirmation -> verified | failed | rejected.
// Every transition is written to the Store before the next ledger call.
type Workflow struct {
	store     Store
	ledger    blockchain.Ledger
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	cfg       Config

	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	submitDelay func(attempt int32) time.Duration
	pollDelay   func(pollErrors int32) time.Duration
	newID       func() string
}

func NewWorkflow(store Store, ledger blockchain.Ledger, cfg Config, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Workflow {
	cfg = cfg.withDefaults()
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
		submitDelay: func(attempt int32) time.Duration {
			return exponentialBackoff(cfg.SubmitBackoffBase, cfg.SubmitBackoffMax, attempt)
		},
		pollDelay: func(n int32) time.Duration {
			return exponentialBackoff(cfg.PollInterval, cfg.PollInterval*pollBackoffFactor, n)
		},
		newID: uuid.NewString,
	}
}

func (w *Workflow) Config() Config {
	return w.cfg
}

// Submit creates a submitting record for the hash and drives it until the
// ledger accepted it (pending_confirmation) or a terminal state is reached.
// Reaching failed or rejected is not an error; the record carries the reason.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*Record, error) {
	if len(in.Hash) != canonical.HashSize {
		return nil, apperr.New(apperr.KindInvalidInput, "profile hash must be 32 bytes")
	}
	if len(in.Payload) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "canonical payload is empty")
	}

	now := w.now()
	rec := &Record{
		ID:              w.newID(),
		ProfileHash:     append([]byte(nil), in.Hash...),
		FarmerID:        in.FarmerID,
		ProfileRevision: in.Revision,
		State:           StateSubmitting,
		ChainID:         w.ledger.ChainID(),
		Payload:         append([]byte(nil), in.Payload...),
		NextPollAt:      now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := w.store.CreateIfAbsent(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrActiveExists) {
			return nil, apperr.Wrap(apperr.KindConflict, "an anchor for this profile hash is already in progress", err)
		}
		return nil, err
	}
	w.observe(ctx, "", created)
	return w.drive(ctx, created)
}

// Resume re-drives a submitting record left behind by a crashed submitter.
// Records younger than SubmitStaleAfter are returned unchanged.
func (w *Workflow) Resume(ctx context.Context, rec *Record) (*Record, error) {
	if rec.State != StateSubmitting {
		return rec, nil
	}
	now := w.now()
	if now.Sub(rec.UpdatedAt) < w.cfg.SubmitStaleAfter {
		return rec, nil
	}
	// Claim the record; a concurrent resumer loses the version check.
	claimed, err := w.persist(ctx, rec, rec.Clone())
	if err != nil {
		return nil, err
	}
	w.logger.Info("resuming stranded anchor submission", "record_id", rec.ID, "hash", canonical.HashHex(rec.ProfileHash), "retry_count", rec.RetryCount)
	return w.drive(ctx, claimed)
}

func (w *Workflow) drive(ctx context.Context, rec *Record) (*Record, error) {
	key := canonical.HashHex(rec.ProfileHash)
	for {
		if w.budgetExceeded(rec) {
			return w.finish(ctx, rec, StateFailed, apperr.KindRetryBudgetExhausted, "anchor time budget exceeded during submission")
		}

		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		started := time.Now()
		txRef, err := w.ledger.Submit(callCtx, key, rec.Payload)
		cancel()

		if err == nil {
			w.metrics.LedgerCall("submit", "ok", time.Since(started))
			next := rec.Clone()
			next.State = StatePendingConfirmation
			next.TxRef = txRef
			next.LastError = ""
			next.ErrorKind = ""
			next.NextPollAt = w.now().Add(w.cfg.PollInterval)
			return w.persistOrReload(ctx, rec, next)
		}

		if errors.Is(err, blockchain.ErrRejected) {
			w.metrics.LedgerCall("submit", "rejected", time.Since(started))
			return w.finish(ctx, rec, StateRejected, apperr.KindLedgerRejected, err.Error())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Left in submitting; Resume picks it up once stale.
			return rec, ctxErr
		}

		w.metrics.LedgerCall("submit", "transient", time.Since(started))
		next := rec.Clone()
		next.RetryCount++
		next.LastError = err.Error()
		next.ErrorKind = apperr.KindTransientLedger
		if next.RetryCount >= w.cfg.SubmitMaxAttempts {
			next.State = StateFailed
			next.ErrorKind = apperr.KindRetryBudgetExhausted
			next.LastError = fmt.Sprintf("ledger submit failed after %d attempts: %v", next.RetryCount, err)
			return w.persistOrReload(ctx, rec, next)
		}
		w.logger.Warn("ledger submit failed, retrying", "hash", key, "attempt", next.RetryCount, "err", err)

		saved, err := w.persist(ctx, rec, next)
		if err != nil {
			if errors.Is(err, ErrStaleWrite) {
				return w.reload(ctx, rec)
			}
			return nil, err
		}
		rec = saved
		if err := w.sleep(ctx, w.submitDelay(rec.RetryCount)); err != nil {
			return rec, err
		}
	}
}

// Poll advances a pending_confirmation record by one ledger status check.
// Terminal records are returned as-is without touching the store.
func (w *Workflow) Poll(ctx context.Context, rec *Record) (*Record, error) {
	if rec.State.IsTerminal() {
		return rec, nil
	}
	if rec.State != StatePendingConfirmation {
		return rec, apperr.New(apperr.KindConflict, fmt.Sprintf("record in state %s cannot be polled", rec.State))
	}
	if w.budgetExceeded(rec) {
		return w.finish(ctx, rec, StateFailed, apperr.KindRetryBudgetExhausted, "confirmation deadline exceeded")
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	started := time.Now()
	status, err := w.ledger.GetStatus(callCtx, rec.TxRef)
	cancel()

	next := rec.Clone()
	now := w.now()
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		w.metrics.LedgerCall("status", "transient", time.Since(started))
		next.PollErrors++
		next.LastError = err.Error()
		next.ErrorKind = apperr.KindTransientLedger
		if next.PollErrors >= w.cfg.PollMaxErrors {
			next.State = StateFailed
			next.ErrorKind = apperr.KindRetryBudgetExhausted
			next.LastError = fmt.Sprintf("ledger status unavailable after %d attempts: %v", next.PollErrors, err)
		} else {
			next.NextPollAt = now.Add(w.pollDelay(next.PollErrors))
		}
	case status.Rejected:
		w.metrics.LedgerCall("status", "rejected", time.Since(started))
		next.State = StateRejected
		next.ErrorKind = apperr.KindLedgerRejected
		next.LastError = status.Reason
	case status.Confirmed && status.Depth >= w.cfg.RequiredDepth:
		w.metrics.LedgerCall("status", "ok", time.Since(started))
		next.State = StateVerified
		next.Confirmations = status.Depth
		next.PollErrors = 0
		next.LastError = ""
		next.ErrorKind = ""
		next.VerifiedAt = &now
	default:
		w.metrics.LedgerCall("status", "ok", time.Since(started))
		next.Confirmations = status.Depth
		next.PollErrors = 0
		next.LastError = ""
		next.ErrorKind = ""
		next.NextPollAt = now.Add(w.cfg.PollInterval)
	}
	return w.persist(ctx, rec, next)
}

func (w *Workflow) finish(ctx context.Context, rec *Record, state State, kind apperr.Kind, reason string) (*Record, error) {
	next := rec.Clone()
	next.State = state
	next.ErrorKind = kind
	next.LastError = reason
	return w.persistOrReload(ctx, rec, next)
}

func (w *Workflow) persist(ctx context.Context, prev *Record, next Record) (*Record, error) {
	next.UpdatedAt = w.now()
	saved, err := w.store.Update(ctx, &next, prev.Version)
	if err != nil {
		return nil, err
	}
	w.observe(ctx, prev.State, saved)
	return saved, nil
}

// persistOrReload returns the current stored record when another actor got
// there first.
func (w *Workflow) persistOrReload(ctx context.Context, prev *Record, next Record) (*Record, error) {
	saved, err := w.persist(ctx, prev, next)
	if errors.Is(err, ErrStaleWrite) {
		return w.reload(ctx, prev)
	}
	return saved, err
}

func (w *Workflow) reload(ctx context.Context, rec *Record) (*Record, error) {
	cur, err := w.store.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	w.logger.Info("anchor record owned by another actor", "record_id", rec.ID, "state", cur.State)
	return cur, nil
}

func (w *Workflow) observe(ctx context.Context, from State, rec *Record) {
	if from == rec.State {
		return
	}
	w.metrics.AnchorTransition(string(from), string(rec.State))
	ev := Event{
		RecordID:    rec.ID,
		FarmerID:    rec.FarmerID,
		ProfileHash: canonical.HashHex(rec.ProfileHash),
		Revision:    rec.ProfileRevision,
		From:        from,
		To:          rec.State,
		TxRef:       rec.TxRef,
		ErrorKind:   string(rec.ErrorKind),
		At:          rec.UpdatedAt,
	}
	if ev.From == "" {
		ev.From = StateUnanchored
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.logger.Warn("anchor event publish failed", "record_id", rec.ID, "to", rec.State, "err", err)
	}
}

func (w *Workflow) budgetExceeded(rec *Record) bool {
	return w.cfg.TotalBudget > 0 && w.now().Sub(rec.CreatedAt) > w.cfg.TotalBudget
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
