// Package app assembles the stores, ledger client and services shared by the
// api and poller binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/agrimrv/backend/internal/blockchain"
	"github.com/agrimrv/backend/internal/cache"
	"github.com/agrimrv/backend/internal/config"
	"github.com/agrimrv/backend/internal/db"
	admindomain "github.com/agrimrv/backend/internal/domain/admin"
	"github.com/agrimrv/backend/internal/domain/anchor"
	"github.com/agrimrv/backend/internal/domain/eligibility"
	"github.com/agrimrv/backend/internal/domain/farmer"
	"github.com/agrimrv/backend/internal/domain/lender"
	"github.com/agrimrv/backend/internal/events"
	"github.com/agrimrv/backend/internal/http/handlers"
	"github.com/agrimrv/backend/internal/jobs"
	"github.com/agrimrv/backend/internal/observability"
	memoryrepo "github.com/agrimrv/backend/internal/repository/memory"
	postgresrepo "github.com/agrimrv/backend/internal/repository/postgres"
)

const (
	StoreModePostgres = "postgres"
	StoreModeMemory   = "memory"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Pinger   handlers.Pinger

	Farmers     farmer.Repository
	Offers      lender.Repository
	Audit       admindomain.AuditRepository
	AnchorStore anchor.Store
	Ledger      blockchain.Ledger

	Workflow    *anchor.Workflow
	Anchors     *anchor.Service
	Eligibility *eligibility.Service
	Profiles    *farmer.Service
	Admin       *admindomain.Service

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *App) InMemory() bool {
	return a.Config.StoreMode == StoreModeMemory
}

func (a *App) NewPoller() *jobs.Poller {
	return jobs.NewPoller(a.AnchorStore, a.Workflow, jobs.PollerConfig{
		BatchSize:        a.Config.PollerBatchSize,
		Concurrency:      a.Config.PollerConcurrency,
		Lease:            a.Config.PollerLease,
		SubmitStaleAfter: a.Config.AnchorSubmitStaleAfter,
	}, a.Metrics, a.Logger)
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
	}
	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	var hashCache anchor.HashCache
	var index blockchain.IdempotencyIndex
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		hashCache = cache.NewRedisHashCache(rdb, cfg.HashCacheTTL)
		index = cache.NewRedisIdempotencyIndex(rdb, 0)
		a.Pinger = chainPing(a.Pinger, rdb)
	} else {
		hashCache = cache.NewMemoryHashCache(cfg.HashCacheTTL)
		index = blockchain.NewMemoryIndex()
	}

	a.Ledger, err = blockchain.NewLedgerFromConfig(cfg, index, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var publisher anchor.Publisher = anchor.NopPublisher{}
	if strings.TrimSpace(cfg.NATSURL) != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, np.Close)
		publisher = np
	}

	a.Workflow = anchor.NewWorkflow(a.AnchorStore, a.Ledger, anchor.ConfigFrom(cfg), publisher, a.Metrics, logger)
	a.Anchors = anchor.NewService(a.Farmers, a.AnchorStore, a.Workflow, hashCache, a.Metrics, logger)
	a.Eligibility, err = eligibility.NewService(a.Farmers, a.Offers, a.Anchors, eligibility.WeightsFrom(cfg), cfg.PremiumRequiresAnchor, a.Metrics, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid score configuration: %w", err)
	}
	a.Profiles = farmer.NewService(a.Farmers)
	a.Admin = admindomain.NewService(a.Offers, a.Audit, logger)
	return a, nil
}

func (a *App) buildStores(ctx context.Context) error {
	switch strings.ToLower(strings.TrimSpace(a.Config.StoreMode)) {
	case StoreModeMemory:
		a.Farmers = memoryrepo.NewFarmerRepository()
		a.Offers = memoryrepo.NewLenderRepository()
		a.Audit = memoryrepo.NewAdminAuditRepository()
		a.AnchorStore = memoryrepo.NewAnchorStore()
		a.Pinger = handlers.PingFunc(func(context.Context) error { return nil })
		return nil
	case "", StoreModePostgres:
		pool, err := db.NewPostgresPool(ctx, a.Config)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if a.Config.DBAutoMigrate {
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
			if len(applied) > 0 {
				a.Logger.Info("migrations applied", "versions", applied)
			}
		}
		a.setPostgres(pool)
		return nil
	default:
		return fmt.Errorf("invalid STORE_MODE: %s", a.Config.StoreMode)
	}
}

func (a *App) setPostgres(pool *pgxpool.Pool) {
	a.Farmers = postgresrepo.NewFarmerRepository(pool)
	a.Offers = postgresrepo.NewLenderRepository(pool)
	a.Audit = postgresrepo.NewAdminAuditRepository(pool)
	a.AnchorStore = postgresrepo.NewAnchorRepository(pool)
	a.Pinger = pool
}

func chainPing(base handlers.Pinger, rdb *redis.Client) handlers.Pinger {
	return handlers.PingFunc(func(ctx context.Context) error {
		if base != nil {
			if err := base.Ping(ctx); err != nil {
				return err
			}
		}
		return rdb.Ping(ctx).Err()
	})
}
