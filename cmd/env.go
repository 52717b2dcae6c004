package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/cache"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/pipeline"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/resilience"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/source"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/staging"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

// pipelineEnv bundles the wired application components for a command.
type pipelineEnv struct {
	Store      store.Store
	Cache      *cache.Cache
	Clients    *source.Clients
	Normalizer *normalize.Normalizer
	Staging    *staging.Service
	Orch       *pipeline.Orchestrator

	pgPool *pgxpool.Pool
}

// Close releases the environment's resources.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		if err := pe.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	if err := pe.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
	if pe.pgPool != nil {
		pe.pgPool.Close()
	}
}

func initStore(ctx context.Context) (store.Store, *pgxpool.Pool, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "connect postgres")
		}
		return store.NewPostgres(pool), pool, nil
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initCache(ctx context.Context) (*cache.Cache, error) {
	var l2 cache.Persistent
	switch cfg.Cache.Backend {
	case "sqlite", "":
		tier, err := cache.NewSQLiteTier(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		l2 = tier
	case "redis":
		tier, err := cache.NewRedisTier(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		l2 = tier
	case "none":
	default:
		return nil, eris.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return cache.New(cfg.Cache.L1Capacity, l2), nil
}

func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, pgPool, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	c, err := initCache(ctx)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	breakers := resilience.NewSourceBreakers(resilience.DefaultCircuitBreakerConfig())
	clients := source.Build(cfg, c, breakers)

	n := normalize.New(st, clients.HGNC, normalize.Options{
		ChunkSize:    cfg.Normalize.ChunkSize,
		ChunksPerSec: cfg.Normalize.ChunksPerSec,
	})

	orch := pipeline.New(st, clients.Registry, n, pipeline.NewController(), pipeline.Options{
		Workers:            cfg.Pipeline.Workers,
		BatchSize:          cfg.Pipeline.BatchSize,
		CommitEveryBatches: cfg.Pipeline.CommitEveryBatches,
		MaxRunDuration:     time.Duration(cfg.Pipeline.MaxRunHours) * time.Hour,
	})

	return &pipelineEnv{
		Store:      st,
		Cache:      c,
		Clients:    clients,
		Normalizer: n,
		Staging:    staging.NewService(st),
		Orch:       orch,
		pgPool:     pgPool,
	}, nil
}

// seedSourceConfigs writes a SourceConfig row for every configured source
// that does not have one yet, so worklist selection sees the full set.
func seedSourceConfigs(ctx context.Context, st store.Store) error {
	for _, name := range cfg.SourceNames() {
		if _, err := st.GetSourceConfig(ctx, name); err == nil {
			continue
		} else if !eris.Is(err, store.ErrNotFound) {
			return err
		}
		opts := cfg.SourceOpts(name)
		if err := st.SaveSourceConfig(ctx, &model.SourceConfig{
			SourceName:      name,
			IsActive:        true,
			UpdateFrequency: opts.UpdateFrequency(),
			CacheTTL:        opts.CacheTTL(),
		}); err != nil {
			return err
		}
	}
	return nil
}
