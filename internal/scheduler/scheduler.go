// Package scheduler triggers recurring pipeline work: nightly incremental
// runs and periodic cache sweeps, on cron schedules from the config.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/cache"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/config"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/pipeline"
)

// Scheduler wires cron schedules to the orchestrator and cache.
type Scheduler struct {
	cron *cron.Cron
	orch *pipeline.Orchestrator
	c    *cache.Cache
	log  *zap.Logger
}

// New creates a scheduler; Start must be called to begin firing.
func New(cfg config.SchedulerConfig, orch *pipeline.Orchestrator, c *cache.Cache) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		orch: orch,
		c:    c,
		log:  zap.L().With(zap.String("component", "scheduler")),
	}

	if cfg.IncrementalSpec != "" {
		if _, err := s.cron.AddFunc(cfg.IncrementalSpec, s.runIncremental); err != nil {
			return nil, eris.Wrapf(err, "scheduler: bad incremental spec %q", cfg.IncrementalSpec)
		}
	}
	if cfg.CacheSweepSpec != "" && c != nil {
		if _, err := s.cron.AddFunc(cfg.CacheSweepSpec, s.sweepCache); err != nil {
			return nil, eris.Wrapf(err, "scheduler: bad cache sweep spec %q", cfg.CacheSweepSpec)
		}
	}
	return s, nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runIncremental() {
	s.log.Info("scheduled incremental run starting")
	summary, err := s.orch.Run(context.Background(), pipeline.RunOptions{
		Strategy: model.StrategyIncremental,
	})
	if err != nil {
		s.log.Error("scheduled run failed to start", zap.Error(err))
		return
	}
	s.log.Info("scheduled incremental run finished",
		zap.String("run_id", summary.RunID),
		zap.String("overall", string(summary.Overall)),
		zap.Int("sources", len(summary.Sources)),
	)
}

func (s *Scheduler) sweepCache() {
	removed, err := s.c.Sweep(context.Background())
	if err != nil {
		s.log.Warn("cache sweep failed", zap.Error(err))
		return
	}
	s.log.Info("cache sweep finished", zap.Int("entries_removed", removed))
}
