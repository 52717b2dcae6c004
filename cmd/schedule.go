package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the cron scheduler in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := seedSourceConfigs(ctx, env.Store); err != nil {
			return eris.Wrap(err, "seed source configs")
		}

		sched, err := scheduler.New(cfg.Scheduler, env.Orch, env.Cache)
		if err != nil {
			return err
		}
		sched.Start()
		zap.L().Info("scheduler running",
			zap.String("incremental", cfg.Scheduler.IncrementalSpec),
			zap.String("cache_sweep", cfg.Scheduler.CacheSweepSpec),
		)

		<-ctx.Done()
		sched.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
