package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/pipeline"
)

var (
	runStrategy string
	runSources  []string
	runForce    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one annotation pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		strategy, err := model.ParseStrategy(runStrategy)
		if err != nil {
			return err
		}

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

		summary, err := env.Orch.Run(ctx, pipeline.RunOptions{
			Strategy: strategy,
			Sources:  runSources,
			Force:    runForce,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return eris.Wrap(err, "encode summary")
		}

		if summary.Overall == model.OverallFailed {
			zap.L().Error("run failed", zap.String("run_id", summary.RunID))
			return eris.New("pipeline run failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runStrategy, "strategy", "incremental", "run strategy: full, incremental, selective, forced")
	runCmd.Flags().StringSliceVar(&runSources, "sources", nil, "source subset for selective runs")
	runCmd.Flags().BoolVar(&runForce, "force", false, "bypass response cache freshness")
	rootCmd.AddCommand(runCmd)
}
