package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run states, source configs and cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runStates, err := env.Store.GetRunStates(ctx)
		if err != nil {
			return eris.Wrap(err, "load run states")
		}
		sources, err := env.Store.ListSourceConfigs(ctx)
		if err != nil {
			return eris.Wrap(err, "load source configs")
		}

		out := struct {
			RunStates []model.PipelineRunState `json:"run_states"`
			Sources   []model.SourceConfig     `json:"sources"`
			Cache     any                      `json:"cache"`
		}{
			RunStates: runStates,
			Sources:   sources,
			Cache:     env.Cache.Stats(),
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(out), "encode status")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
