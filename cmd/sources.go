package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage source configurations",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources and their schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, pool, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if pool != nil {
			defer pool.Close()
		}

		configs, err := st.ListSourceConfigs(ctx)
		if err != nil {
			return eris.Wrap(err, "list source configs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(configs), "encode source configs")
	},
}

var sourcesSetActiveCmd = &cobra.Command{
	Use:   "set-active <source> <true|false>",
	Short: "Enable or disable a source for pipeline runs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, pool, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if pool != nil {
			defer pool.Close()
		}

		config, err := st.GetSourceConfig(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "load source %s", args[0])
		}
		config.IsActive = args[1] == "true"
		if err := st.SaveSourceConfig(ctx, config); err != nil {
			return eris.Wrapf(err, "save source %s", args[0])
		}

		zap.L().Info("source updated",
			zap.String("source", config.SourceName),
			zap.Bool("active", config.IsActive),
		)
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesSetActiveCmd)
	rootCmd.AddCommand(sourcesCmd)
}
