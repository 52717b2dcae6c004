package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kgdb",
	Short: "Kidney genetics annotation pipeline",
	Long:  "Aggregates gene-annotation evidence from external biological sources into a unified store, with incremental updates, symbol normalization staging, and an admin API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
