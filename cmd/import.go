package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/ingest"
)

var (
	importSource string
	importColumn string
	importSheet  string
	importSkip   int
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a gene list file (CSV, TSV, or XLSX) through normalization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ing := ingest.New(env.Normalizer, ingest.Options{
			Column:    importColumn,
			SheetName: importSheet,
			SkipRows:  importSkip,
		})
		summary, err := ing.File(ctx, args[0], importSource)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "manual_upload", "source name recorded on staged symbols")
	importCmd.Flags().StringVar(&importColumn, "column", "", "header name of the symbol column (default: first column)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().IntVar(&importSkip, "skip-rows", 0, "leading rows to skip when no --column is given")
	rootCmd.AddCommand(importCmd)
}
