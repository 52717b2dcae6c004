package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
)

var normalizeSource string

var normalizeCmd = &cobra.Command{
	Use:   "normalize [symbols...]",
	Short: "Resolve gene symbols against the registry, staging failures",
	Long:  "Resolves each symbol to a gene, staging unresolvable or ambiguous ones for manual review. Reads symbols from stdin (one per line) when no arguments are given, for uploaded gene lists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		symbols := args
		if len(symbols) == 0 {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					symbols = append(symbols, line)
				}
			}
			if err := scanner.Err(); err != nil {
				return eris.Wrap(err, "read symbols from stdin")
			}
		}
		if len(symbols) == 0 {
			return eris.New("no symbols given")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reqs := make([]normalize.Request, len(symbols))
		for i, symbol := range symbols {
			reqs[i] = normalize.Request{Text: symbol, SourceName: normalizeSource}
		}
		results, err := env.Normalizer.NormalizeBatch(ctx, reqs)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "encode results")
	},
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeSource, "source", "manual_upload", "source name recorded on staged symbols")
	rootCmd.AddCommand(normalizeCmd)
}
