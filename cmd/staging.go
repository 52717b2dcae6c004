package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/staging"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

var (
	stagingSource     string
	stagingExpertOnly bool
	stagingMinPrio    int
	stagingLimit      int

	stagingReviewer string
	stagingNotes    string
	stagingSymbol   string
	stagingGeneID   string
)

var stagingCmd = &cobra.Command{
	Use:   "staging",
	Short: "Review staged gene symbols",
}

var stagingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending staging records, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Staging.ListPending(ctx, store.StagingFilter{
			SourceName:       stagingSource,
			ExpertReviewOnly: stagingExpertOnly,
			MinPriority:      stagingMinPrio,
			Limit:            stagingLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(records), "encode staging records")
	},
}

var stagingApproveCmd = &cobra.Command{
	Use:   "approve <staging-id>...",
	Short: "Approve staged symbols, creating or linking a gene",
	Long:  "Approves one or more staging records. With multiple ids the same approval target is applied to each, best effort, and per-id outcomes are printed.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := staging.ApprovalRequest{
			GeneID:         stagingGeneID,
			ApprovedSymbol: stagingSymbol,
			Reviewer:       stagingReviewer,
			Notes:          stagingNotes,
		}

		if len(args) > 1 {
			return printOutcomes(env.Staging.BulkApprove(ctx, args, req))
		}

		gene, err := env.Staging.Approve(ctx, args[0], req)
		if err != nil {
			return err
		}
		zap.L().Info("staging record approved",
			zap.String("staging_id", args[0]),
			zap.String("gene_id", gene.ID),
			zap.String("symbol", gene.ApprovedSymbol),
		)
		return nil
	},
}

var stagingRejectCmd = &cobra.Command{
	Use:   "reject <staging-id>...",
	Short: "Reject staged symbols (terminal, requires --notes)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) > 1 {
			return printOutcomes(env.Staging.BulkReject(ctx, args, stagingReviewer, stagingNotes))
		}

		if err := env.Staging.Reject(ctx, args[0], stagingReviewer, stagingNotes); err != nil {
			return err
		}
		zap.L().Info("staging record rejected", zap.String("staging_id", args[0]))
		return nil
	},
}

func printOutcomes(outcomes []staging.BulkOutcome) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(outcomes), "encode outcomes")
}

func init() {
	stagingListCmd.Flags().StringVar(&stagingSource, "source", "", "filter by source name")
	stagingListCmd.Flags().BoolVar(&stagingExpertOnly, "expert-only", false, "only records flagged for expert review")
	stagingListCmd.Flags().IntVar(&stagingMinPrio, "min-priority", 0, "minimum priority score")
	stagingListCmd.Flags().IntVar(&stagingLimit, "limit", 50, "maximum records to list")

	for _, c := range []*cobra.Command{stagingApproveCmd, stagingRejectCmd} {
		c.Flags().StringVar(&stagingReviewer, "reviewer", "", "reviewer name (required)")
		c.Flags().StringVar(&stagingNotes, "notes", "", "review notes")
		_ = c.MarkFlagRequired("reviewer")
	}
	stagingApproveCmd.Flags().StringVar(&stagingSymbol, "symbol", "", "approved gene symbol")
	stagingApproveCmd.Flags().StringVar(&stagingGeneID, "gene-id", "", "link to an existing gene instead")

	stagingCmd.AddCommand(stagingListCmd)
	stagingCmd.AddCommand(stagingApproveCmd)
	stagingCmd.AddCommand(stagingRejectCmd)
	rootCmd.AddCommand(stagingCmd)
}
