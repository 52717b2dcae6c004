// Package staging exposes the manual-review workflow over staged
// normalization failures: list, approve, reject, and their bulk variants.
package staging

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

// ApprovalRequest describes how a staged symbol maps to a gene. Either
// GeneID links an existing gene or ApprovedSymbol creates a new one.
type ApprovalRequest struct {
	GeneID         string            `json:"gene_id,omitempty"`
	ApprovedSymbol string            `json:"approved_symbol,omitempty"`
	Aliases        []string          `json:"aliases,omitempty"`
	ExternalIDs    map[string]string `json:"external_ids,omitempty"`
	Reviewer       string            `json:"reviewer"`
	Notes          string            `json:"notes,omitempty"`
}

// BulkOutcome is the per-record result of a bulk operation.
type BulkOutcome struct {
	StagingID string `json:"staging_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Service coordinates review actions against the store.
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates a staging review service.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		log:   zap.L().With(zap.String("component", "staging")),
	}
}

// ListPending returns unresolved records, highest priority first.
func (s *Service) ListPending(ctx context.Context, filter store.StagingFilter) ([]model.StagingRecord, error) {
	return s.store.ListPendingStaging(ctx, filter)
}

// Get returns one staging record with its review state.
func (s *Service) Get(ctx context.Context, id string) (*model.StagingRecord, error) {
	return s.store.GetStaging(ctx, id)
}

// Audit returns the append-only review history for a record.
func (s *Service) Audit(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return s.store.ListAudit(ctx, id)
}

// Approve resolves a staged symbol to a gene. The gene link, status
// transition and audit entry commit atomically; approving an already
// resolved record fails with store.ErrConflict.
func (s *Service) Approve(ctx context.Context, stagingID string, req ApprovalRequest) (*model.Gene, error) {
	if strings.TrimSpace(req.Reviewer) == "" {
		return nil, eris.New("staging: reviewer is required")
	}

	gene, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	approved, err := s.store.ApproveStaging(ctx, stagingID, gene, req.Reviewer, req.Notes)
	if err != nil {
		return nil, err
	}

	s.log.Info("staging record approved",
		zap.String("staging_id", stagingID),
		zap.String("gene_id", approved.ID),
		zap.String("symbol", approved.ApprovedSymbol),
		zap.String("reviewer", req.Reviewer),
	)
	return approved, nil
}

// Reject marks a staged symbol as not-a-gene. Rejections are terminal and
// require a justification.
func (s *Service) Reject(ctx context.Context, stagingID, reviewer, notes string) error {
	if strings.TrimSpace(reviewer) == "" {
		return eris.New("staging: reviewer is required")
	}
	if strings.TrimSpace(notes) == "" {
		return eris.New("staging: rejection notes are required")
	}

	if err := s.store.RejectStaging(ctx, stagingID, reviewer, notes); err != nil {
		return err
	}

	s.log.Info("staging record rejected",
		zap.String("staging_id", stagingID),
		zap.String("reviewer", reviewer),
	)
	return nil
}

// BulkApprove applies one approval target to many records, best effort: a
// failure on one record never blocks the rest, and every record reports its
// own outcome.
func (s *Service) BulkApprove(ctx context.Context, stagingIDs []string, req ApprovalRequest) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(stagingIDs))
	for _, id := range stagingIDs {
		_, err := s.Approve(ctx, id, req)
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

// BulkReject rejects many records, best effort per item.
func (s *Service) BulkReject(ctx context.Context, stagingIDs []string, reviewer, notes string) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(stagingIDs))
	for _, id := range stagingIDs {
		err := s.Reject(ctx, id, reviewer, notes)
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

// resolveTarget turns the request into the gene to link: an existing gene by
// ID, an existing gene by symbol, or a brand-new gene.
func (s *Service) resolveTarget(ctx context.Context, req ApprovalRequest) (*model.Gene, error) {
	if req.GeneID != "" {
		gene, err := s.store.GetGene(ctx, req.GeneID)
		if err != nil {
			return nil, eris.Wrapf(err, "staging: target gene %s", req.GeneID)
		}
		return gene, nil
	}

	symbol := strings.TrimSpace(req.ApprovedSymbol)
	if symbol == "" {
		return nil, eris.New("staging: approval needs gene_id or approved_symbol")
	}

	gene, err := s.store.GetGeneBySymbol(ctx, symbol)
	switch {
	case err == nil:
		return gene, nil
	case eris.Is(err, store.ErrNotFound):
		return &model.Gene{
			ApprovedSymbol: symbol,
			Aliases:        req.Aliases,
			ExternalIDs:    req.ExternalIDs,
		}, nil
	default:
		return nil, err
	}
}

func toOutcome(id string, err error) BulkOutcome {
	if err != nil {
		return BulkOutcome{StagingID: id, Error: err.Error()}
	}
	return BulkOutcome{StagingID: id, OK: true}
}
