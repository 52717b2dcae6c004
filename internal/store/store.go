// Package store persists genes, evidence records, source configs, staging
// records, and pipeline run states. Two implementations exist: SQLite
// (modernc.org/sqlite, embedded) and Postgres (pgx). Both provide atomic
// keyed upserts so concurrent pipeline workers never lose updates.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrConflict is returned when an operation would violate a lifecycle
// invariant, e.g. resolving an already-resolved staging record.
var ErrConflict = eris.New("store: conflict")

// StagingFilter narrows ListPendingStaging results.
type StagingFilter struct {
	SourceName       string `json:"source_name,omitempty"`
	ExpertReviewOnly bool   `json:"expert_review_only,omitempty"`
	MinPriority      int    `json:"min_priority,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// UpsertResult reports the effect of an evidence batch upsert.
type UpsertResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// Store is the persistence interface for the annotation pipeline.
type Store interface {
	// Genes
	UpsertGene(ctx context.Context, g *model.Gene) error
	GetGene(ctx context.Context, id string) (*model.Gene, error)
	GetGeneBySymbol(ctx context.Context, symbol string) (*model.Gene, error)
	// FindGenesByAlias returns every gene carrying the alias; more than one
	// result means the alias is ambiguous.
	FindGenesByAlias(ctx context.Context, alias string) ([]model.Gene, error)
	ListGenes(ctx context.Context) ([]model.Gene, error)

	// Evidence. UpsertEvidence is idempotent: re-upserting identical records
	// yields Added=0 and leaves the row count unchanged.
	UpsertEvidence(ctx context.Context, records []model.EvidenceRecord) (UpsertResult, error)
	CountEvidence(ctx context.Context, sourceName string) (int, error)
	// ListEvidenceKeys returns the set of source_detail keys already imported
	// for the source, used by incremental duplicate detection.
	ListEvidenceKeys(ctx context.Context, sourceName string) (map[string]bool, error)
	// DeactivateSourceEvidence soft-deletes all evidence for a source ahead
	// of a full re-fetch. Rows stay behind the audit trail; nothing is
	// hard-deleted.
	DeactivateSourceEvidence(ctx context.Context, sourceName string) (int, error)

	// Source configs
	ListSourceConfigs(ctx context.Context) ([]model.SourceConfig, error)
	GetSourceConfig(ctx context.Context, name string) (*model.SourceConfig, error)
	SaveSourceConfig(ctx context.Context, cfg *model.SourceConfig) error
	// TouchSourceUpdate records the outcome of a source run: last/next update
	// on success, the failure flag otherwise.
	TouchSourceUpdate(ctx context.Context, name string, at time.Time, next time.Time, failed bool) error

	// Staging. UpsertStaging deduplicates on (original_text, source_name):
	// a repeat failure appends to the existing record's log and merges the
	// priority score instead of inserting a new row. Returns the record ID.
	UpsertStaging(ctx context.Context, rec *model.StagingRecord) (string, error)
	GetStaging(ctx context.Context, id string) (*model.StagingRecord, error)
	ListPendingStaging(ctx context.Context, filter StagingFilter) ([]model.StagingRecord, error)
	// ApproveStaging atomically creates-or-links the gene, marks the record
	// approved, and appends an audit entry. Fails with ErrConflict if the
	// record is already resolved.
	ApproveStaging(ctx context.Context, stagingID string, gene *model.Gene, reviewer, notes string) (*model.Gene, error)
	// RejectStaging atomically marks the record rejected with the reviewer's
	// justification and appends an audit entry. Terminal; ErrConflict if
	// already resolved.
	RejectStaging(ctx context.Context, stagingID string, reviewer, notes string) error
	ListAudit(ctx context.Context, stagingID string) ([]model.AuditEntry, error)

	// Run states
	SaveRunState(ctx context.Context, st *model.PipelineRunState) error
	GetRunStates(ctx context.Context) ([]model.PipelineRunState, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
