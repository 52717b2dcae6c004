package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/db"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// PostgresStore implements Store on pgx. Evidence batches go through the
// COPY-based bulk upsert so concurrent workers resolve conflicts inside
// Postgres instead of racing in application code.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool. The caller owns pool construction so
// tests can substitute pgxmock.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS genes (
	id              TEXT PRIMARY KEY,
	approved_symbol TEXT NOT NULL UNIQUE,
	aliases         JSONB NOT NULL DEFAULT '[]',
	external_ids    JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_records (
	gene_id       TEXT NOT NULL REFERENCES genes(id),
	source_name   TEXT NOT NULL,
	source_detail TEXT NOT NULL DEFAULT '',
	evidence_data JSONB NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL DEFAULT 1,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (gene_id, source_name, source_detail)
);

CREATE TABLE IF NOT EXISTS source_configs (
	source_name      TEXT PRIMARY KEY,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	update_freq_secs BIGINT NOT NULL DEFAULT 0,
	cache_ttl_secs   BIGINT NOT NULL DEFAULT 0,
	last_update      TIMESTAMPTZ,
	next_update      TIMESTAMPTZ,
	last_run_failed  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS staging_records (
	id                     TEXT PRIMARY KEY,
	original_text          TEXT NOT NULL,
	source_name            TEXT NOT NULL,
	original_data          JSONB NOT NULL DEFAULT '{}',
	normalization_log      JSONB NOT NULL DEFAULT '[]',
	priority_score         INTEGER NOT NULL DEFAULT 0,
	requires_expert_review BOOLEAN NOT NULL DEFAULT FALSE,
	status                 TEXT NOT NULL DEFAULT 'pending',
	approved_gene_id       TEXT,
	reviewer               TEXT,
	review_notes           TEXT,
	created_at             TIMESTAMPTZ NOT NULL,
	resolved_at            TIMESTAMPTZ,
	UNIQUE (original_text, source_name)
);

CREATE TABLE IF NOT EXISTS staging_audit (
	staging_id TEXT NOT NULL REFERENCES staging_records(id),
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL,
	notes      TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_run_states (
	run_id              TEXT NOT NULL,
	source_name         TEXT NOT NULL,
	status              TEXT NOT NULL,
	progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_operation   TEXT,
	items_processed     INTEGER NOT NULL DEFAULT 0,
	items_added         INTEGER NOT NULL DEFAULT 0,
	items_updated       INTEGER NOT NULL DEFAULT 0,
	items_failed        INTEGER NOT NULL DEFAULT 0,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	last_error          TEXT,
	PRIMARY KEY (run_id, source_name)
);

CREATE INDEX IF NOT EXISTS idx_evidence_source ON evidence_records(source_name);
CREATE INDEX IF NOT EXISTS idx_staging_status ON staging_records(status);
CREATE INDEX IF NOT EXISTS idx_staging_priority ON staging_records(priority_score);
CREATE INDEX IF NOT EXISTS idx_audit_staging ON staging_audit(staging_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close is a no-op; the caller owns the pool.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) UpsertGene(ctx context.Context, g *model.Gene) error {
	now := time.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	aliasJSON, err := json.Marshal(g.Aliases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aliases")
	}
	extJSON, err := json.Marshal(g.ExternalIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal external ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO genes (id, approved_symbol, aliases, external_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			approved_symbol = EXCLUDED.approved_symbol,
			aliases         = EXCLUDED.aliases,
			external_ids    = EXCLUDED.external_ids,
			updated_at      = EXCLUDED.updated_at`,
		g.ID, g.ApprovedSymbol, aliasJSON, extJSON, g.CreatedAt, g.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert gene %s", g.ApprovedSymbol)
}

const pgGeneColumns = `id, approved_symbol, aliases, external_ids, created_at, updated_at`

func (s *PostgresStore) GetGene(ctx context.Context, id string) (*model.Gene, error) {
	return scanPgGene(s.pool.QueryRow(ctx,
		`SELECT `+pgGeneColumns+` FROM genes WHERE id = $1`, id))
}

func (s *PostgresStore) GetGeneBySymbol(ctx context.Context, symbol string) (*model.Gene, error) {
	return scanPgGene(s.pool.QueryRow(ctx,
		`SELECT `+pgGeneColumns+` FROM genes WHERE approved_symbol = $1`, symbol))
}

func (s *PostgresStore) FindGenesByAlias(ctx context.Context, alias string) ([]model.Gene, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgGeneColumns+` FROM genes WHERE aliases ? $1 ORDER BY approved_symbol`, alias)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find genes by alias %s", alias)
	}
	defer rows.Close()
	return collectPgGenes(rows)
}

func (s *PostgresStore) ListGenes(ctx context.Context) ([]model.Gene, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgGeneColumns+` FROM genes ORDER BY approved_symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list genes")
	}
	defer rows.Close()
	return collectPgGenes(rows)
}

func (s *PostgresStore) UpsertEvidence(ctx context.Context, records []model.EvidenceRecord) (UpsertResult, error) {
	var result UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	geneIDs := make([]string, len(records))
	sources := make([]string, len(records))
	details := make([]string, len(records))
	for i, rec := range records {
		geneIDs[i] = rec.GeneID
		sources[i] = rec.SourceName
		details[i] = rec.SourceDetail
	}

	// Count the keys that already exist so the result distinguishes inserts
	// from updates; the upsert itself stays a single COPY round trip.
	var existing int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evidence_records e
		 JOIN unnest($1::text[], $2::text[], $3::text[]) AS t(gene_id, source_name, source_detail)
		 USING (gene_id, source_name, source_detail)`,
		geneIDs, sources, details,
	).Scan(&existing)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: count existing evidence")
	}

	now := time.Now().UTC()
	rows := make([][]any, len(records))
	for i, rec := range records {
		dataJSON, err := json.Marshal(rec.Data)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: marshal evidence %s/%s", rec.GeneID, rec.SourceName)
		}
		rows[i] = []any{rec.GeneID, rec.SourceName, rec.SourceDetail, dataJSON, 1, true, now, now}
	}

	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "evidence_records",
		Columns:      []string{"gene_id", "source_name", "source_detail", "evidence_data", "version", "active", "created_at", "updated_at"},
		ConflictKeys: []string{"gene_id", "source_name", "source_detail"},
		UpdateCols:   []string{"evidence_data", "active", "updated_at"},
		ExtraSet:     []string{`"version" = evidence_records."version" + 1`},
	}, rows)
	if err != nil {
		return UpsertResult{}, err
	}

	result.Updated = existing
	result.Added = len(records) - existing
	return result, nil
}

func (s *PostgresStore) CountEvidence(ctx context.Context, sourceName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evidence_records WHERE source_name = $1 AND active`,
		sourceName,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count evidence %s", sourceName)
}

func (s *PostgresStore) ListEvidenceKeys(ctx context.Context, sourceName string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_detail FROM evidence_records WHERE source_name = $1 AND active`,
		sourceName,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list evidence keys %s", sourceName)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence key")
		}
		keys[detail] = true
	}
	return keys, eris.Wrap(rows.Err(), "postgres: iterate evidence keys")
}

func (s *PostgresStore) DeactivateSourceEvidence(ctx context.Context, sourceName string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence_records SET active = FALSE, updated_at = $1 WHERE source_name = $2 AND active`,
		time.Now().UTC(), sourceName,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: deactivate evidence %s", sourceName)
	}
	return int(tag.RowsAffected()), nil
}

const pgSourceConfigColumns = `source_name, is_active, update_freq_secs, cache_ttl_secs, last_update, next_update, last_run_failed`

func (s *PostgresStore) ListSourceConfigs(ctx context.Context) ([]model.SourceConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgSourceConfigColumns+` FROM source_configs ORDER BY source_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source configs")
	}
	defer rows.Close()

	var configs []model.SourceConfig
	for rows.Next() {
		cfg, err := scanPgSourceConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, eris.Wrap(rows.Err(), "postgres: iterate source configs")
}

func (s *PostgresStore) GetSourceConfig(ctx context.Context, name string) (*model.SourceConfig, error) {
	return scanPgSourceConfig(s.pool.QueryRow(ctx,
		`SELECT `+pgSourceConfigColumns+` FROM source_configs WHERE source_name = $1`, name))
}

func (s *PostgresStore) SaveSourceConfig(ctx context.Context, cfg *model.SourceConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_configs
		 (source_name, is_active, update_freq_secs, cache_ttl_secs, last_update, next_update, last_run_failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source_name) DO UPDATE SET
			is_active        = EXCLUDED.is_active,
			update_freq_secs = EXCLUDED.update_freq_secs,
			cache_ttl_secs   = EXCLUDED.cache_ttl_secs,
			last_update      = EXCLUDED.last_update,
			next_update      = EXCLUDED.next_update,
			last_run_failed  = EXCLUDED.last_run_failed`,
		cfg.SourceName, cfg.IsActive,
		int64(cfg.UpdateFrequency.Seconds()), int64(cfg.CacheTTL.Seconds()),
		cfg.LastUpdate, cfg.NextUpdate, cfg.LastRunFailed,
	)
	return eris.Wrapf(err, "postgres: save source config %s", cfg.SourceName)
}

func (s *PostgresStore) TouchSourceUpdate(ctx context.Context, name string, at time.Time, next time.Time, failed bool) error {
	var err error
	var affected int64
	if failed {
		tag, execErr := s.pool.Exec(ctx,
			`UPDATE source_configs SET last_run_failed = TRUE WHERE source_name = $1`, name)
		err, affected = execErr, tag.RowsAffected()
	} else {
		tag, execErr := s.pool.Exec(ctx,
			`UPDATE source_configs SET last_update = $1, next_update = $2, last_run_failed = FALSE WHERE source_name = $3`,
			at.UTC(), next.UTC(), name)
		err, affected = execErr, tag.RowsAffected()
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: touch source %s", name)
	}
	if affected == 0 {
		return eris.Wrapf(ErrNotFound, "source config %s", name)
	}
	return nil
}

const pgStagingColumns = `id, original_text, source_name, original_data, normalization_log,
	priority_score, requires_expert_review, status, approved_gene_id, reviewer, review_notes,
	created_at, resolved_at`

func (s *PostgresStore) UpsertStaging(ctx context.Context, rec *model.StagingRecord) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin staging upsert")
	}
	defer tx.Rollback(ctx)

	existing, err := scanPgStaging(tx.QueryRow(ctx,
		`SELECT `+pgStagingColumns+` FROM staging_records
		 WHERE original_text = $1 AND source_name = $2 FOR UPDATE`,
		rec.OriginalText, rec.SourceName,
	))
	if err != nil && !eris.Is(err, ErrNotFound) {
		return "", err
	}

	if existing != nil {
		if existing.Status.Resolved() {
			if err := tx.Commit(ctx); err != nil {
				return "", eris.Wrap(err, "postgres: commit staging upsert")
			}
			return existing.ID, nil
		}

		log := append(existing.NormalizationLog, rec.NormalizationLog...)
		logJSON, err := json.Marshal(log)
		if err != nil {
			return "", eris.Wrap(err, "postgres: marshal normalization log")
		}
		priority := existing.PriorityScore
		if rec.PriorityScore > priority {
			priority = rec.PriorityScore
		}

		_, err = tx.Exec(ctx,
			`UPDATE staging_records SET
				normalization_log = $1, priority_score = $2, requires_expert_review = $3
			 WHERE id = $4`,
			logJSON, priority, existing.RequiresExpertReview || rec.RequiresExpertReview, existing.ID,
		)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: update staging %s", existing.ID)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", eris.Wrap(err, "postgres: commit staging upsert")
		}
		return existing.ID, nil
	}

	id := uuid.New().String()
	dataJSON, err := json.Marshal(rec.OriginalData)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal original data")
	}
	logJSON, err := json.Marshal(rec.NormalizationLog)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal normalization log")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO staging_records
		 (id, original_text, source_name, original_data, normalization_log,
		  priority_score, requires_expert_review, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.OriginalText, rec.SourceName, dataJSON, logJSON,
		rec.PriorityScore, rec.RequiresExpertReview, string(model.StagingPending), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert staging %s", rec.OriginalText)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit staging upsert")
	}
	return id, nil
}

func (s *PostgresStore) GetStaging(ctx context.Context, id string) (*model.StagingRecord, error) {
	return scanPgStaging(s.pool.QueryRow(ctx,
		`SELECT `+pgStagingColumns+` FROM staging_records WHERE id = $1`, id))
}

func (s *PostgresStore) ListPendingStaging(ctx context.Context, filter StagingFilter) ([]model.StagingRecord, error) {
	query := `SELECT ` + pgStagingColumns + ` FROM staging_records WHERE status = 'pending'`
	var args []any

	if filter.SourceName != "" {
		args = append(args, filter.SourceName)
		query += ` AND source_name = $` + strconv.Itoa(len(args))
	}
	if filter.ExpertReviewOnly {
		query += ` AND requires_expert_review`
	}
	if filter.MinPriority > 0 {
		args = append(args, filter.MinPriority)
		query += ` AND priority_score >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY priority_score DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending staging")
	}
	defer rows.Close()

	var records []model.StagingRecord
	for rows.Next() {
		rec, err := scanPgStaging(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate staging")
}

func (s *PostgresStore) ApproveStaging(ctx context.Context, stagingID string, gene *model.Gene, reviewer, notes string) (*model.Gene, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin approve")
	}
	defer tx.Rollback(ctx)

	rec, err := scanPgStaging(tx.QueryRow(ctx,
		`SELECT `+pgStagingColumns+` FROM staging_records WHERE id = $1 FOR UPDATE`, stagingID))
	if err != nil {
		return nil, err
	}
	if rec.Status.Resolved() {
		return nil, eris.Wrapf(ErrConflict, "staging record %s already %s", stagingID, rec.Status)
	}

	now := time.Now().UTC()
	if gene.ID == "" {
		gene.ID = uuid.New().String()
		gene.CreatedAt = now
	}
	gene.UpdatedAt = now

	aliasJSON, err := json.Marshal(gene.Aliases)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal aliases")
	}
	extJSON, err := json.Marshal(gene.ExternalIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal external ids")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO genes (id, approved_symbol, aliases, external_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			approved_symbol = EXCLUDED.approved_symbol,
			aliases         = EXCLUDED.aliases,
			external_ids    = EXCLUDED.external_ids,
			updated_at      = EXCLUDED.updated_at`,
		gene.ID, gene.ApprovedSymbol, aliasJSON, extJSON, gene.CreatedAt, gene.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert gene %s", gene.ApprovedSymbol)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE staging_records SET
			status = $1, approved_gene_id = $2, reviewer = $3, review_notes = $4, resolved_at = $5
		 WHERE id = $6 AND status = 'pending'`,
		string(model.StagingApproved), gene.ID, reviewer, notes, now, stagingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: approve staging %s", stagingID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrConflict, "staging record %s", stagingID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO staging_audit (staging_id, action, actor, notes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		stagingID, "approve", reviewer, notes, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert audit %s", stagingID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit approve")
	}
	return gene, nil
}

func (s *PostgresStore) RejectStaging(ctx context.Context, stagingID string, reviewer, notes string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin reject")
	}
	defer tx.Rollback(ctx)

	rec, err := scanPgStaging(tx.QueryRow(ctx,
		`SELECT `+pgStagingColumns+` FROM staging_records WHERE id = $1 FOR UPDATE`, stagingID))
	if err != nil {
		return err
	}
	if rec.Status.Resolved() {
		return eris.Wrapf(ErrConflict, "staging record %s already %s", stagingID, rec.Status)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE staging_records SET
			status = $1, reviewer = $2, review_notes = $3, resolved_at = $4
		 WHERE id = $5 AND status = 'pending'`,
		string(model.StagingRejected), reviewer, notes, now, stagingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reject staging %s", stagingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "staging record %s", stagingID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO staging_audit (staging_id, action, actor, notes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		stagingID, "reject", reviewer, notes, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert audit %s", stagingID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit reject")
}

func (s *PostgresStore) ListAudit(ctx context.Context, stagingID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT staging_id, action, actor, notes, created_at FROM staging_audit
		 WHERE staging_id = $1 ORDER BY created_at ASC`, stagingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list audit %s", stagingID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var notes sql.NullString
		if err := rows.Scan(&e.StagingID, &e.Action, &e.Actor, &notes, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate audit")
}

func (s *PostgresStore) SaveRunState(ctx context.Context, st *model.PipelineRunState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_run_states
		 (run_id, source_name, status, progress_percentage, current_operation,
		  items_processed, items_added, items_updated, items_failed,
		  started_at, completed_at, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (run_id, source_name) DO UPDATE SET
			status              = EXCLUDED.status,
			progress_percentage = EXCLUDED.progress_percentage,
			current_operation   = EXCLUDED.current_operation,
			items_processed     = EXCLUDED.items_processed,
			items_added         = EXCLUDED.items_added,
			items_updated       = EXCLUDED.items_updated,
			items_failed        = EXCLUDED.items_failed,
			started_at          = EXCLUDED.started_at,
			completed_at        = EXCLUDED.completed_at,
			last_error          = EXCLUDED.last_error`,
		st.RunID, st.SourceName, string(st.Status), st.ProgressPercentage, st.CurrentOperation,
		st.ItemsProcessed, st.ItemsAdded, st.ItemsUpdated, st.ItemsFailed,
		st.StartedAt, st.CompletedAt, st.LastError,
	)
	return eris.Wrapf(err, "postgres: save run state %s/%s", st.RunID, st.SourceName)
}

func (s *PostgresStore) GetRunStates(ctx context.Context) ([]model.PipelineRunState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, source_name, status, progress_percentage, current_operation,
			items_processed, items_added, items_updated, items_failed,
			started_at, completed_at, last_error
		 FROM pipeline_run_states ORDER BY run_id, source_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run states")
	}
	defer rows.Close()

	var states []model.PipelineRunState
	for rows.Next() {
		var st model.PipelineRunState
		var op, lastErr sql.NullString
		var started, completed sql.NullTime
		err := rows.Scan(&st.RunID, &st.SourceName, &st.Status, &st.ProgressPercentage, &op,
			&st.ItemsProcessed, &st.ItemsAdded, &st.ItemsUpdated, &st.ItemsFailed,
			&started, &completed, &lastErr)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run state")
		}
		st.CurrentOperation = op.String
		st.LastError = lastErr.String
		if started.Valid {
			t := started.Time
			st.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			st.CompletedAt = &t
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "postgres: iterate run states")
}

func scanPgGene(row pgx.Row) (*model.Gene, error) {
	var g model.Gene
	var aliasJSON, extJSON []byte
	err := row.Scan(&g.ID, &g.ApprovedSymbol, &aliasJSON, &extJSON, &g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "gene")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan gene")
	}
	if err := json.Unmarshal(aliasJSON, &g.Aliases); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal aliases")
	}
	if err := json.Unmarshal(extJSON, &g.ExternalIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal external ids")
	}
	return &g, nil
}

func collectPgGenes(rows pgx.Rows) ([]model.Gene, error) {
	var genes []model.Gene
	for rows.Next() {
		g, err := scanPgGene(rows)
		if err != nil {
			return nil, err
		}
		genes = append(genes, *g)
	}
	return genes, eris.Wrap(rows.Err(), "postgres: iterate genes")
}

func scanPgSourceConfig(row pgx.Row) (*model.SourceConfig, error) {
	var cfg model.SourceConfig
	var freqSecs, ttlSecs int64
	var last, next sql.NullTime
	err := row.Scan(&cfg.SourceName, &cfg.IsActive, &freqSecs, &ttlSecs, &last, &next, &cfg.LastRunFailed)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "source config")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan source config")
	}
	cfg.UpdateFrequency = time.Duration(freqSecs) * time.Second
	cfg.CacheTTL = time.Duration(ttlSecs) * time.Second
	if last.Valid {
		t := last.Time
		cfg.LastUpdate = &t
	}
	if next.Valid {
		t := next.Time
		cfg.NextUpdate = &t
	}
	return &cfg, nil
}

func scanPgStaging(row pgx.Row) (*model.StagingRecord, error) {
	var rec model.StagingRecord
	var dataJSON, logJSON []byte
	var geneID, reviewer, notes sql.NullString
	var resolved sql.NullTime
	err := row.Scan(&rec.ID, &rec.OriginalText, &rec.SourceName, &dataJSON, &logJSON,
		&rec.PriorityScore, &rec.RequiresExpertReview, &rec.Status, &geneID, &reviewer, &notes,
		&rec.CreatedAt, &resolved)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "staging record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan staging record")
	}
	if err := json.Unmarshal(dataJSON, &rec.OriginalData); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal original data")
	}
	if err := json.Unmarshal(logJSON, &rec.NormalizationLog); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal normalization log")
	}
	rec.ApprovedGeneID = geneID.String
	rec.Reviewer = reviewer.String
	rec.ReviewNotes = notes.String
	if resolved.Valid {
		t := resolved.Time
		rec.ResolvedAt = &t
	}
	return &rec, nil
}
