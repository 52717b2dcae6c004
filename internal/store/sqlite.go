package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS genes (
	id              TEXT PRIMARY KEY,
	approved_symbol TEXT NOT NULL UNIQUE,
	aliases         TEXT NOT NULL DEFAULT '[]',
	external_ids    TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_records (
	gene_id       TEXT NOT NULL REFERENCES genes(id),
	source_name   TEXT NOT NULL,
	source_detail TEXT NOT NULL DEFAULT '',
	evidence_data TEXT NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL DEFAULT 1,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (gene_id, source_name, source_detail)
);

CREATE TABLE IF NOT EXISTS source_configs (
	source_name      TEXT PRIMARY KEY,
	is_active        INTEGER NOT NULL DEFAULT 1,
	update_freq_secs INTEGER NOT NULL DEFAULT 0,
	cache_ttl_secs   INTEGER NOT NULL DEFAULT 0,
	last_update      DATETIME,
	next_update      DATETIME,
	last_run_failed  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS staging_records (
	id                     TEXT PRIMARY KEY,
	original_text          TEXT NOT NULL,
	source_name            TEXT NOT NULL,
	original_data          TEXT NOT NULL DEFAULT '{}',
	normalization_log      TEXT NOT NULL DEFAULT '[]',
	priority_score         INTEGER NOT NULL DEFAULT 0,
	requires_expert_review INTEGER NOT NULL DEFAULT 0,
	status                 TEXT NOT NULL DEFAULT 'pending',
	approved_gene_id       TEXT,
	reviewer               TEXT,
	review_notes           TEXT,
	created_at             DATETIME NOT NULL,
	resolved_at            DATETIME,
	UNIQUE (original_text, source_name)
);

CREATE TABLE IF NOT EXISTS staging_audit (
	staging_id TEXT NOT NULL REFERENCES staging_records(id),
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL,
	notes      TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_run_states (
	run_id              TEXT NOT NULL,
	source_name         TEXT NOT NULL,
	status              TEXT NOT NULL,
	progress_percentage REAL NOT NULL DEFAULT 0,
	current_operation   TEXT,
	items_processed     INTEGER NOT NULL DEFAULT 0,
	items_added         INTEGER NOT NULL DEFAULT 0,
	items_updated       INTEGER NOT NULL DEFAULT 0,
	items_failed        INTEGER NOT NULL DEFAULT 0,
	started_at          DATETIME,
	completed_at        DATETIME,
	last_error          TEXT,
	PRIMARY KEY (run_id, source_name)
);

CREATE INDEX IF NOT EXISTS idx_evidence_source ON evidence_records(source_name);
CREATE INDEX IF NOT EXISTS idx_staging_status ON staging_records(status);
CREATE INDEX IF NOT EXISTS idx_staging_priority ON staging_records(priority_score);
CREATE INDEX IF NOT EXISTS idx_audit_staging ON staging_audit(staging_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertGene(ctx context.Context, g *model.Gene) error {
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
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	extJSON, err := json.Marshal(g.ExternalIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal external ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO genes (id, approved_symbol, aliases, external_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			approved_symbol = excluded.approved_symbol,
			aliases         = excluded.aliases,
			external_ids    = excluded.external_ids,
			updated_at      = excluded.updated_at`,
		g.ID, g.ApprovedSymbol, string(aliasJSON), string(extJSON), g.CreatedAt, g.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert gene %s", g.ApprovedSymbol)
}

const geneColumns = `id, approved_symbol, aliases, external_ids, created_at, updated_at`

func (s *SQLiteStore) GetGene(ctx context.Context, id string) (*model.Gene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+geneColumns+` FROM genes WHERE id = ?`, id)
	return scanGene(row)
}

func (s *SQLiteStore) GetGeneBySymbol(ctx context.Context, symbol string) (*model.Gene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+geneColumns+` FROM genes WHERE approved_symbol = ?`, symbol)
	return scanGene(row)
}

func (s *SQLiteStore) FindGenesByAlias(ctx context.Context, alias string) ([]model.Gene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT genes.id, genes.approved_symbol, genes.aliases, genes.external_ids, genes.created_at, genes.updated_at
		 FROM genes, json_each(genes.aliases)
		 WHERE json_each.value = ? ORDER BY approved_symbol`, alias)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find genes by alias %s", alias)
	}
	defer rows.Close()
	return collectGenes(rows)
}

func (s *SQLiteStore) ListGenes(ctx context.Context) ([]model.Gene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+geneColumns+` FROM genes ORDER BY approved_symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list genes")
	}
	defer rows.Close()
	return collectGenes(rows)
}

func (s *SQLiteStore) UpsertEvidence(ctx context.Context, records []model.EvidenceRecord) (UpsertResult, error) {
	var result UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, eris.Wrap(err, "sqlite: begin evidence upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, rec := range records {
		dataJSON, err := json.Marshal(rec.Data)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: marshal evidence %s/%s", rec.GeneID, rec.SourceName)
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM evidence_records WHERE gene_id = ? AND source_name = ? AND source_detail = ?`,
			rec.GeneID, rec.SourceName, rec.SourceDetail,
		).Scan(&exists)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO evidence_records
				 (gene_id, source_name, source_detail, evidence_data, version, active, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 1, 1, ?, ?)`,
				rec.GeneID, rec.SourceName, rec.SourceDetail, string(dataJSON), now, now,
			)
			if err != nil {
				return UpsertResult{}, eris.Wrapf(err, "sqlite: insert evidence %s/%s", rec.GeneID, rec.SourceName)
			}
			result.Added++
		case err != nil:
			return UpsertResult{}, eris.Wrapf(err, "sqlite: check evidence %s/%s", rec.GeneID, rec.SourceName)
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE evidence_records SET
					evidence_data = ?, version = version + 1, active = 1, updated_at = ?
				 WHERE gene_id = ? AND source_name = ? AND source_detail = ?`,
				string(dataJSON), now, rec.GeneID, rec.SourceName, rec.SourceDetail,
			)
			if err != nil {
				return UpsertResult{}, eris.Wrapf(err, "sqlite: update evidence %s/%s", rec.GeneID, rec.SourceName)
			}
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit evidence upsert")
	}
	return result, nil
}

func (s *SQLiteStore) CountEvidence(ctx context.Context, sourceName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_records WHERE source_name = ? AND active = 1`,
		sourceName,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count evidence %s", sourceName)
}

func (s *SQLiteStore) ListEvidenceKeys(ctx context.Context, sourceName string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_detail FROM evidence_records WHERE source_name = ? AND active = 1`,
		sourceName,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list evidence keys %s", sourceName)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence key")
		}
		keys[detail] = true
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: iterate evidence keys")
}

func (s *SQLiteStore) DeactivateSourceEvidence(ctx context.Context, sourceName string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_records SET active = 0, updated_at = ? WHERE source_name = ? AND active = 1`,
		time.Now().UTC(), sourceName,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: deactivate evidence %s", sourceName)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

const sourceConfigColumns = `source_name, is_active, update_freq_secs, cache_ttl_secs, last_update, next_update, last_run_failed`

func (s *SQLiteStore) ListSourceConfigs(ctx context.Context) ([]model.SourceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceConfigColumns+` FROM source_configs ORDER BY source_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source configs")
	}
	defer rows.Close()

	var configs []model.SourceConfig
	for rows.Next() {
		cfg, err := scanSourceConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, eris.Wrap(rows.Err(), "sqlite: iterate source configs")
}

func (s *SQLiteStore) GetSourceConfig(ctx context.Context, name string) (*model.SourceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceConfigColumns+` FROM source_configs WHERE source_name = ?`, name)
	return scanSourceConfig(row)
}

func (s *SQLiteStore) SaveSourceConfig(ctx context.Context, cfg *model.SourceConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_configs
		 (source_name, is_active, update_freq_secs, cache_ttl_secs, last_update, next_update, last_run_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_name) DO UPDATE SET
			is_active        = excluded.is_active,
			update_freq_secs = excluded.update_freq_secs,
			cache_ttl_secs   = excluded.cache_ttl_secs,
			last_update      = excluded.last_update,
			next_update      = excluded.next_update,
			last_run_failed  = excluded.last_run_failed`,
		cfg.SourceName, boolToInt(cfg.IsActive),
		int64(cfg.UpdateFrequency.Seconds()), int64(cfg.CacheTTL.Seconds()),
		nullTime(cfg.LastUpdate), nullTime(cfg.NextUpdate), boolToInt(cfg.LastRunFailed),
	)
	return eris.Wrapf(err, "sqlite: save source config %s", cfg.SourceName)
}

func (s *SQLiteStore) TouchSourceUpdate(ctx context.Context, name string, at time.Time, next time.Time, failed bool) error {
	var res sql.Result
	var err error
	if failed {
		res, err = s.db.ExecContext(ctx,
			`UPDATE source_configs SET last_run_failed = 1 WHERE source_name = ?`, name)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE source_configs SET last_update = ?, next_update = ?, last_run_failed = 0 WHERE source_name = ?`,
			at.UTC(), next.UTC(), name)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch source %s", name)
	}
	return checkRowsAffected(res, "source config", name)
}

const stagingColumns = `id, original_text, source_name, original_data, normalization_log,
	priority_score, requires_expert_review, status, approved_gene_id, reviewer, review_notes,
	created_at, resolved_at`

func (s *SQLiteStore) UpsertStaging(ctx context.Context, rec *model.StagingRecord) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin staging upsert")
	}
	defer tx.Rollback()

	existing, err := scanStaging(tx.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_records WHERE original_text = ? AND source_name = ?`,
		rec.OriginalText, rec.SourceName,
	))
	if err != nil && !eris.Is(err, ErrNotFound) {
		return "", err
	}

	now := time.Now().UTC()
	if existing != nil {
		// Resolved records are immutable; a repeat failure for the same text
		// is already answered by the earlier review.
		if existing.Status.Resolved() {
			if err := tx.Commit(); err != nil {
				return "", eris.Wrap(err, "sqlite: commit staging upsert")
			}
			return existing.ID, nil
		}

		log := append(existing.NormalizationLog, rec.NormalizationLog...)
		logJSON, err := json.Marshal(log)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: marshal normalization log")
		}
		priority := existing.PriorityScore
		if rec.PriorityScore > priority {
			priority = rec.PriorityScore
		}
		expert := existing.RequiresExpertReview || rec.RequiresExpertReview

		_, err = tx.ExecContext(ctx,
			`UPDATE staging_records SET
				normalization_log = ?, priority_score = ?, requires_expert_review = ?
			 WHERE id = ?`,
			string(logJSON), priority, boolToInt(expert), existing.ID,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: update staging %s", existing.ID)
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "sqlite: commit staging upsert")
		}
		return existing.ID, nil
	}

	id := uuid.New().String()
	dataJSON, err := json.Marshal(rec.OriginalData)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal original data")
	}
	logJSON, err := json.Marshal(rec.NormalizationLog)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal normalization log")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO staging_records
		 (id, original_text, source_name, original_data, normalization_log,
		  priority_score, requires_expert_review, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.OriginalText, rec.SourceName, string(dataJSON), string(logJSON),
		rec.PriorityScore, boolToInt(rec.RequiresExpertReview), string(model.StagingPending), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert staging %s", rec.OriginalText)
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit staging upsert")
	}
	return id, nil
}

func (s *SQLiteStore) GetStaging(ctx context.Context, id string) (*model.StagingRecord, error) {
	return scanStaging(s.db.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_records WHERE id = ?`, id))
}

func (s *SQLiteStore) ListPendingStaging(ctx context.Context, filter StagingFilter) ([]model.StagingRecord, error) {
	query := `SELECT ` + stagingColumns + ` FROM staging_records WHERE status = 'pending'`
	var args []any

	if filter.SourceName != "" {
		query += ` AND source_name = ?`
		args = append(args, filter.SourceName)
	}
	if filter.ExpertReviewOnly {
		query += ` AND requires_expert_review = 1`
	}
	if filter.MinPriority > 0 {
		query += ` AND priority_score >= ?`
		args = append(args, filter.MinPriority)
	}
	query += ` ORDER BY priority_score DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending staging")
	}
	defer rows.Close()

	var records []model.StagingRecord
	for rows.Next() {
		rec, err := scanStaging(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate staging")
}

func (s *SQLiteStore) ApproveStaging(ctx context.Context, stagingID string, gene *model.Gene, reviewer, notes string) (*model.Gene, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin approve")
	}
	defer tx.Rollback()

	rec, err := scanStaging(tx.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_records WHERE id = ?`, stagingID))
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
		return nil, eris.Wrap(err, "sqlite: marshal aliases")
	}
	extJSON, err := json.Marshal(gene.ExternalIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal external ids")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO genes (id, approved_symbol, aliases, external_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			approved_symbol = excluded.approved_symbol,
			aliases         = excluded.aliases,
			external_ids    = excluded.external_ids,
			updated_at      = excluded.updated_at`,
		gene.ID, gene.ApprovedSymbol, string(aliasJSON), string(extJSON), gene.CreatedAt, gene.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert gene %s", gene.ApprovedSymbol)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE staging_records SET
			status = ?, approved_gene_id = ?, reviewer = ?, review_notes = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(model.StagingApproved), gene.ID, reviewer, notes, now, stagingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: approve staging %s", stagingID)
	}
	if err := checkRowsAffected(res, "staging record", stagingID); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, tx, stagingID, "approve", reviewer, notes, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit approve")
	}
	return gene, nil
}

func (s *SQLiteStore) RejectStaging(ctx context.Context, stagingID string, reviewer, notes string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reject")
	}
	defer tx.Rollback()

	rec, err := scanStaging(tx.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_records WHERE id = ?`, stagingID))
	if err != nil {
		return err
	}
	if rec.Status.Resolved() {
		return eris.Wrapf(ErrConflict, "staging record %s already %s", stagingID, rec.Status)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE staging_records SET
			status = ?, reviewer = ?, review_notes = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(model.StagingRejected), reviewer, notes, now, stagingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reject staging %s", stagingID)
	}
	if err := checkRowsAffected(res, "staging record", stagingID); err != nil {
		return err
	}

	if err := insertAudit(ctx, tx, stagingID, "reject", reviewer, notes, now); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reject")
}

func (s *SQLiteStore) ListAudit(ctx context.Context, stagingID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT staging_id, action, actor, notes, created_at FROM staging_audit
		 WHERE staging_id = ? ORDER BY created_at ASC`, stagingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list audit %s", stagingID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var notes sql.NullString
		if err := rows.Scan(&e.StagingID, &e.Action, &e.Actor, &notes, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate audit")
}

func (s *SQLiteStore) SaveRunState(ctx context.Context, st *model.PipelineRunState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_run_states
		 (run_id, source_name, status, progress_percentage, current_operation,
		  items_processed, items_added, items_updated, items_failed,
		  started_at, completed_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, source_name) DO UPDATE SET
			status              = excluded.status,
			progress_percentage = excluded.progress_percentage,
			current_operation   = excluded.current_operation,
			items_processed     = excluded.items_processed,
			items_added         = excluded.items_added,
			items_updated       = excluded.items_updated,
			items_failed        = excluded.items_failed,
			started_at          = excluded.started_at,
			completed_at        = excluded.completed_at,
			last_error          = excluded.last_error`,
		st.RunID, st.SourceName, string(st.Status), st.ProgressPercentage, st.CurrentOperation,
		st.ItemsProcessed, st.ItemsAdded, st.ItemsUpdated, st.ItemsFailed,
		nullTime(st.StartedAt), nullTime(st.CompletedAt), st.LastError,
	)
	return eris.Wrapf(err, "sqlite: save run state %s/%s", st.RunID, st.SourceName)
}

func (s *SQLiteStore) GetRunStates(ctx context.Context) ([]model.PipelineRunState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source_name, status, progress_percentage, current_operation,
			items_processed, items_added, items_updated, items_failed,
			started_at, completed_at, last_error
		 FROM pipeline_run_states ORDER BY run_id, source_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run states")
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
			return nil, eris.Wrap(err, "sqlite: scan run state")
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
	return states, eris.Wrap(rows.Err(), "sqlite: iterate run states")
}

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanGene(row scannable) (*model.Gene, error) {
	var g model.Gene
	var aliasJSON, extJSON string
	err := row.Scan(&g.ID, &g.ApprovedSymbol, &aliasJSON, &extJSON, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "gene")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan gene")
	}
	if err := json.Unmarshal([]byte(aliasJSON), &g.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	if err := json.Unmarshal([]byte(extJSON), &g.ExternalIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal external ids")
	}
	return &g, nil
}

func collectGenes(rows *sql.Rows) ([]model.Gene, error) {
	var genes []model.Gene
	for rows.Next() {
		g, err := scanGene(rows)
		if err != nil {
			return nil, err
		}
		genes = append(genes, *g)
	}
	return genes, eris.Wrap(rows.Err(), "sqlite: iterate genes")
}

func scanSourceConfig(row scannable) (*model.SourceConfig, error) {
	var cfg model.SourceConfig
	var active, failed int
	var freqSecs, ttlSecs int64
	var last, next sql.NullTime
	err := row.Scan(&cfg.SourceName, &active, &freqSecs, &ttlSecs, &last, &next, &failed)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "source config")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source config")
	}
	cfg.IsActive = active != 0
	cfg.LastRunFailed = failed != 0
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

func scanStaging(row scannable) (*model.StagingRecord, error) {
	var rec model.StagingRecord
	var dataJSON, logJSON string
	var expert int
	var geneID, reviewer, notes sql.NullString
	var resolved sql.NullTime
	err := row.Scan(&rec.ID, &rec.OriginalText, &rec.SourceName, &dataJSON, &logJSON,
		&rec.PriorityScore, &expert, &rec.Status, &geneID, &reviewer, &notes,
		&rec.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "staging record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan staging record")
	}
	if err := json.Unmarshal([]byte(dataJSON), &rec.OriginalData); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal original data")
	}
	if err := json.Unmarshal([]byte(logJSON), &rec.NormalizationLog); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal normalization log")
	}
	rec.RequiresExpertReview = expert != 0
	rec.ApprovedGeneID = geneID.String
	rec.Reviewer = reviewer.String
	rec.ReviewNotes = notes.String
	if resolved.Valid {
		t := resolved.Time
		rec.ResolvedAt = &t
	}
	return &rec, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, stagingID, action, actor, notes string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO staging_audit (staging_id, action, actor, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		stagingID, action, actor, notes, at,
	)
	return eris.Wrapf(err, "sqlite: insert audit %s", stagingID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
