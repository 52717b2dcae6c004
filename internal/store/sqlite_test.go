package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedGene(t *testing.T, st *SQLiteStore, symbol string) *model.Gene {
	t.Helper()
	g := &model.Gene{
		ApprovedSymbol: symbol,
		ExternalIDs:    map[string]string{"hgnc": "HGNC:" + symbol},
	}
	require.NoError(t, st.UpsertGene(context.Background(), g))
	return g
}

// --- Genes ---

func TestSQLite_UpsertGene_And_Get(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := &model.Gene{
		ApprovedSymbol: "PKD1",
		Aliases:        []string{"PBP"},
		ExternalIDs:    map[string]string{"hgnc": "HGNC:9008"},
	}
	require.NoError(t, st.UpsertGene(ctx, g))
	assert.NotEmpty(t, g.ID)

	fetched, err := st.GetGene(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "PKD1", fetched.ApprovedSymbol)
	assert.Equal(t, []string{"PBP"}, fetched.Aliases)
	assert.Equal(t, "HGNC:9008", fetched.HGNCID())
}

func TestSQLite_GetGene_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetGene(context.Background(), "nonexistent")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_GetGeneBySymbol(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "NPHS1")

	fetched, err := st.GetGeneBySymbol(ctx, "NPHS1")
	require.NoError(t, err)
	assert.Equal(t, g.ID, fetched.ID)

	_, err = st.GetGeneBySymbol(ctx, "UNKNOWN")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpsertGene_UpdatesExisting(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "COL4A5")
	g.Aliases = []string{"ATS"}
	require.NoError(t, st.UpsertGene(ctx, g))

	genes, err := st.ListGenes(ctx)
	require.NoError(t, err)
	require.Len(t, genes, 1)
	assert.Equal(t, []string{"ATS"}, genes[0].Aliases)
}

func TestSQLite_FindGenesByAlias(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g1 := &model.Gene{ApprovedSymbol: "PKD1", Aliases: []string{"PBP", "Pc-1"}}
	g2 := &model.Gene{ApprovedSymbol: "PKD2", Aliases: []string{"Pc-2"}}
	require.NoError(t, st.UpsertGene(ctx, g1))
	require.NoError(t, st.UpsertGene(ctx, g2))

	found, err := st.FindGenesByAlias(ctx, "Pc-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "PKD1", found[0].ApprovedSymbol)

	found, err = st.FindGenesByAlias(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, found)
}

// --- Evidence ---

func TestSQLite_UpsertEvidence_AddsAndUpdates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "PKD1")

	records := []model.EvidenceRecord{
		{GeneID: g.ID, SourceName: "gnomad", Data: map[string]any{"pLI": 1.0}},
		{GeneID: g.ID, SourceName: "clinvar", SourceDetail: "VCV000001", Data: map[string]any{"sig": "pathogenic"}},
	}

	res, err := st.UpsertEvidence(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 0, res.Updated)

	// Re-upserting the same records must not create new rows.
	res, err = st.UpsertEvidence(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Updated)

	n, err := st.CountEvidence(ctx, "gnomad")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_UpsertEvidence_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	res, err := st.UpsertEvidence(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{}, res)
}

func TestSQLite_ListEvidenceKeys(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "PKD1")
	_, err := st.UpsertEvidence(ctx, []model.EvidenceRecord{
		{GeneID: g.ID, SourceName: "pubtator", SourceDetail: "PMID:111"},
		{GeneID: g.ID, SourceName: "pubtator", SourceDetail: "PMID:222"},
		{GeneID: g.ID, SourceName: "gnomad"},
	})
	require.NoError(t, err)

	keys, err := st.ListEvidenceKeys(ctx, "pubtator")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.True(t, keys["PMID:111"])
	assert.True(t, keys["PMID:222"])
}

func TestSQLite_DeactivateSourceEvidence(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "PKD1")
	_, err := st.UpsertEvidence(ctx, []model.EvidenceRecord{
		{GeneID: g.ID, SourceName: "hpo", SourceDetail: "HP:0000107"},
		{GeneID: g.ID, SourceName: "gnomad"},
	})
	require.NoError(t, err)

	n, err := st.DeactivateSourceEvidence(ctx, "hpo")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := st.CountEvidence(ctx, "hpo")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Other sources are untouched.
	count, err = st.CountEvidence(ctx, "gnomad")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A re-upsert reactivates the record instead of duplicating it.
	res, err := st.UpsertEvidence(ctx, []model.EvidenceRecord{
		{GeneID: g.ID, SourceName: "hpo", SourceDetail: "HP:0000107"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	count, err = st.CountEvidence(ctx, "hpo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// --- Source configs ---

func TestSQLite_SourceConfig_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := &model.SourceConfig{
		SourceName:      "gnomad",
		IsActive:        true,
		UpdateFrequency: 24 * time.Hour,
		CacheTTL:        12 * time.Hour,
	}
	require.NoError(t, st.SaveSourceConfig(ctx, cfg))

	fetched, err := st.GetSourceConfig(ctx, "gnomad")
	require.NoError(t, err)
	assert.True(t, fetched.IsActive)
	assert.Equal(t, 24*time.Hour, fetched.UpdateFrequency)
	assert.Nil(t, fetched.LastUpdate)
}

func TestSQLite_TouchSourceUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveSourceConfig(ctx, &model.SourceConfig{
		SourceName: "hpo", IsActive: true, UpdateFrequency: time.Hour,
	}))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.TouchSourceUpdate(ctx, "hpo", now, now.Add(time.Hour), false))

	cfg, err := st.GetSourceConfig(ctx, "hpo")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastUpdate)
	assert.False(t, cfg.LastRunFailed)

	// Mark a failure; last_update stays put.
	require.NoError(t, st.TouchSourceUpdate(ctx, "hpo", now, now, true))
	cfg, err = st.GetSourceConfig(ctx, "hpo")
	require.NoError(t, err)
	assert.True(t, cfg.LastRunFailed)
	assert.NotNil(t, cfg.LastUpdate)
}

func TestSQLite_TouchSourceUpdate_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.TouchSourceUpdate(context.Background(), "nope", time.Now(), time.Now(), false)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- Staging ---

func TestSQLite_UpsertStaging_CreatesPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.UpsertStaging(ctx, &model.StagingRecord{
		OriginalText:     "PDK1?",
		SourceName:       "manual_upload",
		NormalizationLog: []string{"no exact match", "no alias match"},
		PriorityScore:    10,
	})
	require.NoError(t, err)

	rec, err := st.GetStaging(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StagingPending, rec.Status)
	assert.Len(t, rec.NormalizationLog, 2)
	assert.Equal(t, 10, rec.PriorityScore)
}

func TestSQLite_UpsertStaging_DeduplicatesAndAppendsLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := st.UpsertStaging(ctx, &model.StagingRecord{
		OriginalText:     "MYGENE",
		SourceName:       "manual_upload",
		NormalizationLog: []string{"attempt 1"},
		PriorityScore:    5,
	})
	require.NoError(t, err)

	id2, err := st.UpsertStaging(ctx, &model.StagingRecord{
		OriginalText:         "MYGENE",
		SourceName:           "manual_upload",
		NormalizationLog:     []string{"attempt 2"},
		PriorityScore:        12,
		RequiresExpertReview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same text+source must reuse the record")

	rec, err := st.GetStaging(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []string{"attempt 1", "attempt 2"}, rec.NormalizationLog)
	assert.Equal(t, 12, rec.PriorityScore, "priority keeps the max")
	assert.True(t, rec.RequiresExpertReview)
}

func TestSQLite_UpsertStaging_SameTextDifferentSource(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "X1", SourceName: "a"})
	require.NoError(t, err)
	id2, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "X1", SourceName: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestSQLite_UpsertStaging_ResolvedIsImmutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.UpsertStaging(ctx, &model.StagingRecord{
		OriginalText: "OLDNAME", SourceName: "a", NormalizationLog: []string{"first"},
	})
	require.NoError(t, err)
	require.NoError(t, st.RejectStaging(ctx, id, "curator", "not a gene"))

	// A repeat failure after the rejection must not reopen the record.
	again, err := st.UpsertStaging(ctx, &model.StagingRecord{
		OriginalText: "OLDNAME", SourceName: "a", NormalizationLog: []string{"second"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	rec, err := st.GetStaging(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StagingRejected, rec.Status)
	assert.Equal(t, []string{"first"}, rec.NormalizationLog)
}

func TestSQLite_ListPendingStaging_Ordering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "low", SourceName: "a", PriorityScore: 1})
	require.NoError(t, err)
	_, err = st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "high", SourceName: "a", PriorityScore: 20})
	require.NoError(t, err)
	_, err = st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "mid", SourceName: "b", PriorityScore: 10})
	require.NoError(t, err)

	recs, err := st.ListPendingStaging(ctx, StagingFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "high", recs[0].OriginalText)
	assert.Equal(t, "mid", recs[1].OriginalText)
	assert.Equal(t, "low", recs[2].OriginalText)
}

func TestSQLite_ListPendingStaging_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "a1", SourceName: "a", PriorityScore: 5})
	require.NoError(t, err)
	_, err = st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "b1", SourceName: "b", PriorityScore: 15, RequiresExpertReview: true})
	require.NoError(t, err)

	recs, err := st.ListPendingStaging(ctx, StagingFilter{SourceName: "b"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b1", recs[0].OriginalText)

	recs, err = st.ListPendingStaging(ctx, StagingFilter{ExpertReviewOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	recs, err = st.ListPendingStaging(ctx, StagingFilter{MinPriority: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestSQLite_ApproveStaging_CreatesGene(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "pkd1", SourceName: "manual_upload"})
	require.NoError(t, err)

	gene, err := st.ApproveStaging(ctx, id, &model.Gene{ApprovedSymbol: "PKD1"}, "curator", "obvious casing issue")
	require.NoError(t, err)
	assert.NotEmpty(t, gene.ID)

	rec, err := st.GetStaging(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StagingApproved, rec.Status)
	assert.Equal(t, gene.ID, rec.ApprovedGeneID)
	assert.Equal(t, "curator", rec.Reviewer)
	require.NotNil(t, rec.ResolvedAt)

	// Gene is queryable outside the transaction.
	fetched, err := st.GetGeneBySymbol(ctx, "PKD1")
	require.NoError(t, err)
	assert.Equal(t, gene.ID, fetched.ID)

	entries, err := st.ListAudit(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "approve", entries[0].Action)
	assert.Equal(t, "curator", entries[0].Actor)
}

func TestSQLite_ApproveStaging_LinksExistingGene(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g := seedGene(t, st, "NPHS2")
	id, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "nphs-2", SourceName: "a"})
	require.NoError(t, err)

	approved, err := st.ApproveStaging(ctx, id, g, "curator", "alias of NPHS2")
	require.NoError(t, err)
	assert.Equal(t, g.ID, approved.ID)

	genes, err := st.ListGenes(ctx)
	require.NoError(t, err)
	assert.Len(t, genes, 1)
}

func TestSQLite_ApproveStaging_AlreadyResolved(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "X", SourceName: "a"})
	require.NoError(t, err)
	_, err = st.ApproveStaging(ctx, id, &model.Gene{ApprovedSymbol: "X1"}, "curator", "ok")
	require.NoError(t, err)

	_, err = st.ApproveStaging(ctx, id, &model.Gene{ApprovedSymbol: "X2"}, "curator", "again")
	assert.True(t, eris.Is(err, ErrConflict))

	err = st.RejectStaging(ctx, id, "curator", "changed my mind")
	assert.True(t, eris.Is(err, ErrConflict))
}

func TestSQLite_RejectStaging(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.UpsertStaging(ctx, &model.StagingRecord{OriginalText: "JUNK", SourceName: "a"})
	require.NoError(t, err)

	require.NoError(t, st.RejectStaging(ctx, id, "curator", "not a gene symbol"))

	rec, err := st.GetStaging(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StagingRejected, rec.Status)
	assert.Equal(t, "not a gene symbol", rec.ReviewNotes)

	// Rejected records no longer show up as pending.
	recs, err := st.ListPendingStaging(ctx, StagingFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	entries, err := st.ListAudit(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reject", entries[0].Action)
}

// --- Run states ---

func TestSQLite_RunState_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	state := &model.PipelineRunState{
		RunID:              "run-1",
		SourceName:         "gnomad",
		Status:             model.RunRunning,
		ProgressPercentage: 42.5,
		CurrentOperation:   "fetching constraint scores",
		ItemsProcessed:     420,
		ItemsAdded:         10,
		StartedAt:          &started,
	}
	require.NoError(t, st.SaveRunState(ctx, state))

	// Progress updates overwrite in place.
	state.ProgressPercentage = 100
	state.Status = model.RunCompleted
	require.NoError(t, st.SaveRunState(ctx, state))

	states, err := st.GetRunStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, model.RunCompleted, states[0].Status)
	assert.Equal(t, 100.0, states[0].ProgressPercentage)
	require.NotNil(t, states[0].StartedAt)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.Migrate(context.Background())
	require.NoError(t, err)
}
