package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

func newTestIngestor(t *testing.T, opts Options) (*Ingestor, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	for _, symbol := range []string{"PKD1", "PKD2", "NPHS1"} {
		require.NoError(t, st.UpsertGene(context.Background(), &model.Gene{ApprovedSymbol: symbol}))
	}

	n := normalize.New(st, nil, normalize.Options{ChunksPerSec: 1000})
	return New(n, opts), st
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFile_CSVWithHeaderColumn(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{Column: "gene_symbol"})
	path := writeFile(t, "genes.csv", "rank,gene_symbol,score\n1,PKD1,0.9\n2,PKD2,0.8\n3,WOBBLE7,0.1\n")

	summary, err := ing.File(context.Background(), path, "manual_upload")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Resolved)
	assert.Equal(t, 1, summary.Staged)
}

func TestFile_TSVFirstColumn(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{})
	path := writeFile(t, "genes.tsv", "PKD1\textra\nNPHS1\textra\n")

	summary, err := ing.File(context.Background(), path, "panel_import")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Resolved)
}

func TestFile_DeduplicatesAndSkipsComments(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{})
	path := writeFile(t, "genes.csv", "# curated list\nPKD1\nPKD1\n\nPKD2\n")

	summary, err := ing.File(context.Background(), path, "manual_upload")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
}

func TestFile_MissingColumn(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{Column: "symbol"})
	path := writeFile(t, "genes.csv", "rank,gene\n1,PKD1\n")

	_, err := ing.File(context.Background(), path, "manual_upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "symbol" not found`)
}

func TestFile_EmptyFile(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{})
	path := writeFile(t, "genes.csv", "")

	_, err := ing.File(context.Background(), path, "manual_upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no symbols found")
}

func TestFile_XLSX(t *testing.T) {
	ing, _ := newTestIngestor(t, Options{Column: "symbol"})

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Genes")
	require.NoError(t, err)
	for _, row := range [][]string{{"symbol", "note"}, {"PKD1", "x"}, {"UNSEEN9", "y"}} {
		r := sheet.AddRow()
		for _, val := range row {
			r.AddCell().Value = val
		}
	}
	path := filepath.Join(t.TempDir(), "genes.xlsx")
	require.NoError(t, f.Save(path))

	summary, err := ing.File(context.Background(), path, "manual_upload")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Staged)
}

func TestFile_StagedRowsCarryProvenance(t *testing.T) {
	ing, st := newTestIngestor(t, Options{})
	path := writeFile(t, "genes.csv", "NOTAGENE55\n")

	summary, err := ing.File(context.Background(), path, "clinic_upload")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Staged)

	records, err := st.ListPendingStaging(context.Background(), store.StagingFilter{SourceName: "clinic_upload"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "NOTAGENE55", records[0].OriginalText)
}
