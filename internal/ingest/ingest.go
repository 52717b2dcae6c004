// Package ingest reads uploaded gene lists (CSV, TSV, XLSX) and feeds the
// symbols through normalization, staging anything that does not resolve.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
)

// Options configures how symbols are pulled out of an uploaded file.
type Options struct {
	Column    string // header name of the symbol column; "" = first column
	Delimiter rune   // delimiter override; 0 picks by file extension
	SheetName string // XLSX sheet; "" = first sheet
	SkipRows  int    // leading rows to skip for files without a header
}

// Summary aggregates the per-symbol outcomes of one file.
type Summary struct {
	Total    int                         `json:"total"`
	Resolved int                         `json:"resolved"`
	Staged   int                         `json:"staged"`
	Failed   int                         `json:"failed"`
	Results  []model.NormalizationResult `json:"results"`
}

// Ingestor parses gene list files and normalizes their symbols.
type Ingestor struct {
	normalizer *normalize.Normalizer
	opts       Options
	log        *zap.Logger
}

func New(n *normalize.Normalizer, opts Options) *Ingestor {
	return &Ingestor{
		normalizer: n,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "ingest")),
	}
}

// File reads one gene list file, picks the symbol column, and normalizes
// every distinct symbol. sourceName is recorded as provenance on staged rows.
func (i *Ingestor) File(ctx context.Context, path, sourceName string) (*Summary, error) {
	var (
		symbols []string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		symbols, err = i.readXLSX(path)
	default:
		symbols, err = i.readDelimited(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, eris.Errorf("ingest: no symbols found in %s", path)
	}

	reqs := make([]normalize.Request, len(symbols))
	for idx, symbol := range symbols {
		reqs[idx] = normalize.Request{Text: symbol, SourceName: sourceName}
	}
	results, err := i.normalizer.NormalizeBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(results), Results: results}
	for _, res := range results {
		switch res.Outcome {
		case model.OutcomeResolved:
			summary.Resolved++
		case model.OutcomeStaged:
			summary.Staged++
		default:
			summary.Failed++
		}
	}
	i.log.Info("gene list ingested",
		zap.String("file", filepath.Base(path)),
		zap.String("source", sourceName),
		zap.Int("total", summary.Total),
		zap.Int("resolved", summary.Resolved),
		zap.Int("staged", summary.Staged),
	)
	return summary, nil
}

// readDelimited streams a CSV or TSV file row by row and collects the symbol
// column. The delimiter comes from Options or falls back to the extension.
func (i *Ingestor) readDelimited(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open file")
	}
	defer f.Close() //nolint:errcheck

	delim := i.opts.Delimiter
	if delim == 0 {
		delim = ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			delim = '\t'
		}
	}

	// Cancel on early return so the reader goroutine never blocks on send.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := streamRows(ctx, f, delim)

	var (
		symbols []string
		seen    = map[string]bool{}
		colIdx  = -1
		first   = true
		skip    = i.opts.SkipRows
	)
	for row := range rowCh {
		if first {
			first = false
			if i.opts.Column != "" {
				colIdx = columnIndex(row, i.opts.Column)
				if colIdx < 0 {
					return nil, eris.Errorf("ingest: column %q not found in header", i.opts.Column)
				}
				continue // header row carries no symbol
			}
			colIdx = 0
		}
		if skip > 0 {
			skip--
			continue
		}
		if colIdx >= len(row) {
			continue
		}
		if symbol := cleanSymbol(row[colIdx]); symbol != "" && !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return symbols, nil
}

// streamRows reads delimited rows and sends them to a channel. Both channels
// are closed when processing completes.
func streamRows(ctx context.Context, r io.Reader, delim rune) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comma = delim
		reader.Comment = '#'
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read row")
				return
			}
			for idx, field := range record {
				record[idx] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// readXLSX pulls the symbol column out of a spreadsheet sheet.
func (i *Ingestor) readXLSX(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}

	var sheet *xlsx.Sheet
	if i.opts.SheetName != "" {
		var ok bool
		sheet, ok = f.Sheet[i.opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", i.opts.SheetName)
		}
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("ingest: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	var (
		symbols []string
		seen    = map[string]bool{}
		colIdx  = 0
		skip    = i.opts.SkipRows
	)
	for rowNum, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}

		if rowNum == 0 && i.opts.Column != "" {
			colIdx = columnIndex(cells, i.opts.Column)
			if colIdx < 0 {
				return nil, eris.Errorf("ingest: column %q not found in header", i.opts.Column)
			}
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if colIdx >= len(cells) {
			continue
		}
		if symbol := cleanSymbol(cells[colIdx]); symbol != "" && !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	return symbols, nil
}

func columnIndex(header []string, name string) int {
	for idx, field := range header {
		if strings.EqualFold(strings.TrimSpace(field), name) {
			return idx
		}
	}
	return -1
}

func cleanSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return ""
	}
	return s
}
