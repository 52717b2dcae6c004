package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// kidney-focused literature query; relevance ordering is stable between
// runs, which the incremental duplicate-stop relies on.
const pubtatorQuery = `"kidney disease" OR "renal disease" OR nephropathy`

// PubTator streams gene mentions from the PubTator3 literature corpus. It is
// the one paginated source: instead of answering per-gene queries it walks
// search result pages in relevance order, emitting one item per gene mention
// per article.
type PubTator struct {
	http *HTTPClient
}

// NewPubTator creates the PubTator client over the shared transport.
func NewPubTator(http *HTTPClient) *PubTator {
	return &PubTator{http: http}
}

func (c *PubTator) Name() string { return "pubtator" }

type pubtatorSearchResponse struct {
	Results    []pubtatorResult `json:"results"`
	Page       int              `json:"current"`
	TotalPages int              `json:"total_pages"`
}

type pubtatorResult struct {
	PMID       int64    `json:"pmid"`
	Title      string   `json:"title"`
	Journal    string   `json:"journal"`
	Date       string   `json:"date"`
	Accessions []string `json:"accessions"`
}

// FetchPage fetches one search result page. The cursor is the 1-based page
// number; an empty cursor means page 1.
func (c *PubTator) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, ErrNoData
		}
		page = n
	}

	query := url.Values{
		"text": {pubtatorQuery},
		"page": {strconv.Itoa(page)},
	}
	var resp pubtatorSearchResponse
	if err := c.http.GetJSON(ctx, "/search/", query, &resp); err != nil {
		return nil, err
	}

	var items []PageItem
	for _, result := range resp.Results {
		pmid := strconv.FormatInt(result.PMID, 10)
		for _, symbol := range geneAccessions(result.Accessions) {
			items = append(items, PageItem{
				GeneSymbol: symbol,
				Detail:     pmid,
				Data: map[string]any{
					"pmid":    pmid,
					"title":   result.Title,
					"journal": result.Journal,
					"date":    result.Date,
				},
			})
		}
	}

	out := &Page{Items: items, HasMore: page < resp.TotalPages}
	if out.HasMore {
		out.NextCursor = strconv.Itoa(page + 1)
	}
	return out, nil
}

// FetchGene answers a targeted literature query for one gene, used by
// SELECTIVE runs where walking the whole corpus would be wasteful.
func (c *PubTator) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	query := url.Values{
		"text": {`@GENE_` + gene.ApprovedSymbol + ` AND (` + pubtatorQuery + `)`},
		"page": {"1"},
	}
	var resp pubtatorSearchResponse
	if err := c.http.GetJSON(ctx, "/search/", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, ErrNoData
	}

	evidence := make([]Evidence, 0, len(resp.Results))
	for _, result := range resp.Results {
		pmid := strconv.FormatInt(result.PMID, 10)
		evidence = append(evidence, Evidence{
			Detail: pmid,
			Data: map[string]any{
				"pmid":    pmid,
				"title":   result.Title,
				"journal": result.Journal,
				"date":    result.Date,
			},
		})
	}
	return evidence, nil
}

// geneAccessions extracts gene symbols from PubTator entity accessions,
// which arrive as typed tokens like "@GENE_PKD1" or "@DISEASE_nephropathy".
func geneAccessions(accessions []string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, acc := range accessions {
		symbol, ok := strings.CutPrefix(acc, "@GENE_")
		if !ok || symbol == "" {
			continue
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	return symbols
}
