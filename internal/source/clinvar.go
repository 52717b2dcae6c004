package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// ClinVar fetches variant classification records through the NCBI E-utilities
// (esearch to find variation IDs, esummary to pull their details).
type ClinVar struct {
	http    *HTTPClient
	apiKey  string
	maxHits int
}

// NewClinVar creates the ClinVar client. apiKey may be empty; NCBI grants a
// higher rate tier when one is supplied.
func NewClinVar(http *HTTPClient, apiKey string) *ClinVar {
	return &ClinVar{http: http, apiKey: apiKey, maxHits: 500}
}

func (c *ClinVar) Name() string { return "clinvar" }

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type clinvarSummary struct {
	Accession     string `json:"accession"`
	Title         string `json:"title"`
	ObjType       string `json:"obj_type"`
	GermlineClass struct {
		Description   string `json:"description"`
		LastEvaluated string `json:"last_evaluated"`
		ReviewStatus  string `json:"review_status"`
	} `json:"germline_classification"`
}

func (c *ClinVar) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	ids, err := c.search(ctx, gene.ApprovedSymbol)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoData
	}

	query := url.Values{
		"db":      {"clinvar"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	var resp esummaryResponse
	if err := c.http.GetJSON(ctx, "/esummary.fcgi", query, &resp); err != nil {
		return nil, err
	}

	evidence := make([]Evidence, 0, len(ids))
	for _, id := range ids {
		raw, ok := resp.Result[id]
		if !ok {
			continue
		}
		var sum clinvarSummary
		if err := json.Unmarshal(raw, &sum); err != nil {
			continue
		}
		if sum.Accession == "" {
			continue
		}
		evidence = append(evidence, Evidence{
			Detail: sum.Accession,
			Data: map[string]any{
				"accession":      sum.Accession,
				"title":          sum.Title,
				"variant_type":   sum.ObjType,
				"classification": sum.GermlineClass.Description,
				"review_status":  sum.GermlineClass.ReviewStatus,
				"last_evaluated": sum.GermlineClass.LastEvaluated,
			},
		})
	}
	if len(evidence) == 0 {
		return nil, ErrNoData
	}
	return evidence, nil
}

func (c *ClinVar) search(ctx context.Context, symbol string) ([]string, error) {
	query := url.Values{
		"db":      {"clinvar"},
		"term":    {symbol + "[gene]"},
		"retmax":  {strconv.Itoa(c.maxHits)},
		"retmode": {"json"},
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	var resp esearchResponse
	if err := c.http.GetJSON(ctx, "/esearch.fcgi", query, &resp); err != nil {
		return nil, err
	}
	return resp.Result.IDList, nil
}
