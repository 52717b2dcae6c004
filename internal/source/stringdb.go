package source

import (
	"context"
	"net/url"
	"strconv"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// StringDB fetches protein interaction partners from STRING. One evidence
// record per partner above the configured confidence floor.
type StringDB struct {
	http     *HTTPClient
	minScore int
	limit    int
}

// NewStringDB creates the STRING client over the shared transport.
func NewStringDB(http *HTTPClient) *StringDB {
	return &StringDB{http: http, minScore: 700, limit: 50}
}

func (c *StringDB) Name() string { return "stringdb" }

type stringInteraction struct {
	PreferredNameA    string  `json:"preferredName_A"`
	PreferredNameB    string  `json:"preferredName_B"`
	Score             float64 `json:"score"`
	ExperimentalScore float64 `json:"escore"`
	DatabaseScore     float64 `json:"dscore"`
	TextminingScore   float64 `json:"tscore"`
}

func (c *StringDB) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	query := url.Values{
		"identifiers":     {gene.ApprovedSymbol},
		"species":         {"9606"},
		"required_score":  {strconv.Itoa(c.minScore)},
		"limit":           {strconv.Itoa(c.limit)},
		"caller_identity": {defaultUserAgent},
	}
	var interactions []stringInteraction
	if err := c.http.GetJSON(ctx, "/json/interaction_partners", query, &interactions); err != nil {
		return nil, err
	}
	if len(interactions) == 0 {
		return nil, ErrNoData
	}

	evidence := make([]Evidence, 0, len(interactions))
	for _, in := range interactions {
		partner := in.PreferredNameB
		if partner == gene.ApprovedSymbol {
			partner = in.PreferredNameA
		}
		if partner == "" {
			continue
		}
		evidence = append(evidence, Evidence{
			Detail: partner,
			Data: map[string]any{
				"partner":            partner,
				"combined_score":     in.Score,
				"experimental_score": in.ExperimentalScore,
				"database_score":     in.DatabaseScore,
				"textmining_score":   in.TextminingScore,
			},
		})
	}
	if len(evidence) == 0 {
		return nil, ErrNoData
	}
	return evidence, nil
}
