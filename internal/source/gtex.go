package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// GTEx fetches median tissue expression, one evidence record per tissue.
// Kidney cortex and medulla values drive downstream relevance scoring so
// they ride along in every record.
type GTEx struct {
	http *HTTPClient
}

// NewGTEx creates the GTEx client over the shared transport.
func NewGTEx(http *HTTPClient) *GTEx {
	return &GTEx{http: http}
}

func (c *GTEx) Name() string { return "gtex" }

type gtexExpressionResponse struct {
	Data []gtexExpression `json:"data"`
}

type gtexExpression struct {
	GencodeID    string  `json:"gencodeId"`
	GeneSymbol   string  `json:"geneSymbol"`
	TissueSiteID string  `json:"tissueSiteDetailId"`
	Median       float64 `json:"median"`
	Unit         string  `json:"unit"`
}

func (c *GTEx) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	ensemblID, ok := gene.ExternalIDs["ensembl"]
	if !ok || ensemblID == "" {
		return nil, ErrNoData
	}

	query := url.Values{
		"gencodeId":    {ensemblID},
		"datasetId":    {"gtex_v8"},
		"itemsPerPage": {"100"},
	}
	var resp gtexExpressionResponse
	if err := c.http.GetJSON(ctx, "/expression/medianGeneExpression", query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoData
	}

	evidence := make([]Evidence, 0, len(resp.Data))
	for _, expr := range resp.Data {
		if expr.TissueSiteID == "" {
			continue
		}
		evidence = append(evidence, Evidence{
			Detail: expr.TissueSiteID,
			Data: map[string]any{
				"gencode_id": expr.GencodeID,
				"tissue":     expr.TissueSiteID,
				"median":     expr.Median,
				"unit":       expr.Unit,
				"is_kidney":  isKidneyTissue(expr.TissueSiteID),
			},
		})
	}
	if len(evidence) == 0 {
		return nil, ErrNoData
	}
	return evidence, nil
}

func isKidneyTissue(tissueSiteID string) bool {
	return strings.HasPrefix(tissueSiteID, "Kidney")
}
