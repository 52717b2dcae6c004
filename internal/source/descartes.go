package source

import (
	"context"
	"net/url"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// Descartes fetches fetal single-cell expression from the Descartes human
// gene expression atlas. One evidence record per cell type with detectable
// kidney expression.
type Descartes struct {
	http *HTTPClient
}

// NewDescartes creates the Descartes client over the shared transport.
func NewDescartes(http *HTTPClient) *Descartes {
	return &Descartes{http: http}
}

func (c *Descartes) Name() string { return "descartes" }

type descartesResponse struct {
	Gene    string            `json:"gene"`
	Tissues []descartesTissue `json:"tissues"`
}

type descartesTissue struct {
	Tissue    string              `json:"tissue"`
	CellTypes []descartesCellType `json:"cell_types"`
}

type descartesCellType struct {
	CellType   string  `json:"cell_type"`
	MeanTPM    float64 `json:"mean_tpm"`
	PctExpress float64 `json:"pct_expressing"`
}

func (c *Descartes) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	query := url.Values{"gene": {gene.ApprovedSymbol}}
	var resp descartesResponse
	if err := c.http.GetJSON(ctx, "/expression/fetal", query, &resp); err != nil {
		return nil, err
	}

	var evidence []Evidence
	for _, tissue := range resp.Tissues {
		if tissue.Tissue != "Kidney" {
			continue
		}
		for _, ct := range tissue.CellTypes {
			if ct.CellType == "" {
				continue
			}
			evidence = append(evidence, Evidence{
				Detail: ct.CellType,
				Data: map[string]any{
					"tissue":         tissue.Tissue,
					"cell_type":      ct.CellType,
					"mean_tpm":       ct.MeanTPM,
					"pct_expressing": ct.PctExpress,
				},
			})
		}
	}
	if len(evidence) == 0 {
		return nil, ErrNoData
	}
	return evidence, nil
}
