package source

import (
	"context"
	"net/url"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// HPO fetches phenotype term associations from the JAX ontology annotation
// service. Lookups key on the NCBI gene ID when the gene record carries one.
type HPO struct {
	http *HTTPClient
}

// NewHPO creates the HPO client over the shared transport.
func NewHPO(http *HTTPClient) *HPO {
	return &HPO{http: http}
}

func (c *HPO) Name() string { return "hpo" }

type hpoAnnotationResponse struct {
	Phenotypes []hpoTerm `json:"phenotypes"`
	Diseases   []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"diseases"`
}

type hpoTerm struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *HPO) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	ncbiID, ok := gene.ExternalIDs["ncbi"]
	if !ok || ncbiID == "" {
		// Without an NCBI ID the annotation endpoint cannot address the gene.
		return nil, ErrNoData
	}

	var resp hpoAnnotationResponse
	path := "/network/annotation/" + url.PathEscape("NCBIGene:"+ncbiID)
	if err := c.http.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Phenotypes) == 0 {
		return nil, ErrNoData
	}

	diseases := make([]map[string]any, 0, len(resp.Diseases))
	for _, d := range resp.Diseases {
		diseases = append(diseases, map[string]any{"id": d.ID, "name": d.Name})
	}

	evidence := make([]Evidence, 0, len(resp.Phenotypes))
	for _, term := range resp.Phenotypes {
		if term.ID == "" {
			continue
		}
		evidence = append(evidence, Evidence{
			Detail: term.ID,
			Data: map[string]any{
				"term_id":   term.ID,
				"term_name": term.Name,
				"diseases":  diseases,
			},
		})
	}
	if len(evidence) == 0 {
		return nil, ErrNoData
	}
	return evidence, nil
}
