package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/resilience"
)

// Gnomad fetches constraint scores (pLI, LOEUF, missense Z) from the gnomAD
// GraphQL API.
type Gnomad struct {
	http *HTTPClient
}

// NewGnomad creates the gnomAD client over the shared transport.
func NewGnomad(http *HTTPClient) *Gnomad {
	return &Gnomad{http: http}
}

func (c *Gnomad) Name() string { return "gnomad" }

const gnomadConstraintQuery = `
query GeneConstraint($symbol: String!) {
  gene(gene_symbol: $symbol, reference_genome: GRCh38) {
    gene_id
    symbol
    gnomad_constraint {
      pli
      oe_lof
      oe_lof_upper
      oe_mis
      mis_z
      syn_z
      lof_z
    }
  }
}`

type gnomadResponse struct {
	Data struct {
		Gene *struct {
			GeneID     string `json:"gene_id"`
			Symbol     string `json:"symbol"`
			Constraint *struct {
				PLI        *float64 `json:"pli"`
				OELof      *float64 `json:"oe_lof"`
				OELofUpper *float64 `json:"oe_lof_upper"`
				OEMis      *float64 `json:"oe_mis"`
				MisZ       *float64 `json:"mis_z"`
				SynZ       *float64 `json:"syn_z"`
				LofZ       *float64 `json:"lof_z"`
			} `json:"gnomad_constraint"`
		} `json:"gene"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Gnomad) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	payload := map[string]any{
		"query":     gnomadConstraintQuery,
		"variables": map[string]any{"symbol": gene.ApprovedSymbol},
	}

	var resp gnomadResponse
	if err := c.http.PostJSON(ctx, "", payload, &resp); err != nil {
		return nil, err
	}

	// GraphQL reports "unknown gene" as an error entry, not an HTTP status.
	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		if isUnknownGeneMessage(msg) {
			return nil, ErrNoData
		}
		return nil, resilience.NewPermanentError(
			eris.Errorf("gnomad: graphql error: %s", msg), 0)
	}

	g := resp.Data.Gene
	if g == nil || g.Constraint == nil {
		return nil, ErrNoData
	}

	return []Evidence{{
		Data: map[string]any{
			"gene_id":      g.GeneID,
			"pli":          g.Constraint.PLI,
			"oe_lof":       g.Constraint.OELof,
			"oe_lof_upper": g.Constraint.OELofUpper,
			"oe_mis":       g.Constraint.OEMis,
			"mis_z":        g.Constraint.MisZ,
			"syn_z":        g.Constraint.SynZ,
			"lof_z":        g.Constraint.LofZ,
		},
	}}, nil
}

func isUnknownGeneMessage(msg string) bool {
	return msg == "Gene not found" || msg == "Variant not found"
}
