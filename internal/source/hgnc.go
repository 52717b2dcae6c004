package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// HGNC is the symbol authority. Besides producing nomenclature evidence it
// backs the normalizer's registry lookups.
type HGNC struct {
	http *HTTPClient
}

// NewHGNC creates the HGNC client over the shared transport.
func NewHGNC(http *HTTPClient) *HGNC {
	return &HGNC{http: http}
}

func (c *HGNC) Name() string { return "hgnc" }

type hgncResponse struct {
	Response struct {
		NumFound int       `json:"numFound"`
		Docs     []hgncDoc `json:"docs"`
	} `json:"response"`
}

type hgncDoc struct {
	HGNCID        string   `json:"hgnc_id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	LocusGroup    string   `json:"locus_group"`
	Location      string   `json:"location"`
	AliasSymbols  []string `json:"alias_symbol"`
	PrevSymbols   []string `json:"prev_symbol"`
	EnsemblGeneID string   `json:"ensembl_gene_id"`
	EntrezID      string   `json:"entrez_id"`
	OmimIDs       []string `json:"omim_id"`
}

// FetchGene returns the nomenclature record for the gene's approved symbol.
func (c *HGNC) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	doc, ok, err := c.fetchDoc(ctx, "/fetch/symbol/"+url.PathEscape(gene.ApprovedSymbol))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}

	return []Evidence{{
		Data: map[string]any{
			"hgnc_id":         doc.HGNCID,
			"name":            doc.Name,
			"locus_group":     doc.LocusGroup,
			"location":        doc.Location,
			"alias_symbols":   doc.AliasSymbols,
			"prev_symbols":    doc.PrevSymbols,
			"ensembl_gene_id": doc.EnsemblGeneID,
			"entrez_id":       doc.EntrezID,
		},
	}}, nil
}

// LookupSymbol resolves a symbol through the registry: first as an approved
// symbol, then as a previous symbol. Implements normalize.Registry.
func (c *HGNC) LookupSymbol(ctx context.Context, symbol string) (*model.Gene, bool, error) {
	doc, ok, err := c.fetchDoc(ctx, "/fetch/symbol/"+url.PathEscape(symbol))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		doc, ok, err = c.fetchDoc(ctx, "/fetch/prev_symbol/"+url.PathEscape(symbol))
		if err != nil || !ok {
			return nil, false, err
		}
	}
	return docToGene(doc), true, nil
}

func (c *HGNC) fetchDoc(ctx context.Context, path string) (hgncDoc, bool, error) {
	var resp hgncResponse
	if err := c.http.GetJSON(ctx, path, nil, &resp); err != nil {
		if IsNoData(err) {
			return hgncDoc{}, false, nil
		}
		return hgncDoc{}, false, err
	}
	if resp.Response.NumFound == 0 || len(resp.Response.Docs) == 0 {
		return hgncDoc{}, false, nil
	}
	return resp.Response.Docs[0], true, nil
}

func docToGene(doc hgncDoc) *model.Gene {
	aliases := make([]string, 0, len(doc.AliasSymbols)+len(doc.PrevSymbols))
	aliases = append(aliases, doc.AliasSymbols...)
	aliases = append(aliases, doc.PrevSymbols...)

	ext := map[string]string{"hgnc": doc.HGNCID}
	if doc.EnsemblGeneID != "" {
		ext["ensembl"] = doc.EnsemblGeneID
	}
	if doc.EntrezID != "" {
		ext["ncbi"] = doc.EntrezID
	}
	if len(doc.OmimIDs) > 0 {
		ext["omim"] = strings.Join(doc.OmimIDs, ",")
	}

	return &model.Gene{
		ApprovedSymbol: doc.Symbol,
		Aliases:        aliases,
		ExternalIDs:    ext,
	}
}
