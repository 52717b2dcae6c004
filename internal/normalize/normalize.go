// Package normalize resolves free-text gene symbols to canonical genes.
// Resolution walks a ladder: exact approved symbol, alias, folded match,
// then the HGNC registry. Anything ambiguous or unresolved lands in the
// staging area for human review instead of being guessed at.
package normalize

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

// Registry is the authoritative symbol lookup, implemented by the HGNC
// source client. ok=false means the registry has no match (not an error).
type Registry interface {
	LookupSymbol(ctx context.Context, symbol string) (*model.Gene, bool, error)
}

// Request is one symbol to normalize with its provenance.
type Request struct {
	Text         string
	SourceName   string
	OriginalData map[string]any
}

// Normalizer resolves symbols against the store and the HGNC registry.
type Normalizer struct {
	store    store.Store
	registry Registry
	limiter  *rate.Limiter
	chunk    int
	log      *zap.Logger
}

// Options tunes batch behavior.
type Options struct {
	ChunkSize    int     // symbols per chunk, default 100
	ChunksPerSec float64 // inter-chunk pacing, default 2
}

// New creates a Normalizer. registry may be nil, which skips the final
// ladder rung (useful when the HGNC source is disabled).
func New(st store.Store, registry Registry, opts Options) *Normalizer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.ChunksPerSec <= 0 {
		opts.ChunksPerSec = 2
	}
	return &Normalizer{
		store:    st,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(opts.ChunksPerSec), 1),
		chunk:    opts.ChunkSize,
		log:      zap.L().With(zap.String("component", "normalize")),
	}
}

// Normalize resolves a single symbol. Unresolvable or ambiguous symbols are
// staged (deduplicated per text+source) and reported as OutcomeStaged.
// Outcomes never carry an error for "not found"; an error means the store or
// registry itself failed.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (model.NormalizationResult, error) {
	result := model.NormalizationResult{Text: req.Text}

	trimmed := strings.TrimSpace(req.Text)
	if trimmed == "" {
		result.Outcome = model.OutcomeFailed
		result.Reason = "empty symbol"
		return result, nil
	}

	var log []string

	// Rung 1: exact approved symbol.
	if g, err := n.store.GetGeneBySymbol(ctx, trimmed); err == nil {
		result.Outcome = model.OutcomeResolved
		result.GeneID = g.ID
		return result, nil
	} else if !eris.Is(err, store.ErrNotFound) {
		return result, err
	}
	log = append(log, "no exact approved-symbol match for "+trimmed)

	// Rung 2: alias. Two or more distinct genes means ambiguity, which a
	// human has to break.
	matches, err := n.store.FindGenesByAlias(ctx, trimmed)
	if err != nil {
		return result, err
	}
	switch len(matches) {
	case 0:
		log = append(log, "no alias match")
	case 1:
		result.Outcome = model.OutcomeResolved
		result.GeneID = matches[0].ID
		return result, nil
	default:
		log = append(log, "ambiguous alias: matches "+joinSymbols(matches))
		return n.stage(ctx, req, log)
	}

	// Rung 3: folded match (NFKC, case, whitespace).
	folded := Fold(trimmed)
	if folded != trimmed {
		if g, err := n.store.GetGeneBySymbol(ctx, folded); err == nil {
			result.Outcome = model.OutcomeResolved
			result.GeneID = g.ID
			return result, nil
		} else if !eris.Is(err, store.ErrNotFound) {
			return result, err
		}
		log = append(log, "no match for folded form "+folded)
	}

	// Rung 4: HGNC registry.
	if n.registry != nil {
		g, ok, err := n.registry.LookupSymbol(ctx, folded)
		if err != nil {
			// Registry outage must not silently stage everything; report it.
			return result, eris.Wrapf(err, "normalize: registry lookup %s", folded)
		}
		if ok {
			if err := n.store.UpsertGene(ctx, g); err != nil {
				return result, err
			}
			result.Outcome = model.OutcomeResolved
			result.GeneID = g.ID
			return result, nil
		}
		log = append(log, "not in HGNC registry")
	}

	return n.stage(ctx, req, log)
}

// NormalizeBatch processes symbols in chunks with inter-chunk pacing. Each
// symbol gets an independent outcome; one bad symbol never fails the batch.
func (n *Normalizer) NormalizeBatch(ctx context.Context, reqs []Request) ([]model.NormalizationResult, error) {
	results := make([]model.NormalizationResult, 0, len(reqs))

	for start := 0; start < len(reqs); start += n.chunk {
		if err := n.limiter.Wait(ctx); err != nil {
			return results, eris.Wrap(err, "normalize: batch cancelled")
		}

		end := start + n.chunk
		if end > len(reqs) {
			end = len(reqs)
		}
		for _, req := range reqs[start:end] {
			res, err := n.Normalize(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return results, eris.Wrap(err, "normalize: batch cancelled")
				}
				n.log.Warn("symbol normalization failed",
					zap.String("text", req.Text),
					zap.String("source", req.SourceName),
					zap.Error(err),
				)
				res = model.NormalizationResult{
					Text:    req.Text,
					Outcome: model.OutcomeFailed,
					Reason:  err.Error(),
				}
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func (n *Normalizer) stage(ctx context.Context, req Request, log []string) (model.NormalizationResult, error) {
	rec := &model.StagingRecord{
		OriginalText:         req.Text,
		SourceName:           req.SourceName,
		OriginalData:         req.OriginalData,
		NormalizationLog:     log,
		PriorityScore:        PriorityScore(req.OriginalData),
		RequiresExpertReview: RequiresExpertReview(req.Text),
	}
	id, err := n.store.UpsertStaging(ctx, rec)
	if err != nil {
		return model.NormalizationResult{Text: req.Text}, err
	}

	n.log.Debug("symbol staged for review",
		zap.String("text", req.Text),
		zap.String("source", req.SourceName),
		zap.Int("priority", rec.PriorityScore),
	)
	return model.NormalizationResult{
		Text:      req.Text,
		Outcome:   model.OutcomeStaged,
		StagingID: id,
		Reason:    strings.Join(log, "; "),
	}, nil
}

// Fold canonicalizes a symbol: NFKC normalization, whitespace collapse,
// uppercase. HGNC approved symbols are uppercase ASCII so this maps common
// spreadsheet mangling (fancy dashes, full-width characters, stray spaces)
// back onto the canonical form.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	fields := strings.Fields(s)
	s = strings.Join(fields, " ")
	return strings.ToUpper(s)
}

// externalIDKeys are provenance fields that strongly suggest the uploader
// knew which gene they meant.
var externalIDKeys = []string{"hgnc_id", "ensembl_id", "ncbi_gene_id", "omim_id", "entrez_id"}

// PriorityScore ranks a staging record for review. Records with external-ID
// hints or high-confidence classifications surface first.
func PriorityScore(data map[string]any) int {
	if data == nil {
		return 0
	}
	score := 0

	for _, key := range externalIDKeys {
		if v, ok := data[key]; ok && v != nil && v != "" {
			score += 15
			break
		}
	}

	if conf, ok := data["confidence"].(string); ok {
		if strings.EqualFold(conf, "high") || strings.EqualFold(conf, "definitive") {
			score += 10
		}
	}

	if panels, ok := data["panels"].([]any); ok {
		bonus := 2 * len(panels)
		if bonus > 10 {
			bonus = 10
		}
		score += bonus
	}

	if len(data) >= 5 {
		score += 5
	}
	return score
}

// RequiresExpertReview flags symbols that look nothing like an HGNC symbol:
// multi-word phrases, complex/locus suffixes, or heavy punctuation. Those
// need a curator rather than a quick visual check.
func RequiresExpertReview(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.Count(trimmed, " ") >= 1 {
		return true
	}

	upper := strings.ToUpper(trimmed)
	for _, suffix := range []string{"COMPLEX", "CLUSTER", "REGION", "LOCUS", "PSEUDOGENE"} {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}

	var other int
	for _, r := range trimmed {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' {
			other++
		}
	}
	return len(trimmed) > 0 && float64(other)/float64(len(trimmed)) > 0.25
}

func joinSymbols(genes []model.Gene) string {
	symbols := make([]string, len(genes))
	for i, g := range genes {
		symbols[i] = g.ApprovedSymbol
	}
	return strings.Join(symbols, ", ")
}
