// Package source defines the annotation source clients. Each client wraps
// one upstream database (HGNC, gnomAD, ClinVar, ...) behind a common
// interface with rate limiting, retry, circuit breaking and response caching
// handled by the shared HTTP transport.
package source

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

// ErrNoData means the source has no annotation for the requested gene. Not a
// failure; the pipeline records zero evidence and moves on.
var ErrNoData = eris.New("source: no data for gene")

// IsNoData reports whether the error means the source had no record.
func IsNoData(err error) bool { return eris.Is(err, ErrNoData) }

// Evidence is one annotation payload produced by a client. The pipeline
// attaches the gene and source identity when persisting.
type Evidence struct {
	// Detail disambiguates multiple records per gene per source (variant
	// accession, PMID, tissue). Empty when the source yields one record.
	Detail string
	Data   map[string]any
}

// Client fetches annotations for a single gene from one upstream source.
type Client interface {
	Name() string
	FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error)
}

// PageItem is one gene mention in a paginated feed.
type PageItem struct {
	GeneSymbol string
	Detail     string
	Data       map[string]any
}

// Page is one page of a relevance-ordered feed.
type Page struct {
	Items      []PageItem
	NextCursor string
	HasMore    bool
}

// PageFetcher is the capability for sources that stream a corpus in pages
// (PubTator) instead of answering per-gene queries. Page order must be
// stable and most-relevant-first so the incremental duplicate-stop
// heuristic is sound.
type PageFetcher interface {
	Client
	FetchPage(ctx context.Context, cursor string) (*Page, error)
}

// Registry holds the configured clients keyed by source name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client. Registering the same name twice is a programming
// error and panics, same as a duplicate flag registration would.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.Name()]; exists {
		panic("source: duplicate client registration: " + c.Name())
	}
	r.clients[c.Name()] = c
}

// Get returns the named client.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return c, nil
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
