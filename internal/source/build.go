package source

import (
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/cache"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/config"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/resilience"
)

// Clients bundles the wired registry with the clients that expose extra
// capabilities beyond the common interface.
type Clients struct {
	Registry *Registry
	HGNC     *HGNC
	PubTator *PubTator
}

// Build wires every configured source client: one transport per source with
// its own rate limit, retry policy, breaker and cache namespace.
func Build(cfg *config.Config, c *cache.Cache, breakers *resilience.SourceBreakers) *Clients {
	httpFor := func(name string) *HTTPClient {
		opts := cfg.SourceOpts(name)
		retry := resilience.DefaultRetryConfig()
		retry.OnRetry = resilience.RetryLogger(name, "http")
		return NewHTTPClient(HTTPOptions{
			Source:     name,
			BaseURL:    opts.BaseURL,
			Timeout:    opts.Timeout(),
			RatePerSec: opts.RatePerSec,
			Burst:      opts.Burst,
			Retry:      retry,
			Breaker:    breakers.Get(name),
			Cache:      c,
			CacheTTL:   opts.CacheTTL(),
		})
	}

	hgnc := NewHGNC(httpFor("hgnc"))
	pubtator := NewPubTator(httpFor("pubtator"))

	registry := NewRegistry()
	registry.Register(hgnc)
	registry.Register(NewGnomad(httpFor("gnomad")))
	registry.Register(NewClinVar(httpFor("clinvar"), cfg.SourceOpts("clinvar").APIKey))
	registry.Register(NewHPO(httpFor("hpo")))
	registry.Register(NewGTEx(httpFor("gtex")))
	registry.Register(NewDescartes(httpFor("descartes")))
	registry.Register(NewStringDB(httpFor("stringdb")))
	registry.Register(NewMGI(MGIOptions{
		Host:    cfg.SourceOpts("mgi").BaseURL,
		Timeout: cfg.SourceOpts("mgi").Timeout(),
	}))
	registry.Register(pubtator)

	return &Clients{Registry: registry, HGNC: hgnc, PubTator: pubtator}
}
