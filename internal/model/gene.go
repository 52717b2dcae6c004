// Package model defines the domain types shared across the annotation pipeline.
package model

import (
	"time"
)

// Gene is the canonical gene entity. Genes are created by the HGNC import or
// by staging approvals and are never deleted, only superseded.
type Gene struct {
	ID             string            `json:"id"`
	ApprovedSymbol string            `json:"approved_symbol"` // unique, uppercase
	Aliases        []string          `json:"aliases,omitempty"`
	ExternalIDs    map[string]string `json:"external_ids,omitempty"` // registry name -> id (hgnc, ncbi, ensembl, omim)
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// HGNCID returns the HGNC identifier if present.
func (g *Gene) HGNCID() string {
	if g.ExternalIDs == nil {
		return ""
	}
	return g.ExternalIDs["hgnc"]
}

// EvidenceRecord is one annotation payload for a gene from one source.
// At most one active record exists per (gene_id, source_name) unless
// source_detail disambiguates multiple uploads.
type EvidenceRecord struct {
	GeneID       string         `json:"gene_id"`
	SourceName   string         `json:"source_name"`
	SourceDetail string         `json:"source_detail,omitempty"`
	Data         map[string]any `json:"evidence_data"`
	Version      int            `json:"version"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SourceConfig holds per-source pipeline settings. Seeded at deploy time,
// updated by the scheduler after each run and by admin actions.
type SourceConfig struct {
	SourceName      string        `json:"source_name"`
	IsActive        bool          `json:"is_active"`
	UpdateFrequency time.Duration `json:"update_frequency"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	LastUpdate      *time.Time    `json:"last_update,omitempty"`
	NextUpdate      *time.Time    `json:"next_update,omitempty"`
	LastRunFailed   bool          `json:"last_run_failed"`
}

// Due reports whether the source needs a refresh at the given time. A source
// that has never run or whose previous run failed is always due.
func (c *SourceConfig) Due(now time.Time) bool {
	if c.LastUpdate == nil || c.LastRunFailed {
		return true
	}
	freq := c.UpdateFrequency
	if freq <= 0 {
		freq = c.CacheTTL
	}
	if freq <= 0 {
		return true
	}
	return now.Sub(*c.LastUpdate) >= freq
}
