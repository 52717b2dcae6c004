package model

import "time"

// StagingStatus is the review state of a staged normalization failure.
type StagingStatus string

const (
	StagingPending  StagingStatus = "pending"
	StagingApproved StagingStatus = "approved"
	StagingRejected StagingStatus = "rejected"
)

// Resolved reports whether the record has reached a terminal review state.
func (s StagingStatus) Resolved() bool {
	return s == StagingApproved || s == StagingRejected
}

// StagingRecord is one failed normalization attempt awaiting human review.
// One record exists per (original_text, source_name); repeated failures
// append to NormalizationLog instead of creating new rows. Once approved or
// rejected the record is immutable except for audit appends.
type StagingRecord struct {
	ID                   string         `json:"id"`
	OriginalText         string         `json:"original_text"`
	SourceName           string         `json:"source_name"`
	OriginalData         map[string]any `json:"original_data,omitempty"`
	NormalizationLog     []string       `json:"normalization_log"`
	PriorityScore        int            `json:"priority_score"`
	RequiresExpertReview bool           `json:"requires_expert_review"`
	Status               StagingStatus  `json:"status"`
	ApprovedGeneID       string         `json:"approved_gene_id,omitempty"`
	Reviewer             string         `json:"reviewer,omitempty"`
	ReviewNotes          string         `json:"review_notes,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
}

// AuditEntry is one append-only audit event for a staging record.
type AuditEntry struct {
	StagingID string    `json:"staging_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizationOutcome classifies the result of normalizing one symbol.
type NormalizationOutcome string

const (
	OutcomeResolved NormalizationOutcome = "resolved"
	OutcomeStaged   NormalizationOutcome = "staged"
	OutcomeFailed   NormalizationOutcome = "failed"
)

// NormalizationResult is the per-symbol result of a normalize call.
type NormalizationResult struct {
	Text      string               `json:"text"`
	Outcome   NormalizationOutcome `json:"outcome"`
	GeneID    string               `json:"gene_id,omitempty"`
	StagingID string               `json:"staging_id,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}
