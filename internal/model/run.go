package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Strategy selects the worklist for a pipeline run.
type Strategy string

const (
	// StrategyFull processes all active genes across all active sources.
	StrategyFull Strategy = "full"
	// StrategyIncremental processes only sources whose last update is stale
	// or whose previous run failed.
	StrategyIncremental Strategy = "incremental"
	// StrategySelective processes a caller-specified subset of sources.
	StrategySelective Strategy = "selective"
	// StrategyForced is Full with cache-freshness checks bypassed.
	StrategyForced Strategy = "forced"
)

// ParseStrategy converts a string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case StrategyFull:
		return StrategyFull, nil
	case StrategyIncremental:
		return StrategyIncremental, nil
	case StrategySelective:
		return StrategySelective, nil
	case StrategyForced:
		return StrategyForced, nil
	default:
		return "", eris.Errorf("unknown strategy: %q (valid: full, incremental, selective, forced)", s)
	}
}

// RunStatus is the per-source state within a pipeline run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// PipelineRunState tracks progress for one source during a run. It is reset
// at run start and retained after completion for inspection.
type PipelineRunState struct {
	RunID              string     `json:"run_id"`
	SourceName         string     `json:"source_name"`
	Status             RunStatus  `json:"status"`
	ProgressPercentage float64    `json:"progress_percentage"`
	CurrentOperation   string     `json:"current_operation,omitempty"`
	ItemsProcessed     int        `json:"items_processed"`
	ItemsAdded         int        `json:"items_added"`
	ItemsUpdated       int        `json:"items_updated"`
	ItemsFailed        int        `json:"items_failed"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

// OverallStatus classifies a finished run across sources.
type OverallStatus string

const (
	OverallCompleted OverallStatus = "completed"
	// OverallPartial means at least one source failed while others
	// completed. Partial success is a first-class outcome, reported
	// distinctly from total failure.
	OverallPartial OverallStatus = "partial"
	OverallFailed  OverallStatus = "failed"
)

// RunSummary is the composite outcome of a pipeline run.
type RunSummary struct {
	RunID       string             `json:"run_id"`
	Strategy    Strategy           `json:"strategy"`
	Overall     OverallStatus      `json:"overall"`
	Sources     []PipelineRunState `json:"sources"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Classify derives the overall status from the per-source states.
func (s *RunSummary) Classify() {
	var failed, completed int
	for _, src := range s.Sources {
		switch src.Status {
		case RunFailed:
			failed++
		case RunCompleted:
			completed++
		}
	}
	switch {
	case failed == 0:
		s.Overall = OverallCompleted
	case completed == 0:
		s.Overall = OverallFailed
	default:
		s.Overall = OverallPartial
	}
}
