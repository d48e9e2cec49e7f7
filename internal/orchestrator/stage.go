// Package orchestrator is the pipeline coordination layer: the uniform stage
// lifecycle, the retry wrapper, and the dependency-ordered scheduler that runs
// stage groups, tolerates partial failure, and aggregates results.
package orchestrator

import (
	"context"
	"time"

	"github.com/sanathmahesh/cloudify/internal/state"
)

// Outcome is what a stage's work function reports on success: its output
// artifacts plus any soft issues worth surfacing without failing the stage.
type Outcome struct {
	Output   map[string]any
	Warnings []string
}

// Stage is one unit of migration work. Implementations check their own
// upstream data availability at entry and fail fast with a descriptive error
// when it is missing; they never reach around the scheduler.
type Stage interface {
	Name() string
	Execute(ctx context.Context) (*Outcome, error)
}

// RollbackStage is the optional hook for undoing externally-visible side
// effects after a Failed terminal state. Implementations must be idempotent
// and safe to call after partial provisioning.
type RollbackStage interface {
	Rollback(ctx context.Context) error
}

// Spec pairs a stage with its scheduling attributes.
type Spec struct {
	Stage    Stage
	Critical bool // a critical stage's failure halts the remaining pipeline
	Retry    RetryPolicy
}

// Group is a set of stages launched concurrently within one dependency tier.
type Group []Spec

// StageResult is the structured result the scheduler sees. Stages never leak
// raw errors or panics past this boundary.
type StageResult struct {
	Name     string         `json:"name"`
	Status   state.Status   `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Failed reports whether the stage reached the Failed terminal state.
func (r StageResult) Failed() bool { return r.Status == state.StatusFailed }
