// Package state holds the shared run state for one migration: a stage record
// per registered stage, a free-form artifact store for cross-stage data, and
// the run-level timestamps. Constructed at pipeline start and discarded at the
// end; a serializable snapshot can be taken at any point.
package state

import (
	"fmt"
	"sync"
	"time"
)

// Status is the closed stage-status enumeration. Transitions are monotonic:
// no stage ever returns to Pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether no further transition is legal from s, except for
// Failed which may still move to RolledBack.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusRolledBack:
		return true
	}
	return false
}

// legalTransitions is the stage state machine:
// Pending → Running → {Succeeded | Failed}, Failed → RolledBack,
// Pending → Skipped for stages never reached.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusSkipped},
	StatusRunning: {StatusSucceeded, StatusFailed},
	StatusFailed:  {StatusRolledBack},
}

func canTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StageRecord tracks one stage's lifecycle within the run.
type StageRecord struct {
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Duration is derived from the start/finish markers and is zero until both
// are set.
func (r *StageRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunState is the mutable record shared across stages. All methods are safe
// for concurrent use; during the deployment tier two stages may write at once.
type RunState struct {
	mu         sync.RWMutex
	stages     map[string]*StageRecord
	order      []string // registration order, for deterministic reporting
	artifacts  map[string]any
	startedAt  time.Time
	finishedAt time.Time
}

// New returns an empty RunState ready for stage registration.
func New() *RunState {
	return &RunState{
		stages:    make(map[string]*StageRecord),
		artifacts: make(map[string]any),
	}
}

// Register creates a Pending record for the named stage. Registering the same
// name twice is an error; records are never deleted during a run.
func (rs *RunState) Register(name string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, exists := rs.stages[name]; exists {
		return fmt.Errorf("state: stage %q already registered", name)
	}
	rs.stages[name] = &StageRecord{Name: name, Status: StatusPending, Output: make(map[string]any)}
	rs.order = append(rs.order, name)
	return nil
}

// Start marks the beginning of the run.
func (rs *RunState) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.startedAt = time.Now()
}

// Finish marks the end of the run.
func (rs *RunState) Finish() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.finishedAt = time.Now()
}

// transition applies a status change under the state machine, running mutate
// on the record while the lock is held.
func (rs *RunState) transition(name string, to Status, mutate func(*StageRecord)) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec, ok := rs.stages[name]
	if !ok {
		return fmt.Errorf("state: unknown stage %q", name)
	}
	if !canTransition(rec.Status, to) {
		return fmt.Errorf("state: illegal transition %s → %s for stage %q", rec.Status, to, name)
	}
	rec.Status = to
	if mutate != nil {
		mutate(rec)
	}
	return nil
}

// MarkRunning transitions the stage to Running and stamps its start time.
func (rs *RunState) MarkRunning(name string) error {
	return rs.transition(name, StatusRunning, func(r *StageRecord) {
		r.StartedAt = time.Now()
	})
}

// MarkCompleted transitions the stage to Succeeded, stamps its finish time,
// and merges (not replaces) the output mapping.
func (rs *RunState) MarkCompleted(name string, output map[string]any) error {
	return rs.transition(name, StatusSucceeded, func(r *StageRecord) {
		r.FinishedAt = time.Now()
		for k, v := range output {
			r.Output[k] = v
		}
	})
}

// MarkFailed transitions the stage to Failed with the given error message.
func (rs *RunState) MarkFailed(name, errMsg string) error {
	return rs.transition(name, StatusFailed, func(r *StageRecord) {
		r.FinishedAt = time.Now()
		r.Error = errMsg
	})
}

// MarkSkipped marks a stage that was never reached because an earlier
// critical stage aborted the run.
func (rs *RunState) MarkSkipped(name string) error {
	return rs.transition(name, StatusSkipped, nil)
}

// MarkRolledBack records that a failed stage's external side effects were
// undone.
func (rs *RunState) MarkRolledBack(name string) error {
	return rs.transition(name, StatusRolledBack, nil)
}

// Stage returns a copy of the named stage record.
func (rs *RunState) Stage(name string) (StageRecord, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rec, ok := rs.stages[name]
	if !ok {
		return StageRecord{}, false
	}
	return copyRecord(rec), true
}

// SetArtifact stores a named cross-stage artifact (generated file paths,
// deployment URLs, recorded dry-run commands).
func (rs *RunState) SetArtifact(key string, value any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.artifacts[key] = value
}

// Artifact returns the artifact stored under key.
func (rs *RunState) Artifact(key string) (any, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	v, ok := rs.artifacts[key]
	return v, ok
}

// Snapshot is a point-in-time, serializable view of the run state.
type Snapshot struct {
	Stages     []StageRecord  `json:"stages"`
	Artifacts  map[string]any `json:"artifacts"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Duration returns the run's wall-clock duration, zero until Finish.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Snapshot returns a deep copy of the current state in registration order.
// Safe to call while stages are still writing.
func (rs *RunState) Snapshot() Snapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	snap := Snapshot{
		Stages:     make([]StageRecord, 0, len(rs.order)),
		Artifacts:  make(map[string]any, len(rs.artifacts)),
		StartedAt:  rs.startedAt,
		FinishedAt: rs.finishedAt,
	}
	for _, name := range rs.order {
		snap.Stages = append(snap.Stages, copyRecord(rs.stages[name]))
	}
	for k, v := range rs.artifacts {
		snap.Artifacts[k] = v
	}
	return snap
}

func copyRecord(rec *StageRecord) StageRecord {
	out := *rec
	out.Output = make(map[string]any, len(rec.Output))
	for k, v := range rec.Output {
		out.Output[k] = v
	}
	return out
}
