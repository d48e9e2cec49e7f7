package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// Runner wraps arbitrary stage work in the uniform lifecycle: Running
// transition and stage-started event before any side effect, retry around the
// work function, terminal transition and exactly one terminal event after all
// side effects have settled.
type Runner struct {
	state  *state.RunState
	events *bus.Bus
	logger *log.Logger
}

// NewRunner creates a Runner bound to the run's shared state and event
// channel. A nil logger falls back to stderr.
func NewRunner(rs *state.RunState, events *bus.Bus, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "orchestrator: ", log.LstdFlags)
	}
	return &Runner{state: rs, events: events, logger: logger}
}

// Run executes one stage to a terminal state. It never panics and never
// returns a raw error: every failure mode, including a panicking work
// function, becomes a Failed StageResult.
func (r *Runner) Run(ctx context.Context, spec Spec) StageResult {
	name := spec.Stage.Name()
	start := time.Now()

	if err := r.state.MarkRunning(name); err != nil {
		// Unregistered or already-run stage: a scheduler bug, not stage work.
		return StageResult{Name: name, Status: state.StatusFailed, Error: err.Error()}
	}
	r.events.Publish(bus.Event{
		Type:    bus.StageStarted,
		Source:  name,
		Payload: map[string]any{"stage": name},
	})
	r.logger.Printf(">>> %s started", name)

	outcome, err := withRetry(ctx, spec.Retry, r.logger, name, func(ctx context.Context) (outcome *Outcome, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				outcome = nil
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return spec.Stage.Execute(ctx)
	})

	duration := time.Since(start)

	if err != nil {
		if serr := r.state.MarkFailed(name, err.Error()); serr != nil {
			r.logger.Printf("recording failure of %s: %v", name, serr)
		}
		r.events.Publish(bus.Event{
			Type:   bus.StageFailed,
			Source: name,
			Payload: map[string]any{
				"stage":    name,
				"error":    err.Error(),
				"duration": duration.Seconds(),
			},
		})
		r.logger.Printf("<<< %s FAILED after %s: %v", name, duration.Round(time.Millisecond), err)
		return StageResult{
			Name:     name,
			Status:   state.StatusFailed,
			Error:    err.Error(),
			Duration: duration,
		}
	}

	if outcome == nil {
		outcome = &Outcome{}
	}
	if serr := r.state.MarkCompleted(name, outcome.Output); serr != nil {
		r.logger.Printf("recording completion of %s: %v", name, serr)
	}
	r.events.Publish(bus.Event{
		Type:   bus.StageCompleted,
		Source: name,
		Payload: map[string]any{
			"stage":    name,
			"output":   outcome.Output,
			"duration": duration.Seconds(),
		},
	})
	r.logger.Printf("<<< %s completed in %s", name, duration.Round(time.Millisecond))

	return StageResult{
		Name:     name,
		Status:   state.StatusSucceeded,
		Output:   outcome.Output,
		Warnings: outcome.Warnings,
		Duration: duration,
	}
}

// Rollback invokes the stage's rollback hook, if any, after a Failed terminal
// state and records the RolledBack transition. Stages without the hook are a
// no-op.
func (r *Runner) Rollback(ctx context.Context, spec Spec) error {
	name := spec.Stage.Name()
	rb, ok := spec.Stage.(RollbackStage)
	if !ok {
		r.logger.Printf("no rollback actions defined for %s", name)
		return nil
	}
	if err := rb.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback %s: %w", name, err)
	}
	return r.state.MarkRolledBack(name)
}
