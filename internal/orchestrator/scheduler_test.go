package orchestrator

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/state"
)

func okStage(name string, output map[string]any) *fakeStage {
	return &fakeStage{
		name: name,
		execute: func(context.Context) (*Outcome, error) {
			return &Outcome{Output: output}, nil
		},
	}
}

func failStage(name, msg string) *fakeStage {
	return &fakeStage{
		name: name,
		execute: func(context.Context) (*Outcome, error) {
			return nil, errors.New(msg)
		},
	}
}

func schedHarness(t *testing.T) (*state.RunState, *bus.Bus, *Scheduler) {
	t.Helper()
	rs := state.New()
	events := bus.New(log.New(io.Discard, "", 0))
	t.Cleanup(events.Close)
	return rs, events, NewScheduler(rs, events, log.New(io.Discard, "", 0))
}

// fiveStageGroups builds the canonical migration pipeline shape with the
// given stage implementations keyed by name.
func fiveStageGroups(stages map[string]Stage) []Group {
	return []Group{
		{{Stage: stages["analyze"], Critical: true}},
		{{Stage: stages["infrastructure"], Critical: true}},
		{{Stage: stages["database"], Critical: false}},
		{
			{Stage: stages["backend"], Critical: true},
			{Stage: stages["frontend"], Critical: true},
		},
	}
}

func happyStages() map[string]Stage {
	return map[string]Stage{
		"analyze":        okStage("analyze", map[string]any{"build_tool": "maven"}),
		"infrastructure": okStage("infrastructure", map[string]any{"registry": "us-docker.pkg.dev/p/repo"}),
		"database":       okStage("database", map[string]any{"strategy": "keep-h2"}),
		"backend":        okStage("backend", map[string]any{"service_url": "https://api.run.app"}),
		"frontend":       okStage("frontend", map[string]any{"hosting_url": "https://app.web.app"}),
	}
}

func TestExecuteAllStagesSucceed(t *testing.T) {
	rs, events, sched := schedHarness(t)

	results, err := sched.Execute(context.Background(), fiveStageGroups(happyStages()))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for name, res := range results {
		assert.Equal(t, state.StatusSucceeded, res.Status, name)
	}

	// pipeline-complete is published after the last group.
	events.Close()
	assert.Len(t, events.History(bus.PipelineComplete), 1)

	snap := rs.Snapshot()
	assert.False(t, snap.StartedAt.IsZero())
	assert.False(t, snap.FinishedAt.IsZero())
}

// Scenario: the critical infrastructure stage fails. Only stages 1 and 2
// appear in the result map; stages 3-5 are absent and marked Skipped.
func TestExecuteCriticalFailureAbortsPipeline(t *testing.T) {
	rs, events, sched := schedHarness(t)

	stages := happyStages()
	stages["infrastructure"] = failStage("infrastructure", "API enablement denied")

	results, err := sched.Execute(context.Background(), fiveStageGroups(stages))
	require.ErrorIs(t, err, ErrCriticalStageFailed)
	assert.Contains(t, err.Error(), "infrastructure")

	require.Len(t, results, 2)
	assert.Equal(t, state.StatusSucceeded, results["analyze"].Status)
	assert.Equal(t, state.StatusFailed, results["infrastructure"].Status)

	for _, name := range []string{"database", "backend", "frontend"} {
		_, present := results[name]
		assert.False(t, present, "%s must not appear in results", name)
		rec, ok := rs.Stage(name)
		require.True(t, ok)
		assert.Equal(t, state.StatusSkipped, rec.Status, "%s is not-run, not failed", name)
	}

	events.Close()
	assert.Empty(t, events.History(bus.PipelineComplete))
	assert.Len(t, events.History(bus.ErrorOccurred), 1)
}

// Scenario: the non-critical database stage fails. All five stages run, the
// pipeline-complete event is still published, and the db failure is a
// recorded failure rather than an abort.
func TestExecuteNonCriticalFailureContinues(t *testing.T) {
	_, events, sched := schedHarness(t)

	stages := happyStages()
	stages["database"] = failStage("database", "cloud sql instance creation timed out")

	results, err := sched.Execute(context.Background(), fiveStageGroups(stages))
	require.NoError(t, err, "non-critical failure must not abort")
	require.Len(t, results, 5)

	assert.Equal(t, state.StatusFailed, results["database"].Status)
	assert.Equal(t, state.StatusSucceeded, results["backend"].Status)
	assert.Equal(t, state.StatusSucceeded, results["frontend"].Status)

	events.Close()
	assert.Len(t, events.History(bus.PipelineComplete), 1)
}

// Concurrent tier: one deployment fails while its sibling succeeds. Both
// results are retained; the sibling's output is not discarded.
func TestExecutePartialFailureInConcurrentTier(t *testing.T) {
	_, _, sched := schedHarness(t)

	stages := happyStages()
	stages["frontend"] = failStage("frontend", "firebase deploy failed")

	results, err := sched.Execute(context.Background(), fiveStageGroups(stages))
	require.ErrorIs(t, err, ErrCriticalStageFailed)

	require.Contains(t, results, "backend")
	require.Contains(t, results, "frontend")
	assert.Equal(t, state.StatusSucceeded, results["backend"].Status)
	assert.Equal(t, "https://api.run.app", results["backend"].Output["service_url"],
		"succeeding sibling's output remains usable")
	assert.Equal(t, state.StatusFailed, results["frontend"].Status)
	assert.Contains(t, results["frontend"].Error, "firebase deploy failed")
}

// Concurrent tier with a real data dependency: the frontend waits on the
// backend-deployed event. This must not deadlock and the frontend must see
// the backend's published payload, never its in-progress state.
func TestExecuteDeploymentTierEventDependency(t *testing.T) {
	_, events, sched := schedHarness(t)

	backend := &fakeStage{
		name: "backend",
		execute: func(context.Context) (*Outcome, error) {
			time.Sleep(30 * time.Millisecond)
			events.Publish(bus.Event{
				Type:    bus.BackendDeployed,
				Source:  "backend",
				Payload: map[string]any{"service_url": "https://api.run.app"},
			})
			return &Outcome{Output: map[string]any{"service_url": "https://api.run.app"}}, nil
		},
	}
	var gotURL string
	frontend := &fakeStage{
		name: "frontend",
		execute: func(ctx context.Context) (*Outcome, error) {
			evt, err := events.WaitFor(ctx, bus.BackendDeployed, 5*time.Second, 5*time.Millisecond)
			if err != nil {
				return nil, err
			}
			gotURL = evt.Payload["service_url"].(string)
			return &Outcome{Output: map[string]any{"hosting_url": "https://app.web.app"}}, nil
		},
	}

	groups := []Group{{
		{Stage: backend, Critical: true},
		{Stage: frontend, Critical: true},
	}}

	results, err := sched.Execute(context.Background(), groups)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSucceeded, results["backend"].Status)
	assert.Equal(t, state.StatusSucceeded, results["frontend"].Status)
	assert.Equal(t, "https://api.run.app", gotURL)
}

// Scenario: the backend never publishes its event; the frontend's bounded
// wait (2s here, 10 minutes in production) fails with a timeout-specific
// error rather than a generic failure or a hang.
func TestExecuteFrontendWaitTimesOut(t *testing.T) {
	_, events, sched := schedHarness(t)

	backend := &fakeStage{
		name: "backend",
		execute: func(context.Context) (*Outcome, error) {
			// Completes without ever publishing backend-deployed.
			return nil, errors.New("cloud run deploy failed")
		},
	}
	frontend := &fakeStage{
		name: "frontend",
		execute: func(ctx context.Context) (*Outcome, error) {
			_, err := events.WaitFor(ctx, bus.BackendDeployed, 2*time.Second, 20*time.Millisecond)
			if err != nil {
				return nil, err
			}
			return &Outcome{}, nil
		},
	}

	groups := []Group{{
		{Stage: backend, Critical: true},
		{Stage: frontend, Critical: true},
	}}

	results, err := sched.Execute(context.Background(), groups)
	require.ErrorIs(t, err, ErrCriticalStageFailed)
	require.Contains(t, results, "frontend")
	assert.Equal(t, state.StatusFailed, results["frontend"].Status)
	assert.Contains(t, results["frontend"].Error, "timed out")
	assert.Contains(t, results["frontend"].Error, string(bus.BackendDeployed))
}

func TestProgressEventsCountTerminalStages(t *testing.T) {
	_, events, sched := schedHarness(t)

	var mu sync.Mutex
	var percentages []float64
	events.Subscribe(bus.ProgressUpdate, func(evt bus.Event) {
		mu.Lock()
		percentages = append(percentages, evt.Payload["percentage"].(float64))
		mu.Unlock()
	})

	_, err := sched.Execute(context.Background(), fiveStageGroups(happyStages()))
	require.NoError(t, err)
	events.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, percentages, 5)
	assert.InDelta(t, 100.0, percentages[len(percentages)-1], 0.01)
}

func TestExecuteRejectsDuplicateStageNames(t *testing.T) {
	_, _, sched := schedHarness(t)

	groups := []Group{
		{{Stage: okStage("analyze", nil)}},
		{{Stage: okStage("analyze", nil)}},
	}
	_, err := sched.Execute(context.Background(), groups)
	require.Error(t, err)
}
