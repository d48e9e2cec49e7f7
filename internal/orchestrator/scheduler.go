package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// ErrCriticalStageFailed is returned by Execute when a critical stage's
// failure aborted the rest of the pipeline.
var ErrCriticalStageFailed = errors.New("orchestrator: critical stage failed")

// Scheduler runs ordered groups of stages. Stages within a group run
// concurrently; a later group starts only after the previous group settled.
// Critical failures halt the pipeline, non-critical failures are recorded as
// warnings and execution continues.
type Scheduler struct {
	runner *Runner
	state  *state.RunState
	events *bus.Bus
	logger *log.Logger
}

// NewScheduler creates a Scheduler over the shared run state and event
// channel. A nil logger falls back to stderr.
func NewScheduler(rs *state.RunState, events *bus.Bus, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "orchestrator: ", log.LstdFlags)
	}
	return &Scheduler{
		runner: NewRunner(rs, events, logger),
		state:  rs,
		events: events,
		logger: logger,
	}
}

// Execute pre-registers every stage as Pending, then runs the groups in
// order. The returned map holds a result for every stage that ran; stages
// skipped because of an earlier critical failure are absent from the map and
// marked Skipped in the run state. The error is ErrCriticalStageFailed
// (wrapped with the stage name) when the run aborted early, nil otherwise —
// a non-critical failure alone never produces an error.
func (s *Scheduler) Execute(ctx context.Context, groups []Group) (map[string]StageResult, error) {
	total := 0
	for _, g := range groups {
		for _, spec := range g {
			if err := s.state.Register(spec.Stage.Name()); err != nil {
				return nil, err
			}
			total++
		}
	}

	s.trackProgress(total)
	s.state.Start()
	defer s.state.Finish()

	results := make(map[string]StageResult, total)

	for gi, group := range groups {
		for _, res := range s.runGroup(ctx, group) {
			results[res.Name] = res
		}

		var abort error
		for _, spec := range group {
			res := results[spec.Stage.Name()]
			if !res.Failed() {
				continue
			}
			if spec.Critical {
				s.logger.Printf("critical stage %s failed, aborting pipeline", res.Name)
				s.events.Publish(bus.Event{
					Type:   bus.ErrorOccurred,
					Source: "scheduler",
					Payload: map[string]any{
						"stage": res.Name,
						"error": res.Error,
					},
				})
				abort = fmt.Errorf("%w: %s: %s", ErrCriticalStageFailed, res.Name, res.Error)
			} else {
				s.logger.Printf("non-critical stage %s failed, continuing: %s", res.Name, res.Error)
			}
		}
		if abort != nil {
			s.skipRemaining(groups[gi+1:])
			return results, abort
		}
	}

	s.events.Publish(bus.Event{
		Type:   bus.PipelineComplete,
		Source: "scheduler",
		Payload: map[string]any{
			"total_stages": total,
		},
	})
	return results, nil
}

// runGroup launches every stage in the group concurrently and waits for all
// of them. Results are written to an indexed slice so a failing stage can
// never mask a sibling's outcome; Runner.Run returns structured results, so
// the goroutines themselves never error.
func (s *Scheduler) runGroup(ctx context.Context, group Group) []StageResult {
	results := make([]StageResult, len(group))

	if len(group) == 1 {
		results[0] = s.runner.Run(ctx, group[0])
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range group {
		g.Go(func() error {
			results[i] = s.runner.Run(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// skipRemaining marks every stage in the unreached groups as Skipped so the
// report distinguishes "not run" from "failed".
func (s *Scheduler) skipRemaining(groups []Group) {
	for _, group := range groups {
		for _, spec := range group {
			name := spec.Stage.Name()
			if err := s.state.MarkSkipped(name); err != nil {
				s.logger.Printf("marking %s skipped: %v", name, err)
			}
		}
	}
}

// trackProgress republishes a normalized progress-update event each time a
// stage reaches a terminal state.
func (s *Scheduler) trackProgress(total int) {
	var mu sync.Mutex
	completed := 0

	onTerminal := func(bus.Event) {
		mu.Lock()
		completed++
		done := completed
		mu.Unlock()

		s.events.Publish(bus.Event{
			Type:   bus.ProgressUpdate,
			Source: "scheduler",
			Payload: map[string]any{
				"completed":  done,
				"total":      total,
				"percentage": float64(done) / float64(total) * 100,
			},
		})
	}
	s.events.Subscribe(bus.StageCompleted, onTerminal)
	s.events.Subscribe(bus.StageFailed, onTerminal)
}
