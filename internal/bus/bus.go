// Package bus implements the typed event channel shared by all migration
// stages: publish/subscribe over a fixed event vocabulary plus an append-only,
// queryable history for the duration of one run.
//
// Publication is split in two per the dispatch design: Publish appends the
// event to the history synchronously (so a history query issued after Publish
// returns always sees the event) and pushes it onto an unbounded in-process
// queue. A single dispatcher goroutine drains the queue and invokes handlers
// in registration order, so handler work never blocks a publishing stage and
// no event is ever silently dropped.
package bus

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one member of the closed event vocabulary.
type EventType string

// Lifecycle and domain milestone events.
const (
	StageStarted     EventType = "stage-started"
	StageCompleted   EventType = "stage-completed"
	StageFailed      EventType = "stage-failed"
	AnalysisComplete EventType = "analysis-complete"
	InfraReady       EventType = "infra-ready"
	DBMigrated       EventType = "db-migrated"
	BackendDeployed  EventType = "backend-deployed"
	FrontendDeployed EventType = "frontend-deployed"
	PipelineComplete EventType = "pipeline-complete"
	ErrorOccurred    EventType = "error"
	ProgressUpdate   EventType = "progress-update"
)

// Event is an immutable record of something that happened during the run.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"` // name of the stage that produced it
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes a single event. Handlers run on the dispatcher goroutine;
// a panicking handler is recovered and logged without affecting delivery to
// the remaining handlers.
type Handler func(Event)

// Bus is the event channel for one migration run. It must be created with New
// and closed with Close once the run is finished. The zero value is not usable.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	history  []Event

	// Unbounded dispatch queue, guarded by qmu/qcond. stopped is set by the
	// dispatcher just before it exits, so a publisher that wins the race
	// against Close either enqueues before the drain or is rejected.
	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []Event
	qdone   bool
	stopped bool
	drained chan struct{}

	logger *log.Logger
}

// New creates a Bus and starts its dispatcher goroutine. A nil logger falls
// back to a stderr logger.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "bus: ", log.LstdFlags)
	}
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		drained:  make(chan struct{}),
		logger:   logger,
	}
	b.qcond = sync.NewCond(&b.qmu)
	go b.dispatch()
	return b
}

// Subscribe registers a handler for one event type. Multiple handlers per type
// are allowed and invoked in registration order.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish records the event in the history and enqueues it for handler
// dispatch. The ID and timestamp are assigned here when unset. Publishing on a
// closed bus is a no-op apart from a log line.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	// The history append and the enqueue share one qmu hold: an event is
	// recorded if and only if the dispatcher will deliver it, even when the
	// publisher races Close.
	b.qmu.Lock()
	if b.stopped {
		b.qmu.Unlock()
		b.logger.Printf("dropping %s from %s: bus closed", evt.Type, evt.Source)
		return
	}
	b.mu.Lock()
	b.history = append(b.history, evt)
	b.mu.Unlock()
	b.queue = append(b.queue, evt)
	b.qcond.Signal()
	b.qmu.Unlock()
}

// dispatch drains the queue, invoking handlers in publish order until Close
// marks the queue done and the backlog is empty.
func (b *Bus) dispatch() {
	defer close(b.drained)
	for {
		b.qmu.Lock()
		for len(b.queue) == 0 && !b.qdone {
			b.qcond.Wait()
		}
		if len(b.queue) == 0 && b.qdone {
			b.stopped = true
			b.qmu.Unlock()
			return
		}
		evt := b.queue[0]
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.deliver(evt)
	}
}

// deliver invokes every handler registered for the event's type, isolating
// panics so one handler cannot starve the rest.
func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[evt.Type]))
	copy(hs, b.handlers[evt.Type])
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Printf("handler panic on %s from %s: %v", evt.Type, evt.Source, r)
				}
			}()
			h(evt)
		}()
	}
}

// History returns all published events in publish order, optionally filtered
// to a single type. The returned slice is a copy and safe to retain.
func (b *Bus) History(types ...EventType) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(types) == 0 {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}

	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []Event
	for _, evt := range b.history {
		if want[evt.Type] {
			out = append(out, evt)
		}
	}
	return out
}

// Latest returns the most recent event of the given type. Downstream stages
// consuming upstream data must use Latest, not the first match, so that a
// re-published artifact wins.
func (b *Bus) Latest(t EventType) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].Type == t {
			return b.history[i], true
		}
	}
	return Event{}, false
}

// WaitFor polls the history for an event of the given type until it appears,
// the timeout elapses, or the context is canceled. It is the bounded wait used
// by a stage that depends on a sibling running concurrently in the same tier.
func (b *Bus) WaitFor(ctx context.Context, t EventType, timeout, interval time.Duration) (Event, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if evt, ok := b.Latest(t); ok {
			return evt, nil
		}
		if time.Now().After(deadline) {
			return Event{}, fmt.Errorf("timed out after %s waiting for %s event", timeout, t)
		}
		select {
		case <-ctx.Done():
			return Event{}, fmt.Errorf("waiting for %s event: %w", t, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close drains any queued events to their handlers, waits for the dispatcher
// to exit, then stops accepting publishes. Events published by handlers while
// the drain is in flight are still delivered; publishes after Close returns
// are ignored. Safe to call more than once.
func (b *Bus) Close() {
	b.qmu.Lock()
	if b.qdone {
		b.qmu.Unlock()
		<-b.drained
		return
	}
	b.qdone = true
	b.qcond.Signal()
	b.qmu.Unlock()

	<-b.drained
}
