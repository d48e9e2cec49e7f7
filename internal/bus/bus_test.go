package bus

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(log.New(io.Discard, "", 0))
	t.Cleanup(b.Close)
	return b
}

func TestHistoryFilterPreservesPublishOrder(t *testing.T) {
	b := newTestBus(t)

	b.Publish(Event{Type: StageStarted, Source: "analyze"})
	b.Publish(Event{Type: AnalysisComplete, Source: "analyze", Payload: map[string]any{"n": 1}})
	b.Publish(Event{Type: StageCompleted, Source: "analyze"})
	b.Publish(Event{Type: AnalysisComplete, Source: "analyze", Payload: map[string]any{"n": 2}})

	all := b.History()
	require.Len(t, all, 4)

	filtered := b.History(AnalysisComplete)
	require.Len(t, filtered, 2)
	assert.Equal(t, 1, filtered[0].Payload["n"])
	assert.Equal(t, 2, filtered[1].Payload["n"])

	// Every event gets an ID and timestamp on publish.
	for _, evt := range all {
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.Timestamp.IsZero())
	}
}

func TestLatestIsLastWriteWins(t *testing.T) {
	b := newTestBus(t)

	_, ok := b.Latest(InfraReady)
	assert.False(t, ok)

	b.Publish(Event{Type: InfraReady, Source: "infrastructure", Payload: map[string]any{"registry": "old"}})
	b.Publish(Event{Type: InfraReady, Source: "infrastructure", Payload: map[string]any{"registry": "new"}})

	evt, ok := b.Latest(InfraReady)
	require.True(t, ok)
	assert.Equal(t, "new", evt.Payload["registry"])
}

func TestHandlersInvokedInRegistrationOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	b.Subscribe(StageCompleted, func(Event) {
		mu.Lock()
		seen = append(seen, "first")
		mu.Unlock()
	})
	b.Subscribe(StageCompleted, func(Event) {
		mu.Lock()
		seen = append(seen, "second")
		mu.Unlock()
		close(done)
	})

	b.Publish(Event{Type: StageCompleted, Source: "infrastructure"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	b := newTestBus(t)

	delivered := make(chan struct{})
	b.Subscribe(ErrorOccurred, func(Event) { panic("boom") })
	b.Subscribe(ErrorOccurred, func(Event) { close(delivered) })

	b.Publish(Event{Type: ErrorOccurred, Source: "scheduler"})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler was not invoked after sibling panic")
	}
}

func TestHistoryVisibleImmediatelyAfterPublish(t *testing.T) {
	b := newTestBus(t)

	// No handler involvement: the history append is synchronous with Publish.
	b.Publish(Event{Type: BackendDeployed, Source: "backend"})
	_, ok := b.Latest(BackendDeployed)
	assert.True(t, ok)
}

func TestWaitForReturnsPublishedEvent(t *testing.T) {
	b := newTestBus(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Publish(Event{Type: BackendDeployed, Source: "backend", Payload: map[string]any{"service_url": "https://api.example.run.app"}})
	}()

	evt, err := b.WaitFor(context.Background(), BackendDeployed, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.run.app", evt.Payload["service_url"])
}

func TestWaitForTimesOut(t *testing.T) {
	b := newTestBus(t)

	_, err := b.WaitFor(context.Background(), BackendDeployed, 100*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Contains(t, err.Error(), string(BackendDeployed))
}

func TestWaitForHonorsContextCancellation(t *testing.T) {
	b := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.WaitFor(ctx, FrontendDeployed, time.Minute, 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublishersAppendSafely(t *testing.T) {
	b := newTestBus(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(Event{Type: ProgressUpdate, Source: "scheduler"})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, b.History(ProgressUpdate), 400)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	b := New(log.New(io.Discard, "", 0))

	var mu sync.Mutex
	count := 0
	b.Subscribe(ProgressUpdate, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: ProgressUpdate, Source: "scheduler"})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, count)

	// Publishing after Close is ignored, not a panic.
	b.Publish(Event{Type: ProgressUpdate, Source: "scheduler"})
	assert.Len(t, b.History(ProgressUpdate), 100)
}

func TestHandlerPublishDuringCloseIsDelivered(t *testing.T) {
	b := New(log.New(io.Discard, "", 0))

	followup := make(chan struct{})
	b.Subscribe(StageCompleted, func(Event) {
		b.Publish(Event{Type: PipelineComplete, Source: "scheduler"})
	})
	b.Subscribe(PipelineComplete, func(Event) { close(followup) })

	b.Publish(Event{Type: StageCompleted, Source: "frontend"})
	b.Close()

	select {
	case <-followup:
	case <-time.After(2 * time.Second):
		t.Fatal("event published during drain was not delivered")
	}
	assert.Len(t, b.History(PipelineComplete), 1)
}

func TestPublishersRacingCloseNeverRecordUndelivered(t *testing.T) {
	// Every event that lands in the history must reach handlers, even when
	// publishers are still running as Close drains the queue.
	b := New(log.New(io.Discard, "", 0))

	var mu sync.Mutex
	delivered := 0
	b.Subscribe(ProgressUpdate, func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(Event{Type: ProgressUpdate, Source: "scheduler"})
			}
		}()
	}

	time.Sleep(time.Millisecond)
	b.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(b.History(ProgressUpdate)), delivered)
}
