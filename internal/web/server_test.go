package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// testConfig builds a migratable source tree in a temp dir. The advisor URL
// points at a closed port, so advisor calls fail fast and degrade to
// warnings.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "backend"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "frontend"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "backend", "pom.xml"),
		[]byte(`<?xml version="1.0"?>
<project>
	<properties><java.version>17</java.version></properties>
</project>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "frontend", "package.json"),
		[]byte(`{"name": "todo-ui", "dependencies": {"react": "^18.0.0"}}`), 0o644))

	cfg := config.Default()
	cfg.Source.RootPath = root
	cfg.GCP.ProjectID = "demo-project"
	cfg.Advisor.BaseURL = "http://127.0.0.1:1"
	cfg.Execution.ParallelDeployments = false
	return &cfg
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(testConfig(t), log.New(io.Discard, "", 0))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(context.Background())
	})
	return s, ts
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusUnknownMigration(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/migrations/no-such-run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/migrations/no-such-run/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamReplaysHistoryAndFollows(t *testing.T) {
	s, ts := testServer(t)

	events := bus.New(log.New(io.Discard, "", 0))
	r := &run{
		id:     "run-1",
		events: events,
		state:  state.New(),
		cancel: func() {},
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	// Two events before the client connects: these must be replayed.
	events.Publish(bus.Event{Type: bus.StageStarted, Source: "analyze"})
	events.Publish(bus.Event{Type: bus.StageCompleted, Source: "analyze"})

	resp, err := http.Get(ts.URL + "/api/migrations/run-1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	// A third event while the stream is open, then the run finishes.
	events.Publish(bus.Event{Type: bus.PipelineComplete, Source: "scheduler"})
	events.Close()
	close(r.done)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	got := decodeFrames(t, string(body))
	require.Len(t, got, 3)
	assert.Equal(t, bus.StageStarted, got[0].Type)
	assert.Equal(t, "analyze", got[0].Source)
	assert.Equal(t, bus.StageCompleted, got[1].Type)
	assert.Equal(t, bus.PipelineComplete, got[2].Type)
}

func TestDryRunMigrationLifecycle(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Post(ts.URL+"/api/migrations", "application/json",
		strings.NewReader(`{"dry_run": true}`))
	require.NoError(t, err)
	var started startResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.NotEmpty(t, started.ID)

	status := pollUntilDone(t, ts.URL, started.ID)
	assert.Equal(t, "success", status.Status)
	assert.Empty(t, status.Error)

	stream, err := http.Get(ts.URL + "/api/migrations/" + started.ID + "/stream")
	require.NoError(t, err)
	defer stream.Body.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	frames := decodeFrames(t, string(body))
	require.NotEmpty(t, frames)

	types := make(map[bus.EventType]bool)
	for _, evt := range frames {
		types[evt.Type] = true
	}
	assert.True(t, types[bus.StageStarted])
	assert.True(t, types[bus.StageCompleted])
	assert.True(t, types[bus.BackendDeployed])
	assert.True(t, types[bus.FrontendDeployed])
}

func TestStartRejectsMalformedBody(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Post(ts.URL+"/api/migrations", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// pollUntilDone queries the status endpoint until the run reports finished.
func pollUntilDone(t *testing.T, baseURL, id string) statusResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/api/migrations/" + id)
		require.NoError(t, err)
		var status statusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		resp.Body.Close()

		assert.Equal(t, id, status.ID)
		if !status.Running {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("migration %s did not finish in time", id)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// decodeFrames splits an SSE body into its events.
func decodeFrames(t *testing.T, body string) []bus.Event {
	t.Helper()
	var out []bus.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "frame must start with 'data: ', got: %s", frame)
		var evt bus.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &evt))
		out = append(out, evt)
	}
	return out
}
