// Package web exposes the migration pipeline over HTTP: a small control
// surface that launches a run, reports its status, and streams its event log
// to the browser as Server-Sent Events.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/agents"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
	"github.com/sanathmahesh/cloudify/internal/report"
	"github.com/sanathmahesh/cloudify/internal/shell"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// defaultModel answers any advisor role the config leaves unmapped.
const defaultModel = "claude-sonnet-4-5"

// streamPoll is how often an open stream checks the run history for new
// events.
const streamPoll = 200 * time.Millisecond

// Server launches migration runs on request and follows them over HTTP.
// Each run gets its own event bus and run state; finished runs stay
// queryable for the lifetime of the server.
type Server struct {
	cfg    *config.Config
	logger *log.Logger
	http   *http.Server

	mu   sync.Mutex
	runs map[string]*run
}

// run is one in-flight or finished migration.
type run struct {
	id     string
	events *bus.Bus
	state  *state.RunState
	cancel context.CancelFunc

	done chan struct{} // closed after err is set and events is drained
	err  error
}

// NewServer creates a Server that launches runs from cfg. A nil logger falls
// back to a stderr logger.
func NewServer(cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "web: ", log.LstdFlags)
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*run),
	}
}

// Start creates an HTTP server, registers routes, and begins serving.
// It returns immediately after starting the server in a background goroutine.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go s.http.ListenAndServe()

	return nil
}

// Handler returns the route table. Exposed so tests can drive the surface
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/migrations", s.handleStart)
	mux.HandleFunc("GET /api/migrations/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/migrations/{id}/stream", s.handleStream)

	return mux
}

// Stop cancels any in-flight runs and gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type startRequest struct {
	DryRun bool `json:"dry_run"`
}

type startResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleStart launches a migration in the background and returns its ID.
// The body is optional; an empty one means the server's configured defaults.
func (s *Server) handleStart(w http.ResponseWriter, req *http.Request) {
	var body startRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	r := s.launch(body.DryRun)
	writeJSON(w, startResponse{ID: r.id})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	r, ok := s.lookup(req.PathValue("id"))
	if !ok {
		http.Error(w, "migration not found", http.StatusNotFound)
		return
	}

	resp := statusResponse{
		ID:     r.id,
		Status: report.Build(r.state.Snapshot(), nil).OverallStatus,
	}
	select {
	case <-r.done:
		if r.err != nil {
			resp.Error = r.err.Error()
		}
	default:
		resp.Running = true
	}

	writeJSON(w, resp)
}

// handleStream replays the run's event history and then follows it live, one
// SSE frame per event, until the run finishes or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	r, ok := s.lookup(req.PathValue("id"))
	if !ok {
		http.Error(w, "migration not found", http.StatusNotFound)
		return
	}

	sw := NewSSEWriter(w)
	sw.Init()

	ticker := time.NewTicker(streamPoll)
	defer ticker.Stop()

	next := 0
	for {
		history := r.events.History()
		for ; next < len(history); next++ {
			if err := sw.WriteEvent(history[next]); err != nil {
				return
			}
		}

		select {
		case <-req.Context().Done():
			return
		case <-r.done:
			// One final sweep for events that landed during the drain.
			history := r.events.History()
			for ; next < len(history); next++ {
				if err := sw.WriteEvent(history[next]); err != nil {
					return
				}
			}
			return
		case <-ticker.C:
		}
	}
}

// launch registers a new run and starts executing it in the background.
func (s *Server) launch(dryRun bool) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     uuid.NewString(),
		events: bus.New(s.logger),
		state:  state.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	go func() {
		defer cancel()
		r.err = s.execute(ctx, r, dryRun)
		r.events.Close()
		close(r.done)
	}()

	return r
}

// execute assembles the per-run dependencies and drives the scheduler. The
// web surface never prompts, so every run executes in automated mode.
func (s *Server) execute(ctx context.Context, r *run, dryRun bool) error {
	cfg := *s.cfg
	cfg.Execution.Mode = config.ModeAutomated
	if dryRun {
		cfg.Execution.DryRun = true
	}

	var sh shell.Runner
	if cfg.Execution.DryRun {
		sh = shell.NewDryRunner()
	} else {
		sh = shell.NewExecRunner(s.logger)
	}

	adv := advisor.New(
		cfg.Advisor.BaseURL,
		os.Getenv(cfg.Advisor.APIKeyEnv),
		advisor.NewModelMap(cfg.Advisor.Models, defaultModel),
		advisor.WithMaxTokens(cfg.Advisor.MaxTokens),
	)

	deps := agents.Deps{
		Config:  &cfg,
		State:   r.state,
		Events:  r.events,
		Shell:   sh,
		Advisor: adv,
		Logger:  s.logger,
	}

	scheduler := orchestrator.NewScheduler(r.state, r.events, s.logger)
	_, err := scheduler.Execute(ctx, agents.Pipeline(deps))
	return err
}

func (s *Server) lookup(id string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
