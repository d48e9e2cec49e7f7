package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
)

var _ orchestrator.Stage = (*FrontendStage)(nil)

// FrontendStage builds the React app against the deployed backend URL and
// publishes it to Firebase Hosting. In parallel deployment mode it blocks,
// bounded, until the backend stage announces its service URL.
type FrontendStage struct {
	deps Deps
}

func NewFrontendStage(deps Deps) *FrontendStage {
	return &FrontendStage{deps: deps}
}

func (s *FrontendStage) Name() string { return StageFrontend }

func (s *FrontendStage) Execute(ctx context.Context) (*orchestrator.Outcome, error) {
	cfg := s.deps.Config
	logger := s.deps.logger()
	frontendDir := cfg.Source.FrontendAbs()

	backendURL, err := s.backendURL(ctx)
	if err != nil {
		return nil, err
	}

	outcome := &orchestrator.Outcome{Output: map[string]any{"backend_url": backendURL}}

	if warn := s.checkNodeVersion(ctx); warn != "" {
		outcome.Warnings = append(outcome.Warnings, warn)
	}

	if !cfg.Execution.DryRun {
		if err := s.writeEnvFile(frontendDir, backendURL); err != nil {
			return nil, err
		}
	}
	outcome.Output["env_configured"] = true

	install := "npm install"
	if fileExists(filepath.Join(frontendDir, "package-lock.json")) {
		install = "npm ci"
	}
	logger.Printf("frontend: installing dependencies (%s)", install)
	if res := s.deps.run(ctx, install, withDir(frontendDir)...); !res.Success() {
		return nil, cmdError(StageFrontend, install, res)
	}

	logger.Printf("frontend: building production bundle")
	if res := s.deps.run(ctx, cfg.Frontend.BuildCommand, withDir(frontendDir)...); !res.Success() {
		return nil, cmdError(StageFrontend, "build", res)
	}
	outcome.Output["build_completed"] = true

	buildDir := s.buildDir(frontendDir)
	if !cfg.Execution.DryRun {
		if err := s.ensureFirebaseConfig(frontendDir, buildDir); err != nil {
			return nil, err
		}
	}

	hostingURL, err := s.deploy(ctx, frontendDir)
	if err != nil {
		return nil, err
	}
	outcome.Output["hosting_url"] = hostingURL

	s.deps.State.SetArtifact(ArtifactFrontendURL, hostingURL)
	s.deps.Events.Publish(bus.Event{
		Type:   bus.FrontendDeployed,
		Source: StageFrontend,
		Payload: map[string]any{
			"hosting_url": hostingURL,
			"backend_url": backendURL,
		},
	})

	return outcome, nil
}

// backendURL obtains the Cloud Run URL. In parallel mode the backend stage is
// racing this one, so the lookup is a bounded wait on the backend-deployed
// event; in sequential mode it must already be in the history.
func (s *FrontendStage) backendURL(ctx context.Context) (string, error) {
	cfg := s.deps.Config

	var evt bus.Event
	if cfg.Execution.ParallelDeployments {
		var err error
		evt, err = s.deps.Events.WaitFor(ctx, bus.BackendDeployed,
			cfg.Execution.WaitTimeout(), cfg.Execution.WaitPoll())
		if err != nil {
			return "", fmt.Errorf("frontend: backend URL unavailable: %w", err)
		}
	} else {
		var ok bool
		evt, ok = s.deps.Events.Latest(bus.BackendDeployed)
		if !ok {
			return "", fmt.Errorf("frontend: backend not deployed, no %s event seen", bus.BackendDeployed)
		}
	}

	url, _ := evt.Payload["service_url"].(string)
	if url == "" {
		return "", fmt.Errorf("frontend: %s event carries no service URL", bus.BackendDeployed)
	}
	return url, nil
}

// checkNodeVersion compares the local Node major version against the
// configured one. A mismatch is a warning, not an error: the build may still
// work, but it ran on a runtime the app was not tested against.
func (s *FrontendStage) checkNodeVersion(ctx context.Context) string {
	want := s.deps.Config.Frontend.NodeVersion
	if want == "" || s.deps.Config.Execution.DryRun {
		return ""
	}
	res := s.deps.run(ctx, "node --version")
	if !res.Success() {
		return fmt.Sprintf("node not found on PATH, the frontend build expects Node.js %s", want)
	}
	got := strings.TrimPrefix(strings.TrimSpace(res.Stdout), "v")
	if got == "" {
		return ""
	}
	if major, _, _ := strings.Cut(got, "."); major != want {
		return fmt.Sprintf("local Node.js is v%s, config expects %s", got, want)
	}
	return ""
}

func (s *FrontendStage) writeEnvFile(frontendDir, backendURL string) error {
	var sb strings.Builder
	sb.WriteString("# Generated by cloudify\n")
	fmt.Fprintf(&sb, "VITE_API_URL=%s\n", backendURL)
	fmt.Fprintf(&sb, "VITE_BACKEND_URL=%s\n", backendURL)
	fmt.Fprintf(&sb, "REACT_APP_API_URL=%s\n", backendURL)
	for k, v := range s.deps.Config.Frontend.EnvVars {
		fmt.Fprintf(&sb, "%s=%s\n", k, v)
	}

	path := filepath.Join(frontendDir, ".env.production")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("frontend: write %s: %w", path, err)
	}
	return nil
}

// buildDir prefers the directory the build actually produced (Vite's dist,
// CRA's build) over the configured default.
func (s *FrontendStage) buildDir(frontendDir string) string {
	for _, name := range []string{"dist", "build"} {
		if info, err := os.Stat(filepath.Join(frontendDir, name)); err == nil && info.IsDir() {
			return name
		}
	}
	return s.deps.Config.Frontend.BuildOutput
}

func (s *FrontendStage) ensureFirebaseConfig(frontendDir, buildDir string) error {
	firebaseJSON := filepath.Join(frontendDir, "firebase.json")
	if !fileExists(firebaseJSON) {
		hosting := map[string]any{
			"public": buildDir,
			"ignore": []string{"firebase.json", "**/.*", "**/node_modules/**"},
			"rewrites": []map[string]string{
				{"source": "**", "destination": "/index.html"},
			},
		}
		// A named site pins the deploy to that Hosting site instead of the
		// project default.
		if site := s.deps.Config.Frontend.SiteName; site != "" {
			hosting["site"] = site
		}
		data, err := json.MarshalIndent(map[string]any{"hosting": hosting}, "", "  ")
		if err != nil {
			return fmt.Errorf("frontend: marshal firebase.json: %w", err)
		}
		if err := os.WriteFile(firebaseJSON, data, 0o644); err != nil {
			return fmt.Errorf("frontend: write firebase.json: %w", err)
		}
	}

	firebaserc := filepath.Join(frontendDir, ".firebaserc")
	if !fileExists(firebaserc) {
		data, err := json.MarshalIndent(map[string]any{
			"projects": map[string]string{"default": s.deps.Config.GCP.ProjectID},
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("frontend: marshal .firebaserc: %w", err)
		}
		if err := os.WriteFile(firebaserc, data, 0o644); err != nil {
			return fmt.Errorf("frontend: write .firebaserc: %w", err)
		}
	}
	return nil
}

func (s *FrontendStage) deploy(ctx context.Context, frontendDir string) (string, error) {
	projectID := s.deps.Config.GCP.ProjectID

	res := s.deps.run(ctx,
		fmt.Sprintf("firebase deploy --only hosting --project=%s --non-interactive", projectID),
		withDir(frontendDir)...)
	if !res.Success() {
		return "", cmdError(StageFrontend, "firebase deploy", res)
	}

	host := projectID
	if site := s.deps.Config.Frontend.SiteName; site != "" {
		host = site
	}
	hostingURL := fmt.Sprintf("https://%s.web.app", host)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.Contains(line, "Hosting URL:") {
			if _, after, ok := strings.Cut(line, "Hosting URL:"); ok {
				hostingURL = strings.TrimSpace(after)
			}
			break
		}
	}
	return hostingURL, nil
}
