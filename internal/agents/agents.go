// Package agents holds the five migration stages. Each stage implements the
// orchestrator Stage contract, reads upstream results from the event channel
// and the artifact store, and talks to GCP exclusively through the shell
// runner so dry runs and tests can substitute a recorder.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
	"github.com/sanathmahesh/cloudify/internal/shell"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// Stage names, also the registration keys in the run state.
const (
	StageAnalyze        = "analyze"
	StageInfrastructure = "infrastructure"
	StageDatabase       = "database"
	StageBackend        = "backend"
	StageFrontend       = "frontend"
)

// Artifact keys shared between stages.
const (
	ArtifactAnalysis    = "analysis"
	ArtifactRegistryURL = "registry_url"
	ArtifactBackendURL  = "backend_url"
	ArtifactFrontendURL = "frontend_url"
)

// Deps is the capability set injected into every stage.
type Deps struct {
	Config  *config.Config
	State   *state.RunState
	Events  *bus.Bus
	Shell   shell.Runner
	Advisor advisor.Advisor
	Logger  *log.Logger
}

func (d Deps) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// run executes a shell command with the configured per-command timeout. A
// non-positive timeout leaves the shell package's default in place.
func (d Deps) run(ctx context.Context, command string, opts ...shell.Option) shell.Result {
	if t := d.Config.Execution.CommandTimeout(); t > 0 {
		opts = append([]shell.Option{shell.WithTimeout(t)}, opts...)
	}
	return d.Shell.Run(ctx, command, opts...)
}

// Pipeline assembles the dependency-ordered stage groups. The deployment
// tier's shape follows execution.parallel_deployments: when true, backend and
// frontend share a tier and the frontend waits on the backend-deployed event;
// when false they run as separate sequential tiers.
func Pipeline(deps Deps) []orchestrator.Group {
	retry := orchestrator.RetryPolicy{
		MaxAttempts: deps.Config.Execution.MaxRetries,
		BaseDelay:   deps.Config.Execution.RetryBase(),
	}

	analyze := orchestrator.Spec{Stage: NewAnalyzeStage(deps), Critical: true, Retry: retry}
	infra := orchestrator.Spec{Stage: NewInfrastructureStage(deps), Critical: true, Retry: retry}
	database := orchestrator.Spec{Stage: NewDatabaseStage(deps), Critical: false, Retry: retry}
	backend := orchestrator.Spec{Stage: NewBackendStage(deps), Critical: true, Retry: retry}
	frontend := orchestrator.Spec{Stage: NewFrontendStage(deps), Critical: true, Retry: retry}

	groups := []orchestrator.Group{
		{analyze},
		{infra},
		{database},
	}
	if deps.Config.Execution.ParallelDeployments {
		groups = append(groups, orchestrator.Group{backend, frontend})
	} else {
		groups = append(groups, orchestrator.Group{backend}, orchestrator.Group{frontend})
	}
	return groups
}

// parseRecommendations accepts either a JSON string array or free-form lines
// from the advisor and returns at most five entries.
func parseRecommendations(response string) []string {
	response = stripCodeFence(response)

	var recs []string
	if err := json.Unmarshal([]byte(response), &recs); err == nil {
		if len(recs) > 5 {
			recs = recs[:5]
		}
		return recs
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "]") {
			continue
		}
		recs = append(recs, line)
		if len(recs) == 5 {
			break
		}
	}
	return recs
}

// stripCodeFence removes a surrounding markdown code fence, with or without a
// language tag, from LLM output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line.
		if !strings.ContainsAny(s[:idx], " \t{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func withDir(dir string) []shell.Option {
	return []shell.Option{shell.WithDir(dir)}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// cmdError turns a failed shell result into a stage error with the stderr
// tail preserved.
func cmdError(stageName, action string, res shell.Result) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return fmt.Errorf("%s: %s: %s", stageName, action, msg)
}
