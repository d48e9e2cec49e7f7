// Package report aggregates stage results into the final migration report:
// a JSON document written next to the run and a terminal summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sanathmahesh/cloudify/internal/orchestrator"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// FileName is the JSON report written into the report directory.
const FileName = "migration_report.json"

// maxOutputValue bounds how much of any single stage output value the report
// carries; full command output lives in the logs, not here.
const maxOutputValue = 500

// StageReport is one stage's entry in the final report.
type StageReport struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Report is the complete migration report.
type Report struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	OverallStatus string        `json:"overall_status"`
	DurationMS    int64         `json:"duration_ms"`
	BackendURL    string        `json:"backend_url,omitempty"`
	FrontendURL   string        `json:"frontend_url,omitempty"`
	Stages        []StageReport `json:"stages"`
}

// Build assembles a Report from the run state snapshot and the scheduler's
// result map. Overall status is "success" only when every executed stage
// succeeded; stages that never ran are flagged "not run" and do not count
// against success. A snapshot taken mid-run reports still-running stages
// under a "partial" overall status rather than a failure.
func Build(snapshot state.Snapshot, results map[string]orchestrator.StageResult) *Report {
	rpt := &Report{
		GeneratedAt:   time.Now().UTC(),
		OverallStatus: "success",
		DurationMS:    snapshot.Duration().Milliseconds(),
	}

	for _, rec := range snapshot.Stages {
		sr := StageReport{
			Name:       rec.Name,
			Status:     string(rec.Status),
			DurationMS: rec.Duration().Milliseconds(),
			Output:     truncateOutput(rec.Output),
			Error:      rec.Error,
		}
		if res, ok := results[rec.Name]; ok {
			sr.Warnings = res.Warnings
		}

		switch rec.Status {
		case state.StatusSucceeded:
		case state.StatusRunning:
			// A mid-run snapshot: the stage is in flight, not failed.
			if rpt.OverallStatus == "success" {
				rpt.OverallStatus = "partial"
			}
		case state.StatusPending, state.StatusSkipped:
			sr.Status = "not run"
			if rpt.OverallStatus == "success" {
				rpt.OverallStatus = "partial"
			}
		default:
			rpt.OverallStatus = "failed"
		}

		rpt.Stages = append(rpt.Stages, sr)
	}

	if url, ok := snapshot.Artifacts["backend_url"].(string); ok {
		rpt.BackendURL = url
	}
	if url, ok := snapshot.Artifacts["frontend_url"].(string); ok {
		rpt.FrontendURL = url
	}

	return rpt
}

// WriteJSON writes the report into dir and returns the file path.
func (r *Report) WriteJSON(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}

// Render returns the terminal summary.
func (r *Report) Render() string {
	var sb strings.Builder

	sb.WriteString("Migration Report\n")
	sb.WriteString("================\n")
	fmt.Fprintf(&sb, "Overall: %s (%.1fs)\n\n", r.OverallStatus, float64(r.DurationMS)/1000)

	for _, stage := range r.Stages {
		fmt.Fprintf(&sb, "  %s %s (%.1fs)\n", glyph(stage.Status), stage.Name,
			float64(stage.DurationMS)/1000)
		if stage.Error != "" {
			fmt.Fprintf(&sb, "      error: %s\n", stage.Error)
		}
		for _, w := range stage.Warnings {
			fmt.Fprintf(&sb, "      warning: %s\n", w)
		}
	}

	if r.BackendURL != "" || r.FrontendURL != "" {
		sb.WriteString("\n")
		if r.BackendURL != "" {
			fmt.Fprintf(&sb, "  Backend:  %s\n", r.BackendURL)
		}
		if r.FrontendURL != "" {
			fmt.Fprintf(&sb, "  Frontend: %s\n", r.FrontendURL)
		}
	}

	return sb.String()
}

func glyph(status string) string {
	switch status {
	case string(state.StatusSucceeded):
		return "✓"
	case string(state.StatusFailed), string(state.StatusRolledBack):
		return "✗"
	case string(state.StatusRunning):
		return "●"
	default: // not run
		return "○"
	}
}

// truncateOutput caps long string values and drops non-serializable nesting
// beyond what json handles, keeping the report readable.
func truncateOutput(output map[string]any) map[string]any {
	if len(output) == 0 {
		return nil
	}
	out := make(map[string]any, len(output))
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := output[k].(string); ok && len(s) > maxOutputValue {
			out[k] = s[:maxOutputValue] + "… (truncated)"
			continue
		}
		out[k] = output[k]
	}
	return out
}
