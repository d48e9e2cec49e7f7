package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/analyzer"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
)

var _ orchestrator.Stage = (*AnalyzeStage)(nil)

// AnalyzeStage scans the source application and asks the advisor for
// migration recommendations. Everything downstream keys off its output, so
// it is the first critical stage.
type AnalyzeStage struct {
	deps Deps
}

func NewAnalyzeStage(deps Deps) *AnalyzeStage {
	return &AnalyzeStage{deps: deps}
}

func (s *AnalyzeStage) Name() string { return StageAnalyze }

func (s *AnalyzeStage) Execute(ctx context.Context) (*orchestrator.Outcome, error) {
	cfg := s.deps.Config

	scan := analyzer.New(cfg.Source.BackendAbs(), cfg.Source.FrontendAbs())
	analysis, err := scan.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	outcome := &orchestrator.Outcome{
		Output: map[string]any{
			"build_tool":     analysis.Backend.BuildTool,
			"java_version":   analysis.Backend.JavaVersion,
			"database_type":  analysis.Database.Type,
			"database_mode":  analysis.Database.Mode,
			"endpoint_count": len(analysis.Backend.Endpoints),
			"frontend_name":  analysis.Frontend.Name,
		},
	}

	recommendations, err := s.recommendations(ctx, analysis)
	if err != nil {
		// Advisory only; the scan results stand on their own.
		s.deps.logger().Printf("analyze: recommendations unavailable: %v", err)
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("migration recommendations unavailable: %v", err))
	} else {
		outcome.Output["recommendations"] = recommendations
	}

	s.deps.State.SetArtifact(ArtifactAnalysis, analysis)
	s.deps.Events.Publish(bus.Event{
		Type:   bus.AnalysisComplete,
		Source: StageAnalyze,
		Payload: map[string]any{
			"analysis":        analysis,
			"recommendations": recommendations,
		},
	})

	return outcome, nil
}

func (s *AnalyzeStage) recommendations(ctx context.Context, analysis *analyzer.Analysis) ([]string, error) {
	summary, err := json.Marshal(analysis)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Analyze the following application structure and provide migration recommendations for GCP:

%s

The migration target is Cloud Run for the backend and Firebase Hosting for the frontend.
Provide 3-5 specific, actionable recommendations for migrating this application to Google Cloud Platform.
Respond with a JSON array of strings, nothing else.`, summary)

	response, err := s.deps.Advisor.Ask(ctx, advisor.Request{
		Role:   advisor.RoleAnalysis,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	return parseRecommendations(response), nil
}
