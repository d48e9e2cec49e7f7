package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/analyzer"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
)

var _ orchestrator.Stage = (*DatabaseStage)(nil)

// DatabaseStage applies the configured database strategy: keep H2 with loud
// warnings about Cloud Run's ephemeral filesystem, or provision Cloud SQL.
// The stage is non-critical; deployments proceed either way.
type DatabaseStage struct {
	deps Deps
}

func NewDatabaseStage(deps Deps) *DatabaseStage {
	return &DatabaseStage{deps: deps}
}

func (s *DatabaseStage) Name() string { return StageDatabase }

func (s *DatabaseStage) Execute(ctx context.Context) (*orchestrator.Outcome, error) {
	analysis, err := s.analysis()
	if err != nil {
		return nil, err
	}
	dbInfo := analysis.Database

	var outcome *orchestrator.Outcome
	strategy := s.deps.Config.Database.Strategy
	switch strategy {
	case config.StrategyKeepH2:
		outcome = keepH2Outcome(dbInfo)
	case config.StrategyCloudSQL:
		outcome, err = s.provisionCloudSQL(ctx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("database: unknown strategy %q", strategy)
	}

	if recs, err := s.recommendations(ctx, dbInfo, strategy); err != nil {
		s.deps.logger().Printf("database: recommendations unavailable: %v", err)
	} else if len(recs) > 0 {
		existing, _ := outcome.Output["recommendations"].([]string)
		outcome.Output["recommendations"] = append(existing, recs...)
	}

	s.deps.Events.Publish(bus.Event{
		Type:   bus.DBMigrated,
		Source: StageDatabase,
		Payload: map[string]any{
			"strategy":     strategy,
			"action_taken": outcome.Output["action_taken"],
		},
	})

	return outcome, nil
}

func (s *DatabaseStage) analysis() (*analyzer.Analysis, error) {
	value, ok := s.deps.State.Artifact(ArtifactAnalysis)
	if !ok {
		return nil, fmt.Errorf("database: analysis results not available, the analyze stage must run first")
	}
	analysis, ok := value.(*analyzer.Analysis)
	if !ok {
		return nil, fmt.Errorf("database: unexpected analysis artifact type %T", value)
	}
	return analysis, nil
}

func keepH2Outcome(dbInfo analyzer.DatabaseAnalysis) *orchestrator.Outcome {
	outcome := &orchestrator.Outcome{
		Output: map[string]any{"action_taken": "kept_h2"},
	}

	var recommendations []string
	switch dbInfo.Mode {
	case "in-memory":
		outcome.Warnings = append(outcome.Warnings,
			"H2 in-memory database will lose all data when the Cloud Run instance restarts",
			"Cloud Run instances can restart at any time, leading to data loss",
			"Strongly recommend migrating to Cloud SQL for production use")
		recommendations = append(recommendations,
			"Use Cloud SQL PostgreSQL or MySQL for data persistence",
			"Consider Cloud Firestore for document-based data")
	case "file-based":
		outcome.Warnings = append(outcome.Warnings,
			"H2 file-based database requires persistent storage",
			"Cloud Run does not support persistent disk storage, files are lost on restart",
			"Migration to Cloud SQL is strongly recommended")
		recommendations = append(recommendations,
			"Migrate to Cloud SQL for persistent storage",
			"Use Cloud Storage for file-based data if needed")
	default:
		outcome.Warnings = append(outcome.Warnings, "unknown H2 database mode detected")
	}
	recommendations = append(recommendations,
		"H2 is suitable only for development and testing, not production deployments")
	outcome.Output["recommendations"] = recommendations

	return outcome
}

func (s *DatabaseStage) provisionCloudSQL(ctx context.Context) (*orchestrator.Outcome, error) {
	cfg := s.deps.Config
	sql := cfg.Database.CloudSQL
	logger := s.deps.logger()

	logger.Printf("database: creating Cloud SQL instance %s", sql.InstanceName)
	create := fmt.Sprintf(
		"gcloud sql instances create %s --database-version=%s --tier=%s --region=%s --project=%s",
		sql.InstanceName, sql.DatabaseVersion, sql.Tier, cfg.GCP.Region, cfg.GCP.ProjectID)
	if res := s.deps.run(ctx, create); !res.Success() {
		if strings.Contains(res.Stderr, "already exists") {
			logger.Printf("database: instance %q already exists", sql.InstanceName)
		} else {
			return nil, cmdError(StageDatabase, "create Cloud SQL instance", res)
		}
	}

	dbCreate := fmt.Sprintf(
		"gcloud sql databases create %s --instance=%s --project=%s",
		sql.DatabaseName, sql.InstanceName, cfg.GCP.ProjectID)
	if res := s.deps.run(ctx, dbCreate); !res.Success() && !strings.Contains(res.Stderr, "already exists") {
		return nil, cmdError(StageDatabase, "create database", res)
	}

	describe := fmt.Sprintf(
		`gcloud sql instances describe %s --project=%s --format="value(connectionName)"`,
		sql.InstanceName, cfg.GCP.ProjectID)
	connectionName := ""
	if res := s.deps.run(ctx, describe); res.Success() {
		connectionName = strings.TrimSpace(res.Stdout)
	}

	return &orchestrator.Outcome{
		Output: map[string]any{
			"action_taken": "migrated_to_cloud_sql",
			"cloud_sql": map[string]any{
				"instance_name":    sql.InstanceName,
				"database_name":    sql.DatabaseName,
				"connection_name":  connectionName,
				"tier":             sql.Tier,
				"database_version": sql.DatabaseVersion,
			},
			"recommendations": []string{
				"Update application.properties with the Cloud SQL connection settings",
				"Configure the Cloud SQL Auth Proxy for local development",
				"Set up automated backups for the instance",
			},
		},
		Warnings: []string{
			"database credentials must be configured as environment variables on the Cloud Run service",
		},
	}, nil
}

func (s *DatabaseStage) recommendations(ctx context.Context, dbInfo analyzer.DatabaseAnalysis, strategy string) ([]string, error) {
	prompt := fmt.Sprintf(`Given the following database configuration and migration strategy, provide 2-3 specific recommendations:

Database type: %s
Mode: %s
Datasource URL: %s
Strategy: %s
Target platform: Cloud Run (stateless containers)

Respond with a JSON array of strings, nothing else.`,
		dbInfo.Type, dbInfo.Mode, dbInfo.DatasourceURL, strategy)

	response, err := s.deps.Advisor.Ask(ctx, advisor.Request{
		Role:   advisor.RoleDatabase,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	return parseRecommendations(response), nil
}
