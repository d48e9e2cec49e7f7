package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
)

var (
	_ orchestrator.Stage         = (*InfrastructureStage)(nil)
	_ orchestrator.RollbackStage = (*InfrastructureStage)(nil)
)

// requiredAPIs are the GCP services the migration depends on.
var requiredAPIs = []string{
	"run.googleapis.com",
	"artifactregistry.googleapis.com",
	"cloudbuild.googleapis.com",
	"sqladmin.googleapis.com",
	"firebase.googleapis.com",
	"firebasehosting.googleapis.com",
}

const registryRepoName = "cloudify-apps"

// InfrastructureStage provisions the GCP resources every later stage needs:
// enabled APIs, an Artifact Registry repository, Firebase availability, and
// IAM bindings for Cloud Build.
type InfrastructureStage struct {
	deps Deps
}

func NewInfrastructureStage(deps Deps) *InfrastructureStage {
	return &InfrastructureStage{deps: deps}
}

func (s *InfrastructureStage) Name() string { return StageInfrastructure }

func (s *InfrastructureStage) Execute(ctx context.Context) (*orchestrator.Outcome, error) {
	cfg := s.deps.Config
	logger := s.deps.logger()
	projectID := cfg.GCP.ProjectID
	region := cfg.GCP.Region

	if res := s.deps.run(ctx, "gcloud --version"); !res.Success() {
		return nil, fmt.Errorf("infrastructure: gcloud CLI not installed, install the Google Cloud SDK first")
	}
	if err := s.checkAuth(ctx); err != nil {
		return nil, err
	}

	if res := s.deps.run(ctx, fmt.Sprintf("gcloud config set project %s", projectID)); !res.Success() {
		return nil, cmdError(StageInfrastructure, "set project", res)
	}
	if zone := cfg.GCP.Zone; zone != "" {
		if res := s.deps.run(ctx, fmt.Sprintf("gcloud config set compute/zone %s", zone)); !res.Success() {
			return nil, cmdError(StageInfrastructure, "set zone", res)
		}
	}

	for _, api := range requiredAPIs {
		logger.Printf("infrastructure: enabling API %s", api)
		res := s.deps.run(ctx, fmt.Sprintf("gcloud services enable %s --project=%s", api, projectID))
		if !res.Success() {
			return nil, cmdError(StageInfrastructure, "enable "+api, res)
		}
	}

	registryURL, err := s.ensureRegistry(ctx, projectID, region)
	if err != nil {
		return nil, err
	}

	outcome := &orchestrator.Outcome{
		Output: map[string]any{
			"registry_url":    registryURL,
			"repository_name": registryRepoName,
			"apis_enabled":    requiredAPIs,
		},
	}

	if res := s.deps.run(ctx, "firebase --version"); !res.Success() {
		outcome.Warnings = append(outcome.Warnings,
			"Firebase CLI not installed, run: npm install -g firebase-tools")
	}
	if warn := s.configureIAM(ctx, projectID); warn != "" {
		outcome.Warnings = append(outcome.Warnings, warn)
	}

	s.deps.State.SetArtifact(ArtifactRegistryURL, registryURL)
	s.deps.Events.Publish(bus.Event{
		Type:   bus.InfraReady,
		Source: StageInfrastructure,
		Payload: map[string]any{
			"registry_url":    registryURL,
			"repository_name": registryRepoName,
			"region":          region,
		},
	})

	return outcome, nil
}

// Rollback deletes the Artifact Registry repository created above.
func (s *InfrastructureStage) Rollback(ctx context.Context) error {
	cfg := s.deps.Config
	res := s.deps.run(ctx, fmt.Sprintf(
		"gcloud artifacts repositories delete %s --location=%s --project=%s --quiet",
		registryRepoName, cfg.GCP.Region, cfg.GCP.ProjectID))
	if !res.Success() {
		return cmdError(StageInfrastructure, "delete repository", res)
	}
	return nil
}

func (s *InfrastructureStage) checkAuth(ctx context.Context) error {
	cfg := s.deps.Config

	if key := cfg.GCP.ServiceAccountKey; key != "" {
		res := s.deps.run(ctx, fmt.Sprintf("gcloud auth activate-service-account --key-file=%s", key))
		if !res.Success() {
			return cmdError(StageInfrastructure, "activate service account", res)
		}
		return nil
	}

	res := s.deps.run(ctx, `gcloud auth list --filter=status:ACTIVE --format="value(account)"`)
	if !res.Success() || strings.TrimSpace(res.Stdout) == "" {
		return fmt.Errorf("infrastructure: not authenticated with gcloud, run 'gcloud auth login' before migrating")
	}
	return nil
}

func (s *InfrastructureStage) ensureRegistry(ctx context.Context, projectID, region string) (string, error) {
	describe := fmt.Sprintf(
		"gcloud artifacts repositories describe %s --location=%s --project=%s",
		registryRepoName, region, projectID)
	if res := s.deps.run(ctx, describe); res.Success() {
		s.deps.logger().Printf("infrastructure: repository %q already exists", registryRepoName)
	} else {
		create := fmt.Sprintf(
			"gcloud artifacts repositories create %s --repository-format=docker --location=%s --project=%s --description='Migrated application images'",
			registryRepoName, region, projectID)
		if res := s.deps.run(ctx, create); !res.Success() {
			return "", cmdError(StageInfrastructure, "create repository", res)
		}
	}
	return fmt.Sprintf("%s-docker.pkg.dev/%s/%s", region, projectID, registryRepoName), nil
}

// configureIAM grants Cloud Run roles to the Cloud Build service account.
// Failures here degrade later deploys but are recoverable by hand, so they
// come back as a warning rather than an error.
func (s *InfrastructureStage) configureIAM(ctx context.Context, projectID string) string {
	res := s.deps.run(ctx, fmt.Sprintf(
		`gcloud projects describe %s --format="value(projectNumber)"`, projectID))
	projectNumber := strings.TrimSpace(res.Stdout)
	if !res.Success() || projectNumber == "" {
		return "could not resolve the project number, skipping IAM bindings"
	}

	serviceAccount := fmt.Sprintf("%s@cloudbuild.gserviceaccount.com", projectNumber)
	for _, role := range []string{"roles/run.admin", "roles/iam.serviceAccountUser"} {
		res := s.deps.run(ctx, fmt.Sprintf(
			"gcloud projects add-iam-policy-binding %s --member=serviceAccount:%s --role=%s",
			projectID, serviceAccount, role))
		if !res.Success() {
			return fmt.Sprintf("could not grant %s to %s", role, serviceAccount)
		}
	}
	return ""
}
