package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/analyzer"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
)

var (
	_ orchestrator.Stage         = (*BackendStage)(nil)
	_ orchestrator.RollbackStage = (*BackendStage)(nil)
)

// BackendStage containerizes the Spring Boot backend and deploys it to Cloud
// Run: Dockerfile generation, docker build and push to the Artifact Registry
// repository the infrastructure stage created, then gcloud run deploy.
type BackendStage struct {
	deps Deps
}

func NewBackendStage(deps Deps) *BackendStage {
	return &BackendStage{deps: deps}
}

func (s *BackendStage) Name() string { return StageBackend }

func (s *BackendStage) Execute(ctx context.Context) (*orchestrator.Outcome, error) {
	cfg := s.deps.Config
	logger := s.deps.logger()
	backendDir := cfg.Source.BackendAbs()

	infra, ok := s.deps.Events.Latest(bus.InfraReady)
	if !ok {
		return nil, fmt.Errorf("backend: infrastructure not provisioned, no %s event seen", bus.InfraReady)
	}
	registryURL, _ := infra.Payload["registry_url"].(string)
	if registryURL == "" {
		return nil, fmt.Errorf("backend: %s event carries no registry URL", bus.InfraReady)
	}

	outcome := &orchestrator.Outcome{Output: map[string]any{}}

	warn, err := s.writeDockerfile(ctx, backendDir)
	if err != nil {
		return nil, err
	}
	if warn != "" {
		outcome.Warnings = append(outcome.Warnings, warn)
	}
	outcome.Output["dockerfile_created"] = true

	imageTag := fmt.Sprintf("%s/%s:latest", registryURL, cfg.Backend.ServiceName)
	logger.Printf("backend: building image %s", imageTag)
	build := fmt.Sprintf("docker build --platform linux/amd64 -t %s %s", imageTag, backendDir)
	if res := s.deps.run(ctx, build); !res.Success() {
		return nil, cmdError(StageBackend, "docker build", res)
	}
	outcome.Output["image_built"] = true

	s.deps.run(ctx, fmt.Sprintf("gcloud auth configure-docker %s-docker.pkg.dev --quiet", cfg.GCP.Region))
	if res := s.deps.run(ctx, "docker push "+imageTag); !res.Success() {
		return nil, cmdError(StageBackend, "docker push", res)
	}
	outcome.Output["image_pushed"] = true

	if err := s.deploy(ctx, imageTag); err != nil {
		return nil, err
	}

	serviceURL := s.serviceURL(ctx)
	outcome.Output["image_tag"] = imageTag
	outcome.Output["service_url"] = serviceURL

	s.deps.State.SetArtifact(ArtifactBackendURL, serviceURL)
	s.deps.Events.Publish(bus.Event{
		Type:   bus.BackendDeployed,
		Source: StageBackend,
		Payload: map[string]any{
			"service_url": serviceURL,
			"image_tag":   imageTag,
		},
	})

	return outcome, nil
}

// Rollback removes the Cloud Run service so a failed run leaves no billable
// resources behind.
func (s *BackendStage) Rollback(ctx context.Context) error {
	cfg := s.deps.Config
	res := s.deps.run(ctx, fmt.Sprintf(
		"gcloud run services delete %s --region=%s --project=%s --quiet",
		cfg.Backend.ServiceName, cfg.GCP.Region, cfg.GCP.ProjectID))
	if !res.Success() {
		return cmdError(StageBackend, "delete service", res)
	}
	return nil
}

// writeDockerfile asks the advisor for an optimized Dockerfile and falls back
// to a deterministic multi-stage template when the advisor is unavailable.
// Returns a warning string when the fallback was used.
func (s *BackendStage) writeDockerfile(ctx context.Context, backendDir string) (string, error) {
	cfg := s.deps.Config

	content, err := s.generateDockerfile(ctx)
	warning := ""
	if err != nil || !strings.Contains(content, "FROM ") {
		s.deps.logger().Printf("backend: advisor dockerfile unavailable, using template: %v", err)
		content = fallbackDockerfile(cfg.Backend.JavaVersion, cfg.Backend.Port, cfg.Backend.JVMOpts)
		warning = "used the built-in Dockerfile template, review it before production use"
	}

	if cfg.Execution.DryRun {
		return warning, nil
	}
	path := filepath.Join(backendDir, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("backend: write Dockerfile: %w", err)
	}
	return warning, nil
}

func (s *BackendStage) generateDockerfile(ctx context.Context) (string, error) {
	cfg := s.deps.Config

	buildTool := "maven"
	if value, ok := s.deps.State.Artifact(ArtifactAnalysis); ok {
		if analysis, ok := value.(*analyzer.Analysis); ok && analysis.Backend.BuildTool != "" {
			buildTool = analysis.Backend.BuildTool
		}
	}

	prompt := fmt.Sprintf(`Generate an optimized Dockerfile for a Spring Boot application with the following characteristics:
- Build tool: %s
- Java version: %s
- Container port: %d
- JVM options: %s

Requirements:
1. Multi-stage build to minimize image size
2. Appropriate base images for build and runtime
3. Non-root runtime user
4. Suitable for Cloud Run (listen on the port above)

Provide ONLY the Dockerfile content, no explanations.`,
		buildTool, cfg.Backend.JavaVersion, cfg.Backend.Port, cfg.Backend.JVMOpts)

	response, err := s.deps.Advisor.Ask(ctx, advisor.Request{
		Role:   advisor.RoleDeployment,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return stripCodeFence(response), nil
}

func (s *BackendStage) deploy(ctx context.Context, imageTag string) error {
	cfg := s.deps.Config
	backend := cfg.Backend

	parts := []string{
		"gcloud run deploy", backend.ServiceName,
		"--image=" + imageTag,
		"--region=" + cfg.GCP.Region,
		"--project=" + cfg.GCP.ProjectID,
		"--platform=managed",
		fmt.Sprintf("--port=%d", backend.Port),
		"--memory=" + backend.Memory,
		"--cpu=" + backend.CPU,
		fmt.Sprintf("--min-instances=%d", backend.MinInstances),
		fmt.Sprintf("--max-instances=%d", backend.MaxInstances),
		fmt.Sprintf("--concurrency=%d", backend.Concurrency),
		"--allow-unauthenticated",
	}

	env := make([]string, 0, len(backend.EnvVars)+1)
	if backend.JVMOpts != "" {
		env = append(env, "JAVA_TOOL_OPTIONS="+backend.JVMOpts)
	}
	for k, v := range backend.EnvVars {
		env = append(env, k+"="+v)
	}
	if len(env) > 0 {
		parts = append(parts, `--set-env-vars="`+strings.Join(env, ",")+`"`)
	}

	s.deps.logger().Printf("backend: deploying %s to Cloud Run", backend.ServiceName)
	if res := s.deps.run(ctx, strings.Join(parts, " ")); !res.Success() {
		return cmdError(StageBackend, "gcloud run deploy", res)
	}
	return nil
}

// serviceURL resolves the deployed service URL, falling back to the
// conventional run.app host when gcloud gives nothing usable (dry runs).
func (s *BackendStage) serviceURL(ctx context.Context) string {
	cfg := s.deps.Config
	res := s.deps.run(ctx, fmt.Sprintf(
		`gcloud run services describe %s --region=%s --project=%s --format="value(status.url)"`,
		cfg.Backend.ServiceName, cfg.GCP.Region, cfg.GCP.ProjectID))

	url := strings.TrimSpace(res.Stdout)
	if res.Success() && strings.HasPrefix(url, "https://") {
		return url
	}
	return fmt.Sprintf("https://%s-%s.run.app", cfg.Backend.ServiceName, cfg.GCP.Region)
}

func fallbackDockerfile(javaVersion string, port int, jvmOpts string) string {
	if javaVersion == "" {
		javaVersion = "17"
	}
	return fmt.Sprintf(`FROM maven:3.9-eclipse-temurin-%[1]s AS build
WORKDIR /app
COPY pom.xml .
RUN mvn dependency:go-offline -q
COPY src ./src
RUN mvn package -DskipTests -q

FROM eclipse-temurin:%[1]s-jre
WORKDIR /app
RUN useradd -r appuser
USER appuser
COPY --from=build /app/target/*.jar app.jar
ENV JAVA_TOOL_OPTIONS="%[3]s"
EXPOSE %[2]d
ENTRYPOINT ["java", "-jar", "app.jar"]
`, javaVersion, port, jvmOpts)
}
