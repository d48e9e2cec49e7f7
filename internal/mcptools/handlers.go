// Package mcptools exposes the migration analysis toolkit over the Model
// Context Protocol so external agents can drive the same scans the pipeline
// runs internally.
package mcptools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanathmahesh/cloudify/internal/analyzer"
	"github.com/sanathmahesh/cloudify/internal/shell"
)

// MigrationService holds the shell runner used by the cloud-facing handlers.
type MigrationService struct {
	shell shell.Runner
}

// NewMigrationService creates a MigrationService backed by the given runner.
func NewMigrationService(sh shell.Runner) *MigrationService {
	return &MigrationService{shell: sh}
}

// ScanBackend analyzes a Java backend directory: build tool, versions,
// dependencies, Spring properties, and the controller endpoint surface.
func (s *MigrationService) ScanBackend(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ScanBackendInput,
) (*mcp.CallToolResult, ScanBackendOutput, error) {
	if err := requireDir("backendPath", input.BackendPath); err != nil {
		return nil, ScanBackendOutput{}, err
	}

	backend, err := analyzer.AnalyzeBackend(input.BackendPath)
	if err != nil {
		return nil, ScanBackendOutput{}, err
	}
	return nil, ScanBackendOutput{Backend: *backend}, nil
}

// DetectDatabase classifies a datasource, either from an explicit JDBC URL or
// from the backend's Spring configuration.
func (s *MigrationService) DetectDatabase(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input DetectDatabaseInput,
) (*mcp.CallToolResult, DetectDatabaseOutput, error) {
	url := input.DatasourceURL
	if url == "" {
		if err := requireDir("backendPath", input.BackendPath); err != nil {
			return nil, DetectDatabaseOutput{}, err
		}
		backend, err := analyzer.AnalyzeBackend(input.BackendPath)
		if err != nil {
			return nil, DetectDatabaseOutput{}, err
		}
		url = backend.Properties["spring.datasource.url"]
	}
	return nil, DetectDatabaseOutput{Database: analyzer.DetectDatabase(url)}, nil
}

// ExtractAPIEndpoints scans controller annotations and returns the REST
// routes the backend serves.
func (s *MigrationService) ExtractAPIEndpoints(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ExtractEndpointsInput,
) (*mcp.CallToolResult, ExtractEndpointsOutput, error) {
	if err := requireDir("backendPath", input.BackendPath); err != nil {
		return nil, ExtractEndpointsOutput{}, err
	}

	endpoints, err := analyzer.ScanEndpoints(input.BackendPath)
	if err != nil {
		return nil, ExtractEndpointsOutput{}, err
	}
	return nil, ExtractEndpointsOutput{Endpoints: endpoints, Total: len(endpoints)}, nil
}

// AnalyzeFrontend scans a JS frontend: package metadata and the hardcoded API
// base URLs its sources call.
func (s *MigrationService) AnalyzeFrontend(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AnalyzeFrontendInput,
) (*mcp.CallToolResult, AnalyzeFrontendOutput, error) {
	if err := requireDir("frontendPath", input.FrontendPath); err != nil {
		return nil, AnalyzeFrontendOutput{}, err
	}

	frontend, err := analyzer.AnalyzeFrontend(ctx, input.FrontendPath)
	if err != nil {
		return nil, AnalyzeFrontendOutput{}, err
	}
	return nil, AnalyzeFrontendOutput{Frontend: *frontend}, nil
}

// GenerateDockerfile writes provided Dockerfile content into the backend
// directory.
func (s *MigrationService) GenerateDockerfile(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input GenerateDockerfileInput,
) (*mcp.CallToolResult, GenerateDockerfileOutput, error) {
	if err := requireDir("backendPath", input.BackendPath); err != nil {
		return nil, GenerateDockerfileOutput{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, GenerateDockerfileOutput{}, fmt.Errorf("content is required")
	}

	path := filepath.Join(input.BackendPath, "Dockerfile")
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return nil, GenerateDockerfileOutput{}, fmt.Errorf("write Dockerfile: %w", err)
	}
	return nil, GenerateDockerfileOutput{Path: path}, nil
}

// CheckCloudAuth reports whether the gcloud and firebase CLIs are available
// and which gcloud account is active.
func (s *MigrationService) CheckCloudAuth(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ CheckCloudAuthInput,
) (*mcp.CallToolResult, CheckCloudAuthOutput, error) {
	out := CheckCloudAuthOutput{}

	if res := s.shell.Run(ctx, "gcloud --version"); res.Success() {
		out.GcloudInstalled = true
		auth := s.shell.Run(ctx, `gcloud auth list --filter=status:ACTIVE --format="value(account)"`)
		if auth.Success() {
			out.ActiveAccount = strings.TrimSpace(auth.Stdout)
		}
	}
	if res := s.shell.Run(ctx, "firebase --version"); res.Success() {
		out.FirebaseInstalled = true
	}
	return nil, out, nil
}

func requireDir(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s is required", field)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %s", field, path)
	}
	return nil
}
