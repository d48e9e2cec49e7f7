// Package analyzer inspects the source application and produces the
// CodeAnalysis consumed by the rest of the pipeline: backend build metadata
// from the Maven/Gradle manifest, the Spring datasource configuration, the
// REST endpoint surface, and the frontend's build setup and API usage.
package analyzer

import (
	"context"
	"fmt"
	"os"
)

// Endpoint is one REST route discovered in the backend sources.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	File   string `json:"file"`
}

// BackendAnalysis describes the Java backend.
type BackendAnalysis struct {
	BuildTool         string            `json:"build_tool"` // "maven" or "gradle"
	JavaVersion       string            `json:"java_version,omitempty"`
	SpringBootVersion string            `json:"spring_boot_version,omitempty"`
	Dependencies      []string          `json:"dependencies,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	Endpoints         []Endpoint        `json:"endpoints,omitempty"`
}

// DatabaseAnalysis is derived from the backend's datasource configuration.
type DatabaseAnalysis struct {
	Type          string `json:"type"` // h2, mysql, postgresql, unknown
	Mode          string `json:"mode"` // in-memory, file-based, server, unknown
	DatasourceURL string `json:"datasource_url,omitempty"`
}

// FrontendAnalysis describes the JS frontend.
type FrontendAnalysis struct {
	Name         string            `json:"name,omitempty"`
	PackageTool  string            `json:"package_tool"` // "npm" or "yarn"
	Scripts      map[string]string `json:"scripts,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	APIBaseURLs  []string          `json:"api_base_urls,omitempty"`
}

// Analysis is the full CodeAnalysis result published by the analyze stage.
type Analysis struct {
	Backend  BackendAnalysis  `json:"backend"`
	Frontend FrontendAnalysis `json:"frontend"`
	Database DatabaseAnalysis `json:"database"`
}

// Analyzer scans a two-tier application rooted at fixed backend and frontend
// directories.
type Analyzer struct {
	backendDir  string
	frontendDir string
}

// New creates an Analyzer over the given source directories.
func New(backendDir, frontendDir string) *Analyzer {
	return &Analyzer{backendDir: backendDir, frontendDir: frontendDir}
}

// Analyze runs the full scan. Both tiers must exist; analysis is the one
// stage that can validate the source layout up front.
func (a *Analyzer) Analyze(ctx context.Context) (*Analysis, error) {
	if _, err := os.Stat(a.backendDir); err != nil {
		return nil, fmt.Errorf("analyzer: backend path not found: %s", a.backendDir)
	}
	if _, err := os.Stat(a.frontendDir); err != nil {
		return nil, fmt.Errorf("analyzer: frontend path not found: %s", a.frontendDir)
	}

	var result Analysis

	backend, err := AnalyzeBackend(a.backendDir)
	if err != nil {
		return nil, err
	}
	result.Backend = *backend
	result.Database = DetectDatabase(backend.Properties["spring.datasource.url"])

	frontend, err := AnalyzeFrontend(ctx, a.frontendDir)
	if err != nil {
		return nil, err
	}
	result.Frontend = *frontend

	return &result, nil
}
