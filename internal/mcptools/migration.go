package mcptools

import "github.com/sanathmahesh/cloudify/internal/analyzer"

// --- MCP Tool Input Types ---
// The MCP Go SDK auto-generates JSON schemas from struct tags.

// ScanBackendInput is the input for the scan_backend MCP tool.
type ScanBackendInput struct {
	BackendPath string `json:"backendPath" jsonschema:"absolute path to the Java backend directory"`
}

// ScanBackendOutput is the result of the scan_backend MCP tool.
type ScanBackendOutput struct {
	Backend analyzer.BackendAnalysis `json:"backend"`
}

// DetectDatabaseInput is the input for the detect_database MCP tool.
type DetectDatabaseInput struct {
	BackendPath   string `json:"backendPath,omitempty" jsonschema:"backend directory whose Spring configuration holds the datasource URL"`
	DatasourceURL string `json:"datasourceUrl,omitempty" jsonschema:"JDBC datasource URL to classify directly, overrides backendPath"`
}

// DetectDatabaseOutput is the result of the detect_database MCP tool.
type DetectDatabaseOutput struct {
	Database analyzer.DatabaseAnalysis `json:"database"`
}

// ExtractEndpointsInput is the input for the extract_api_endpoints MCP tool.
type ExtractEndpointsInput struct {
	BackendPath string `json:"backendPath" jsonschema:"backend directory whose controllers to scan"`
}

// ExtractEndpointsOutput is the result of the extract_api_endpoints MCP tool.
type ExtractEndpointsOutput struct {
	Endpoints []analyzer.Endpoint `json:"endpoints"`
	Total     int                 `json:"total"`
}

// AnalyzeFrontendInput is the input for the analyze_frontend MCP tool.
type AnalyzeFrontendInput struct {
	FrontendPath string `json:"frontendPath" jsonschema:"absolute path to the JS frontend directory"`
}

// AnalyzeFrontendOutput is the result of the analyze_frontend MCP tool.
type AnalyzeFrontendOutput struct {
	Frontend analyzer.FrontendAnalysis `json:"frontend"`
}

// GenerateDockerfileInput is the input for the generate_dockerfile MCP tool.
type GenerateDockerfileInput struct {
	BackendPath string `json:"backendPath" jsonschema:"backend directory to write the Dockerfile into"`
	Content     string `json:"content" jsonschema:"the Dockerfile content to write"`
}

// GenerateDockerfileOutput is the result of the generate_dockerfile MCP tool.
type GenerateDockerfileOutput struct {
	Path string `json:"path"`
}

// CheckCloudAuthInput is the input for the check_cloud_auth MCP tool.
type CheckCloudAuthInput struct{}

// CheckCloudAuthOutput is the result of the check_cloud_auth MCP tool.
type CheckCloudAuthOutput struct {
	GcloudInstalled   bool   `json:"gcloudInstalled"`
	FirebaseInstalled bool   `json:"firebaseInstalled"`
	ActiveAccount     string `json:"activeAccount,omitempty"`
}
