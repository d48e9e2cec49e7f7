package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMigrationMCPServer creates an MCP server with the six migration analysis
// tools registered.
func NewMigrationMCPServer(svc *MigrationService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cloudify-migration",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_backend",
		Description: "Analyze a Java backend directory: build tool, Java and Spring Boot versions, dependencies, Spring properties, and REST endpoints.",
	}, svc.ScanBackend)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_database",
		Description: "Classify the backend's database from a JDBC datasource URL or the Spring configuration: type (h2, mysql, postgresql) and H2 storage mode.",
	}, svc.DetectDatabase)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_api_endpoints",
		Description: "Scan Spring controller annotations and return the REST routes the backend serves.",
	}, svc.ExtractAPIEndpoints)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_frontend",
		Description: "Analyze a JS frontend directory: package.json metadata, package tool, and hardcoded API base URLs found in fetch/axios calls.",
	}, svc.AnalyzeFrontend)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_dockerfile",
		Description: "Write Dockerfile content into the backend directory so the image can be built and deployed to Cloud Run.",
	}, svc.GenerateDockerfile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_cloud_auth",
		Description: "Report whether the gcloud and firebase CLIs are installed and which gcloud account is currently active.",
	}, svc.CheckCloudAuth)

	return server
}

// RunMCPServer starts an HTTP server exposing the migration MCP tools.
func RunMCPServer(ctx context.Context, svc *MigrationService, addr string) error {
	server := NewMigrationMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
