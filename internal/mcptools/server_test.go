package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanathmahesh/cloudify/internal/shell"
)

// setupServerClient wires an MCP server and client together using in-memory
// transports and returns the connected client session plus the dry-run shell
// so tests can inspect recorded commands.
func setupServerClient(t *testing.T) (*mcp.ClientSession, *shell.DryRunner) {
	t.Helper()

	sh := shell.NewDryRunner()
	svc := NewMigrationService(sh)
	server := NewMigrationMCPServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
	})

	return session, sh
}

func TestMCPListTools(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, result.Tools, 6)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"analyze_frontend",
		"check_cloud_auth",
		"detect_database",
		"extract_api_endpoints",
		"generate_dockerfile",
		"scan_backend",
	}, names)
}

func TestMCPScanBackend(t *testing.T) {
	session, _ := setupServerClient(t)

	backend := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(backend, "pom.xml"), []byte(`<?xml version="1.0"?>
<project>
	<properties><java.version>17</java.version></properties>
	<dependencies>
		<dependency><artifactId>spring-boot-starter-web</artifactId></dependency>
	</dependencies>
</project>`), 0o644))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "scan_backend",
		Arguments: map[string]any{"backendPath": backend},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out ScanBackendOutput
	require.NoError(t, json.Unmarshal(resultJSON(t, result), &out))
	assert.Equal(t, "maven", out.Backend.BuildTool)
	assert.Equal(t, "17", out.Backend.JavaVersion)
}

func TestMCPDetectDatabaseFromURL(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "detect_database",
		Arguments: map[string]any{"datasourceUrl": "jdbc:h2:file:./data/app"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out DetectDatabaseOutput
	require.NoError(t, json.Unmarshal(resultJSON(t, result), &out))
	assert.Equal(t, "h2", out.Database.Type)
	assert.Equal(t, "file-based", out.Database.Mode)
}

func TestMCPScanBackendMissingPath(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "scan_backend",
		Arguments: map[string]any{"backendPath": "/nonexistent/path"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPGenerateDockerfile(t *testing.T) {
	session, _ := setupServerClient(t)

	backend := t.TempDir()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "generate_dockerfile",
		Arguments: map[string]any{
			"backendPath": backend,
			"content":     "FROM eclipse-temurin:17-jre\n",
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	data, err := os.ReadFile(filepath.Join(backend, "Dockerfile"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "FROM eclipse-temurin")
}

func TestMCPCheckCloudAuthUsesShell(t *testing.T) {
	session, sh := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "check_cloud_auth",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	commands := sh.Commands()
	require.NotEmpty(t, commands)
	assert.Contains(t, commands[0], "gcloud --version")
}

// resultJSON re-serializes the structured payload of a tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult) []byte {
	t.Helper()
	require.NotNil(t, result.StructuredContent)
	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	return raw
}
