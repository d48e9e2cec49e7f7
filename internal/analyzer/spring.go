package analyzer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadSpringConfig reads application.properties or application.yml from the
// conventional resources directory. YAML files are flattened to dotted keys
// so downstream lookups work the same either way.
func loadSpringConfig(backendDir string) (map[string]string, error) {
	resources := filepath.Join(backendDir, "src", "main", "resources")

	propsPath := filepath.Join(resources, "application.properties")
	if fileExists(propsPath) {
		return parseProperties(propsPath)
	}
	for _, name := range []string{"application.yml", "application.yaml"} {
		ymlPath := filepath.Join(resources, name)
		if fileExists(ymlPath) {
			return parseYAMLConfig(ymlPath)
		}
	}
	// No config file means Spring defaults throughout; not an error.
	return map[string]string{}, nil
}

func parseProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("analyzer: open %s: %w", path, err)
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			key, value, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("analyzer: scan %s: %w", path, err)
	}
	return props, nil
}

func parseYAMLConfig(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("analyzer: read %s: %w", path, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("analyzer: parse %s: %w", path, err)
	}
	props := make(map[string]string)
	flattenYAML("", tree, props)
	return props, nil
}

func flattenYAML(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenYAML(full, v, out)
		case nil:
			out[full] = ""
		default:
			out[full] = fmt.Sprintf("%v", v)
		}
	}
}

// DetectDatabase classifies the JDBC datasource URL. An empty URL means the
// app runs on Spring Boot's default in-memory H2.
func DetectDatabase(url string) DatabaseAnalysis {
	db := DatabaseAnalysis{DatasourceURL: url, Type: "unknown", Mode: "unknown"}
	switch {
	case url == "":
		db.Type = "h2"
		db.Mode = "in-memory"
	case strings.HasPrefix(url, "jdbc:h2:mem:"):
		db.Type = "h2"
		db.Mode = "in-memory"
	case strings.HasPrefix(url, "jdbc:h2:file:") || strings.HasPrefix(url, "jdbc:h2:~"):
		db.Type = "h2"
		db.Mode = "file-based"
	case strings.HasPrefix(url, "jdbc:h2:"):
		db.Type = "h2"
		db.Mode = "in-memory"
	case strings.HasPrefix(url, "jdbc:mysql:"):
		db.Type = "mysql"
		db.Mode = "server"
	case strings.HasPrefix(url, "jdbc:postgresql:"):
		db.Type = "postgresql"
		db.Mode = "server"
	}
	return db
}
