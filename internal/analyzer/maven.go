package analyzer

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// pom captures the slices of a Maven POM the pipeline cares about. The
// spring-boot-starter-parent version doubles as the Spring Boot version.
type pom struct {
	XMLName xml.Name `xml:"project"`
	Parent  struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
	} `xml:"parent"`
	Properties struct {
		JavaVersion string `xml:"java.version"`
	} `xml:"properties"`
	Dependencies struct {
		Dependency []struct {
			GroupID    string `xml:"groupId"`
			ArtifactID string `xml:"artifactId"`
		} `xml:"dependency"`
	} `xml:"dependencies"`
}

// AnalyzeBackend scans a Java backend directory: build manifest, Spring
// configuration, and the controller endpoint surface.
func AnalyzeBackend(backendDir string) (*BackendAnalysis, error) {
	backend := &BackendAnalysis{}

	pomPath := filepath.Join(backendDir, "pom.xml")
	gradlePath := filepath.Join(backendDir, "build.gradle")
	switch {
	case fileExists(pomPath):
		backend.BuildTool = "maven"
		if err := parsePOM(pomPath, backend); err != nil {
			return nil, err
		}
	case fileExists(gradlePath):
		backend.BuildTool = "gradle"
		if err := parseGradle(gradlePath, backend); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("analyzer: no pom.xml or build.gradle in %s", backendDir)
	}

	props, err := loadSpringConfig(backendDir)
	if err != nil {
		return nil, err
	}
	backend.Properties = props

	endpoints, err := ScanEndpoints(backendDir)
	if err != nil {
		return nil, err
	}
	backend.Endpoints = endpoints

	return backend, nil
}

func parsePOM(path string, backend *BackendAnalysis) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("analyzer: read %s: %w", path, err)
	}
	var p pom
	if err := xml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("analyzer: parse %s: %w", path, err)
	}

	backend.JavaVersion = p.Properties.JavaVersion
	if p.Parent.ArtifactID == "spring-boot-starter-parent" {
		backend.SpringBootVersion = p.Parent.Version
	}
	for _, dep := range p.Dependencies.Dependency {
		if dep.ArtifactID != "" {
			backend.Dependencies = append(backend.Dependencies, dep.ArtifactID)
		}
	}
	return nil
}

var (
	gradleDepRe  = regexp.MustCompile(`(?:implementation|runtimeOnly|compileOnly|api)\s+['"]([^:'"]+):([^:'"]+)`)
	gradleJavaRe = regexp.MustCompile(`sourceCompatibility\s*=?\s*['"]?([\d.]+)`)
	gradleBootRe = regexp.MustCompile(`org\.springframework\.boot['"]?\s+version\s+['"]([^'"]+)`)
)

// parseGradle is a line scan, not a Groovy parse; it covers the dependency
// declarations the starter templates actually emit.
func parseGradle(path string, backend *BackendAnalysis) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("analyzer: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := gradleDepRe.FindStringSubmatch(line); m != nil {
			backend.Dependencies = append(backend.Dependencies, m[2])
		}
		if m := gradleJavaRe.FindStringSubmatch(line); m != nil && backend.JavaVersion == "" {
			backend.JavaVersion = m[1]
		}
		if m := gradleBootRe.FindStringSubmatch(line); m != nil && backend.SpringBootVersion == "" {
			backend.SpringBootVersion = m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("analyzer: scan %s: %w", path, err)
	}
	return nil
}

var (
	controllerRe = regexp.MustCompile(`@(?:Rest)?Controller\b`)
	mappingRe    = regexp.MustCompile(`@(Get|Post|Put|Delete|Patch|Request)Mapping\s*(?:\(\s*(?:value\s*=\s*)?"([^"]*)")?`)
)

// ScanEndpoints walks the backend's .java sources and collects the mapping
// annotations from controller classes. Class-level @RequestMapping paths are
// prefixed onto the method mappings below them.
func ScanEndpoints(root string) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".java") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		src := string(data)
		if !controllerRe.MatchString(src) {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		base := ""
		for _, m := range mappingRe.FindAllStringSubmatch(src, -1) {
			kind, route := m[1], m[2]
			if kind == "Request" && base == "" {
				// First @RequestMapping in a controller file is the
				// class-level prefix.
				base = route
				continue
			}
			method := strings.ToUpper(kind)
			if kind == "Request" {
				method = "ANY"
			}
			endpoints = append(endpoints, Endpoint{
				Method: method,
				Path:   joinRoute(base, route),
				File:   rel,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: scan endpoints: %w", err)
	}
	return endpoints, nil
}

func joinRoute(base, route string) string {
	switch {
	case base == "":
		if route == "" {
			return "/"
		}
		return route
	case route == "":
		return base
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(route, "/")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
