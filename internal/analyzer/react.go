package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// packageJSON is the subset of package.json the pipeline needs for build and
// deploy decisions.
type packageJSON struct {
	Name         string            `json:"name"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies map[string]string `json:"dependencies"`
}

// AnalyzeFrontend scans a JS frontend directory: package.json metadata and
// the API base URLs its sources call.
func AnalyzeFrontend(ctx context.Context, frontendDir string) (*FrontendAnalysis, error) {
	frontend := &FrontendAnalysis{PackageTool: "npm"}

	pkgPath := filepath.Join(frontendDir, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("analyzer: read %s: %w", pkgPath, err)
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("analyzer: parse %s: %w", pkgPath, err)
	}

	frontend.Name = pkg.Name
	frontend.Scripts = pkg.Scripts
	for dep := range pkg.Dependencies {
		frontend.Dependencies = append(frontend.Dependencies, dep)
	}
	sort.Strings(frontend.Dependencies)

	if fileExists(filepath.Join(frontendDir, "yarn.lock")) {
		frontend.PackageTool = "yarn"
	}

	urls, err := scanAPIUsage(ctx, frontendDir)
	if err != nil {
		return nil, err
	}
	frontend.APIBaseURLs = urls

	return frontend, nil
}

// scanAPIUsage parses the frontend sources and collects the string arguments
// of fetch and axios calls. These are the backend URLs that must be rewritten
// to the Cloud Run service URL after deployment.
func scanAPIUsage(ctx context.Context, frontendDir string) ([]string, error) {
	srcDir := filepath.Join(frontendDir, "src")
	if _, err := os.Stat(srcDir); err != nil {
		srcDir = frontendDir
	}

	tsLang := tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	tsxLang := tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())

	seen := make(map[string]bool)
	var urls []string

	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lang := tsLang
		switch filepath.Ext(path) {
		case ".js", ".ts":
		case ".jsx", ".tsx":
			lang = tsxLang
		default:
			return nil
		}

		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, url := range extractAPICalls(lang, source) {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: scan frontend sources: %w", err)
	}
	return urls, nil
}

func extractAPICalls(lang *tree_sitter.Language, source []byte) []string {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(lang); err != nil {
		return nil
	}
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	var urls []string
	cursor := tree.RootNode().Walk()
	defer cursor.Close()
	walkAPICalls(cursor, source, &urls)
	return urls
}

func walkAPICalls(cursor *tree_sitter.TreeCursor, source []byte, urls *[]string) {
	node := cursor.Node()
	if node.Kind() == "call_expression" {
		if url := apiCallURL(node, source); url != "" {
			*urls = append(*urls, url)
		}
	}

	if cursor.GotoFirstChild() {
		walkAPICalls(cursor, source, urls)
		for cursor.GotoNextSibling() {
			walkAPICalls(cursor, source, urls)
		}
		cursor.GotoParent()
	}
}

// apiCallURL returns the first string argument of a fetch or axios call, or
// "" when the call is neither or the argument is not a plain string.
func apiCallURL(node *tree_sitter.Node, source []byte) string {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return ""
	}

	var callee string
	switch fnNode.Kind() {
	case "identifier":
		callee = fnNode.Utf8Text(source)
	case "member_expression":
		callee = fnNode.Utf8Text(source)
	default:
		return ""
	}
	if callee != "fetch" && callee != "axios" && !strings.HasPrefix(callee, "axios.") {
		return ""
	}

	args := node.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}
	for i := uint(0); i < args.ChildCount(); i++ {
		arg := args.Child(i)
		if arg == nil {
			continue
		}
		switch arg.Kind() {
		case "string":
			return strings.Trim(arg.Utf8Text(source), "\"'`")
		case "template_string":
			// Keep the literal head so the base URL is still recoverable.
			text := strings.Trim(arg.Utf8Text(source), "`")
			if head, _, found := strings.Cut(text, "${"); found {
				return head
			}
			return text
		}
	}
	return ""
}
