package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/mcptools"
	"github.com/sanathmahesh/cloudify/internal/shell"
	"github.com/sanathmahesh/cloudify/internal/web"
)

// CLI flags parsed from command line.
type cliFlags struct {
	Source     string
	ConfigPath string
	Project    string
	Region     string
	Mode       string
	ReportDir  string
	MCPAddr    string
	WebAddr    string
	DryRun     bool
	Verbose    bool
	ServeMCP   bool
	ServeWeb   bool
	Version    bool
	Init       bool
}

// version is set by the linker at build time.
var version = "dev"

const configFileName = "migration_config.yaml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("cloudify", flag.ContinueOnError)
	fs.StringVar(&flags.Source, "source", "", "path to the application to migrate")
	fs.StringVar(&flags.ConfigPath, "config", "", "path to migration_config.yaml")
	fs.StringVar(&flags.Project, "project", "", "GCP project ID (overrides config)")
	fs.StringVar(&flags.Region, "region", "", "GCP region (overrides config)")
	fs.StringVar(&flags.Mode, "mode", "", "execution mode: interactive or automated")
	fs.StringVar(&flags.ReportDir, "report-dir", "", "directory for the migration report")
	fs.StringVar(&flags.MCPAddr, "mcp-addr", "localhost:8391", "listen address for -serve-mcp")
	fs.StringVar(&flags.WebAddr, "web-addr", "localhost:8392", "listen address for -serve-web")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "record commands without executing them")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable verbose output")
	fs.BoolVar(&flags.ServeMCP, "serve-mcp", false, "serve the migration analysis tools over MCP")
	fs.BoolVar(&flags.ServeWeb, "serve-web", false, "serve the migration control API over HTTP")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")
	fs.BoolVar(&flags.Init, "init", false, "write a starter "+configFileName+" and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case flags.Version:
		fmt.Println(version)
		return nil
	case flags.Init:
		return writeStarterConfig()
	case flags.ServeMCP:
		return serveMCP(flags.MCPAddr)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if flags.ServeWeb {
		return serveWeb(cfg, flags.WebAddr, flags.Verbose)
	}
	return runMigration(cfg, flags.Verbose)
}

func writeStarterConfig() error {
	if _, err := os.Stat(configFileName); err == nil {
		return fmt.Errorf("%s already exists, delete it first", configFileName)
	}
	if err := os.WriteFile(configFileName, []byte(config.Template), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configFileName, err)
	}
	fmt.Printf("created %s, edit it and run: cloudify -config %s\n", configFileName, configFileName)
	return nil
}

func serveMCP(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	svc := mcptools.NewMigrationService(shell.NewExecRunner(nil))
	fmt.Fprintf(os.Stderr, "cloudify MCP server listening on %s\n", addr)
	return mcptools.RunMCPServer(ctx, svc, addr)
}

// serveWeb runs the HTTP control surface until interrupted. Runs launched
// through it execute against the validated config loaded at startup.
func serveWeb(cfg *config.Config, addr string, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "", log.Ltime)
	}

	srv := web.NewServer(cfg, logger)
	if err := srv.Start(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "cloudify web server listening on %s\n", addr)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// loadConfig reads the YAML config when given and layers the CLI overrides on
// top, so `cloudify -source ./app -project my-proj` works without a file.
func loadConfig(flags cliFlags) (*config.Config, error) {
	var cfg *config.Config
	if flags.ConfigPath != "" {
		loaded, err := config.Load(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	if flags.Source != "" {
		cfg.Source.RootPath = flags.Source
	}
	if flags.Project != "" {
		cfg.GCP.ProjectID = flags.Project
	}
	if flags.Region != "" {
		cfg.GCP.Region = flags.Region
	}
	if flags.Mode != "" {
		cfg.Execution.Mode = flags.Mode
	}
	if flags.ReportDir != "" {
		cfg.Execution.ReportDir = flags.ReportDir
	}
	if flags.DryRun {
		cfg.Execution.DryRun = true
	}
	return cfg, nil
}
