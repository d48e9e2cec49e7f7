// Package config loads and validates migration_config.yaml. Validation runs
// before the pipeline starts so a missing required field is a user-visible
// error, never a mid-run stage failure.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig locates the application being migrated.
type SourceConfig struct {
	RootPath     string `yaml:"root_path"`
	BackendPath  string `yaml:"backend_path"`
	FrontendPath string `yaml:"frontend_path"`
}

// BackendAbs returns the backend directory under the source root.
func (s SourceConfig) BackendAbs() string {
	return filepath.Join(s.RootPath, s.BackendPath)
}

// FrontendAbs returns the frontend directory under the source root.
func (s SourceConfig) FrontendAbs() string {
	return filepath.Join(s.RootPath, s.FrontendPath)
}

// GCPConfig holds the target-platform parameters.
type GCPConfig struct {
	ProjectID         string `yaml:"project_id"`
	Region            string `yaml:"region"`
	Zone              string `yaml:"zone"`
	ServiceAccountKey string `yaml:"service_account_key"`
}

// BackendService describes the Cloud Run service for the Java backend.
type BackendService struct {
	ServiceName  string            `yaml:"service_name"`
	Port         int               `yaml:"port"`
	Memory       string            `yaml:"memory"`
	CPU          string            `yaml:"cpu"`
	MinInstances int               `yaml:"min_instances"`
	MaxInstances int               `yaml:"max_instances"`
	Concurrency  int               `yaml:"concurrency"`
	EnvVars      map[string]string `yaml:"env_vars"`
	JVMOpts      string            `yaml:"jvm_opts"`
	JavaVersion  string            `yaml:"java_version"`
}

// FrontendSite describes the Firebase Hosting site for the JS frontend.
type FrontendSite struct {
	SiteName     string            `yaml:"site_name"`
	BuildCommand string            `yaml:"build_command"`
	BuildOutput  string            `yaml:"build_output"`
	NodeVersion  string            `yaml:"node_version"`
	EnvVars      map[string]string `yaml:"env_vars"`
}

// Database migration strategies.
const (
	StrategyKeepH2   = "keep-h2"
	StrategyCloudSQL = "migrate-to-cloud-sql"
)

// CloudSQLConfig sizes the Cloud SQL instance when migrating off H2.
type CloudSQLConfig struct {
	InstanceName    string `yaml:"instance_name"`
	Tier            string `yaml:"tier"`
	DatabaseName    string `yaml:"database_name"`
	DatabaseVersion string `yaml:"database_version"`
}

// DatabaseConfig selects the database migration strategy.
type DatabaseConfig struct {
	Strategy string         `yaml:"strategy"`
	CloudSQL CloudSQLConfig `yaml:"cloudsql"`
}

// AdvisorConfig wires the LLM advisor endpoint and the role→model map.
type AdvisorConfig struct {
	BaseURL   string            `yaml:"base_url"`
	APIKeyEnv string            `yaml:"api_key_env"`
	Models    map[string]string `yaml:"models"` // keyed by advisor role name
	MaxTokens int               `yaml:"max_tokens"`
}

// Execution modes.
const (
	ModeInteractive = "interactive"
	ModeAutomated   = "automated"
)

// ExecutionConfig holds per-run tunables for the scheduler and stages.
type ExecutionConfig struct {
	Mode                string `yaml:"mode"`
	ParallelDeployments bool   `yaml:"parallel_deployments"`
	MaxRetries          int    `yaml:"max_retries"`
	RetryBaseSeconds    int    `yaml:"retry_base_seconds"`
	CommandTimeoutSecs  int    `yaml:"command_timeout_seconds"`
	WaitTimeoutSecs     int    `yaml:"wait_timeout_seconds"`
	WaitPollSecs        int    `yaml:"wait_poll_seconds"`
	GenerateReport      bool   `yaml:"generate_report"`
	ReportDir           string `yaml:"report_dir"`
	DryRun              bool   `yaml:"dry_run"`
}

// CommandTimeout returns the per-command timeout as a duration.
func (e ExecutionConfig) CommandTimeout() time.Duration {
	return time.Duration(e.CommandTimeoutSecs) * time.Second
}

// WaitTimeout bounds the frontend stage's wait for the backend event.
func (e ExecutionConfig) WaitTimeout() time.Duration {
	return time.Duration(e.WaitTimeoutSecs) * time.Second
}

// WaitPoll is the polling interval for that wait.
func (e ExecutionConfig) WaitPoll() time.Duration {
	return time.Duration(e.WaitPollSecs) * time.Second
}

// RetryBase is the base delay for exponential backoff between attempts.
func (e ExecutionConfig) RetryBase() time.Duration {
	return time.Duration(e.RetryBaseSeconds) * time.Second
}

// Config is the full migration configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	GCP       GCPConfig       `yaml:"gcp"`
	Backend   BackendService  `yaml:"backend"`
	Frontend  FrontendSite    `yaml:"frontend"`
	Database  DatabaseConfig  `yaml:"database"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
	Execution ExecutionConfig `yaml:"execution"`
}

// Default returns a Config with every optional field at its default value.
func Default() Config {
	return Config{
		Source: SourceConfig{
			BackendPath:  "backend",
			FrontendPath: "frontend",
		},
		GCP: GCPConfig{
			Region: "us-central1",
			Zone:   "us-central1-a",
		},
		Backend: BackendService{
			ServiceName:  "backend-api",
			Port:         8080,
			Memory:       "512Mi",
			CPU:          "1",
			MaxInstances: 3,
			Concurrency:  80,
			JVMOpts:      "-Xmx384m -Xms128m",
			JavaVersion:  "17",
		},
		Frontend: FrontendSite{
			BuildCommand: "npm run build",
			BuildOutput:  "build",
			NodeVersion:  "18",
		},
		Database: DatabaseConfig{
			Strategy: StrategyKeepH2,
			CloudSQL: CloudSQLConfig{
				InstanceName:    "app-db",
				Tier:            "db-f1-micro",
				DatabaseName:    "appdb",
				DatabaseVersion: "POSTGRES_15",
			},
		},
		Advisor: AdvisorConfig{
			BaseURL:   "https://api.anthropic.com",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		Execution: ExecutionConfig{
			Mode:                ModeInteractive,
			ParallelDeployments: true,
			MaxRetries:          3,
			RetryBaseSeconds:    2,
			CommandTimeoutSecs:  300,
			WaitTimeoutSecs:     600,
			WaitPollSecs:        5,
			GenerateReport:      true,
			ReportDir:           ".",
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown fields are
// rejected so typos surface before the run starts.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate aggregates every missing or invalid required field into a single
// error. A nil return means the pipeline may start.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.RootPath == "" {
		errs = append(errs, errors.New("source.root_path is required"))
	} else if _, err := os.Stat(c.Source.RootPath); err != nil {
		errs = append(errs, fmt.Errorf("source.root_path does not exist: %s", c.Source.RootPath))
	}
	if c.GCP.ProjectID == "" {
		errs = append(errs, errors.New("gcp.project_id is required"))
	}
	if c.GCP.Region == "" {
		errs = append(errs, errors.New("gcp.region is required"))
	}
	switch c.Execution.Mode {
	case ModeInteractive, ModeAutomated:
	default:
		errs = append(errs, fmt.Errorf("execution.mode must be %q or %q, got %q",
			ModeInteractive, ModeAutomated, c.Execution.Mode))
	}
	switch c.Database.Strategy {
	case StrategyKeepH2, StrategyCloudSQL:
	default:
		errs = append(errs, fmt.Errorf("database.strategy must be %q or %q, got %q",
			StrategyKeepH2, StrategyCloudSQL, c.Database.Strategy))
	}
	if c.Execution.MaxRetries < 1 {
		errs = append(errs, errors.New("execution.max_retries must be at least 1"))
	}
	if c.Advisor.BaseURL == "" {
		errs = append(errs, errors.New("advisor.base_url is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
