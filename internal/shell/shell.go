// Package shell provides the external-process capability used to drive the
// cloud, container, and hosting CLIs. Run never returns a Go error: dispatch
// failures and timeouts are reported as a structured Result with a synthetic
// nonzero exit code and an explanatory stderr, so callers branch on exit
// codes only.
package shell

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds commands that do not set one explicitly. Indefinite
// blocking on an external process is a defect.
const DefaultTimeout = 5 * time.Minute

// Result is the structured outcome of one command invocation.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited zero.
func (r Result) Success() bool { return r.ExitCode == 0 }

type runOptions struct {
	dir     string
	timeout time.Duration
	env     []string
}

// Option configures a single Run call.
type Option func(*runOptions)

// WithDir sets the working directory for the command.
func WithDir(dir string) Option {
	return func(o *runOptions) { o.dir = dir }
}

// WithTimeout overrides the default command timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) { o.timeout = d }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) Option {
	return func(o *runOptions) { o.env = append(o.env, kv...) }
}

// Runner executes shell commands.
type Runner interface {
	Run(ctx context.Context, command string, opts ...Option) Result
}

// Compile-time interface checks.
var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*DryRunner)(nil)
)

// ExecRunner runs commands through "sh -c".
type ExecRunner struct {
	logger *log.Logger
}

// NewExecRunner creates an ExecRunner. A nil logger falls back to stderr.
func NewExecRunner(logger *log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.New(os.Stderr, "shell: ", log.LstdFlags)
	}
	return &ExecRunner{logger: logger}
}

// Run executes the command, capturing stdout and stderr separately. The
// command is killed when its timeout elapses or ctx is canceled.
func (e *ExecRunner) Run(ctx context.Context, command string, opts ...Option) Result {
	o := runOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	e.logger.Printf("running: %s", command)
	start := time.Now()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Command:  command,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	case cctx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Stderr = fmt.Sprintf("command timed out after %s", o.timeout)
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Dispatch failure (e.g. no shell available): synthesize a result.
			res.ExitCode = -1
			res.Stderr = err.Error()
		}
	}

	if !res.Success() {
		e.logger.Printf("command exited %d: %.200s", res.ExitCode, res.Stderr)
	}
	return res
}

// DryRunner records the commands it would have run and reports success for
// each. Used by the CLI --dry-run flag so stages can exercise their control
// flow without touching external systems.
type DryRunner struct {
	mu       sync.Mutex
	commands []string
}

// NewDryRunner creates an empty DryRunner.
func NewDryRunner() *DryRunner {
	return &DryRunner{}
}

// Run records the command and returns a successful placeholder result.
func (d *DryRunner) Run(_ context.Context, command string, _ ...Option) Result {
	d.mu.Lock()
	d.commands = append(d.commands, command)
	d.mu.Unlock()
	return Result{Command: command, ExitCode: 0, Stdout: "[dry-run]"}
}

// Commands returns a copy of the recorded commands in invocation order.
func (d *DryRunner) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}
