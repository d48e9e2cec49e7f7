package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/sanathmahesh/cloudify/internal/advisor"
	"github.com/sanathmahesh/cloudify/internal/agents"
	"github.com/sanathmahesh/cloudify/internal/bus"
	"github.com/sanathmahesh/cloudify/internal/config"
	"github.com/sanathmahesh/cloudify/internal/orchestrator"
	"github.com/sanathmahesh/cloudify/internal/report"
	"github.com/sanathmahesh/cloudify/internal/shell"
	"github.com/sanathmahesh/cloudify/internal/state"
)

// defaultModel answers any advisor role the config leaves unmapped.
const defaultModel = "claude-sonnet-4-5"

func runMigration(cfg *config.Config, verbose bool) error {
	printBanner(cfg)

	if cfg.Execution.Mode == config.ModeInteractive && !cfg.Execution.DryRun {
		ok, err := confirm(os.Stdin, "Proceed with the migration?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "", log.Ltime)
	}

	rs := state.New()
	events := bus.New(logger)
	defer events.Close()

	var sh shell.Runner
	if cfg.Execution.DryRun {
		sh = shell.NewDryRunner()
	} else {
		sh = shell.NewExecRunner(logger)
	}

	adv := advisor.New(
		cfg.Advisor.BaseURL,
		os.Getenv(cfg.Advisor.APIKeyEnv),
		advisor.NewModelMap(cfg.Advisor.Models, defaultModel),
		advisor.WithMaxTokens(cfg.Advisor.MaxTokens),
	)

	deps := agents.Deps{
		Config:  cfg,
		State:   rs,
		Events:  events,
		Shell:   sh,
		Advisor: adv,
		Logger:  logger,
	}
	groups := agents.Pipeline(deps)

	subscribeStageOutput(events)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scheduler := orchestrator.NewScheduler(rs, events, logger)
	results, runErr := scheduler.Execute(ctx, groups)

	if runErr != nil && errors.Is(runErr, orchestrator.ErrCriticalStageFailed) {
		rollbackFailed(ctx, rs, events, logger, groups, results)
	}

	// Flush pending status lines before rendering the report.
	events.Close()

	if cfg.Execution.GenerateReport {
		rpt := report.Build(rs.Snapshot(), results)
		fmt.Println()
		fmt.Print(rpt.Render())
		if path, err := rpt.WriteJSON(cfg.Execution.ReportDir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		} else {
			fmt.Printf("\nreport written to %s\n", path)
		}
	}

	if dry, ok := sh.(*shell.DryRunner); ok {
		fmt.Printf("\ndry run: %d commands recorded, nothing executed\n", len(dry.Commands()))
	}

	return runErr
}

// rollbackFailed undoes externally-visible side effects of stages that ended
// Failed, newest first.
func rollbackFailed(
	ctx context.Context,
	rs *state.RunState,
	events *bus.Bus,
	logger *log.Logger,
	groups []orchestrator.Group,
	results map[string]orchestrator.StageResult,
) {
	runner := orchestrator.NewRunner(rs, events, logger)
	for i := len(groups) - 1; i >= 0; i-- {
		for _, spec := range groups[i] {
			res, ok := results[spec.Stage.Name()]
			if !ok || !res.Failed() {
				continue
			}
			fmt.Printf("  rolling back %s...\n", spec.Stage.Name())
			if err := runner.Rollback(ctx, spec); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
	}
}

// subscribeStageOutput prints one status line per stage lifecycle event.
func subscribeStageOutput(events *bus.Bus) {
	events.Subscribe(bus.StageStarted, func(e bus.Event) {
		fmt.Printf("  ● %s...\n", e.Source)
	})
	events.Subscribe(bus.StageCompleted, func(e bus.Event) {
		fmt.Printf("  ✓ %s complete (%.1fs)\n", e.Source, floatPayload(e, "duration"))
	})
	events.Subscribe(bus.StageFailed, func(e bus.Event) {
		fmt.Printf("  ✗ %s failed: %v\n", e.Source, e.Payload["error"])
	})
	events.Subscribe(bus.ProgressUpdate, func(e bus.Event) {
		fmt.Printf("      progress: %.0f%%\n", floatPayload(e, "percentage"))
	})
}

func floatPayload(e bus.Event, key string) float64 {
	f, _ := e.Payload[key].(float64)
	return f
}

func printBanner(cfg *config.Config) {
	fmt.Println("cloudify " + version)
	fmt.Printf("  source:    %s\n", cfg.Source.RootPath)
	fmt.Printf("  project:   %s (%s)\n", cfg.GCP.ProjectID, cfg.GCP.Region)
	fmt.Printf("  database:  %s\n", cfg.Database.Strategy)
	fmt.Printf("  mode:      %s\n", cfg.Execution.Mode)
	if cfg.Execution.DryRun {
		fmt.Println("  dry run:   commands will be recorded, not executed")
	}
	fmt.Println()
}

// confirm reads a y/yes answer from r.
func confirm(r io.Reader, prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("reading confirmation: %w", err)
		}
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
