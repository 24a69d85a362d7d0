package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conductor-go/conductor/internal/config"
	"github.com/conductor-go/conductor/internal/coordinator"
	"github.com/conductor-go/conductor/internal/registry"
	"github.com/conductor-go/conductor/internal/spec"
	"github.com/conductor-go/conductor/pkg/models"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Run a workflow definition",
	Long: `Run a workflow definition file.

Each task names an agent. Agents without a real worker binding are served by
the built-in echo worker, which reports its payload and completes. Payload
keys the echo worker understands:

  sleep: "500ms"   work simulation, parsed as a duration
  fail_times: 2    fail this many attempts before succeeding`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the final summary")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	wf, err := spec.Load(args[0], spec.Defaults{
		Timeout:    cfg.Scheduler.DefaultTimeout,
		MaxRetries: cfg.Scheduler.DefaultMaxRetries,
	})
	if err != nil {
		return err
	}

	reg := registry.New()
	for _, task := range wf.Tasks {
		if _, err := reg.Lookup(task.AgentID); err != nil {
			reg.Register(task.AgentID, echoWorker())
		}
	}
	if cfg.Breaker.Enabled {
		reg.EnableBreakers(registry.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
		})
	}

	pool := coordinator.NewPool(coordinator.PoolConfig{
		Registry: reg,
		Coordinator: coordinator.Config{
			MaxConcurrency: cfg.Scheduler.MaxConcurrency,
			DefaultTimeout: cfg.Scheduler.DefaultTimeout,
			Downstream:     coordinator.DownstreamPolicy(cfg.Scheduler.DownstreamPolicy),
			Backoff: coordinator.BackoffConfig{
				InitialInterval:     cfg.Retry.InitialInterval,
				MaxInterval:         cfg.Retry.MaxInterval,
				Multiplier:          cfg.Retry.Multiplier,
				RandomizationFactor: cfg.Retry.RandomizationFactor,
			},
		},
		MessageHistoryCap: cfg.Messages.HistoryCap,
		StorePath:         cfg.Store.Path,
	})
	defer pool.Stop()

	wfID, err := pool.Submit(wf.Name, wf.Tasks)
	if err != nil {
		return fmt.Errorf("submitting workflow: %w", err)
	}
	if !runQuiet {
		fmt.Printf("Running workflow %s (%d tasks)\n\n", wfID, len(wf.Tasks))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			printStatus("⚠", "Interrupted, cancelling workflow...", color.FgYellow)
			_ = pool.Cancel(wfID)
		case <-done:
		}
	}()

	failed := waitForWorkflow(pool, wfID)
	close(done)

	snap, err := pool.Status(wfID)
	if err != nil {
		return err
	}
	printSummary(snap)

	if failed {
		return fmt.Errorf("workflow %s failed", wfID)
	}
	return nil
}

// waitForWorkflow consumes pool events until the workflow reaches a terminal
// state. Returns true if the workflow failed.
func waitForWorkflow(pool *coordinator.Pool, wfID string) bool {
	for event := range pool.Events() {
		if event.WorkflowID != wfID {
			continue
		}
		if !runQuiet {
			printEvent(event)
		}
		switch event.Type {
		case coordinator.EventWorkflowCompleted:
			return false
		case coordinator.EventWorkflowFailed:
			return true
		}
	}
	return true
}

func printEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventTaskStarted:
		fmt.Printf("→ %s started (agent %s)\n", event.TaskID, event.AgentID)
	case coordinator.EventTaskCompleted:
		printStatus("✓", fmt.Sprintf("%s completed", event.TaskID), color.FgGreen)
	case coordinator.EventTaskRetried:
		printStatus("↻", fmt.Sprintf("%s retrying (attempt %d): %s", event.TaskID, event.Attempt, event.Error), color.FgYellow)
	case coordinator.EventTaskFailed:
		printStatus("✗", fmt.Sprintf("%s failed: %s", event.TaskID, event.Error), color.FgRed)
	case coordinator.EventTaskSkipped:
		printStatus("⊘", fmt.Sprintf("%s skipped: %s", event.TaskID, event.Message), color.FgYellow)
	}
}

func printSummary(snap coordinator.Snapshot) {
	fmt.Println()
	switch snap.Status {
	case models.WorkflowStatusCompleted:
		printStatus("✓", fmt.Sprintf("Workflow %s completed", snap.WorkflowID), color.FgGreen)
	default:
		printStatus("✗", fmt.Sprintf("Workflow %s %s: %s", snap.WorkflowID, snap.Status, snap.ErrorMessage), color.FgRed)
	}

	fmt.Printf("  progress: %.0f%%", snap.Progress)
	for _, status := range []models.TaskStatus{
		models.TaskStatusSucceeded,
		models.TaskStatusFailed,
		models.TaskStatusSkipped,
	} {
		if n := snap.TaskCounts[status]; n > 0 {
			fmt.Printf("  %s: %d", status, n)
		}
	}
	fmt.Println()

	if snap.StartedAt != nil && snap.CompletedAt != nil {
		fmt.Printf("  duration: %s\n", snap.CompletedAt.Sub(*snap.StartedAt).Round(time.Millisecond))
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
