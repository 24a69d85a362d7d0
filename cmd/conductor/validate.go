package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conductor-go/conductor/internal/graph"
	"github.com/conductor-go/conductor/internal/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition without running it",
	Long: `Validate a workflow definition file.

Checks field-level validity (ids, agents, timeouts), duplicate task IDs,
unknown dependency references, and dependency cycles.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	wf, err := spec.Load(args[0], spec.Defaults{
		Timeout:    cfg.Scheduler.DefaultTimeout,
		MaxRetries: cfg.Scheduler.DefaultMaxRetries,
	})
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}

	g := graph.New()
	if err := g.Build(wf.Tasks); err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}

	printStatus("✓", fmt.Sprintf("%s is valid (%d tasks)", args[0], len(wf.Tasks)), color.FgGreen)
	for _, task := range wf.Tasks {
		deps := ""
		if len(task.DependsOn) > 0 {
			deps = fmt.Sprintf("  depends on %v", task.DependsOn)
		}
		fmt.Printf("  %s (agent %s)%s\n", task.ID, task.AgentID, deps)
	}
	return nil
}
