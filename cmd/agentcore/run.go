package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vc-agent/core/internal/agent"
	"github.com/vc-agent/core/internal/model"
	"github.com/vc-agent/core/internal/tools"
)

var (
	runTask   string
	runCaller string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive one agent run against a task",
	Long: `run builds the full engine stack (Event Bus, VFS, Tool Engine) and
drives a single Agent Controller run to completion against --task.

agentcore deliberately ships no concrete Model Client — the core
module depends only on the Model Client contract (internal/model) so
that the choice of local, remote, or mock model stays with the
embedding application. This command fails fast with a clear error
rather than silently running against a fake model.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runAgent(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runTask, "task", "", "task description for the agent to execute (required)")
	runCmd.Flags().StringVar(&runCaller, "caller", "cli-user", "caller id recorded on emitted events")
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command) error {
	if runTask == "" {
		return fmt.Errorf("--task is required")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	stack, err := buildEngineStack(cfg)
	if err != nil {
		return err
	}

	client := resolveModelClient()
	if client == nil {
		return fmt.Errorf("no model.Client wired: agentcore ships no concrete implementation of internal/model.Client (local, remote, or test) by design, plug one in and rebuild before using run")
	}

	ctrl := agent.New(cfg.toAgentConfig(), client, stack.engine, stack.bus)
	caller := tools.Caller{
		ID: runCaller,
		GrantedPermissions: []tools.Permission{
			tools.PermVFSRead, tools.PermVFSWrite, tools.PermVFSDelete, tools.PermToolRun,
		},
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s Running task: %s\n", cyan("▶"), runTask)
	result := ctrl.Run(context.Background(), runTask, caller)

	fmt.Printf("\nterminated: %s (after %d step(s))\n", colorizeReason(result.TerminationReason), result.Steps)
	if result.LastError != "" {
		fmt.Printf("%s last error: %s\n", red("✗"), result.LastError)
	}
	if result.Answer != "" {
		fmt.Printf("%s answer:\n%s\n", green("✓"), result.Answer)
	}
	return nil
}

// resolveModelClient is the one hook an embedding application is
// expected to fill in: agentcore has no concrete model.Client of its
// own to offer, by design (see internal/model's package doc).
func resolveModelClient() model.Client {
	return nil
}

func colorizeReason(r agent.TerminationReason) string {
	yellow := color.New(color.FgYellow).SprintFunc()
	return yellow(string(r))
}
