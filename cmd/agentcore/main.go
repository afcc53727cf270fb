// Command agentcore hosts the core agent execution engine: Event Bus,
// Versioned VFS, Tool Engine, and Agent Controller. It intentionally
// does not ship a Model Client implementation — see internal/model's
// package doc — so the `run` subcommand requires one to be wired in
// by an embedding application.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Run and inspect the agent execution engine",
	Long: `agentcore hosts the Agent Controller, Tool Engine, Event Bus, and
Versioned VFS that make up the core agent execution engine.

It does not include a browser editor, HTTP routing, or a concrete
model client — those are external collaborators described only
through their interfaces.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to agentcore config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
