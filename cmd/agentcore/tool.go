package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Inspect the tool registry",
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered tool and its required permissions",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runToolList(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runToolList(cmd *cobra.Command) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	stack, err := buildEngineStack(cfg)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	defs := stack.engine.List()
	if len(defs) == 0 {
		fmt.Println("no tools registered")
		return nil
	}
	for _, def := range defs {
		perms := make([]string, 0, len(def.RequiredPermissions))
		for _, p := range def.RequiredPermissions {
			perms = append(perms, string(p))
		}
		permStr := "none"
		if len(perms) > 0 {
			permStr = strings.Join(perms, ", ")
		}
		fmt.Printf("%s  %s\n", cyan(def.ID), def.Description)
		fmt.Printf("    runner: %s  permissions: %s\n", yellow(string(def.RunnerKind)), permStr)
	}
	return nil
}

func init() {
	toolCmd.AddCommand(toolListCmd)
	rootCmd.AddCommand(toolCmd)
}
