package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the workspace, socket path, and tool engine are healthy",
	Long: `doctor verifies that the pieces agentcore depends on are in a
runnable state: the workspace directory exists and is writable, the
control socket's parent directory is writable, and the builtin tools
register without error.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDoctor(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runDoctor(cmd *cobra.Command) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	ok := true
	check := func(label string, err error) {
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("✗"), label, err)
			ok = false
			return
		}
		fmt.Printf("%s %s\n", green("✓"), label)
	}

	check(fmt.Sprintf("workspace %q is writable", cfg.Workspace), checkWritableDir(cfg.Workspace))
	check(fmt.Sprintf("control socket dir %q is writable", filepath.Dir(cfg.SocketPath)), checkWritableDir(filepath.Dir(cfg.SocketPath)))

	stack, err := buildEngineStack(cfg)
	if err != nil {
		check("tool engine bootstrap", err)
	} else {
		defs := stack.engine.List()
		fmt.Printf("%s tool engine bootstrap (%d builtin tools registered)\n", green("✓"), len(defs))
	}

	if !ok {
		fmt.Printf("\n%s one or more checks failed\n", yellow("warning:"))
		os.Exit(1)
	}
	fmt.Printf("\n%s all checks passed\n", green("✓"))
	return nil
}

func checkWritableDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	probe := filepath.Join(dir, ".agentcore-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("write probe file: %w", err)
	}
	return os.Remove(probe)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
