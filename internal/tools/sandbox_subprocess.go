package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultSubprocessTimeout  = 30 * time.Second
	defaultSubprocessMemoryMB = 256
	killGrace                 = time.Second
)

// SubprocessConfig configures the out-of-process runner described in
// spec §4.3.2.
type SubprocessConfig struct {
	// Interpreter is the executable invoked to run the wrapper
	// program, e.g. "python3" or "node".
	Interpreter string
	// WrapperTemplate formats into a standalone wrapper program that
	// reads one JSON object from stdin, calls the named entry
	// function with it, and prints exactly one JSON result object to
	// stdout. %s is substituted with the user source; the template
	// is entirely the deployer's responsibility per language.
	WrapperTemplate string
	// WrapperFileName names the file written into the per-call temp
	// directory, e.g. "wrapper.py".
	WrapperFileName string
	Timeout         time.Duration
	MemoryLimitMB   int
}

// SubprocessRunner executes source in an external interpreter as a
// child process with OS-level memory and wall-clock limits.
type SubprocessRunner struct {
	cfg SubprocessConfig
}

// NewSubprocessRunner builds a runner from cfg, filling in defaults.
func NewSubprocessRunner(cfg SubprocessConfig) (*SubprocessRunner, error) {
	if cfg.Interpreter == "" {
		return nil, fmt.Errorf("validation_error: interpreter required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSubprocessTimeout
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = defaultSubprocessMemoryMB
	}
	return &SubprocessRunner{cfg: cfg}, nil
}

// Compile validates source and returns a RunnerFunc that executes it
// as a fresh subprocess on every call.
func (r *SubprocessRunner) Compile(source string) (RunnerFunc, error) {
	if err := ValidateScriptSource(source); err != nil {
		return nil, err
	}
	return func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
		return r.execute(ctx, source, args)
	}, nil
}

func (r *SubprocessRunner) execute(ctx context.Context, source string, args map[string]any) (result any, err error) {
	dir, err := os.MkdirTemp("", "agentcore-tool-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wrapperPath := filepath.Join(dir, r.cfg.WrapperFileName)
	wrapperSrc := fmt.Sprintf(r.cfg.WrapperTemplate, source)
	if err := os.WriteFile(wrapperPath, []byte(wrapperSrc), 0o600); err != nil {
		return nil, fmt.Errorf("write wrapper: %w", err)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := r.buildCommand(wrapperPath)
	cmd.Stdin = bytes.NewReader(argsJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start subprocess: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case werr := <-done:
		if werr != nil {
			return nil, &ToolError{
				Code:    CodeToolExecutionError,
				Message: werr.Error(),
				Details: map[string]any{"stderr": stderr.String()},
			}
		}
	case <-runCtx.Done():
		r.gracefulStopThenKill(cmd)
		<-done
		return nil, &ToolError{Code: CodeTimeout, Message: "subprocess exceeded timeout"}
	}

	var decoded any
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return nil, &ToolError{
			Code:    CodeToolExecutionError,
			Message: "subprocess did not print a single JSON result object",
			Details: map[string]any{"stdout": stdout.String(), "stderr": stderr.String()},
		}
	}
	return decoded, nil
}

// buildCommand wraps the interpreter invocation in a shell that
// applies a virtual-memory rlimit before exec, since Go's os/exec
// cannot set rlimits in the child between fork and exec directly. If
// the platform's ulimit lacks virtual-memory support this falls back
// to the resident-set-size limit; best-effort if neither is honored
// by the shell. The command is not bound to a context: on timeout,
// execute stops it through gracefulStopThenKill.
func (r *SubprocessRunner) buildCommand(wrapperPath string) *exec.Cmd {
	limitKB := r.cfg.MemoryLimitMB * 1024
	shellCmd := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null || ulimit -m %d 2>/dev/null; exec %q %q",
		limitKB, limitKB, r.cfg.Interpreter, wrapperPath,
	)
	return exec.Command("/bin/sh", "-c", shellCmd)
}

// gracefulStopThenKill sends SIGTERM to the process group, waits
// killGrace, then sends SIGKILL if it hasn't exited.
func (r *SubprocessRunner) gracefulStopThenKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = unix.Kill(pgid, unix.SIGTERM)
	time.Sleep(killGrace)
	_ = unix.Kill(pgid, unix.SIGKILL)
}
