package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// maxScriptSourceBytes and defaultScriptTimeout implement the static
// pre-check and execution bound from spec §4.3.1.
const (
	maxScriptSourceBytes = 20 * 1024
	defaultScriptTimeout = 5 * time.Second
)

// forbiddenPatterns is the static pre-check blacklist: process/runtime
// access, dynamic import/require, raw-buffer types, global mutation,
// reflection/proxy primitives, dynamic code construction, and busy
// loops. This is a fast rejection pass only — the real isolation
// guarantee comes from the guest module never being given host
// imports (see ScriptedRunner), not from this regex list; per spec §9
// ("do not assume safety from a simple regex blacklist alone").
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bprocess\s*\.`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`\bArrayBuffer\b`),
	regexp.MustCompile(`\bSharedArrayBuffer\b`),
	regexp.MustCompile(`\bReflect\s*\.`),
	regexp.MustCompile(`\bProxy\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`while\s*\(\s*true\s*\)`),
}

// ErrForbiddenSource is returned by ValidateScriptSource when a static
// pre-check rule matches.
type ErrForbiddenSource struct {
	Reason string
}

func (e *ErrForbiddenSource) Error() string { return "forbidden_api_access: " + e.Reason }

// ValidateScriptSource runs the static pre-check from spec §4.3.1.
func ValidateScriptSource(source string) error {
	if len(source) > maxScriptSourceBytes {
		return &ErrForbiddenSource{Reason: "source exceeds 20KB limit"}
	}
	for _, p := range forbiddenPatterns {
		if p.MatchString(source) {
			return &ErrForbiddenSource{Reason: fmt.Sprintf("matched forbidden pattern %q", p.String())}
		}
	}
	return nil
}

// ScriptedRunner hosts a single guest WASM interpreter module under
// wazero and compiles each registered source string into a RunnerFunc
// closure that instantiates a fresh, host-import-free module instance
// per call. The guest module is supplied by the deployer at startup
// (e.g. a vetted scripting-language-to-WASM build); this package never
// vendors or fabricates one.
//
// Guest ABI: the module must export "memory", an allocator
// `alloc(size int32) int32`, and an entry point
// `run(sourcePtr, sourceLen, argsPtr, argsLen int32) int64` that packs
// the result as `(resultPtr<<32 | resultLen)` and writes the result
// bytes (JSON) into its own memory before returning.
type ScriptedRunner struct {
	runtime wazero.Runtime
	guest   wazero.CompiledModule
	timeout time.Duration
}

// NewScriptedRunner compiles guestWASM once. The runtime exposes no
// host imports (WASI or otherwise) to the guest, which is the actual
// sandbox boundary: a script cannot reach the filesystem, network, or
// process regardless of what it contains.
func NewScriptedRunner(ctx context.Context, guestWASM []byte, timeout time.Duration) (*ScriptedRunner, error) {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	rt := wazero.NewRuntime(ctx)
	guest, err := rt.CompileModule(ctx, guestWASM)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile guest module: %w", err)
	}
	return &ScriptedRunner{runtime: rt, guest: guest, timeout: timeout}, nil
}

// Close releases the wazero runtime and its compiled module.
func (r *ScriptedRunner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Compile validates source and returns a RunnerFunc that executes it
// in a fresh sandboxed instance on every call.
func (r *ScriptedRunner) Compile(source string) (RunnerFunc, error) {
	if err := ValidateScriptSource(source); err != nil {
		return nil, err
	}
	return func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
		return r.execute(ctx, source, args)
	}, nil
}

func (r *ScriptedRunner) execute(ctx context.Context, source string, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	// No WASI, no host module imports: the instance can observe
	// nothing outside the bytes it's handed. No host function is
	// provided, so the guest has no event-emit shim either.
	modCfg := wazero.NewModuleConfig().WithName("")
	mod, err := r.runtime.InstantiateModule(ctx, r.guest, modCfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate sandbox: %w", err)
	}
	defer mod.Close(ctx)

	alloc := mod.ExportedFunction("alloc")
	run := mod.ExportedFunction("run")
	if alloc == nil || run == nil {
		return nil, fmt.Errorf("guest module missing required exports (alloc/run)")
	}

	sourcePtr, err := writeBytes(ctx, mod, alloc, []byte(source))
	if err != nil {
		return nil, err
	}
	argsPtr, err := writeBytes(ctx, mod, alloc, argsJSON)
	if err != nil {
		return nil, err
	}

	results, err := run.Call(ctx, sourcePtr, uint64(len(source)), argsPtr, uint64(len(argsJSON)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ToolError{Code: CodeTimeout, Message: "scripted runner exceeded timeout"}
		}
		return nil, fmt.Errorf("execute script: %w", err)
	}
	packed := results[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed)

	raw, ok := mod.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("read result memory out of bounds")
	}

	// Result must be JSON-serializable; round-trip through
	// unmarshal to enforce this, replacing anything that doesn't
	// parse with a safe summary rather than failing the call.
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"_nonSerializableResultSummary": fmt.Sprintf("%d bytes, not valid JSON", len(raw))}, nil
	}
	return decoded, nil
}

func writeBytes(ctx context.Context, mod api.Module, alloc api.Function, data []byte) (uint64, error) {
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := uint32(res[0])
	if len(data) > 0 {
		if !mod.Memory().Write(ptr, data) {
			return 0, fmt.Errorf("write guest memory out of bounds")
		}
	}
	return uint64(ptr), nil
}
