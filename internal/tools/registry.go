package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vc-agent/core/internal/eventbus"
)

// Config configures an Engine.
type Config struct {
	Bus *eventbus.Bus
	// RateWindow/RateBurst configure the per-(caller,tool) token
	// bucket. Zero values fall back to the package defaults (1s / 10).
	RateWindow time.Duration
	RateBurst  int
}

// Engine is the Tool Engine: registry, authorization gate, rate
// limiter, and dispatcher described in spec §4.3.
type Engine struct {
	mu   sync.RWMutex
	defs map[string]ToolDefinition
	runs map[string]RunnerFunc
	sch  map[string]*jsonschema.Schema

	bus     *eventbus.Bus
	limiter *rateLimiter
}

// NewEngine constructs an empty Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		defs:    make(map[string]ToolDefinition),
		runs:    make(map[string]RunnerFunc),
		sch:     make(map[string]*jsonschema.Schema),
		bus:     cfg.Bus,
		limiter: newRateLimiter(cfg.RateWindow, cfg.RateBurst),
	}
}

// Close stops the engine's background rate-limiter cleanup ticker.
func (e *Engine) Close() { e.limiter.Stop() }

// Register adds a tool definition and its runner. Duplicate ids are
// rejected; permission tokens in RequiredPermissions outside the closed
// enum are dropped with a warning rather than stored, per spec §4.3.
func (e *Engine) Register(def ToolDefinition, runner RunnerFunc) error {
	if def.ID == "" {
		return fmt.Errorf("validation_error: tool id required")
	}
	if runner == nil {
		return fmt.Errorf("validation_error: tool %s: runner required", def.ID)
	}

	kept := make([]Permission, 0, len(def.RequiredPermissions))
	for _, p := range def.RequiredPermissions {
		if IsValidPermission(p) {
			kept = append(kept, p)
		} else {
			fmt.Fprintf(os.Stderr, "tools: dropping unknown permission token %q for tool %s\n", p, def.ID)
		}
	}
	def.RequiredPermissions = kept

	var compiled *jsonschema.Schema
	if def.Schema != nil {
		c, err := compileSchema(def.ID, def.Schema)
		if err != nil {
			return fmt.Errorf("validation_error: tool %s: compile schema: %w", def.ID, err)
		}
		compiled = c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.defs[def.ID]; exists {
		return fmt.Errorf("%s: tool %s already registered", CodeDuplicateToolID, def.ID)
	}
	e.defs[def.ID] = def
	e.runs[def.ID] = runner
	if compiled != nil {
		e.sch[def.ID] = compiled
	}
	return nil
}

// RegisterScripted validates source against the static pre-check,
// compiles it through the scripted sandbox runner, and registers the
// resulting closure. A forbidden-pattern match emits a Security event
// and fails registration, per spec §4.3.1.
func (e *Engine) RegisterScripted(def ToolDefinition, source string, sandbox *ScriptedRunner) error {
	def.RunnerKind = RunnerScripted
	runner, err := sandbox.Compile(source)
	if err != nil {
		e.emitSecurity("forbidden_api_access", map[string]any{"tool": def.ID, "reason": err.Error()})
		return fmt.Errorf("%s: %w", CodeForbiddenAPIAccess, err)
	}
	return e.Register(def, runner)
}

// RegisterSubprocess validates source and registers it behind the
// subprocess sandbox runner, per spec §4.3.2.
func (e *Engine) RegisterSubprocess(def ToolDefinition, source string, sandbox *SubprocessRunner) error {
	def.RunnerKind = RunnerSubprocess
	runner, err := sandbox.Compile(source)
	if err != nil {
		e.emitSecurity("forbidden_api_access", map[string]any{"tool": def.ID, "reason": err.Error()})
		return fmt.Errorf("%s: %w", CodeForbiddenAPIAccess, err)
	}
	return e.Register(def, runner)
}

func compileSchema(toolID string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resourceName := "tool:" + toolID
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resourceName)
}

// List returns every registered definition, sorted by id.
func (e *Engine) List() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoke runs the 5-step invocation algorithm from spec §4.3: lookup,
// rate limit, permission check, schema validation, dispatch.
func (e *Engine) Invoke(ctx context.Context, inv ToolInvocation) ToolResult {
	e.mu.RLock()
	def, found := e.defs[inv.ToolID]
	runner := e.runs[inv.ToolID]
	schema := e.sch[inv.ToolID]
	e.mu.RUnlock()

	if !found {
		return errResult(CodeToolNotFound, fmt.Sprintf("tool %q not registered", inv.ToolID), nil)
	}

	if ok, resetAt := e.limiter.Allow(inv.Caller.ID, inv.ToolID); !ok {
		e.emitSecurity("rate_limit_exceeded", map[string]any{"tool": inv.ToolID, "caller": inv.Caller.ID})
		return errResult(CodeRateLimitExceeded, "rate limit exceeded", map[string]any{
			"resetTime": resetAt,
		})
	}

	var missing []string
	for _, p := range def.RequiredPermissions {
		if !inv.Caller.Has(p) {
			missing = append(missing, string(p))
		}
	}
	if len(missing) > 0 {
		e.emitSecurity("permission_denied", map[string]any{"tool": inv.ToolID, "caller": inv.Caller.ID, "missing": missing})
		return errResult(CodeInsufficientPerms, "missing required permissions", map[string]any{"missing": missing})
	}

	if schema != nil {
		if errs := validateArgs(schema, inv.Args); len(errs) > 0 {
			e.emit(eventbus.KindToolError, map[string]any{"tool": inv.ToolID, "errors": errs})
			return errResult(CodeValidationFailed, "argument validation failed", map[string]any{"errors": errs})
		}
	}

	invocationID := e.emit(eventbus.KindToolInvocation, map[string]any{
		"tool": inv.ToolID, "args": inv.Args, "caller": inv.Caller.ID,
	})

	data, err := e.dispatch(ctx, runner, inv)
	if err != nil {
		e.emit(eventbus.KindToolError, map[string]any{
			"tool": inv.ToolID, "invocationId": invocationID, "error": err.Error(),
		})
		if te, ok := err.(*ToolError); ok {
			return ToolResult{Success: false, Error: te}
		}
		return errResult(CodeToolExecutionError, err.Error(), nil)
	}

	e.emit(eventbus.KindToolResult, map[string]any{
		"tool": inv.ToolID, "invocationId": invocationID, "result": data,
	})
	return okResult(data)
}

// dispatch invokes the runner and recovers from any panic, converting
// it into an error so a runner can never crash the caller.
func (e *Engine) dispatch(ctx context.Context, runner RunnerFunc, inv ToolInvocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return runner(ctx, inv.Args, inv.Caller)
}

func (e *Engine) emit(kind eventbus.Kind, payload any) string {
	if e.bus == nil {
		return ""
	}
	return e.bus.Emit(kind, payload, nil).ID
}

func (e *Engine) emitSecurity(eventType string, details map[string]any) {
	if e.bus == nil {
		return
	}
	details["type"] = eventType
	e.bus.Emit(eventbus.KindSecurity, details, nil)
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) []string {
	// jsonschema validates decoded-JSON instances; args is already a
	// plain map[string]any so it can be validated directly.
	if err := schema.Validate(map[string]any(args)); err != nil {
		return []string{err.Error()}
	}
	return nil
}
