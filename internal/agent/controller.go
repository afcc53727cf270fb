package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vc-agent/core/internal/eventbus"
	"github.com/vc-agent/core/internal/model"
	"github.com/vc-agent/core/internal/tools"
)

// ErrTimeout is the cancellation sentinel raised at any suspension
// point when the run's deadline fires or an external abort signal is
// set; it is the only thrown type inside the controller, converted to
// a structured TerminationReason at the run boundary (spec §9).
var ErrTimeout = fmt.Errorf("timeout_error")

// ErrAgentLoop is raised when loop detection trips.
var ErrAgentLoop = fmt.Errorf("agent_loop_error")

// Controller drives one bounded reason-act loop per Run call. It holds
// only borrowed references to the Model Client, Tool Engine, and Event
// Bus; it exclusively owns its bounded context and active run state.
type Controller struct {
	cfg     Config
	client  model.Client
	engine  *tools.Engine
	bus     *eventbus.Bus
	planner *Planner
}

// New constructs a Controller. client, engine, and bus are borrowed
// references the controller never closes.
func New(cfg Config, client model.Client, engine *tools.Engine, bus *eventbus.Bus) *Controller {
	return &Controller{cfg: cfg, client: client, engine: engine, bus: bus, planner: NewPlanner()}
}

// Run drives the bounded reason-act loop for task on behalf of caller,
// per the per-iteration algorithm in spec §4.4.
func (c *Controller) Run(ctx context.Context, task string, caller tools.Caller) Result {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.GlobalTimeout)
	defer cancel()

	// Every emergency-stop event stops this run; its agentId payload
	// field is not inspected.
	var stopped atomic.Bool
	subID := c.bus.On(eventbus.KindAgentEmergencyStop, func(ev eventbus.Event) {
		stopped.Store(true)
	})
	defer c.bus.Off(subID)

	bctx := NewBoundedContext(c.cfg.MaxContextTokens, c.cfg.MaxContextMessages)
	plan := c.planner.Plan(task)
	detector := newLoopDetector(c.cfg.MaxIdenticalToolCalls)

	c.bus.Emit(eventbus.KindAgentStart, map[string]any{"task": task, "callerId": caller.ID}, nil)

	consecutiveFailures := 0
	step := 0
	var (
		answer string
		reason TerminationReason
		lastErr string
	)

loop:
	for {
		if stopped.Load() {
			reason = TerminationEmergencyStop
			break loop
		}
		if runCtx.Err() != nil {
			reason = TerminationGlobalTimeout
			lastErr = ErrTimeout.Error()
			break loop
		}
		if step >= c.cfg.MaxSteps {
			reason = TerminationMaxSteps
			break loop
		}

		c.bus.Emit(eventbus.KindAgentStep, map[string]any{"step": step + 1}, nil)

		prompt := buildPrompt(task, plan.Hint(), bctx)
		out, err := c.guardedGenerate(runCtx, prompt, caller)
		step++ // the per-iteration increment must fire on every path through the body

		if err != nil {
			if err == ErrTimeout {
				reason = TerminationGlobalTimeout
				lastErr = err.Error()
				break loop
			}
			c.bus.Emit(eventbus.KindModelError, map[string]any{"error": err.Error()}, nil)
			consecutiveFailures++
			lastErr = err.Error()
			if consecutiveFailures >= c.cfg.MaxConsecutiveFailures {
				reason = TerminationConsecutiveFailures
				break loop
			}
			continue loop
		}

		switch out.Kind {
		case model.ResponseFinal:
			bctx.Append(ContextMessage{Role: RoleAssistant, Content: out.Content})
			answer = out.Content
			reason = TerminationFinalAnswer
			break loop

		case model.ResponseTool:
			sig := signature(out.Tool, out.Arguments)
			if detector.Record(sig) {
				c.bus.Emit(eventbus.KindAgentStep, map[string]any{"step": step, "action": "loop_detected", "tool": out.Tool}, nil)
				reason = TerminationLoopDetected
				lastErr = ErrAgentLoop.Error()
				break loop
			}

			res := c.guardedInvoke(runCtx, out.Tool, out.Arguments, caller)
			bctx.Append(ContextMessage{
				Role:    RoleTool,
				Content: fmt.Sprintf("tool=%s args=%v result=%+v", out.Tool, out.Arguments, res),
				Meta:    map[string]any{"tool": out.Tool, "args": out.Arguments, "result": res},
			})
			if res.Success {
				consecutiveFailures = 0
			} else {
				consecutiveFailures++
				lastErr = res.Error.Message
				if consecutiveFailures >= c.cfg.MaxConsecutiveFailures {
					reason = TerminationConsecutiveFailures
					break loop
				}
			}

		default:
			c.bus.Emit(eventbus.KindModelResponse, map[string]any{"raw": out}, nil)
		}
	}

	c.bus.Emit(eventbus.KindAgentFinish, map[string]any{
		"reason": reason, "steps": step, "lastError": lastErr,
	}, nil)

	return Result{Answer: answer, TerminationReason: reason, Steps: step, LastError: lastErr}
}

func buildPrompt(task, hint string, bctx *BoundedContext) string {
	return fmt.Sprintf("Task: %s\nHint: %s\nContext:\n%s", task, hint, bctx.Serialize())
}

// guardedGenerate wraps the model call in a cancel-aware guard per
// spec §4.4 step 5 / §5's suspension-point requirement: the run's
// deadline or an external abort must resolve the pending await with
// ErrTimeout within one scheduler quantum, even though model.Client
// itself may not honor ctx cancellation internally.
func (c *Controller) guardedGenerate(ctx context.Context, prompt string, caller tools.Caller) (model.Output, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(stepCtx)
	var out model.Output
	g.Go(func() error {
		o, err := c.client.Generate(gctx, model.Input{
			Prompt: prompt,
			Options: model.Options{
				Temperature: 0.2,
				MaxTokens:   1024,
				Tools:       toolSpecs(c.engine),
			},
		})
		out = o
		return err
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			if stepCtx.Err() != nil {
				return model.Output{}, ErrTimeout
			}
			return model.Output{}, err
		}
		return out, nil
	case <-stepCtx.Done():
		return model.Output{}, ErrTimeout
	}
}

// guardedInvoke wraps a tool invocation in the same cancel-aware guard.
func (c *Controller) guardedInvoke(ctx context.Context, toolID string, args map[string]any, caller tools.Caller) tools.ToolResult {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()

	resultCh := make(chan tools.ToolResult, 1)
	go func() {
		resultCh <- c.engine.Invoke(stepCtx, tools.ToolInvocation{ToolID: toolID, Args: args, Caller: caller})
	}()

	select {
	case res := <-resultCh:
		return res
	case <-stepCtx.Done():
		return tools.ToolResult{Success: false, Error: &tools.ToolError{Code: tools.CodeTimeout, Message: "tool invocation exceeded step timeout"}}
	}
}

func toolSpecs(engine *tools.Engine) []model.ToolSpec {
	defs := engine.List()
	specs := make([]model.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, model.ToolSpec{Name: d.ID, Description: d.Description, Parameters: d.Schema})
	}
	return specs
}
