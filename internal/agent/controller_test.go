package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vc-agent/core/internal/eventbus"
	"github.com/vc-agent/core/internal/model"
	"github.com/vc-agent/core/internal/tools"
)

type scriptedClient struct {
	mu       sync.Mutex
	outputs  []model.Output
	errs     []error
	delays   []time.Duration
	callIdx  int
}

func (s *scriptedClient) Generate(ctx context.Context, input model.Input) (model.Output, error) {
	s.mu.Lock()
	i := s.callIdx
	s.callIdx++
	s.mu.Unlock()

	if i < len(s.delays) && s.delays[i] > 0 {
		select {
		case <-time.After(s.delays[i]):
		case <-ctx.Done():
			return model.Output{}, ctx.Err()
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return model.Output{}, s.errs[i]
	}
	if i < len(s.outputs) {
		return s.outputs[i], nil
	}
	return model.Output{Kind: model.ResponseFinal, Content: "fallback"}, nil
}

func testCaller() tools.Caller {
	return tools.Caller{ID: "caller-1", GrantedPermissions: []tools.Permission{tools.PermVFSRead, tools.PermVFSWrite}}
}

func TestRunHappyPathFinalAnswer(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()

	client := &scriptedClient{outputs: []model.Output{{Kind: model.ResponseFinal, Content: "Hi."}}}
	ctrl := New(DefaultConfig(), client, engine, bus)

	res := ctrl.Run(context.Background(), "hello", testCaller())
	if res.TerminationReason != TerminationFinalAnswer {
		t.Fatalf("expected final-answer, got %s (lastErr=%s)", res.TerminationReason, res.LastError)
	}
	if res.Answer != "Hi." {
		t.Fatalf("got answer %q", res.Answer)
	}
}

func TestRunToolCallThenFinal(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()
	if err := engine.Register(tools.ToolDefinition{ID: "noop", RunnerKind: tools.RunnerBuiltin}, func(ctx context.Context, args map[string]any, c tools.Caller) (any, error) {
		return map[string]any{"ok": true}, nil
	}); err != nil {
		t.Fatal(err)
	}

	client := &scriptedClient{outputs: []model.Output{
		{Kind: model.ResponseTool, Tool: "noop", Arguments: map[string]any{}},
		{Kind: model.ResponseFinal, Content: "done"},
	}}
	ctrl := New(DefaultConfig(), client, engine, bus)

	res := ctrl.Run(context.Background(), "create foo", testCaller())
	if res.TerminationReason != TerminationFinalAnswer {
		t.Fatalf("expected final-answer, got %s", res.TerminationReason)
	}
	if res.Steps != 2 {
		t.Fatalf("expected 2 steps, got %d", res.Steps)
	}
}

func TestRunMaxStepsTerminatesAfterExactlyN(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()
	if err := engine.Register(tools.ToolDefinition{ID: "t"}, func(ctx context.Context, args map[string]any, c tools.Caller) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.MaxSteps = 5
	cfg.MaxIdenticalToolCalls = 1000 // keep loop detection out of the way
	client := &scriptedClient{}
	// Always ask for a distinct tool call so neither loop detection
	// nor a final answer short-circuits the run.
	for i := 0; i < cfg.MaxSteps+2; i++ {
		client.outputs = append(client.outputs, model.Output{
			Kind: model.ResponseTool, Tool: "t", Arguments: map[string]any{"n": i},
		})
	}
	ctrl := New(cfg, client, engine, bus)

	res := ctrl.Run(context.Background(), "loop forever", testCaller())
	if res.TerminationReason != TerminationMaxSteps {
		t.Fatalf("expected max-steps, got %s", res.TerminationReason)
	}
	if res.Steps != cfg.MaxSteps {
		t.Fatalf("expected exactly %d steps, got %d", cfg.MaxSteps, res.Steps)
	}
}

func TestRunLoopDetectionAfterFourIdenticalCalls(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()
	calls := 0
	if err := engine.Register(tools.ToolDefinition{ID: "test.tool"}, func(ctx context.Context, args map[string]any, c tools.Caller) (any, error) {
		calls++
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.MaxIdenticalToolCalls = 3
	client := &scriptedClient{}
	for i := 0; i < 4; i++ {
		client.outputs = append(client.outputs, model.Output{Kind: model.ResponseTool, Tool: "test.tool", Arguments: map[string]any{}})
	}
	ctrl := New(cfg, client, engine, bus)

	res := ctrl.Run(context.Background(), "repeat", testCaller())
	if res.TerminationReason != TerminationLoopDetected {
		t.Fatalf("expected loop-detected, got %s", res.TerminationReason)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 successful invocations before the loop was caught, got %d", calls)
	}
}

func TestRunGlobalTimeout(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()

	cfg := DefaultConfig()
	cfg.GlobalTimeout = 50 * time.Millisecond
	cfg.StepTimeout = 200 * time.Millisecond
	client := &scriptedClient{delays: []time.Duration{500 * time.Millisecond}}
	ctrl := New(cfg, client, engine, bus)

	start := time.Now()
	res := ctrl.Run(context.Background(), "slow", testCaller())
	elapsed := time.Since(start)

	if res.TerminationReason != TerminationGlobalTimeout {
		t.Fatalf("expected global-timeout, got %s", res.TerminationReason)
	}
	if elapsed > 400*time.Millisecond {
		t.Fatalf("expected timeout to fire promptly, took %s", elapsed)
	}
}

func TestRunEmitsAgentStartBeforeStepsBeforeFinish(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	engine := tools.NewEngine(tools.Config{Bus: bus})
	defer engine.Close()

	client := &scriptedClient{outputs: []model.Output{{Kind: model.ResponseFinal, Content: "ok"}}}
	ctrl := New(DefaultConfig(), client, engine, bus)

	var kinds []eventbus.Kind
	bus.On(eventbus.KindAny, func(ev eventbus.Event) { kinds = append(kinds, ev.Kind) })

	ctrl.Run(context.Background(), "hi", testCaller())

	if len(kinds) < 3 {
		t.Fatalf("expected at least 3 events, got %v", kinds)
	}
	if kinds[0] != eventbus.KindAgentStart {
		t.Fatalf("expected AgentStart first, got %s", kinds[0])
	}
	if kinds[len(kinds)-1] != eventbus.KindAgentFinish {
		t.Fatalf("expected AgentFinish last, got %s", kinds[len(kinds)-1])
	}
}
