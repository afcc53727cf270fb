package agent

import (
	"strings"
	"testing"
)

func TestAppendNeverEvictsSystemMessages(t *testing.T) {
	bctx := NewBoundedContext(1000, 3)
	bctx.Append(ContextMessage{Role: RoleSystem, Content: "system prompt"})
	for i := 0; i < 10; i++ {
		bctx.Append(ContextMessage{Role: RoleUser, Content: "message"})
	}

	msgs := bctx.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system message to survive eviction, got %+v", msgs[0])
	}
}

func TestAppendSummarizesWhenMessageBudgetExceeded(t *testing.T) {
	bctx := NewBoundedContext(100_000, 8)
	bctx.Append(ContextMessage{Role: RoleSystem, Content: "system prompt"})
	for i := 0; i < 20; i++ {
		bctx.Append(ContextMessage{Role: RoleUser, Content: "message"})
	}

	msgs := bctx.Messages()
	if len(msgs) > 8 {
		t.Fatalf("expected message budget to be enforced, got %d messages", len(msgs))
	}

	var sawSummary bool
	for _, m := range msgs {
		if m.Meta != nil {
			if _, ok := m.Meta["collapsedCount"]; ok {
				sawSummary = true
			}
		}
	}
	if !sawSummary {
		t.Fatalf("expected a summary message with collapsedCount meta, got %+v", msgs)
	}
}

func TestAppendEnforcesTokenBudget(t *testing.T) {
	bctx := NewBoundedContext(20, 1000)
	bctx.Append(ContextMessage{Role: RoleSystem, Content: "system prompt"})
	for i := 0; i < 10; i++ {
		bctx.Append(ContextMessage{Role: RoleUser, Content: strings.Repeat("x", 40)})
	}

	if bctx.tokenCount() > 20 {
		t.Fatalf("expected token budget to be enforced, got %d tokens: %+v", bctx.tokenCount(), bctx.Messages())
	}
	msgs := bctx.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system message to survive, got %+v", msgs[0])
	}
}

func TestSummarizeCollapsesMiddleRegionAndKeepsRecent(t *testing.T) {
	bctx := NewBoundedContext(100_000, 100_000)
	bctx.Append(ContextMessage{Role: RoleSystem, Content: "system prompt"})
	for i := 0; i < 6; i++ {
		bctx.Append(ContextMessage{Role: RoleUser, Content: "message"})
	}

	bctx.Summarize(2)

	msgs := bctx.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system message first, got %+v", msgs[0])
	}
	if len(msgs) != 1+1+2 { // system + summary + 2 kept recent
		t.Fatalf("expected system+summary+2 recent messages, got %d: %+v", len(msgs), msgs)
	}
	collapsedCount, ok := msgs[1].Meta["collapsedCount"]
	if !ok || collapsedCount != 4 {
		t.Fatalf("expected collapsedCount=4 on the summary message, got %+v", msgs[1])
	}
}

func TestSummarizeIsNoOpWhenNothingExceedsKeepRecent(t *testing.T) {
	bctx := NewBoundedContext(100_000, 100_000)
	bctx.Append(ContextMessage{Role: RoleUser, Content: "only message"})

	bctx.Summarize(5)

	msgs := bctx.Messages()
	if len(msgs) != 1 || msgs[0].Content != "only message" {
		t.Fatalf("expected summarize to be a no-op, got %+v", msgs)
	}
}
