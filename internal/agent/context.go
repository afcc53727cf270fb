package agent

import "fmt"

// approxTokens is the token-counting approximation used throughout
// this package: len(content)/4. A real tokenizer is a model-client
// concern (out of scope per spec §1); this is a deliberately crude but
// stable stand-in sufficient to exercise budget enforcement.
func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// BoundedContext is the sliding-window message buffer described in
// spec §3/§4.4: every append enforces token and message budgets and
// never evicts `system` messages. When a budget is exceeded, summarize
// first collapses the middle region into one synthetic summary
// message; the oldest non-system messages are then evicted until both
// budgets hold.
type BoundedContext struct {
	messages    []ContextMessage
	maxTokens   int
	maxMessages int
}

// NewBoundedContext constructs an empty BoundedContext.
func NewBoundedContext(maxTokens, maxMessages int) *BoundedContext {
	return &BoundedContext{maxTokens: maxTokens, maxMessages: maxMessages}
}

// Append adds msg, then enforces the configured budgets: summarizing
// the middle region first, then evicting the oldest non-system message
// until both budgets are satisfied.
func (c *BoundedContext) Append(msg ContextMessage) {
	c.messages = append(c.messages, msg)
	c.enforceBudgets()
}

// summarizeKeepRecentFrac controls how many of the most recent
// non-system messages Summarize preserves when enforceBudgets escalates
// to it: maxMessages/summarizeKeepRecentFrac, floored at 1.
const summarizeKeepRecentFrac = 4

func (c *BoundedContext) enforceBudgets() {
	if c.tokenCount() <= c.maxTokens && len(c.messages) <= c.maxMessages {
		return
	}

	// Per spec §4.4: when the budget would still be exceeded, collapse
	// the middle region via summarize rather than only ever evicting
	// one message at a time.
	keepRecent := c.maxMessages / summarizeKeepRecentFrac
	if keepRecent < 1 {
		keepRecent = 1
	}
	c.Summarize(keepRecent)

	// Summarize never touches system messages and leaves keepRecent
	// non-system messages untouched, so it alone may not be enough;
	// fall back to evicting the oldest non-system message (which may
	// now be the synthetic summary itself) until the budget is met or
	// only system messages remain.
	for c.tokenCount() > c.maxTokens || len(c.messages) > c.maxMessages {
		idx := c.oldestNonSystemIndex()
		if idx < 0 {
			// Every remaining message is a system message; the budget
			// cannot be satisfied without violating the invariant, so
			// stop rather than evict one.
			return
		}
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	}
}

func (c *BoundedContext) oldestNonSystemIndex() int {
	for i, m := range c.messages {
		if m.Role != RoleSystem {
			return i
		}
	}
	return -1
}

func (c *BoundedContext) tokenCount() int {
	total := 0
	for _, m := range c.messages {
		total += approxTokens(m.Content)
	}
	return total
}

// Messages returns a read-only snapshot of the current buffer.
func (c *BoundedContext) Messages() []ContextMessage {
	out := make([]ContextMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Serialize renders the current buffer as the flattened text view the
// controller concatenates into its prompt.
func (c *BoundedContext) Serialize() string {
	out := ""
	for _, m := range c.messages {
		out += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	return out
}

// Summarize collapses every message but the keepRecent most recent
// ones (and all system messages) into one synthetic summary message,
// recording how many messages were collapsed in its Meta.
func (c *BoundedContext) Summarize(keepRecent int) {
	if keepRecent < 0 {
		keepRecent = 0
	}

	var systemMsgs, rest []ContextMessage
	for _, m := range c.messages {
		if m.Role == RoleSystem {
			systemMsgs = append(systemMsgs, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) <= keepRecent {
		return
	}

	cut := len(rest) - keepRecent
	collapsed := rest[:cut]
	recent := rest[cut:]

	summary := ContextMessage{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("[summary of %d earlier messages]", len(collapsed)),
		Meta:    map[string]any{"collapsedCount": len(collapsed)},
	}

	merged := make([]ContextMessage, 0, len(systemMsgs)+1+len(recent))
	merged = append(merged, systemMsgs...)
	merged = append(merged, summary)
	merged = append(merged, recent...)
	c.messages = merged
}
