// Package model declares the Model Client contract (spec §6.1): the
// one external dependency the Agent Controller calls through to
// produce tool calls and final answers. No concrete client lives here —
// local-subprocess, remote-HTTP, and mock implementations are explicit
// non-goals of this module.
package model

import "context"

// Options bounds a single generate call.
type Options struct {
	// Temperature must be within [0,1].
	Temperature float64
	// MaxTokens must be a positive int.
	MaxTokens int
	// Tools are the structured tool specs offered to the model for
	// this call.
	Tools []ToolSpec
}

// ToolSpec is the structural description of one tool offered to the
// model, independent of the Tool Engine's own ToolDefinition type.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // structural schema, optional
}

// Input is one generate request.
type Input struct {
	Prompt  string
	Context []string
	Options Options
}

// ResponseKind tags which shape an Output takes.
type ResponseKind string

const (
	ResponseFinal ResponseKind = "final"
	ResponseTool  ResponseKind = "tool"
)

// Usage reports token accounting for a call, when the client tracks it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Output is the result of one generate call. Kind discriminates which
// of the remaining fields are meaningful: Final carries Content;
// Tool carries Tool/Arguments.
type Output struct {
	Kind      ResponseKind
	Content   string
	Tool      string
	Arguments map[string]any
	Usage     *Usage
}

// ErrorClass buckets a ModelError for retry-policy purposes. The
// client is expected to have already retried transient classes with
// its own exponential backoff before returning; the controller never
// retries on the client's behalf.
type ErrorClass string

const (
	ErrorClassTransient    ErrorClass = "transient" // rate-limit, network, server-overload
	ErrorClassNonTransient ErrorClass = "non_transient"
)

// ModelError is the error shape returned by a failing Generate/Stream
// call.
type ModelError struct {
	Class   ErrorClass
	Message string
}

func (e *ModelError) Error() string { return string(e.Class) + ": " + e.Message }

// StreamChunk is one partial output from Stream.
type StreamChunk struct {
	Content string
}

// Client is the Model Client contract. Implementations live outside
// this module; the Agent Controller depends only on this interface.
type Client interface {
	// Generate produces one Output for Input, or a *ModelError.
	Generate(ctx context.Context, input Input) (Output, error)
}

// StreamingClient is an optional capability: a Client may additionally
// support incremental output. The core does not require it, but any
// implementation offering it must still resolve to a final
// {kind: final|tool} Output at end-of-stream via the embedded Client.
type StreamingClient interface {
	Client
	Stream(ctx context.Context, input Input) (<-chan StreamChunk, <-chan error)
}
