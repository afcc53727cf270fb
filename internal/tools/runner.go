package tools

import "context"

// RunnerFunc is the capability every runner kind is reduced to once
// registration compiles/wraps its source: invoke(args, ctx) -> result.
// This is the tagged-variant collapse described for Runner =
// Builtin(fn) | Scripted(source) | Subprocess(source, language): each
// constructor below produces a RunnerFunc closure, so dispatch never
// needs to switch on the originating kind again.
type RunnerFunc func(ctx context.Context, args map[string]any, caller Caller) (any, error)

// Builtin wraps a native Go function as a RunnerFunc.
func Builtin(fn RunnerFunc) RunnerFunc { return fn }
