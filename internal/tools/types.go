// Package tools implements the Tool Engine: a typed registry, schema
// validator, permission gate, rate limiter, and dispatcher for the
// side-effecting operations an agent may invoke.
package tools

import "fmt"

// Permission is a member of the closed permission-token enum. Strings
// outside this set are dropped with a warning at registration time
// rather than stored.
type Permission string

const (
	PermVFSRead         Permission = "vfs.read"
	PermVFSWrite        Permission = "vfs.write"
	PermVFSDelete       Permission = "vfs.delete"
	PermNetFetch        Permission = "net.fetch"
	PermProcessExecute  Permission = "process.execute"
	PermPythonExecute   Permission = "python.execute"
	PermJSExecute       Permission = "js.execute"
	PermToolRun         Permission = "tool.run"
	PermModelCall       Permission = "model.call"
)

var validPermissions = map[Permission]bool{
	PermVFSRead:        true,
	PermVFSWrite:       true,
	PermVFSDelete:      true,
	PermNetFetch:       true,
	PermProcessExecute: true,
	PermPythonExecute:  true,
	PermJSExecute:      true,
	PermToolRun:        true,
	PermModelCall:      true,
}

// IsValidPermission reports whether p is a member of the closed enum.
func IsValidPermission(p Permission) bool { return validPermissions[p] }

// RunnerKind tags which execution strategy backs a ToolDefinition.
type RunnerKind string

const (
	RunnerBuiltin    RunnerKind = "builtin"
	RunnerScripted   RunnerKind = "scripted-inprocess"
	RunnerSubprocess RunnerKind = "subprocess"
)

// Caller is the authenticated entity a tool is invoked on behalf of.
type Caller struct {
	ID                 string
	GrantedPermissions []Permission
}

// Has reports whether the caller holds permission p.
func (c Caller) Has(p Permission) bool {
	for _, g := range c.GrantedPermissions {
		if g == p {
			return true
		}
	}
	return false
}

// ToolDefinition describes a registered tool. Immutable once stored.
type ToolDefinition struct {
	ID                  string
	Name                string
	Description         string
	RunnerKind          RunnerKind
	Schema              map[string]any // JSON-Schema-equivalent, optional
	RequiredPermissions []Permission
}

// ToolInvocation is one call into the engine.
type ToolInvocation struct {
	ToolID string
	Args   map[string]any
	Caller Caller
}

// ToolError is the structured failure shape carried by a ToolResult.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToolResult is the value type returned synchronously from invoke.
// Exactly one of Data/Error is populated.
type ToolResult struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// Stable error codes, per spec §7.
const (
	CodeToolNotFound           = "tool_not_found"
	CodeRateLimitExceeded      = "rate_limit_exceeded"
	CodeInsufficientPerms      = "insufficient_permissions"
	CodeValidationFailed       = "validation_failed"
	CodeToolExecutionError     = "tool_execution_error"
	CodeRunnerDisabled         = "runner_disabled"
	CodeForbiddenAPIAccess     = "forbidden_api_access"
	CodeTimeout                = "timeout_error"
	CodeDuplicateToolID        = "duplicate_tool_id"
)

func errResult(code, message string, details map[string]any) ToolResult {
	return ToolResult{Success: false, Error: &ToolError{Code: code, Message: message, Details: details}}
}

func okResult(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}
