package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"

	"github.com/vc-agent/core/internal/vfs"
)

// RegisterBuiltins wires the built-in tools that ship with the engine,
// per spec §4.3: file read/write/delete/list, version-diff, snapshot,
// content-hash, text transforms, process-info query, and a
// list-installed-models query.
func RegisterBuiltins(e *Engine, fs vfs.VFS, installedModels func() []string) error {
	builtins := []struct {
		def    ToolDefinition
		runner RunnerFunc
	}{
		{
			def: ToolDefinition{
				ID: "fs.read", Name: "Read file", RunnerKind: RunnerBuiltin,
				Description:         "Read the current content of a file.",
				RequiredPermissions: []Permission{PermVFSRead},
				Schema:              stringArgSchema("path"),
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				path, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				content, ok, err := fs.Read(path)
				if err != nil {
					return nil, err
				}
				if !ok {
					return map[string]any{"found": false}, nil
				}
				return map[string]any{"found": true, "content": string(content)}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "fs.write", Name: "Write file", RunnerKind: RunnerBuiltin,
				Description:         "Create or overwrite a file with new content.",
				RequiredPermissions: []Permission{PermVFSWrite},
				Schema: map[string]any{
					"type":     "object",
					"required": []any{"path", "content"},
					"properties": map[string]any{
						"path":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
				},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				path, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				content, err := stringArg(args, "content")
				if err != nil {
					return nil, err
				}
				v, err := fs.Write(path, []byte(content), caller.ID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"versionId": v.ID, "hash": v.Hash}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "fs.delete", Name: "Delete file", RunnerKind: RunnerBuiltin,
				Description:         "Remove the current mapping for a path; history is retained.",
				RequiredPermissions: []Permission{PermVFSDelete},
				Schema:              stringArgSchema("path"),
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				path, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				p, err := fs.Delete(path, caller.ID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true, "path": p}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "fs.list", Name: "List files", RunnerKind: RunnerBuiltin,
				Description:         "List every path currently present in the VFS.",
				RequiredPermissions: []Permission{PermVFSRead},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				paths, err := fs.List()
				if err != nil {
					return nil, err
				}
				return map[string]any{"paths": paths}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "fs.diff", Name: "Diff versions", RunnerKind: RunnerBuiltin,
				Description:         "Structurally compare two file versions.",
				RequiredPermissions: []Permission{PermVFSRead},
				Schema: map[string]any{
					"type":     "object",
					"required": []any{"fromId", "toId"},
					"properties": map[string]any{
						"fromId": map[string]any{"type": "string"},
						"toId":   map[string]any{"type": "string"},
					},
				},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				fromID, err := stringArg(args, "fromId")
				if err != nil {
					return nil, err
				}
				toID, err := stringArg(args, "toId")
				if err != nil {
					return nil, err
				}
				d, err := fs.Diff(fromID, toID)
				if err != nil {
					return nil, err
				}
				return d, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "fs.snapshot", Name: "Snapshot VFS", RunnerKind: RunnerBuiltin,
				Description:         "Capture the current path->content map atomically.",
				RequiredPermissions: []Permission{PermVFSRead},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				id, err := fs.Snapshot(caller.ID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"snapshotId": id}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "system.hash", Name: "Content hash", RunnerKind: RunnerBuiltin,
				Description:         "SHA-256 hex digest of a string.",
				RequiredPermissions: nil,
				Schema:              stringArgSchema("content"),
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				content, err := stringArg(args, "content")
				if err != nil {
					return nil, err
				}
				sum := sha256.Sum256([]byte(content))
				return map[string]any{"hash": hex.EncodeToString(sum[:])}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "text.uppercase", Name: "Uppercase text", RunnerKind: RunnerBuiltin,
				Description:         "Uppercase a string.",
				RequiredPermissions: nil,
				Schema:              stringArgSchema("content"),
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				content, err := stringArg(args, "content")
				if err != nil {
					return nil, err
				}
				return map[string]any{"content": strings.ToUpper(content)}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "text.lowercase", Name: "Lowercase text", RunnerKind: RunnerBuiltin,
				Description:         "Lowercase a string.",
				RequiredPermissions: nil,
				Schema:              stringArgSchema("content"),
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				content, err := stringArg(args, "content")
				if err != nil {
					return nil, err
				}
				return map[string]any{"content": strings.ToLower(content)}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "system.process_info", Name: "Process info", RunnerKind: RunnerBuiltin,
				Description:         "Report basic info about the host process.",
				RequiredPermissions: []Permission{PermProcessExecute},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				return map[string]any{
					"goVersion": runtime.Version(),
					"os":        runtime.GOOS,
					"arch":      runtime.GOARCH,
					"numCPU":    runtime.NumCPU(),
					"numGoroutine": runtime.NumGoroutine(),
				}, nil
			},
		},
		{
			def: ToolDefinition{
				ID: "model.list_installed", Name: "List installed models", RunnerKind: RunnerBuiltin,
				Description:         "List model identifiers available to the local model subsystem.",
				RequiredPermissions: []Permission{PermModelCall},
			},
			runner: func(ctx context.Context, args map[string]any, caller Caller) (any, error) {
				var models []string
				if installedModels != nil {
					models = installedModels()
				}
				return map[string]any{"models": models}, nil
			},
		},
	}

	for _, b := range builtins {
		if err := e.Register(b.def, b.runner); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.def.ID, err)
		}
	}
	return nil
}

func stringArgSchema(name string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{name},
		"properties": map[string]any{
			name: map[string]any{"type": "string"},
		},
	}
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", &ToolError{Code: CodeValidationFailed, Message: fmt.Sprintf("missing argument %q", name)}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ToolError{Code: CodeValidationFailed, Message: fmt.Sprintf("argument %q must be a string", name)}
	}
	return s, nil
}
