package main

import (
	"fmt"

	"github.com/vc-agent/core/internal/eventbus"
	"github.com/vc-agent/core/internal/tools"
	"github.com/vc-agent/core/internal/vfs"
)

// engineStack bundles the bus, VFS, and tool engine every subcommand
// needs, built identically from Config.
type engineStack struct {
	bus    *eventbus.Bus
	fs     vfs.VFS
	engine *tools.Engine
}

func buildEngineStack(cfg Config) (*engineStack, error) {
	bus := eventbus.New(eventbus.DefaultConfig())

	fs, err := vfs.NewDisk(vfs.Config{
		Base:        cfg.Workspace,
		MaxFileSize: cfg.MaxFileMB * 1024 * 1024,
		Bus:         bus,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace vfs at %s: %w", cfg.Workspace, err)
	}

	engine := tools.NewEngine(tools.Config{
		Bus:        bus,
		RateWindow: cfg.RateWindow,
		RateBurst:  cfg.RateBurst,
	})
	if err := tools.RegisterBuiltins(engine, fs, func() []string { return nil }); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	return &engineStack{bus: bus, fs: fs, engine: engine}, nil
}
