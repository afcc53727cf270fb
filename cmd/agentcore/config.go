package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vc-agent/core/internal/agent"
)

// Config is agentcore's on-disk configuration, loaded from YAML via
// --config. Every field has a workable zero-value default so the
// binary runs unconfigured.
type Config struct {
	Workspace  string        `yaml:"workspace"`
	SocketPath string        `yaml:"socketPath"`
	MaxFileMB  int           `yaml:"maxFileMB"`
	RateWindow time.Duration `yaml:"rateWindow"`
	RateBurst  int           `yaml:"rateBurst"`
	Agent      AgentSection  `yaml:"agent"`
}

// AgentSection mirrors the fields of agent.Config that are reasonable
// to expose as deployment knobs.
type AgentSection struct {
	MaxSteps               int           `yaml:"maxSteps"`
	GlobalTimeout          time.Duration `yaml:"globalTimeout"`
	StepTimeout            time.Duration `yaml:"stepTimeout"`
	MaxIdenticalToolCalls  int           `yaml:"maxIdenticalToolCalls"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	MaxContextTokens       int           `yaml:"maxContextTokens"`
	MaxContextMessages     int           `yaml:"maxContextMessages"`
}

func defaultConfig() Config {
	ac := agent.DefaultConfig()
	return Config{
		Workspace:  "./workspace",
		SocketPath: "/tmp/agentcore.sock",
		MaxFileMB:  10,
		RateWindow: time.Minute,
		RateBurst:  30,
		Agent: AgentSection{
			MaxSteps:               ac.MaxSteps,
			GlobalTimeout:          ac.GlobalTimeout,
			StepTimeout:            ac.StepTimeout,
			MaxIdenticalToolCalls:  ac.MaxIdenticalToolCalls,
			MaxConsecutiveFailures: ac.MaxConsecutiveFailures,
			MaxContextTokens:       ac.MaxContextTokens,
			MaxContextMessages:     ac.MaxContextMessages,
		},
	}
}

// loadConfig reads cfgPath if set, overlaying it onto the defaults; an
// unset --config is not an error, it just runs with defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) toAgentConfig() agent.Config {
	return agent.Config{
		MaxSteps:               c.Agent.MaxSteps,
		GlobalTimeout:          c.Agent.GlobalTimeout,
		StepTimeout:            c.Agent.StepTimeout,
		MaxIdenticalToolCalls:  c.Agent.MaxIdenticalToolCalls,
		MaxConsecutiveFailures: c.Agent.MaxConsecutiveFailures,
		MaxContextTokens:       c.Agent.MaxContextTokens,
		MaxContextMessages:     c.Agent.MaxContextMessages,
	}
}
