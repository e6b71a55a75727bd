// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the assistant service configuration from an
// optional TOML file with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// StreamConfig tunes the SSE session behavior.
type StreamConfig struct {
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	ChunkSize         int           `toml:"chunk_size"`
	ChunkDelay        time.Duration `toml:"chunk_delay"`
}

// OpenAIConfig configures the interactive engine.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// CompletionConfig configures the fast completion engine.
type CompletionConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// EnginesConfig selects and tunes the cascade.
type EnginesConfig struct {
	// Order lists engine names in cascade priority order. The offline
	// engine is always appended when missing.
	Order []string `toml:"order"`

	// Timeout bounds a single engine attempt.
	Timeout time.Duration `toml:"timeout"`

	OpenAI     OpenAIConfig     `toml:"openai"`
	Completion CompletionConfig `toml:"completion"`
}

// PatchConfig tunes the autopatch pipeline.
type PatchConfig struct {
	// Root is the workspace directory patches apply under.
	Root string `toml:"root"`

	// BackupDir stores <uuid>.bak files; empty uses <root>/.autopatch/backups.
	BackupDir string `toml:"backup_dir"`

	ProposalCapacity int `toml:"proposal_capacity"`
	HistorySize      int `toml:"history_size"`
}

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Stream  StreamConfig  `toml:"stream"`
	Engines EnginesConfig `toml:"engines"`
	Patch   PatchConfig   `toml:"patch"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ShutdownTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			HeartbeatInterval: time.Second,
			ChunkSize:         50,
			ChunkDelay:        90 * time.Millisecond,
		},
		Engines: EnginesConfig{
			// Completion leads: the interactive engine moves to the front
			// only when a request names it explicitly.
			Order:   []string{"completion", "interactive", "offline"},
			Timeout: 30 * time.Second,
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			Completion: CompletionConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.1",
			},
		},
		Patch: PatchConfig{
			Root:             ".",
			ProposalCapacity: 50,
			HistorySize:      200,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path
// (skipped when path is empty or missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Engines.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive")
	}
	for _, name := range c.Engines.Order {
		switch name {
		case "interactive", "completion", "offline":
		default:
			return fmt.Errorf("unknown engine %q in order", name)
		}
	}
	if c.Patch.Root == "" {
		return fmt.Errorf("patch root must be set")
	}
	if c.Patch.ProposalCapacity <= 0 {
		return fmt.Errorf("proposal capacity must be positive")
	}
	return nil
}

// applyEnvOverrides layers ASSISTANT_* variables over the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ASSISTANT_ENGINE_ORDER"); v != "" {
		cfg.Engines.Order = strings.Split(v, ",")
	}
	if v := os.Getenv("ASSISTANT_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engines.Timeout = d
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Engines.OpenAI.APIKey == "" {
		cfg.Engines.OpenAI.APIKey = v
	}
	if v := os.Getenv("ASSISTANT_OPENAI_BASE_URL"); v != "" {
		cfg.Engines.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ASSISTANT_OPENAI_MODEL"); v != "" {
		cfg.Engines.OpenAI.Model = v
	}
	if v := os.Getenv("ASSISTANT_COMPLETION_URL"); v != "" {
		cfg.Engines.Completion.BaseURL = v
	}
	if v := os.Getenv("ASSISTANT_COMPLETION_MODEL"); v != "" {
		cfg.Engines.Completion.Model = v
	}
	if v := os.Getenv("ASSISTANT_PATCH_ROOT"); v != "" {
		cfg.Patch.Root = v
	}
	if v := os.Getenv("ASSISTANT_PATCH_BACKUP_DIR"); v != "" {
		cfg.Patch.BackupDir = v
	}
}
