// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/store"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/telemetry"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
	"github.com/AleutianAI/simdeck/pkg/logging"
)

// SimdeckConfig is the root of ~/.simdeck/simdeck.yaml.
type SimdeckConfig struct {
	Backend   BackendConfig    `yaml:"backend" validate:"required"`
	Polling   PollingConfig    `yaml:"polling"`
	Logs      LogsConfig       `yaml:"logs"`
	Platforms PlatformsConfig  `yaml:"platforms"`
	Layout    layout.Params    `yaml:"layout"`
	Store     StoreConfig      `yaml:"store"`
	Viewer    ViewerConfig     `yaml:"viewer"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// BackendConfig points the client at the simulation backend.
type BackendConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay         time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay          time.Duration `yaml:"max_delay" validate:"gte=0"`
	RetryJitter       float64       `yaml:"retry_jitter" validate:"gte=0,lte=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	CloseEnvTimeout   time.Duration `yaml:"close_env_timeout" validate:"gte=0"`
}

// PollingConfig holds poll periods.
type PollingConfig struct {
	Intervals    orchestrator.Intervals `yaml:"intervals"`
	ProbeTimeout time.Duration          `yaml:"probe_timeout" validate:"gte=0"`
}

// LogsConfig sizes the diagnostic logs shown per phase.
type LogsConfig struct {
	Capacity      int `yaml:"capacity" validate:"gte=1"`
	RunCapacity   int `yaml:"run_capacity" validate:"gte=1"`
	RecentActions int `yaml:"recent_actions" validate:"gte=0"`
}

// PlatformsConfig selects which simulated platforms run.
type PlatformsConfig struct {
	Twitter         bool   `yaml:"twitter"`
	Reddit          bool   `yaml:"reddit"`
	ProfilePlatform string `yaml:"profile_platform" validate:"oneof=twitter reddit"`
}

// StoreConfig locates the local session store.
type StoreConfig struct {
	// Path is the badger directory. Supports ~.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`

	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// ViewerConfig configures `simdeck serve`.
type ViewerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// Iterations is how many layout ticks run per push interval.
	Iterations int `yaml:"iterations" validate:"gte=1"`

	PushInterval time.Duration `yaml:"push_interval" validate:"gt=0"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SimdeckConfig {
	apiCfg := api.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	return SimdeckConfig{
		Backend: BackendConfig{
			BaseURL:           apiCfg.BaseURL,
			Timeout:           apiCfg.Timeout,
			MaxAttempts:       apiCfg.MaxAttempts,
			BaseDelay:         apiCfg.BaseDelay,
			MaxDelay:          apiCfg.MaxDelay,
			RetryJitter:       apiCfg.Jitter,
			RequestsPerSecond: apiCfg.RequestsPerSecond,
			Burst:             apiCfg.Burst,
			CloseEnvTimeout:   util.DefaultGracefulCloseTimeout,
		},
		Polling: PollingConfig{
			Intervals:    orch.Intervals,
			ProbeTimeout: orch.ProbeTimeout,
		},
		Logs: LogsConfig{
			Capacity:      reconcile.DefaultLogCapacity,
			RunCapacity:   reconcile.RunLogCapacity,
			RecentActions: orch.RecentActions,
		},
		Platforms: PlatformsConfig{
			Twitter:         orch.EnableTwitter,
			Reddit:          orch.EnableReddit,
			ProfilePlatform: orch.ProfilePlatform,
		},
		Layout: layout.DefaultParams(),
		Store: StoreConfig{
			Path:       "~/.simdeck/store",
			GCInterval: store.DefaultConfig("").GCInterval,
		},
		Viewer: ViewerConfig{
			Addr:         ":8088",
			Iterations:   30,
			PushInterval: 250 * time.Millisecond,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.simdeck/logs",
		},
	}
}

// =============================================================================
// Converters
// =============================================================================

// APIConfig returns the backend client settings.
func (c SimdeckConfig) APIConfig() api.Config {
	return api.Config{
		BaseURL:           c.Backend.BaseURL,
		Timeout:           c.Backend.Timeout,
		MaxAttempts:       c.Backend.MaxAttempts,
		BaseDelay:         c.Backend.BaseDelay,
		MaxDelay:          c.Backend.MaxDelay,
		Jitter:            c.Backend.RetryJitter,
		RequestsPerSecond: c.Backend.RequestsPerSecond,
		Burst:             c.Backend.Burst,
	}
}

// OrchestratorConfig returns the pipeline settings.
func (c SimdeckConfig) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Intervals:       c.Polling.Intervals,
		ProbeTimeout:    c.Polling.ProbeTimeout,
		LogCapacity:     c.Logs.Capacity,
		RunLogCapacity:  c.Logs.RunCapacity,
		RecentActions:   c.Logs.RecentActions,
		EnableTwitter:   c.Platforms.Twitter,
		EnableReddit:    c.Platforms.Reddit,
		ProfilePlatform: c.Platforms.ProfilePlatform,
	}
}

// BadgerConfig returns the store settings with ~ expanded.
func (c SimdeckConfig) BadgerConfig() store.Config {
	cfg := store.DefaultConfig(ExpandPath(c.Store.Path))
	cfg.GCInterval = c.Store.GCInterval
	return cfg
}

// LoggerConfig returns the logger settings for service.
func (c SimdeckConfig) LoggerConfig(service string) logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}
