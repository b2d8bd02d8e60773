// Package config loads wayplan.yaml, merges it over built-in defaults, and
// validates the result. Secrets never live in the file itself: values use
// {{.ENV_VAR}} placeholders or name an environment variable to read at
// wiring time.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the YAML file Initialize looks for inside the config
// directory.
const FileName = "wayplan.yaml"

// Config is the resolved configuration tree.
type Config struct {
	configDir string

	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	AI        AIConfig        `yaml:"ai"`
	Engine    EngineConfig    `yaml:"change_engine"`
	Runner    RunnerConfig    `yaml:"runner"`
	Retention RetentionConfig `yaml:"retention"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Read wayplan.yaml from configDir (an absent file means defaults)
//  2. Expand {{.ENV_VAR}} placeholders
//  3. Parse YAML
//  4. Merge file values over built-in defaults
//  5. Validate the result
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := DefaultConfig()

	var fileCfg Config
	err := loadYAML(filepath.Join(configDir, FileName), &fileCfg)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		log.Warn("No wayplan.yaml found, using built-in defaults")
	case err != nil:
		return nil, NewLoadError(FileName, err)
	default:
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}
	cfg.configDir = configDir

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"store_backend", cfg.Store.Backend,
		"ai_provider", cfg.AI.Provider,
		"server_addr", cfg.Server.Addr)
	return cfg, nil
}

// loadYAML reads one file, expands environment placeholders, and parses it
// into target.
func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Placeholders expand before parsing so the file on disk never needs
	// to carry credentials.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr must not be empty", ErrInvalidValue)
	}

	switch c.Store.Backend {
	case BackendMemory, BackendBolt, BackendPostgres:
	default:
		return fmt.Errorf("%w: store.backend %q (want memory, bolt, or postgres)", ErrInvalidValue, c.Store.Backend)
	}
	if c.Store.Backend == BackendBolt && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required for the bolt backend", ErrInvalidValue)
	}
	if c.Store.Backend == BackendPostgres {
		pg := c.Store.Postgres
		if pg.Host == "" || pg.Database == "" {
			return fmt.Errorf("%w: store.postgres needs host and database", ErrInvalidValue)
		}
		if pg.Port <= 0 || pg.Port > 65535 {
			return fmt.Errorf("%w: store.postgres.port %d", ErrInvalidValue, pg.Port)
		}
	}

	switch c.AI.Provider {
	case ProviderOpenRouter, ProviderGemini, ProviderNoop:
	default:
		return fmt.Errorf("%w: ai.provider %q (want openrouter, gemini, or noop)", ErrInvalidValue, c.AI.Provider)
	}
	if c.AI.Timeout < 0 {
		return fmt.Errorf("%w: ai.timeout must not be negative", ErrInvalidValue)
	}

	if c.Runner.Workers < 0 {
		return fmt.Errorf("%w: runner.workers must not be negative", ErrInvalidValue)
	}
	if c.Runner.QueueSize < 0 {
		return fmt.Errorf("%w: runner.queue_size must not be negative", ErrInvalidValue)
	}
	if c.Runner.RunTimeout < 0 {
		return fmt.Errorf("%w: runner.run_timeout must not be negative", ErrInvalidValue)
	}

	if c.Retention.MaxRevisions < 0 {
		return fmt.Errorf("%w: retention.max_revisions must not be negative", ErrInvalidValue)
	}
	if c.Retention.SweepInterval < 0 {
		return fmt.Errorf("%w: retention.sweep_interval must not be negative", ErrInvalidValue)
	}
	return nil
}
