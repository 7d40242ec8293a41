package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// orchestratorYAMLConfig mirrors the on-disk project graph described in §6:
// a single declarative file loaded once at boot and re-loaded on SIGHUP.
type orchestratorYAMLConfig struct {
	DataDir     string                     `yaml:"data_dir"`
	WorktreeDir string                     `yaml:"worktree_dir"`
	Port        int                        `yaml:"port"`

	Defaults  *Defaults                    `yaml:"defaults"`
	Lifecycle *LifecycleConfig             `yaml:"lifecycle"`
	Retention *RetentionConfig             `yaml:"retention"`
	Analytics *AnalyticsConfig             `yaml:"analytics"`

	Projects map[string]*ProjectConfig     `yaml:"projects"`
	Notifiers map[string]NotifierConfig    `yaml:"notifiers"`

	NotificationRouting map[Priority][]string  `yaml:"notification_routing"`
	Reactions           map[Status]ReactionRule `yaml:"reactions"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read orchestrator.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into the project graph
//  4. Apply built-in defaults for anything left unset
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully",
		"projects", stats.Projects,
		"notifiers", stats.Notifiers)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "orchestrator.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var raw orchestratorYAMLConfig
	raw.Projects = make(map[string]*ProjectConfig)
	raw.Notifiers = make(map[string]NotifierConfig)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	defaults := Defaults{}
	if raw.Defaults != nil {
		defaults = *raw.Defaults
	}

	lifecycle := DefaultLifecycleConfig()
	if raw.Lifecycle != nil {
		applyLifecycleOverrides(lifecycle, raw.Lifecycle)
	}

	retention := DefaultRetentionConfig()
	if raw.Retention != nil {
		applyRetentionOverrides(retention, raw.Retention)
	}

	analytics := &AnalyticsConfig{}
	if raw.Analytics != nil {
		analytics = raw.Analytics
	}

	dataDir := raw.DataDir
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".agent-orchestrator")
	}
	worktreeDir := raw.WorktreeDir
	if worktreeDir == "" {
		worktreeDir = filepath.Join(dataDir, "worktrees")
	}
	port := raw.Port
	if port == 0 {
		port = 8770
	}

	routing := raw.NotificationRouting
	if routing == nil {
		routing = map[Priority][]string{}
	}
	reactions := raw.Reactions
	if reactions == nil {
		reactions = map[Status]ReactionRule{}
	}

	return &Config{
		configDir:           configDir,
		DataDir:             dataDir,
		WorktreeDir:         worktreeDir,
		Port:                port,
		Defaults:            defaults,
		Lifecycle:           lifecycle,
		Retention:           retention,
		Analytics:           analytics,
		Projects:            NewProjectRegistry(raw.Projects),
		Notifiers:           NewNotifierRegistry(raw.Notifiers),
		NotificationRouting: routing,
		Reactions:           reactions,
	}, nil
}

func applyLifecycleOverrides(dst, src *LifecycleConfig) {
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.WorkerCount != 0 {
		dst.WorkerCount = src.WorkerCount
	}
	if src.CallTimeout != 0 {
		dst.CallTimeout = src.CallTimeout
	}
	if src.ShutdownGrace != 0 {
		dst.ShutdownGrace = src.ShutdownGrace
	}
	if src.StuckAfter != 0 {
		dst.StuckAfter = src.StuckAfter
	}
	if src.NotifierQueueBound != 0 {
		dst.NotifierQueueBound = src.NotifierQueueBound
	}
}

func applyRetentionOverrides(dst, src *RetentionConfig) {
	if src.ArchiveRetentionDays != 0 {
		dst.ArchiveRetentionDays = src.ArchiveRetentionDays
	}
	if src.CleanupInterval != 0 {
		dst.CleanupInterval = src.CleanupInterval
	}
}
