package config

import (
	"fmt"
	"sync"
	"time"
)

// Config is the umbrella configuration object produced by Initialize(): the
// fully loaded, defaulted, and validated project graph plus the registries
// derived from it. It is read-mostly after load and safe for concurrent use.
type Config struct {
	configDir string

	DataDir     string
	WorktreeDir string
	Port        int

	Defaults Defaults

	Lifecycle *LifecycleConfig
	Retention *RetentionConfig
	Analytics *AnalyticsConfig

	Projects            *ProjectRegistry
	Notifiers           *NotifierRegistry
	NotificationRouting map[Priority][]string
	Reactions           map[Status]ReactionRule
}

// Defaults holds the fallback plugin bindings any project may omit.
type Defaults struct {
	Runtime   string   `yaml:"runtime"`
	Agent     string   `yaml:"agent"`
	Workspace string   `yaml:"workspace"`
	Notifiers []string `yaml:"notifiers"`
}

// ReactionRule describes the automated response bound to a status.
type ReactionRule struct {
	Auto          bool         `yaml:"auto"`
	Action        ReactionKind `yaml:"action"`
	Strategy      MergeStrategy `yaml:"strategy,omitempty"`
	Retries       int          `yaml:"retries,omitempty"`
	EscalateAfter time.Duration `yaml:"escalate_after,omitempty"`
	Priority      Priority     `yaml:"priority,omitempty"`
}

// ProjectConfig is one entry of the `projects` map in the project graph (§6).
type ProjectConfig struct {
	ID               string                   `yaml:"-"`
	Name             string                   `yaml:"name"`
	Repo             string                   `yaml:"repo"`
	Path             string                   `yaml:"path"`
	DefaultBranch    string                   `yaml:"default_branch"`
	SessionPrefix    string                   `yaml:"session_prefix"`
	AgentRules       string                   `yaml:"agent_rules,omitempty"`
	OrchestratorRules string                  `yaml:"orchestrator_rules,omitempty"`
	Symlinks         []string                 `yaml:"symlinks,omitempty"`
	PostCreate       []string                 `yaml:"post_create,omitempty"`
	TrackerConfig    map[string]interface{}   `yaml:"tracker_config,omitempty"`
	AgentConfig      map[string]interface{}   `yaml:"agent_config,omitempty"`
	Reactions        map[Status]ReactionRule  `yaml:"reactions,omitempty"`
	Runtime          string                   `yaml:"runtime,omitempty"`
	Agent            string                   `yaml:"agent_plugin,omitempty"`
	Workspace        string                   `yaml:"workspace,omitempty"`
	Tracker          string                   `yaml:"tracker,omitempty"`
	SCM              string                   `yaml:"scm,omitempty"`
}

// ProjectRegistry is a read-mostly, mutex-protected lookup of project
// configuration by id, mirroring the defensive-copy registry idiom used
// throughout this package.
type ProjectRegistry struct {
	mu       sync.RWMutex
	projects map[string]*ProjectConfig
}

// NewProjectRegistry builds a registry from a loaded map, defensively
// copying the input so later caller mutation cannot leak in.
func NewProjectRegistry(projects map[string]*ProjectConfig) *ProjectRegistry {
	copied := make(map[string]*ProjectConfig, len(projects))
	for id, p := range projects {
		cp := *p
		cp.ID = id
		copied[id] = &cp
	}
	return &ProjectRegistry{projects: copied}
}

// Get returns the named project configuration.
func (r *ProjectRegistry) Get(id string) (*ProjectConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, id)
	}
	return p, nil
}

// Has reports whether id is registered.
func (r *ProjectRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.projects[id]
	return ok
}

// GetAll returns a defensive copy of every registered project.
func (r *ProjectRegistry) GetAll() map[string]*ProjectConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ProjectConfig, len(r.projects))
	for id, p := range r.projects {
		out[id] = p
	}
	return out
}

// Len returns the number of registered projects.
func (r *ProjectRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// NotifierRegistry holds the opaque, per-plugin configuration blobs declared
// under the top-level `notifiers` key, keyed by notifier name.
type NotifierRegistry struct {
	mu        sync.RWMutex
	notifiers map[string]NotifierConfig
}

// NotifierConfig is one entry of the `notifiers` map: a plugin name plus its
// opaque, plugin-interpreted settings.
type NotifierConfig struct {
	Plugin   string                 `yaml:"plugin"`
	Settings map[string]interface{} `yaml:",inline"`
}

// NewNotifierRegistry builds a registry from a loaded map.
func NewNotifierRegistry(notifiers map[string]NotifierConfig) *NotifierRegistry {
	copied := make(map[string]NotifierConfig, len(notifiers))
	for k, v := range notifiers {
		copied[k] = v
	}
	return &NotifierRegistry{notifiers: copied}
}

// Get returns the named notifier configuration.
func (r *NotifierRegistry) Get(name string) (NotifierConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[name]
	if !ok {
		return NotifierConfig{}, fmt.Errorf("%w: %q", ErrNotifierNotFound, name)
	}
	return n, nil
}

// GetAll returns a defensive copy of every registered notifier.
func (r *NotifierRegistry) GetAll() map[string]NotifierConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]NotifierConfig, len(r.notifiers))
	for k, v := range r.notifiers {
		out[k] = v
	}
	return out
}

// ConfigStats contains statistics about loaded configuration, for
// startup logging.
type ConfigStats struct {
	Projects  int
	Notifiers int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Projects:  c.Projects.Len(),
		Notifiers: len(c.Notifiers.GetAll()),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProject retrieves a project configuration by id.
func (c *Config) GetProject(id string) (*ProjectConfig, error) {
	return c.Projects.Get(id)
}
