package capability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// Slot names one of the seven plugin kinds the engine knows how to
// dispatch on (§4.1).
type Slot string

const (
	SlotRuntime   Slot = "runtime"
	SlotAgent     Slot = "agent"
	SlotWorkspace Slot = "workspace"
	SlotTracker   Slot = "tracker"
	SlotSCM       Slot = "scm"
	SlotNotifier  Slot = "notifier"
	SlotTerminal  Slot = "terminal"
)

// Factory builds a plugin instance from its settings blob. Two-phase
// construction (settings in, instance out) mirrors the pattern used
// throughout the plugin ecosystem this is grounded on: validate first,
// construct second, never partially.
type Factory interface {
	New(settings map[string]interface{}) (interface{}, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(settings map[string]interface{}) (interface{}, error)

// New implements Factory.
func (f FactoryFunc) New(settings map[string]interface{}) (interface{}, error) { return f(settings) }

// Probe reports whether a builtin's prerequisites (an external binary, an
// env var, a reachable daemon) are satisfied on this host. Builtins with
// no Probe are always considered available.
type Probe func() error

type registration struct {
	factory Factory
	probe   Probe
}

// Registry is the process-scoped, read-mostly capability registry
// (§4.1). Registration happens once at boot; lookups happen on every
// spawn and every lifecycle tick, so Get takes a read lock only.
type Registry struct {
	mu sync.RWMutex

	factories map[Slot]map[string]registration
	instances map[Slot]map[string]interface{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[Slot]map[string]registration),
		instances: make(map[Slot]map[string]interface{}),
	}
}

// Register adds a factory for (slot, name). Called during LoadBuiltins
// and by any out-of-tree plugin wiring in main. Registering the same
// (slot, name) twice overwrites the prior factory — last registration
// wins, matching the teacher's config-registry overwrite semantics. If a
// (slot, name) was already instantiated, the cached instance is evicted
// so the next Get reconstructs it from the new factory instead of
// returning a reference to the stale one forever.
func (r *Registry) Register(slot Slot, name string, factory Factory, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[slot] == nil {
		r.factories[slot] = make(map[string]registration)
	}
	r.factories[slot][name] = registration{factory: factory, probe: probe}
	delete(r.instances[slot], name)
}

// Get returns the constructed instance for (slot, name), constructing
// and caching it on first use with settings. A second Get for the same
// (slot, name) returns the cached instance and ignores settings — named
// plugins are configured once, at load_from_config time.
func (r *Registry) Get(slot Slot, name string, settings map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	if inst, ok := r.instances[slot][name]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	reg, ok := r.factories[slot][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", config.ErrUnknownPlugin, slot, name)
	}

	inst, err := reg.factory.New(settings)
	if err != nil {
		return nil, fmt.Errorf("construct %s/%s: %w", slot, name, err)
	}

	r.mu.Lock()
	if r.instances[slot] == nil {
		r.instances[slot] = make(map[string]interface{})
	}
	r.instances[slot][name] = inst
	r.mu.Unlock()
	return inst, nil
}

// List returns the names registered under slot, regardless of whether
// they have been instantiated yet.
func (r *Registry) List(slot Slot) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[slot]))
	for name := range r.factories[slot] {
		names = append(names, name)
	}
	return names
}

// Has reports whether a factory is registered under (slot, name).
func (r *Registry) Has(slot Slot, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[slot][name]
	return ok
}

// LoadBuiltins registers every builtin plugin whose Probe succeeds (or
// has none). A builtin whose prerequisites are unmet on this host (e.g.
// tmux not on PATH) is skipped silently — per §4.1, only a plugin named
// explicitly in config and still unresolved is fatal.
func (r *Registry) LoadBuiltins(specs []BuiltinSpec) {
	for _, spec := range specs {
		if spec.Probe != nil {
			if err := spec.Probe(); err != nil {
				slog.Debug("skipping builtin, prerequisites unmet", "slot", spec.Slot, "name", spec.Name, "error", err)
				continue
			}
		}
		r.Register(spec.Slot, spec.Name, spec.Factory, spec.Probe)
	}
}

// BuiltinSpec is one entry in the builtin plugin table passed to
// LoadBuiltins.
type BuiltinSpec struct {
	Slot    Slot
	Name    string
	Factory Factory
	Probe   Probe
}

// LoadFromConfig resolves every plugin name referenced by cfg and
// eagerly constructs it, so a misconfigured project fails at boot
// rather than on first use. Any name with no matching registered
// factory is a fatal error (§4.1's "missing named-in-config plugins are
// fatal" contract).
func (r *Registry) LoadFromConfig(cfg *config.Config) error {
	for name, nc := range cfg.Notifiers.GetAll() {
		if _, err := r.Get(SlotNotifier, nc.Plugin, nc.Settings); err != nil {
			return fmt.Errorf("notifier %q: %w", name, err)
		}
	}

	for _, p := range cfg.Projects.GetAll() {
		runtime := firstNonEmpty(p.Runtime, cfg.Defaults.Runtime)
		agent := firstNonEmpty(p.Agent, cfg.Defaults.Agent)
		workspace := firstNonEmpty(p.Workspace, cfg.Defaults.Workspace)

		if runtime != "" {
			if _, err := r.Get(SlotRuntime, runtime, nil); err != nil {
				return fmt.Errorf("project %q runtime: %w", p.ID, err)
			}
		}
		if agent != "" {
			if _, err := r.Get(SlotAgent, agent, p.AgentConfig); err != nil {
				return fmt.Errorf("project %q agent: %w", p.ID, err)
			}
		}
		if workspace != "" {
			if _, err := r.Get(SlotWorkspace, workspace, nil); err != nil {
				return fmt.Errorf("project %q workspace: %w", p.ID, err)
			}
		}
		if p.Tracker != "" {
			if _, err := r.Get(SlotTracker, p.Tracker, p.TrackerConfig); err != nil {
				return fmt.Errorf("project %q tracker: %w", p.ID, err)
			}
		}
		if p.SCM != "" {
			if _, err := r.Get(SlotSCM, p.SCM, p.TrackerConfig); err != nil {
				return fmt.Errorf("project %q scm: %w", p.ID, err)
			}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
