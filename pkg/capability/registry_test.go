package capability

import (
	"errors"
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetConstructsAndCaches(t *testing.T) {
	r := New()
	calls := 0
	r.Register(SlotNotifier, "dummy", FactoryFunc(func(settings map[string]interface{}) (interface{}, error) {
		calls++
		return "instance", nil
	}), nil)

	inst1, err := r.Get(SlotNotifier, "dummy", nil)
	require.NoError(t, err)
	inst2, err := r.Get(SlotNotifier, "dummy", nil)
	require.NoError(t, err)

	assert.Equal(t, "instance", inst1)
	assert.Equal(t, inst1, inst2)
	assert.Equal(t, 1, calls, "factory should only be invoked once")
}

func TestRegistry_GetUnknownPluginIsFatal(t *testing.T) {
	r := New()
	_, err := r.Get(SlotRuntime, "nope", nil)
	assert.ErrorIs(t, err, config.ErrUnknownPlugin)
}

func TestRegistry_LoadBuiltinsSkipsFailedProbeSilently(t *testing.T) {
	r := New()
	r.LoadBuiltins([]BuiltinSpec{
		{
			Slot:    SlotTerminal,
			Name:    "unavailable",
			Factory: FactoryFunc(func(map[string]interface{}) (interface{}, error) { return nil, nil }),
			Probe:   func() error { return errors.New("binary not found") },
		},
		{
			Slot:    SlotTerminal,
			Name:    "available",
			Factory: FactoryFunc(func(map[string]interface{}) (interface{}, error) { return "ok", nil }),
		},
	})

	assert.False(t, r.Has(SlotTerminal, "unavailable"))
	assert.True(t, r.Has(SlotTerminal, "available"))
}

func TestRegistry_LoadFromConfigFailsOnUnresolvedNotifier(t *testing.T) {
	r := New()
	cfg := &config.Config{
		Notifiers: config.NewNotifierRegistry(map[string]config.NotifierConfig{
			"ops": {Plugin: "slack"},
		}),
		Projects: config.NewProjectRegistry(nil),
	}

	err := r.LoadFromConfig(cfg)
	assert.ErrorIs(t, err, config.ErrUnknownPlugin)
}

func TestRegistry_List(t *testing.T) {
	r := New()
	r.Register(SlotRuntime, "process", FactoryFunc(func(map[string]interface{}) (interface{}, error) { return nil, nil }), nil)
	r.Register(SlotRuntime, "tmux", FactoryFunc(func(map[string]interface{}) (interface{}, error) { return nil, nil }), nil)

	names := r.List(SlotRuntime)
	assert.ElementsMatch(t, []string{"process", "tmux"}, names)
}
