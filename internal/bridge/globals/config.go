package globals

import (
	"github.com/rakunlabs/chu"

	"github.com/llmspell-go/kernel/internal/config"
)

// ConfigGlobal exposes read-only access to the loaded configuration: a
// script can read its own engine/provider settings without the kernel
// handing out a mutable *config.Config.
type ConfigGlobal struct {
	cfg *config.Config
}

// Get returns one top-level configuration value by its cfg-tag name,
// same key space config.Load logs under "config" via chu.MarshalMap.
func (g *ConfigGlobal) Get(key string) (any, bool) {
	v, ok := g.All()[key]
	return v, ok
}

// All returns every configuration value as a generic map, flattened the
// same way config.Load's startup log line already does.
func (g *ConfigGlobal) All() map[string]any {
	if g.cfg == nil {
		return map[string]any{}
	}
	m, _ := chu.MarshalMap(*g.cfg).(map[string]any)
	return m
}
