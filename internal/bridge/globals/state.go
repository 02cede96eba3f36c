package globals

import (
	"context"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/state"
)

// StateGlobal exposes the scoped state manager to a script, bound to
// the calling execution's scope so scripts never name a scope
// explicitly.
type StateGlobal struct {
	manager *state.Manager
	scope   domain.Scope
}

func (g *StateGlobal) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := g.manager.Get(ctx, g.scope, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (g *StateGlobal) Set(ctx context.Context, key string, value []byte) error {
	return g.manager.SetWithHooks(ctx, g.scope, key, value)
}

func (g *StateGlobal) SetValue(ctx context.Context, key string, value any) error {
	return g.manager.SetValue(ctx, g.scope, key, value)
}

func (g *StateGlobal) Delete(ctx context.Context, key string) error {
	return g.manager.Delete(ctx, g.scope, key)
}

func (g *StateGlobal) List(ctx context.Context, prefix string) ([]string, error) {
	return g.manager.List(ctx, g.scope, prefix)
}
