package globals

import (
	"context"
	"fmt"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/registry"
)

// ToolGlobal exposes the registry's tool namespace, running
// BeforeToolExecution/AfterToolExecution hooks around every Invoke.
type ToolGlobal struct {
	registry *registry.Registry
	hooks    *hooks.Chain
	scope    domain.Scope
}

func (g *ToolGlobal) Register(name, description string, schema map[string]any, handler registry.ToolHandler) error {
	return g.registry.RegisterTool(registry.ToolSpec{Name: name, Description: description, Schema: schema, Handler: handler})
}

func (g *ToolGlobal) List() []registry.ToolSpec { return g.registry.ListTools() }

func (g *ToolGlobal) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	spec, ok := g.registry.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("bridge: unknown tool %q", name)
	}

	hctx := domain.HookContext{Point: domain.HookBeforeToolExecution, Value: args}
	before, err := g.hooks.Fire(ctx, domain.HookBeforeToolExecution, hctx)
	if err != nil {
		return nil, err
	}
	if before.Kind == domain.HookCancel {
		return nil, fmt.Errorf("bridge: tool %q cancelled by hook: %s", name, before.Reason)
	}
	if before.Kind == domain.HookModified {
		if modified, ok := before.Value.(map[string]any); ok {
			args = modified
		}
	}

	result, err := spec.Handler(ctx, args)
	if err != nil {
		return nil, err
	}

	afterCtx := domain.HookContext{Point: domain.HookAfterToolExecution, Value: result}
	after, err := g.hooks.Fire(ctx, domain.HookAfterToolExecution, afterCtx)
	if err != nil {
		return nil, err
	}
	if after.Kind == domain.HookModified {
		return after.Value, nil
	}
	return result, nil
}
