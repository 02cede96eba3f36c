package globals

import (
	"context"
	"fmt"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/providers"
	"github.com/llmspell-go/kernel/internal/registry"
)

// AgentGlobal exposes the registry's agent factories plus a direct
// Complete call against the provider pool, running
// BeforeAgentInit/AfterAgentExecution hooks.
type AgentGlobal struct {
	registry *registry.Registry
	pool     *providers.Pool
	hooks    *hooks.Chain
	scope    domain.Scope
}

func (g *AgentGlobal) Register(name, description string, factory registry.AgentFactory) error {
	return g.registry.RegisterAgent(registry.AgentSpec{Name: name, Description: description, Factory: factory})
}

func (g *AgentGlobal) Create(ctx context.Context, name string, config map[string]any) (any, error) {
	spec, ok := g.registry.GetAgent(name)
	if !ok {
		return nil, fmt.Errorf("bridge: unknown agent %q", name)
	}
	hctx := domain.HookContext{Point: domain.HookBeforeAgentInit, Value: config}
	before, err := g.hooks.Fire(ctx, domain.HookBeforeAgentInit, hctx)
	if err != nil {
		return nil, err
	}
	if before.Kind == domain.HookCancel {
		return nil, fmt.Errorf("bridge: agent %q init cancelled by hook: %s", name, before.Reason)
	}
	if before.Kind == domain.HookModified {
		if modified, ok := before.Value.(map[string]any); ok {
			config = modified
		}
	}
	return spec.Factory(ctx, config)
}

// Complete runs one completion against the named provider (or the
// pool's default when providerName is empty), firing
// AfterAgentExecution on the response.
func (g *AgentGlobal) Complete(ctx context.Context, providerName string, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	if g.pool == nil {
		return nil, errNotConfigured("Agent")
	}
	provider, err := g.pool.Get(providerName)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	afterCtx := domain.HookContext{Point: domain.HookAfterAgentExecution, Value: resp}
	if after, hookErr := g.hooks.Fire(ctx, domain.HookAfterAgentExecution, afterCtx); hookErr == nil && after.Kind == domain.HookModified {
		if modified, ok := after.Value.(*providers.Response); ok {
			return modified, nil
		}
	}
	return resp, nil
}

// LocalLLMGlobal exposes the LocalProvider-specific surface
// (process-local inference lifecycle).
type LocalLLMGlobal struct {
	pool *providers.Pool
}

func (g *LocalLLMGlobal) local(name string) (providers.LocalProvider, error) {
	if g.pool == nil {
		return nil, errNotConfigured("LocalLLM")
	}
	p, err := g.pool.Get(name)
	if err != nil {
		return nil, err
	}
	lp, ok := p.(providers.LocalProvider)
	if !ok {
		return nil, fmt.Errorf("bridge: provider %q is not a local provider", name)
	}
	return lp, nil
}

func (g *LocalLLMGlobal) ListModels(ctx context.Context, name string) ([]string, error) {
	lp, err := g.local(name)
	if err != nil {
		return nil, err
	}
	return lp.ListLocalModels(ctx)
}

func (g *LocalLLMGlobal) PullModel(ctx context.Context, name, spec string) error {
	lp, err := g.local(name)
	if err != nil {
		return err
	}
	return lp.PullModel(ctx, spec)
}

func (g *LocalLLMGlobal) HealthCheck(ctx context.Context, name string) error {
	lp, err := g.local(name)
	if err != nil {
		return err
	}
	return lp.HealthCheck(ctx)
}
