// Package globals builds the Go-side value behind each canonical
// global name and registers it on a bridge.GlobalRegistry. Every value
// here is a plain Go struct of methods; it is the engine (bridge/lua)
// that decides how to marshal a Go value into its language's calling
// convention, so this package has zero Lua/JS-specific code.
package globals

import (
	"context"
	"fmt"

	"github.com/llmspell-go/kernel/internal/bridge"
	"github.com/llmspell-go/kernel/internal/config"
	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/events"
	"github.com/llmspell-go/kernel/internal/graph"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/memory"
	"github.com/llmspell-go/kernel/internal/providers"
	"github.com/llmspell-go/kernel/internal/rag"
	"github.com/llmspell-go/kernel/internal/registry"
	"github.com/llmspell-go/kernel/internal/session"
	"github.com/llmspell-go/kernel/internal/state"
	"github.com/rakunlabs/logi"
)

// Deps bundles every process-wide component the globals bind to. One
// Deps is constructed once by cmd/kernel and reused for every script
// execution; per-execution identity (scope, session id) is threaded
// through ExecutionContext instead.
type Deps struct {
	Registry *registry.Registry
	State    *state.Manager
	Sessions *session.Store
	Memory   *memory.System
	Pool     *providers.Pool
	Hooks    *hooks.Chain
	Events   *events.Bus
	Graph    *graph.Graph
	RAG      *rag.Pipeline
	Config   *config.Config
}

// ExecutionContext carries the identity of the script execution
// currently binding globals: its scope and session id. Globals close
// over this so `State.get("x")` always resolves against the calling
// script's own scope without the script ever naming it explicitly.
type ExecutionContext struct {
	Scope     domain.Scope
	SessionID string
}

// Register wires every canonical global onto reg, closing over deps
// and execCtx. Globals whose backing component may legitimately be
// absent (LocalLLM and Agent without a provider pool, RAG and Context
// without a retrieval pipeline) are registered optional: their factory
// reports bridge.ErrUnavailable and Resolve skips them cleanly, so an
// engine only ever sees globals whose prerequisites are satisfied. The
// rest are required and fail startup if they cannot be built.
func Register(reg *bridge.GlobalRegistry, deps Deps, execCtx ExecutionContext) {
	reg.Register(bridge.GlobalLogger, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &LoggerGlobal{logger: logi.Ctx(ctx)}, nil
	})

	reg.Register(bridge.GlobalConfig, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &ConfigGlobal{cfg: deps.Config}, nil
	})

	reg.Register(bridge.GlobalUtils, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &UtilsGlobal{}, nil
	})

	reg.Register(bridge.GlobalTemplate, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &TemplateGlobal{}, nil
	})

	reg.Register(bridge.GlobalEvent, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &EventGlobal{bus: deps.Events}, nil
	})

	reg.Register(bridge.GlobalHook, []bridge.GlobalName{bridge.GlobalEvent}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &HookGlobal{chain: deps.Hooks, scope: execCtx.Scope}, nil
	})

	reg.Register(bridge.GlobalState, []bridge.GlobalName{bridge.GlobalHook}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &StateGlobal{manager: deps.State, scope: execCtx.Scope}, nil
	})

	reg.Register(bridge.GlobalSession, []bridge.GlobalName{bridge.GlobalState}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &SessionGlobal{store: deps.Sessions, sessionID: execCtx.SessionID}, nil
	})

	reg.Register(bridge.GlobalMemory, []bridge.GlobalName{bridge.GlobalSession}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &MemoryGlobal{system: deps.Memory, scope: execCtx.Scope, sessionID: execCtx.SessionID}, nil
	})

	reg.RegisterOptional(bridge.GlobalContext, []bridge.GlobalName{bridge.GlobalMemory}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		if deps.RAG == nil {
			return nil, bridge.ErrUnavailable
		}
		return &ContextGlobal{rag: deps.RAG, scope: execCtx.Scope, sessionID: execCtx.SessionID}, nil
	})

	reg.RegisterOptional(bridge.GlobalRAG, []bridge.GlobalName{bridge.GlobalMemory}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		if deps.RAG == nil {
			return nil, bridge.ErrUnavailable
		}
		return &RAGGlobal{pipeline: deps.RAG, scope: execCtx.Scope}, nil
	})

	reg.RegisterOptional(bridge.GlobalLocalLLM, nil, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		if deps.Pool == nil {
			return nil, bridge.ErrUnavailable
		}
		return &LocalLLMGlobal{pool: deps.Pool}, nil
	})

	reg.Register(bridge.GlobalTool, []bridge.GlobalName{bridge.GlobalHook}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &ToolGlobal{registry: deps.Registry, hooks: deps.Hooks, scope: execCtx.Scope}, nil
	})

	reg.RegisterOptional(bridge.GlobalAgent, []bridge.GlobalName{bridge.GlobalTool, bridge.GlobalLocalLLM}, func(ctx context.Context, resolved map[bridge.GlobalName]any) (any, error) {
		if deps.Pool == nil {
			return nil, bridge.ErrUnavailable
		}
		return &AgentGlobal{registry: deps.Registry, pool: deps.Pool, hooks: deps.Hooks, scope: execCtx.Scope}, nil
	})

	// Workflow only needs the registry: it must stay available even when
	// the agent surface is skipped for lack of a provider pool.
	reg.Register(bridge.GlobalWorkflow, []bridge.GlobalName{bridge.GlobalTool}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &WorkflowGlobal{registry: deps.Registry, scope: execCtx.Scope}, nil
	})

	reg.Register(bridge.GlobalArtifact, []bridge.GlobalName{bridge.GlobalSession}, func(ctx context.Context, _ map[bridge.GlobalName]any) (any, error) {
		return &ArtifactGlobal{store: deps.Sessions, sessionID: execCtx.SessionID}, nil
	})
}

// errNotConfigured is returned by a global method whose backing
// component was not wired for this kernel instance.
func errNotConfigured(global string) error {
	return fmt.Errorf("bridge: %s global is not configured for this kernel", global)
}
