package bridge

import (
	"context"
	"testing"
	"time"
)

func TestResolveOrdersByDependency(t *testing.T) {
	reg := NewGlobalRegistry()
	var order []GlobalName

	reg.Register(GlobalHook, nil, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		order = append(order, GlobalHook)
		return "hook", nil
	})
	reg.Register(GlobalState, []GlobalName{GlobalHook}, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		if _, ok := resolved[GlobalHook]; !ok {
			t.Fatal("State factory ran before its Hook dependency resolved")
		}
		order = append(order, GlobalState)
		return "state", nil
	})
	reg.Register(GlobalSession, []GlobalName{GlobalState}, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		if _, ok := resolved[GlobalState]; !ok {
			t.Fatal("Session factory ran before its State dependency resolved")
		}
		order = append(order, GlobalSession)
		return "session", nil
	})

	resolved, err := reg.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("got %d resolved globals, want 3", len(resolved))
	}
	if len(order) != 3 || order[0] != GlobalHook || order[1] != GlobalState || order[2] != GlobalSession {
		t.Fatalf("got build order %v, want [Hook State Session]", order)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	reg := NewGlobalRegistry()
	reg.Register(GlobalState, []GlobalName{GlobalSession}, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		return nil, nil
	})
	reg.Register(GlobalSession, []GlobalName{GlobalState}, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		return nil, nil
	})

	if _, err := reg.Resolve(context.Background()); err == nil {
		t.Fatal("expected a cyclic dependency to be rejected")
	}
}

func TestResolveMissingDependencyErrors(t *testing.T) {
	reg := NewGlobalRegistry()
	reg.Register(GlobalSession, []GlobalName{GlobalState}, func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
		return nil, nil
	})

	if _, err := reg.Resolve(context.Background()); err == nil {
		t.Fatal("expected resolving a global whose dependency was never registered to fail")
	}
}

func TestResolveSkipsOptionalWhenUnavailable(t *testing.T) {
	reg := NewGlobalRegistry()
	reg.Register(GlobalTool, nil, func(ctx context.Context, _ map[GlobalName]any) (any, error) {
		return "tool", nil
	})
	reg.RegisterOptional(GlobalLocalLLM, nil, func(ctx context.Context, _ map[GlobalName]any) (any, error) {
		return nil, ErrUnavailable
	})
	// Agent depends on the skipped LocalLLM, so it is skipped in turn.
	reg.RegisterOptional(GlobalAgent, []GlobalName{GlobalTool, GlobalLocalLLM}, func(ctx context.Context, _ map[GlobalName]any) (any, error) {
		t.Fatal("Agent factory must not run when its LocalLLM dependency was skipped")
		return nil, nil
	})

	resolved, err := reg.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := resolved[GlobalTool]; !ok {
		t.Fatal("Tool should resolve")
	}
	if _, ok := resolved[GlobalLocalLLM]; ok {
		t.Fatal("unavailable optional LocalLLM should be skipped")
	}
	if _, ok := resolved[GlobalAgent]; ok {
		t.Fatal("Agent should be skipped along with its unavailable dependency")
	}
}

func TestResolveRequiredUnavailableFails(t *testing.T) {
	reg := NewGlobalRegistry()
	reg.Register(GlobalState, nil, func(ctx context.Context, _ map[GlobalName]any) (any, error) {
		return nil, ErrUnavailable
	})
	if _, err := reg.Resolve(context.Background()); err == nil {
		t.Fatal("a required global reporting ErrUnavailable must fail startup")
	}
}

func TestResolveIsUnder5ms(t *testing.T) {
	reg := NewGlobalRegistry()
	names := []GlobalName{
		GlobalLogger, GlobalConfig, GlobalUtils, GlobalTemplate, GlobalEvent,
		GlobalHook, GlobalState, GlobalSession, GlobalMemory, GlobalContext,
		GlobalRAG, GlobalLocalLLM, GlobalTool, GlobalAgent, GlobalWorkflow, GlobalArtifact,
	}
	deps := map[GlobalName][]GlobalName{
		GlobalHook:     {GlobalEvent},
		GlobalState:    {GlobalHook},
		GlobalSession:  {GlobalState},
		GlobalMemory:   {GlobalSession},
		GlobalContext:  {GlobalMemory},
		GlobalRAG:      {GlobalContext},
		GlobalTool:     {GlobalHook},
		GlobalAgent:    {GlobalTool, GlobalLocalLLM},
		GlobalWorkflow: {GlobalAgent},
		GlobalArtifact: {GlobalSession},
	}
	for _, name := range names {
		name := name
		reg.Register(name, deps[name], func(ctx context.Context, resolved map[GlobalName]any) (any, error) {
			return name, nil
		})
	}

	start := time.Now()
	resolved, err := reg.Resolve(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != len(names) {
		t.Fatalf("got %d resolved, want %d", len(resolved), len(names))
	}
	if elapsed > 5*time.Millisecond {
		t.Fatalf("injection took %v, want under 5ms", elapsed)
	}
}
