package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
)

func TestFireRunsInPriorityOrder(t *testing.T) {
	c := New()
	var order []string
	c.Register(domain.HookBeforeStateWrite, "second", 10, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		order = append(order, "second")
		return domain.Continue(), nil
	})
	c.Register(domain.HookBeforeStateWrite, "first", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		order = append(order, "first")
		return domain.Continue(), nil
	})

	if _, err := c.Fire(context.Background(), domain.HookBeforeStateWrite, domain.HookContext{}); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("got order %v, want [first second]", order)
	}
}

func TestFireCancelLawStopsChain(t *testing.T) {
	c := New()
	ranAfterCancel := false
	c.Register(domain.HookBeforeStateWrite, "canceller", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.Cancel("nope"), nil
	})
	c.Register(domain.HookBeforeStateWrite, "late", 1, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		ranAfterCancel = true
		return domain.Continue(), nil
	})

	res, err := c.Fire(context.Background(), domain.HookBeforeStateWrite, domain.HookContext{})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Kind != domain.HookCancel {
		t.Fatalf("got kind %v, want Cancel", res.Kind)
	}
	if ranAfterCancel {
		t.Fatal("hook registered after a Cancel must not run")
	}
}

func TestFireLastModifiedWins(t *testing.T) {
	c := New()
	c.Register(domain.HookBeforeStateWrite, "m1", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.Modified("first"), nil
	})
	c.Register(domain.HookBeforeStateWrite, "m2", 1, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.Modified("second"), nil
	})

	res, err := c.Fire(context.Background(), domain.HookBeforeStateWrite, domain.HookContext{})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Kind != domain.HookModified || res.Value != "second" {
		t.Fatalf("got %+v, want Modified(second)", res)
	}
}

func TestFireErrorBecomesCancel(t *testing.T) {
	c := New()
	c.Register(domain.HookBeforeStateWrite, "erroring", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.HookResult{}, errors.New("boom")
	})

	res, err := c.Fire(context.Background(), domain.HookBeforeStateWrite, domain.HookContext{})
	if err != nil {
		t.Fatalf("Fire itself should not error: %v", err)
	}
	if res.Kind != domain.HookCancel || res.Reason != "boom" {
		t.Fatalf("got %+v, want Cancel(boom)", res)
	}
}

func TestHasHooksAndUnregister(t *testing.T) {
	c := New()
	if c.HasHooks(domain.HookSessionStart) {
		t.Fatal("fresh chain must report no hooks")
	}
	c.Register(domain.HookSessionStart, "spy", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.Continue(), nil
	})
	if !c.HasHooks(domain.HookSessionStart) {
		t.Fatal("expected HasHooks true after Register")
	}
	c.Unregister(domain.HookSessionStart, "spy")
	if c.HasHooks(domain.HookSessionStart) {
		t.Fatal("expected HasHooks false after Unregister")
	}
}

func TestFireEmptyChainContinues(t *testing.T) {
	c := New()
	res, err := c.Fire(context.Background(), domain.CustomHookPoint("anything"), domain.HookContext{})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Kind != domain.HookContinue {
		t.Fatalf("got kind %v, want Continue", res.Kind)
	}
}
