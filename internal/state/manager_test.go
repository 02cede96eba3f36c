package state

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := memorybackend.New()
	return New(backend, WithHooks(hooks.New()))
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	scope := domain.SessionScope("s1")

	if err := m.Set(ctx, scope, "greeting", []byte(`"hello"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entry, err := m.Get(ctx, scope, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value) != `"hello"` {
		t.Fatalf("got %q, want %q", entry.Value, `"hello"`)
	}
}

func TestBeforeStateWriteCancelPreventsMutation(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	chain := hooks.New()
	chain.Register(domain.HookBeforeStateWrite, "reject-all", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		return domain.Cancel("policy violation"), nil
	})
	m := New(backend, WithHooks(chain))

	scope := domain.Global()
	err := m.Set(ctx, scope, "k", []byte(`1`))
	if err == nil {
		t.Fatal("expected cancelled write to fail")
	}
	if ok, err := backend.Exists(ctx, scope, "k"); err != nil || ok {
		t.Fatalf("expected no mutation after cancel, exists=%v err=%v", ok, err)
	}
}

func TestTrustedClassBypassesHooks(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	chain := hooks.New()
	called := false
	chain.Register(domain.HookBeforeStateWrite, "spy", 0, func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error) {
		called = true
		return domain.Continue(), nil
	})
	m := New(backend, WithHooks(chain))

	if err := m.SetWithClass(ctx, domain.Global(), "benchmark:x", []byte(`1`), domain.StateTrusted); err != nil {
		t.Fatalf("SetWithClass: %v", err)
	}
	if called {
		t.Fatal("Trusted write must bypass BeforeStateWrite hooks")
	}
}

func TestCyclicValueRejected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	cyclic := map[string]any{"a": 1}
	cyclic["self"] = cyclic

	if err := m.SetValue(ctx, domain.Global(), "k", cyclic); err == nil {
		t.Fatal("expected cyclic value to be rejected")
	}

	flat := map[string]any{"a": 1, "b": []any{1, 2, 3}}
	if err := m.SetValue(ctx, domain.Global(), "k", flat); err != nil {
		t.Fatalf("flat value should be accepted: %v", err)
	}
}
