package providers

import (
	"context"
	"testing"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Capability() Capability { return Capability{Name: s.name} }
func (s *stubProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	return &Response{Content: s.name}, nil
}
func (s *stubProvider) CompleteStreaming(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) EmbeddingDimensions() int      { return 0 }
func (s *stubProvider) Validate(ctx context.Context) error { return nil }

func TestPoolFirstRegisteredBecomesDefault(t *testing.T) {
	pool := NewPool()
	pool.Register("first", &stubProvider{name: "first"})
	pool.Register("second", &stubProvider{name: "second"})

	got, err := pool.Get("")
	if err != nil {
		t.Fatalf("Get(\"\"): %v", err)
	}
	if got.Capability().Name != "first" {
		t.Fatalf("got default %q, want first", got.Capability().Name)
	}
}

func TestPoolSetDefaultOverrides(t *testing.T) {
	pool := NewPool()
	pool.Register("first", &stubProvider{name: "first"})
	pool.Register("second", &stubProvider{name: "second"})
	pool.SetDefault("second")

	got, err := pool.Get("")
	if err != nil {
		t.Fatalf("Get(\"\"): %v", err)
	}
	if got.Capability().Name != "second" {
		t.Fatalf("got default %q, want second", got.Capability().Name)
	}
}

func TestPoolGetUnknownNameErrors(t *testing.T) {
	pool := NewPool()
	if _, err := pool.Get("nonexistent"); err == nil {
		t.Fatal("expected an error looking up an unregistered provider")
	}
}

func TestPoolListReturnsAllCapabilities(t *testing.T) {
	pool := NewPool()
	pool.Register("a", &stubProvider{name: "a"})
	pool.Register("b", &stubProvider{name: "b"})

	caps := pool.List()
	if len(caps) != 2 {
		t.Fatalf("got %d capabilities, want 2", len(caps))
	}
}
