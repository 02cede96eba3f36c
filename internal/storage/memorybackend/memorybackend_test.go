package memorybackend

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()
	scope := domain.SessionScope("s1")

	if err := b.Set(ctx, scope, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := b.Get(ctx, scope, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("got (%q, %v), want (v, nil)", got, err)
	}

	if err := b.Delete(ctx, scope, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, scope, "k"); err != storage.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after delete", err)
	}
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	b := New()
	s1 := domain.SessionScope("s1")
	s2 := domain.SessionScope("s2")

	if err := b.Set(ctx, s1, "k", []byte("s1-value")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, _ := b.Exists(ctx, s2, "k"); ok {
		t.Fatal("key written under s1 must not be visible under s2")
	}
}

func TestListKeysPrefixScan(t *testing.T) {
	ctx := context.Background()
	b := New()
	scope := domain.Global()
	for _, k := range []string{"a:1", "a:2", "b:1"} {
		if err := b.Set(ctx, scope, k, []byte("x")); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	keys, err := b.ListKeys(ctx, scope, "a:")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %v, want 2 keys with prefix a:", keys)
	}
}

func TestBatchOperations(t *testing.T) {
	ctx := context.Background()
	b := New()
	scope := domain.Global()
	if err := b.SetBatch(ctx, scope, map[string][]byte{"x": []byte("1"), "y": []byte("2")}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	got, err := b.GetBatch(ctx, scope, []string{"x", "y", "missing"})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if string(got["x"]) != "1" || string(got["y"]) != "2" {
		t.Fatalf("got %v, want x=1 y=2", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatal("GetBatch should omit keys that were never set")
	}

	if err := b.DeleteBatch(ctx, scope, []string{"x"}); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if ok, _ := b.Exists(ctx, scope, "x"); ok {
		t.Fatal("x should be gone after DeleteBatch")
	}
	if ok, _ := b.Exists(ctx, scope, "y"); !ok {
		t.Fatal("y should remain after DeleteBatch([x])")
	}
}

func TestClearScopeRemovesOnlyThatScope(t *testing.T) {
	ctx := context.Background()
	b := New()
	s1 := domain.SessionScope("s1")
	s2 := domain.SessionScope("s2")
	if err := b.Set(ctx, s1, "k", []byte("v")); err != nil {
		t.Fatalf("Set s1: %v", err)
	}
	if err := b.Set(ctx, s2, "k", []byte("v")); err != nil {
		t.Fatalf("Set s2: %v", err)
	}
	if err := b.Clear(ctx, s1); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := b.Exists(ctx, s1, "k"); ok {
		t.Fatal("s1 key should be gone after Clear(s1)")
	}
	if ok, _ := b.Exists(ctx, s2, "k"); !ok {
		t.Fatal("s2 key should survive Clear(s1)")
	}
}

func TestVectorSearchScopedAndSortedBySimilarity(t *testing.T) {
	ctx := context.Background()
	b := New()
	scope := domain.SessionScope("s1")
	other := domain.SessionScope("s2")
	unit := func(i int) []float32 {
		v := make([]float32, 384)
		v[i] = 1
		return v
	}

	if err := b.InsertVector(ctx, scope, "near", unit(0), nil); err != nil {
		t.Fatalf("InsertVector near: %v", err)
	}
	if err := b.InsertVector(ctx, scope, "far", unit(1), nil); err != nil {
		t.Fatalf("InsertVector far: %v", err)
	}
	if err := b.InsertVector(ctx, other, "other-scope", unit(0), nil); err != nil {
		t.Fatalf("InsertVector other scope: %v", err)
	}

	results, err := b.Search(ctx, scope, unit(0), 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (scoped to s1 only)", len(results))
	}
	if results[0].ID != "near" {
		t.Fatalf("got top result %q, want near (cosine similarity 1.0)", results[0].ID)
	}
}

func TestInsertVectorRejectsUnsupportedDimension(t *testing.T) {
	ctx := context.Background()
	b := New()
	err := b.InsertVector(ctx, domain.Global(), "bad", make([]float32, 17), nil)
	if err == nil {
		t.Fatal("expected an unsupported-dimension vector to be rejected")
	}
}
