package sqlitebackend

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	ctx := context.Background()
	b, err := New(ctx, ":memory:", "test_")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSetGetRoundTripOverSQLite(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
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
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	v1, err := b.MigrationVersion(ctx)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}

	if err := b.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
	v2, err := b.MigrationVersion(ctx)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("got version %q then %q, want re-running migrations to be a no-op", v1, v2)
	}
}

func TestVectorInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	scope := domain.SessionScope("s1")
	unit := func(i int) []float32 {
		v := make([]float32, 384)
		v[i] = 1
		return v
	}

	if err := b.InsertVector(ctx, scope, "a", unit(0), map[string]any{"k": "v"}); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}
	if err := b.InsertVector(ctx, scope, "b", unit(1), nil); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}

	results, err := b.Search(ctx, scope, unit(0), 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("got %+v, want top hit \"a\"", results)
	}
}

func TestInsertVectorRejectsUnsupportedDimension(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	if err := b.InsertVector(ctx, domain.Global(), "bad", make([]float32, 13), nil); err == nil {
		t.Fatal("expected unsupported dimension to be rejected")
	}
}

func TestBatchSetAndDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	scope := domain.Global()

	if err := b.SetBatch(ctx, scope, map[string][]byte{"x": []byte("1"), "y": []byte("2")}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	got, err := b.GetBatch(ctx, scope, []string{"x", "y"})
	if err != nil || string(got["x"]) != "1" || string(got["y"]) != "2" {
		t.Fatalf("got (%v, %v)", got, err)
	}
	if err := b.DeleteBatch(ctx, scope, []string{"x", "y"}); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if ok, _ := b.Exists(ctx, scope, "x"); ok {
		t.Fatal("x should be gone after DeleteBatch")
	}
}
