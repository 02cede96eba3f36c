package graph

import (
	"context"
	"testing"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

func TestTimeTravelReturnsVersionAtT(t *testing.T) {
	ctx := context.Background()
	g := New(memorybackend.New())
	scope := domain.Global()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	e, err := g.AddEntity(ctx, scope, domain.Entity{
		Name: "Acme Corp", EntityType: "company",
		Properties: map[string]any{"status": "startup"},
		EventTime:  t0,
	})
	if err != nil {
		t.Fatalf("AddEntity: %v", err)
	}

	if _, err := g.UpdateEntity(ctx, scope, e.ID, map[string]any{"status": "public"}, t2); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	atT1, err := g.GetEntityAt(ctx, scope, e.ID, t1)
	if err != nil {
		t.Fatalf("GetEntityAt(t1): %v", err)
	}
	if atT1.Properties["status"] != "startup" {
		t.Fatalf("expected original value at t1, got %v", atT1.Properties["status"])
	}

	afterT2, err := g.GetEntityAt(ctx, scope, e.ID, t2.Add(time.Second))
	if err != nil {
		t.Fatalf("GetEntityAt(t2+1): %v", err)
	}
	if afterT2.Properties["status"] != "public" {
		t.Fatalf("expected updated value after t2, got %v", afterT2.Properties["status"])
	}
}

func TestUpdateNeverMutatesPriorVersion(t *testing.T) {
	ctx := context.Background()
	g := New(memorybackend.New())
	scope := domain.Global()

	e, _ := g.AddEntity(ctx, scope, domain.Entity{Name: "X", EntityType: "t", Properties: map[string]any{"v": 1}})
	if _, err := g.UpdateEntity(ctx, scope, e.ID, map[string]any{"v": 2}, time.Time{}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	versions, err := allVersions[domain.Entity](ctx, g, scope, entityPrefix(e.ID))
	if err != nil {
		t.Fatalf("allVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Properties["v"] != float64(1) {
		t.Fatalf("first version mutated: %v", versions[0].Properties["v"])
	}
}
