package state

import (
	"context"
	"testing"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := New(memorybackend.New())
	scope := domain.SessionScope("bk")

	if err := m.Set(ctx, scope, "a", []byte(`"one"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(ctx, scope, "b", []byte(`"two"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	snap, err := m.Backup(ctx, scope, 0)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if err := m.Set(ctx, scope, "a", []byte(`"mutated"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Delete(ctx, scope, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := m.Restore(ctx, scope, snap.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	entry, err := m.Get(ctx, scope, "a")
	if err != nil || string(entry.Value) != `"one"` {
		t.Fatalf("restored a: %v %s", err, entry.Value)
	}
	if _, err := m.Get(ctx, scope, "b"); err != nil {
		t.Fatalf("restored b should exist: %v", err)
	}
}

func TestCompositeRetentionIsOrSemantics(t *testing.T) {
	now := time.Now().UTC()
	old := Snapshot{ID: "old", CreatedAt: now.Add(-48 * time.Hour), Importance: 0.9}
	recent := Snapshot{ID: "recent", CreatedAt: now.Add(-time.Hour), Importance: 0.1}
	stale := Snapshot{ID: "stale", CreatedAt: now.Add(-72 * time.Hour), Importance: 0.1}
	all := []Snapshot{old, recent, stale}

	policy := CompositePolicy{Policies: []RetentionPolicy{
		AgePolicy{MaxAge: 24 * time.Hour},
		ImportancePolicy{MinImportance: 0.5},
	}}

	keep, drop, reasons := Retained(policy, now, all)
	if len(keep) != 2 {
		t.Fatalf("keep: got %d (%v)", len(keep), reasons)
	}
	if len(drop) != 1 || drop[0].ID != "stale" {
		t.Fatalf("drop: got %v", drop)
	}
	// "old" survives only because the importance policy votes retain;
	// any single composed vote is enough.
	if reasons["old"] != "meets importance floor" {
		t.Fatalf("old reason: %q", reasons["old"])
	}
}

func TestCountPolicyKeepsNewest(t *testing.T) {
	now := time.Now().UTC()
	all := []Snapshot{
		{ID: "s1", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "s2", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "s3", CreatedAt: now.Add(-time.Hour)},
	}
	keep, drop, _ := Retained(CountPolicy{Keep: 2}, now, all)
	if len(keep) != 2 || len(drop) != 1 || drop[0].ID != "s1" {
		t.Fatalf("keep=%v drop=%v", keep, drop)
	}
}

func TestRetentionLimitAppliedOnBackup(t *testing.T) {
	ctx := context.Background()
	m := New(memorybackend.New(), WithRetentionPolicy(CompositePolicy{Policies: []RetentionPolicy{CountPolicy{Keep: 2}}}))
	scope := domain.SessionScope("rt")

	for i := 0; i < 4; i++ {
		if _, err := m.Backup(ctx, scope, 0); err != nil {
			t.Fatalf("Backup %d: %v", i, err)
		}
	}
	if got := len(m.Snapshots(scope)); got != 2 {
		t.Fatalf("retained snapshots: got %d want 2", got)
	}
}
