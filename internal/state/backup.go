package state

import (
	"context"
	"fmt"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/oklog/ulid/v2"
)

// Backup snapshots every key under scope. importance is an optional
// caller-supplied score consulted by an ImportancePolicy; callers that
// don't use one may pass 0.
func (m *Manager) Backup(ctx context.Context, scope domain.Scope, importance float64) (Snapshot, error) {
	entries, err := m.ExportAll(ctx, scope)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ID:         ulid.Make().String(),
		ScopeKey:   scope.String(),
		CreatedAt:  time.Now().UTC(),
		Entries:    entries,
		Importance: importance,
	}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	m.mu.Unlock()

	m.cleanupSnapshots(scope)
	return snap, nil
}

// Restore overwrites scope's contents with the entries from snapshot id.
func (m *Manager) Restore(ctx context.Context, scope domain.Scope, snapshotID string) error {
	m.mu.RLock()
	var target *Snapshot
	for i := range m.snapshots {
		if m.snapshots[i].ID == snapshotID {
			target = &m.snapshots[i]
			break
		}
	}
	m.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("state: snapshot %s not found", snapshotID)
	}

	if err := m.ClearScope(ctx, scope); err != nil {
		return err
	}
	return m.ImportAll(ctx, scope, target.Entries)
}

// Snapshots returns every retained snapshot for scope, newest first.
func (m *Manager) Snapshots(scope domain.Scope) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		s := m.snapshots[i]
		if s.ScopeKey == scope.String() {
			out = append(out, s)
		}
	}
	return out
}

// cleanupSnapshots drops snapshots the configured retention policy no
// longer votes to retain, reporting (via the returned reasons map,
// discarded here but available through RetainedReport) why each
// decision was made.
func (m *Manager) cleanupSnapshots(scope domain.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scoped, other []Snapshot
	for _, s := range m.snapshots {
		if s.ScopeKey == scope.String() {
			scoped = append(scoped, s)
		} else {
			other = append(other, s)
		}
	}
	if m.retention == nil {
		return
	}
	keep, _, _ := Retained(m.retention, time.Now().UTC(), scoped)
	m.snapshots = append(other, keep...)
}

// RetainedReport exposes the retained/dropped partition and reasons for
// a scope's current snapshot set, for callers (e.g. the `state export`
// CLI surface) that want to report why a snapshot survived or not.
func (m *Manager) RetainedReport(scope domain.Scope) (keep, drop []Snapshot, reasons map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scoped []Snapshot
	for _, s := range m.snapshots {
		if s.ScopeKey == scope.String() {
			scoped = append(scoped, s)
		}
	}
	return Retained(m.retention, time.Now().UTC(), scoped)
}
