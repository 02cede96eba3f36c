package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/llmspell-go/kernel/internal/domain"
)

// FieldTransformKind names the per-field transform a schema migration
// applies to each stored value.
type FieldTransformKind string

const (
	TransformCopy    FieldTransformKind = "copy"
	TransformDefault FieldTransformKind = "default"
	TransformRemove  FieldTransformKind = "remove"
	TransformCustom  FieldTransformKind = "custom"
)

// FieldTransform describes what happens to one field name when a
// migration runs. Custom transforms supply Fn; the others are
// data-driven.
type FieldTransform struct {
	Field        string
	Kind         FieldTransformKind
	DefaultValue any
	Fn           func(value any) (any, error)
}

// SchemaMigration upgrades values from FromVersion to ToVersion via a
// list of field transforms, applied in order. Migrations must be
// idempotent: applying the same migration twice to an already-migrated
// value is a no-op.
type SchemaMigration struct {
	FromVersion string
	ToVersion   string
	Transforms  []FieldTransform
}

// Apply runs the migration's transforms over a decoded JSON object.
func (m SchemaMigration) Apply(value map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = v
	}
	for _, t := range m.Transforms {
		switch t.Kind {
		case TransformCopy:
			// no-op: value already copied above.
		case TransformDefault:
			if _, ok := out[t.Field]; !ok {
				out[t.Field] = t.DefaultValue
			}
		case TransformRemove:
			delete(out, t.Field)
		case TransformCustom:
			if t.Fn == nil {
				return nil, fmt.Errorf("state: custom transform for field %q has no function", t.Field)
			}
			cur, ok := out[t.Field]
			if !ok {
				continue
			}
			next, err := t.Fn(cur)
			if err != nil {
				return nil, fmt.Errorf("state: custom transform %q: %w", t.Field, err)
			}
			out[t.Field] = next
		}
	}
	return out, nil
}

// MigrationPlanner plans an upgrade path across zero or more registered
// SchemaMigrations, ordered FromVersion -> ToVersion, and applies it to
// every value under a scope.
type MigrationPlanner struct {
	migrations []SchemaMigration
}

func NewMigrationPlanner(migrations ...SchemaMigration) *MigrationPlanner {
	return &MigrationPlanner{migrations: migrations}
}

// Plan returns the ordered list of migrations needed to go from current
// to target, or an error if no contiguous path exists. Downgrades
// (target behind current in the migrations list) are rejected.
func (p *MigrationPlanner) Plan(current, target string) ([]SchemaMigration, error) {
	if current == target {
		return nil, nil
	}
	idxCurrent, idxTarget := -1, -1
	for i, m := range p.migrations {
		if m.FromVersion == current {
			idxCurrent = i
		}
		if m.ToVersion == target {
			idxTarget = i
		}
	}
	if idxCurrent == -1 || idxTarget == -1 || idxTarget < idxCurrent {
		return nil, fmt.Errorf("state: no forward migration path from %s to %s (downgrades are rejected)", current, target)
	}
	return p.migrations[idxCurrent : idxTarget+1], nil
}

// MigrationStatus reports the schema version state of a scope.
type MigrationStatus struct {
	CurrentVersion string
	Pending        []string
}

// versionKey is the reserved state key each scope's schema version is
// recorded under.
const versionKey = "_schema_version"

// GetMigrationStatus reads the recorded schema version for scope and
// lists versions still pending relative to the planner's known chain.
func (m *Manager) GetMigrationStatus(ctx context.Context, scope domain.Scope, planner *MigrationPlanner) (MigrationStatus, error) {
	current := "0.0.0"
	if entry, err := m.Get(ctx, scope, versionKey); err == nil {
		current = string(entry.Value)
	}
	var pending []string
	for _, mig := range planner.migrations {
		if mig.FromVersion >= current {
			pending = append(pending, mig.ToVersion)
		}
	}
	return MigrationStatus{CurrentVersion: current, Pending: pending}, nil
}

// ListSchemaVersions returns every version a planner knows how to
// migrate through, in order.
func ListSchemaVersions(planner *MigrationPlanner) []string {
	versions := make([]string, 0, len(planner.migrations)+1)
	for i, m := range planner.migrations {
		if i == 0 {
			versions = append(versions, m.FromVersion)
		}
		versions = append(versions, m.ToVersion)
	}
	return versions
}

// MigrateToVersion applies every pending migration to every value under
// scope and records the new version. Each step is idempotent: re-running
// after full application records the same version and rewrites nothing.
func (m *Manager) MigrateToVersion(ctx context.Context, scope domain.Scope, planner *MigrationPlanner, target string) error {
	status, err := m.GetMigrationStatus(ctx, scope, planner)
	if err != nil {
		return err
	}
	plan, err := planner.Plan(status.CurrentVersion, target)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		return nil
	}

	keys, err := m.backend.ListKeys(ctx, scope, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == versionKey {
			continue
		}
		entry, err := m.Get(ctx, scope, key)
		if err != nil {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(entry.Value, &decoded); err != nil {
			// Non-object values pass through migrations unchanged.
			continue
		}
		for _, mig := range plan {
			decoded, err = mig.Apply(decoded)
			if err != nil {
				return fmt.Errorf("state: migrate key %s: %w", key, err)
			}
		}
		reencoded, err := json.Marshal(decoded)
		if err != nil {
			return err
		}
		if err := m.SetWithClass(ctx, scope, key, reencoded, entry.Class); err != nil {
			return err
		}
	}

	return m.Set(ctx, scope, versionKey, []byte(target))
}
