// Package graph implements the bi-temporal knowledge graph: entities
// and relationships are never mutated in place, only appended as new
// versions stamped with the current ingestion time, preserving full
// history. Storage is pluggable behind storage.Backend, keyed so that
// ListKeys's lexicographic ordering over ULID-suffixed version keys
// gives chronological order for free.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

// Graph is the shared handle for bi-temporal entity/relationship
// storage. Writes are serialized at the backend layer; this type adds
// no additional locking beyond what's needed to keep ULID generation
// monotonic under concurrent writers.
type Graph struct {
	backend storage.Backend
	mu      sync.Mutex // serializes ULID minting, not backend access
}

func New(backend storage.Backend) *Graph {
	return &Graph{backend: backend}
}

func entityPrefix(id string) string       { return "entity:" + id + ":v:" }
func relationshipPrefix(id string) string { return "relationship:" + id + ":v:" }

func (g *Graph) nextULID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.Make().String()
}

// AddEntity appends the first version of a new entity, minting its ID if
// e.ID is empty.
func (g *Graph) AddEntity(ctx context.Context, scope domain.Scope, e domain.Entity) (domain.Entity, error) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.IngestionTime.IsZero() {
		e.IngestionTime = time.Now().UTC()
	}
	if e.EventTime.IsZero() {
		e.EventTime = e.IngestionTime
	}
	if err := g.writeEntityVersion(ctx, scope, e); err != nil {
		return domain.Entity{}, err
	}
	return e, nil
}

// UpdateEntity appends a new version of entity id with changes merged
// over its current latest version; it never mutates the existing rows.
func (g *Graph) UpdateEntity(ctx context.Context, scope domain.Scope, id string, changes map[string]any, eventTime time.Time) (domain.Entity, error) {
	current, err := g.GetEntity(ctx, scope, id)
	if err != nil {
		return domain.Entity{}, err
	}
	next := *current
	next.IngestionTime = time.Now().UTC()
	if !eventTime.IsZero() {
		next.EventTime = eventTime
	}
	if next.Properties == nil {
		next.Properties = map[string]any{}
	} else {
		merged := make(map[string]any, len(next.Properties))
		for k, v := range next.Properties {
			merged[k] = v
		}
		next.Properties = merged
	}
	for k, v := range changes {
		next.Properties[k] = v
	}
	if err := g.writeEntityVersion(ctx, scope, next); err != nil {
		return domain.Entity{}, err
	}
	return next, nil
}

func (g *Graph) writeEntityVersion(ctx context.Context, scope domain.Scope, e domain.Entity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("graph: encode entity: %w", err)
	}
	key := entityPrefix(e.ID) + g.nextULID()
	return g.backend.Set(ctx, scope, key, raw)
}

// allVersions returns every version of id's row type, oldest first
// (ListKeys's lexicographic order over ULID suffixes is chronological).
func allVersions[T any](ctx context.Context, g *Graph, scope domain.Scope, prefix string) ([]T, error) {
	keys, err := g.backend.ListKeys(ctx, scope, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		raw, err := g.backend.Get(ctx, scope, k)
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// GetEntity returns the latest version of id (largest ingestion time).
func (g *Graph) GetEntity(ctx context.Context, scope domain.Scope, id string) (*domain.Entity, error) {
	versions, err := allVersions[domain.Entity](ctx, g, scope, entityPrefix(id))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, storage.ErrNotFound
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

// GetEntityAt time-travels: it returns the version with the largest
// event_time <= at, ties broken by the latest ingestion_time.
func (g *Graph) GetEntityAt(ctx context.Context, scope domain.Scope, id string, at time.Time) (*domain.Entity, error) {
	versions, err := allVersions[domain.Entity](ctx, g, scope, entityPrefix(id))
	if err != nil {
		return nil, err
	}
	var best *domain.Entity
	for i := range versions {
		v := versions[i]
		if v.EventTime.After(at) {
			continue
		}
		if best == nil ||
			v.EventTime.After(best.EventTime) ||
			(v.EventTime.Equal(best.EventTime) && v.IngestionTime.After(best.IngestionTime)) {
			best = &v
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

// AddRelationship appends a new relationship edge (relationships are
// themselves bi-temporal rows, versioned the same way as entities).
func (g *Graph) AddRelationship(ctx context.Context, scope domain.Scope, r domain.Relationship) (domain.Relationship, error) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.IngestionTime.IsZero() {
		r.IngestionTime = time.Now().UTC()
	}
	if r.EventTime.IsZero() {
		r.EventTime = r.IngestionTime
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return domain.Relationship{}, fmt.Errorf("graph: encode relationship: %w", err)
	}
	key := relationshipPrefix(r.ID) + g.nextULID()
	if err := g.backend.Set(ctx, scope, key, raw); err != nil {
		return domain.Relationship{}, err
	}
	return r, nil
}

// GetRelated returns every relationship touching id whose type matches
// relationshipType (empty string matches all types), latest version of
// each relationship only.
func (g *Graph) GetRelated(ctx context.Context, scope domain.Scope, id, relationshipType string) ([]domain.Relationship, error) {
	keys, err := g.backend.ListKeys(ctx, scope, "relationship:")
	if err != nil {
		return nil, err
	}

	latestByID := map[string]domain.Relationship{}
	for _, k := range keys {
		raw, err := g.backend.Get(ctx, scope, k)
		if err != nil {
			continue
		}
		var rel domain.Relationship
		if err := json.Unmarshal(raw, &rel); err != nil {
			continue
		}
		latestByID[rel.ID] = rel // keys are in chronological order, so last write wins
	}

	out := make([]domain.Relationship, 0)
	for _, rel := range latestByID {
		if rel.FromEntity != id && rel.ToEntity != id {
			continue
		}
		if relationshipType != "" && rel.RelationshipType != relationshipType {
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// QueryTemporal returns every entity (latest version per id) satisfying
// q's filters.
func (g *Graph) QueryTemporal(ctx context.Context, scope domain.Scope, q domain.TemporalQuery) ([]domain.Entity, error) {
	keys, err := g.backend.ListKeys(ctx, scope, "entity:")
	if err != nil {
		return nil, err
	}

	latestByID := map[string]domain.Entity{}
	for _, k := range keys {
		raw, err := g.backend.Get(ctx, scope, k)
		if err != nil {
			continue
		}
		var e domain.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		latestByID[e.ID] = e
	}

	out := make([]domain.Entity, 0)
	for _, e := range latestByID {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteBefore permanently removes every entity/relationship version
// with IngestionTime strictly before cutoff. This is the one operation
// that actually destroys history, intended for retention/compaction, not
// for routine use.
func (g *Graph) DeleteBefore(ctx context.Context, scope domain.Scope, cutoff time.Time) error {
	for _, prefix := range []string{"entity:", "relationship:"} {
		keys, err := g.backend.ListKeys(ctx, scope, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			raw, err := g.backend.Get(ctx, scope, k)
			if err != nil {
				continue
			}
			var stamped struct {
				IngestionTime time.Time `json:"ingestion_time"`
			}
			if err := json.Unmarshal(raw, &stamped); err != nil {
				continue
			}
			if stamped.IngestionTime.Before(cutoff) {
				if err := g.backend.Delete(ctx, scope, k); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
