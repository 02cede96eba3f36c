package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

// Episodic is the append-log of session interactions with a vector
// index, searched with a hybrid lexical-prefilter + vector-similarity
// strategy.
type Episodic struct {
	backend   storage.Backend
	embedding *EmbeddingService
}

func NewEpisodic(backend storage.Backend, embedding *EmbeddingService) *Episodic {
	return &Episodic{backend: backend, embedding: embedding}
}

func episodicScope(sessionID string) domain.Scope {
	if sessionID == "" {
		return domain.CustomScope("episodic:global")
	}
	return domain.SessionScope(sessionID)
}

func episodicKey(id string) string { return "episodic:" + id }

// Append adds entry to the episodic log, embedding its content if an
// EmbeddingService is configured.
func (e *Episodic) Append(ctx context.Context, entry domain.EpisodicEntry) (domain.EpisodicEntry, error) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.IngestionTime = time.Now().UTC()

	if e.embedding != nil && entry.Content != "" {
		vectors, err := e.embedding.Embed(ctx, []string{entry.Content})
		if err == nil && len(vectors) == 1 {
			entry.Embedding = vectors[0]
		}
	}

	scope := episodicScope(entry.SessionID)
	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.EpisodicEntry{}, fmt.Errorf("memory: encode episodic entry: %w", err)
	}
	if err := e.backend.Set(ctx, scope, episodicKey(entry.ID), raw); err != nil {
		return domain.EpisodicEntry{}, err
	}

	if len(entry.Embedding) > 0 {
		if vc, ok := e.backend.(storage.VectorCapable); ok {
			_ = vc.InsertVector(ctx, scope, entry.ID, entry.Embedding, map[string]any{
				"session_id": entry.SessionID, "role": entry.Role,
			})
		}
	}

	return entry, nil
}

// MarkProcessed flips entry.Processed to true, the consolidation
// completion signal.
func (e *Episodic) MarkProcessed(ctx context.Context, sessionID, id string) error {
	scope := episodicScope(sessionID)
	raw, err := e.backend.Get(ctx, scope, episodicKey(id))
	if err != nil {
		return err
	}
	var entry domain.EpisodicEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return err
	}
	entry.Processed = true
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return e.backend.Set(ctx, scope, episodicKey(id), encoded)
}

// Unprocessed returns every entry in sessionID not yet consolidated (or
// every session's unprocessed entries when sessionID is empty).
func (e *Episodic) Unprocessed(ctx context.Context, sessionID string) ([]domain.EpisodicEntry, error) {
	all, err := e.list(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EpisodicEntry, 0, len(all))
	for _, entry := range all {
		if !entry.Processed {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (e *Episodic) list(ctx context.Context, sessionID string) ([]domain.EpisodicEntry, error) {
	scope := episodicScope(sessionID)
	keys, err := e.backend.ListKeys(ctx, scope, "episodic:")
	if err != nil {
		return nil, err
	}
	out := make([]domain.EpisodicEntry, 0, len(keys))
	for _, k := range keys {
		raw, err := e.backend.Get(ctx, scope, k)
		if err != nil {
			continue
		}
		var entry domain.EpisodicEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Search performs the hybrid lexical-prefilter + vector-similarity
// search, returning the top-k most relevant entries.
func (e *Episodic) Search(ctx context.Context, sessionID, query string, k int) ([]domain.MemoryItem, error) {
	entries, err := e.list(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	var prefiltered []domain.EpisodicEntry
	for _, entry := range entries {
		if lower == "" || strings.Contains(strings.ToLower(entry.Content), lower) {
			prefiltered = append(prefiltered, entry)
		}
	}
	// Hybrid fallback: if the lexical prefilter is too aggressive (no
	// hits) fall back to the full set so vector similarity alone can
	// still surface results.
	if len(prefiltered) == 0 {
		prefiltered = entries
	}

	var queryVec []float32
	if e.embedding != nil && query != "" {
		vectors, err := e.embedding.Embed(ctx, []string{query})
		if err == nil && len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	items := make([]domain.MemoryItem, 0, len(prefiltered))
	for _, entry := range prefiltered {
		relevance := float32(0)
		if queryVec != nil && len(entry.Embedding) == len(queryVec) {
			relevance = domain.CosineSimilarity(queryVec, entry.Embedding)
		} else if lower != "" && strings.Contains(strings.ToLower(entry.Content), lower) {
			relevance = 1
		}
		items = append(items, domain.MemoryItem{
			ID: entry.ID, Content: entry.Content, MemoryType: domain.MemoryEpisodic,
			Relevance: relevance, CreatedAt: entry.Timestamp, LastAccessed: time.Now().UTC(),
			Metadata: entry.Metadata,
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Relevance > items[j].Relevance })
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, nil
}
