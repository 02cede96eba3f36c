// Package memorybackend is the non-persistent storage implementation:
// a single sync.RWMutex guarding plain Go maps, with no crash-safety
// guarantee.
package memorybackend

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

type row struct {
	value []byte
}

type vectorRow struct {
	embedding []float32
	metadata  map[string]any
}

// Backend is the in-memory storage.Backend + storage.VectorCapable.
type Backend struct {
	mu      sync.RWMutex
	data    map[string]row
	vectors map[string]vectorRow
}

// New constructs an empty in-memory backend. Data does not survive
// process restarts.
func New() *Backend {
	return &Backend{
		data:    make(map[string]row),
		vectors: make(map[string]vectorRow),
	}
}

func fullKey(scope domain.Scope, key string) string { return scope.Prefix() + key }

func (b *Backend) Get(_ context.Context, scope domain.Scope, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.data[fullKey(scope, key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(r.value))
	copy(out, r.value)
	return out, nil
}

func (b *Backend) Set(_ context.Context, scope domain.Scope, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	b.data[fullKey(scope, key)] = row{value: cp}
	return nil
}

func (b *Backend) Delete(_ context.Context, scope domain.Scope, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, fullKey(scope, key))
	return nil
}

func (b *Backend) Exists(_ context.Context, scope domain.Scope, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[fullKey(scope, key)]
	return ok, nil
}

func (b *Backend) ListKeys(_ context.Context, scope domain.Scope, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	full := scope.Prefix() + prefix
	var out []string
	for k := range b.data {
		if strings.HasPrefix(k, full) {
			out = append(out, strings.TrimPrefix(k, scope.Prefix()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) GetBatch(_ context.Context, scope domain.Scope, keys []string) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if r, ok := b.data[fullKey(scope, k)]; ok {
			cp := make([]byte, len(r.value))
			copy(cp, r.value)
			out[k] = cp
		}
	}
	return out, nil
}

func (b *Backend) SetBatch(_ context.Context, scope domain.Scope, values map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		b.data[fullKey(scope, k)] = row{value: cp}
	}
	return nil
}

func (b *Backend) DeleteBatch(_ context.Context, scope domain.Scope, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, fullKey(scope, k))
	}
	return nil
}

func (b *Backend) Clear(_ context.Context, scope domain.Scope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := scope.Prefix()
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
		}
	}
	for k := range b.vectors {
		if strings.HasPrefix(k, prefix) {
			delete(b.vectors, k)
		}
	}
	return nil
}

func (b *Backend) Characteristics() storage.Characteristics {
	return storage.Characteristics{
		Persistent:         false,
		Transactional:      true, // in-process map mutation under one lock is atomic
		SupportsPrefixScan: true,
		SupportsAtomicOps:  true,
		AvgReadLatencyUs:   0.2,
		AvgWriteLatencyUs:  0.3,
	}
}

// RunMigrations is a no-op: the in-memory backend has no schema to
// migrate.
func (b *Backend) RunMigrations(_ context.Context) error { return nil }

func (b *Backend) MigrationVersion(_ context.Context) (string, error) { return "unversioned", nil }

func (b *Backend) Close() error { return nil }

// ─── VectorCapable ───

func (b *Backend) SupportedDimensions() []int { return domain.SupportedVectorDimensions }

// SupportsHNSW is false: this backend does brute-force cosine search
// only; HNSW lives in the Milvus-backed pgbackend.
func (b *Backend) SupportsHNSW() bool { return false }

func (b *Backend) InsertVector(_ context.Context, scope domain.Scope, id string, vec []float32, metadata map[string]any) error {
	if !domain.IsSupportedDimension(len(vec)) {
		return storage.Fatal(errUnsupportedDimension(len(vec)))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors[fullKey(scope, id)] = vectorRow{embedding: vec, metadata: metadata}
	return nil
}

func (b *Backend) DeleteVector(_ context.Context, scope domain.Scope, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, fullKey(scope, id))
	return nil
}

func (b *Backend) Search(_ context.Context, scope domain.Scope, query []float32, k int, threshold float32) ([]storage.VectorResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prefix := scope.Prefix()
	var results []storage.VectorResult
	for key, v := range b.vectors {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		score := domain.CosineSimilarity(query, v.embedding)
		if score < threshold {
			continue
		}
		results = append(results, storage.VectorResult{
			ID:        strings.TrimPrefix(key, prefix),
			Score:     score,
			Metadata:  v.metadata,
			Embedding: v.embedding,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func errUnsupportedDimension(dim int) error {
	return &unsupportedDimErr{dim: dim}
}

type unsupportedDimErr struct{ dim int }

func (e *unsupportedDimErr) Error() string {
	return "memorybackend: unsupported vector dimension"
}
