// Package memory implements working, episodic, and semantic memory
// composed over the storage backend (vector search) and the knowledge
// graph, with an embedding cache and four consolidation strategies.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/llmspell-go/kernel/internal/providers"
)

// EmbeddingService wraps a providers.Provider's Embed capability with
// an optional exact-text cache.
type EmbeddingService struct {
	provider providers.Provider
	cache    map[string][]float32
	mu       sync.RWMutex
	hits     atomic.Int64
	misses   atomic.Int64
	evicts   atomic.Int64
	maxEntries int
}

// NewEmbeddingService builds a service over provider. maxEntries <= 0
// disables the cache.
func NewEmbeddingService(provider providers.Provider, maxEntries int) *EmbeddingService {
	return &EmbeddingService{provider: provider, cache: make(map[string][]float32), maxEntries: maxEntries}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns vectors for texts, serving exact cache hits and storing
// new computations for future reuse.
func (s *EmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var toCompute []string
	var computeIdx []int

	if s.maxEntries > 0 {
		s.mu.RLock()
		for i, text := range texts {
			if v, ok := s.cache[cacheKey(text)]; ok {
				out[i] = v
				s.hits.Add(1)
			} else {
				toCompute = append(toCompute, text)
				computeIdx = append(computeIdx, i)
				s.misses.Add(1)
			}
		}
		s.mu.RUnlock()
	} else {
		toCompute = texts
		for i := range texts {
			computeIdx = append(computeIdx, i)
		}
	}

	if len(toCompute) == 0 {
		return out, nil
	}

	vectors, err := s.provider.Embed(ctx, toCompute)
	if err != nil {
		return nil, err
	}

	if s.maxEntries > 0 {
		s.mu.Lock()
		for i, v := range vectors {
			if len(s.cache) >= s.maxEntries {
				s.evictOneLocked()
			}
			s.cache[cacheKey(toCompute[i])] = v
		}
		s.mu.Unlock()
	}

	for i, idx := range computeIdx {
		out[idx] = vectors[i]
	}
	return out, nil
}

// evictOneLocked drops an arbitrary entry; Go's map iteration order is
// randomized, which is an adequate approximation of random eviction
// without tracking access recency.
func (s *EmbeddingService) evictOneLocked() {
	for k := range s.cache {
		delete(s.cache, k)
		s.evicts.Add(1)
		return
	}
}

// CacheStats reports hit rate and evictions.
type CacheStats struct {
	Hits, Misses, Evictions int64
	HitRate                 float64
}

func (s *EmbeddingService) Stats() CacheStats {
	hits, misses := s.hits.Load(), s.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return CacheStats{Hits: hits, Misses: misses, Evictions: s.evicts.Load(), HitRate: rate}
}

func (s *EmbeddingService) Dimensions() int { return s.provider.EmbeddingDimensions() }
