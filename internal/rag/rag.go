// Package rag implements the retrieval pipeline: chunk -> embed ->
// store -> retrieve -> optional-rerank, plus the token-budgeted context
// assembler scripts call through the bridge's Context/RAG globals.
// The assembler collects retrieved chunks into a budget-bounded
// prompt; the token budget is clamped to 100-8192 and defaults to
// 2000.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/memory"
	"github.com/llmspell-go/kernel/internal/storage"
)

// Strategy selects which retrieval sources AssembleContext draws
// from.
type Strategy string

const (
	StrategyEpisodic Strategy = "episodic"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
	StrategyRAG      Strategy = "rag"
)

const (
	MinTokenBudget     = 100
	MaxTokenBudget     = 8192
	DefaultTokenBudget = 2000
)

// Chunk is one unit of ingested, embedded text.
type Chunk struct {
	ID        string         `json:"id"`
	DocID     string         `json:"doc_id"`
	Text      string         `json:"text"`
	Ordinal   int            `json:"ordinal"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Score     float32        `json:"score,omitempty"`
}

// ContextRequest parameterizes AssembleContext.
type ContextRequest struct {
	Scope       domain.Scope
	SessionID   string
	Query       string
	Strategy    Strategy
	TokenBudget int
	RerankTopN  int // 0 disables rerank
}

// ContextResult is the assembled, ready-to-prompt context.
type ContextResult struct {
	Chunks          []Chunk
	TotalConfidence float32
	TemporalSpan    [2]time.Time
	TokenCount      int
	Formatted       string
}

// Reranker optionally reorders a candidate set before truncation to the
// token budget; nil disables reranking (first-pass relevance order is
// kept as-is).
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error)
}

const (
	chunkSize    = 800  // characters per chunk; a rough proxy for ~200 tokens
	chunkOverlap = 100
)

// Pipeline ties chunking, embedding, vector storage, retrieval, and
// context assembly into one component scripts reach through the
// RAG/Context globals.
type Pipeline struct {
	backend  storage.Backend
	embed    *memory.EmbeddingService
	memory   *memory.System
	reranker Reranker
}

func New(backend storage.Backend, embed *memory.EmbeddingService, mem *memory.System, reranker Reranker) *Pipeline {
	return &Pipeline{backend: backend, embed: embed, memory: mem, reranker: reranker}
}

func chunkKey(docID string, ordinal int) string {
	return fmt.Sprintf("rag:chunk:%s:%d", docID, ordinal)
}

// Ingest splits text into overlapping chunks, embeds each, and stores
// both the chunk text (for display) and its vector (for retrieval).
func (p *Pipeline) Ingest(ctx context.Context, scope domain.Scope, docID, text string, metadata map[string]any) error {
	chunks := splitChunks(docID, text, metadata)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	if p.embed != nil {
		var err error
		vectors, err = p.embed.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("rag: embed chunks: %w", err)
		}
	}

	vc, hasVectors := p.backend.(storage.VectorCapable)
	for i, c := range chunks {
		raw, err := encodeChunk(c)
		if err != nil {
			return err
		}
		if err := p.backend.Set(ctx, scope, chunkKey(docID, c.Ordinal), raw); err != nil {
			return err
		}
		if hasVectors && i < len(vectors) {
			if err := vc.InsertVector(ctx, scope, c.ID, vectors[i], map[string]any{"doc_id": docID, "ordinal": c.Ordinal}); err != nil {
				return fmt.Errorf("rag: index chunk %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

// splitChunks implements a fixed-size sliding-window split; adequate
// for the corpora scripts ingest through this pipeline (documents,
// notes, tool output) without pulling in a sentence-boundary tokenizer.
func splitChunks(docID, text string, metadata map[string]any) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []Chunk
	ordinal := 0
	for start := 0; start < len(text); {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		out = append(out, Chunk{
			ID: fmt.Sprintf("%s:%d", docID, ordinal), DocID: docID, Text: text[start:end],
			Ordinal: ordinal, Metadata: metadata, CreatedAt: time.Now().UTC(),
		})
		ordinal++
		if end == len(text) {
			break
		}
		start = end - chunkOverlap
		if start < 0 {
			start = 0
		}
	}
	return out
}

// Retrieve returns the top-k chunks for query by vector similarity,
// falling back to no results (not an error) when the backend has no
// vector capability.
func (p *Pipeline) Retrieve(ctx context.Context, scope domain.Scope, query string, k int) ([]Chunk, error) {
	vc, ok := p.backend.(storage.VectorCapable)
	if !ok || p.embed == nil {
		return nil, nil
	}
	vectors, err := p.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	hits, err := vc.Search(ctx, scope, vectors[0], k, 0)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	out := make([]Chunk, 0, len(hits))
	for _, hit := range hits {
		docID, _ := hit.Metadata["doc_id"].(string)
		ordinal := ordinalFromMetadata(hit.Metadata["ordinal"])
		raw, err := p.backend.Get(ctx, scope, chunkKey(docID, ordinal))
		if err != nil {
			continue
		}
		c, err := decodeChunk(raw)
		if err != nil {
			continue
		}
		c.Score = hit.Score
		out = append(out, c)
	}
	return out, nil
}

// AssembleContext builds a ContextResult for strategy, bounded to
// tokenBudget (clamped to [MinTokenBudget, MaxTokenBudget], defaulting
// to DefaultTokenBudget when zero).
func (p *Pipeline) AssembleContext(ctx context.Context, req ContextRequest) (*ContextResult, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if budget < MinTokenBudget {
		budget = MinTokenBudget
	}
	if budget > MaxTokenBudget {
		budget = MaxTokenBudget
	}

	var chunks []Chunk
	switch req.Strategy {
	case StrategyRAG:
		ragHits, err := p.Retrieve(ctx, req.Scope, req.Query, 20)
		if err != nil {
			return nil, err
		}
		chunks = ragHits
	case StrategyEpisodic, StrategySemantic, StrategyHybrid, "":
		if p.memory == nil {
			break
		}
		types := memoryTypesFor(req.Strategy)
		items, err := p.memory.QueryContext(ctx, memory.ContextQuery{
			SessionID: req.SessionID, Query: req.Query, Types: types, MaxResults: 20,
		})
		if err != nil {
			return nil, fmt.Errorf("rag: query memory: %w", err)
		}
		for _, item := range items {
			chunks = append(chunks, Chunk{ID: item.ID, Text: item.Content, Score: item.Relevance, CreatedAt: item.CreatedAt, Metadata: item.Metadata})
		}
	default:
		return nil, fmt.Errorf("rag: unknown strategy %q", req.Strategy)
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })

	if p.reranker != nil && req.RerankTopN > 0 {
		top := chunks
		if len(top) > req.RerankTopN {
			top = top[:req.RerankTopN]
		}
		reranked, err := p.reranker.Rerank(ctx, req.Query, top)
		if err == nil {
			chunks = append(reranked, chunks[len(top):]...)
		}
	}

	return assemble(chunks, budget), nil
}

func memoryTypesFor(s Strategy) []domain.MemoryType {
	switch s {
	case StrategyEpisodic:
		return []domain.MemoryType{domain.MemoryEpisodic}
	case StrategySemantic:
		return []domain.MemoryType{domain.MemorySemantic}
	default:
		return nil // hybrid / unset: all types
	}
}

// estimateTokens approximates token count at ~4 characters per token,
// the common rough-order heuristic for English prose.
func estimateTokens(s string) int { return (len(s) + 3) / 4 }

// assemble walks chunks in the order given and takes each one that
// still fits in budget; a chunk that would overflow is skipped and
// scanning continues with the next.
func assemble(chunks []Chunk, budget int) *ContextResult {
	result := &ContextResult{}
	var sb strings.Builder
	var totalScore float32
	tokens := 0

	for _, c := range chunks {
		cTokens := estimateTokens(c.Text)
		if tokens+cTokens > budget && tokens > 0 {
			continue // skip chunks that would overflow, keep scanning for a smaller one
		}
		if cTokens > budget {
			continue
		}
		result.Chunks = append(result.Chunks, c)
		totalScore += c.Score
		tokens += cTokens
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")

		if result.TemporalSpan[0].IsZero() || c.CreatedAt.Before(result.TemporalSpan[0]) {
			result.TemporalSpan[0] = c.CreatedAt
		}
		if c.CreatedAt.After(result.TemporalSpan[1]) {
			result.TemporalSpan[1] = c.CreatedAt
		}
	}

	result.TokenCount = tokens
	result.Formatted = strings.TrimSpace(sb.String())
	if len(result.Chunks) > 0 {
		result.TotalConfidence = totalScore / float32(len(result.Chunks))
	}
	return result
}
