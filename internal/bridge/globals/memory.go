package globals

import (
	"context"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/memory"
	"github.com/llmspell-go/kernel/internal/rag"
)

// MemoryGlobal exposes the composed memory system to a script, scoped
// to the calling execution's session.
type MemoryGlobal struct {
	system    *memory.System
	scope     domain.Scope
	sessionID string
}

func (g *MemoryGlobal) Query(ctx context.Context, q string, types []string, maxResults int) ([]domain.MemoryItem, error) {
	if g.system == nil {
		return nil, errNotConfigured("Memory")
	}
	var memTypes []domain.MemoryType
	for _, t := range types {
		memTypes = append(memTypes, domain.MemoryType(t))
	}
	return g.system.QueryContext(ctx, memory.ContextQuery{
		SessionID: g.sessionID, Query: q, Types: memTypes, MaxResults: maxResults,
	})
}

func (g *MemoryGlobal) Remember(ctx context.Context, role, content string) error {
	if g.system == nil || g.system.Episodic == nil {
		return errNotConfigured("Memory")
	}
	_, err := g.system.Episodic.Append(ctx, domain.EpisodicEntry{
		SessionID: g.sessionID, Role: role, Content: content,
	})
	return err
}

// ContextGlobal exposes the assembled, token-budgeted retrieval
// context — the glue between Memory and RAG a script calls when it
// wants a ready-to-prompt string rather than raw items.
type ContextGlobal struct {
	rag       *rag.Pipeline
	scope     domain.Scope
	sessionID string
}

func (g *ContextGlobal) Assemble(ctx context.Context, query string, strategy string, tokenBudget int) (*rag.ContextResult, error) {
	if g.rag == nil {
		return nil, errNotConfigured("Context")
	}
	return g.rag.AssembleContext(ctx, rag.ContextRequest{
		Scope: g.scope, SessionID: g.sessionID, Query: query,
		Strategy: rag.Strategy(strategy), TokenBudget: tokenBudget,
	})
}

// RAGGlobal exposes the ingest/retrieve pipeline directly, for
// scripts that manage their own corpus rather than relying on
// session/episodic memory alone.
type RAGGlobal struct {
	pipeline *rag.Pipeline
	scope    domain.Scope
}

func (g *RAGGlobal) Ingest(ctx context.Context, docID, text string, metadata map[string]any) error {
	if g.pipeline == nil {
		return errNotConfigured("RAG")
	}
	return g.pipeline.Ingest(ctx, g.scope, docID, text, metadata)
}

func (g *RAGGlobal) Retrieve(ctx context.Context, query string, k int) ([]rag.Chunk, error) {
	if g.pipeline == nil {
		return nil, errNotConfigured("RAG")
	}
	return g.pipeline.Retrieve(ctx, g.scope, query, k)
}
