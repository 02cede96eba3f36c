package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/graph"
	"github.com/llmspell-go/kernel/internal/providers"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

// fakeProvider is a minimal providers.Provider stub for embedding and
// consolidation tests: Embed returns a deterministic vector per text and
// Complete returns whatever scripted response has been queued.
type fakeProvider struct {
	completeResponses []string
	callCount         int
}

func (f *fakeProvider) Capability() providers.Capability { return providers.Capability{Name: "fake"} }

func (f *fakeProvider) Complete(ctx context.Context, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	if f.callCount >= len(f.completeResponses) {
		return nil, fmt.Errorf("fakeProvider: no scripted response for call %d", f.callCount)
	}
	resp := f.completeResponses[f.callCount]
	f.callCount++
	return &providers.Response{Content: resp, Finished: true}, nil
}

func (f *fakeProvider) CompleteStreaming(ctx context.Context, messages []providers.Message, tools []providers.Tool) (<-chan providers.StreamChunk, error) {
	return nil, providers.ErrUnsupported
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for j, r := range t {
			v[j%4] += float32(r)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) EmbeddingDimensions() int { return 4 }

func (f *fakeProvider) Validate(ctx context.Context) error { return nil }

func TestWorkingMemoryAddListClear(t *testing.T) {
	ctx := context.Background()
	w := NewWorking()
	w.Add(ctx, "s1", domain.MemoryItem{ID: "1", Content: "hello"})
	w.Add(ctx, "s1", domain.MemoryItem{ID: "2", Content: "world"})

	items := w.List(ctx, "s1")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	for _, item := range items {
		if item.MemoryType != domain.MemoryWorking {
			t.Fatalf("got memory type %v, want Working", item.MemoryType)
		}
	}

	w.ClearWorkingMemory(ctx, "s1")
	if items := w.List(ctx, "s1"); len(items) != 0 {
		t.Fatalf("got %d items after clear, want 0", len(items))
	}
}

func TestEpisodicAppendAndSearch(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	episodic := NewEpisodic(backend, nil)

	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "the sky is blue"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "assistant", Content: "grass is green"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hits, err := episodic.Search(ctx, "s1", "sky", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 || hits[0].Content != "the sky is blue" {
		t.Fatalf("got %+v, want top hit mentioning sky", hits)
	}
}

func TestEpisodicMarkProcessedAndUnprocessed(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	episodic := NewEpisodic(backend, nil)

	entry, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	unprocessed, err := episodic.Unprocessed(ctx, "s1")
	if err != nil || len(unprocessed) != 1 {
		t.Fatalf("got (%v, %v), want 1 unprocessed entry", unprocessed, err)
	}

	if err := episodic.MarkProcessed(ctx, "s1", entry.ID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	unprocessed, err = episodic.Unprocessed(ctx, "s1")
	if err != nil || len(unprocessed) != 0 {
		t.Fatalf("got (%v, %v), want 0 unprocessed entries after MarkProcessed", unprocessed, err)
	}
}

func TestEmbeddingServiceCachesExactText(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc := NewEmbeddingService(provider, 10)

	if _, err := svc.Embed(ctx, []string{"hello"}); err != nil {
		t.Fatalf("Embed 1: %v", err)
	}
	if _, err := svc.Embed(ctx, []string{"hello"}); err != nil {
		t.Fatalf("Embed 2: %v", err)
	}

	stats := svc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("got %+v, want 1 hit and 1 miss", stats)
	}
}

func TestEmbeddingServiceEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc := NewEmbeddingService(provider, 1)

	if _, err := svc.Embed(ctx, []string{"a"}); err != nil {
		t.Fatalf("Embed a: %v", err)
	}
	if _, err := svc.Embed(ctx, []string{"b"}); err != nil {
		t.Fatalf("Embed b: %v", err)
	}

	if svc.Stats().Evictions == 0 {
		t.Fatal("expected an eviction once the 1-entry cache received a second distinct text")
	}
}

func TestConsolidatorAppliesDecisionsAndMarksProcessed(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	episodic := NewEpisodic(backend, nil)
	g := graph.New(backend)

	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "my name is Ada"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	decisions := decisionBatch{Decisions: []Decision{
		{Kind: DecisionAdd, Name: "Ada", EntityType: "person"},
	}}
	raw, err := json.Marshal(decisions)
	if err != nil {
		t.Fatalf("marshal scripted decisions: %v", err)
	}
	provider := &fakeProvider{completeResponses: []string{string(raw)}}
	consolidator := NewConsolidator(episodic, g, provider, ConsolidateLLM)

	scope := domain.SessionScope("s1")
	got, err := consolidator.Run(ctx, scope, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Kind != DecisionAdd {
		t.Fatalf("got %+v, want one Add decision", got)
	}

	entities, err := g.QueryTemporal(ctx, scope, domain.TemporalQuery{})
	if err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Ada" {
		t.Fatalf("got %+v, want one Ada entity consolidated into the graph", entities)
	}

	unprocessed, err := episodic.Unprocessed(ctx, "s1")
	if err != nil || len(unprocessed) != 0 {
		t.Fatalf("got (%v, %v), want entries flagged processed after a successful Run", unprocessed, err)
	}
}

func TestConsolidatorIdempotentOnRerun(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	episodic := NewEpisodic(backend, nil)
	g := graph.New(backend)

	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "my name is Ada"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	decisions := decisionBatch{Decisions: []Decision{{Kind: DecisionAdd, Name: "Ada", EntityType: "person"}}}
	raw, _ := json.Marshal(decisions)
	// Second Run should find zero unprocessed entries and never need a
	// second scripted response; if it called the provider again,
	// fakeProvider would fail with "no scripted response".
	provider := &fakeProvider{completeResponses: []string{string(raw)}}
	consolidator := NewConsolidator(episodic, g, provider, ConsolidateLLM)
	scope := domain.SessionScope("s1")

	if _, err := consolidator.Run(ctx, scope, "s1"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := consolidator.Run(ctx, scope, "s1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("got %d decisions on rerun, want 0 (idempotent)", len(second))
	}
}

func TestConsolidatorRejectsMalformedResponse(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	episodic := NewEpisodic(backend, nil)
	g := graph.New(backend)

	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	provider := &fakeProvider{completeResponses: []string{`not json`}}
	consolidator := NewConsolidator(episodic, g, provider, ConsolidateLLM)

	if _, err := consolidator.Run(ctx, domain.SessionScope("s1"), "s1"); err == nil {
		t.Fatal("expected malformed provider response to be rejected")
	}
}

func TestQueryContextMergesAndDedupesByRelevance(t *testing.T) {
	ctx := context.Background()
	backend := memorybackend.New()
	working := NewWorking()
	episodic := NewEpisodic(backend, nil)
	g := graph.New(backend)
	sys := NewSystem(working, episodic, g)

	working.Add(ctx, "s1", domain.MemoryItem{ID: "w1", Content: "note", Relevance: 0.9})
	if _, err := episodic.Append(ctx, domain.EpisodicEntry{SessionID: "s1", Role: "user", Content: "hello there"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	items, err := sys.QueryContext(ctx, ContextQuery{SessionID: "s1", Query: "hello", MaxResults: 10})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected at least one merged memory item")
	}
	for i := 1; i < len(items); i++ {
		if items[i].Relevance > items[i-1].Relevance {
			t.Fatalf("results not sorted by descending relevance: %+v", items)
		}
	}
}
