package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/graph"
)

// System composes working, episodic, and semantic memory behind the
// one retrieval surface the bridge's Memory global and the RAG pipeline
// both call through.
type System struct {
	Working  *Working
	Episodic *Episodic
	Graph    *graph.Graph
}

func NewSystem(working *Working, episodic *Episodic, g *graph.Graph) *System {
	return &System{Working: working, Episodic: episodic, Graph: g}
}

// ContextQuery selects which memory types to search and how to bound
// the result set.
type ContextQuery struct {
	SessionID     string
	Query         string
	Types         []domain.MemoryType // empty means all three
	RelevanceFloor float32
	TimeFrom      time.Time
	TimeTo        time.Time
	MaxResults    int // typically 10-50; defaulted below when zero
}

func (q ContextQuery) wants(t domain.MemoryType) bool {
	if len(q.Types) == 0 {
		return true
	}
	for _, want := range q.Types {
		if want == t {
			return true
		}
	}
	return false
}

// QueryContext merges results from every requested memory type,
// de-duplicates by id, and returns them sorted by relevance descending.
func (s *System) QueryContext(ctx context.Context, q ContextQuery) ([]domain.MemoryItem, error) {
	max := q.MaxResults
	if max <= 0 {
		max = 10
	}

	var items []domain.MemoryItem

	if q.wants(domain.MemoryWorking) && s.Working != nil {
		for _, item := range s.Working.List(ctx, q.SessionID) {
			if inTimeRange(item.CreatedAt, q.TimeFrom, q.TimeTo) && item.Relevance >= q.RelevanceFloor {
				items = append(items, item)
			}
		}
	}

	if q.wants(domain.MemoryEpisodic) && s.Episodic != nil {
		hits, err := s.Episodic.Search(ctx, q.SessionID, q.Query, max)
		if err != nil {
			return nil, fmt.Errorf("memory: episodic search: %w", err)
		}
		for _, item := range hits {
			if inTimeRange(item.CreatedAt, q.TimeFrom, q.TimeTo) && item.Relevance >= q.RelevanceFloor {
				items = append(items, item)
			}
		}
	}

	if q.wants(domain.MemorySemantic) && s.Graph != nil {
		hits, err := s.searchSemantic(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("memory: semantic search: %w", err)
		}
		items = append(items, hits...)
	}

	dedup := map[string]domain.MemoryItem{}
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := dedup[item.ID]; !seen {
			order = append(order, item.ID)
		}
		dedup[item.ID] = item
	}
	out := make([]domain.MemoryItem, 0, len(order))
	for _, id := range order {
		out = append(out, dedup[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func inTimeRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// searchSemantic performs a lexical scan over the graph's current
// entities. The knowledge graph has no vector index of its own;
// semantic-memory relevance is a case-insensitive substring match of
// the query against the entity's name; properties are not searched.
func (s *System) searchSemantic(ctx context.Context, q ContextQuery) ([]domain.MemoryItem, error) {
	scope := domain.SessionScope(q.SessionID)
	entities, err := s.Graph.QueryTemporal(ctx, scope, domain.TemporalQuery{
		EventTimeFrom: q.TimeFrom,
		EventTimeTo:   q.TimeTo,
	})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(q.Query)
	out := make([]domain.MemoryItem, 0, len(entities))
	for _, e := range entities {
		if deleted, _ := e.Properties["deleted"].(bool); deleted {
			continue
		}
		haystack := strings.ToLower(e.Name)
		relevance := float32(0)
		if needle == "" {
			relevance = 0.5
		} else if strings.Contains(haystack, needle) {
			relevance = 1.0
		} else {
			continue
		}
		if relevance < q.RelevanceFloor {
			continue
		}
		out = append(out, domain.MemoryItem{
			ID: e.ID, Content: e.Name, MemoryType: domain.MemorySemantic,
			Relevance: relevance, CreatedAt: e.EventTime, LastAccessed: time.Now().UTC(),
			Metadata: e.Properties,
		})
	}
	return out, nil
}
