package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/graph"
	"github.com/llmspell-go/kernel/internal/providers"
)

// ConsolidationStrategy selects when episodic entries are turned into
// semantic facts.
type ConsolidationStrategy string

const (
	ConsolidateManual     ConsolidationStrategy = "manual"
	ConsolidateImmediate  ConsolidationStrategy = "immediate"
	ConsolidateBackground ConsolidationStrategy = "background"
	ConsolidateLLM        ConsolidationStrategy = "llm"
)

// DecisionKind is one of the four outcomes the LLM-driven consolidator
// may emit per extracted entity.
type DecisionKind string

const (
	DecisionAdd    DecisionKind = "add"
	DecisionUpdate DecisionKind = "update"
	DecisionDelete DecisionKind = "delete"
	DecisionNoop   DecisionKind = "noop"
)

// Decision is one structured consolidation outcome the provider emits
// for an extracted entity.
type Decision struct {
	Kind       DecisionKind   `json:"kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	EventTime  time.Time      `json:"event_time,omitempty"`
}

type decisionBatch struct {
	Decisions []Decision `json:"decisions"`
}

// ErrMalformedDecisions is returned when the provider's structured
// response fails validation.
var ErrMalformedDecisions = fmt.Errorf("memory: consolidation response failed validation")

// Consolidator converts unprocessed episodic entries into semantic
// graph updates: a prompt goes to the provider, its structured response
// is validated, and valid decisions are applied under one logical
// transaction per batch.
type Consolidator struct {
	episodic *Episodic
	graph    *graph.Graph
	provider providers.Provider
	strategy ConsolidationStrategy
}

func NewConsolidator(episodic *Episodic, g *graph.Graph, provider providers.Provider, strategy ConsolidationStrategy) *Consolidator {
	return &Consolidator{episodic: episodic, graph: g, provider: provider, strategy: strategy}
}

const consolidationSystemPrompt = `You extract durable facts from a conversation transcript.
Respond with a JSON object {"decisions":[...]} where each element is
{"kind":"add|update|delete|noop","entity_id":"...","name":"...","entity_type":"...","properties":{...}}.
Emit "update" only when entity_id refers to a fact already known. Emit "noop" when nothing new was learned.`

// Run executes one consolidation pass over sessionID's unprocessed
// episodic entries. Re-running after a successful pass is idempotent:
// entries are flagged Processed as part of the same pass, so a second
// call finds nothing left to do and returns zero decisions.
func (c *Consolidator) Run(ctx context.Context, scope domain.Scope, sessionID string) ([]Decision, error) {
	entries, err := c.episodic.Unprocessed(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory: list unprocessed entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	decisions, err := c.extract(ctx, entries)
	if err != nil {
		return nil, err
	}

	if err := c.apply(ctx, scope, decisions); err != nil {
		return nil, fmt.Errorf("memory: apply consolidation decisions: %w", err)
	}

	for _, e := range entries {
		if err := c.episodic.MarkProcessed(ctx, sessionID, e.ID); err != nil {
			return nil, fmt.Errorf("memory: mark entry %s processed: %w", e.ID, err)
		}
	}

	return decisions, nil
}

func (c *Consolidator) extract(ctx context.Context, entries []domain.EpisodicEntry) ([]Decision, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("memory: LLM-driven consolidation requires a provider")
	}

	transcript := ""
	for _, e := range entries {
		transcript += fmt.Sprintf("%s: %s\n", e.Role, e.Content)
	}

	messages := []providers.Message{
		{Role: "system", Content: consolidationSystemPrompt},
		{Role: "user", Content: transcript},
	}
	resp, err := c.provider.Complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: consolidation provider call: %w", err)
	}

	var batch decisionBatch
	if err := json.Unmarshal([]byte(resp.Content), &batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDecisions, err)
	}
	for _, d := range batch.Decisions {
		switch d.Kind {
		case DecisionAdd, DecisionUpdate, DecisionDelete, DecisionNoop:
		default:
			return nil, fmt.Errorf("%w: unknown decision kind %q", ErrMalformedDecisions, d.Kind)
		}
		if d.Kind == DecisionUpdate && d.EntityID == "" {
			return nil, fmt.Errorf("%w: update decision missing entity_id", ErrMalformedDecisions)
		}
	}
	return batch.Decisions, nil
}

// apply mutates the graph under one logical transaction per batch: a
// failure partway through is reported, but entries are only flagged
// processed by the caller after apply returns successfully, so a
// partial failure is safe to retry.
func (c *Consolidator) apply(ctx context.Context, scope domain.Scope, decisions []Decision) error {
	now := time.Now().UTC()
	for _, d := range decisions {
		switch d.Kind {
		case DecisionNoop:
			continue
		case DecisionAdd:
			eventTime := d.EventTime
			if eventTime.IsZero() {
				eventTime = now
			}
			if _, err := c.graph.AddEntity(ctx, scope, domain.Entity{
				Name: d.Name, EntityType: d.EntityType, Properties: d.Properties, EventTime: eventTime,
			}); err != nil {
				return err
			}
		case DecisionUpdate:
			if _, err := c.graph.UpdateEntity(ctx, scope, d.EntityID, d.Properties, d.EventTime); err != nil {
				return err
			}
		case DecisionDelete:
			// The graph is append-only: a "delete" decision
			// tombstones the entity with a new version rather than
			// destroying history, so get_entity_at still time-travels
			// correctly across the deletion point.
			if _, err := c.graph.UpdateEntity(ctx, scope, d.EntityID, map[string]any{"deleted": true}, now); err != nil {
				return err
			}
		}
	}
	return nil
}
