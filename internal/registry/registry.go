// Package registry implements a process-wide, append-mostly
// registry of named tools, agents, and workflow factories, synchronized
// with a read-write lock: three independent namespaces plus optional
// event-bus notification on registration.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/llmspell-go/kernel/internal/events"
)

// ToolHandler is the callable body of a registered tool.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolSpec describes a registered tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any // JSON-schema-shaped parameter description
	Handler     ToolHandler
}

// AgentFactory constructs an agent instance given its configuration.
type AgentFactory func(ctx context.Context, config map[string]any) (any, error)

// AgentSpec describes a registered agent factory.
type AgentSpec struct {
	Name        string
	Description string
	Factory     AgentFactory
}

// WorkflowFactory constructs a workflow instance given its configuration.
type WorkflowFactory func(ctx context.Context, config map[string]any) (any, error)

// WorkflowSpec describes a registered workflow-pattern factory (e.g.
// "pipeline", "fork_join", "consensus").
type WorkflowSpec struct {
	Name    string
	Factory WorkflowFactory
}

// Registry is the shared, process-wide handle. Construct one per
// runtime and hand the same pointer to the kernel and the script bridge.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]ToolSpec
	agents    map[string]AgentSpec
	workflows map[string]WorkflowSpec
	bus       *events.Bus // optional: registrations emit "registry.*.registered"
}

// New builds an empty Registry. bus may be nil to disable event
// notification on registration.
func New(bus *events.Bus) *Registry {
	return &Registry{
		tools:     make(map[string]ToolSpec),
		agents:    make(map[string]AgentSpec),
		workflows: make(map[string]WorkflowSpec),
		bus:       bus,
	}
}

func (r *Registry) RegisterTool(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("registry: tool name must not be empty")
	}
	r.mu.Lock()
	r.tools[spec.Name] = spec
	r.mu.Unlock()
	r.notify(context.Background(), "tool", spec.Name)
	return nil
}

func (r *Registry) GetTool(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

func (r *Registry) ListTools() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.tools))
	for _, spec := range r.tools {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) RegisterAgent(spec AgentSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("registry: agent name must not be empty")
	}
	r.mu.Lock()
	r.agents[spec.Name] = spec
	r.mu.Unlock()
	r.notify(context.Background(), "agent", spec.Name)
	return nil
}

func (r *Registry) GetAgent(name string) (AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.agents[name]
	return spec, ok
}

func (r *Registry) ListAgents() []AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentSpec, 0, len(r.agents))
	for _, spec := range r.agents {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) RegisterWorkflow(spec WorkflowSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("registry: workflow factory name must not be empty")
	}
	r.mu.Lock()
	r.workflows[spec.Name] = spec
	r.mu.Unlock()
	r.notify(context.Background(), "workflow", spec.Name)
	return nil
}

func (r *Registry) GetWorkflow(name string) (WorkflowSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.workflows[name]
	return spec, ok
}

func (r *Registry) ListWorkflows() []WorkflowSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkflowSpec, 0, len(r.workflows))
	for _, spec := range r.workflows {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) notify(ctx context.Context, kind, name string) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, events.Event{
		Name:     "registry." + kind + ".registered",
		Payload:  name,
		Language: events.LangNative,
	})
}
