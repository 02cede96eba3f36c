package globals

import (
	"context"
	"fmt"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/registry"
	"github.com/llmspell-go/kernel/internal/workflow"
)

// WorkflowGlobal exposes the workflow pattern constructors to a
// script: a
// pattern is registered under a name (alongside the registry's
// tool/agent registrations) and later run by name, mirroring how
// Tool.invoke and Agent.create already work.
type WorkflowGlobal struct {
	registry *registry.Registry
	scope    domain.Scope
}

// agentTask adapts a registered agent into a workflow.Task: each step
// invocation looks the agent factory up fresh (factories may be
// re-registered between executions) and runs it with the previous
// step's output as its config, falling back to {"input": ...} when the
// previous output isn't already a config-shaped map.
func (g *WorkflowGlobal) agentTask(agentID string) workflow.Task {
	return func(ctx context.Context, input any) (any, error) {
		spec, ok := g.registry.GetAgent(agentID)
		if !ok {
			return nil, fmt.Errorf("bridge: workflow step references unknown agent %q", agentID)
		}
		cfg, ok := input.(map[string]any)
		if !ok {
			cfg = map[string]any{"input": input}
		}
		return spec.Factory(ctx, cfg)
	}
}

func (g *WorkflowGlobal) namedTasks(agentIDs []string) []workflow.NamedTask {
	tasks := make([]workflow.NamedTask, len(agentIDs))
	for i, id := range agentIDs {
		tasks[i] = workflow.NamedTask{Name: id, Task: g.agentTask(id)}
	}
	return tasks
}

func errStrategyFromOptions(options map[string]any) workflow.ErrorStrategy {
	strategy := workflow.ErrorStrategy{Kind: workflow.FailFast}
	if options == nil {
		return strategy
	}
	if kind, ok := options["error_strategy"].(string); ok && kind != "" {
		strategy.Kind = workflow.ErrorStrategyKind(kind)
	}
	if n, ok := options["max_attempts"].(float64); ok {
		strategy.MaxAttempts = int(n)
	}
	if n, ok := options["backoff_ms"].(float64); ok {
		strategy.BackoffMS = int(n)
	}
	return strategy
}

// Pipeline registers a sequential workflow running agentIDs in order.
func (g *WorkflowGlobal) Pipeline(name string, agentIDs []string, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			return workflow.Pipeline(name, g.namedTasks(agentIDs), strategy), nil
		},
	})
}

// ForkJoin registers a concurrent-fan-out workflow over agentIDs,
// merged by name into a map. A script-supplied coordinator is not
// marshaled here; a script needing custom merge logic reads each
// branch's named output from the result and merges it itself.
func (g *WorkflowGlobal) ForkJoin(name string, agentIDs []string, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			return workflow.ForkJoin(name, g.namedTasks(agentIDs), nil, strategy), nil
		},
	})
}

// Consensus registers a vote-and-merge workflow over agentIDs.
func (g *WorkflowGlobal) Consensus(name string, agentIDs []string, threshold float64, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			return workflow.Consensus(name, g.namedTasks(agentIDs), threshold, strategy), nil
		},
	})
}

// Delegation registers a fallback-chain workflow: candidates run in
// order until one succeeds.
func (g *WorkflowGlobal) Delegation(name string, agentIDs []string, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			return workflow.Delegation(name, g.namedTasks(agentIDs), strategy), nil
		},
	})
}

// Collaboration registers a shared-input fan-out whose outputs merge
// into an ordered list rather than a name-keyed map.
func (g *WorkflowGlobal) Collaboration(name string, agentIDs []string, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			return workflow.Collaboration(name, g.namedTasks(agentIDs), strategy), nil
		},
	})
}

// Hierarchical registers a coordinator-then-workers workflow:
// coordinatorAgentID runs first, then workerAgentIDs run as a fan-out
// over its output.
func (g *WorkflowGlobal) Hierarchical(name string, coordinatorAgentID string, workerAgentIDs []string, options map[string]any) error {
	strategy := errStrategyFromOptions(options)
	return g.registry.RegisterWorkflow(registry.WorkflowSpec{
		Name: name,
		Factory: func(ctx context.Context, _ map[string]any) (any, error) {
			coordinator := workflow.NamedTask{Name: coordinatorAgentID, Task: g.agentTask(coordinatorAgentID)}
			return workflow.Hierarchical(name, coordinator, g.namedTasks(workerAgentIDs), strategy), nil
		},
	})
}

// Execute runs a previously registered workflow pattern by name.
func (g *WorkflowGlobal) Execute(ctx context.Context, name string, input map[string]any) (*workflow.Result, error) {
	spec, ok := g.registry.GetWorkflow(name)
	if !ok {
		return nil, fmt.Errorf("bridge: unknown workflow %q", name)
	}
	built, err := spec.Factory(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: build workflow %q: %w", name, err)
	}
	wf, ok := built.(workflow.Workflow)
	if !ok {
		return nil, fmt.Errorf("bridge: workflow %q factory did not produce an executable workflow", name)
	}
	return wf.Execute(ctx, input)
}
