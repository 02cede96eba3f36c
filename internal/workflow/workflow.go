// Package workflow implements uniformly executable workflow
// patterns (pipeline, fork-join, consensus, delegation, collaboration,
// hierarchical) over named tasks, each producing per-step success,
// output, duration, and retry count.
//
// Every pattern shares the same execution shape: one goroutine per
// branch, fan-in by collecting into a result slice, with a single
// runTask retry/backoff helper underneath.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is one named unit of work a pattern composes. Input is whatever
// the previous step (or the caller, for the first step) produced.
type Task func(ctx context.Context, input any) (any, error)

// NamedTask pairs a Task with the name it reports in StepResult.
type NamedTask struct {
	Name string
	Task Task
}

// ErrorStrategyKind selects how a pattern reacts to a failing step.
type ErrorStrategyKind string

const (
	FailFast ErrorStrategyKind = "fail_fast"
	Continue ErrorStrategyKind = "continue"
	Retry    ErrorStrategyKind = "retry"
)

// ErrorStrategy is attached per workflow.
type ErrorStrategy struct {
	Kind        ErrorStrategyKind
	MaxAttempts int
	BackoffMS   int
}

func (s ErrorStrategy) normalized() ErrorStrategy {
	if s.Kind == "" {
		s.Kind = FailFast
	}
	if s.Kind == Retry && s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	return s
}

// StepResult records one task's outcome within a Result.
type StepResult struct {
	Name       string        `json:"name"`
	Success    bool          `json:"success"`
	Output     any           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	RetryCount int           `json:"retry_count"`
}

// Result is what every pattern's Execute returns.
type Result struct {
	Name  string       `json:"name"`
	Steps []StepResult `json:"steps"`
	// Output is the pattern's final composed value: the last step's
	// output for Pipeline, the coordinator's merge for ForkJoin, the
	// winning decision for Consensus.
	Output any `json:"output,omitempty"`
}

// Workflow is the uniform surface every pattern constructor returns.
type Workflow interface {
	Name() string
	Execute(ctx context.Context, input any) (*Result, error)
}

// runTask executes task under strategy, retrying on Retry with a fixed
// linear backoff (BackoffMS * attempt), and returns the StepResult plus
// the task's final output for chaining into the next step.
func runTask(ctx context.Context, nt NamedTask, input any, strategy ErrorStrategy) (StepResult, any) {
	strategy = strategy.normalized()
	maxAttempts := 1
	if strategy.Kind == Retry {
		maxAttempts = strategy.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && strategy.BackoffMS > 0 {
			select {
			case <-time.After(time.Duration(strategy.BackoffMS*attempt) * time.Millisecond):
			case <-ctx.Done():
				return StepResult{Name: nt.Name, Success: false, Error: ctx.Err().Error(), RetryCount: attempt}, nil
			}
		}
		start := time.Now()
		out, err := nt.Task(ctx, input)
		dur := time.Since(start)
		if err == nil {
			return StepResult{Name: nt.Name, Success: true, Output: out, Duration: dur, RetryCount: attempt}, out
		}
		lastErr = err
		if strategy.Kind != Retry {
			return StepResult{Name: nt.Name, Success: false, Error: err.Error(), Duration: dur, RetryCount: attempt}, nil
		}
	}
	return StepResult{Name: nt.Name, Success: false, Error: lastErr.Error(), RetryCount: maxAttempts - 1}, nil
}

// ─── Pipeline ───

type pipeline struct {
	name     string
	steps    []NamedTask
	strategy ErrorStrategy
}

// Pipeline runs steps sequentially, each consuming the previous step's
// output.
func Pipeline(name string, steps []NamedTask, strategy ErrorStrategy) Workflow {
	return &pipeline{name: name, steps: steps, strategy: strategy}
}

func (p *pipeline) Name() string { return p.name }

func (p *pipeline) Execute(ctx context.Context, input any) (*Result, error) {
	result := &Result{Name: p.name, Steps: make([]StepResult, 0, len(p.steps))}
	current := input
	for _, step := range p.steps {
		sr, out := runTask(ctx, step, current, p.strategy)
		result.Steps = append(result.Steps, sr)
		if !sr.Success {
			if p.strategy.normalized().Kind == Continue {
				continue
			}
			return result, fmt.Errorf("workflow %q: step %q failed: %s", p.name, step.Name, sr.Error)
		}
		current = out
	}
	result.Output = current
	return result, nil
}

// ─── Fork-Join ───

type forkJoin struct {
	name        string
	tasks       []NamedTask
	coordinator func([]StepResult) (any, error)
	strategy    ErrorStrategy
}

// ForkJoin runs every task concurrently against the same input and
// merges their results via coordinator (identity merge into a
// name-keyed map when coordinator is nil).
func ForkJoin(name string, tasks []NamedTask, coordinator func([]StepResult) (any, error), strategy ErrorStrategy) Workflow {
	return &forkJoin{name: name, tasks: tasks, coordinator: coordinator, strategy: strategy}
}

func (f *forkJoin) Name() string { return f.name }

func (f *forkJoin) Execute(ctx context.Context, input any) (*Result, error) {
	results := make([]StepResult, len(f.tasks))
	var wg sync.WaitGroup
	for i, task := range f.tasks {
		wg.Add(1)
		go func(i int, nt NamedTask) {
			defer wg.Done()
			sr, _ := runTask(ctx, nt, input, f.strategy)
			results[i] = sr
		}(i, task)
	}
	wg.Wait()

	result := &Result{Name: f.name, Steps: results}
	for _, sr := range results {
		if !sr.Success && f.strategy.normalized().Kind == FailFast {
			return result, fmt.Errorf("workflow %q: branch %q failed: %s", f.name, sr.Name, sr.Error)
		}
	}

	merge := f.coordinator
	if merge == nil {
		merge = defaultMerge
	}
	out, err := merge(results)
	if err != nil {
		return result, fmt.Errorf("workflow %q: coordinator: %w", f.name, err)
	}
	result.Output = out
	return result, nil
}

func defaultMerge(results []StepResult) (any, error) {
	out := make(map[string]any, len(results))
	for _, sr := range results {
		out[sr.Name] = sr.Output
	}
	return out, nil
}

// ─── Consensus ───

// ConsensusOptions tunes how votes are interpreted; Threshold is the
// fraction (0,1] of evaluators that must agree on a decision for it to
// win.
type ConsensusOptions struct {
	Threshold float64
}

type consensus struct {
	name       string
	evaluators []NamedTask
	threshold  float64
	strategy   ErrorStrategy
}

// Consensus runs every evaluator concurrently, then returns the
// decision value with the highest vote share, failing if no decision
// clears threshold. Evaluator output equality is compared via
// fmt.Sprintf("%v", ...), matching how the bridge already serializes
// script-returned values for comparison elsewhere in this codebase.
func Consensus(name string, evaluators []NamedTask, threshold float64, strategy ErrorStrategy) Workflow {
	return &consensus{name: name, evaluators: evaluators, threshold: threshold, strategy: strategy}
}

func (c *consensus) Name() string { return c.name }

func (c *consensus) Execute(ctx context.Context, input any) (*Result, error) {
	fj := &forkJoin{name: c.name, tasks: c.evaluators, strategy: c.strategy}
	base, err := fj.Execute(ctx, input)
	if err != nil {
		return base, err
	}

	votes := make(map[string]int)
	values := make(map[string]any)
	total := 0
	for _, sr := range base.Steps {
		if !sr.Success {
			continue
		}
		key := fmt.Sprintf("%v", sr.Output)
		votes[key]++
		values[key] = sr.Output
		total++
	}

	var winner string
	best := -1
	for key, count := range votes {
		if count > best {
			best, winner = count, key
		}
	}
	if total == 0 || float64(best)/float64(len(c.evaluators)) < c.threshold {
		return base, fmt.Errorf("workflow %q: no decision reached consensus threshold %.2f", c.name, c.threshold)
	}
	base.Output = values[winner]
	return base, nil
}

// ─── Delegation / Collaboration / Hierarchical ───
//
// Each of these is a thin composition over the primitives above rather
// than a new execution strategy.

// Delegation runs a single delegate task, falling back to the next
// candidate in order on failure — "delegate until someone succeeds".
func Delegation(name string, candidates []NamedTask, strategy ErrorStrategy) Workflow {
	return &delegation{name: name, candidates: candidates, strategy: strategy}
}

type delegation struct {
	name       string
	candidates []NamedTask
	strategy   ErrorStrategy
}

func (d *delegation) Name() string { return d.name }

func (d *delegation) Execute(ctx context.Context, input any) (*Result, error) {
	result := &Result{Name: d.name}
	for _, candidate := range d.candidates {
		sr, out := runTask(ctx, candidate, input, d.strategy)
		result.Steps = append(result.Steps, sr)
		if sr.Success {
			result.Output = out
			return result, nil
		}
	}
	return result, fmt.Errorf("workflow %q: every delegate candidate failed", d.name)
}

// Collaboration runs every task concurrently like ForkJoin, but feeds
// each task the same shared input and merges successful outputs into
// an ordered list rather than a name-keyed map — collaborators produce
// a joint artifact, not independent named results.
func Collaboration(name string, collaborators []NamedTask, strategy ErrorStrategy) Workflow {
	return ForkJoin(name, collaborators, func(results []StepResult) (any, error) {
		out := make([]any, 0, len(results))
		for _, sr := range results {
			if sr.Success {
				out = append(out, sr.Output)
			}
		}
		return out, nil
	}, strategy)
}

// Hierarchical runs a coordinator task first; its output becomes the
// shared input to a fan-out of worker tasks, whose results the
// coordinator's own output is then merged with — a two-level
// delegate-then-fan-out shape.
func Hierarchical(name string, coordinator NamedTask, workers []NamedTask, strategy ErrorStrategy) Workflow {
	return &hierarchical{name: name, coordinator: coordinator, workers: workers, strategy: strategy}
}

type hierarchical struct {
	name        string
	coordinator NamedTask
	workers     []NamedTask
	strategy    ErrorStrategy
}

func (h *hierarchical) Name() string { return h.name }

func (h *hierarchical) Execute(ctx context.Context, input any) (*Result, error) {
	result := &Result{Name: h.name}
	coordSR, coordOut := runTask(ctx, h.coordinator, input, h.strategy)
	result.Steps = append(result.Steps, coordSR)
	if !coordSR.Success {
		return result, fmt.Errorf("workflow %q: coordinator failed: %s", h.name, coordSR.Error)
	}

	fj := &forkJoin{name: h.name + ".workers", tasks: h.workers, strategy: h.strategy}
	workerResult, err := fj.Execute(ctx, coordOut)
	result.Steps = append(result.Steps, workerResult.Steps...)
	if err != nil {
		return result, err
	}
	result.Output = map[string]any{"coordinator": coordOut, "workers": workerResult.Output}
	return result, nil
}
