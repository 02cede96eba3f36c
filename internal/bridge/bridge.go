// Package bridge implements the script engine bridge. A
// GlobalRegistry resolves the canonical global set (Agent, Tool,
// Workflow, State, Session, Memory, Context, RAG, LocalLLM, Hook,
// Event, Config, Logger, Utils, Template, Artifact) in dependency
// order and hands each engine implementation (bridge/lua primary,
// bridge/js placeholder) a ready-to-inject map.
//
// The registry is a process-wide named-factory map, resolved into the
// kernel's full global surface each time an engine is constructed.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnavailable is returned by a Factory whose backing component is
// not wired for this kernel instance (e.g. LocalLLM without a provider
// pool). Resolve skips an optional global that reports it and fails
// startup when a required one does.
var ErrUnavailable = errors.New("bridge: global unavailable")

// GlobalName enumerates the canonical globals a script engine must be
// able to see.
type GlobalName string

const (
	GlobalAgent    GlobalName = "Agent"
	GlobalTool     GlobalName = "Tool"
	GlobalWorkflow GlobalName = "Workflow"
	GlobalState    GlobalName = "State"
	GlobalSession  GlobalName = "Session"
	GlobalMemory   GlobalName = "Memory"
	GlobalContext  GlobalName = "Context"
	GlobalRAG      GlobalName = "RAG"
	GlobalLocalLLM GlobalName = "LocalLLM"
	GlobalHook     GlobalName = "Hook"
	GlobalEvent    GlobalName = "Event"
	GlobalConfig   GlobalName = "Config"
	GlobalLogger   GlobalName = "Logger"
	GlobalUtils    GlobalName = "Utils"
	GlobalTemplate GlobalName = "Template"
	GlobalArtifact GlobalName = "Artifact"
)

// Factory builds the Go-side value for one global, given every
// already-resolved global it depends on.
type Factory func(ctx context.Context, resolved map[GlobalName]any) (any, error)

// globalSpec pairs a Factory with its declared dependencies and
// whether the kernel can start without it.
type globalSpec struct {
	name      GlobalName
	dependsOn []GlobalName
	required  bool
	build     Factory
}

// GlobalRegistry performs topological dependency injection over the
// canonical global set: each global is built at most once, in an order
// that satisfies every declared dependency, targeting sub-5ms total
// resolution (no I/O happens during Factory calls beyond binding
// already-constructed Go objects; provider calls and similar happen
// lazily when the script actually invokes a method).
type GlobalRegistry struct {
	specs map[GlobalName]globalSpec
}

func NewGlobalRegistry() *GlobalRegistry {
	return &GlobalRegistry{specs: make(map[GlobalName]globalSpec)}
}

// Register adds or replaces the factory for a required global: Resolve
// fails if it cannot be built.
func (r *GlobalRegistry) Register(name GlobalName, dependsOn []GlobalName, build Factory) {
	r.specs[name] = globalSpec{name: name, dependsOn: dependsOn, required: true, build: build}
}

// RegisterOptional adds or replaces the factory for an optional global:
// when its factory reports ErrUnavailable, or one of its dependencies
// was itself skipped, Resolve leaves it out cleanly instead of failing.
func (r *GlobalRegistry) RegisterOptional(name GlobalName, dependsOn []GlobalName, build Factory) {
	r.specs[name] = globalSpec{name: name, dependsOn: dependsOn, required: false, build: build}
}

// Resolve builds every registered global in dependency order and
// returns the map ready for injection into an engine. Optional globals
// whose prerequisites are absent are skipped and simply missing from
// the result; a required global that cannot be built is an error.
func (r *GlobalRegistry) Resolve(ctx context.Context) (map[GlobalName]any, error) {
	resolved := make(map[GlobalName]any, len(r.specs))
	visiting := make(map[GlobalName]bool)
	visited := make(map[GlobalName]bool)
	skipped := make(map[GlobalName]bool)

	names := make([]GlobalName, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] }) // deterministic iteration order

	var visit func(name GlobalName) error
	visit = func(name GlobalName) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("bridge: cyclic global dependency at %s", name)
		}
		// An unregistered name can only be reached as a dependency; the
		// depending global's requiredness decides whether that is fatal.
		spec, ok := r.specs[name]
		if !ok {
			skipped[name] = true
			visited[name] = true
			return nil
		}
		visiting[name] = true
		for _, dep := range spec.dependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false

		for _, dep := range spec.dependsOn {
			if skipped[dep] {
				if spec.required {
					return fmt.Errorf("bridge: required global %s depends on unavailable %s", name, dep)
				}
				skipped[name] = true
				visited[name] = true
				return nil
			}
		}

		value, err := spec.build(ctx, resolved)
		if errors.Is(err, ErrUnavailable) {
			if spec.required {
				return fmt.Errorf("bridge: required global %s: %w", name, err)
			}
			skipped[name] = true
			visited[name] = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("bridge: build global %s: %w", name, err)
		}
		resolved[name] = value
		visited[name] = true
		return nil
	}

	start := time.Now()
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	_ = start // resolution latency is the caller's concern to log/assert in tests, not enforced here

	return resolved, nil
}

// Engine is the per-language runtime a script executes against. Each
// implementation (bridge/lua.Engine, bridge/js.Engine) injects a resolved global
// map using its own marshaling conventions and owns its own
// sync<->async await helper for tool/agent calls.
type Engine interface {
	Name() string
	Inject(ctx context.Context, globals map[GlobalName]any) error
	Run(ctx context.Context, code string, scriptArgs []string) (result any, err error)
}
