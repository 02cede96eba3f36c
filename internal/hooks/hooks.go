// Package hooks implements the synchronous half of the hook/event bus:
// priority-ordered interceptors registered per lifecycle point, fired
// in order, aggregated by domain.AggregateHookResults (Cancel-wins,
// last-Modified-wins, else-Continue). Built on a sync.RWMutex-guarded
// map holding a priority-sorted slice of entries per HookPoint.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/llmspell-go/kernel/internal/domain"
)

// Fn is a single hook callback. Returning an error short-circuits the
// chain as a Cancel with the error's message.
type Fn func(ctx context.Context, hctx domain.HookContext) (domain.HookResult, error)

type entry struct {
	name     string
	priority int
	fn       Fn
}

// Chain is a registry of hooks keyed by lifecycle point. One Chain is
// shared by the state manager, the bridge, and every other consumer,
// so a hook registered once fires everywhere.
type Chain struct {
	mu    sync.RWMutex
	hooks map[domain.HookPoint][]entry
}

// New returns an empty Chain.
func New() *Chain {
	return &Chain{hooks: make(map[domain.HookPoint][]entry)}
}

// Register adds fn to point's chain. Lower priority numbers run first.
func (c *Chain) Register(point domain.HookPoint, name string, priority int, fn Fn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[point] = append(c.hooks[point], entry{name: name, priority: priority, fn: fn})
	sort.SliceStable(c.hooks[point], func(i, j int) bool {
		return c.hooks[point][i].priority < c.hooks[point][j].priority
	})
}

// Unregister removes every hook registered under name at point.
func (c *Chain) Unregister(point domain.HookPoint, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.hooks[point][:0]
	for _, e := range c.hooks[point] {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	c.hooks[point] = kept
}

// HasHooks reports whether any hook is registered for point, letting
// callers skip chain overhead entirely when none are.
func (c *Chain) HasHooks(point domain.HookPoint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hooks[point]) > 0
}

// Fire runs every hook registered at point in priority order and
// aggregates the results. A hook returning an error is treated as a
// Cancel carrying the error's message and stops the remaining chain
// from running (an erroring hook should not also mask a later hook's
// intent).
func (c *Chain) Fire(ctx context.Context, point domain.HookPoint, hctx domain.HookContext) (domain.HookResult, error) {
	c.mu.RLock()
	entries := make([]entry, len(c.hooks[point]))
	copy(entries, c.hooks[point])
	c.mu.RUnlock()

	if len(entries) == 0 {
		return domain.Continue(), nil
	}

	results := make([]domain.HookResult, 0, len(entries))
	for _, e := range entries {
		res, err := e.fn(ctx, hctx)
		if err != nil {
			return domain.Cancel(err.Error()), nil
		}
		results = append(results, res)
		if res.Kind == domain.HookCancel {
			break
		}
	}
	return domain.AggregateHookResults(results), nil
}
