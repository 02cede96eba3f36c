package globals

import (
	"context"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/events"
	"github.com/llmspell-go/kernel/internal/hooks"
)

// EventGlobal exposes the asynchronous pub/sub bus.
type EventGlobal struct {
	bus *events.Bus
}

func (g *EventGlobal) Publish(ctx context.Context, name string, payload any) error {
	if g.bus == nil {
		return errNotConfigured("Event")
	}
	return g.bus.Publish(ctx, events.Event{Name: name, Payload: payload, Language: events.LangLua})
}

func (g *EventGlobal) Subscribe(pattern string, bufSize int) (*events.Subscription, error) {
	if g.bus == nil {
		return nil, errNotConfigured("Event")
	}
	return g.bus.Subscribe(pattern, bufSize, events.DropOldest), nil
}

// HookGlobal exposes the synchronous, priority-ordered hook chain.
// Registrations go straight onto the shared chain; the scope field is
// not attached to them.
type HookGlobal struct {
	chain *hooks.Chain
	scope domain.Scope
}

func (g *HookGlobal) Register(point string, name string, priority int, fn hooks.Fn) {
	g.chain.Register(domain.HookPoint(point), name, priority, fn)
}

func (g *HookGlobal) Unregister(point, name string) {
	g.chain.Unregister(domain.HookPoint(point), name)
}
