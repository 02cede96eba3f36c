package events

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strconv"
	"sync"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/storage"
)

// ErrRateLimited is returned by Publish when the bus's FlowController
// has no tokens left. ErrSubscriberFull is returned when an
// ErrorPolicy subscriber's channel is full.
var (
	ErrRateLimited    = errors.New("events: publish rate limited")
	ErrSubscriberFull = errors.New("events: subscriber channel full")
)

// Language tags which script runtime an event originated from (or
// should be converted for), so a subscriber can convert the payload to
// its language-native format.
type Language string

const (
	LangNative Language = "native"
	LangLua    Language = "lua"
	LangJS     Language = "js"
	LangPython Language = "python"
)

// OverflowPolicy governs what happens when a subscriber's channel is
// full.
type OverflowPolicy string

const (
	DropOldest  OverflowPolicy = "drop_oldest"
	DropNewest  OverflowPolicy = "drop_newest"
	Backpressure OverflowPolicy = "backpressure"
	ErrorPolicy OverflowPolicy = "error"
)

// Event is one published message on the bus.
type Event struct {
	Name      string
	Payload   any
	Language  Language
	Timestamp time.Time
}

// Subscription is a live glob-matched listener.
type Subscription struct {
	ID      string
	Pattern string
	ch      chan Event
	policy  OverflowPolicy
	bus     *Bus
}

// Chan returns the channel events are delivered on.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe removes this subscription from the bus.
func (s *Subscription) Unsubscribe() { s.bus.unsubscribe(s.ID) }

// FlowController rate-limits publishers: a Bucket refills at Rate events
// per Window and rejects publishes beyond Burst when empty.
type FlowController struct {
	mu     sync.Mutex
	tokens float64
	rate   float64 // tokens per second
	burst  float64
	last   time.Time
}

// NewFlowController builds a controller allowing `burst` events
// immediately and `rate` events per `window` thereafter (e.g. rate=100,
// window="1s").
func NewFlowController(rate int, window string, burst int) (*FlowController, error) {
	d, err := str2duration.ParseDuration(window)
	if err != nil {
		return nil, err
	}
	perSecond := float64(rate) / d.Seconds()
	return &FlowController{tokens: float64(burst), rate: perSecond, burst: float64(burst), last: time.Now()}, nil
}

// Allow reports whether a publish may proceed now, consuming a token if
// so.
func (f *FlowController) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(f.last).Seconds()
	f.last = now
	f.tokens += elapsed * f.rate
	if f.tokens > f.burst {
		f.tokens = f.burst
	}
	if f.tokens < 1 {
		return false
	}
	f.tokens--
	return true
}

// Bus is the async, pattern-matched publish/subscribe event backbone.
// Subscriptions are glob-matched (path.Match) against dotted event
// names, e.g. "agent.*.completed" matches "agent.research.completed".
type Bus struct {
	mu                sync.RWMutex
	subs              map[string]*Subscription
	nextID            int
	flow              *FlowController
	persist           storage.Backend // optional: mirrors events to a replay log
	persistScopeKeyer func(Event) (string, string)
}

// New builds an empty Bus. flow may be nil to disable rate limiting.
func New(flow *FlowController) *Bus {
	return &Bus{subs: make(map[string]*Subscription), flow: flow}
}

// WithPersistence mirrors every published event to backend under a
// scope/key the caller derives via keyer, enabling replay.
func (b *Bus) WithPersistence(backend storage.Backend, keyer func(Event) (string, string)) *Bus {
	b.persist = backend
	b.persistScopeKeyer = keyer
	return b
}

// Subscribe registers pattern against future Publish calls. bufSize
// sizes the delivery channel; policy governs behavior when that buffer
// is full.
func (b *Bus) Subscribe(pattern string, bufSize int, policy OverflowPolicy) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		ID: strconv.Itoa(b.nextID), Pattern: pattern,
		ch: make(chan Event, bufSize), policy: policy, bus: b,
	}
	b.subs[sub.ID] = sub
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every matching subscription per its overflow
// policy. Returns ErrSubscriberFull if any Error-policy subscriber's
// channel was full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b.flow != nil && !b.flow.Allow() {
		return ErrRateLimited
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	matches := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if ok, _ := path.Match(sub.Pattern, ev.Name); ok {
			matches = append(matches, sub)
		}
	}
	b.mu.RUnlock()

	var firstErr error
	for _, sub := range matches {
		if err := deliver(sub, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if b.persist != nil && b.persistScopeKeyer != nil {
		b.mirror(ctx, ev)
	}

	return firstErr
}

func deliver(sub *Subscription, ev Event) error {
	switch sub.policy {
	case Backpressure:
		select {
		case sub.ch <- ev:
		case <-time.After(50 * time.Millisecond):
			// brief backpressure window elapsed; fall back to dropping
			// oldest so a single slow subscriber can't stall publish
			// forever.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	case DropOldest:
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	case DropNewest:
		select {
		case sub.ch <- ev:
		default:
		}
	case ErrorPolicy:
		select {
		case sub.ch <- ev:
		default:
			return ErrSubscriberFull
		}
	default:
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

// mirror persists ev to the replay log under the scope/key the caller's
// keyer derives from it. Failures are swallowed: persistence is a
// best-effort side channel, never a reason to fail delivery.
func (b *Bus) mirror(ctx context.Context, ev Event) {
	scopeName, key := b.persistScopeKeyer(ev)
	encoded, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = b.persist.Set(ctx, domain.CustomScope(scopeName), key, encoded)
}
