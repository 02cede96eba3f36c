package state

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/llmspell-go/kernel/internal/crypto"
	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/storage"
)

// ErrCyclicValue is returned when a value passed to Set contains a
// circular reference; the backend must never see cycles.
var ErrCyclicValue = fmt.Errorf("state: value contains a circular reference")

// ErrValidationCancelled wraps a hook's Cancel reason on the write path.
type ErrValidationCancelled struct{ Reason string }

func (e *ErrValidationCancelled) Error() string {
	return fmt.Sprintf("state: write rejected by hook: %s", e.Reason)
}

// Validator runs synchronously on the hook-gated write path, after the
// BeforeStateWrite chain and before encryption/persistence.
type Validator func(ctx context.Context, scope domain.Scope, key string, value []byte) error

// AsyncProcessor drains "after"-style hooks off the write/read path.
// Manager enqueues onto it rather than blocking the caller.
type AsyncProcessor interface {
	Enqueue(fn func(context.Context)) bool
}

// Manager is the shared, process-singleton handle every consumer
// (kernel and script bridge alike) uses for scoped state; sharing one
// instance avoids file-lock conflicts on embedded backends.
type Manager struct {
	backend    storage.Backend
	hooks      *hooks.Chain
	async      AsyncProcessor
	validators []Validator
	encKey     []byte // nil disables encryption of Sensitive entries

	mu        sync.RWMutex
	snapshots []Snapshot
	retention RetentionPolicy
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithHooks(c *hooks.Chain) Option { return func(m *Manager) { m.hooks = c } }
func WithAsyncProcessor(p AsyncProcessor) Option {
	return func(m *Manager) { m.async = p }
}
func WithValidator(v Validator) Option {
	return func(m *Manager) { m.validators = append(m.validators, v) }
}
func WithEncryptionKey(key []byte) Option { return func(m *Manager) { m.encKey = key } }
func WithRetentionPolicy(p RetentionPolicy) Option {
	return func(m *Manager) { m.retention = p }
}

// New builds a Manager bound to backend. The backend is selected at
// configuration time by a factory upstream (cmd/kernel), never chosen
// per-call, so every caller sharing this Manager shares one backend
// connection.
func New(backend storage.Backend, opts ...Option) *Manager {
	m := &Manager{backend: backend, hooks: hooks.New(), retention: CompositePolicy{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// entryEnvelope is the JSON wire shape persisted for every key: the
// domain.StateEntry plus the raw value, so class and timestamps survive
// a read without a second lookup.
type entryEnvelope struct {
	Value     json.RawMessage   `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Class     domain.StateClass `json:"class"`
	Encrypted bool              `json:"encrypted,omitempty"`
}

// Get fetches and decodes the entry at (scope, key). Fires an optional
// BeforeStateRead hook (usually unregistered) then enqueues
// AfterStateRead asynchronously.
func (m *Manager) Get(ctx context.Context, scope domain.Scope, key string) (*domain.StateEntry, error) {
	if m.hooks.HasHooks(domain.HookBeforeStateRead) {
		if _, err := m.hooks.Fire(ctx, domain.HookBeforeStateRead, domain.HookContext{
			Point: domain.HookBeforeStateRead, Timestamp: time.Now().UTC(),
			Metadata: map[string]any{"scope": scope.String(), "key": key},
		}); err != nil {
			return nil, err
		}
	}

	raw, err := m.backend.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}

	var env entryEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("state: decode entry %s%s: %w", scope.Prefix(), key, err)
	}

	value := []byte(env.Value)
	if env.Encrypted {
		plain, err := m.decryptValue(value)
		if err != nil {
			return nil, fmt.Errorf("state: decrypt %s%s: %w", scope.Prefix(), key, err)
		}
		value = plain
	}

	entry := &domain.StateEntry{
		Value: value, CreatedAt: env.CreatedAt, UpdatedAt: env.UpdatedAt,
		Metadata: env.Metadata, Class: env.Class,
	}

	m.enqueueAsync(func(actx context.Context) {
		_, _ = m.hooks.Fire(actx, domain.HookAfterStateRead, domain.HookContext{
			Point: domain.HookAfterStateRead, Timestamp: time.Now().UTC(),
			Metadata: map[string]any{"scope": scope.String(), "key": key},
		})
	})

	return entry, nil
}

// Set writes value at (scope, key) using class inference from the key's
// prefix table (explicit class callers use SetWithClass).
func (m *Manager) Set(ctx context.Context, scope domain.Scope, key string, value []byte) error {
	return m.SetWithClass(ctx, scope, key, value, domain.ClassForKey(key))
}

// SetWithHooks is an explicit alias for Set: every non-Trusted write
// already runs the hook chain. It exists for callers that want to be
// unambiguous at the call site.
func (m *Manager) SetWithHooks(ctx context.Context, scope domain.Scope, key string, value []byte) error {
	return m.Set(ctx, scope, key, value)
}

// SetWithClass is the class-aware write path:
//  1. classify (caller supplies class here, bypassing inference)
//  2. Trusted -> fast path, straight to the backend
//  3. otherwise -> BeforeStateWrite chain, validators, encrypt if
//     Sensitive, write, enqueue AfterStateWrite asynchronously.
func (m *Manager) SetWithClass(ctx context.Context, scope domain.Scope, key string, value []byte, class domain.StateClass) error {
	now := time.Now().UTC()
	createdAt := now
	if existing, err := m.backend.Get(ctx, scope, key); err == nil {
		var prior entryEnvelope
		if json.Unmarshal(existing, &prior) == nil && !prior.CreatedAt.IsZero() {
			createdAt = prior.CreatedAt
		}
	}

	if class == domain.StateTrusted {
		// Fast path: bypass validation/audit hooks entirely, matching
		// the <5% overhead floor vs a raw backend write.
		return m.writeEnvelope(ctx, scope, key, value, class, createdAt, now, false)
	}

	hctx := domain.HookContext{
		Point: domain.HookBeforeStateWrite, Timestamp: now,
		Metadata: map[string]any{"scope": scope.String(), "key": key, "class": string(class)},
		Value:    value,
	}
	result, err := m.hooks.Fire(ctx, domain.HookBeforeStateWrite, hctx)
	if err != nil {
		return err
	}
	if result.Kind == domain.HookCancel {
		return &ErrValidationCancelled{Reason: result.Reason}
	}
	if result.Kind == domain.HookModified {
		if modified, ok := result.Value.([]byte); ok {
			value = modified
		}
	}

	for _, v := range m.validators {
		if err := v(ctx, scope, key, value); err != nil {
			return &ErrValidationCancelled{Reason: err.Error()}
		}
	}

	encrypted := class == domain.StateSensitive && m.encKey != nil
	if err := m.writeEnvelope(ctx, scope, key, value, class, createdAt, now, encrypted); err != nil {
		return err
	}

	m.enqueueAsync(func(actx context.Context) {
		_, _ = m.hooks.Fire(actx, domain.HookAfterStateWrite, domain.HookContext{
			Point: domain.HookAfterStateWrite, Timestamp: time.Now().UTC(),
			Metadata: map[string]any{"scope": scope.String(), "key": key},
		})
	})

	return nil
}

func (m *Manager) writeEnvelope(ctx context.Context, scope domain.Scope, key string, value []byte, class domain.StateClass, createdAt, updatedAt time.Time, encrypt bool) error {
	stored := value
	if encrypt {
		enc, err := m.encryptValue(value)
		if err != nil {
			return fmt.Errorf("state: encrypt %s%s: %w", scope.Prefix(), key, err)
		}
		stored = enc
	}

	env := entryEnvelope{
		Value: json.RawMessage(stored), CreatedAt: createdAt, UpdatedAt: updatedAt,
		Class: class, Encrypted: encrypt,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("state: encode entry: %w", err)
	}
	return m.backend.Set(ctx, scope, key, raw)
}

// encryptValue seals a Sensitive entry's raw value and wraps the
// sealed "enc:..." bytes as a JSON string so the envelope's Value
// field stays valid JSON.
func (m *Manager) encryptValue(value []byte) ([]byte, error) {
	sealed, err := crypto.SealValue(value, m.encKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(sealed))
}

func (m *Manager) decryptValue(stored []byte) ([]byte, error) {
	var sealed string
	if err := json.Unmarshal(stored, &sealed); err != nil {
		return nil, err
	}
	return crypto.OpenValue([]byte(sealed), m.encKey)
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, scope domain.Scope, key string) error {
	return m.backend.Delete(ctx, scope, key)
}

// ClearScope destroys every entry under scope.
func (m *Manager) ClearScope(ctx context.Context, scope domain.Scope) error {
	return m.backend.Clear(ctx, scope)
}

// List returns every key under scope matching prefix.
func (m *Manager) List(ctx context.Context, scope domain.Scope, prefix string) ([]string, error) {
	return m.backend.ListKeys(ctx, scope, prefix)
}

// ExportAll dumps every key/value pair in scope to a plain map, decoding
// (and decrypting) each entry's envelope.
func (m *Manager) ExportAll(ctx context.Context, scope domain.Scope) (map[string][]byte, error) {
	keys, err := m.backend.ListKeys(ctx, scope, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		entry, err := m.Get(ctx, scope, k)
		if err != nil {
			return nil, fmt.Errorf("state: export %s: %w", k, err)
		}
		out[k] = entry.Value
	}
	return out, nil
}

// ImportAll writes every key/value pair into scope, inferring class per
// key from the usual prefix table.
func (m *Manager) ImportAll(ctx context.Context, scope domain.Scope, values map[string][]byte) error {
	for k, v := range values {
		if err := m.Set(ctx, scope, k, v); err != nil {
			return fmt.Errorf("state: import %s: %w", k, err)
		}
	}
	return nil
}

func (m *Manager) enqueueAsync(fn func(context.Context)) {
	if m.async != nil && m.async.Enqueue(fn) {
		return
	}
	// No async processor configured (e.g. benchmark manager): run
	// inline rather than silently dropping the after-hook.
	fn(context.Background())
}

// SetValue marshals a native Go value (typically a map[string]any built
// by the script bridge from a Lua/JS table) to JSON and writes it,
// rejecting circular structures before encoding/json would otherwise
// recurse on them forever — JSON text itself cannot encode a cycle, so
// detection must happen on the pre-marshal Go value.
func (m *Manager) SetValue(ctx context.Context, scope domain.Scope, key string, value any) error {
	if err := detectCycle(value); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode value: %w", err)
	}
	return m.Set(ctx, scope, key, encoded)
}

// detectCycle walks a native Go value (maps/slices/interfaces) looking
// for a structural cycle, since encoding/json has no cycle detection of
// its own and will recurse forever over one built by a script.
func detectCycle(value any) error {
	seen := map[uintptr]bool{}
	return walkCycle(reflect.ValueOf(value), seen, 0)
}

const maxCycleDepth = 10_000

func walkCycle(v reflect.Value, seen map[uintptr]bool, depth int) error {
	if depth > maxCycleDepth {
		return ErrCyclicValue
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkCycle(v.Elem(), seen, depth+1)
	case reflect.Map:
		ptr := v.Pointer()
		if seen[ptr] {
			return ErrCyclicValue
		}
		seen[ptr] = true
		iter := v.MapRange()
		for iter.Next() {
			if err := walkCycle(iter.Value(), seen, depth+1); err != nil {
				return err
			}
		}
		delete(seen, ptr)
	case reflect.Slice:
		ptr := v.Pointer()
		if seen[ptr] {
			return ErrCyclicValue
		}
		seen[ptr] = true
		for i := 0; i < v.Len(); i++ {
			if err := walkCycle(v.Index(i), seen, depth+1); err != nil {
				return err
			}
		}
		delete(seen, ptr)
	}
	return nil
}

// NewBenchmark constructs a Manager with no hooks, no async processor,
// and no encryption, for the Trusted fast-path overhead benchmark:
// writes never touch anything but the backend.
func NewBenchmark(backend storage.Backend) *Manager {
	return &Manager{backend: backend, hooks: hooks.New(), retention: CompositePolicy{}}
}
