package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/state"
)

// APIToken is a bearer token for the gateway, stored hashed. Only the
// prefix survives for display; the full token is shown exactly once at
// creation.
type APIToken struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	TokenPrefix    string                 `json:"token_prefix"`
	AllowedEngines types.Slice[string]    `json:"allowed_engines"` // nil = all engines allowed
	ExpiresAt      types.Null[types.Time] `json:"expires_at"`      // zero value = no expiry
	CreatedAt      types.Time             `json:"created_at"`
	LastUsedAt     types.Null[types.Time] `json:"last_used_at"`
}

// Allowed reports whether the token may execute on the named engine.
func (t APIToken) Allowed(engine string) bool {
	if len(t.AllowedEngines) == 0 {
		return true
	}
	for _, e := range t.AllowedEngines {
		if e == engine {
			return true
		}
	}
	return false
}

// Expired reports whether the token's expiry has passed.
func (t APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Valid && now.After(t.ExpiresAt.V.Time)
}

// TokenStore persists API tokens through the state manager under the
// web custom scope, keyed by token hash so authentication is a single
// keyed read. Records are written with the Sensitive class.
type TokenStore struct {
	state *state.Manager
}

func NewTokenStore(m *state.Manager) *TokenStore {
	return &TokenStore{state: m}
}

var webScope = domain.CustomScope("web")

const tokenKeyPrefix = "api-token:"

// Create mints a token ("lsk_" + 64 hex chars), stores its record under
// the sha256 hash, and returns the full token the one time it exists in
// the clear.
func (s *TokenStore) Create(ctx context.Context, name string, allowedEngines []string, expiresIn time.Duration) (string, APIToken, error) {
	if name == "" {
		return "", APIToken{}, fmt.Errorf("web: token name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", APIToken{}, fmt.Errorf("web: generate token: %w", err)
	}
	full := "lsk_" + hex.EncodeToString(raw)
	hash := hashToken(full)

	token := APIToken{
		ID:             ulid.Make().String(),
		Name:           name,
		TokenPrefix:    full[:8] + "…",
		AllowedEngines: types.Slice[string](allowedEngines),
		CreatedAt:      types.NewTime(time.Now().UTC()),
	}
	if expiresIn > 0 {
		token.ExpiresAt = types.NewTimeNull(time.Now().UTC().Add(expiresIn))
	}

	if err := s.put(ctx, hash, token); err != nil {
		return "", APIToken{}, err
	}
	return full, token, nil
}

// Authenticate resolves a bearer token to its record, rejecting
// unknown and expired tokens, and refreshes last_used_at.
func (s *TokenStore) Authenticate(ctx context.Context, bearer string) (*APIToken, error) {
	hash := hashToken(bearer)
	entry, err := s.state.Get(ctx, webScope, tokenKeyPrefix+hash)
	if err != nil {
		return nil, fmt.Errorf("web: unknown token")
	}
	var token APIToken
	if err := json.Unmarshal(entry.Value, &token); err != nil {
		return nil, fmt.Errorf("web: decode token record: %w", err)
	}
	if token.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("web: token expired")
	}

	token.LastUsedAt = types.NewNull(types.NewTime(time.Now().UTC()))
	_ = s.put(ctx, hash, token)

	return &token, nil
}

// List returns every stored token record, full tokens never included.
func (s *TokenStore) List(ctx context.Context) ([]APIToken, error) {
	keys, err := s.state.List(ctx, webScope, tokenKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]APIToken, 0, len(keys))
	for _, key := range keys {
		entry, err := s.state.Get(ctx, webScope, key)
		if err != nil {
			continue
		}
		var token APIToken
		if err := json.Unmarshal(entry.Value, &token); err != nil {
			continue
		}
		out = append(out, token)
	}
	return out, nil
}

// Delete removes the token with the given id, reporting whether one
// was found.
func (s *TokenStore) Delete(ctx context.Context, id string) (bool, error) {
	keys, err := s.state.List(ctx, webScope, tokenKeyPrefix)
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		entry, err := s.state.Get(ctx, webScope, key)
		if err != nil {
			continue
		}
		var token APIToken
		if err := json.Unmarshal(entry.Value, &token); err != nil {
			continue
		}
		if token.ID == id {
			return true, s.state.Delete(ctx, webScope, key)
		}
	}
	return false, nil
}

func (s *TokenStore) put(ctx context.Context, hash string, token APIToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("web: encode token record: %w", err)
	}
	return s.state.SetWithClass(ctx, webScope, tokenKeyPrefix+hash, raw, domain.StateSensitive)
}

func hashToken(full string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(full)))
	return hex.EncodeToString(sum[:])
}
