package globals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// UtilsGlobal is the canonical Utils global: small stateless helpers a
// script would otherwise have no standard-library equivalent for (Lua
// has no JSON, no UUID/ULID generator, no sleep builtin), grounded on
// the same primitives every Go-side store already uses for ids
// (`github.com/oklog/ulid/v2`) and hashing (stdlib `crypto/sha256`, used
// by the content-addressed artifact store).
type UtilsGlobal struct{}

func (UtilsGlobal) NewID() string { return ulid.Make().String() }

func (UtilsGlobal) SHA256(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (UtilsGlobal) JSONEncode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (UtilsGlobal) JSONDecode(data string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Sleep blocks for ms milliseconds or until ctx is cancelled,
// whichever comes first, so a script sleep can never outlive an
// interrupt or timeout.
func (UtilsGlobal) Sleep(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
