package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/llmspell-go/kernel/internal/config"
	"github.com/llmspell-go/kernel/internal/state"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

func newTestServer(t *testing.T, cfg config.Web, exec ExecFunc) (*Server, *TokenStore) {
	t.Helper()
	tokens := NewTokenStore(state.New(memorybackend.New()))
	srv, err := New(cfg, exec, tokens, nil)
	if err != nil {
		t.Fatalf("web.New: %v", err)
	}
	return srv, tokens
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(state.New(memorybackend.New()))
	ctx := context.Background()

	full, info, err := store.Create(ctx, "ci", []string{"lua"}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(full, "lsk_") {
		t.Fatalf("token prefix: got %q", full)
	}
	if info.Allowed("js") {
		t.Fatal("token restricted to lua should not allow js")
	}
	if !info.Allowed("lua") {
		t.Fatal("token should allow lua")
	}

	token, err := store.Authenticate(ctx, full)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token.Name != "ci" {
		t.Fatalf("name: got %q", token.Name)
	}

	if _, err := store.Authenticate(ctx, "lsk_bogus"); err == nil {
		t.Fatal("bogus token should not authenticate")
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v (%d entries)", err, len(list))
	}

	found, err := store.Delete(ctx, info.ID)
	if err != nil || !found {
		t.Fatalf("Delete: %v found=%v", err, found)
	}
	if _, err := store.Authenticate(ctx, full); err == nil {
		t.Fatal("deleted token should not authenticate")
	}
}

func TestTokenExpiry(t *testing.T) {
	store := NewTokenStore(state.New(memorybackend.New()))
	full, _, err := store.Create(context.Background(), "short", nil, time.Nanosecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := store.Authenticate(context.Background(), full); err == nil {
		t.Fatal("expired token should not authenticate")
	}
}

func TestExecuteAPIRunsScript(t *testing.T) {
	srv, _ := newTestServer(t, config.Web{}, func(_ context.Context, engine, code string, _ []string) (any, error) {
		if engine != "lua" {
			t.Fatalf("engine default: got %q", engine)
		}
		return code + "-ran", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{"code":"return 1"}`))
	rec := httptest.NewRecorder()
	srv.authed(srv.ExecuteAPI)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "return 1-ran") {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestExecuteAPIRequiresAuthWhenConfigured(t *testing.T) {
	srv, tokens := newTestServer(t, config.Web{AdminToken: "admin-secret"}, func(context.Context, string, string, []string) (any, error) {
		return "ok", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{"code":"x"}`))
	rec := httptest.NewRecorder()
	srv.authed(srv.ExecuteAPI)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{"code":"x"}`))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	srv.authed(srv.ExecuteAPI)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin token: got %d body %s", rec.Code, rec.Body.String())
	}

	full, _, err := tokens.Create(context.Background(), "js-only", []string{"js"}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(`{"code":"x","engine":"lua"}`))
	req.Header.Set("Authorization", "Bearer "+full)
	rec = httptest.NewRecorder()
	srv.authed(srv.ExecuteAPI)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("engine-restricted token: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminEndpointsRejectWithoutAdminToken(t *testing.T) {
	srv, _ := newTestServer(t, config.Web{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/api-tokens", nil)
	rec := httptest.NewRecorder()
	srv.admin(srv.ListTokensAPI)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d", rec.Code)
	}
}
