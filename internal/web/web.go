// Package web is the optional HTTP front-end: it wraps an execute
// function and the shared component handles in an ada server with the
// standard middleware stack. The kernel's own five-channel protocol
// remains the primary surface; this gateway exists for browser/REST
// clients.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/llmspell-go/kernel/internal/config"
	"github.com/llmspell-go/kernel/internal/providers"
)

// ExecFunc runs one script on the named engine and returns its final
// value. The gateway never touches an engine directly; cmd/kernel
// supplies this closure over its own engine construction.
type ExecFunc func(ctx context.Context, engine, code string, args []string) (any, error)

type Server struct {
	config config.Web
	server *ada.Server

	exec   ExecFunc
	tokens *TokenStore
	pool   *providers.Pool
}

// New assembles the gateway. tokens and pool may be nil: without
// tokens the token endpoints answer 503, and without pool the info
// endpoint omits the provider list.
func New(cfg config.Web, exec ExecFunc, tokens *TokenStore, pool *providers.Pool) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config: cfg,
		server: mux,
		exec:   exec,
		tokens: tokens,
		pool:   pool,
	}

	baseGroup := mux.Group(cfg.BasePath)
	baseGroup.GET("/healthz", s.HealthAPI)

	apiGroup := baseGroup.Group("/api")
	apiGroup.GET("/v1/info", s.InfoAPI)
	apiGroup.POST("/v1/execute", s.authed(s.ExecuteAPI))
	apiGroup.GET("/v1/api-tokens", s.admin(s.ListTokensAPI))
	apiGroup.POST("/v1/api-tokens", s.admin(s.CreateTokenAPI))
	apiGroup.DELETE("/v1/api-tokens/*", s.admin(s.DeleteTokenAPI))

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// ─── Handlers ───

func (s *Server) HealthAPI(w http.ResponseWriter, _ *http.Request) {
	httpResponseJSON(w, map[string]string{"status": "ok", "service": config.Service}, http.StatusOK)
}

func (s *Server) InfoAPI(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service":   config.Service,
		"base_path": s.config.BasePath,
	}
	if s.pool != nil {
		caps := s.pool.List()
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, c.Name)
		}
		info["providers"] = names
	}
	httpResponseJSON(w, info, http.StatusOK)
}

type executeRequest struct {
	Engine string   `json:"engine"`
	Code   string   `json:"code"`
	Args   []string `json:"args"`
}

type executeResponse struct {
	Result     any    `json:"result"`
	DurationMS int64  `json:"duration_ms"`
	Engine     string `json:"engine"`
}

func (s *Server) ExecuteAPI(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		httpResponse(w, "execution not configured", http.StatusServiceUnavailable)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		httpResponse(w, "code is required", http.StatusBadRequest)
		return
	}
	if req.Engine == "" {
		req.Engine = "lua"
	}

	if token, ok := tokenFromContext(r.Context()); ok && !token.Allowed(req.Engine) {
		httpResponse(w, "token does not permit engine "+req.Engine, http.StatusForbidden)
		return
	}

	start := time.Now()
	result, err := s.exec(r.Context(), req.Engine, req.Code, req.Args)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	httpResponseJSON(w, executeResponse{
		Result:     result,
		DurationMS: time.Since(start).Milliseconds(),
		Engine:     req.Engine,
	}, http.StatusOK)
}

type createTokenRequest struct {
	Name           string   `json:"name"`
	AllowedEngines []string `json:"allowed_engines,omitempty"` // nil = all
	ExpiresIn      *int     `json:"expires_in,omitempty"`      // seconds from now, nil = no expiry
}

type createTokenResponse struct {
	Token string   `json:"token"` // full token, shown only once
	Info  APIToken `json:"info"`
}

func (s *Server) ListTokensAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		httpResponse(w, "token store not configured", http.StatusServiceUnavailable)
		return
	}
	tokens, err := s.tokens.List(r.Context())
	if err != nil {
		httpResponse(w, "failed to list tokens: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if tokens == nil {
		tokens = []APIToken{}
	}
	httpResponseJSON(w, map[string]any{"tokens": tokens}, http.StatusOK)
}

func (s *Server) CreateTokenAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		httpResponse(w, "token store not configured", http.StatusServiceUnavailable)
		return
	}
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var expiresIn time.Duration
	if req.ExpiresIn != nil {
		expiresIn = time.Duration(*req.ExpiresIn) * time.Second
	}
	full, info, err := s.tokens.Create(r.Context(), req.Name, req.AllowedEngines, expiresIn)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	httpResponseJSON(w, createTokenResponse{Token: full, Info: info}, http.StatusCreated)
}

func (s *Server) DeleteTokenAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		httpResponse(w, "token store not configured", http.StatusServiceUnavailable)
		return
	}
	id := pathTail(r.URL.Path)
	if id == "" || id == "api-tokens" {
		httpResponse(w, "token id is required", http.StatusBadRequest)
		return
	}
	found, err := s.tokens.Delete(r.Context(), id)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		httpResponse(w, "token not found", http.StatusNotFound)
		return
	}
	httpResponse(w, "deleted", http.StatusOK)
}

// pathTail returns the last path segment.
func pathTail(p string) string {
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// ─── Auth ───

type tokenCtxKey struct{}

func tokenFromContext(ctx context.Context) (*APIToken, bool) {
	t, ok := ctx.Value(tokenCtxKey{}).(*APIToken)
	return t, ok
}

// authed guards execution. The admin token always passes; otherwise
// the bearer must resolve in the token store. With neither an admin
// token nor a token store configured the gateway is open (local
// development mode).
func (s *Server) authed(next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" && s.tokens == nil {
			next(w, r)
			return
		}

		bearer := bearerToken(r)
		if bearer == "" {
			httpResponse(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if s.config.AdminToken != "" && bearer == s.config.AdminToken {
			next(w, r)
			return
		}
		if s.tokens != nil {
			token, err := s.tokens.Authenticate(r.Context(), bearer)
			if err == nil {
				next(w, r.WithContext(context.WithValue(r.Context(), tokenCtxKey{}, token)))
				return
			}
		}
		httpResponse(w, "unauthorized", http.StatusUnauthorized)
	}
}

// admin protects token management. Without a configured admin token
// all admin requests are rejected.
func (s *Server) admin(next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" {
			httpResponse(w, "admin token not configured", http.StatusForbidden)
			return
		}
		if bearerToken(r) != s.config.AdminToken {
			httpResponse(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return ""
	}
	return token
}

// ─── Responses ───

type responseMessage struct {
	Message string `json:"message"`
}

func httpResponse(w http.ResponseWriter, msg string, code int) {
	v, _ := json.Marshal(responseMessage{Message: msg})
	httpResponseJSONByte(w, v, code)
}

func httpResponseJSON(w http.ResponseWriter, msg any, code int) {
	v, _ := json.Marshal(msg)
	httpResponseJSONByte(w, v, code)
}

func httpResponseJSONByte(w http.ResponseWriter, msg []byte, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(msg)
}
