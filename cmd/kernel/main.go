// Command kernel is the CLI front door: it owns argument parsing and
// process lifecycle only, and delegates every operation to the core
// packages. Lifecycle runs under into.Init; each subcommand constructs
// the component tree once and then acts.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/llmspell-go/kernel/internal/bridge"
	"github.com/llmspell-go/kernel/internal/bridge/globals"
	jslang "github.com/llmspell-go/kernel/internal/bridge/js"
	lualang "github.com/llmspell-go/kernel/internal/bridge/lua"
	"github.com/llmspell-go/kernel/internal/cluster"
	"github.com/llmspell-go/kernel/internal/config"
	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/events"
	"github.com/llmspell-go/kernel/internal/graph"
	"github.com/llmspell-go/kernel/internal/hooks"
	"github.com/llmspell-go/kernel/internal/kernel"
	"github.com/llmspell-go/kernel/internal/memory"
	"github.com/llmspell-go/kernel/internal/providers"
	"github.com/llmspell-go/kernel/internal/providers/anthropic"
	"github.com/llmspell-go/kernel/internal/providers/gemini"
	"github.com/llmspell-go/kernel/internal/providers/ollama"
	"github.com/llmspell-go/kernel/internal/providers/openai"
	"github.com/llmspell-go/kernel/internal/providers/vertex"
	"github.com/llmspell-go/kernel/internal/rag"
	"github.com/llmspell-go/kernel/internal/registry"
	"github.com/llmspell-go/kernel/internal/session"
	"github.com/llmspell-go/kernel/internal/state"
	"github.com/llmspell-go/kernel/internal/storage"
	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
	"github.com/llmspell-go/kernel/internal/storage/pgbackend"
	"github.com/llmspell-go/kernel/internal/storage/pgbackend/milvusvector"
	"github.com/llmspell-go/kernel/internal/storage/sqlitebackend"
	"github.com/llmspell-go/kernel/internal/tools"
	"github.com/llmspell-go/kernel/internal/web"
)

var (
	name    = "llmspell-kernel"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	if len(os.Args) < 2 {
		return usageError("a subcommand is required: run|exec|repl|kernel|state|template|validate|web")
	}

	sub := os.Args[1]
	args := os.Args[2:]

	// validate doesn't need the rest of the component tree; it only
	// exercises config.Load, so it's handled before components build.
	if sub == "validate" {
		return cmdValidate(ctx, args)
	}

	cfg, err := config.Load(ctx, name)
	if err != nil {
		return configError(fmt.Errorf("load config: %w", err))
	}

	comp, err := buildComponents(ctx, cfg)
	if err != nil {
		return configError(fmt.Errorf("build components: %w", err))
	}

	switch sub {
	case "run":
		return cmdRun(ctx, comp, args)
	case "exec":
		return cmdExec(ctx, comp, args)
	case "repl":
		return cmdRepl(ctx, comp, args)
	case "kernel":
		return cmdKernel(ctx, comp, args)
	case "state":
		return cmdState(ctx, comp, args)
	case "template":
		return cmdTemplate(ctx, comp, args)
	case "web":
		return cmdWeb(ctx, comp, args)
	default:
		return usageError(fmt.Sprintf("unknown subcommand %q", sub))
	}
}

// usageError/configError/runtimeError tag an error by its exit-code
// category (1 user error, 2 configuration error, 3 runtime error);
// into.Init maps any non-nil run() error to a nonzero
// process exit, so the category is carried in the message prefix rather
// than a distinct os.Exit call here — the kernel command is the one
// place in this repo allowed to fmt.Println, since it is the CLI
// collaborator's own output surface.
func usageError(msg string) error  { fmt.Fprintln(os.Stderr, "usage error:", msg); return fmt.Errorf("%s", msg) }
func configError(err error) error  { fmt.Fprintln(os.Stderr, "configuration error:", err); return err }
func runtimeError(err error) error { fmt.Fprintln(os.Stderr, "runtime error:", err); return err }

// components bundles every constructed dependency plus the bridge
// engine, so each subcommand only needs to pick a scope/session and
// hand code to the engine.
type components struct {
	cfg     *config.Config
	deps    globals.Deps
	backend storage.Backend
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	backend, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage backend %q: %w", cfg.Storage.Backend, err)
	}

	// A FlowController is only worth constructing once a rate/window is
	// configured; cfg carries no such knob yet, so the bus runs
	// unbounded (nil flow controller is events.Bus's documented
	// no-limit mode).
	bus := events.New(nil)

	reg := registry.New(bus)

	var smtp *tools.SMTPConfig
	if cfg.SMTP != nil {
		smtp = &tools.SMTPConfig{
			Host: cfg.SMTP.Host, Port: cfg.SMTP.Port,
			Username: cfg.SMTP.Username, Password: cfg.SMTP.Password,
			From: cfg.SMTP.From, TLS: cfg.SMTP.TLS, NoTLS: cfg.SMTP.NoTLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}
	}
	if err := tools.RegisterBuiltins(reg, tools.Config{SMTP: smtp}); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	chain := hooks.New()

	var encKey []byte
	if cfg.Storage.EncryptionKey != "" {
		encKey = []byte(cfg.Storage.EncryptionKey)
	}
	stateOpts := []state.Option{state.WithHooks(chain)}
	if encKey != nil {
		stateOpts = append(stateOpts, state.WithEncryptionKey(encKey))
	}
	stateMgr := state.New(backend, stateOpts...)

	g := graph.New(backend)

	// A nil pool (no providers configured) makes the bridge skip the
	// Agent/LocalLLM globals instead of injecting dead surfaces.
	var pool *providers.Pool
	var defaultProvider providers.Provider
	if len(cfg.Providers) > 0 {
		pool = providers.NewPool()
		for providerName, pc := range cfg.Providers {
			p, err := buildProvider(pc)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", providerName, err)
			}
			pool.Register(providerName, p)
			if defaultProvider == nil {
				defaultProvider = p
			}
		}
	}

	working := memory.NewWorking()
	embedSvc := memory.NewEmbeddingService(defaultProvider, 4096)
	episodic := memory.NewEpisodic(backend, embedSvc)
	memSys := memory.NewSystem(working, episodic, g)

	sessions := session.New(backend, session.WithBus(bus))

	ragPipeline := rag.New(backend, embedSvc, memSys, nil)

	return &components{
		cfg:     cfg,
		backend: backend,
		deps: globals.Deps{
			Registry: reg,
			State:    stateMgr,
			Sessions: sessions,
			Memory:   memSys,
			Pool:     pool,
			Hooks:    chain,
			Events:   bus,
			Graph:    g,
			RAG:      ragPipeline,
			Config:   cfg,
		},
	}, nil
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return memorybackend.New(), nil
	case "sqlite":
		sc := cfg.Storage.SQLite
		if sc == nil {
			sc = &config.StorageSQLite{Datasource: "file::memory:?cache=shared"}
		}
		prefix := ""
		if sc.TablePrefix != nil {
			prefix = *sc.TablePrefix
		}
		return sqlitebackend.New(ctx, sc.Datasource, prefix)
	case "postgres":
		pc := cfg.Storage.Postgres
		if pc == nil {
			return nil, fmt.Errorf("storage.postgres is required when storage.backend=postgres")
		}
		prefix := ""
		if pc.TablePrefix != nil {
			prefix = *pc.TablePrefix
		}
		var opts []pgbackend.Option
		if pc.MilvusAddr != "" {
			vs, err := milvusvector.New(ctx, pc.MilvusAddr, pc.MilvusDim)
			if err != nil {
				return nil, fmt.Errorf("milvus %s: %w", pc.MilvusAddr, err)
			}
			opts = append(opts, pgbackend.WithVectorStore(vs))
		}
		// A deployment without milvus_addr runs without vector search
		// (AsVectorCapable returns false).
		return pgbackend.New(ctx, pc.Datasource, prefix, "", opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildProvider(pc config.ProviderConfig) (providers.Provider, error) {
	switch pc.Type {
	case "anthropic":
		return anthropic.New(pc.APIKey, pc.Model, pc.BaseURL)
	case "openai":
		return openai.New(pc.APIKey, pc.Model, pc.EmbeddingModel, pc.BaseURL)
	case "ollama":
		return ollama.New(pc.Model, pc.BaseURL)
	case "gemini":
		return gemini.New(pc.APIKey, pc.Model, pc.EmbeddingModel, pc.BaseURL)
	case "vertex":
		return vertex.New(pc.Model, pc.BaseURL, pc.Proxy, pc.InsecureSkipVerify)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// newEngine resolves the canonical globals for one execution scope and
// builds a lua.Engine bound to them. The returned names are exactly
// the globals that resolved: optional ones whose prerequisites are
// absent (no provider pool, no retrieval pipeline) are skipped by
// Resolve and never injected.
func newEngine(ctx context.Context, comp *components, scope domain.Scope, sessionID string) (*lualang.Engine, []string, error) {
	reg := bridge.NewGlobalRegistry()
	globals.Register(reg, comp.deps, globals.ExecutionContext{Scope: scope, SessionID: sessionID})

	resolved, err := reg.Resolve(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve globals: %w", err)
	}
	names := make([]string, 0, len(resolved))
	for gn := range resolved {
		names = append(names, string(gn))
	}
	sort.Strings(names)

	e := lualang.New(lualang.WithTimeout(comp.cfg.Engine.ScriptTimeout))
	if err := e.Inject(ctx, resolved); err != nil {
		return nil, nil, fmt.Errorf("inject globals: %w", err)
	}
	return e, names, nil
}

// newEngineFor builds the named engine (lua primary, js placeholder)
// with globals resolved for scope/session. cleanup releases any
// engine-held state and is safe to call exactly once.
func newEngineFor(ctx context.Context, comp *components, engineName string, scope domain.Scope, sessionID string) (bridge.Engine, func(), error) {
	switch engineName {
	case "", "lua":
		e, _, err := newEngine(ctx, comp, scope, sessionID)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	case "js":
		reg := bridge.NewGlobalRegistry()
		globals.Register(reg, comp.deps, globals.ExecutionContext{Scope: scope, SessionID: sessionID})
		resolved, err := reg.Resolve(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve globals: %w", err)
		}
		e := jslang.New(jslang.WithTimeout(comp.cfg.Engine.ScriptTimeout))
		if err := e.Inject(ctx, resolved); err != nil {
			return nil, nil, fmt.Errorf("inject globals: %w", err)
		}
		return e, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("engine %q is a placeholder in this build; use lua or js", engineName)
	}
}

func cmdRun(ctx context.Context, comp *components, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	engineName := fs.String("engine", comp.cfg.Engine.Default, "script engine: lua|js|python")
	output := fs.String("output", "text", "output format: text|json|pretty")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() < 1 {
		return usageError("run requires a script path")
	}

	path := fs.Arg(0)
	code, err := os.ReadFile(path)
	if err != nil {
		return runtimeError(fmt.Errorf("read %s: %w", path, err))
	}

	e, cleanup, err := newEngineFor(ctx, comp, *engineName, domain.Global(), "")
	if err != nil {
		return runtimeError(err)
	}
	defer cleanup()
	result, err := e.Run(ctx, string(code), fs.Args())
	if err != nil {
		return runtimeError(err)
	}
	return printResult(*output, result)
}

func cmdExec(ctx context.Context, comp *components, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	engineName := fs.String("engine", comp.cfg.Engine.Default, "script engine: lua|js|python")
	output := fs.String("output", "text", "output format: text|json|pretty")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() < 1 {
		return usageError("exec requires an inline script argument")
	}
	e, cleanup, err := newEngineFor(ctx, comp, *engineName, domain.Global(), "")
	if err != nil {
		return runtimeError(err)
	}
	defer cleanup()
	result, err := e.Run(ctx, fs.Arg(0), nil)
	if err != nil {
		return runtimeError(err)
	}
	return printResult(*output, result)
}

// cmdRepl is a line-at-a-time read-eval-print loop over stdin, each
// line executed independently against a single long-lived engine (so
// globals like State persist across lines within the session), mirroring
// cmd/at/main.go's scan-a-line-then-act loop shape.
func cmdRepl(ctx context.Context, comp *components, _ []string) error {
	e, _, err := newEngine(ctx, comp, domain.SessionScope("repl"), "repl")
	if err != nil {
		return runtimeError(err)
	}
	defer e.Close()

	reader := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stdout, "> ")
	for reader.Scan() {
		line := reader.Text()
		if strings.TrimSpace(line) == "" {
			fmt.Fprint(os.Stdout, "> ")
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		result, err := e.Run(ctx, line, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		} else if result != nil {
			fmt.Fprintln(os.Stdout, result)
		}
		fmt.Fprint(os.Stdout, "> ")
	}
	return nil
}

func cmdKernel(ctx context.Context, comp *components, args []string) error {
	if len(args) < 1 {
		return usageError("kernel requires a subcommand: start|stop|status")
	}
	switch args[0] {
	case "start":
		return kernelStart(ctx, comp, args[1:])
	case "stop", "status":
		// stop/status operate on a remote kernel process by connection
		// file; not wired in this build.
		return usageError(fmt.Sprintf("kernel %s is not implemented by this build; use the connection file under ~/.llmspell/kernels directly", args[0]))
	default:
		return usageError(fmt.Sprintf("unknown kernel subcommand %q", args[0]))
	}
}

func kernelStart(ctx context.Context, comp *components, args []string) error {
	fs := flag.NewFlagSet("kernel start", flag.ContinueOnError)
	ip := fs.String("ip", comp.cfg.Kernel.IP, "bind address")
	basePort := fs.Int("port", comp.cfg.Kernel.BasePort, "base port (5 consecutive ports are bound)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	e, registeredGlobals, err := newEngine(ctx, comp, domain.Global(), "")
	if err != nil {
		return runtimeError(err)
	}
	defer e.Close()

	k, err := kernel.New(e, kernel.Options{
		IP:                *ip,
		BasePort:          *basePort,
		ConnectionDir:     comp.cfg.Kernel.ConnectionDir,
		MaxClients:        comp.cfg.Kernel.MaxClients,
		StateBackend:      comp.cfg.Storage.Backend,
		RegisteredGlobals: registeredGlobals,
	})
	if err != nil {
		return runtimeError(fmt.Errorf("construct kernel: %w", err))
	}

	slog.Info("starting kernel", "ip", *ip, "base_port", *basePort, "id", k.ID())

	cl, err := cluster.New(comp.cfg.Kernel.Alan)
	if err != nil {
		return runtimeError(fmt.Errorf("construct cluster: %w", err))
	}
	if cl != nil {
		go func() {
			if err := cl.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("cluster: stopped", "error", err)
			}
		}()
		defer cl.Stop() //nolint:errcheck
	}

	if comp.cfg.Kernel.Daemon {
		scripts := make([]kernel.ScheduledScript, 0, len(comp.cfg.Kernel.ScheduledScripts))
		for _, s := range comp.cfg.Kernel.ScheduledScripts {
			scripts = append(scripts, kernel.ScheduledScript{Name: s.Name, Spec: s.Spec, Code: s.Code, Args: s.Args})
		}
		if len(scripts) == 0 {
			slog.Warn("daemon mode enabled but kernel.scheduled_scripts is empty; no scripts will run")
		}
		daemon := kernel.NewDaemon(scripts, scheduledRunFunc(comp), cl)
		if err := daemon.Start(ctx); err != nil {
			return runtimeError(fmt.Errorf("start daemon: %w", err))
		}
		defer daemon.Stop()
	}

	if err := k.Serve(ctx); err != nil {
		return runtimeError(fmt.Errorf("serve: %w", err))
	}
	return nil
}

// scheduledRunFunc builds a daemon RunFunc: each firing gets its own
// session scope and a freshly-injected engine.
func scheduledRunFunc(comp *components) kernel.RunFunc {
	return func(ctx context.Context, s kernel.ScheduledScript) error {
		sessionID := fmt.Sprintf("daemon-%s-%d", s.Name, time.Now().UnixNano())
		e, _, err := newEngine(ctx, comp, domain.SessionScope(sessionID), sessionID)
		if err != nil {
			return fmt.Errorf("build engine for scheduled script %s: %w", s.Name, err)
		}
		defer e.Close()
		args := make([]string, 0, len(s.Args))
		for k, v := range s.Args {
			args = append(args, fmt.Sprintf("%s=%s", k, v))
		}
		_, err = e.Run(ctx, s.Code, args)
		return err
	}
}

func cmdState(ctx context.Context, comp *components, args []string) error {
	if len(args) < 1 {
		return usageError("state requires a subcommand: show|clear|export|import")
	}
	scope := domain.Global()
	switch args[0] {
	case "show":
		keys, err := comp.deps.State.List(ctx, scope, "")
		if err != nil {
			return runtimeError(err)
		}
		for _, k := range keys {
			fmt.Fprintln(os.Stdout, k)
		}
		return nil
	case "clear":
		if err := comp.deps.State.ClearScope(ctx, scope); err != nil {
			return runtimeError(err)
		}
		return nil
	case "export":
		values, err := comp.deps.State.ExportAll(ctx, scope)
		if err != nil {
			return runtimeError(err)
		}
		encoded := make(map[string]string, len(values))
		for k, v := range values {
			encoded[k] = string(v)
		}
		return json.NewEncoder(os.Stdout).Encode(encoded)
	case "import":
		var encoded map[string]string
		if err := json.NewDecoder(os.Stdin).Decode(&encoded); err != nil {
			return usageError(fmt.Sprintf("decode state import payload: %v", err))
		}
		values := make(map[string][]byte, len(encoded))
		for k, v := range encoded {
			values[k] = []byte(v)
		}
		if err := comp.deps.State.ImportAll(ctx, scope, values); err != nil {
			return runtimeError(err)
		}
		return nil
	default:
		return usageError(fmt.Sprintf("unknown state subcommand %q", args[0]))
	}
}

func cmdTemplate(_ context.Context, comp *components, args []string) error {
	if len(args) < 1 {
		return usageError("template requires a subcommand: list|info|exec|schema")
	}
	switch args[0] {
	case "list":
		for _, spec := range comp.deps.Registry.ListWorkflows() {
			fmt.Fprintln(os.Stdout, spec.Name)
		}
		return nil
	default:
		return usageError(fmt.Sprintf("template %s is not implemented by this build", args[0]))
	}
}

// cmdWeb stands up (or signals) the HTTP front-end gateway;
// start/stop/status coordinate through its pidfile.
func cmdWeb(ctx context.Context, comp *components, args []string) error {
	if len(args) < 1 {
		return usageError("web requires a subcommand: start|stop|status")
	}
	pidFile := comp.cfg.Web.PIDFile

	switch args[0] {
	case "start":
		if err := writePIDFile(pidFile); err != nil {
			return runtimeError(err)
		}
		defer os.Remove(pidFile)

		execFn := func(ctx context.Context, engineName, code string, scriptArgs []string) (any, error) {
			sessionID := fmt.Sprintf("web-%d", time.Now().UnixNano())
			e, cleanup, err := newEngineFor(ctx, comp, engineName, domain.SessionScope(sessionID), sessionID)
			if err != nil {
				return nil, err
			}
			defer cleanup()
			return e.Run(ctx, code, scriptArgs)
		}

		srv, err := web.New(comp.cfg.Web, execFn, web.NewTokenStore(comp.deps.State), comp.deps.Pool)
		if err != nil {
			return runtimeError(fmt.Errorf("construct web gateway: %w", err))
		}
		slog.Info("starting web gateway", "host", comp.cfg.Web.Host, "port", comp.cfg.Web.Port)
		if err := srv.Start(ctx); err != nil {
			return runtimeError(fmt.Errorf("serve web gateway: %w", err))
		}
		return nil
	case "stop":
		pid, err := readPIDFile(pidFile)
		if err != nil {
			return runtimeError(err)
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return runtimeError(fmt.Errorf("signal pid %d: %w", pid, err))
		}
		fmt.Fprintf(os.Stdout, "sent SIGTERM to web gateway (pid %d)\n", pid)
		return nil
	case "status":
		pid, err := readPIDFile(pidFile)
		if err != nil {
			fmt.Fprintln(os.Stdout, "web gateway: not running")
			return nil
		}
		if err := syscall.Kill(pid, 0); err != nil {
			fmt.Fprintf(os.Stdout, "web gateway: stale pidfile (pid %d gone)\n", pid)
			return nil
		}
		fmt.Fprintf(os.Stdout, "web gateway: running (pid %d)\n", pid)
		return nil
	default:
		return usageError(fmt.Sprintf("unknown web subcommand %q", args[0]))
	}
}

func writePIDFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("pidfile %s already exists (is the gateway running?): %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	return pid, nil
}

func cmdValidate(ctx context.Context, args []string) error {
	path := name
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return configError(err)
	}
	fmt.Fprintf(os.Stdout, "configuration valid: storage=%s engine=%s kernel=%s:%d\n",
		cfg.Storage.Backend, cfg.Engine.Default, cfg.Kernel.IP, cfg.Kernel.BasePort)
	return nil
}

func printResult(format string, result any) error {
	switch format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(result)
	case "pretty":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Fprintln(os.Stdout, result)
		return nil
	}
}
