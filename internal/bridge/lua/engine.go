package lua

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/llmspell-go/kernel/internal/bridge"
	"github.com/llmspell-go/kernel/internal/kernel"
)

// Engine is the primary (Lua) script-engine adapter. It
// satisfies both bridge.Engine (Inject/Run, the engine-agnostic
// surface other bridge consumers program against) and kernel.Engine
// (Execute/CheckInterrupt, the narrower surface the kernel's execution
// dispatch needs), so the same value can be registered with a
// bridge.GlobalRegistry and handed straight to kernel.New.
type Engine struct {
	timeout time.Duration

	mu          sync.Mutex // serializes every entry into the LState (forward calls and script-registered callbacks alike)
	ls          *lua.LState // persists across Execute calls so a session's Lua variables survive between execute_requests
	globals     map[bridge.GlobalName]any
	interrupted func() bool
	debug       *Debugger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithTimeout bounds every Run/Execute call; zero disables the bound.
// The bound covers the whole script, so a hung provider call inside a
// bound method can never deadlock the engine.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithInterrupt wires the kernel's cooperative interrupt flag; it is
// polled on a short ticker for the duration of one script run and
// cancels that run's context when set. gopher-lua has no native
// bytecode-level preemption hook, so the ticker plus L.SetContext is
// the safe point this engine offers.
func WithInterrupt(check func() bool) Option { return func(e *Engine) { e.interrupted = check } }

// WithDebugger installs an optional debug adapter (fast-path
// MightBreakAt backed).
func WithDebugger(d *Debugger) Option { return func(e *Engine) { e.debug = d } }

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "lua" }

// Close releases the engine's persistent Lua state. After Close, the
// next Execute call builds a fresh one (same behavior as a brand new
// Engine); callers that want a clean script-variable slate between
// sessions should construct a new Engine instead of calling Close mid
// use.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ls != nil {
		e.ls.Close()
		e.ls = nil
	}
}

// Inject stores the resolved global map. The engine keeps one LState
// across Run/Execute calls, and each call builds the Lua tables for
// these globals into it afresh rather than reusing tables from an
// earlier call; the cost stays sub-millisecond because no I/O happens
// here, only reflection over already-constructed Go values.
func (e *Engine) Inject(ctx context.Context, globals map[bridge.GlobalName]any) error {
	e.globals = globals
	return nil
}

// CheckInterrupt satisfies kernel.Engine; it simply forwards to the
// wired check, defaulting to "never interrupted" when none was
// configured (e.g. in standalone bridge.Engine use outside a kernel).
func (e *Engine) CheckInterrupt() bool {
	if e.interrupted == nil {
		return false
	}
	return e.interrupted()
}

// Run satisfies bridge.Engine: execute code against the already-
// injected globals with positional scriptArgs, following the "0" ->
// script path, "1".."N" -> args convention.
func (e *Engine) Run(ctx context.Context, code string, scriptArgs []string) (any, error) {
	args := make(map[string]string, len(scriptArgs))
	for i, a := range scriptArgs {
		args[strconv.Itoa(i)] = a
	}
	return e.Execute(ctx, code, args, nil)
}

// Execute satisfies kernel.Engine: run code to completion, streaming
// stdout/stderr through io (nil is accepted for tests and standalone
// use; output is simply discarded).
func (e *Engine) Execute(ctx context.Context, code string, args map[string]string, io *kernel.IOContext) (result any, err error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if e.interrupted != nil {
		var pollCancel context.CancelFunc
		runCtx, pollCancel = context.WithCancel(runCtx)
		defer pollCancel()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(2 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if e.interrupted() {
						pollCancel()
						return
					}
				}
			}
		}()
	}

	// The LState persists across calls (claimed and configured under
	// mu) so that plain Lua variables a script sets in one
	// execute_request are still visible to the next one in the same
	// session; only the setup below — which never calls back into Lua —
	// runs under the lock. The bound-method/callback entry points
	// (bindMethod, bindCallback) keep their own per-call lock around
	// mu, which is what actually serializes concurrent entry into L
	// once PCall begins.
	e.mu.Lock()
	if e.ls == nil {
		e.ls = lua.NewState(lua.Options{SkipOpenLibs: false})
	}
	L := e.ls
	L.SetContext(runCtx)

	execCtx := func() context.Context { return runCtx }

	argsTable := L.NewTable()
	for k, v := range args {
		argsTable.RawSetString(k, lua.LString(v))
	}
	L.SetGlobal("ARGS", argsTable)

	for name, value := range e.globals {
		L.SetGlobal(string(name), bindTable(L, &e.mu, execCtx, value))
	}

	if io != nil {
		L.SetGlobal("print", L.NewFunction(printFunc(runCtx, io)))
	}

	if e.debug != nil {
		e.debug.install(L)
		defer e.debug.uninstall(L)
	}
	e.mu.Unlock()

	fn, err := L.LoadString(code)
	if err != nil {
		return nil, &ScriptError{Language: "lua", Err: err}
	}
	L.Push(fn)

	if err := L.PCall(0, 1, nil); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("lua: script timed out after %s: %w", e.timeout, context.DeadlineExceeded)
		}
		if runCtx.Err() == context.Canceled && e.interrupted != nil && e.interrupted() {
			return nil, fmt.Errorf("lua: script interrupted: %w", context.Canceled)
		}
		return nil, &ScriptError{Language: "lua", Err: err, Line: extractLine(err)}
	}

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		return nil, nil
	}
	return luaToGoGeneric(ret), nil
}

// printFunc builds the global print() override that routes script
// output to the kernel's IOPub stdout stream instead of the process's
// real stdout.
func printFunc(ctx context.Context, io *kernel.IOContext) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		_, _ = io.Stdout(ctx).Write([]byte(strings.Join(parts, "\t") + "\n"))
		return 0
	}
}

// ScriptError wraps an error raised by a user script with its
// language, line, and source snippet.
type ScriptError struct {
	Language string
	Line     int
	Source   string
	Err      error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Language, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Language, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// extractLine parses gopher-lua's "<string>:LINE: message" error
// prefix, falling back to 0 when the error didn't come from the VM in
// that shape (e.g. a host-side RaiseError from a bound method).
func extractLine(err error) int {
	msg := err.Error()
	idx := strings.Index(msg, ":")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+1:]
	idx2 := strings.Index(rest, ":")
	if idx2 < 0 {
		return 0
	}
	n, convErr := strconv.Atoi(rest[:idx2])
	if convErr != nil {
		return 0
	}
	return n
}
