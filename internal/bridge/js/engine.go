// Package js is the kernel's placeholder JavaScript engine, backed by
// goja. It satisfies the same bridge.Engine / kernel.Engine pair as the
// primary Lua engine so cmd/kernel can select it with --engine js, but
// carries none of the Lua engine's debugger or persistent-state
// machinery: each Run builds a fresh VM. Python remains unimplemented.
package js

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/llmspell-go/kernel/internal/bridge"
	"github.com/llmspell-go/kernel/internal/kernel"
)

// Engine executes JavaScript via goja. Globals are injected with
// goja's own Go-value reflection (an exported Go method becomes a
// callable JS method); the uncap field-name mapper keeps the script
// surface lowercase (State.get, Agent.complete) so scripts port
// between the Lua and JS engines without renaming calls.
type Engine struct {
	timeout time.Duration

	mu          sync.Mutex
	globals     map[bridge.GlobalName]any
	interrupted func() bool
}

type Option func(*Engine)

// WithTimeout bounds every Run/Execute call; zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithInterrupt wires the kernel's cooperative interrupt flag. Unlike
// gopher-lua, goja has a native preemption point (vm.Interrupt), so the
// watcher fires it directly instead of relying on a context poll inside
// the VM.
func WithInterrupt(check func() bool) Option { return func(e *Engine) { e.interrupted = check } }

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "js" }

func (e *Engine) Inject(ctx context.Context, globals map[bridge.GlobalName]any) error {
	e.mu.Lock()
	e.globals = globals
	e.mu.Unlock()
	return nil
}

func (e *Engine) CheckInterrupt() bool {
	if e.interrupted == nil {
		return false
	}
	return e.interrupted()
}

func (e *Engine) Run(ctx context.Context, code string, scriptArgs []string) (any, error) {
	args := make(map[string]string, len(scriptArgs))
	for i, a := range scriptArgs {
		args[strconv.Itoa(i)] = a
	}
	return e.Execute(ctx, code, args, nil)
}

// Execute satisfies kernel.Engine. The script's final expression value
// is exported as the result; print() routes through io to IOPub.
func (e *Engine) Execute(ctx context.Context, code string, args map[string]string, io *kernel.IOContext) (any, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if err := registerHelpers(vm); err != nil {
		return nil, fmt.Errorf("js: register helpers: %w", err)
	}

	e.mu.Lock()
	globals := e.globals
	e.mu.Unlock()
	for name, value := range globals {
		if err := vm.Set(string(name), value); err != nil {
			return nil, fmt.Errorf("js: inject global %s: %w", name, err)
		}
	}

	argsObj := make(map[string]string, len(args))
	for k, v := range args {
		argsObj[k] = v
	}
	if err := vm.Set("ARGS", argsObj); err != nil {
		return nil, fmt.Errorf("js: inject ARGS: %w", err)
	}

	if io != nil {
		if err := vm.Set("print", printFunc(runCtx, io)); err != nil {
			return nil, fmt.Errorf("js: install print: %w", err)
		}
	}

	// goja's Interrupt is its real preemption point: the watcher fires
	// it when the context expires or the kernel's interrupt flag flips,
	// and RunString returns an *InterruptedError from inside any loop.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-runCtx.Done():
				vm.Interrupt(runCtx.Err())
				return
			case <-ticker.C:
				if e.interrupted != nil && e.interrupted() {
					vm.Interrupt(context.Canceled)
					return
				}
			}
		}
	}()

	val, err := vm.RunString(code)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("js: script timed out after %s: %w", e.timeout, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("js: script interrupted: %w", context.Canceled)
		}
		return nil, &ScriptError{Language: "js", Err: err, Line: exceptionLine(err)}
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// printFunc mirrors the Lua engine's print override: arguments joined
// with tabs, one trailing newline, routed to the IOPub stdout stream.
func printFunc(ctx context.Context, io *kernel.IOContext) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		_, _ = io.Stdout(ctx).Write([]byte(strings.Join(parts, "\t") + "\n"))
		return goja.Undefined()
	}
}

// registerHelpers installs the shared utility set (toString,
// jsonParse, btoa, atob, JSON_stringify) on the VM.
func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("toString", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			return vm.ToValue(string(v))
		case string:
			return vm.ToValue(v)
		default:
			return vm.ToValue(fmt.Sprintf("%v", v))
		}
	}); err != nil {
		return err
	}

	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		var raw []byte
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			panic(vm.NewTypeError("jsonParse: expected string or bytes"))
		}
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			panic(vm.NewTypeError("jsonParse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		var raw []byte
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			panic(vm.NewTypeError("btoa: expected string or bytes"))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(raw))
	}); err != nil {
		return err
	}

	if err := vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue([]byte{})
		}
		decoded, err := base64.StdEncoding.DecodeString(call.Arguments[0].String())
		if err != nil {
			panic(vm.NewTypeError("atob: " + err.Error()))
		}
		return vm.ToValue(decoded)
	}); err != nil {
		return err
	}

	return vm.Set("JSON_stringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	})
}

// ScriptError mirrors the Lua engine's wrapper: language, line and
// source for the Script error kind.
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

// exceptionLine digs the line number out of a goja exception's
// "name: message at <eval>:LINE:COL" rendering.
func exceptionLine(err error) int {
	msg := err.Error()
	idx := strings.LastIndex(msg, "<eval>:")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("<eval>:"):]
	end := strings.IndexAny(rest, ":( \n")
	if end < 0 {
		end = len(rest)
	}
	n, convErr := strconv.Atoi(rest[:end])
	if convErr != nil {
		return 0
	}
	return n
}
