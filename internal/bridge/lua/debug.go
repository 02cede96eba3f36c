package lua

import (
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Debugger is the optional debug adapter: a fast path (MightBreakAt)
// backed by a sorted breakpoint set decides,
// on every line, whether the slow path (entering the script runtime to
// evaluate a conditional breakpoint and snapshot locals) is worth
// paying for. It multiplexes onto gopher-lua's native line hook, the
// closest thing this runtime has to the language-agnostic
// line/function-enter/function-exit/exception hook spec describes.
type Debugger struct {
	mu          sync.RWMutex
	breakpoints map[int]*breakpoint
	sorted      []int

	// OnBreak is invoked on the script's own goroutine when a line with
	// a satisfied breakpoint executes; it receives the snapshot of
	// local variables available at that point. Pausing/resuming across
	// the sync/async boundary is the caller's responsibility (a
	// bounded-time channel wait).
	OnBreak func(line int, locals map[string]any)
}

type breakpoint struct {
	line      int
	condition func(locals map[string]any) bool
}

func NewDebugger() *Debugger {
	return &Debugger{breakpoints: make(map[int]*breakpoint)}
}

// SetBreakpoint installs an unconditional (condition == nil) or
// conditional breakpoint at line.
func (d *Debugger) SetBreakpoint(line int, condition func(locals map[string]any) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.breakpoints[line]; !exists {
		d.sorted = append(d.sorted, line)
		sort.Ints(d.sorted)
	}
	d.breakpoints[line] = &breakpoint{line: line, condition: condition}
}

func (d *Debugger) ClearBreakpoint(line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, line)
	for i, l := range d.sorted {
		if l == line {
			d.sorted = append(d.sorted[:i], d.sorted[i+1:]...)
			break
		}
	}
}

// MightBreakAt is the fast path: a binary search over the sorted
// breakpoint set, no VM interaction at all. Only when it returns true
// does the caller pay for the slow path (evaluating the condition and
// extracting locals).
func (d *Debugger) MightBreakAt(line int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := sort.SearchInts(d.sorted, line)
	return i < len(d.sorted) && d.sorted[i] == line
}

func (d *Debugger) install(L *lua.LState) {
	L.SetHook(func(ls *lua.LState, ar *lua.Debug) {
		line := ar.CurrentLine
		if !d.MightBreakAt(line) {
			return
		}
		d.mu.RLock()
		bp := d.breakpoints[line]
		d.mu.RUnlock()
		if bp == nil {
			return
		}
		locals := localsAt(ls, ar)
		if bp.condition != nil && !bp.condition(locals) {
			return
		}
		if d.OnBreak != nil {
			d.OnBreak(line, locals)
		}
	}, lua.MaskLine, 0)
}

func (d *Debugger) uninstall(L *lua.LState) {
	L.SetHook(nil, 0, 0)
}

// localsAt extracts the local variables visible at the current frame,
// best-effort: gopher-lua's GetLocal needs an index and returns "" once
// the frame has no more locals, so this walks until it hits that.
func localsAt(L *lua.LState, ar *lua.Debug) map[string]any {
	locals := make(map[string]any)
	for i := 1; ; i++ {
		name, value := L.GetLocal(ar, i)
		if name == "" {
			break
		}
		locals[name] = luaToGoGeneric(value)
	}
	return locals
}
