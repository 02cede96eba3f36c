package lua

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/kernel"
	"github.com/llmspell-go/kernel/internal/protocol"
)

// Script args arrive as the positional ARGS table.
func TestScriptArgsInjection(t *testing.T) {
	e := New()
	result, err := e.Run(context.Background(), `return ARGS["1"] .. " " .. ARGS["2"]`, []string{"script.lua", "hello", "world"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "hello world" {
		t.Fatalf("got %v want %q", result, "hello world")
	}
}

// A kernel session issues many execute_requests against one Engine;
// plain Lua variables set in one must survive into the next.
func TestVariablesPersistAcrossExecuteCalls(t *testing.T) {
	e := New()
	if _, err := e.Run(context.Background(), `counter = 1`, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := e.Run(context.Background(), `counter = counter + 1; return counter`, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result != float64(2) {
		t.Fatalf("got %v, want 2 (counter should have persisted from the prior call)", result)
	}
}

func TestCloseResetsEngineState(t *testing.T) {
	e := New()
	if _, err := e.Run(context.Background(), `counter = 1`, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e.Close()
	result, err := e.Run(context.Background(), `if counter == nil then return "reset" else return "stale" end`, nil)
	if err != nil {
		t.Fatalf("Run after Close: %v", err)
	}
	if result != "reset" {
		t.Fatalf("got %v, want \"reset\" after Close", result)
	}
}

func TestReturnValuePassthrough(t *testing.T) {
	e := New()
	result, err := e.Run(context.Background(), `return 1 + 2`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != float64(3) {
		t.Fatalf("got %v (%T) want 3", result, result)
	}
}

func TestScriptErrorCarriesLine(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), "local x = 1\nerror(\"boom\")", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var scriptErr *ScriptError
	if se, ok := err.(*ScriptError); ok {
		scriptErr = se
	}
	if scriptErr == nil {
		t.Fatalf("expected *ScriptError, got %T: %v", err, err)
	}
	if scriptErr.Language != "lua" {
		t.Fatalf("language: got %q", scriptErr.Language)
	}
	if scriptErr.Line != 2 {
		t.Fatalf("line: got %d want 2", scriptErr.Line)
	}
}

// An interrupt must stop a long-running script within a bounded window.
func TestInterruptStopsLoop(t *testing.T) {
	var interrupted atomic.Bool
	e := New(WithInterrupt(interrupted.Load))

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), `while true do end`, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	interrupted.Store(true)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an interruption error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("script did not stop within a bounded window after interrupt")
	}
}

func TestTimeoutBoundsExecution(t *testing.T) {
	e := New(WithTimeout(30 * time.Millisecond))
	_, err := e.Run(context.Background(), `while true do end`, nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

// print() output is captured on IOPub ahead of the result.
func TestPrintRoutesToIOPub(t *testing.T) {
	clientConn, kernelConn := net.Pipe()
	defer clientConn.Close()
	defer kernelConn.Close()

	k, err := kernel.New(New(), kernel.Options{IP: "127.0.0.1", ConnectionDir: t.TempDir()})
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	sub := protocol.NewConn(protocol.NewTCPTransport(kernelConn), k.SigningKey(), domain.ChannelIOPub)
	k.SubscribeIOPub(sub)

	clientSub := protocol.NewConn(protocol.NewTCPTransport(clientConn), k.SigningKey(), domain.ChannelIOPub)

	parent := domain.ProtocolMessage{MsgID: "req-1", MsgType: domain.MsgRequest, Channel: domain.ChannelShell}
	io := kernel.NewIOContext(k, parent)

	e := New()
	recv := make(chan domain.ProtocolMessage, 4)
	go func() {
		for i := 0; i < 2; i++ {
			msg, err := clientSub.Recv(context.Background())
			if err != nil {
				return
			}
			recv <- msg
		}
	}()

	_, err = e.Execute(context.Background(), `print("Hello from Lua"); print("This is line 2"); return "ok"`, nil, io)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	first := <-recv
	second := <-recv
	if first.Content["text"] != "Hello from Lua\n" {
		t.Fatalf("first stream message: got %v", first.Content)
	}
	if second.Content["text"] != "This is line 2\n" {
		t.Fatalf("second stream message: got %v", second.Content)
	}
}
