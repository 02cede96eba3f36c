package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
)

type fakeEngine struct {
	name   string
	result any
	err    error
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Execute(ctx context.Context, code string, args map[string]string, io *IOContext) (any, error) {
	return f.result, f.err
}

func (f *fakeEngine) CheckInterrupt() bool { return false }

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	k, err := New(&fakeEngine{name: "lua", result: "42"}, Options{
		IP: "127.0.0.1", BasePort: 19555, ConnectionDir: dir, StateBackend: "memory",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func TestWriteConnectionFileExclusive(t *testing.T) {
	k := newTestKernel(t)
	ports := map[domain.Channel]int{
		domain.ChannelShell: 1, domain.ChannelIOPub: 2, domain.ChannelStdin: 3,
		domain.ChannelControl: 4, domain.ChannelHeartbeat: 5,
	}
	if err := k.WriteConnectionFile(ports); err != nil {
		t.Fatalf("WriteConnectionFile: %v", err)
	}
	if err := k.WriteConnectionFile(ports); err == nil {
		t.Fatal("expected second write to the same id to fail (O_EXCL)")
	}

	path := filepath.Join(k.opts.ConnectionDir, k.id+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("connection file missing: %v", err)
	}

	k.RemoveConnectionFile()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("connection file should be removed")
	}
}

func TestKernelInfoReplyCarriesSessionMetadata(t *testing.T) {
	k := newTestKernel(t)
	reply := k.KernelInfoReply()
	meta, ok := reply["llmspell_session_metadata"].(SessionMetadata)
	if !ok {
		t.Fatalf("llmspell_session_metadata missing or wrong type: %#v", reply["llmspell_session_metadata"])
	}
	if meta.KernelID != k.id {
		t.Fatalf("kernel id mismatch: got %q want %q", meta.KernelID, k.id)
	}
	if meta.SessionMapper != SessionMapper {
		t.Fatalf("session mapper: got %q want %q", meta.SessionMapper, SessionMapper)
	}
}

func TestInterruptResetsOnNextExecution(t *testing.T) {
	k := newTestKernel(t)
	k.Interrupt()
	if !k.CheckInterrupt() {
		t.Fatal("expected interrupt flag set")
	}
	if _, err := k.ExecuteRequest(context.Background(), "return 1", nil, nil); err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if k.CheckInterrupt() {
		t.Fatal("interrupt flag should reset at start of next execution")
	}
}

func TestExecutionCountIncrements(t *testing.T) {
	k := newTestKernel(t)
	first, err := k.ExecuteRequest(context.Background(), "1", nil, nil)
	if err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	second, err := k.ExecuteRequest(context.Background(), "2", nil, nil)
	if err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if first["execution_count"].(int64) >= second["execution_count"].(int64) {
		t.Fatalf("execution_count did not increment: %v then %v", first["execution_count"], second["execution_count"])
	}
}

func TestExecuteRequestErrorStatus(t *testing.T) {
	dir := t.TempDir()
	k, err := New(&fakeEngine{name: "lua", err: context.DeadlineExceeded}, Options{
		IP: "127.0.0.1", BasePort: 19556, ConnectionDir: dir,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reply, execErr := k.ExecuteRequest(context.Background(), "bad", nil, nil)
	if execErr == nil {
		t.Fatal("expected error")
	}
	if reply["status"] != "error" {
		t.Fatalf("status: got %v want error", reply["status"])
	}
}
