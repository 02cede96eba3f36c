// Package kernel implements the five-channel kernel loop. It binds
// shell, iopub, stdin, control, and heartbeat channels, writes a
// connection file to a well-known directory, and dispatches
// execute_request to the script bridge's engine, routing
// stdout/stderr/results back out over IOPub.
//
// Process lifecycle (signal handling, graceful shutdown) runs under
// into.Init; daemon mode runs scheduled scripts on a hardloop cron
// behind an optional cluster leader lock.
package kernel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/protocol"
)

const ProtocolVersion = "5.3"
const Implementation = "llmspell"
const SessionMapper = "llmspell-sessions"

// Engine is the minimal surface the script bridge exposes to the
// kernel: run one script to completion, streaming stdout/stderr through
// io and honoring ctx cancellation plus the kernel's interrupt flag.
type Engine interface {
	Name() string
	Execute(ctx context.Context, code string, args map[string]string, io *IOContext) (result any, err error)
	CheckInterrupt() bool // polled by the engine at safe points; true means raise
}

// ConnectionInfo is the JSON document written to the connection file.
type ConnectionInfo struct {
	KernelID        string `json:"kernel_id"`
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	Key             string `json:"key"`
	SignatureScheme string `json:"signature_scheme"`
}

// SessionMetadata is the llmspell_session_metadata extension block
// carried in kernel_info_reply.
type SessionMetadata struct {
	PersistenceEnabled bool     `json:"persistence_enabled"`
	SessionMapper      string   `json:"session_mapper"`
	StateBackend       string   `json:"state_backend"`
	MaxClients         int      `json:"max_clients"`
	KernelID           string   `json:"kernel_id"`
	CommTargets        []string `json:"comm_targets"`
}

// Options configures a Kernel at construction.
type Options struct {
	IP            string
	BasePort      int
	ConnectionDir string
	MaxClients    int
	StateBackend  string
	// RegisteredGlobals lists the globals the bridge successfully
	// injected. It is recorded but not consulted: the kernel_info reply
	// advertises a fixed set of comm targets.
	RegisteredGlobals []string
}

// Kernel owns the protocol engine's five channels for one client
// session and dispatches execution to an Engine.
type Kernel struct {
	opts   Options
	engine Engine

	id              string
	key             []byte
	executionCount  atomic.Int64
	interrupted     atomic.Bool
	connectionFile  string

	mu        sync.Mutex
	listeners map[domain.Channel]net.Listener
	iopubSubs []*protocol.Conn
}

// New builds a Kernel bound to engine. A random kernel id and signing
// key are minted; both are written to the connection file on Start.
func New(engine Engine, opts Options) (*Kernel, error) {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 16
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("kernel: generate signing key: %w", err)
	}
	return &Kernel{
		opts:      opts,
		engine:    engine,
		id:        ulid.Make().String(),
		key:       key,
		listeners: make(map[domain.Channel]net.Listener),
	}, nil
}

func (k *Kernel) ID() string { return k.id }

// connectionPath returns the well-known path for this kernel's
// connection file: ~/.llmspell/kernels/<kernel-id>.json.
func (k *Kernel) connectionPath() (string, error) {
	if k.opts.ConnectionDir != "" {
		return filepath.Join(k.opts.ConnectionDir, k.id+".json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("kernel: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".llmspell", "kernels", k.id+".json"), nil
}

// WriteConnectionFile writes this kernel's connection info exclusively
// (O_EXCL): two kernels can never claim the same id.
func (k *Kernel) WriteConnectionFile(ports map[domain.Channel]int) error {
	path, err := k.connectionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("kernel: create connection dir: %w", err)
	}

	info := ConnectionInfo{
		KernelID: k.id, Transport: "tcp", IP: k.opts.IP,
		ShellPort: ports[domain.ChannelShell], IOPubPort: ports[domain.ChannelIOPub],
		StdinPort: ports[domain.ChannelStdin], ControlPort: ports[domain.ChannelControl],
		HBPort: ports[domain.ChannelHeartbeat], Key: hex.EncodeToString(k.key),
		SignatureScheme: "hmac-sha256",
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("kernel: encode connection file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("kernel: write connection file (already running under this id?): %w", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return err
	}
	k.connectionFile = path
	return nil
}

// RemoveConnectionFile cleans up on shutdown.
func (k *Kernel) RemoveConnectionFile() {
	if k.connectionFile != "" {
		_ = os.Remove(k.connectionFile)
	}
}

// SigningKey returns the kernel's HMAC signing key, used by transports
// to build a protocol.Conn per channel.
func (k *Kernel) SigningKey() []byte { return k.key }

// SubscribeIOPub registers conn as an iopub subscriber; every future
// BroadcastIOPub call fans out to it until its transport disconnects.
func (k *Kernel) SubscribeIOPub(conn *protocol.Conn) {
	k.mu.Lock()
	k.iopubSubs = append(k.iopubSubs, conn)
	k.mu.Unlock()
}

// BroadcastIOPub publishes msg to every subscribed iopub connection
// (many clients, one publisher). Dead subscribers are pruned lazily on
// the next broadcast.
func (k *Kernel) BroadcastIOPub(ctx context.Context, msg domain.ProtocolMessage) {
	k.mu.Lock()
	subs := make([]*protocol.Conn, len(k.iopubSubs))
	copy(subs, k.iopubSubs)
	k.mu.Unlock()

	live := subs[:0]
	for _, sub := range subs {
		if err := sub.Send(ctx, msg); err == nil {
			live = append(live, sub)
		}
	}

	k.mu.Lock()
	k.iopubSubs = live
	k.mu.Unlock()
}

// KernelInfoReply builds the kernel_info_request response content.
func (k *Kernel) KernelInfoReply() map[string]any {
	return map[string]any{
		"implementation":  Implementation,
		"protocol_version": ProtocolVersion,
		"engine":           k.engine.Name(),
		"llmspell_session_metadata": SessionMetadata{
			PersistenceEnabled: k.opts.StateBackend != "" && k.opts.StateBackend != "memory",
			SessionMapper:      SessionMapper,
			StateBackend:       k.opts.StateBackend,
			MaxClients:         k.opts.MaxClients,
			KernelID:           k.id,
			CommTargets:        []string{"llmspell.session", "llmspell.state"},
		},
	}
}

// Interrupt sets the shared atomic interrupted flag; the engine polls
// this at safe points and raises an execution error.
func (k *Kernel) Interrupt() { k.interrupted.Store(true) }

// CheckInterrupt reports and does NOT clear the flag; clearing happens
// explicitly at the start of the next execution (ResetInterrupt).
func (k *Kernel) CheckInterrupt() bool { return k.interrupted.Load() }

func (k *Kernel) ResetInterrupt() { k.interrupted.Store(false) }

// ExecuteRequest runs one execute_request to completion. io must
// already be wired to this execution's IOPub publisher (installing io
// is the caller's responsibility).
func (k *Kernel) ExecuteRequest(ctx context.Context, code string, args map[string]string, io *IOContext) (reply map[string]any, err error) {
	k.ResetInterrupt()
	count := k.executionCount.Add(1)

	result, execErr := k.engine.Execute(ctx, code, args, io)
	if execErr != nil {
		if io != nil {
			_ = io.ErrorResult(ctx, execErr) // published before execute_reply, per the error-reporting convention
		}
		return map[string]any{
			"status":          "error",
			"execution_count": count,
			"error":           execErr.Error(),
		}, execErr
	}

	if io != nil {
		_ = io.ExecuteResult(ctx, count, result)
	}
	return map[string]any{
		"status":          "ok",
		"execution_count": count,
		"result":          result,
	}, nil
}

// Shutdown releases every bound listener.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for _, l := range k.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	k.RemoveConnectionFile()
	return firstErr
}

