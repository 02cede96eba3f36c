package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Transport is the pluggable framed-byte-stream abstraction a channel's
// connection is built on: TCP is the default, WebSocket the
// alternative.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	IsConnected() bool
}

// TCPTransport is the default Transport: length-prefixed frames over a
// plain net.Conn.
type TCPTransport struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
	dead bool
}

// NewTCPTransport wraps an already-dialed/accepted net.Conn.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn, r: bufio.NewReader(conn)}
}

// DialTCP connects to addr and returns a ready Transport.
func DialTCP(ctx context.Context, addr string) (*TCPTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", addr, err)
	}
	return NewTCPTransport(conn), nil
}

func (t *TCPTransport) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	prefix := PutFrameLength(uint32(len(frame)))
	if _, err := t.conn.Write(prefix[:]); err != nil {
		t.dead = true
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		t.dead = true
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

func (t *TCPTransport) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	var prefix [4]byte
	if _, err := io.ReadFull(t.r, prefix[:]); err != nil {
		t.mu.Lock()
		t.dead = true
		t.mu.Unlock()
		return nil, err
	}
	n := FrameLength(prefix)
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		t.mu.Lock()
		t.dead = true
		t.mu.Unlock()
		return nil, err
	}
	return buf, nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	t.dead = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.dead
}

// HeartbeatLoop is the heartbeat handler: a non-blocking echo loop
// with a 100ms receive timeout that replies to any incoming bytes with
// the same bytes, immediately.
func HeartbeatLoop(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		_, _ = conn.WriteTo(buf[:n], addr)
	}
}

// HeartbeatMonitor tracks the last time a heartbeat echo was observed,
// so an absent client can be detected within a configurable window.
type HeartbeatMonitor struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func NewHeartbeatMonitor(window time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{last: time.Now(), window: window}
}

func (m *HeartbeatMonitor) Touch() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// Alive reports whether a heartbeat has been seen within the configured
// window.
func (m *HeartbeatMonitor) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.last) < m.window
}
