package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport is the WebSocket Transport. WebSocket supplies its own
// message framing, so the 4-byte length prefix is dropped: one binary
// message carries one JSON payload. The 16 MiB frame cap still applies
// on both directions.
type WSTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla permits one concurrent writer only
	mu   sync.Mutex
	dead bool
}

// NewWSTransport wraps an already-upgraded/dialed websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	conn.SetReadLimit(MaxFrameSize)
	return &WSTransport{conn: conn}
}

// DialWS connects to a ws:// or wss:// URL and returns a ready
// Transport.
func DialWS(ctx context.Context, url string) (*WSTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", url, err)
	}
	return NewWSTransport(conn), nil
}

// UpgradeWS upgrades a plain HTTP request to a websocket Transport,
// for the server side of a future ws-channel listener.
func UpgradeWS(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("protocol: upgrade: %w", err)
	}
	return NewWSTransport(conn), nil
}

func (t *WSTransport) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.markDead()
		return fmt.Errorf("protocol: write ws frame: %w", err)
	}
	return nil
}

func (t *WSTransport) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		t.markDead()
		if websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return data, nil
}

func (t *WSTransport) Close() error {
	t.markDead()
	return t.conn.Close()
}

func (t *WSTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.dead
}

func (t *WSTransport) markDead() {
	t.mu.Lock()
	t.dead = true
	t.mu.Unlock()
}
