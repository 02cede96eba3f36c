package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWSTransportRoundTrip(t *testing.T) {
	accepted := make(chan *WSTransport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := UpgradeWS(w, r)
		if err != nil {
			t.Errorf("UpgradeWS: %v", err)
			return
		}
		accepted <- tr
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWS(context.Background(), url)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer client.Close()

	var server *WSTransport
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte(`{"msg_id":"ws-1","msg_type":"request","channel":"shell","content":{}}`)
	if err := client.Send(ctx, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %s", got)
	}

	if !client.IsConnected() || !server.IsConnected() {
		t.Fatal("both ends should report connected")
	}
	client.Close()
	if client.IsConnected() {
		t.Fatal("closed client should not report connected")
	}
}

func TestWSTransportRejectsOversizedSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := UpgradeWS(w, r)
		if err != nil {
			return
		}
		defer tr.Close()
		_, _ = tr.Recv(r.Context())
	}))
	defer srv.Close()

	client, err := DialWS(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer client.Close()

	big := make([]byte, MaxFrameSize+1)
	if err := client.Send(context.Background(), big); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
