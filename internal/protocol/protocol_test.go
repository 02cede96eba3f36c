package protocol

import (
	"bytes"
	"testing"

	"github.com/llmspell-go/kernel/internal/domain"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("test-key")
	msg := domain.ProtocolMessage{
		MsgID: "abc", MsgType: domain.MsgRequest, Channel: domain.ChannelShell,
		Content: map[string]any{"code": "return 1"},
	}

	frame, err := EncodeSigned(msg, key)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	decoded, err := DecodeSigned(frame, key)
	if err != nil {
		t.Fatalf("DecodeSigned: %v", err)
	}
	if decoded.MsgID != msg.MsgID {
		t.Fatalf("msg_id mismatch: got %q want %q", decoded.MsgID, msg.MsgID)
	}
}

func TestVerifyRejectsTamperedByte(t *testing.T) {
	key := []byte("test-key")
	msg := domain.ProtocolMessage{MsgID: "abc", MsgType: domain.MsgRequest, Channel: domain.ChannelShell}

	frame, err := EncodeSigned(msg, key)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	tampered := bytes.Clone(frame.Payload)
	tampered[0] ^= 0xFF

	if _, err := DecodeSigned(SignedFrame{Payload: tampered, Signature: frame.Signature}, key); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestFrameTooLargeRejected(t *testing.T) {
	big := make([]byte, MaxFrameSize+1)
	if _, err := Decode(big); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameAtLimitAccepted(t *testing.T) {
	msg := domain.ProtocolMessage{MsgID: "x", MsgType: domain.MsgRequest, Channel: domain.ChannelShell}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(raw) > MaxFrameSize {
		t.Fatalf("small message unexpectedly exceeds cap")
	}
	padded := append(raw, bytes.Repeat([]byte(" "), MaxFrameSize-len(raw))...)
	decoded, err := Decode(padded)
	if err != nil {
		t.Fatalf("Decode of a payload of exactly MaxFrameSize bytes: %v", err)
	}
	if decoded.MsgID != "x" {
		t.Fatalf("got MsgID %q want x", decoded.MsgID)
	}
}

func TestFrameLengthRoundTrip(t *testing.T) {
	prefix := PutFrameLength(12345)
	if got := FrameLength(prefix); got != 12345 {
		t.Fatalf("FrameLength round-trip: got %d, want 12345", got)
	}
}
