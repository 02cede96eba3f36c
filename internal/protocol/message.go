// Package protocol implements the kernel's wire protocol. Frames are
// a 4-byte big-endian length prefix followed by a JSON-encoded
// domain.ProtocolMessage, capped at 16 MiB. Messages are HMAC-SHA256
// signed by the sender; the kernel verifies every non-heartbeat message
// against its connection key. Transport itself is pluggable (tcp and
// websocket implementations) behind the Transport interface.
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/llmspell-go/kernel/internal/domain"
)

// MaxFrameSize is the hard cap on a single frame's JSON payload.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned by Encode/Decode when a frame would
// exceed MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("protocol: frame exceeds %d bytes", MaxFrameSize)

// ErrBadSignature is returned by DecodeSigned when a message's signature
// does not match its key-derived HMAC.
var ErrBadSignature = fmt.Errorf("protocol: signature verification failed")

// Encode serializes msg to its wire form: JSON payload (no length
// prefix; TCPTransport.Send adds that at the transport boundary).
func Encode(msg domain.ProtocolMessage) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return raw, nil
}

// Decode parses a raw JSON payload back into a ProtocolMessage.
func Decode(raw []byte) (domain.ProtocolMessage, error) {
	if len(raw) > MaxFrameSize {
		return domain.ProtocolMessage{}, ErrFrameTooLarge
	}
	var msg domain.ProtocolMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.ProtocolMessage{}, fmt.Errorf("protocol: decode: %w", err)
	}
	return msg, nil
}

// FrameLength reads the 4-byte big-endian length prefix.
func FrameLength(prefix [4]byte) uint32 {
	return binary.BigEndian.Uint32(prefix[:])
}

// PutFrameLength writes n as a 4-byte big-endian length prefix.
func PutFrameLength(n uint32) [4]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return buf
}

// Sign computes the HMAC-SHA256 signature of payload under key, the
// connection file's advertised signature_scheme.
func Sign(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify reports whether sig is the correct HMAC-SHA256 signature of
// payload under key, in constant time.
func Verify(key, payload, sig []byte) bool {
	return hmac.Equal(Sign(key, payload), sig)
}

// SignedFrame bundles a message's JSON payload with its signature, the
// unit actually written to the wire for non-heartbeat channels.
type SignedFrame struct {
	Payload   []byte
	Signature []byte
}

// EncodeSigned serializes and signs msg under key.
func EncodeSigned(msg domain.ProtocolMessage, key []byte) (SignedFrame, error) {
	raw, err := Encode(msg)
	if err != nil {
		return SignedFrame{}, err
	}
	return SignedFrame{Payload: raw, Signature: Sign(key, raw)}, nil
}

// DecodeSigned verifies f's signature under key, then decodes its
// payload. On a failed signature the caller resets the connection and
// logs the error.
func DecodeSigned(f SignedFrame, key []byte) (domain.ProtocolMessage, error) {
	if !Verify(key, f.Payload, f.Signature) {
		return domain.ProtocolMessage{}, ErrBadSignature
	}
	return Decode(f.Payload)
}
