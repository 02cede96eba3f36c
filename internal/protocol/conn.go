package protocol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
)

// Conn is one signed, framed message connection bound to a single
// wire Transport and signing key. Request/Response correlation is by
// msg_id.
type Conn struct {
	transport Transport
	key       []byte
	channel   domain.Channel
	seq       atomic.Uint64
}

func NewConn(transport Transport, key []byte, channel domain.Channel) *Conn {
	return &Conn{transport: transport, key: key, channel: channel}
}

// NextMsgID mints a fresh, unique message id for a new Request.
func (c *Conn) NextMsgID() string {
	c.seq.Add(1)
	return ulid.Make().String()
}

// Send signs and frames msg, writing it to the underlying transport.
func (c *Conn) Send(ctx context.Context, msg domain.ProtocolMessage) error {
	msg.Channel = c.channel
	frame, err := EncodeSigned(msg, c.key)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, append(frame.Payload, frame.Signature...))
}

// Recv reads and verifies the next message. Frames carry their
// signature appended after the JSON payload (sha256 is a fixed 32
// bytes, so the split point is unambiguous).
func (c *Conn) Recv(ctx context.Context) (domain.ProtocolMessage, error) {
	raw, err := c.transport.Recv(ctx)
	if err != nil {
		return domain.ProtocolMessage{}, err
	}
	const sigLen = 32
	if len(raw) < sigLen {
		return domain.ProtocolMessage{}, fmt.Errorf("protocol: frame too short to carry a signature")
	}
	payload, sig := raw[:len(raw)-sigLen], raw[len(raw)-sigLen:]
	return DecodeSigned(SignedFrame{Payload: payload, Signature: sig}, c.key)
}

// Request builds a well-formed Request message with a fresh msg_id.
func (c *Conn) Request(content map[string]any) domain.ProtocolMessage {
	return domain.ProtocolMessage{
		MsgID: c.NextMsgID(), MsgType: domain.MsgRequest, Channel: c.channel, Content: content,
	}
}

// Reply builds a Response correlated to req's msg_id, so every
// Response matches exactly one prior Request.
func (c *Conn) Reply(req domain.ProtocolMessage, content map[string]any) domain.ProtocolMessage {
	return domain.ProtocolMessage{
		MsgID: req.MsgID, MsgType: domain.MsgResponse, Channel: c.channel, Content: content,
	}
}

// ErrorReply builds an Error response correlated to req's msg_id.
func (c *Conn) ErrorReply(req domain.ProtocolMessage, err error) domain.ProtocolMessage {
	return domain.ProtocolMessage{
		MsgID: req.MsgID, MsgType: domain.MsgError, Channel: c.channel,
		Content: map[string]any{"error": err.Error()},
	}
}
