package kernel

import (
	"context"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
)

// IOContext is the publish side of IOPub for one execute_request: the
// engine writes stdout/stderr/results/status through it and they are
// broadcast to every subscribed iopub connection.
//
// Its Stdout and Stderr methods return io.Writer adapters over it, so
// the bridge can hand either one straight to a Lua print() override.
type IOContext struct {
	kernel *Kernel
	parent domain.ProtocolMessage
}

// NewIOContext binds publishing to kernel's iopub subscribers. parent
// is the execute_request this execution is streaming output for; every
// published message carries its msg_id so a client can correlate.
func NewIOContext(kernel *Kernel, parent domain.ProtocolMessage) *IOContext {
	return &IOContext{kernel: kernel, parent: parent}
}

func (c *IOContext) publish(ctx context.Context, kind string, content map[string]any) error {
	content["parent_msg_id"] = c.parent.MsgID
	content["kind"] = kind
	msg := domain.ProtocolMessage{
		MsgID: ulid.Make().String(), MsgType: domain.MsgNotification,
		Channel: domain.ChannelIOPub, Content: content,
	}
	c.kernel.BroadcastIOPub(ctx, msg)
	return nil
}

// Stream publishes a stream notification for name ("stdout" or
// "stderr") carrying text.
func (c *IOContext) Stream(ctx context.Context, name, text string) error {
	return c.publish(ctx, "stream", map[string]any{"name": name, "text": text})
}

// ExecuteResult publishes the final successful result of an execution.
func (c *IOContext) ExecuteResult(ctx context.Context, executionCount int64, data any) error {
	return c.publish(ctx, "execute_result", map[string]any{
		"execution_count": executionCount, "data": data,
	})
}

// ErrorResult publishes an execution error on iopub, always ahead of
// the shell channel's execute_reply.
func (c *IOContext) ErrorResult(ctx context.Context, err error) error {
	return c.publish(ctx, "error", map[string]any{"evalue": err.Error()})
}

// Status publishes a kernel busy/idle transition, per the protocol's
// standard execution bracketing.
func (c *IOContext) Status(ctx context.Context, state string) error {
	return c.publish(ctx, "status", map[string]any{"execution_state": state})
}

// stdoutWriter/stderrWriter adapt IOContext to io.Writer so script
// engines can redirect native print/write calls without polling.
type stdoutWriter struct {
	ctx context.Context
	io  *IOContext
}

func (w stdoutWriter) Write(p []byte) (int, error) {
	if err := w.io.Stream(w.ctx, "stdout", string(p)); err != nil {
		return 0, fmt.Errorf("kernel: publish stdout: %w", err)
	}
	return len(p), nil
}

type stderrWriter struct {
	ctx context.Context
	io  *IOContext
}

func (w stderrWriter) Write(p []byte) (int, error) {
	if err := w.io.Stream(w.ctx, "stderr", string(p)); err != nil {
		return 0, fmt.Errorf("kernel: publish stderr: %w", err)
	}
	return len(p), nil
}

// Stdout returns an io.Writer that streams writes as stdout.
func (c *IOContext) Stdout(ctx context.Context) io.Writer { return stdoutWriter{ctx: ctx, io: c} }

// Stderr returns an io.Writer that streams writes as stderr.
func (c *IOContext) Stderr(ctx context.Context) io.Writer { return stderrWriter{ctx: ctx, io: c} }
