package kernel

import (
	"context"
	"fmt"
	"net"

	"github.com/rakunlabs/logi"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/protocol"
)

// Serve binds all five channels as TCP listeners starting at
// opts.BasePort (shell, iopub, stdin, control in order, heartbeat last
// as a UDP-style echo loop), writes the connection file, and blocks
// handling connections until ctx is cancelled.
func (k *Kernel) Serve(ctx context.Context) error {
	ports := map[domain.Channel]int{
		domain.ChannelShell:     k.opts.BasePort,
		domain.ChannelIOPub:     k.opts.BasePort + 1,
		domain.ChannelStdin:     k.opts.BasePort + 2,
		domain.ChannelControl:   k.opts.BasePort + 3,
		domain.ChannelHeartbeat: k.opts.BasePort + 4,
	}

	k.mu.Lock()
	for ch, port := range ports {
		if ch == domain.ChannelHeartbeat {
			continue // heartbeat is a packet-oriented echo loop, bound separately below
		}
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", k.opts.IP, port))
		if err != nil {
			k.mu.Unlock()
			return fmt.Errorf("kernel: listen %s: %w", ch, err)
		}
		k.listeners[ch] = l
	}
	k.mu.Unlock()

	if err := k.WriteConnectionFile(ports); err != nil {
		_ = k.Shutdown(ctx)
		return err
	}
	defer k.RemoveConnectionFile()

	hbConn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", k.opts.IP, ports[domain.ChannelHeartbeat]))
	if err != nil {
		_ = k.Shutdown(ctx)
		return fmt.Errorf("kernel: listen heartbeat: %w", err)
	}
	defer hbConn.Close()
	go protocol.HeartbeatLoop(ctx, hbConn)

	logger := logi.Ctx(ctx)
	logger.Info("kernel: listening", "kernel_id", k.id, "shell_port", ports[domain.ChannelShell])

	errCh := make(chan error, 4)
	k.mu.Lock()
	shell, control, stdin, iopub := k.listeners[domain.ChannelShell], k.listeners[domain.ChannelControl], k.listeners[domain.ChannelStdin], k.listeners[domain.ChannelIOPub]
	k.mu.Unlock()

	go k.acceptLoop(ctx, domain.ChannelShell, shell, errCh)
	go k.acceptLoop(ctx, domain.ChannelControl, control, errCh)
	go k.acceptLoop(ctx, domain.ChannelStdin, stdin, errCh)
	go k.acceptLoop(ctx, domain.ChannelIOPub, iopub, errCh)

	select {
	case <-ctx.Done():
		return k.Shutdown(context.Background())
	case err := <-errCh:
		_ = k.Shutdown(context.Background())
		return err
	}
}

func (k *Kernel) acceptLoop(ctx context.Context, channel domain.Channel, l net.Listener, errCh chan<- error) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errCh <- fmt.Errorf("kernel: accept on %s: %w", channel, err)
			return
		}
		go k.handleConn(ctx, channel, conn)
	}
}

// handleConn dispatches messages from one accepted connection on
// channel. Only shell and control carry requests today; iopub is
// publish-only from the kernel's side, and stdin is reserved for
// future input_request support.
func (k *Kernel) handleConn(ctx context.Context, channel domain.Channel, netConn net.Conn) {
	logger := logi.Ctx(ctx)
	defer netConn.Close()

	transport := protocol.NewTCPTransport(netConn)
	pconn := protocol.NewConn(transport, k.key, channel)

	for {
		msg, err := pconn.Recv(ctx)
		if err != nil {
			if transport.IsConnected() {
				logger.Debug("kernel: connection closed", "channel", channel, "error", err)
			}
			return
		}

		switch channel {
		case domain.ChannelControl:
			k.handleControl(ctx, pconn, msg)
		case domain.ChannelShell:
			k.handleShell(ctx, pconn, msg)
		case domain.ChannelIOPub:
			// A client's first iopub message is its subscribe handshake;
			// after that the kernel only ever writes to this connection.
			k.SubscribeIOPub(pconn)
		default:
			// stdin is reserved for future input_request support.
		}
	}
}

func (k *Kernel) handleControl(ctx context.Context, pconn *protocol.Conn, msg domain.ProtocolMessage) {
	logger := logi.Ctx(ctx)
	kind, _ := msg.Content["type"].(string)
	switch kind {
	case "interrupt_request":
		k.Interrupt()
		if err := pconn.Send(ctx, pconn.Reply(msg, map[string]any{"status": "ok"})); err != nil {
			logger.Error("kernel: send interrupt reply", "error", err)
		}
	case "kernel_info_request":
		if err := pconn.Send(ctx, pconn.Reply(msg, k.KernelInfoReply())); err != nil {
			logger.Error("kernel: send kernel_info reply", "error", err)
		}
	case "shutdown_request":
		if err := pconn.Send(ctx, pconn.Reply(msg, map[string]any{"status": "ok"})); err != nil {
			logger.Error("kernel: send shutdown reply", "error", err)
		}
	default:
		if err := pconn.Send(ctx, pconn.ErrorReply(msg, fmt.Errorf("kernel: unknown control request type %q", kind))); err != nil {
			logger.Error("kernel: send error reply", "error", err)
		}
	}
}

func (k *Kernel) handleShell(ctx context.Context, pconn *protocol.Conn, msg domain.ProtocolMessage) {
	logger := logi.Ctx(ctx)
	kind, _ := msg.Content["type"].(string)
	if kind != "execute_request" {
		if err := pconn.Send(ctx, pconn.ErrorReply(msg, fmt.Errorf("kernel: unknown shell request type %q", kind))); err != nil {
			logger.Error("kernel: send error reply", "error", err)
		}
		return
	}

	code, _ := msg.Content["code"].(string)
	args := map[string]string{}
	if raw, ok := msg.Content["args"].(map[string]any); ok {
		for key, v := range raw {
			if s, ok := v.(string); ok {
				args[key] = s
			}
		}
	}

	io := NewIOContext(k, msg)
	_ = io.Status(ctx, "busy")
	defer func() { _ = io.Status(ctx, "idle") }()

	reply, err := k.ExecuteRequest(ctx, code, args, io)
	if err != nil {
		logger.Warn("kernel: execution error", "error", err)
	}
	if sendErr := pconn.Send(ctx, pconn.Reply(msg, reply)); sendErr != nil {
		logger.Error("kernel: send execute reply", "error", sendErr)
	}
}
