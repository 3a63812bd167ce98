// ABOUTME: Push channel client: persistent WebSocket to the coordinator's
// ABOUTME: relay for low-latency command delivery, with reconnect backoff.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackpot9800/kiosksync/internal/relay"
)

const (
	pushWriteWait    = 10 * time.Second
	pushPongWait     = 30 * time.Second
	pushPingPeriod   = (pushPongWait * 9) / 10
	reconnectFloor   = time.Second
	reconnectCeiling = 30 * time.Second
)

// PushClient keeps one registered socket open to the relay. Commands
// delivered over it go through the same executor as polled ones, so the
// two channels collapse into a single at-least-once stream. The client
// reconnects forever with doubling backoff; the heartbeat poll covers
// delivery while the socket is down.
type PushClient struct {
	wsURL    string
	deviceID string
	exec     *Executor
	logger   *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	// writeMu serializes writes; gorilla allows one writer at a time
	// and the pinger, read loop and result mirror all write.
	writeMu sync.Mutex
}

func (p *PushClient) writeEnvelope(conn *websocket.Conn, env *relay.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
	return conn.WriteJSON(env)
}

func (p *PushClient) writePing(conn *websocket.Conn) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// NewPushClient builds a push channel client for one device.
func NewPushClient(wsURL, deviceID string, exec *Executor, logger *slog.Logger) *PushClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushClient{
		wsURL:    wsURL,
		deviceID: deviceID,
		exec:     exec,
		logger:   logger.With("component", "push"),
	}
}

// Connected reports whether a registered socket is currently open.
func (p *PushClient) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Run dials and serves the socket until the context is cancelled.
func (p *PushClient) Run(ctx context.Context) error {
	backoff := reconnectFloor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := p.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.logger.Warn("push channel disconnected", "error", err, "retry_in", backoff)
		}

		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > reconnectCeiling {
			backoff = reconnectFloor
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCeiling {
			backoff = reconnectCeiling
		}
	}
}

func (p *PushClient) serveOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	register := &relay.Envelope{
		Type:     relay.TypeRegisterDevice,
		DeviceID: p.deviceID,
	}
	if err := p.writeEnvelope(conn, register); err != nil {
		return err
	}

	p.setConn(conn)
	defer p.setConn(nil)

	// Close the socket when the context dies so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pushPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pushPongWait))
		return nil
	})

	pinger := time.NewTicker(pushPingPeriod)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pinger.C:
				if err := p.writePing(conn); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var env relay.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pushPongWait))
		p.handleEnvelope(ctx, conn, &env)
	}
}

func (p *PushClient) handleEnvelope(ctx context.Context, conn *websocket.Conn, env *relay.Envelope) {
	switch env.Type {
	case relay.TypeRegistrationSuccess:
		p.logger.Info("push channel registered", "device_id", p.deviceID)
	case relay.TypeCommand, relay.TypeAdminCommand:
		p.logger.Info("command pushed", "command_id", env.CommandID, "kind", env.Kind)
		p.exec.Execute(ctx, Command{
			ID:         env.CommandID,
			Kind:       env.Kind,
			Parameters: env.Parameters,
		})
	case relay.TypePing:
		if err := p.writeEnvelope(conn, &relay.Envelope{Type: relay.TypePong}); err != nil {
			p.logger.Warn("pong write failed", "error", err)
		}
	case relay.TypeError:
		p.logger.Warn("relay reported error", "message", env.Message)
	default:
		p.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

// NotifyCommandResult mirrors a command outcome over the socket for
// watching admins. Best-effort: a closed socket just drops it.
func (p *PushClient) NotifyCommandResult(commandID, kind, status, result string) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	env := &relay.Envelope{
		Type:      relay.TypeCommandResult,
		DeviceID:  p.deviceID,
		CommandID: commandID,
		Kind:      kind,
		Status:    status,
		Result:    result,
	}
	if err := p.writeEnvelope(conn, env); err != nil {
		p.logger.Debug("command result push failed", "error", err)
	}
}

// SendStatus mirrors a device snapshot over the socket for watching
// admins. Best-effort.
func (p *PushClient) SendStatus(snap Snapshot) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	env := &relay.Envelope{
		Type:     relay.TypeDeviceStatus,
		DeviceID: p.deviceID,
		Snapshot: raw,
	}
	if err := p.writeEnvelope(conn, env); err != nil {
		p.logger.Debug("status push failed", "error", err)
	}
}

func (p *PushClient) setConn(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.connected = conn != nil
	p.mu.Unlock()
}
