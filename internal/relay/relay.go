// ABOUTME: Push Relay hub owning live device and admin connections.
// ABOUTME: Fans out commands to devices and device status to admins with low latency.

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackpot9800/kiosksync/internal/store"
)

// sinkTimeout bounds the store work done on behalf of one envelope.
const sinkTimeout = 10 * time.Second

// CommandSink persists commands flowing through the relay so that the poll
// and acknowledgment paths stay authoritative. Pushed delivery is a latency
// optimization on top of the queue, not a replacement for it.
type CommandSink interface {
	Enqueue(ctx context.Context, deviceID, kind string, params map[string]any) (*store.RemoteCommand, error)
	Acknowledge(ctx context.Context, deviceID, commandID, status, result string) (*store.RemoteCommand, error)
}

// Hub maintains the in-memory connection table for one relay instance.
// The table is owned exclusively by this process: a restart drops every
// socket and all parties must re-register.
type Hub struct {
	commands CommandSink
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	devices map[string]*client
	admins  map[*client]bool
}

// NewHub creates a Hub using the given sink for command persistence.
func NewHub(commands CommandSink, logger *slog.Logger) *Hub {
	return &Hub{
		commands: commands,
		logger:   logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices and admin tools connect from anywhere on the fleet
			// network; transport security is handled a layer down.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		devices: make(map[string]*client),
		admins:  make(map[*client]bool),
	}
}

// ServeWS upgrades an HTTP request to a push-channel connection. The peer
// must send a register_device or register_admin envelope before anything else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, h)
	go c.writePump()
	go c.readPump()
}

// handleEnvelope dispatches one decoded envelope from a connection.
func (h *Hub) handleEnvelope(c *client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn("malformed push envelope", "error", err)
		c.safeSend((&Envelope{Type: TypeError, Message: "malformed envelope"}).Encode())
		return
	}

	switch env.Type {
	case TypeRegisterDevice:
		h.registerDevice(c, env.DeviceID)

	case TypeRegisterAdmin:
		h.registerAdmin(c)

	case TypeDeviceStatus:
		if c.role != "device" {
			return
		}
		h.BroadcastToAdmins(&Envelope{
			Type:     TypeDeviceStatus,
			DeviceID: c.id,
			Snapshot: env.Snapshot,
		})

	case TypeAdminCommand, TypeCommand:
		if c.role != "admin" {
			return
		}
		h.handleAdminCommand(c, &env)

	case TypeCommandResult:
		if c.role != "device" {
			return
		}
		h.handleCommandResult(c, &env)

	case TypePing:
		c.safeSend((&Envelope{Type: TypePong}).Encode())

	case TypePong:
		// read deadline was already extended by the pump

	default:
		h.logger.Debug("unknown envelope type", "type", env.Type)
	}
}

// registerDevice binds a connection to a device ID, replacing any prior
// connection for the same device (newest wins), and notifies admins.
func (h *Hub) registerDevice(c *client, deviceID string) {
	if deviceID == "" {
		c.safeSend((&Envelope{Type: TypeError, Message: "register_device requires device_id"}).Encode())
		return
	}

	var old *client
	h.mu.Lock()
	if existing, ok := h.devices[deviceID]; ok && existing != c {
		old = existing
	}
	c.role = "device"
	c.id = deviceID
	h.devices[deviceID] = c
	total := len(h.devices)
	h.mu.Unlock()

	// Close the replaced socket outside the lock.
	if old != nil {
		old.close()
		h.logger.Warn("replaced duplicate device connection", "device_id", deviceID)
	}

	c.safeSend((&Envelope{Type: TypeRegistrationSuccess, DeviceID: deviceID}).Encode())
	h.BroadcastToAdmins(&Envelope{Type: TypeDeviceConnected, DeviceID: deviceID})

	h.logger.Info("device connected to push channel",
		"device_id", deviceID,
		"total_devices", total,
	)
}

func (h *Hub) registerAdmin(c *client) {
	h.mu.Lock()
	c.role = "admin"
	h.admins[c] = true
	total := len(h.admins)
	h.mu.Unlock()

	c.safeSend((&Envelope{Type: TypeRegistrationSuccess}).Encode())
	h.logger.Info("admin connected to push channel", "total_admins", total)
}

// unregister removes a connection from the table. Only the connection's own
// close event mutates its entry; a device entry replaced by a newer
// connection is left alone.
func (h *Hub) unregister(c *client) {
	var wasDevice bool
	h.mu.Lock()
	switch c.role {
	case "device":
		if h.devices[c.id] == c {
			delete(h.devices, c.id)
			wasDevice = true
		}
	case "admin":
		delete(h.admins, c)
	}
	h.mu.Unlock()

	c.close()

	if wasDevice {
		h.BroadcastToAdmins(&Envelope{Type: TypeDeviceDisconnected, DeviceID: c.id})
		h.logger.Info("device disconnected from push channel", "device_id", c.id)
	}
}

// handleAdminCommand persists a command from an admin connection and pushes
// it to the target device if one is connected. A device without a live
// socket simply receives the command on its next heartbeat.
func (h *Hub) handleAdminCommand(c *client, env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	cmd, err := h.commands.Enqueue(ctx, env.DeviceID, env.Kind, env.Parameters)
	if err != nil {
		h.logger.Warn("rejecting admin command",
			"device_id", env.DeviceID, "kind", env.Kind, "error", err)
		c.safeSend((&Envelope{Type: TypeError, DeviceID: env.DeviceID, Message: err.Error()}).Encode())
		return
	}

	delivered := h.RelayCommand(cmd)
	h.logger.Debug("admin command accepted",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"kind", cmd.Kind,
		"pushed", delivered,
	)
}

// handleCommandResult records a command acknowledgment arriving over the
// push channel and forwards the outcome to connected admins.
func (h *Hub) handleCommandResult(c *client, env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	cmd, err := h.commands.Acknowledge(ctx, c.id, env.CommandID, env.Status, env.Result)
	if err != nil {
		h.logger.Warn("command result for unknown command",
			"device_id", c.id, "command_id", env.CommandID, "error", err)
		return
	}

	h.BroadcastToAdmins(&Envelope{
		Type:      TypeCommandResult,
		DeviceID:  c.id,
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		Status:    cmd.Status,
		Result:    cmd.Result,
	})
}

// RelayCommand pushes a persisted command to its device's live connection.
// Returns false when the device has no socket; the command stays queued for
// the next poll and nothing is buffered here.
func (h *Hub) RelayCommand(cmd *store.RemoteCommand) bool {
	h.mu.RLock()
	c, ok := h.devices[cmd.DeviceID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	return c.safeSend((&Envelope{
		Type:       TypeCommand,
		CommandID:  cmd.ID,
		Kind:       cmd.Kind,
		Parameters: cmd.Parameters,
	}).Encode())
}

// BroadcastToAdmins sends an envelope to every connected admin.
func (h *Hub) BroadcastToAdmins(env *Envelope) {
	data := env.Encode()

	h.mu.RLock()
	admins := make([]*client, 0, len(h.admins))
	for a := range h.admins {
		admins = append(admins, a)
	}
	h.mu.RUnlock()

	for _, a := range admins {
		a.safeSend(data)
	}
}

// IsConnected reports whether a device currently holds a push connection.
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.devices[deviceID]
	return ok
}

// ConnectedDevices returns the IDs of devices with live push connections.
func (h *Hub) ConnectedDevices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	return ids
}
