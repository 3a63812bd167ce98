// ABOUTME: JSON envelope types for the push channel between coordinator, devices and admins.
// ABOUTME: One envelope struct carries every message type; unused fields are omitted.

package relay

import "encoding/json"

// Envelope types carried over the push channel.
const (
	TypeRegisterDevice      = "register_device"
	TypeRegisterAdmin       = "register_admin"
	TypeRegistrationSuccess = "registration_success"
	TypeDeviceStatus        = "device_status"
	TypeAdminCommand        = "admin_command"
	TypeCommand             = "command"
	TypeCommandResult       = "command_result"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeDeviceConnected     = "device_connected"
	TypeDeviceDisconnected  = "device_disconnected"
	TypeError               = "error"
)

// Envelope is the wire format for every push-channel message.
type Envelope struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`

	// Command delivery and acknowledgment
	CommandID  string         `json:"command_id,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     string         `json:"status,omitempty"`
	Result     string         `json:"result,omitempty"`

	// Device status fan-out to admins
	Snapshot json.RawMessage `json:"snapshot,omitempty"`

	// Error reporting
	Message string `json:"message,omitempty"`
}

// Encode marshals the envelope for transmission.
func (e *Envelope) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}
