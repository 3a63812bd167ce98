// ABOUTME: Presence derivation and heartbeat intake for the coordinator.
// ABOUTME: Computes online/idle/offline from heartbeat age and drains pending commands.

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackpot9800/kiosksync/internal/store"
)

// Status values derived from heartbeat age. There is no stored status and no
// disconnect signal: a device is offline purely because its snapshot stopped
// arriving.
const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

// Thresholds for status derivation.
type Thresholds struct {
	Online time.Duration // heartbeat younger than this: online
	Idle   time.Duration // younger than this but older than Online: idle
}

// DefaultThresholds matches the fleet defaults of 2 and 10 minutes.
func DefaultThresholds() Thresholds {
	return Thresholds{Online: 2 * time.Minute, Idle: 10 * time.Minute}
}

// DeriveStatus is a pure function of elapsed time since the last heartbeat.
// It is evaluated at query time and never cached.
func DeriveStatus(elapsed time.Duration, th Thresholds) string {
	switch {
	case elapsed < th.Online:
		return StatusOnline
	case elapsed < th.Idle:
		return StatusIdle
	default:
		return StatusOffline
	}
}

// View is the derived presence of one device at a point in time.
type View struct {
	Device *store.Device
	Status string
}

// Registry accepts heartbeats and answers presence queries over the store.
type Registry struct {
	store      store.Store
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry creates a Registry with the given thresholds.
func NewRegistry(st store.Store, th Thresholds, logger *slog.Logger) *Registry {
	return &Registry{
		store:      st,
		thresholds: th,
		logger:     logger.With("component", "presence"),
		now:        time.Now,
	}
}

// ReceiveHeartbeat upserts the device snapshot (auto-provisioning on first
// contact) and returns the device's pending commands in creation order.
// The heartbeat response doubles as the command-delivery pull mechanism.
func (r *Registry) ReceiveHeartbeat(ctx context.Context, device *store.Device) ([]*store.RemoteCommand, bool, error) {
	_, err := r.store.GetDevice(ctx, device.ID)
	firstContact := errors.Is(err, store.ErrNotFound)
	if err != nil && !firstContact {
		return nil, false, fmt.Errorf("looking up device: %w", err)
	}

	device.LastHeartbeatAt = r.now().UTC()
	if err := r.store.UpsertDeviceHeartbeat(ctx, device); err != nil {
		return nil, false, fmt.Errorf("recording heartbeat: %w", err)
	}

	if firstContact {
		r.logger.Info("auto-provisioned device on first heartbeat",
			"device_id", device.ID,
			"app_version", device.AppVersion,
		)
	}

	cmds, err := r.store.ListPendingCommands(ctx, device.ID)
	if err != nil {
		return nil, firstContact, fmt.Errorf("draining pending commands: %w", err)
	}
	return cmds, firstContact, nil
}

// ViewDevice returns the device with its derived status.
func (r *Registry) ViewDevice(ctx context.Context, id string) (*View, error) {
	d, err := r.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Device: d, Status: DeriveStatus(r.now().Sub(d.LastHeartbeatAt), r.thresholds)}, nil
}

// ViewAll returns every device with its derived status.
func (r *Registry) ViewAll(ctx context.Context) ([]*View, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	views := make([]*View, 0, len(devices))
	for _, d := range devices {
		views = append(views, &View{
			Device: d,
			Status: DeriveStatus(now.Sub(d.LastHeartbeatAt), r.thresholds),
		})
	}
	return views, nil
}
