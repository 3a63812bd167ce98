// ABOUTME: Per-device command queue over the store with idempotent acknowledgment.
// ABOUTME: Delivery is at-least-once; agents dedupe by command ID per session.

package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jackpot9800/kiosksync/internal/store"
)

// Queue enqueues validated commands and records their acknowledgments.
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

// NewQueue creates a Queue over the given store.
func NewQueue(st store.Store, logger *slog.Logger) *Queue {
	return &Queue{
		store:  st,
		logger: logger.With("component", "command-queue"),
	}
}

// Enqueue validates the kind against the vocabulary and creates a pending
// command for the device. Returns the created command.
func (q *Queue) Enqueue(ctx context.Context, deviceID, kind string, params map[string]any) (*store.RemoteCommand, error) {
	if err := Validate(kind, params); err != nil {
		return nil, err
	}

	cmd := &store.RemoteCommand{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Kind:       kind,
		Parameters: params,
		Status:     store.CommandStatusPending,
	}
	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("enqueuing command: %w", err)
	}

	q.logger.Debug("command enqueued",
		"command_id", cmd.ID,
		"device_id", deviceID,
		"kind", kind,
	)
	return cmd, nil
}

// Acknowledge transitions a command to executed or failed. Replayed
// acknowledgments are no-ops that return the first terminal outcome; the
// caller must treat the command's device as authoritative and reject IDs
// belonging to other devices.
func (q *Queue) Acknowledge(ctx context.Context, deviceID, commandID, status, result string) (*store.RemoteCommand, error) {
	if status != store.CommandStatusExecuted && status != store.CommandStatusFailed {
		return nil, fmt.Errorf("%w: acknowledgment status %q", ErrInvalidParams, status)
	}

	existing, err := q.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if existing.DeviceID != deviceID {
		// An ID from another device's queue is indistinguishable from an
		// unknown one as far as this device is concerned.
		return nil, store.ErrNotFound
	}

	cmd, err := q.store.AcknowledgeCommand(ctx, commandID, status, result)
	if err != nil {
		return nil, err
	}

	q.logger.Debug("command acknowledged",
		"command_id", commandID,
		"device_id", deviceID,
		"status", cmd.Status,
	)
	return cmd, nil
}
