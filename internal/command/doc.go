// Package command defines the remote command vocabulary and the
// per-device queue on top of the store.
//
// Delivery is at least once: a command enqueued here may reach the device
// over the heartbeat poll, the push socket, or both. The queue offers no
// dedupe of its own; the device deduplicates by command ID, and
// acknowledgment is first writer wins, so a duplicate delivery can never
// flip a recorded outcome.
package command
