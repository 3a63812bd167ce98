// Package relay implements the push channel: a WebSocket hub fanning out
// remote commands to connected devices and device status to connected
// admins.
//
// The connection table lives in this process only. Horizontal scaling
// requires devices and admins to re-register against each relay instance;
// nothing is shared or buffered across instances, and a restart drops all
// live sockets.
//
// Commands pushed through the relay are persisted to the command queue
// first, so delivery is at-least-once across the poll and push channels
// and devices dedupe by command ID.
package relay
