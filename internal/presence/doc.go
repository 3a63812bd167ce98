// Package presence derives device status from heartbeat age. Status is
// never stored: online, idle, and offline are computed from the last
// heartbeat timestamp at read time, so a silent device goes offline
// without any background sweeper.
package presence
