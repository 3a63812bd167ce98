// Package agent implements the kiosk-side half of the fleet: the
// heartbeat reporter, the deduplicating command executor fed by both
// the poll and push channels, the push socket itself, and the resolver
// that decides between an assignment and the default presentation.
//
// Everything the agent schedules runs through one TimerSet and a small
// set of loops started by Agent.Run, so cancellation of the run context
// tears the whole session down deterministically.
package agent
