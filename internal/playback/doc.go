// Package playback implements the agent's slide playback session: a
// countdown-driven state machine over a fetched deck, manual and remote
// navigation, a stall watchdog, and a degraded-resource mode that keeps
// memory bounded across multi-day looping runs.
//
// The engine owns no goroutines or timers. Its owner drives it by
// calling Tick and CheckStall on whatever cadence it schedules through
// a TimerSet, which makes the whole state machine deterministic under
// test and keeps every timer cancellable from one place.
package playback
