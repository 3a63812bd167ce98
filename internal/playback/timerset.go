// ABOUTME: Keyed one-shot timer registry for the playback engine and resolver.
// ABOUTME: Starting a key replaces its prior timer; Stop tears everything down at once.

package playback

import (
	"sync"
	"time"
)

// TimerSet owns a group of named one-shot timers. Each key holds at most
// one live timer: starting a key that is already armed cancels the prior
// timer before arming the new one. A cancelled timer never fires its
// callback, even if the underlying time.Timer had already expired.
type TimerSet struct {
	mu      sync.Mutex
	timers  map[string]*keyedTimer
	stopped bool
}

type keyedTimer struct {
	timer     *time.Timer
	cancelled bool
}

// NewTimerSet returns an empty timer set ready for use.
func NewTimerSet() *TimerSet {
	return &TimerSet{
		timers: make(map[string]*keyedTimer),
	}
}

// Start arms a one-shot timer under key. If a timer is already armed
// under the same key it is cancelled first. The callback runs on the
// timer goroutine after d elapses, unless the key is cancelled or the
// set is stopped before then.
func (ts *TimerSet) Start(key string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.stopped {
		return
	}
	if prev, ok := ts.timers[key]; ok {
		prev.cancelled = true
		prev.timer.Stop()
	}

	kt := &keyedTimer{}
	kt.timer = time.AfterFunc(d, func() {
		ts.mu.Lock()
		fired := !kt.cancelled && !ts.stopped
		if fired {
			delete(ts.timers, key)
		}
		ts.mu.Unlock()
		if fired {
			fn()
		}
	})
	ts.timers[key] = kt
}

// Cancel disarms the timer under key if one is armed. Calling Cancel on
// an unknown key is a no-op.
func (ts *TimerSet) Cancel(key string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if kt, ok := ts.timers[key]; ok {
		kt.cancelled = true
		kt.timer.Stop()
		delete(ts.timers, key)
	}
}

// Active reports whether a timer is currently armed under key.
func (ts *TimerSet) Active(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[key]
	return ok
}

// Stop cancels every armed timer and marks the set unusable. Further
// Start calls are ignored. Stop is the single teardown point: callers
// never need to track which keys are live.
func (ts *TimerSet) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.stopped = true
	for key, kt := range ts.timers {
		kt.cancelled = true
		kt.timer.Stop()
		delete(ts.timers, key)
	}
}
