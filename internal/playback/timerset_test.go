package playback

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerSet_FiresAfterDelay(t *testing.T) {
	ts := NewTimerSet()
	defer ts.Stop()

	fired := make(chan struct{})
	ts.Start("launch", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.False(t, ts.Active("launch"))
}

func TestTimerSet_CancelPreventsCallback(t *testing.T) {
	ts := NewTimerSet()
	defer ts.Stop()

	var fired atomic.Bool
	ts.Start("launch", 20*time.Millisecond, func() { fired.Store(true) })
	ts.Cancel("launch")

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, ts.Active("launch"))
}

func TestTimerSet_RestartReplacesPriorTimer(t *testing.T) {
	ts := NewTimerSet()
	defer ts.Stop()

	var first, second atomic.Bool
	ts.Start("poll", 20*time.Millisecond, func() { first.Store(true) })
	ts.Start("poll", 20*time.Millisecond, func() { second.Store(true) })

	time.Sleep(80 * time.Millisecond)
	assert.False(t, first.Load(), "replaced timer must not fire")
	assert.True(t, second.Load())
}

func TestTimerSet_StopCancelsAll(t *testing.T) {
	ts := NewTimerSet()

	var count atomic.Int32
	ts.Start("a", 20*time.Millisecond, func() { count.Add(1) })
	ts.Start("b", 20*time.Millisecond, func() { count.Add(1) })
	ts.Start("c", 20*time.Millisecond, func() { count.Add(1) })
	ts.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestTimerSet_StartAfterStopIgnored(t *testing.T) {
	ts := NewTimerSet()
	ts.Stop()

	var fired atomic.Bool
	ts.Start("late", 5*time.Millisecond, func() { fired.Store(true) })

	time.Sleep(40 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, ts.Active("late"))
}

func TestTimerSet_CancelUnknownKey(t *testing.T) {
	ts := NewTimerSet()
	defer ts.Stop()

	ts.Cancel("nothing")
}
