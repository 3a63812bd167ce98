// ABOUTME: Remote input handler mapping directional-pad events onto a
// ABOUTME: one-dimensional focus index over playback controls and thumbnails.

package playback

import (
	"sync"
	"time"
)

// Event is one remote-control input.
type Event string

const (
	EventLeft        Event = "left"
	EventRight       Event = "right"
	EventUp          Event = "up"
	EventDown        Event = "down"
	EventSelect      Event = "select"
	EventRewind      Event = "rewind"
	EventFastForward Event = "fast_forward"
	EventMenu        Event = "menu"
	EventBack        Event = "back"
)

// Focus slots on the control row. Thumbnails occupy FocusThumbBase+i.
const (
	FocusExit       = -1
	FocusPrev       = 0
	FocusPlayPause  = 1
	FocusNext       = 2
	FocusRestart    = 3
	FocusLoopToggle = 4
	FocusThumbBase  = 5
)

const (
	controlsVisibleFor = 8 * time.Second
	exitConfirmWindow  = 5 * time.Second

	timerHideControls = "input.hide-controls"
	timerExitConfirm  = "input.exit-confirm"
)

// InputHandler translates remote events into engine actions. Focus moves
// across {exit, prev, play-pause, next, restart, loop-toggle} and a
// thumbnail row below it. The mutex covers the focus and overlay state,
// which the hide-controls and exit-confirm timers mutate from their own
// goroutines. The OnExit and OnConfirmRequired callbacks run with the
// lock held and must not call back into the handler.
type InputHandler struct {
	engine *Engine
	timers *TimerSet
	clock  func() time.Time

	// OnExit runs when the user leaves the playback screen.
	OnExit func()
	// OnConfirmRequired surfaces the exit-confirmation prompt for a
	// protected session.
	OnConfirmRequired func()

	mu              sync.Mutex
	focus           int
	lastThumb       int
	lastControl     int
	controlsVisible bool
	confirmPending  bool
	detached        bool
}

// NewInputHandler binds a handler to an engine. The timer set is shared
// with the owning session so one teardown cancels everything.
func NewInputHandler(engine *Engine, timers *TimerSet) *InputHandler {
	return &InputHandler{
		engine:      engine,
		timers:      timers,
		clock:       time.Now,
		focus:       FocusPlayPause,
		lastThumb:   FocusThumbBase,
		lastControl: FocusPlayPause,
	}
}

// Focus returns the current focus index.
func (h *InputHandler) Focus() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focus
}

// ControlsVisible reports whether the control overlay is showing.
func (h *InputHandler) ControlsVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controlsVisible
}

// ConfirmPending reports whether an exit confirmation is awaited.
func (h *InputHandler) ConfirmPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.confirmPending
}

// Detach disables the handler. Events after Detach are dropped and its
// timers are cancelled.
func (h *InputHandler) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	h.timers.Cancel(timerHideControls)
	h.timers.Cancel(timerExitConfirm)
}

// Handle processes one remote event.
func (h *InputHandler) Handle(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}

	switch ev {
	case EventLeft:
		h.showControls()
		h.moveFocus(-1)
	case EventRight:
		h.showControls()
		h.moveFocus(+1)
	case EventUp:
		h.showControls()
		h.rowUp()
	case EventDown:
		h.showControls()
		h.rowDown()
	case EventSelect:
		h.showControls()
		h.activate()
	case EventRewind:
		h.engine.Prev(h.clock())
	case EventFastForward:
		h.engine.Next(h.clock())
	case EventMenu:
		if h.controlsVisible {
			h.hideControls()
		} else {
			h.showControls()
		}
	case EventBack:
		h.back()
	}
}

func (h *InputHandler) maxFocus() int {
	snap := h.engine.Snapshot()
	if snap.TotalSlides == 0 {
		return FocusLoopToggle
	}
	return FocusThumbBase + snap.TotalSlides - 1
}

func (h *InputHandler) moveFocus(delta int) {
	next := h.focus + delta
	if next < FocusExit {
		next = FocusExit
	}
	if max := h.maxFocus(); next > max {
		next = max
	}
	h.focus = next
}

func (h *InputHandler) rowDown() {
	if h.focus >= FocusThumbBase {
		return
	}
	if h.maxFocus() < FocusThumbBase {
		return
	}
	h.lastControl = h.focus
	h.focus = h.lastThumb
	if max := h.maxFocus(); h.focus > max {
		h.focus = max
	}
}

func (h *InputHandler) rowUp() {
	if h.focus < FocusThumbBase {
		return
	}
	h.lastThumb = h.focus
	h.focus = h.lastControl
}

func (h *InputHandler) activate() {
	now := h.clock()
	switch {
	case h.focus == FocusExit:
		h.exit()
	case h.focus == FocusPrev:
		h.engine.Prev(now)
	case h.focus == FocusPlayPause:
		if h.engine.Snapshot().State == StatePlaying {
			h.engine.Pause()
		} else {
			h.engine.Play(now)
		}
	case h.focus == FocusNext:
		h.engine.Next(now)
	case h.focus == FocusRestart:
		h.engine.Restart(now)
	case h.focus == FocusLoopToggle:
		h.engine.ToggleLoop()
	case h.focus >= FocusThumbBase:
		h.engine.GoTo(now, h.focus-FocusThumbBase)
	}
}

// back exits the playback screen. A looping, playing, assignment-forced
// session demands a second back (or explicit confirm) first, so a stray
// remote signal cannot blank an unattended kiosk.
func (h *InputHandler) back() {
	snap := h.engine.Snapshot()
	protected := h.engine.Forced() && snap.Looping && snap.State == StatePlaying
	if !protected {
		h.exit()
		return
	}
	if h.confirmPending {
		h.exit()
		return
	}
	h.confirmPending = true
	if h.OnConfirmRequired != nil {
		h.OnConfirmRequired()
	}
	h.timers.Start(timerExitConfirm, exitConfirmWindow, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.confirmPending = false
	})
}

// ConfirmExit completes a pending protected exit.
func (h *InputHandler) ConfirmExit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.confirmPending {
		return
	}
	h.exit()
}

// CancelExit abandons a pending protected exit.
func (h *InputHandler) CancelExit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmPending = false
	h.timers.Cancel(timerExitConfirm)
}

func (h *InputHandler) exit() {
	h.confirmPending = false
	h.timers.Cancel(timerExitConfirm)
	if h.OnExit != nil {
		h.OnExit()
	}
}

func (h *InputHandler) showControls() {
	h.controlsVisible = true
	h.timers.Start(timerHideControls, controlsVisibleFor, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.controlsVisible = false
	})
}

func (h *InputHandler) hideControls() {
	h.controlsVisible = false
	h.timers.Cancel(timerHideControls)
}
