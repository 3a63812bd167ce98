// ABOUTME: Slide playback state machine: countdown-driven advancement, loop
// ABOUTME: tracking, stall watchdog, and degraded-resource mode for long runs.

package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State identifies where a playback session is in its lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateFinished State = "finished"
	StateError    State = "error"
)

var (
	// ErrNoUsableSlides is returned when a presentation loads but
	// contains no slide with a resolvable media reference. It is a
	// content problem, not a network one.
	ErrNoUsableSlides = errors.New("presentation has no usable slides")

	// ErrNotNavigable is returned for manual navigation attempted
	// while the engine is loading or in the error state.
	ErrNotNavigable = errors.New("session is not navigable")

	// ErrNoSession is returned for operations that need an open
	// presentation when none is open.
	ErrNoSession = errors.New("no open session")
)

// Slide is the agent-side view of one slide in a deck.
type Slide struct {
	ID             string
	ImageReference string
	DurationSec    int
	TransitionType string
}

// Presentation is the agent-side view of a fetched deck.
type Presentation struct {
	ID     string
	Name   string
	Slides []Slide
}

// Loader fetches presentation content for the engine. The agent's
// coordinator client satisfies this.
type Loader interface {
	LoadPresentation(ctx context.Context, id string) (*Presentation, error)
}

// Options control how a session opens.
type Options struct {
	AutoPlay bool
	Loop     bool
	// Forced marks an assignment-driven session. Forced sessions
	// auto-recover from Finished and guard against accidental exit.
	Forced bool
}

// Config carries the engine's tuning knobs.
type Config struct {
	SlideTick             time.Duration
	WatchdogTick          time.Duration
	StallThreshold        time.Duration
	FinishedGrace         time.Duration
	DegradedLoopThreshold int
	CacheDropEveryLoops   int
}

// DefaultConfig returns the production tuning values.
func DefaultConfig() Config {
	return Config{
		SlideTick:             100 * time.Millisecond,
		WatchdogTick:          30 * time.Second,
		StallThreshold:        120 * time.Second,
		FinishedGrace:         5 * time.Second,
		DegradedLoopThreshold: 10,
		CacheDropEveryLoops:   5,
	}
}

// Snapshot is a point-in-time view of the session, shaped for
// heartbeat reporting and UI rendering.
type Snapshot struct {
	State            State
	PresentationID   string
	PresentationName string
	SlideIndex       int
	TotalSlides      int
	Looping          bool
	AutoPlay         bool
	LoopCount        int
	Degraded         bool
}

// Engine runs one playback session at a time. It is driven externally:
// the owner calls Tick at the slide-tick cadence and CheckStall at the
// watchdog cadence. The engine never starts goroutines of its own,
// which keeps every timer under the caller's TimerSet.
type Engine struct {
	cfg    Config
	loader Loader
	logger *slog.Logger

	mu         sync.Mutex
	generation int
	state      State
	pres       *Presentation
	opts       Options
	index      int
	remaining  time.Duration
	loopCount  int
	degraded   bool
	prefetch   bool
	lastTick   time.Time
	lastChange time.Time
	finishedAt time.Time
	lastErr    error

	failedSlides map[string]bool
}

// NewEngine returns an idle engine.
func NewEngine(cfg Config, loader Loader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:          cfg,
		loader:       loader,
		logger:       logger.With("component", "playback"),
		state:        StateIdle,
		failedSlides: make(map[string]bool),
	}
}

// Open loads a presentation and transitions into Playing or Paused
// depending on opts.AutoPlay. A loading failure lands in Error. Opening
// replaces any session already in progress.
func (e *Engine) Open(ctx context.Context, presentationID string, opts Options, now time.Time) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.resetSessionLocked()
	e.state = StateLoading
	e.opts = opts
	e.mu.Unlock()

	pres, err := e.loader.LoadPresentation(ctx, presentationID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		// Superseded by a newer Open or Stop while loading.
		return nil
	}
	if err != nil {
		e.state = StateError
		e.lastErr = fmt.Errorf("load presentation %s: %w", presentationID, err)
		e.logger.Error("presentation load failed", "presentation_id", presentationID, "error", err)
		return e.lastErr
	}
	if !hasUsableSlides(pres) {
		e.state = StateError
		e.lastErr = fmt.Errorf("presentation %s: %w", presentationID, ErrNoUsableSlides)
		e.logger.Error("presentation rejected", "presentation_id", presentationID, "error", ErrNoUsableSlides)
		return e.lastErr
	}

	e.pres = pres
	e.index = 0
	e.remaining = slideDuration(pres.Slides[0])
	e.lastTick = now
	e.lastChange = now
	if opts.AutoPlay {
		e.state = StatePlaying
	} else {
		e.state = StatePaused
	}
	e.prefetch = true
	e.logger.Info("session opened",
		"presentation_id", pres.ID,
		"slides", len(pres.Slides),
		"auto_play", opts.AutoPlay,
		"loop", opts.Loop,
		"forced", opts.Forced)
	return nil
}

func hasUsableSlides(pres *Presentation) bool {
	for _, s := range pres.Slides {
		if s.ImageReference != "" {
			return true
		}
	}
	return false
}

func slideDuration(s Slide) time.Duration {
	sec := s.DurationSec
	if sec < 1 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}

// Tick advances the countdown by the wall time elapsed since the last
// tick. Elapsed time spanning multiple slides advances through each in
// turn, so loop accounting stays exact under a slow ticker.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StatePlaying:
		elapsed := now.Sub(e.lastTick)
		e.lastTick = now
		if elapsed <= 0 {
			return
		}
		e.remaining -= elapsed
		for e.remaining <= 0 && e.state == StatePlaying {
			e.advanceLocked(now)
		}
	case StateFinished:
		if e.opts.Forced && now.Sub(e.finishedAt) >= e.cfg.FinishedGrace {
			e.logger.Info("finished grace elapsed, resuming looped playback")
			e.opts.Loop = true
			e.restartLocked(now)
		}
	default:
		e.lastTick = now
	}
}

func (e *Engine) advanceLocked(now time.Time) {
	carry := e.remaining // negative or zero overshoot into the next slide
	if e.index == len(e.pres.Slides)-1 {
		if e.opts.Loop {
			e.index = 0
			e.loopCount++
			e.afterLoopLocked()
		} else {
			e.state = StateFinished
			e.finishedAt = now
			e.remaining = 0
			e.lastChange = now
			e.logger.Info("deck finished", "presentation_id", e.pres.ID)
			return
		}
	} else {
		e.index++
	}
	e.remaining = slideDuration(e.pres.Slides[e.index]) + carry
	e.lastChange = now
}

func (e *Engine) afterLoopLocked() {
	if !e.degraded && e.loopCount >= e.cfg.DegradedLoopThreshold {
		e.degraded = true
		e.prefetch = false
		e.logger.Warn("entering degraded mode", "loop_count", e.loopCount)
	}
	// The periodic cache drop is part of degraded mode, not normal looping.
	if e.degraded && e.cfg.CacheDropEveryLoops > 0 && e.loopCount%e.cfg.CacheDropEveryLoops == 0 {
		e.failedSlides = make(map[string]bool)
		e.logger.Debug("dropped cached slide state", "loop_count", e.loopCount)
	}
}

// CheckStall is the watchdog probe. A looping session whose slide index
// has not moved within the stall threshold gets a full restart, which is
// logged but never surfaced as a failure.
func (e *Engine) CheckStall(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying || !e.opts.Loop {
		return false
	}
	stalled := now.Sub(e.lastChange)
	if stalled <= e.cfg.StallThreshold {
		return false
	}
	e.logger.Warn("playback stalled, forcing restart",
		"stalled_for", stalled,
		"presentation_id", e.pres.ID)
	e.restartLocked(now)
	return true
}

func (e *Engine) restartLocked(now time.Time) {
	e.index = 0
	e.loopCount = 0
	e.degraded = false
	e.prefetch = true
	e.failedSlides = make(map[string]bool)
	e.remaining = slideDuration(e.pres.Slides[0])
	e.lastTick = now
	e.lastChange = now
	e.state = StatePlaying
}

// Play resumes a paused session. The remaining countdown on the current
// slide is preserved.
func (e *Engine) Play(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StatePaused:
		e.state = StatePlaying
		e.lastTick = now
		return nil
	case StatePlaying:
		return nil
	case StateFinished:
		e.restartLocked(now)
		return nil
	default:
		return ErrNoSession
	}
}

// Pause freezes the countdown.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StatePlaying:
		e.state = StatePaused
		return nil
	case StatePaused:
		return nil
	default:
		return ErrNoSession
	}
}

// Stop tears the session down and returns to Idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.resetSessionLocked()
}

func (e *Engine) resetSessionLocked() {
	e.state = StateIdle
	e.pres = nil
	e.opts = Options{}
	e.index = 0
	e.remaining = 0
	e.loopCount = 0
	e.degraded = false
	e.prefetch = false
	e.lastErr = nil
	e.failedSlides = make(map[string]bool)
}

// Restart returns the session to slide zero as a fresh run.
func (e *Engine) Restart(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pres == nil || e.state == StateLoading || e.state == StateError {
		return ErrNoSession
	}
	e.restartLocked(now)
	return nil
}

// Next advances to the following slide. On the last slide it wraps when
// looping and is a no-op otherwise.
func (e *Engine) Next(now time.Time) error {
	return e.goTo(now, func(cur, n int) int {
		if cur == n-1 {
			if e.opts.Loop {
				return 0
			}
			return cur
		}
		return cur + 1
	})
}

// Prev moves to the preceding slide, wrapping when looping.
func (e *Engine) Prev(now time.Time) error {
	return e.goTo(now, func(cur, n int) int {
		if cur == 0 {
			if e.opts.Loop {
				return n - 1
			}
			return 0
		}
		return cur - 1
	})
}

// GoTo jumps to a specific slide index, clamped to the deck bounds.
func (e *Engine) GoTo(now time.Time, index int) error {
	return e.goTo(now, func(_, n int) int {
		if index < 0 {
			return 0
		}
		if index >= n {
			return n - 1
		}
		return index
	})
}

// goTo applies a manual navigation. Navigation is legal in every state
// except Loading and Error, resets the countdown, and refreshes the
// stall clock. Navigating out of Finished resumes the prior play/pause
// posture.
func (e *Engine) goTo(now time.Time, pick func(cur, total int) int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pres == nil || e.state == StateLoading || e.state == StateError {
		return ErrNotNavigable
	}
	e.index = pick(e.index, len(e.pres.Slides))
	e.remaining = slideDuration(e.pres.Slides[e.index])
	e.lastTick = now
	e.lastChange = now
	if e.state == StateFinished {
		if e.opts.AutoPlay {
			e.state = StatePlaying
		} else {
			e.state = StatePaused
		}
	}
	return nil
}

// ToggleLoop flips loop mode for the current session.
func (e *Engine) ToggleLoop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.Loop = !e.opts.Loop
	return e.opts.Loop
}

// RecordSlideFailure marks one slide's media as failed so the UI can
// render a placeholder. Failures never halt the countdown.
func (e *Engine) RecordSlideFailure(slideID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedSlides[slideID] = true
	e.logger.Warn("slide media failed", "slide_id", slideID)
}

// SlideFailed reports whether a slide was previously marked failed.
func (e *Engine) SlideFailed(slideID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failedSlides[slideID]
}

// PrefetchEnabled reports whether speculative next-slide loading is
// still on. Degraded mode turns it off.
func (e *Engine) PrefetchEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefetch
}

// CurrentSlide returns the slide under the playhead.
func (e *Engine) CurrentSlide() (Slide, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pres == nil || e.index >= len(e.pres.Slides) {
		return Slide{}, false
	}
	return e.pres.Slides[e.index], true
}

// LastError returns the error that put the engine into StateError.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Forced reports whether the open session is assignment-driven.
func (e *Engine) Forced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Forced
}

// Snapshot returns the current session view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:     e.state,
		Looping:   e.opts.Loop,
		AutoPlay:  e.opts.AutoPlay,
		LoopCount: e.loopCount,
		Degraded:  e.degraded,
	}
	if e.pres != nil {
		snap.PresentationID = e.pres.ID
		snap.PresentationName = e.pres.Name
		snap.SlideIndex = e.index
		snap.TotalSlides = len(e.pres.Slides)
	}
	return snap
}
