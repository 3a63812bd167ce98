// ABOUTME: Assignment resolver: polls for assignments and default
// ABOUTME: presentations, enforcing that an assignment always wins.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackpot9800/kiosksync/internal/playback"
)

// Timer keys owned by the resolver.
const (
	timerSettle     = "resolver.settle"
	timerAutoLaunch = "resolver.auto-launch"
	timerPrompt     = "resolver.prompt"
)

// ResolverConfig carries the resolver's tuning knobs.
type ResolverConfig struct {
	AssignmentPoll   time.Duration
	DefaultPoll      time.Duration
	SettleDelay      time.Duration
	AutoLaunchDwell  time.Duration
	PromptVisibility time.Duration
}

// Resolver decides what the screen should be showing. Assignments
// preempt the default presentation unconditionally: detecting one
// cancels any pending default auto-launch and prompt before the
// assignment's own settle delay even starts, so the assignment wins
// under any interleaving of the two poll loops.
type Resolver struct {
	client *Client
	engine *playback.Engine
	timers *playback.TimerSet
	cfg    ResolverConfig
	logger *slog.Logger

	mu sync.Mutex
	// Each probe loop disables itself permanently when the coordinator
	// answers 404: that is a missing capability, not a transient fault.
	assignmentEnabled bool
	defaultEnabled    bool

	currentAssignmentID string
	promptVisible       bool
	promptedDefaultID   string
	dismissedDefaultID  string

	runCtx context.Context
}

// NewResolver builds a resolver bound to one engine and timer set.
func NewResolver(client *Client, engine *playback.Engine, timers *playback.TimerSet, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:            client,
		engine:            engine,
		timers:            timers,
		cfg:               cfg,
		logger:            logger.With("component", "resolver"),
		assignmentEnabled: true,
		defaultEnabled:    true,
	}
}

// Run polls both endpoints until the context is cancelled. Both probes
// fire immediately on startup.
func (r *Resolver) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	r.pollAssignment(ctx)
	r.pollDefault(ctx)

	assignTicker := time.NewTicker(r.cfg.AssignmentPoll)
	defer assignTicker.Stop()
	defaultTicker := time.NewTicker(r.cfg.DefaultPoll)
	defer defaultTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-assignTicker.C:
			r.pollAssignment(ctx)
		case <-defaultTicker.C:
			r.pollDefault(ctx)
		}
	}
}

func (r *Resolver) pollAssignment(ctx context.Context) {
	r.mu.Lock()
	enabled := r.assignmentEnabled
	r.mu.Unlock()
	if !enabled {
		return
	}

	a, err := r.client.ProbeAssignment(ctx)
	if errors.Is(err, ErrEndpointNotFound) {
		r.mu.Lock()
		r.assignmentEnabled = false
		r.mu.Unlock()
		r.logger.Warn("assignment endpoint not available, disabling poll")
		return
	}
	if err != nil {
		r.logger.Warn("assignment probe failed", "error", err)
		return
	}
	if a == nil {
		return
	}
	r.applyAssignment(a)
}

func (r *Resolver) applyAssignment(a *Assignment) {
	// An assignment already seen still needs a relaunch if its session is
	// not alive: a launch that died on a transient fetch failure gets
	// retried on the next poll instead of parking the screen on an error.
	snap := r.engine.Snapshot()
	sessionLive := snap.PresentationID == a.PresentationID &&
		snap.State != playback.StateIdle && snap.State != playback.StateError

	r.mu.Lock()
	if a.ID == r.currentAssignmentID && sessionLive {
		r.mu.Unlock()
		return
	}
	relaunch := a.ID == r.currentAssignmentID
	r.currentAssignmentID = a.ID
	r.promptVisible = false
	r.mu.Unlock()

	// Preempt the default before anything else can fire.
	r.timers.Cancel(timerAutoLaunch)
	r.timers.Cancel(timerPrompt)

	if relaunch {
		r.logger.Warn("assignment session not running, relaunching",
			"assignment_id", a.ID,
			"presentation_id", a.PresentationID,
			"engine_state", string(snap.State))
	} else {
		r.logger.Info("assignment detected",
			"assignment_id", a.ID,
			"presentation_id", a.PresentationID)
	}

	assignmentID := a.ID
	presentationID := a.PresentationID
	r.timers.Start(timerSettle, r.cfg.SettleDelay, func() {
		r.launch(presentationID, true)
		r.markViewed(assignmentID)
	})
}

// ForceAssignment launches an assignment session directly, bypassing
// the poll. The assign_presentation command lands here so poll and push
// deliveries produce the identical session.
func (r *Resolver) ForceAssignment(_ context.Context, presentationID string) {
	r.mu.Lock()
	// A pushed assignment carries no assignment row, but it is still an
	// assignment session: record a marker so the default poll stays
	// suppressed until a polled assignment supersedes it.
	r.currentAssignmentID = "command:" + presentationID
	r.promptVisible = false
	r.mu.Unlock()

	r.timers.Cancel(timerAutoLaunch)
	r.timers.Cancel(timerPrompt)
	r.timers.Cancel(timerSettle)
	r.launch(presentationID, true)
}

func (r *Resolver) pollDefault(ctx context.Context) {
	r.mu.Lock()
	enabled := r.defaultEnabled
	hasAssignment := r.currentAssignmentID != ""
	r.mu.Unlock()
	if !enabled || hasAssignment {
		return
	}

	p, err := r.client.ProbeDefault(ctx)
	if errors.Is(err, ErrEndpointNotFound) {
		r.mu.Lock()
		r.defaultEnabled = false
		r.mu.Unlock()
		r.logger.Warn("default presentation endpoint not available, disabling poll")
		return
	}
	if err != nil {
		r.logger.Warn("default presentation probe failed", "error", err)
		return
	}
	if p == nil {
		return
	}
	r.offerDefault(p)
}

func (r *Resolver) offerDefault(p *DefaultPresentation) {
	snap := r.engine.Snapshot()
	if snap.PresentationID == p.ID && (snap.State == playback.StatePlaying || snap.State == playback.StatePaused) {
		return
	}

	r.mu.Lock()
	if r.currentAssignmentID != "" || r.promptedDefaultID == p.ID || r.dismissedDefaultID == p.ID {
		r.mu.Unlock()
		return
	}
	r.promptedDefaultID = p.ID
	r.promptVisible = true
	r.mu.Unlock()

	r.logger.Info("default presentation offered", "presentation_id", p.ID, "name", p.Name)

	// The visibility timeout hides the prompt but leaves the
	// auto-launch armed. Only dismissal or an assignment cancels it.
	r.timers.Start(timerPrompt, r.cfg.PromptVisibility, func() {
		r.mu.Lock()
		r.promptVisible = false
		r.mu.Unlock()
	})

	presentationID := p.ID
	r.timers.Start(timerAutoLaunch, r.cfg.AutoLaunchDwell, func() {
		r.logger.Info("default auto-launch firing", "presentation_id", presentationID)
		r.launch(presentationID, false)
	})
}

// DismissPrompt is the user declining the default offer. It cancels the
// pending auto-launch, unlike the visibility timeout.
func (r *Resolver) DismissPrompt() {
	r.mu.Lock()
	r.promptVisible = false
	r.dismissedDefaultID = r.promptedDefaultID
	r.promptedDefaultID = ""
	r.mu.Unlock()

	r.timers.Cancel(timerPrompt)
	r.timers.Cancel(timerAutoLaunch)
}

// LaunchDefaultNow is the user accepting the default offer.
func (r *Resolver) LaunchDefaultNow() {
	r.mu.Lock()
	presentationID := r.promptedDefaultID
	r.promptVisible = false
	r.mu.Unlock()
	if presentationID == "" {
		return
	}

	r.timers.Cancel(timerPrompt)
	r.timers.Cancel(timerAutoLaunch)
	r.launch(presentationID, false)
}

// PromptVisible reports whether the default-presentation prompt is
// currently showing.
func (r *Resolver) PromptVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promptVisible
}

// launch opens a playback session. Assignments and auto-launched
// defaults both play looped and unattended; only assignments carry the
// forced flag that guards exit and Finished recovery.
func (r *Resolver) launch(presentationID string, forced bool) {
	ctx := r.launchContext()
	opts := playback.Options{AutoPlay: true, Loop: true, Forced: forced}
	if err := r.engine.Open(ctx, presentationID, opts, time.Now()); err != nil {
		r.logger.Error("launch failed", "presentation_id", presentationID, "error", err)
	}
}

func (r *Resolver) markViewed(assignmentID string) {
	ctx := r.launchContext()
	if err := r.client.MarkAssignmentViewed(ctx, assignmentID); err != nil {
		r.logger.Debug("marking assignment viewed failed", "assignment_id", assignmentID, "error", err)
	}
}

func (r *Resolver) launchContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != nil {
		return r.runCtx
	}
	return context.Background()
}
