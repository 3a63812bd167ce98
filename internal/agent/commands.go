// ABOUTME: Command channel: executes remote commands exactly once per session
// ABOUTME: and acknowledges over HTTP regardless of which channel delivered them.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackpot9800/kiosksync/internal/command"
	"github.com/jackpot9800/kiosksync/internal/playback"
)

// Terminal statuses reported on the ack path.
const (
	statusExecuted = "executed"
	statusFailed   = "failed"
)

// Platform abstracts device-level operations the agent cannot perform
// in-process.
type Platform interface {
	Reboot(ctx context.Context) error
	UpdateApp(ctx context.Context) error
}

// NoopPlatform ignores platform commands. It is the default on hosts
// without a management hook.
type NoopPlatform struct{}

func (NoopPlatform) Reboot(context.Context) error    { return nil }
func (NoopPlatform) UpdateApp(context.Context) error { return nil }

// ResultNotifier mirrors a command outcome to a secondary channel, such
// as the push socket. HTTP ack remains the authoritative path.
type ResultNotifier interface {
	NotifyCommandResult(commandID, kind, status, result string)
}

// Executor applies remote commands to the playback session. Commands
// arrive at least once, from the heartbeat poll and the push channel
// concurrently, so the executor collapses duplicates with a per-session
// executed set keyed by command id.
type Executor struct {
	client   *Client
	engine   *playback.Engine
	platform Platform
	logger   *slog.Logger
	clock    func() time.Time

	// assign launches an assignment session; wired by the agent to the
	// resolver so push-delivered assignments follow the same path as
	// polled ones.
	assign func(ctx context.Context, presentationID string)

	// notifier is optional and may change as the push socket
	// reconnects.
	mu       sync.Mutex
	executed map[string]bool
	notifier ResultNotifier
}

// NewExecutor builds a command executor for one agent session.
func NewExecutor(client *Client, engine *playback.Engine, platform Platform, logger *slog.Logger) *Executor {
	if platform == nil {
		platform = NoopPlatform{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:   client,
		engine:   engine,
		platform: platform,
		logger:   logger.With("component", "commands"),
		clock:    time.Now,
		executed: make(map[string]bool),
	}
}

// SetAssignFunc wires the assignment launch path.
func (e *Executor) SetAssignFunc(fn func(ctx context.Context, presentationID string)) {
	e.assign = fn
}

// SetNotifier installs or clears the secondary result channel.
func (e *Executor) SetNotifier(n ResultNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// ResetSession clears the executed set. Called when a new agent session
// starts; command ids are only deduplicated within one session.
func (e *Executor) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = make(map[string]bool)
}

// Execute runs one command and acknowledges it. A command id already
// seen this session is dropped without re-execution or re-ack; the
// coordinator's ack handling is idempotent either way.
func (e *Executor) Execute(ctx context.Context, cmd Command) {
	e.mu.Lock()
	if e.executed[cmd.ID] {
		e.mu.Unlock()
		e.logger.Debug("dropping duplicate command", "command_id", cmd.ID, "kind", cmd.Kind)
		return
	}
	e.executed[cmd.ID] = true
	e.mu.Unlock()

	status := statusExecuted
	result := ""
	if err := e.apply(ctx, cmd); err != nil {
		status = statusFailed
		result = err.Error()
		e.logger.Error("command failed", "command_id", cmd.ID, "kind", cmd.Kind, "error", err)
	} else {
		e.logger.Info("command executed", "command_id", cmd.ID, "kind", cmd.Kind)
	}

	if err := e.client.AcknowledgeCommand(ctx, cmd.ID, status, result); err != nil {
		e.logger.Warn("command ack failed", "command_id", cmd.ID, "error", err)
	}

	e.mu.Lock()
	n := e.notifier
	e.mu.Unlock()
	if n != nil {
		n.NotifyCommandResult(cmd.ID, cmd.Kind, status, result)
	}
}

func (e *Executor) apply(ctx context.Context, cmd Command) error {
	now := e.clock()
	switch cmd.Kind {
	case command.KindPlay:
		return e.engine.Play(now)
	case command.KindPause:
		return e.engine.Pause()
	case command.KindStop:
		e.engine.Stop()
		return nil
	case command.KindRestart:
		return e.engine.Restart(now)
	case command.KindNextSlide:
		return e.engine.Next(now)
	case command.KindPrevSlide:
		return e.engine.Prev(now)
	case command.KindGotoSlide:
		index, ok := command.SlideIndex(cmd.Parameters)
		if !ok {
			return fmt.Errorf("%w: goto_slide needs slide_index", command.ErrInvalidParams)
		}
		return e.engine.GoTo(now, index)
	case command.KindAssignPresentation:
		presentationID, ok := command.PresentationID(cmd.Parameters)
		if !ok {
			return fmt.Errorf("%w: assign_presentation needs presentation_id", command.ErrInvalidParams)
		}
		if e.assign == nil {
			return fmt.Errorf("no assignment handler installed")
		}
		e.assign(ctx, presentationID)
		return nil
	case command.KindReboot:
		return e.platform.Reboot(ctx)
	case command.KindUpdateApp:
		return e.platform.UpdateApp(ctx)
	default:
		return fmt.Errorf("%w: %s", command.ErrUnknownKind, cmd.Kind)
	}
}
