// ABOUTME: Presence reporter: periodic heartbeat loop that reports device
// ABOUTME: status and drains pending commands, with failure backoff.

package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReporterConfig carries the heartbeat loop's tuning knobs.
type ReporterConfig struct {
	Interval time.Duration
	MaxFails int
	Cooldown time.Duration
}

// Reporter drives the heartbeat loop. Each successful beat doubles as
// the pull half of command delivery: the coordinator's response carries
// pending commands in creation order, and the reporter hands them to the
// executor one by one. Consecutive failures past the limit pause the
// loop for a cooldown before resuming, so a dead coordinator costs a
// bounded amount of log noise and battery.
type Reporter struct {
	client   *Client
	exec     *Executor
	snapshot func() Snapshot
	cfg      ReporterConfig
	logger   *slog.Logger
	mirror   StatusMirror

	mu          sync.Mutex
	fails       int
	lastSuccess time.Time
}

// StatusMirror receives the snapshot that accompanied a successful beat,
// so observers on another channel can see the same status the
// coordinator just did.
type StatusMirror interface {
	SendStatus(snap Snapshot)
}

// SetStatusMirror attaches an optional snapshot observer. Call before Run.
func (r *Reporter) SetStatusMirror(m StatusMirror) {
	r.mirror = m
}

// NewReporter builds a heartbeat reporter. snapshot is polled before
// every beat for the current device status.
func NewReporter(client *Client, exec *Executor, snapshot func() Snapshot, cfg ReporterConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		client:   client,
		exec:     exec,
		snapshot: snapshot,
		cfg:      cfg,
		logger:   logger.With("component", "reporter"),
	}
}

// Run beats until the context is cancelled. The first beat fires
// immediately so a freshly started agent shows up without waiting a
// full interval.
func (r *Reporter) Run(ctx context.Context) error {
	r.beat(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.beat(ctx)
			if r.failCount() >= r.cfg.MaxFails {
				r.logger.Warn("heartbeat failing repeatedly, cooling down",
					"consecutive_failures", r.failCount(),
					"cooldown", r.cfg.Cooldown)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.cfg.Cooldown):
				}
				r.resetFails()
				ticker.Reset(r.cfg.Interval)
			}
		}
	}
}

func (r *Reporter) beat(ctx context.Context) {
	snap := r.snapshot()
	result, err := r.client.SendHeartbeat(ctx, snap)
	if err != nil {
		r.mu.Lock()
		r.fails++
		fails := r.fails
		r.mu.Unlock()
		r.logger.Warn("heartbeat failed", "error", err, "consecutive_failures", fails)
		return
	}

	r.mu.Lock()
	r.fails = 0
	r.lastSuccess = time.Now()
	r.mu.Unlock()

	if r.mirror != nil {
		r.mirror.SendStatus(snap)
	}

	if len(result.Commands) > 0 {
		r.logger.Info("heartbeat delivered commands", "count", len(result.Commands))
	}
	for _, cmd := range result.Commands {
		r.exec.Execute(ctx, cmd)
	}
}

func (r *Reporter) failCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fails
}

func (r *Reporter) resetFails() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails = 0
}

// LastSuccess returns when the coordinator last accepted a beat. A zero
// time means it never has.
func (r *Reporter) LastSuccess() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess
}
