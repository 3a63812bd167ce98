// ABOUTME: Agent wiring: composes the client, reporter, executor, push
// ABOUTME: channel, resolver and playback engine into one running session.

package agent

import (
	"context"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/jackpot9800/kiosksync/internal/config"
	"github.com/jackpot9800/kiosksync/internal/playback"
)

// Timer keys owned by the agent itself.
const (
	timerSlideTick = "agent.slide-tick"
	timerWatchdog  = "agent.watchdog"
)

// Agent is one running kiosk session: every loop, timer and socket it
// owns is torn down by a single Close.
type Agent struct {
	cfg      *config.AgentConfig
	client   *Client
	engine   *playback.Engine
	exec     *Executor
	reporter *Reporter
	resolver *Resolver
	push     *PushClient
	timers   *playback.TimerSet
	input    *playback.InputHandler
	logger   *slog.Logger

	startedAt time.Time
}

// New wires an agent from configuration. Platform may be nil, which
// leaves reboot and update commands as acknowledged no-ops.
func New(cfg *config.AgentConfig, platform Platform, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}

	client := NewClient(
		cfg.Server.BaseURL,
		cfg.Device.ID,
		cfg.Device.DisplayName,
		cfg.Device.AppVersion,
		cfg.Server.RequestTimeout,
		logger,
	)

	engine := playback.NewEngine(playback.Config{
		SlideTick:             cfg.Playback.SlideTick,
		WatchdogTick:          cfg.Playback.WatchdogTick,
		StallThreshold:        cfg.Playback.StallThreshold,
		FinishedGrace:         cfg.Playback.FinishedGrace,
		DegradedLoopThreshold: cfg.Playback.DegradedLoopThreshold,
		CacheDropEveryLoops:   cfg.Playback.CacheDropEveryLoops,
	}, client, logger)

	timers := playback.NewTimerSet()
	exec := NewExecutor(client, engine, platform, logger)
	resolver := NewResolver(client, engine, timers, ResolverConfig{
		AssignmentPoll:   cfg.Timing.AssignmentPoll,
		DefaultPoll:      cfg.Timing.DefaultPoll,
		SettleDelay:      cfg.Timing.SettleDelay,
		AutoLaunchDwell:  cfg.Timing.AutoLaunchDwell,
		PromptVisibility: cfg.Timing.PromptVisibility,
	}, logger)
	exec.SetAssignFunc(resolver.ForceAssignment)

	push := NewPushClient(cfg.Server.WSURL, cfg.Device.ID, exec, logger)
	exec.SetNotifier(push)

	a := &Agent{
		cfg:       cfg,
		client:    client,
		engine:    engine,
		exec:      exec,
		resolver:  resolver,
		push:      push,
		timers:    timers,
		input:     playback.NewInputHandler(engine, timers),
		logger:    logger.With("component", "agent"),
		startedAt: time.Now(),
	}
	a.reporter = NewReporter(client, exec, a.Snapshot, ReporterConfig{
		Interval: cfg.Timing.HeartbeatInterval,
		MaxFails: cfg.Timing.HeartbeatMaxFails,
		Cooldown: cfg.Timing.HeartbeatCooldown,
	}, logger)
	a.reporter.SetStatusMirror(push)
	a.input.OnExit = func() {
		a.engine.Stop()
	}
	return a
}

// Engine exposes the playback engine, mainly for the UI layer.
func (a *Agent) Engine() *playback.Engine { return a.engine }

// Input exposes the remote input handler.
func (a *Agent) Input() *playback.InputHandler { return a.input }

// Resolver exposes the assignment resolver for prompt interactions.
func (a *Agent) Resolver() *Resolver { return a.resolver }

// Run starts every loop and blocks until the context is cancelled. The
// playback tick and watchdog run here too, so the engine never needs
// goroutines of its own.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"device_id", a.cfg.Device.ID,
		"coordinator", a.cfg.Server.BaseURL)

	a.exec.ResetSession()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("loop exited", "loop", name, "error", err)
			}
		}()
	}

	run("reporter", a.reporter.Run)
	run("resolver", a.resolver.Run)
	if a.cfg.Server.WSURL != "" {
		run("push", a.push.Run)
	}
	run("playback", a.runPlaybackTicks)

	<-ctx.Done()
	wg.Wait()
	a.teardown()
	return ctx.Err()
}

func (a *Agent) runPlaybackTicks(ctx context.Context) error {
	slide := time.NewTicker(a.cfg.Playback.SlideTick)
	defer slide.Stop()
	watchdog := time.NewTicker(a.cfg.Playback.WatchdogTick)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-slide.C:
			a.engine.Tick(now)
		case now := <-watchdog.C:
			a.engine.CheckStall(now)
		}
	}
}

// teardown cancels every timer and detaches input. Nothing owned by
// this session may fire afterwards.
func (a *Agent) teardown() {
	a.input.Detach()
	a.timers.Stop()
	a.engine.Stop()
	a.logger.Info("agent stopped")
}

// Snapshot assembles the status block reported with each heartbeat.
func (a *Agent) Snapshot() Snapshot {
	es := a.engine.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryPct := 0.0
	if mem.Sys > 0 {
		memoryPct = float64(mem.HeapAlloc) / float64(mem.Sys) * 100
	}

	return Snapshot{
		Status:                  string(es.State),
		CurrentPresentationID:   es.PresentationID,
		CurrentPresentationName: es.PresentationName,
		SlideIndex:              es.SlideIndex,
		TotalSlides:             es.TotalSlides,
		IsLooping:               es.Looping,
		AutoPlay:                es.AutoPlay,
		UptimeSeconds:           int64(time.Since(a.startedAt).Seconds()),
		MemoryPct:               memoryPct,
		LocalIP:                 localIP(),
		// WifiPct and ExternalIP stay zero: signal strength needs a
		// platform radio API this process does not have, and external IP
		// discovery would mean calling out to a third-party echo service
		// on every beat. The wire fields exist for agents that can fill
		// them.
	}
}

// localIP returns the first non-loopback IPv4 address, or empty.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
