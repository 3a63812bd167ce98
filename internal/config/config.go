// ABOUTME: Configuration loading and parsing for the coordinator and the kiosk agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// CoordinatorConfig represents the complete coordinator configuration.
type CoordinatorConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds registration token configuration.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
}

// PresenceConfig holds the presence derivation thresholds.
type PresenceConfig struct {
	OnlineThreshold time.Duration `yaml:"-"`
	IdleThreshold   time.Duration `yaml:"-"`

	OnlineThresholdRaw string `yaml:"online_threshold"`
	IdleThresholdRaw   string `yaml:"idle_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentConfig represents the complete kiosk agent configuration.
// Every tuning knob of the sync protocol is named here; the defaults match
// the fleet-wide values and none of them is a protocol invariant.
type AgentConfig struct {
	Server   AgentServerConfig `yaml:"server"`
	Device   DeviceConfig      `yaml:"device"`
	Timing   TimingConfig      `yaml:"timing"`
	Playback PlaybackConfig    `yaml:"playback"`
	Logging  LoggingConfig     `yaml:"logging"`
}

// AgentServerConfig points the agent at its coordinator.
type AgentServerConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// DeviceConfig identifies this kiosk.
type DeviceConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	AppVersion  string `yaml:"app_version"`
}

// TimingConfig holds the agent's poll and retry cadence.
type TimingConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatMaxFails int           `yaml:"heartbeat_max_fails"`
	HeartbeatCooldown time.Duration `yaml:"-"`
	AssignmentPoll    time.Duration `yaml:"-"`
	DefaultPoll       time.Duration `yaml:"-"`
	SettleDelay       time.Duration `yaml:"-"`
	AutoLaunchDwell   time.Duration `yaml:"-"`
	PromptVisibility  time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatCooldownRaw string `yaml:"heartbeat_cooldown"`
	AssignmentPollRaw    string `yaml:"assignment_poll"`
	DefaultPollRaw       string `yaml:"default_poll"`
	SettleDelayRaw       string `yaml:"settle_delay"`
	AutoLaunchDwellRaw   string `yaml:"auto_launch_dwell"`
	PromptVisibilityRaw  string `yaml:"prompt_visibility"`
}

// PlaybackConfig holds the playback engine's self-healing knobs.
type PlaybackConfig struct {
	SlideTick      time.Duration `yaml:"-"`
	WatchdogTick   time.Duration `yaml:"-"`
	StallThreshold time.Duration `yaml:"-"`
	FinishedGrace  time.Duration `yaml:"-"`

	DegradedLoopThreshold int `yaml:"degraded_loop_threshold"`
	CacheDropEveryLoops   int `yaml:"cache_drop_every_loops"`

	SlideTickRaw      string `yaml:"slide_tick"`
	WatchdogTickRaw   string `yaml:"watchdog_tick"`
	StallThresholdRaw string `yaml:"stall_threshold"`
	FinishedGraceRaw  string `yaml:"finished_grace"`
}

// LoadCoordinator reads a coordinator configuration file from the given path.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadCoordinator(path string) (*CoordinatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg CoordinatorConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDuration(&cfg.Presence.OnlineThreshold, cfg.Presence.OnlineThresholdRaw, 2*time.Minute, "presence.online_threshold"); err != nil {
		return nil, err
	}
	if err := parseDuration(&cfg.Presence.IdleThreshold, cfg.Presence.IdleThresholdRaw, 10*time.Minute, "presence.idle_threshold"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required coordinator fields are present.
func (c *CoordinatorConfig) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Presence.OnlineThreshold >= c.Presence.IdleThreshold {
		return fmt.Errorf("presence.online_threshold must be below presence.idle_threshold")
	}
	return nil
}

// LoadAgent reads an agent configuration file from the given path.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *AgentConfig) applyDefaults() error {
	durations := []struct {
		dst  *time.Duration
		raw  string
		def  time.Duration
		name string
	}{
		{&c.Server.RequestTimeout, c.Server.RequestTimeoutRaw, 30 * time.Second, "server.request_timeout"},
		{&c.Timing.HeartbeatInterval, c.Timing.HeartbeatIntervalRaw, 30 * time.Second, "timing.heartbeat_interval"},
		{&c.Timing.HeartbeatCooldown, c.Timing.HeartbeatCooldownRaw, 5 * time.Second, "timing.heartbeat_cooldown"},
		{&c.Timing.AssignmentPoll, c.Timing.AssignmentPollRaw, 15 * time.Second, "timing.assignment_poll"},
		{&c.Timing.DefaultPoll, c.Timing.DefaultPollRaw, 30 * time.Second, "timing.default_poll"},
		{&c.Timing.SettleDelay, c.Timing.SettleDelayRaw, 1500 * time.Millisecond, "timing.settle_delay"},
		{&c.Timing.AutoLaunchDwell, c.Timing.AutoLaunchDwellRaw, 30 * time.Second, "timing.auto_launch_dwell"},
		{&c.Timing.PromptVisibility, c.Timing.PromptVisibilityRaw, 10 * time.Second, "timing.prompt_visibility"},
		{&c.Playback.SlideTick, c.Playback.SlideTickRaw, 100 * time.Millisecond, "playback.slide_tick"},
		{&c.Playback.WatchdogTick, c.Playback.WatchdogTickRaw, 30 * time.Second, "playback.watchdog_tick"},
		{&c.Playback.StallThreshold, c.Playback.StallThresholdRaw, 120 * time.Second, "playback.stall_threshold"},
		{&c.Playback.FinishedGrace, c.Playback.FinishedGraceRaw, 5 * time.Second, "playback.finished_grace"},
	}
	for _, d := range durations {
		if err := parseDuration(d.dst, d.raw, d.def, d.name); err != nil {
			return err
		}
	}

	if c.Timing.HeartbeatMaxFails == 0 {
		c.Timing.HeartbeatMaxFails = 5
	}
	if c.Playback.DegradedLoopThreshold == 0 {
		c.Playback.DegradedLoopThreshold = 10
	}
	if c.Playback.CacheDropEveryLoops == 0 {
		c.Playback.CacheDropEveryLoops = 5
	}
	if c.Device.AppVersion == "" {
		c.Device.AppVersion = "dev"
	}
	return nil
}

// Validate checks that all required agent fields are present.
func (c *AgentConfig) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDuration fills dst from a raw duration string, falling back to def
// when the raw value is empty.
func parseDuration(dst *time.Duration, raw string, def time.Duration, name string) error {
	if raw == "" {
		*dst = def
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}
