// ABOUTME: Entry point for the kiosk-agent display daemon
// ABOUTME: Runs the heartbeat, push channel, resolver and playback loops

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/jackpot9800/kiosksync/internal/agent"
	"github.com/jackpot9800/kiosksync/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the agent config file.
// Priority: KIOSK_AGENT_CONFIG env var > XDG_CONFIG_HOME/kiosksync/agent.yaml > ~/.config/kiosksync/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("KIOSK_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "kiosksync", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: kiosk-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run    Start the agent")
		fmt.Println("  init   Create a new config file interactively")
		os.Exit(1)
	}

	// Local overrides for development; missing file is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	gray.Printf("kiosk-agent %s\n", version)
	green.Print("  ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("Device:      %s\n", cfg.Device.ID)
	green.Print("  ▶ ")
	fmt.Printf("Coordinator: %s\n", cfg.Server.BaseURL)
	fmt.Println()

	logger.Info("starting kiosk-agent",
		"config", configPath,
		"device_id", cfg.Device.ID,
		"coordinator", cfg.Server.BaseURL,
	)

	a := agent.New(cfg, nil, logger)
	return a.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("kiosk-agent configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Coordinator ---")
	baseURL := prompt(reader, "Coordinator base URL", "http://localhost:8080")
	wsURL := prompt(reader, "Push channel URL (empty to disable)", "ws://localhost:8080/ws")

	fmt.Println("\n--- Device ---")
	hostname, _ := os.Hostname()
	deviceID := prompt(reader, "Device ID", hostname)
	displayName := prompt(reader, "Display name", deviceID)

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# kiosk-agent configuration\n")
	cfg.WriteString("# Generated by kiosk-agent init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	if wsURL != "" {
		cfg.WriteString(fmt.Sprintf("  ws_url: \"%s\"\n", wsURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("device:\n")
	cfg.WriteString(fmt.Sprintf("  id: \"%s\"\n", deviceID))
	cfg.WriteString(fmt.Sprintf("  display_name: \"%s\"\n", displayName))
	cfg.WriteString("\n")

	cfg.WriteString("timing:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("  assignment_poll: \"15s\"\n")
	cfg.WriteString("  default_poll: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the agent:")
	fmt.Printf("  kiosk-agent run\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
