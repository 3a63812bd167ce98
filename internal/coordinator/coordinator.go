// ABOUTME: Coordinator wiring: store, presence registry, command queue, relay and HTTP server.
// ABOUTME: Owns the route table and the serve/shutdown lifecycle.

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackpot9800/kiosksync/internal/auth"
	"github.com/jackpot9800/kiosksync/internal/command"
	"github.com/jackpot9800/kiosksync/internal/config"
	"github.com/jackpot9800/kiosksync/internal/presence"
	"github.com/jackpot9800/kiosksync/internal/relay"
	"github.com/jackpot9800/kiosksync/internal/store"
)

// Coordinator serves the fleet: heartbeat intake, command queue, assignment
// distribution and the push relay.
type Coordinator struct {
	config   *config.CoordinatorConfig
	store    store.Store
	presence *presence.Registry
	queue    *command.Queue
	relay    *relay.Hub
	tokens   *auth.TokenIssuer
	server   *http.Server
	logger   *slog.Logger
}

// New creates a Coordinator from the given configuration.
func New(cfg *config.CoordinatorConfig, logger *slog.Logger) (*Coordinator, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	queue := command.NewQueue(st, logger)
	thresholds := presence.Thresholds{
		Online: cfg.Presence.OnlineThreshold,
		Idle:   cfg.Presence.IdleThreshold,
	}

	c := &Coordinator{
		config:   cfg,
		store:    st,
		presence: presence.NewRegistry(st, thresholds, logger),
		queue:    queue,
		relay:    relay.NewHub(queue, logger),
		logger:   logger.With("component", "coordinator"),
	}

	if cfg.Auth.TokenSecret != "" {
		c.tokens = auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), 0)
	} else {
		logger.Warn("registration tokens disabled - no token_secret configured")
	}

	mux := http.NewServeMux()
	c.registerRoutes(mux)

	c.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return c, nil
}

func (c *Coordinator) registerRoutes(mux *http.ServeMux) {
	// Device-facing protocol
	mux.HandleFunc("POST /api/device/heartbeat", c.handleHeartbeat)
	mux.HandleFunc("POST /api/device/commands/ack", c.handleCommandAck)
	mux.HandleFunc("GET /api/device/assignment", c.handleAssignmentProbe)
	mux.HandleFunc("GET /api/device/default-presentation", c.handleDefaultProbe)
	mux.HandleFunc("POST /api/device/assignment/viewed", c.handleAssignmentViewed)
	mux.HandleFunc("GET /api/presentations/{id}", c.handleGetPresentation)

	// Push channel
	mux.HandleFunc("/ws", c.relay.ServeWS)

	// Operator surface
	mux.HandleFunc("GET /api/devices", c.handleListDevices)
	mux.HandleFunc("POST /api/devices/{id}/commands", c.handleEnqueueCommand)
	mux.HandleFunc("POST /api/devices/{id}/assignment", c.handleCreateAssignment)
	mux.HandleFunc("PUT /api/default-presentation", c.handleSetDefault)
	mux.HandleFunc("POST /api/presentations", c.handleCreatePresentation)

	mux.HandleFunc("GET /health", c.handleHealth)
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (c *Coordinator) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("coordinator listening", "addr", c.server.Addr)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return c.store.Close()
}

// Handler exposes the route table for tests.
func (c *Coordinator) Handler() http.Handler {
	return c.server.Handler
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (c *Coordinator) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Error("encoding response", "error", err)
	}
}

func (c *Coordinator) writeError(w http.ResponseWriter, status int, msg string) {
	c.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
