// ABOUTME: HTTP client for the coordinator's device-facing API: heartbeat,
// ABOUTME: command ack, assignment/default probes, and presentation fetch.

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackpot9800/kiosksync/internal/playback"
)

var (
	// ErrTimeout marks a request that hit the transport deadline. It is
	// retryable and never interrupts ongoing playback.
	ErrTimeout = errors.New("request timed out")

	// ErrEndpointNotFound marks a 404 on a probe endpoint. It means the
	// coordinator lacks the capability, not that the resource is
	// transiently absent, so the caller disables the poll loop.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrProtocol marks a response the client could not interpret.
	ErrProtocol = errors.New("unexpected response")
)

// Command is one remote command delivered to the device.
type Command struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Assignment is the device's view of a coordinator-issued directive.
type Assignment struct {
	ID             string `json:"id"`
	PresentationID string `json:"presentation_id"`
	AutoPlay       bool   `json:"auto_play"`
	LoopMode       bool   `json:"loop_mode"`
	Viewed         bool   `json:"viewed"`
}

// DefaultPresentation is the fallback deck offered when no assignment
// exists.
type DefaultPresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HeartbeatResult carries what the coordinator returned for one beat.
type HeartbeatResult struct {
	Commands          []Command
	RegistrationToken string
}

// Snapshot is the device status reported with each heartbeat.
type Snapshot struct {
	Status                  string  `json:"status"`
	CurrentPresentationID   string  `json:"current_presentation_id,omitempty"`
	CurrentPresentationName string  `json:"current_presentation_name,omitempty"`
	SlideIndex              int     `json:"slide_index"`
	TotalSlides             int     `json:"total_slides"`
	IsLooping               bool    `json:"is_looping"`
	AutoPlay                bool    `json:"auto_play"`
	UptimeSeconds           int64   `json:"uptime_seconds"`
	MemoryPct               float64 `json:"memory_pct"`
	WifiPct                 float64 `json:"wifi_pct"`
	LocalIP                 string  `json:"local_ip,omitempty"`
	ExternalIP              string  `json:"external_ip,omitempty"`
}

// Client talks to the coordinator on behalf of one device. It is safe
// for concurrent use.
type Client struct {
	baseURL     string
	deviceID    string
	displayName string
	appVersion  string
	httpc       *http.Client
	logger      *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient builds a device client. All requests share one bounded
// timeout so a dead coordinator can never wedge the agent's event loop.
func NewClient(baseURL, deviceID, displayName, appVersion string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		deviceID:    deviceID,
		displayName: displayName,
		appVersion:  appVersion,
		httpc:       &http.Client{Timeout: timeout},
		logger:      logger.With("component", "client"),
	}
}

// DeviceID returns the identity this client reports as.
func (c *Client) DeviceID() string { return c.deviceID }

// SetToken installs the registration token minted by the coordinator.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// SendHeartbeat reports the device snapshot and drains pending commands.
func (c *Client) SendHeartbeat(ctx context.Context, snap Snapshot) (*HeartbeatResult, error) {
	body := map[string]any{
		"device_id":                 c.deviceID,
		"display_name":              c.displayName,
		"app_version":               c.appVersion,
		"status":                    snap.Status,
		"current_presentation_id":   snap.CurrentPresentationID,
		"current_presentation_name": snap.CurrentPresentationName,
		"slide_index":               snap.SlideIndex,
		"total_slides":              snap.TotalSlides,
		"is_looping":                snap.IsLooping,
		"auto_play":                 snap.AutoPlay,
		"uptime_seconds":            snap.UptimeSeconds,
		"memory_pct":                snap.MemoryPct,
		"wifi_pct":                  snap.WifiPct,
		"local_ip":                  snap.LocalIP,
		"external_ip":               snap.ExternalIP,
	}

	var resp struct {
		Success           bool      `json:"success"`
		RegistrationToken string    `json:"registration_token"`
		Commands          []Command `json:"commands"`
	}
	if err := c.postJSON(ctx, "/api/device/heartbeat", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("heartbeat rejected: %w", ErrProtocol)
	}
	if resp.RegistrationToken != "" {
		c.SetToken(resp.RegistrationToken)
	}
	return &HeartbeatResult{
		Commands:          resp.Commands,
		RegistrationToken: resp.RegistrationToken,
	}, nil
}

// AcknowledgeCommand reports a command's terminal status. The same ack
// path serves commands regardless of which channel delivered them.
func (c *Client) AcknowledgeCommand(ctx context.Context, commandID, status, result string) error {
	body := map[string]any{
		"device_id":  c.deviceID,
		"command_id": commandID,
		"status":     status,
		"result":     result,
	}
	var resp struct {
		Success bool `json:"success"`
	}
	return c.postJSON(ctx, "/api/device/commands/ack", body, &resp)
}

// ProbeAssignment asks whether this device has an active assignment.
// Returns (nil, nil) when none exists.
func (c *Client) ProbeAssignment(ctx context.Context) (*Assignment, error) {
	var resp struct {
		Success    bool        `json:"success"`
		Assignment *Assignment `json:"assignment"`
	}
	path := "/api/device/assignment?device_id=" + url.QueryEscape(c.deviceID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Assignment, nil
}

// ProbeDefault asks for the fleet-wide default presentation. Returns
// (nil, nil) when none is configured.
func (c *Client) ProbeDefault(ctx context.Context) (*DefaultPresentation, error) {
	var resp struct {
		Success      bool                 `json:"success"`
		Presentation *DefaultPresentation `json:"presentation"`
	}
	if err := c.getJSON(ctx, "/api/device/default-presentation", &resp); err != nil {
		return nil, err
	}
	return resp.Presentation, nil
}

// MarkAssignmentViewed tells the coordinator the device acted on its
// assignment. Best-effort; callers log failures and move on.
func (c *Client) MarkAssignmentViewed(ctx context.Context, assignmentID string) error {
	body := map[string]any{
		"device_id":     c.deviceID,
		"assignment_id": assignmentID,
	}
	var resp struct {
		Success bool `json:"success"`
	}
	return c.postJSON(ctx, "/api/device/assignment/viewed", body, &resp)
}

// LoadPresentation fetches a full deck. It satisfies playback.Loader.
func (c *Client) LoadPresentation(ctx context.Context, id string) (*playback.Presentation, error) {
	var resp struct {
		Success      bool `json:"success"`
		Presentation *struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Slides []struct {
				ID              string `json:"id"`
				ImageReference  string `json:"image_reference"`
				DurationSeconds int    `json:"duration_seconds"`
				TransitionType  string `json:"transition_type"`
			} `json:"slides"`
		} `json:"presentation"`
	}
	if err := c.getJSON(ctx, "/api/presentations/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	if resp.Presentation == nil {
		return nil, fmt.Errorf("presentation missing from response: %w", ErrProtocol)
	}

	pres := &playback.Presentation{
		ID:   resp.Presentation.ID,
		Name: resp.Presentation.Name,
	}
	for _, sl := range resp.Presentation.Slides {
		pres.Slides = append(pres.Slides, playback.Slide{
			ID:             sl.ID,
			ImageReference: sl.ImageReference,
			DurationSec:    sl.DurationSeconds,
			TransitionType: sl.TransitionType,
		})
	}
	return pres, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", req.URL.Path, ErrEndpointNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s returned %d: %w", req.URL.Path, resp.StatusCode, ErrProtocol)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, ErrProtocol)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
