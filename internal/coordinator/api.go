// ABOUTME: Device-facing HTTP handlers: heartbeat, command ack, assignment and
// ABOUTME: default-presentation probes, presentation fetch, viewed notification.

package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackpot9800/kiosksync/internal/auth"
	"github.com/jackpot9800/kiosksync/internal/relay"
	"github.com/jackpot9800/kiosksync/internal/store"
)

// HeartbeatRequest is the JSON body of POST /api/device/heartbeat.
type HeartbeatRequest struct {
	DeviceID     string   `json:"device_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

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
	AppVersion              string  `json:"app_version"`
	LocalIP                 string  `json:"local_ip,omitempty"`
	ExternalIP              string  `json:"external_ip,omitempty"`
}

// CommandResponse is one command delivered in a heartbeat response.
type CommandResponse struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// HeartbeatResponse is the JSON response of POST /api/device/heartbeat.
// The command list doubles as the pull half of command delivery.
type HeartbeatResponse struct {
	Success           bool              `json:"success"`
	RegistrationToken string            `json:"registration_token,omitempty"`
	Commands          []CommandResponse `json:"commands"`
}

// AckRequest is the JSON body of POST /api/device/commands/ack.
type AckRequest struct {
	DeviceID  string `json:"device_id"`
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
}

// AssignmentResponse is the JSON shape of an assignment in probe responses.
type AssignmentResponse struct {
	ID             string `json:"id"`
	PresentationID string `json:"presentation_id"`
	AutoPlay       bool   `json:"auto_play"`
	LoopMode       bool   `json:"loop_mode"`
	Viewed         bool   `json:"viewed"`
	CreatedAt      string `json:"created_at"`
}

// PresentationSummary is the JSON shape of a presentation without its slides.
type PresentationSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SlideResponse is the JSON shape of one slide in a presentation fetch.
type SlideResponse struct {
	ID              string `json:"id"`
	ImageReference  string `json:"image_reference"`
	DurationSeconds int    `json:"duration_seconds"`
	TransitionType  string `json:"transition_type,omitempty"`
}

// PresentationResponse is the JSON shape of a full presentation fetch.
type PresentationResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Slides      []SlideResponse `json:"slides"`
}

// authorizeDevice verifies a bearer token when one is presented. Tokens are
// advisory: their absence is accepted, but a presented token must verify and
// match the claimed device.
func (c *Coordinator) authorizeDevice(r *http.Request, deviceID string) error {
	if c.tokens == nil {
		return nil
	}
	token := auth.BearerToken(r)
	if token == "" {
		return nil
	}
	sub, err := c.tokens.Verify(token)
	if err != nil {
		return err
	}
	if sub != deviceID {
		return auth.ErrInvalidToken
	}
	return nil
}

func (c *Coordinator) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed heartbeat payload")
		return
	}
	if req.DeviceID == "" {
		c.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if err := c.authorizeDevice(r, req.DeviceID); err != nil {
		c.writeError(w, http.StatusUnauthorized, "invalid registration token")
		return
	}

	device := &store.Device{
		ID:                      req.DeviceID,
		DisplayName:             req.DisplayName,
		Capabilities:            req.Capabilities,
		ReportedStatus:          req.Status,
		CurrentPresentationID:   req.CurrentPresentationID,
		CurrentPresentationName: req.CurrentPresentationName,
		SlideIndex:              req.SlideIndex,
		TotalSlides:             req.TotalSlides,
		IsLooping:               req.IsLooping,
		AutoPlay:                req.AutoPlay,
		UptimeSeconds:           req.UptimeSeconds,
		MemoryPct:               req.MemoryPct,
		WifiPct:                 req.WifiPct,
		AppVersion:              req.AppVersion,
		LocalIP:                 req.LocalIP,
		ExternalIP:              req.ExternalIP,
	}

	cmds, firstContact, err := c.presence.ReceiveHeartbeat(r.Context(), device)
	if err != nil {
		c.logger.Error("heartbeat failed", "device_id", req.DeviceID, "error", err)
		c.writeError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}

	resp := HeartbeatResponse{
		Success:  true,
		Commands: make([]CommandResponse, 0, len(cmds)),
	}
	for _, cmd := range cmds {
		resp.Commands = append(resp.Commands, CommandResponse{
			ID:         cmd.ID,
			Kind:       cmd.Kind,
			Parameters: cmd.Parameters,
			CreatedAt:  cmd.CreatedAt.Format(time.RFC3339),
		})
	}

	if firstContact && c.tokens != nil {
		token, err := c.tokens.Mint(req.DeviceID)
		if err != nil {
			c.logger.Error("minting registration token", "device_id", req.DeviceID, "error", err)
		} else if err := c.store.SetRegistrationToken(r.Context(), req.DeviceID, token); err != nil {
			c.logger.Error("storing registration token", "device_id", req.DeviceID, "error", err)
		} else {
			resp.RegistrationToken = token
		}
	}

	// Mirror the snapshot to connected admins.
	if snapshot, err := json.Marshal(req); err == nil {
		c.relay.BroadcastToAdmins(&relay.Envelope{
			Type:     relay.TypeDeviceStatus,
			DeviceID: req.DeviceID,
			Snapshot: snapshot,
		})
	}

	c.writeJSON(w, http.StatusOK, resp)
}

func (c *Coordinator) handleCommandAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed ack payload")
		return
	}
	if req.DeviceID == "" || req.CommandID == "" {
		c.writeError(w, http.StatusBadRequest, "device_id and command_id are required")
		return
	}

	cmd, err := c.queue.Acknowledge(r.Context(), req.DeviceID, req.CommandID, req.Status, req.Result)
	if errors.Is(err, store.ErrNotFound) {
		c.writeError(w, http.StatusNotFound, "unknown command")
		return
	}
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c.relay.BroadcastToAdmins(&relay.Envelope{
		Type:      relay.TypeCommandResult,
		DeviceID:  req.DeviceID,
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		Status:    cmd.Status,
		Result:    cmd.Result,
	})

	c.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": cmd.Status})
}

// handleAssignmentProbe answers GET /api/device/assignment?device_id=X.
// Absence of an assignment is a 200 with a null body field, not a 404: the
// agent treats 404 as a permanently missing endpoint capability.
func (c *Coordinator) handleAssignmentProbe(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		c.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	a, err := c.store.GetActiveAssignment(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		c.writeJSON(w, http.StatusOK, map[string]any{"success": true, "assignment": nil})
		return
	}
	if err != nil {
		c.logger.Error("assignment probe failed", "device_id", deviceID, "error", err)
		c.writeError(w, http.StatusInternalServerError, "assignment lookup failed")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"assignment": AssignmentResponse{
			ID:             a.ID,
			PresentationID: a.PresentationID,
			AutoPlay:       a.AutoPlay,
			LoopMode:       a.LoopMode,
			Viewed:         a.Viewed,
			CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		},
	})
}

func (c *Coordinator) handleDefaultProbe(w http.ResponseWriter, r *http.Request) {
	p, err := c.store.GetDefaultPresentation(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.writeJSON(w, http.StatusOK, map[string]any{"success": true, "presentation": nil})
		return
	}
	if err != nil {
		c.logger.Error("default presentation probe failed", "error", err)
		c.writeError(w, http.StatusInternalServerError, "default presentation lookup failed")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"presentation": PresentationSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
		},
	})
}

// handleAssignmentViewed records that a device has acted on its assignment.
// Best-effort on the agent side; here it is a plain idempotent update.
func (c *Coordinator) handleAssignmentViewed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID     string `json:"device_id"`
		AssignmentID string `json:"assignment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.AssignmentID == "" {
		c.writeError(w, http.StatusBadRequest, "assignment_id is required")
		return
	}

	err := c.store.MarkAssignmentViewed(r.Context(), req.AssignmentID)
	if errors.Is(err, store.ErrNotFound) {
		c.writeError(w, http.StatusNotFound, "unknown assignment")
		return
	}
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "marking assignment viewed failed")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (c *Coordinator) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := c.store.GetPresentation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.writeError(w, http.StatusNotFound, "unknown presentation")
		return
	}
	if err != nil {
		c.logger.Error("presentation fetch failed", "presentation_id", id, "error", err)
		c.writeError(w, http.StatusInternalServerError, "presentation fetch failed")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"presentation": toPresentationResponse(p),
	})
}

func toPresentationResponse(p *store.Presentation) PresentationResponse {
	resp := PresentationResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Slides:      make([]SlideResponse, 0, len(p.Slides)),
	}
	for _, sl := range p.Slides {
		resp.Slides = append(resp.Slides, SlideResponse{
			ID:              sl.ID,
			ImageReference:  sl.ImageReference,
			DurationSeconds: sl.DurationSeconds,
			TransitionType:  sl.TransitionType,
		})
	}
	return resp
}
