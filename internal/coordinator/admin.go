// ABOUTME: Operator-facing HTTP handlers: device list with derived presence,
// ABOUTME: command enqueue, assignment creation, default and presentation management.

package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jackpot9800/kiosksync/internal/command"
	"github.com/jackpot9800/kiosksync/internal/store"
)

// DeviceView is the JSON shape of one device in GET /api/devices.
type DeviceView struct {
	ID                      string  `json:"id"`
	DisplayName             string  `json:"display_name"`
	Status                  string  `json:"status"`
	PushConnected           bool    `json:"push_connected"`
	LastHeartbeatAt         string  `json:"last_heartbeat_at"`
	ReportedStatus          string  `json:"reported_status"`
	CurrentPresentationID   string  `json:"current_presentation_id,omitempty"`
	CurrentPresentationName string  `json:"current_presentation_name,omitempty"`
	SlideIndex              int     `json:"slide_index"`
	TotalSlides             int     `json:"total_slides"`
	IsLooping               bool    `json:"is_looping"`
	AppVersion              string  `json:"app_version,omitempty"`
	UptimeSeconds           int64   `json:"uptime_seconds"`
	MemoryPct               float64 `json:"memory_pct"`
	WifiPct                 float64 `json:"wifi_pct"`
	LocalIP                 string  `json:"local_ip,omitempty"`
	ExternalIP              string  `json:"external_ip,omitempty"`
}

// EnqueueCommandRequest is the JSON body of POST /api/devices/{id}/commands.
type EnqueueCommandRequest struct {
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CreateAssignmentRequest is the JSON body of POST /api/devices/{id}/assignment.
type CreateAssignmentRequest struct {
	PresentationID string `json:"presentation_id"`
	AutoPlay       bool   `json:"auto_play"`
	LoopMode       bool   `json:"loop_mode"`
}

// CreatePresentationRequest is the JSON body of POST /api/presentations.
type CreatePresentationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Slides      []struct {
		ImageReference  string `json:"image_reference"`
		DurationSeconds int    `json:"duration_seconds"`
		TransitionType  string `json:"transition_type,omitempty"`
	} `json:"slides"`
}

func (c *Coordinator) handleListDevices(w http.ResponseWriter, r *http.Request) {
	views, err := c.presence.ViewAll(r.Context())
	if err != nil {
		c.logger.Error("listing devices failed", "error", err)
		c.writeError(w, http.StatusInternalServerError, "listing devices failed")
		return
	}

	out := make([]DeviceView, 0, len(views))
	for _, v := range views {
		d := v.Device
		out = append(out, DeviceView{
			ID:                      d.ID,
			DisplayName:             d.DisplayName,
			Status:                  v.Status,
			PushConnected:           c.relay.IsConnected(d.ID),
			LastHeartbeatAt:         d.LastHeartbeatAt.Format(time.RFC3339),
			ReportedStatus:          d.ReportedStatus,
			CurrentPresentationID:   d.CurrentPresentationID,
			CurrentPresentationName: d.CurrentPresentationName,
			SlideIndex:              d.SlideIndex,
			TotalSlides:             d.TotalSlides,
			IsLooping:               d.IsLooping,
			AppVersion:              d.AppVersion,
			UptimeSeconds:           d.UptimeSeconds,
			MemoryPct:               d.MemoryPct,
			WifiPct:                 d.WifiPct,
			LocalIP:                 d.LocalIP,
			ExternalIP:              d.ExternalIP,
		})
	}

	c.writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleEnqueueCommand accepts a command for a device. The command is
// persisted first, then pushed over the relay when the device holds a live
// socket; either way it is delivered on the next heartbeat at the latest.
func (c *Coordinator) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var req EnqueueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed command payload")
		return
	}

	cmd, err := c.queue.Enqueue(r.Context(), deviceID, req.Kind, req.Parameters)
	if errors.Is(err, command.ErrUnknownKind) || errors.Is(err, command.ErrInvalidParams) {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		c.logger.Error("enqueuing command failed", "device_id", deviceID, "error", err)
		c.writeError(w, http.StatusInternalServerError, "enqueuing command failed")
		return
	}

	pushed := c.relay.RelayCommand(cmd)

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"command_id": cmd.ID,
		"pushed":     pushed,
	})
}

func (c *Coordinator) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed assignment payload")
		return
	}
	if req.PresentationID == "" {
		c.writeError(w, http.StatusBadRequest, "presentation_id is required")
		return
	}

	if _, err := c.store.GetPresentation(r.Context(), req.PresentationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.writeError(w, http.StatusNotFound, "unknown presentation")
			return
		}
		c.writeError(w, http.StatusInternalServerError, "presentation lookup failed")
		return
	}

	a := &store.Assignment{
		ID:             uuid.New().String(),
		DeviceID:       deviceID,
		PresentationID: req.PresentationID,
		AutoPlay:       req.AutoPlay,
		LoopMode:       req.LoopMode,
	}
	if err := c.store.CreateAssignment(r.Context(), a); err != nil {
		c.logger.Error("creating assignment failed", "device_id", deviceID, "error", err)
		c.writeError(w, http.StatusInternalServerError, "creating assignment failed")
		return
	}

	c.logger.Info("assignment created",
		"assignment_id", a.ID,
		"device_id", deviceID,
		"presentation_id", req.PresentationID,
	)
	c.writeJSON(w, http.StatusOK, map[string]any{"success": true, "assignment_id": a.ID})
}

func (c *Coordinator) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PresentationID string `json:"presentation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.PresentationID == "" {
		c.writeError(w, http.StatusBadRequest, "presentation_id is required")
		return
	}

	err := c.store.SetDefaultPresentation(r.Context(), req.PresentationID)
	if errors.Is(err, store.ErrNotFound) {
		c.writeError(w, http.StatusNotFound, "unknown presentation")
		return
	}
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "setting default presentation failed")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (c *Coordinator) handleCreatePresentation(w http.ResponseWriter, r *http.Request) {
	var req CreatePresentationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "malformed presentation payload")
		return
	}
	if req.Name == "" {
		c.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Slides) == 0 {
		c.writeError(w, http.StatusBadRequest, "presentation requires at least one slide")
		return
	}

	p := &store.Presentation{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
	}
	for _, sl := range req.Slides {
		if sl.ImageReference == "" {
			c.writeError(w, http.StatusBadRequest, "every slide requires an image_reference")
			return
		}
		duration := sl.DurationSeconds
		if duration < 1 {
			duration = 1
		}
		p.Slides = append(p.Slides, store.Slide{
			ID:              uuid.New().String(),
			ImageReference:  sl.ImageReference,
			DurationSeconds: duration,
			TransitionType:  sl.TransitionType,
		})
	}

	if err := c.store.CreatePresentation(r.Context(), p); err != nil {
		c.logger.Error("creating presentation failed", "error", err)
		c.writeError(w, http.StatusInternalServerError, "creating presentation failed")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"presentation": toPresentationResponse(p),
	})
}
