// ABOUTME: Store interface and data types for kiosk coordinator persistence
// ABOUTME: Defines Device, RemoteCommand, Assignment, Presentation and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNoSlides is returned when creating a presentation with an empty slide list
var ErrNoSlides = errors.New("presentation has no slides")

// Device represents a registered display device. Devices are auto-provisioned
// on first heartbeat; the ID is immutable after first contact.
type Device struct {
	ID                string
	DisplayName       string
	RegistrationToken string
	Capabilities      []string
	LastHeartbeatAt   time.Time
	ReportedStatus    string

	// Snapshot fields from the most recent heartbeat
	CurrentPresentationID   string
	CurrentPresentationName string
	SlideIndex              int
	TotalSlides             int
	IsLooping               bool
	AutoPlay                bool
	UptimeSeconds           int64
	MemoryPct               float64
	WifiPct                 float64
	AppVersion              string
	LocalIP                 string
	ExternalIP              string

	CreatedAt time.Time
}

// CommandStatus constants for RemoteCommand lifecycle
const (
	CommandStatusPending  = "pending"
	CommandStatusExecuted = "executed"
	CommandStatusFailed   = "failed"
)

// RemoteCommand represents a queued command for a device.
// Status transitions are monotonic: pending -> executed|failed, then frozen.
type RemoteCommand struct {
	ID         string
	DeviceID   string
	Kind       string
	Parameters map[string]any
	Status     string
	Result     string
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// Terminal reports whether the command has reached a final status.
func (c *RemoteCommand) Terminal() bool {
	return c.Status == CommandStatusExecuted || c.Status == CommandStatusFailed
}

// Assignment binds a device to a presentation. At most one assignment is
// active per device; creating a new one supersedes the prior.
type Assignment struct {
	ID             string
	DeviceID       string
	PresentationID string
	AutoPlay       bool
	LoopMode       bool
	Viewed         bool
	CreatedAt      time.Time
}

// Presentation is an ordered deck of slides.
type Presentation struct {
	ID          string
	Name        string
	Description string
	IsDefault   bool
	Slides      []Slide
	CreatedAt   time.Time
}

// Slide is a single image with display timing.
type Slide struct {
	ID              string
	PresentationID  string
	Position        int
	ImageReference  string
	DurationSeconds int
	TransitionType  string
}

// Store defines the interface for coordinator persistence
type Store interface {
	// Devices
	UpsertDeviceHeartbeat(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)
	SetRegistrationToken(ctx context.Context, deviceID, token string) error

	// Commands
	CreateCommand(ctx context.Context, cmd *RemoteCommand) error
	GetCommand(ctx context.Context, id string) (*RemoteCommand, error)
	ListPendingCommands(ctx context.Context, deviceID string) ([]*RemoteCommand, error)
	AcknowledgeCommand(ctx context.Context, id, status, result string) (*RemoteCommand, error)

	// Assignments
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetActiveAssignment(ctx context.Context, deviceID string) (*Assignment, error)
	MarkAssignmentViewed(ctx context.Context, id string) error

	// Presentations
	CreatePresentation(ctx context.Context, p *Presentation) error
	GetPresentation(ctx context.Context, id string) (*Presentation, error)
	SetDefaultPresentation(ctx context.Context, presentationID string) error
	GetDefaultPresentation(ctx context.Context) (*Presentation, error)

	// Close releases any resources held by the store
	Close() error
}
