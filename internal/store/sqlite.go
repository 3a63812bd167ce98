// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides device/command/assignment/presentation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS devices (
			id                        TEXT PRIMARY KEY,
			display_name              TEXT NOT NULL DEFAULT '',
			registration_token       TEXT NOT NULL DEFAULT '',
			capabilities_json         TEXT NOT NULL DEFAULT '[]',
			last_heartbeat_at         DATETIME NOT NULL,
			reported_status           TEXT NOT NULL DEFAULT '',
			current_presentation_id   TEXT NOT NULL DEFAULT '',
			current_presentation_name TEXT NOT NULL DEFAULT '',
			slide_index               INTEGER NOT NULL DEFAULT 0,
			total_slides              INTEGER NOT NULL DEFAULT 0,
			is_looping                INTEGER NOT NULL DEFAULT 0,
			auto_play                 INTEGER NOT NULL DEFAULT 0,
			uptime_seconds            INTEGER NOT NULL DEFAULT 0,
			memory_pct                REAL NOT NULL DEFAULT 0,
			wifi_pct                  REAL NOT NULL DEFAULT 0,
			app_version               TEXT NOT NULL DEFAULT '',
			local_ip                  TEXT NOT NULL DEFAULT '',
			external_ip               TEXT NOT NULL DEFAULT '',
			created_at                DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS remote_commands (
			id              TEXT PRIMARY KEY,
			device_id       TEXT NOT NULL,
			kind            TEXT NOT NULL,
			parameters_json TEXT NOT NULL DEFAULT '{}',
			status          TEXT NOT NULL DEFAULT 'pending',
			result          TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL,
			executed_at     DATETIME,

			CHECK (status IN ('pending', 'executed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_commands_device_status
			ON remote_commands(device_id, status, created_at);

		CREATE TABLE IF NOT EXISTS assignments (
			device_id       TEXT PRIMARY KEY,
			id              TEXT NOT NULL,
			presentation_id TEXT NOT NULL,
			auto_play       INTEGER NOT NULL DEFAULT 1,
			loop_mode       INTEGER NOT NULL DEFAULT 1,
			viewed          INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS presentations (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_default  INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS slides (
			id               TEXT PRIMARY KEY,
			presentation_id  TEXT NOT NULL,
			position         INTEGER NOT NULL,
			image_reference  TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			transition_type  TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (presentation_id) REFERENCES presentations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_slides_presentation
			ON slides(presentation_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertDeviceHeartbeat creates the device on first contact and refreshes the
// heartbeat snapshot on every subsequent one. The device ID and created_at are
// immutable after first contact; the registration token is only set through
// SetRegistrationToken.
func (s *SQLiteStore) UpsertDeviceHeartbeat(ctx context.Context, device *Device) error {
	caps, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	if device.Capabilities == nil {
		caps = []byte("[]")
	}

	now := time.Now().UTC()
	if device.LastHeartbeatAt.IsZero() {
		device.LastHeartbeatAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, display_name, capabilities_json, last_heartbeat_at, reported_status,
			current_presentation_id, current_presentation_name, slide_index, total_slides,
			is_looping, auto_play, uptime_seconds, memory_pct, wifi_pct,
			app_version, local_ip, external_ip, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name              = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END,
			capabilities_json         = excluded.capabilities_json,
			last_heartbeat_at         = excluded.last_heartbeat_at,
			reported_status           = excluded.reported_status,
			current_presentation_id   = excluded.current_presentation_id,
			current_presentation_name = excluded.current_presentation_name,
			slide_index               = excluded.slide_index,
			total_slides              = excluded.total_slides,
			is_looping                = excluded.is_looping,
			auto_play                 = excluded.auto_play,
			uptime_seconds            = excluded.uptime_seconds,
			memory_pct                = excluded.memory_pct,
			wifi_pct                  = excluded.wifi_pct,
			app_version               = excluded.app_version,
			local_ip                  = excluded.local_ip,
			external_ip               = excluded.external_ip
	`, device.ID, device.DisplayName, string(caps), device.LastHeartbeatAt, device.ReportedStatus,
		device.CurrentPresentationID, device.CurrentPresentationName, device.SlideIndex, device.TotalSlides,
		device.IsLooping, device.AutoPlay, device.UptimeSeconds, device.MemoryPct, device.WifiPct,
		device.AppVersion, device.LocalIP, device.ExternalIP, now)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, registration_token, capabilities_json, last_heartbeat_at,
			reported_status, current_presentation_id, current_presentation_name,
			slide_index, total_slides, is_looping, auto_play, uptime_seconds,
			memory_pct, wifi_pct, app_version, local_ip, external_ip, created_at
		FROM devices WHERE id = ?
	`, id)
	return scanDevice(row)
}

// ListDevices returns all devices ordered by display name then ID.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, registration_token, capabilities_json, last_heartbeat_at,
			reported_status, current_presentation_id, current_presentation_name,
			slide_index, total_slides, is_looping, auto_play, uptime_seconds,
			memory_pct, wifi_pct, app_version, local_ip, external_ip, created_at
		FROM devices ORDER BY display_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SetRegistrationToken records the issued registration token for a device.
func (s *SQLiteStore) SetRegistrationToken(ctx context.Context, deviceID, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET registration_token = ? WHERE id = ?`, token, deviceID)
	if err != nil {
		return fmt.Errorf("setting registration token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var capsJSON string
	err := row.Scan(&d.ID, &d.DisplayName, &d.RegistrationToken, &capsJSON, &d.LastHeartbeatAt,
		&d.ReportedStatus, &d.CurrentPresentationID, &d.CurrentPresentationName,
		&d.SlideIndex, &d.TotalSlides, &d.IsLooping, &d.AutoPlay, &d.UptimeSeconds,
		&d.MemoryPct, &d.WifiPct, &d.AppVersion, &d.LocalIP, &d.ExternalIP, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	return &d, nil
}

// CreateCommand inserts a new pending command for a device.
func (s *SQLiteStore) CreateCommand(ctx context.Context, cmd *RemoteCommand) error {
	params, err := json.Marshal(cmd.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	if cmd.Parameters == nil {
		params = []byte("{}")
	}
	if cmd.Status == "" {
		cmd.Status = CommandStatusPending
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remote_commands (id, device_id, kind, parameters_json, status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cmd.ID, cmd.DeviceID, cmd.Kind, string(params), cmd.Status, cmd.Result, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// GetCommand retrieves a command by ID. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*RemoteCommand, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, kind, parameters_json, status, result, created_at, executed_at
		FROM remote_commands WHERE id = ?
	`, id)
	return scanCommand(row)
}

// ListPendingCommands returns a device's pending commands in creation order.
func (s *SQLiteStore) ListPendingCommands(ctx context.Context, deviceID string) ([]*RemoteCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, kind, parameters_json, status, result, created_at, executed_at
		FROM remote_commands
		WHERE device_id = ? AND status = 'pending'
		ORDER BY created_at, id
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []*RemoteCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// AcknowledgeCommand transitions a pending command to a terminal status.
// The transition is first-writer-wins: acknowledging an already-terminal
// command leaves its original outcome intact and returns it without error.
// Returns ErrNotFound for an unknown command ID.
func (s *SQLiteStore) AcknowledgeCommand(ctx context.Context, id, status, result string) (*RemoteCommand, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE remote_commands
		SET status = ?, result = ?, executed_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, result, now, id)
	if err != nil {
		return nil, fmt.Errorf("acknowledging command: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either unknown or already terminal; re-read to tell the two apart.
		cmd, err := s.GetCommand(ctx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("duplicate command acknowledgment ignored",
			"command_id", id, "status", cmd.Status)
		return cmd, nil
	}

	return s.GetCommand(ctx, id)
}

func scanCommand(row rowScanner) (*RemoteCommand, error) {
	var c RemoteCommand
	var paramsJSON string
	var executedAt sql.NullTime
	err := row.Scan(&c.ID, &c.DeviceID, &c.Kind, &paramsJSON, &c.Status, &c.Result, &c.CreatedAt, &executedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning command: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &c.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	if executedAt.Valid {
		c.ExecutedAt = &executedAt.Time
	}
	return &c, nil
}

// CreateAssignment records the active assignment for a device, superseding
// any prior one. The assignments table holds one row per device so the
// supersede is a single-row upsert.
func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (device_id, id, presentation_id, auto_play, loop_mode, viewed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			id              = excluded.id,
			presentation_id = excluded.presentation_id,
			auto_play       = excluded.auto_play,
			loop_mode       = excluded.loop_mode,
			viewed          = 0,
			created_at      = excluded.created_at
	`, a.DeviceID, a.ID, a.PresentationID, a.AutoPlay, a.LoopMode, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting assignment: %w", err)
	}
	return nil
}

// GetActiveAssignment returns the device's current assignment, or ErrNotFound.
func (s *SQLiteStore) GetActiveAssignment(ctx context.Context, deviceID string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, presentation_id, auto_play, loop_mode, viewed, created_at
		FROM assignments WHERE device_id = ?
	`, deviceID)

	var a Assignment
	err := row.Scan(&a.ID, &a.DeviceID, &a.PresentationID, &a.AutoPlay, &a.LoopMode, &a.Viewed, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning assignment: %w", err)
	}
	return &a, nil
}

// MarkAssignmentViewed flags an assignment as seen by its device.
func (s *SQLiteStore) MarkAssignmentViewed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET viewed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking assignment viewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePresentation inserts a presentation and its slides.
// Returns ErrNoSlides if the slide list is empty.
func (s *SQLiteStore) CreatePresentation(ctx context.Context, p *Presentation) error {
	if len(p.Slides) == 0 {
		return ErrNoSlides
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO presentations (id, name, description, is_default, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.IsDefault, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting presentation: %w", err)
	}

	for i := range p.Slides {
		sl := &p.Slides[i]
		sl.PresentationID = p.ID
		sl.Position = i
		_, err = tx.ExecContext(ctx, `
			INSERT INTO slides (id, presentation_id, position, image_reference, duration_seconds, transition_type)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sl.ID, sl.PresentationID, sl.Position, sl.ImageReference, sl.DurationSeconds, sl.TransitionType)
		if err != nil {
			return fmt.Errorf("inserting slide %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetPresentation retrieves a presentation with its slides in order.
func (s *SQLiteStore) GetPresentation(ctx context.Context, id string) (*Presentation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_default, created_at
		FROM presentations WHERE id = ?
	`, id)

	var p Presentation
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.IsDefault, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning presentation: %w", err)
	}

	slides, err := s.loadSlides(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Slides = slides
	return &p, nil
}

// SetDefaultPresentation makes the given presentation the fleet default,
// clearing the flag from any prior default. Both updates commit together
// so there is never more than one is_default row.
func (s *SQLiteStore) SetDefaultPresentation(ctx context.Context, presentationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE presentations SET is_default = 1 WHERE id = ?`, presentationID)
	if err != nil {
		return fmt.Errorf("setting default presentation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE presentations SET is_default = 0 WHERE id != ?`, presentationID); err != nil {
		return fmt.Errorf("clearing prior default: %w", err)
	}
	return tx.Commit()
}

// GetDefaultPresentation returns the fleet default presentation, or ErrNotFound.
func (s *SQLiteStore) GetDefaultPresentation(ctx context.Context) (*Presentation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_default, created_at
		FROM presentations WHERE is_default = 1 LIMIT 1
	`)

	var p Presentation
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.IsDefault, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning default presentation: %w", err)
	}

	slides, err := s.loadSlides(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Slides = slides
	return &p, nil
}

func (s *SQLiteStore) loadSlides(ctx context.Context, presentationID string) ([]Slide, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, presentation_id, position, image_reference, duration_seconds, transition_type
		FROM slides WHERE presentation_id = ? ORDER BY position
	`, presentationID)
	if err != nil {
		return nil, fmt.Errorf("loading slides: %w", err)
	}
	defer rows.Close()

	var slides []Slide
	for rows.Next() {
		var sl Slide
		if err := rows.Scan(&sl.ID, &sl.PresentationID, &sl.Position, &sl.ImageReference,
			&sl.DurationSeconds, &sl.TransitionType); err != nil {
			return nil, fmt.Errorf("scanning slide: %w", err)
		}
		slides = append(slides, sl)
	}
	return slides, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
