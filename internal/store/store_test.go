package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testDevice(id string) *Device {
	return &Device{
		ID:             id,
		DisplayName:    "Lobby Screen",
		ReportedStatus: "playing",
		AppVersion:     "1.4.2",
	}
}

func TestStore_UpsertDeviceHeartbeat_AutoProvision(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.UpsertDeviceHeartbeat(ctx, testDevice("fire-tv-01"))
	require.NoError(t, err)

	d, err := store.GetDevice(ctx, "fire-tv-01")
	require.NoError(t, err)
	assert.Equal(t, "fire-tv-01", d.ID)
	assert.Equal(t, "Lobby Screen", d.DisplayName)
	assert.False(t, d.LastHeartbeatAt.IsZero())
	assert.False(t, d.CreatedAt.IsZero())
}

func TestStore_UpsertDeviceHeartbeat_PreservesIdentity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDeviceHeartbeat(ctx, testDevice("fire-tv-01")))

	first, err := store.GetDevice(ctx, "fire-tv-01")
	require.NoError(t, err)

	// Second heartbeat updates the snapshot but not identity
	update := testDevice("fire-tv-01")
	update.DisplayName = "" // empty name must not clobber the stored one
	update.SlideIndex = 3
	update.ReportedStatus = "paused"
	update.LastHeartbeatAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.UpsertDeviceHeartbeat(ctx, update))

	d, err := store.GetDevice(ctx, "fire-tv-01")
	require.NoError(t, err)
	assert.Equal(t, "Lobby Screen", d.DisplayName)
	assert.Equal(t, 3, d.SlideIndex)
	assert.Equal(t, "paused", d.ReportedStatus)
	assert.Equal(t, first.CreatedAt, d.CreatedAt)
}

func TestStore_GetDevice_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetDevice(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetRegistrationToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDeviceHeartbeat(ctx, testDevice("fire-tv-01")))
	require.NoError(t, store.SetRegistrationToken(ctx, "fire-tv-01", "tok-abc"))

	d, err := store.GetDevice(ctx, "fire-tv-01")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", d.RegistrationToken)

	assert.ErrorIs(t, store.SetRegistrationToken(ctx, "ghost", "tok"), ErrNotFound)
}

func TestStore_ListPendingCommands_CreationOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		cmd := &RemoteCommand{
			ID:        fmt.Sprintf("cmd-%d", i),
			DeviceID:  "fire-tv-01",
			Kind:      "next_slide",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.CreateCommand(ctx, cmd))
	}

	cmds, err := store.ListPendingCommands(ctx, "fire-tv-01")
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "cmd-0", cmds[0].ID)
	assert.Equal(t, "cmd-1", cmds[1].ID)
	assert.Equal(t, "cmd-2", cmds[2].ID)
}

func TestStore_AcknowledgeCommand_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cmd := &RemoteCommand{
		ID:       "cmd-1",
		DeviceID: "fire-tv-01",
		Kind:     "restart",
	}
	require.NoError(t, store.CreateCommand(ctx, cmd))

	first, err := store.AcknowledgeCommand(ctx, "cmd-1", CommandStatusExecuted, "ok")
	require.NoError(t, err)
	assert.Equal(t, CommandStatusExecuted, first.Status)
	require.NotNil(t, first.ExecutedAt)

	// Replay with a different outcome keeps the first terminal status
	second, err := store.AcknowledgeCommand(ctx, "cmd-1", CommandStatusFailed, "boom")
	require.NoError(t, err)
	assert.Equal(t, CommandStatusExecuted, second.Status)
	assert.Equal(t, "ok", second.Result)
}

func TestStore_AcknowledgeCommand_Unknown(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AcknowledgeCommand(context.Background(), "ghost", CommandStatusExecuted, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateCommand_Parameters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cmd := &RemoteCommand{
		ID:         "cmd-1",
		DeviceID:   "fire-tv-01",
		Kind:       "goto_slide",
		Parameters: map[string]any{"slide_index": float64(4)},
	}
	require.NoError(t, store.CreateCommand(ctx, cmd))

	got, err := store.GetCommand(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), got.Parameters["slide_index"])
	assert.Equal(t, CommandStatusPending, got.Status)
}

func TestStore_CreateAssignment_Supersedes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a1 := &Assignment{ID: "as-1", DeviceID: "fire-tv-01", PresentationID: "pres-1", AutoPlay: true, LoopMode: true}
	require.NoError(t, store.CreateAssignment(ctx, a1))
	require.NoError(t, store.MarkAssignmentViewed(ctx, "as-1"))

	a2 := &Assignment{ID: "as-2", DeviceID: "fire-tv-01", PresentationID: "pres-2", AutoPlay: true, LoopMode: true}
	require.NoError(t, store.CreateAssignment(ctx, a2))

	active, err := store.GetActiveAssignment(ctx, "fire-tv-01")
	require.NoError(t, err)
	assert.Equal(t, "as-2", active.ID)
	assert.Equal(t, "pres-2", active.PresentationID)
	assert.False(t, active.Viewed, "superseding assignment resets viewed")
}

func TestStore_GetActiveAssignment_None(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetActiveAssignment(context.Background(), "fire-tv-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testPresentation(id string, slides int) *Presentation {
	p := &Presentation{
		ID:   id,
		Name: "Menu Board",
	}
	for i := 0; i < slides; i++ {
		p.Slides = append(p.Slides, Slide{
			ID:              fmt.Sprintf("%s-slide-%d", id, i),
			ImageReference:  fmt.Sprintf("https://img.example/%s/%d.png", id, i),
			DurationSeconds: 5,
			TransitionType:  "fade",
		})
	}
	return p
}

func TestStore_CreatePresentation_RejectsEmpty(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreatePresentation(context.Background(), testPresentation("pres-1", 0))
	assert.ErrorIs(t, err, ErrNoSlides)
}

func TestStore_GetPresentation_SlidesInOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePresentation(ctx, testPresentation("pres-1", 4)))

	got, err := store.GetPresentation(ctx, "pres-1")
	require.NoError(t, err)
	require.Len(t, got.Slides, 4)
	for i, sl := range got.Slides {
		assert.Equal(t, i, sl.Position)
		assert.Equal(t, fmt.Sprintf("pres-1-slide-%d", i), sl.ID)
	}
}

func TestStore_SetDefaultPresentation_SingleDefault(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePresentation(ctx, testPresentation("pres-1", 2)))
	require.NoError(t, store.CreatePresentation(ctx, testPresentation("pres-2", 2)))

	require.NoError(t, store.SetDefaultPresentation(ctx, "pres-1"))
	require.NoError(t, store.SetDefaultPresentation(ctx, "pres-2"))

	def, err := store.GetDefaultPresentation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pres-2", def.ID)
	require.Len(t, def.Slides, 2)

	p1, err := store.GetPresentation(ctx, "pres-1")
	require.NoError(t, err)
	assert.False(t, p1.IsDefault)
}

// A failed switch must roll back whole: the prior default survives.
func TestStore_SetDefaultPresentation_UnknownLeavesDefaultIntact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePresentation(ctx, testPresentation("pres-1", 2)))
	require.NoError(t, store.SetDefaultPresentation(ctx, "pres-1"))

	require.ErrorIs(t, store.SetDefaultPresentation(ctx, "ghost"), ErrNotFound)

	def, err := store.GetDefaultPresentation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pres-1", def.ID)
}

func TestStore_GetDefaultPresentation_None(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetDefaultPresentation(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
