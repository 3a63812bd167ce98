package presence

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpot9800/kiosksync/internal/store"
)

func setupRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewRegistry(st, DefaultThresholds(), slog.Default()), st
}

func TestDeriveStatus(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, StatusOnline},
		{119 * time.Second, StatusOnline},
		{120 * time.Second, StatusIdle},
		{599 * time.Second, StatusIdle},
		{600 * time.Second, StatusOffline},
		{24 * time.Hour, StatusOffline},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveStatus(tt.elapsed, th), "elapsed=%s", tt.elapsed)
	}
}

func TestRegistry_ReceiveHeartbeat_AutoProvisions(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	cmds, first, err := reg.ReceiveHeartbeat(ctx, &store.Device{ID: "dev-1", ReportedStatus: "idle"})
	require.NoError(t, err)
	assert.True(t, first)
	assert.Empty(t, cmds)

	// Second heartbeat is no longer first contact
	_, first, err = reg.ReceiveHeartbeat(ctx, &store.Device{ID: "dev-1", ReportedStatus: "playing"})
	require.NoError(t, err)
	assert.False(t, first)
}

func TestRegistry_ReceiveHeartbeat_DrainsCommandsInOrder(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()

	_, _, err := reg.ReceiveHeartbeat(ctx, &store.Device{ID: "dev-1"})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.CreateCommand(ctx, &store.RemoteCommand{
		ID: "cmd-a", DeviceID: "dev-1", Kind: "next_slide", CreatedAt: base,
	}))
	require.NoError(t, st.CreateCommand(ctx, &store.RemoteCommand{
		ID: "cmd-b", DeviceID: "dev-1", Kind: "restart", CreatedAt: base.Add(time.Second),
	}))

	cmds, _, err := reg.ReceiveHeartbeat(ctx, &store.Device{ID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "cmd-a", cmds[0].ID)
	assert.Equal(t, "cmd-b", cmds[1].ID)
}

func TestRegistry_ViewDevice_DerivedAtReadTime(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	_, _, err := reg.ReceiveHeartbeat(ctx, &store.Device{ID: "dev-1"})
	require.NoError(t, err)

	view, err := reg.ViewDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, view.Status)

	// Shift the registry clock forward; same stored row derives differently.
	reg.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	view, err = reg.ViewDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, view.Status)

	reg.now = func() time.Time { return time.Now().Add(time.Hour) }
	view, err = reg.ViewDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, view.Status)
}

func TestRegistry_ViewDevice_NotFound(t *testing.T) {
	reg, _ := setupRegistry(t)

	_, err := reg.ViewDevice(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
