package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpot9800/kiosksync/internal/playback"
	"github.com/jackpot9800/kiosksync/internal/relay"
	"github.com/jackpot9800/kiosksync/internal/store"
)

type nullSink struct {
	mu   sync.Mutex
	acks []string
}

func (s *nullSink) Enqueue(_ context.Context, deviceID, kind string, params map[string]any) (*store.RemoteCommand, error) {
	return &store.RemoteCommand{ID: "cmd-x", DeviceID: deviceID, Kind: kind, Parameters: params, Status: store.CommandStatusPending}, nil
}

func (s *nullSink) Acknowledge(_ context.Context, deviceID, commandID, status, result string) (*store.RemoteCommand, error) {
	s.mu.Lock()
	s.acks = append(s.acks, commandID)
	s.mu.Unlock()
	return &store.RemoteCommand{ID: commandID, DeviceID: deviceID, Status: status, Result: result}, nil
}

func startRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub(&nullSink{}, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newPushFixture(t *testing.T) (*PushClient, *playback.Engine, *ackRecorder, string, *relay.Hub) {
	t.Helper()
	hub, wsURL := startRelay(t)

	rec := &ackRecorder{}
	api := httptest.NewServer(rec.handler())
	t.Cleanup(api.Close)

	client := NewClient(api.URL, "dev-1", "", "", 5*time.Second, nil)
	engine := playback.NewEngine(playback.DefaultConfig(), client, nil)
	exec := NewExecutor(client, engine, nil, nil)
	push := NewPushClient(wsURL, "dev-1", exec, nil)
	exec.SetNotifier(push)
	return push, engine, rec, wsURL, hub
}

func TestPushClient_RegistersWithRelay(t *testing.T) {
	push, _, _, _, hub := newPushFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go push.Run(ctx)

	require.Eventually(t, func() bool {
		return hub.IsConnected("dev-1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, push.Connected())
}

// A command pushed over the socket runs through the same executor and
// acks over HTTP, exactly like a polled one.
func TestPushClient_ExecutesPushedCommand(t *testing.T) {
	push, engine, rec, _, hub := newPushFixture(t)
	require.NoError(t, engine.Open(context.Background(), "pres-1", playback.Options{AutoPlay: true, Loop: true}, time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go push.Run(ctx)

	require.Eventually(t, func() bool {
		return hub.IsConnected("dev-1")
	}, 2*time.Second, 10*time.Millisecond)

	delivered := hub.RelayCommand(&store.RemoteCommand{
		ID:       "cmd-9",
		DeviceID: "dev-1",
		Kind:     "next_slide",
	})
	require.True(t, delivered)

	require.Eventually(t, func() bool {
		return len(rec.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	acks := rec.recorded()
	assert.Equal(t, "cmd-9", acks[0]["command_id"])
	assert.Equal(t, "executed", acks[0]["status"])
	assert.Equal(t, 1, engine.Snapshot().SlideIndex)
}

func TestPushClient_RelayCommandFalseWhenDisconnected(t *testing.T) {
	hub, _ := startRelay(t)

	delivered := hub.RelayCommand(&store.RemoteCommand{ID: "cmd-1", DeviceID: "ghost", Kind: "play"})
	assert.False(t, delivered)
}

func TestPushClient_ReconnectsAfterServerRestart(t *testing.T) {
	// A relay that rejects the first connection attempt.
	var attempts int
	var mu sync.Mutex
	hub := relay.NewHub(&nullSink{}, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		hub.ServeWS(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	api := httptest.NewServer((&ackRecorder{}).handler())
	t.Cleanup(api.Close)
	client := NewClient(api.URL, "dev-1", "", "", 5*time.Second, nil)
	engine := playback.NewEngine(playback.DefaultConfig(), client, nil)
	push := NewPushClient(wsURL, "dev-1", NewExecutor(client, engine, nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go push.Run(ctx)

	require.Eventually(t, func() bool {
		return hub.IsConnected("dev-1")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPushClient_NotifyWithoutSocketIsNoop(t *testing.T) {
	push, _, _, _, _ := newPushFixture(t)
	push.NotifyCommandResult("cmd-1", "play", "executed", "")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &relay.Envelope{
		Type:      relay.TypeCommand,
		DeviceID:  "dev-1",
		CommandID: "cmd-1",
		Kind:      "goto_slide",
		Parameters: map[string]any{
			"slide_index": float64(2),
		},
	}

	var decoded relay.Envelope
	require.NoError(t, json.Unmarshal(env.Encode(), &decoded))
	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Equal(t, float64(2), decoded.Parameters["slide_index"])
}
