package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "dev-1", "Lobby", "1.0.0", 5*time.Second, nil)
}

func TestClient_SendHeartbeat(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/device/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"success":            true,
			"registration_token": "tok-123",
			"commands": []map[string]any{
				{"id": "cmd-1", "kind": "next_slide"},
				{"id": "cmd-2", "kind": "goto_slide", "parameters": map[string]any{"slide_index": 3}},
			},
		})
	}))

	result, err := client.SendHeartbeat(context.Background(), Snapshot{Status: "playing", SlideIndex: 2})
	require.NoError(t, err)
	require.Len(t, result.Commands, 2)
	assert.Equal(t, "cmd-1", result.Commands[0].ID)
	assert.Equal(t, "goto_slide", result.Commands[1].Kind)
	assert.Equal(t, "tok-123", result.RegistrationToken)

	assert.Equal(t, "dev-1", got["device_id"])
	assert.Equal(t, "playing", got["status"])
	assert.Equal(t, float64(2), got["slide_index"])
}

func TestClient_TokenSentAfterRegistration(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			assert.Empty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"success":            true,
				"registration_token": "tok-abc",
				"commands":           []any{},
			})
			return
		}
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "commands": []any{}})
	}))

	ctx := context.Background()
	_, err := client.SendHeartbeat(ctx, Snapshot{})
	require.NoError(t, err)
	_, err = client.SendHeartbeat(ctx, Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_ProbeAssignmentAbsent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev-1", r.URL.Query().Get("device_id"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "assignment": nil})
	}))

	a, err := client.ProbeAssignment(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestClient_ProbeAssignmentPresent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"assignment": map[string]any{
				"id":              "as-1",
				"presentation_id": "pres-7",
				"auto_play":       true,
				"loop_mode":       true,
			},
		})
	}))

	a, err := client.ProbeAssignment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "pres-7", a.PresentationID)
	assert.True(t, a.LoopMode)
}

func TestClient_NotFoundIsCapabilityMiss(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())

	_, err := client.ProbeAssignment(context.Background())
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestClient_ServerErrorIsProtocolError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.ProbeDefault(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestClient_MalformedBodyIsProtocolError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))

	_, err := client.ProbeDefault(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestClient_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "dev-1", "", "", 50*time.Millisecond, nil)

	_, err := client.ProbeDefault(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_LoadPresentation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/presentations/pres-7", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"presentation": map[string]any{
				"id":   "pres-7",
				"name": "Menu Board",
				"slides": []map[string]any{
					{"id": "s1", "image_reference": "https://cdn/s1.jpg", "duration_seconds": 8},
					{"id": "s2", "image_reference": "https://cdn/s2.jpg", "duration_seconds": 12, "transition_type": "fade"},
				},
			},
		})
	}))

	pres, err := client.LoadPresentation(context.Background(), "pres-7")
	require.NoError(t, err)
	assert.Equal(t, "Menu Board", pres.Name)
	require.Len(t, pres.Slides, 2)
	assert.Equal(t, 12, pres.Slides[1].DurationSec)
	assert.Equal(t, "fade", pres.Slides[1].TransitionType)
}
