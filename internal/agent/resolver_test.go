package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpot9800/kiosksync/internal/playback"
)

// coordinatorStub serves the device-facing endpoints with mutable
// canned responses.
type coordinatorStub struct {
	mu            sync.Mutex
	assignment    *Assignment
	defaultPres   *DefaultPresentation
	assignment404 bool
	fetchFails    int // presentation fetches to fail with 502 before recovering
	viewedIDs     []string
}

func (s *coordinatorStub) setAssignment(a *Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignment = a
}

func (s *coordinatorStub) setDefault(p *DefaultPresentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultPres = p
}

func (s *coordinatorStub) viewed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.viewedIDs...)
}

func (s *coordinatorStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/device/assignment", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.assignment404 {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "assignment": s.assignment})
	})
	mux.HandleFunc("GET /api/device/default-presentation", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "presentation": s.defaultPres})
	})
	mux.HandleFunc("POST /api/device/assignment/viewed", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssignmentID string `json:"assignment_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.viewedIDs = append(s.viewedIDs, body.AssignmentID)
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("GET /api/presentations/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.fetchFails > 0 {
			s.fetchFails--
			s.mu.Unlock()
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"presentation": map[string]any{
				"id":   r.PathValue("id"),
				"name": "Deck " + r.PathValue("id"),
				"slides": []map[string]any{
					{"id": "s1", "image_reference": "https://cdn/s1.jpg", "duration_seconds": 5},
				},
			},
		})
	})
	return mux
}

func newTestResolver(t *testing.T, stub *coordinatorStub) (*Resolver, *playback.Engine) {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "dev-1", "", "", 5*time.Second, nil)
	engine := playback.NewEngine(playback.DefaultConfig(), client, nil)
	timers := playback.NewTimerSet()
	t.Cleanup(timers.Stop)

	cfg := ResolverConfig{
		AssignmentPoll:   time.Hour, // polls are driven manually in tests
		DefaultPoll:      time.Hour,
		SettleDelay:      10 * time.Millisecond,
		AutoLaunchDwell:  60 * time.Millisecond,
		PromptVisibility: 25 * time.Millisecond,
	}
	return NewResolver(client, engine, timers, cfg, nil), engine
}

func waitForState(t *testing.T, engine *playback.Engine, want playback.State) playback.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := engine.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never reached %s (now %s)", want, engine.Snapshot().State)
	return playback.Snapshot{}
}

func TestResolver_AssignmentLaunchesForcedSession(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7", AutoPlay: false, LoopMode: false})
	resolver, engine := newTestResolver(t, stub)

	resolver.pollAssignment(context.Background())

	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-7", snap.PresentationID)
	assert.True(t, snap.Looping, "assignments loop regardless of their own flags")
	assert.True(t, snap.AutoPlay)
	assert.True(t, engine.Forced())

	require.Eventually(t, func() bool {
		return len(stub.viewed()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "as-1", stub.viewed()[0])
}

func TestResolver_AssignmentNotRelaunched(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7"})
	resolver, engine := newTestResolver(t, stub)

	ctx := context.Background()
	resolver.pollAssignment(ctx)
	waitForState(t, engine, playback.StatePlaying)

	// Seeing the same assignment again must not reopen the session.
	resolver.pollAssignment(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, stub.viewed(), 1)
}

// A fetch failure during launch must not park the screen on an error:
// the next poll of the same assignment relaunches it.
func TestResolver_AssignmentRelaunchedAfterFetchFailure(t *testing.T) {
	stub := &coordinatorStub{fetchFails: 1}
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7"})
	resolver, engine := newTestResolver(t, stub)
	ctx := context.Background()

	resolver.pollAssignment(ctx)
	waitForState(t, engine, playback.StateError)

	// The network has recovered; polls keep returning the same
	// assignment.
	resolver.pollAssignment(ctx)
	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-7", snap.PresentationID)
	assert.True(t, engine.Forced())
}

func TestResolver_DefaultPromptAndAutoLaunch(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2", Name: "Fallback"})
	resolver, engine := newTestResolver(t, stub)

	resolver.pollDefault(context.Background())
	assert.True(t, resolver.PromptVisible())

	// The visibility timeout hides the prompt without cancelling the
	// pending launch.
	require.Eventually(t, func() bool {
		return !resolver.PromptVisible()
	}, time.Second, 5*time.Millisecond)

	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-2", snap.PresentationID)
	assert.True(t, snap.Looping)
	assert.False(t, engine.Forced(), "defaults are not assignment sessions")
}

// Assignment and default present simultaneously: the session must end
// on the assignment, whichever probe lands first.
func TestResolver_AssignmentPreemptsDefault(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7"})
	stub.setDefault(&DefaultPresentation{ID: "pres-2", Name: "Fallback"})
	resolver, engine := newTestResolver(t, stub)
	ctx := context.Background()

	// Default probe lands first, arming its auto-launch.
	resolver.pollDefault(ctx)
	resolver.pollAssignment(ctx)

	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-7", snap.PresentationID)

	// Well past the auto-launch dwell the default must not have taken
	// over.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, "pres-7", engine.Snapshot().PresentationID)
	assert.False(t, resolver.PromptVisible())
}

func TestResolver_AssignmentCancelsPendingAutoLaunch(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2"})
	resolver, engine := newTestResolver(t, stub)
	ctx := context.Background()

	resolver.pollDefault(ctx)

	// Assignment arrives before the dwell elapses.
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7"})
	resolver.pollAssignment(ctx)

	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-7", snap.PresentationID)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, "pres-7", engine.Snapshot().PresentationID, "cancelled auto-launch never fired")
}

// A pushed assign_presentation command is an assignment session like any
// other: a later default poll must not arm an auto-launch over it.
func TestResolver_PushedAssignmentSuppressesDefault(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2", Name: "Fallback"})
	resolver, engine := newTestResolver(t, stub)
	ctx := context.Background()

	resolver.ForceAssignment(ctx, "pres-7")
	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-7", snap.PresentationID)

	resolver.pollDefault(ctx)
	assert.False(t, resolver.PromptVisible())

	// Well past the auto-launch dwell the forced session still holds the
	// screen.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, "pres-7", engine.Snapshot().PresentationID)
	assert.True(t, engine.Forced())
}

func TestResolver_DismissCancelsAutoLaunch(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2"})
	resolver, engine := newTestResolver(t, stub)

	resolver.pollDefault(context.Background())
	resolver.DismissPrompt()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, playback.StateIdle, engine.Snapshot().State)
	assert.False(t, resolver.PromptVisible())
}

func TestResolver_DismissedDefaultNotReoffered(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2"})
	resolver, _ := newTestResolver(t, stub)
	ctx := context.Background()

	resolver.pollDefault(ctx)
	resolver.DismissPrompt()
	resolver.pollDefault(ctx)

	assert.False(t, resolver.PromptVisible())
}

func TestResolver_LaunchDefaultNow(t *testing.T) {
	stub := &coordinatorStub{}
	stub.setDefault(&DefaultPresentation{ID: "pres-2"})
	resolver, engine := newTestResolver(t, stub)

	resolver.pollDefault(context.Background())
	resolver.LaunchDefaultNow()

	snap := waitForState(t, engine, playback.StatePlaying)
	assert.Equal(t, "pres-2", snap.PresentationID)
}

func TestResolver_NotFoundDisablesProbe(t *testing.T) {
	stub := &coordinatorStub{assignment404: true}
	resolver, _ := newTestResolver(t, stub)
	ctx := context.Background()

	resolver.pollAssignment(ctx)
	assert.False(t, resolver.assignmentEnabled)

	// A later recovery of the endpoint changes nothing this session.
	stub.mu.Lock()
	stub.assignment404 = false
	stub.mu.Unlock()
	stub.setAssignment(&Assignment{ID: "as-1", PresentationID: "pres-7"})
	resolver.pollAssignment(ctx)
	assert.Empty(t, stub.viewed())
}
