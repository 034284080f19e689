package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratopt/internal/db"
	"github.com/ajitpratap0/stratopt/internal/metrics"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type fakeController struct {
	mu         sync.Mutex
	state      optimizer.RunState
	runID      string
	generation int
	completed  int64
	planned    int64
	best       map[string]interface{}
	fitness    float64
	hasBest    bool
	lastErr    error
	controlErr error
	calls      []string
}

func (f *fakeController) State() optimizer.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeController) RunID() string   { return f.runID }
func (f *fakeController) Generation() int { return f.generation }
func (f *fakeController) Progress() (int64, int64) {
	return f.completed, f.planned
}
func (f *fakeController) Best() (map[string]interface{}, float64, bool) {
	return f.best, f.fitness, f.hasBest
}
func (f *fakeController) LastError() error { return f.lastErr }

func (f *fakeController) transition(call string, to optimizer.RunState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.controlErr != nil {
		return f.controlErr
	}
	f.state = to
	return nil
}

func (f *fakeController) Suspend() error { return f.transition("suspend", optimizer.StateSuspending) }
func (f *fakeController) Resume() error  { return f.transition("resume", optimizer.StateStarted) }
func (f *fakeController) Stop() error    { return f.transition("stop", optimizer.StateStopping) }

type fakeRunStore struct {
	runs        []*db.RunRecord
	generations []*db.GenerationRecord
	err         error
	lastLimit   int
}

func (f *fakeRunStore) GetRun(_ context.Context, id string) (*db.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, db.ErrRunNotFound
}

func (f *fakeRunStore) ListRuns(_ context.Context, limit int) ([]*db.RunRecord, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func (f *fakeRunStore) ListGenerations(_ context.Context, _ string) ([]*db.GenerationRecord, error) {
	return f.generations, f.err
}

func newTestServer(ctrl Controller, runs RunStore) *Server {
	return NewServer(Config{Host: "127.0.0.1", Port: 0, Optimizer: ctrl, Runs: runs})
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// =============================================================================
// Health & Status
// =============================================================================

func TestHandleGetHealth(t *testing.T) {
	s := newTestServer(&fakeController{}, nil)
	w := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	s = NewServer(Config{
		Optimizer: &fakeController{},
		Health:    func(context.Context) error { return errors.New("database unavailable") },
	})
	w = do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unavailable")
}

func TestHandleRoot(t *testing.T) {
	w := do(t, newTestServer(&fakeController{}, nil), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"stratopt"`)
}

func TestHandleGetStatus(t *testing.T) {
	ctrl := &fakeController{
		state:      optimizer.StateStarted,
		runID:      "run-1",
		generation: 4,
		completed:  30,
		planned:    120,
		best:       map[string]interface{}{"fast_period": 8},
		fitness:    1.75,
		hasBest:    true,
	}

	w := do(t, newTestServer(ctrl, nil), http.MethodGet, "/api/v1/optimizer/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	decode(t, w, &resp)
	assert.Equal(t, "started", resp.State)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 4, resp.Generation)
	assert.InDelta(t, 0.25, resp.Progress, 1e-9)
	require.NotNil(t, resp.BestFitness)
	assert.Equal(t, 1.75, *resp.BestFitness)
	assert.EqualValues(t, 8, resp.BestParameters["fast_period"])
}

func TestHandleGetStatus_NoBestYet(t *testing.T) {
	ctrl := &fakeController{
		state:   optimizer.StateStopped,
		fitness: genetic.MinFitness,
		hasBest: true,
		lastErr: optimizer.ErrEvaluationFailed,
	}

	w := do(t, newTestServer(ctrl, nil), http.MethodGet, "/api/v1/optimizer/status")
	var resp StatusResponse
	decode(t, w, &resp)
	assert.Nil(t, resp.BestFitness)
	assert.Zero(t, resp.Progress)
	assert.Equal(t, optimizer.ErrEvaluationFailed.Error(), resp.LastError)
}

// =============================================================================
// Control
// =============================================================================

func TestControlEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		controlErr error
		wantCode   int
		wantCall   string
	}{
		{"suspend", "/api/v1/optimizer/suspend", nil, http.StatusAccepted, "suspend"},
		{"resume", "/api/v1/optimizer/resume", nil, http.StatusAccepted, "resume"},
		{"stop", "/api/v1/optimizer/stop", nil, http.StatusAccepted, "stop"},
		{"wrong state", "/api/v1/optimizer/suspend", optimizer.ErrNotRunning, http.StatusConflict, "suspend"},
		{"unexpected error", "/api/v1/optimizer/stop", errors.New("boom"), http.StatusInternalServerError, "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{state: optimizer.StateStarted, controlErr: tt.controlErr}
			w := do(t, newTestServer(ctrl, nil), http.MethodPost, tt.path)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, []string{tt.wantCall}, ctrl.calls)
			if tt.wantCode == http.StatusConflict {
				assert.Contains(t, w.Body.String(), `"state":"started"`)
			}
		})
	}
}

func TestControlEndpoints_MethodNotAllowed(t *testing.T) {
	w := do(t, newTestServer(&fakeController{}, nil), http.MethodGet, "/api/v1/optimizer/stop")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoggerMiddleware_RecordsRoute(t *testing.T) {
	counter := metrics.APIRequests.WithLabelValues(http.MethodGet, "/api/v1/optimizer/status", "200")
	before := testutil.ToFloat64(counter)

	do(t, newTestServer(&fakeController{}, nil), http.MethodGet, "/api/v1/optimizer/status")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestCORS(t *testing.T) {
	s := NewServer(Config{Optimizer: &fakeController{}, AllowedOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/optimizer/stop", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// =============================================================================
// Run History
// =============================================================================

func TestRunHistory_WithoutDatabase(t *testing.T) {
	s := newTestServer(&fakeController{}, nil)
	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/" + uuid.NewString()} {
		w := do(t, s, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestHandleListRuns(t *testing.T) {
	store := &fakeRunStore{runs: []*db.RunRecord{
		{ID: uuid.NewString(), Strategy: "ema-crossover", Status: optimizer.OutcomeTerminated},
	}}
	s := newTestServer(&fakeController{}, store)

	w := do(t, s, http.MethodGet, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, store.lastLimit)

	var body struct {
		Runs  []db.RunRecord `json:"runs"`
		Count int            `json:"count"`
	}
	decode(t, w, &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "ema-crossover", body.Runs[0].Strategy)

	for _, limit := range []string{"0", "abc", "501"} {
		w = do(t, s, http.MethodGet, "/api/v1/runs?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}

	store.err = errors.New("db down")
	w = do(t, s, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleGetRun(t *testing.T) {
	id := uuid.NewString()
	store := &fakeRunStore{runs: []*db.RunRecord{{ID: id, Strategy: "rsi"}}}
	s := newTestServer(&fakeController{}, store)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"found", "/api/v1/runs/" + id, http.StatusOK},
		{"not found", "/api/v1/runs/" + uuid.NewString(), http.StatusNotFound},
		{"invalid id", "/api/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"generations", "/api/v1/runs/" + id + "/generations", http.StatusOK},
		{"generations invalid id", "/api/v1/runs/x/generations", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

// =============================================================================
// Event Stream
// =============================================================================

func dialStream(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	s := NewServer(Config{Optimizer: &fakeController{}, Hub: hub})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/optimizer/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_StreamsObserverEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	conn := dialStream(t, hub)

	require.NoError(t, hub.GenerationCompleted(ctx, optimizer.GenerationEvent{RunID: "run-1", Generation: 2, BestFitness: 0.5}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeGeneration, msg.Type)

	var event optimizer.GenerationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, 2, event.Generation)

	hub.StateChanged(optimizer.StateStarted, optimizer.StateStopping)
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeState, msg.Type)
	assert.JSONEq(t, `{"from":"started","to":"stopping"}`, string(msg.Data))

	require.NoError(t, hub.RunFinished(ctx, optimizer.RunSummary{RunID: "run-1", Outcome: optimizer.OutcomeStopped}))
	assert.Equal(t, MessageTypeRunFinished, readMessage(t, conn).Type)
}

func TestHub_AnswersPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	conn := dialStream(t, hub)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	conn := dialStream(t, hub)
	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// broadcasting after shutdown never blocks
	assert.NoError(t, hub.RunStarted(context.Background(), optimizer.RunInfo{RunID: "late"}))
}

func TestClient_TrySendDropsWhenBackedUp(t *testing.T) {
	client := &Client{send: make(chan []byte, 1)}

	assert.True(t, client.trySend([]byte("first")))
	assert.False(t, client.trySend([]byte("second")), "full queue drops")

	client.close()
	client.close()
	assert.False(t, client.trySend([]byte("third")), "closed client drops")

	msg, ok := <-client.send
	assert.True(t, ok)
	assert.Equal(t, "first", string(msg))
}
