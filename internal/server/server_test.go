package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/session"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) Analyze(fen string)        { l.add("analyze " + fen) }
func (l *recordingListener) Stop()                     { l.add("stop") }
func (l *recordingListener) ClientConnected(string)    { l.add("connected") }
func (l *recordingListener) ClientDisconnected(string) { l.add("disconnected") }

func (l *recordingListener) has(ev string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == ev {
			return true
		}
	}
	return false
}

type staticStatus struct {
	status models.Status
	snap   *models.Snapshot
}

func (s staticStatus) Status() models.Status { return s.status }

func (s staticStatus) Snapshot() (models.Snapshot, bool) {
	if s.snap == nil {
		return models.Snapshot{}, false
	}
	return *s.snap, true
}

func newTestServer(t *testing.T, status StatusSource) (*httptest.Server, *session.Manager, *recordingListener) {
	t.Helper()
	l := &recordingListener{}
	m := session.NewManager(l)
	s := New(Config{SendBuffer: 8, WriteTimeout: time.Second}, m, status)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, m, l
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWebSocket_CommandsReachListener(t *testing.T) {
	ts, _, l := newTestServer(t, staticStatus{})
	ws := dial(t, ts)

	require.Eventually(t, func() bool { return l.has("connected") }, time.Second, 5*time.Millisecond)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"analyze","fen":"startpos"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))

	require.Eventually(t, func() bool { return l.has("analyze startpos") && l.has("stop") }, time.Second, 5*time.Millisecond)
}

func TestWebSocket_BroadcastDelivered(t *testing.T) {
	ts, m, _ := newTestServer(t, staticStatus{})
	ws := dial(t, ts)
	require.Eventually(t, func() bool { _, ok := m.Live(); return ok }, time.Second, 5*time.Millisecond)

	m.Broadcast(models.Stopped)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"stopped"}`, string(data))
}

func TestWebSocket_SecondClientDisplacesFirst(t *testing.T) {
	ts, m, _ := newTestServer(t, staticStatus{})
	first := dial(t, ts)
	require.Eventually(t, func() bool { _, ok := m.Live(); return ok }, time.Second, 5*time.Millisecond)
	firstID, _ := m.Live()

	dial(t, ts)
	require.Eventually(t, func() bool { id, ok := m.Live(); return ok && id != firstID }, time.Second, 5*time.Millisecond)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.True(t, websocket.IsCloseError(err, session.CloseDisplaced), "got %v", err)
}

func TestWebSocket_ClientCloseDisconnects(t *testing.T) {
	ts, m, l := newTestServer(t, staticStatus{})
	ws := dial(t, ts)
	require.Eventually(t, func() bool { _, ok := m.Live(); return ok }, time.Second, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	require.Eventually(t, func() bool { return l.has("disconnected") }, time.Second, 5*time.Millisecond)
	_, ok := m.Live()
	require.False(t, ok)
}

func TestWebSocket_ShutdownClose(t *testing.T) {
	ts, m, _ := newTestServer(t, staticStatus{})
	ws := dial(t, ts)
	require.Eventually(t, func() bool { _, ok := m.Live(); return ok }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close(session.CloseGoingAway, session.ReasonShutdown))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHealth(t *testing.T) {
	st := models.Status{Engine: models.EngineReady, Phase: models.PhaseAnalyzing, Position: "startpos"}
	ts, _, _ := newTestServer(t, staticStatus{status: st})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got models.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, models.EngineReady, got.Engine)
	require.Equal(t, "startpos", got.Position)
}

func TestAnalysis(t *testing.T) {
	ts, _, _ := newTestServer(t, staticStatus{})
	resp, err := http.Get(ts.URL + "/analysis")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	snap := models.Snapshot{FEN: "startpos", Lines: []models.AnalysisLine{{Score: "0.30", Depth: 20, UCIMoves: "e2e4", FEN: "startpos"}}}
	ts, _, _ = newTestServer(t, staticStatus{snap: &snap})
	resp, err = http.Get(ts.URL + "/analysis")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, snap, got)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, staticStatus{})
	for _, path := range []string{"/health", "/analysis", "/ws"} {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestServe_ListenAndShutdown(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, session.NewManager(&recordingListener{}), staticStatus{})
	require.NoError(t, s.Listen())
	require.NotEqual(t, "127.0.0.1:0", s.Addr())

	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-served)
}
