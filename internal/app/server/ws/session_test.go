package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stranger/internal/app/registry"
	"stranger/internal/config"
	"stranger/internal/platform/metrics"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) HandleFrame(_ context.Context, _ string, _ int, data []byte) error {
	if string(data) == "boom" {
		panic("handler exploded")
	}
	h.mu.Lock()
	h.frames = append(h.frames, string(data))
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

type result struct {
	session *Session
	err     error
}

func startSession(t *testing.T, handler FrameHandler) (*websocket.Conn, *registry.Registry, <-chan result) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewRegistry(log, metrics.New())
	cfg := config.Default().Session
	done := make(chan result, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := make(chan []byte, 8)
		if !hub.Register("alice", out) {
			http.Error(w, "duplicate", http.StatusConflict)
			return
		}
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.Unregister("alice")
			return
		}
		s := NewSession(log, "alice", NewConn(raw, cfg), out, hub, handler, 0)
		err = s.Run(context.WithoutCancel(r.Context()))
		done <- result{session: s, err: err}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, hub, done
}

func waitResult(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return result{}
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "upgrading", StateUpgrading.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSession_ConnectedFirstThenFramesReachHandler(t *testing.T) {
	h := &recordingHandler{}
	conn, hub, done := startSession(t, h)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","client_id":"alice","online_count":1}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("two")))
	assert.Eventually(t, func() bool { return len(h.seen()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, h.seen())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	r := waitResult(t, done)
	assert.NoError(t, r.err)
	assert.Equal(t, StateClosed, r.session.State())
	assert.False(t, hub.IsOnline("alice"))
}

func TestSession_HandlerPanicEndsOnlyThisSession(t *testing.T) {
	conn, hub, done := startSession(t, &recordingHandler{})
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("boom")))
	r := waitResult(t, done)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "reader panic")
	assert.Equal(t, StateClosed, r.session.State())
	assert.False(t, hub.IsOnline("alice"))
}

func TestSession_RegistryCloseSendsNormalClosure(t *testing.T) {
	conn, hub, done := startSession(t, &recordingHandler{})
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	waitResult(t, done)
}
