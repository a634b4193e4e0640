package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/api/websocket"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

type fakeLogTailer struct {
	entries    []model.ExecutionLog
	status     model.RequestStatus
	tailErr    error
	requestErr error
}

func (f *fakeLogTailer) ExecutionLogTail(ctx context.Context, requestID uuid.UUID, limit int) ([]model.ExecutionLog, error) {
	return f.entries, f.tailErr
}

func (f *fakeLogTailer) LoadPrivacyRequest(ctx context.Context, id uuid.UUID) (*model.PrivacyRequest, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &model.PrivacyRequest{ID: id, Status: f.status}, nil
}

func newTestServer(t *testing.T, store *fakeLogTailer, streamer *websocket.LogStreamer, requestID uuid.UUID) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = streamer.Stream(r.Context(), conn, requestID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLogStreamer_RelaysEntriesThenDone(t *testing.T) {
	requestID := uuid.New()
	store := &fakeLogTailer{
		entries: []model.ExecutionLog{{ID: uuid.New(), Message: "retrieved 2 row(s)"}},
		status:  model.RequestComplete,
	}
	streamer := websocket.NewLogStreamer(store, websocket.LogStreamerConfig{PollInterval: 5 * time.Millisecond})

	srv := newTestServer(t, store, streamer, requestID)
	conn := dial(t, srv)

	var sawLog, sawDone bool
	for i := 0; i < 5; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := websocket.ParseStreamMessage(data)
		require.NoError(t, err)
		switch msg.Type {
		case websocket.StreamMessageLog:
			sawLog = true
			require.NotNil(t, msg.Log)
			assert.Equal(t, "retrieved 2 row(s)", msg.Log.Message)
		case websocket.StreamMessageDone:
			sawDone = true
			assert.Equal(t, model.RequestComplete, msg.Status)
		}
		if sawDone {
			break
		}
	}

	assert.True(t, sawLog, "expected at least one log message before done")
	assert.True(t, sawDone, "expected a done message once the request completes")
}

func TestLogStreamer_StopsOnContextCancellation(t *testing.T) {
	requestID := uuid.New()
	store := &fakeLogTailer{status: model.RequestRunning}
	streamer := websocket.NewLogStreamer(store, websocket.LogStreamerConfig{PollInterval: 5 * time.Millisecond})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(r.Context(), 20*time.Millisecond)
		defer cancel()
		err = streamer.Stream(ctx, conn, requestID)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes the connection once the context is cancelled without a terminal status")
}
