// Package websocket relays a privacy request's execution log to a
// WebSocket client as entries are appended.
//
// This file implements LogStreamer, which polls the execution log tail
// for a request and pushes newly-appended entries as JSON messages until
// the request reaches a terminal status or the client disconnects.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Upgrader is the shared gorilla/websocket upgrader for the stream
// endpoint. Origin checking is left permissive here; callers embedding
// this package behind a reverse proxy should wrap CheckOrigin themselves.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LogTailer is the subset of the Store contract this package needs.
type LogTailer interface {
	ExecutionLogTail(ctx context.Context, requestID uuid.UUID, limit int) ([]model.ExecutionLog, error)
	LoadPrivacyRequest(ctx context.Context, id uuid.UUID) (*model.PrivacyRequest, error)
}

// StreamMessageType distinguishes the kinds of messages sent over a log
// stream.
type StreamMessageType string

const (
	// StreamMessageLog carries one execution log entry.
	StreamMessageLog StreamMessageType = "log"
	// StreamMessageDone indicates the request reached a terminal status;
	// no further messages follow.
	StreamMessageDone StreamMessageType = "done"
	// StreamMessageError indicates the streamer could not continue.
	StreamMessageError StreamMessageType = "error"
)

// StreamMessage is one frame sent to the client.
type StreamMessage struct {
	Type      StreamMessageType    `json:"type"`
	Log       *model.ExecutionLog  `json:"log,omitempty"`
	Status    model.RequestStatus  `json:"status,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// LogStreamer polls a request's execution log tail and relays new
// entries to a WebSocket connection.
type LogStreamer struct {
	store        LogTailer
	pollInterval time.Duration
	writeWait    time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
}

// LogStreamerConfig configures a LogStreamer.
type LogStreamerConfig struct {
	// PollInterval is how often the tail is re-checked for new entries.
	// Defaults to 500ms.
	PollInterval time.Duration
	// WriteWait bounds each WebSocket write. Defaults to 10s.
	WriteWait time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewLogStreamer builds a LogStreamer backed by store.
func NewLogStreamer(store LogTailer, cfg LogStreamerConfig) *LogStreamer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LogStreamer{
		store:        store,
		pollInterval: cfg.PollInterval,
		writeWait:    cfg.WriteWait,
		logger:       cfg.Logger,
	}
}

// Stream relays log entries for requestID to conn until the request
// completes, the context is cancelled, or the connection errors.
func (s *LogStreamer) Stream(ctx context.Context, conn *websocket.Conn, requestID uuid.UUID) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			entries, err := s.store.ExecutionLogTail(ctx, requestID, 1000)
			if err != nil {
				s.writeError(conn, err)
				return fmt.Errorf("websocket: failed to load execution log tail: %w", err)
			}

			for _, entry := range entries[sent:] {
				entry := entry
				if err := s.write(conn, StreamMessage{Type: StreamMessageLog, Log: &entry, Timestamp: time.Now()}); err != nil {
					return fmt.Errorf("websocket: failed to write log entry: %w", err)
				}
			}
			sent = len(entries)

			req, err := s.store.LoadPrivacyRequest(ctx, requestID)
			if err != nil {
				s.writeError(conn, err)
				return fmt.Errorf("websocket: failed to load privacy request: %w", err)
			}
			if req.Status == model.RequestComplete || req.Status == model.RequestErrored {
				return s.write(conn, StreamMessage{Type: StreamMessageDone, Status: req.Status, Timestamp: time.Now()})
			}
		}
	}
}

func (s *LogStreamer) write(conn *websocket.Conn, msg StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("websocket: stream is closed")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (s *LogStreamer) writeError(conn *websocket.Conn, err error) {
	_ = s.write(conn, StreamMessage{Type: StreamMessageError, Error: err.Error(), Timestamp: time.Now()})
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// ParseStreamMessage parses a JSON byte array into a StreamMessage, used
// by tests exercising the wire format directly.
func ParseStreamMessage(data []byte) (*StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse stream message: %w", err)
	}
	return &msg, nil
}
