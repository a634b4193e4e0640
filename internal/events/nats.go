// Package events provides NATS messaging for the privacy request engine.
//
// It publishes lifecycle events for a privacy request — queued, a node
// reaching a terminal state, and overall completion — so the API and
// worker processes can react without polling the store. Grounded in the
// teacher's events package: a Publisher wrapping *nats.Conn, subject
// constants, JSON-encoded payloads, and a Subscriber for queue-group
// consumption.
//
// Usage:
//
//	publisher, err := events.NewPublisher(events.PublisherConfig{URL: cfg.NATS.URL}, logger)
//	if err != nil {
//	    log.Fatal("failed to create NATS publisher:", err)
//	}
//	defer publisher.Close()
//
//	err = publisher.PublishRequestQueued(ctx, requestID, model.ActionAccess)
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Event subjects.
const (
	// SubjectRequestQueued is published when a privacy request is
	// accepted and ready for a worker to pick up.
	SubjectRequestQueued = "privacyrequest.queued"
	// SubjectNodeCompleted is published each time a traversal node
	// reaches a terminal state (complete or error).
	SubjectNodeCompleted = "privacyrequest.node.completed"
	// SubjectRequestCompleted is published once a request's execution
	// (access, and erasure if requested) has finished.
	SubjectRequestCompleted = "privacyrequest.completed"
)

// Publisher publishes privacy-request lifecycle events to NATS.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// PublisherConfig holds configuration for creating a Publisher.
type PublisherConfig struct {
	// URL is the NATS server URL.
	URL string

	// Name is the client connection name.
	Name string

	// MaxReconnects is the maximum reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the wait duration between reconnection attempts.
	ReconnectWait time.Duration
}

// NewPublisher creates a new NATS event publisher.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "privacygraph-publisher"
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected",
					slog.String("error", err.Error()),
				)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				slog.String("url", nc.ConnectedUrl()),
			)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS",
		slog.String("url", url),
	)

	return &Publisher{conn: nc, logger: logger.With(slog.String("component", "events"))}, nil
}

// Close closes the NATS connection. Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

// Publish publishes a message to a NATS subject, JSON-encoding data.
func (p *Publisher) Publish(ctx context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return fmt.Errorf("events: publisher is closed")
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("events: failed to marshal event data: %w", err)
	}

	if err := p.conn.Publish(subject, jsonData); err != nil {
		return fmt.Errorf("events: failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event",
		slog.String("subject", subject),
		slog.Int("size", len(jsonData)),
	)

	return nil
}

// RequestQueuedEvent is published when a privacy request is accepted.
type RequestQueuedEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	Action    string    `json:"action"`
	QueuedAt  time.Time `json:"queued_at"`
}

// NodeCompletedEvent is published each time a traversal node reaches a
// terminal state.
type NodeCompletedEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	Dataset    string    `json:"dataset"`
	Collection string    `json:"collection"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// RequestCompletedEvent is published once a request's execution finishes.
type RequestCompletedEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	Action      string    `json:"action"`
	CompletedAt time.Time `json:"completed_at"`
}

// PublishRequestQueued publishes a RequestQueuedEvent.
func (p *Publisher) PublishRequestQueued(ctx context.Context, requestID uuid.UUID, action model.Action) error {
	return p.Publish(ctx, SubjectRequestQueued, &RequestQueuedEvent{
		RequestID: requestID,
		Action:    string(action),
		QueuedAt:  time.Now(),
	})
}

// PublishNodeCompleted implements engine.NodeEventPublisher. Publish
// failures are logged, not returned — a dropped event never aborts the
// node whose completion it reports.
func (p *Publisher) PublishNodeCompleted(ctx context.Context, requestID uuid.UUID, address model.CollectionAddress, status model.ExecutionStatus) {
	evt := &NodeCompletedEvent{
		RequestID:  requestID,
		Dataset:    address.Dataset,
		Collection: address.Collection,
		Status:     string(status),
		At:         time.Now(),
	}
	if err := p.Publish(ctx, SubjectNodeCompleted, evt); err != nil {
		p.logger.Warn("failed to publish node completion", slog.String("error", err.Error()))
	}
}

// PublishRequestCompleted publishes a RequestCompletedEvent.
func (p *Publisher) PublishRequestCompleted(ctx context.Context, requestID uuid.UUID, action model.Action) error {
	return p.Publish(ctx, SubjectRequestCompleted, &RequestCompletedEvent{
		RequestID:   requestID,
		Action:      string(action),
		CompletedAt: time.Now(),
	})
}

// SubscriptionOptions configures a subscription.
type SubscriptionOptions struct {
	// Queue is the queue group name. Workers sharing a Queue split
	// delivery of a subject instead of each receiving every message.
	Queue string
}

// MessageHandler is a function that handles incoming messages.
type MessageHandler func(msg *Message) error

// Message represents a received NATS message.
type Message struct {
	Subject string
	Data    []byte
}

// Subscriber consumes messages from a subject.
type Subscriber struct {
	sub     *nats.Subscription
	handler MessageHandler
	logger  *slog.Logger
}

// NewSubscriber subscribes handler to subject. When opts.Queue is set,
// the subscription joins that queue group so concurrent worker
// processes split delivery rather than each handling every message.
func NewSubscriber(publisher *Publisher, subject string, handler MessageHandler, opts *SubscriptionOptions) (*Subscriber, error) {
	if publisher == nil {
		return nil, fmt.Errorf("events: publisher is required")
	}

	publisher.mu.Lock()
	conn := publisher.conn
	publisher.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("events: publisher connection is closed")
	}

	if opts == nil {
		opts = &SubscriptionOptions{}
	}

	sub := &Subscriber{handler: handler, logger: publisher.logger}

	var natsSub *nats.Subscription
	var err error
	if opts.Queue != "" {
		natsSub, err = conn.QueueSubscribe(subject, opts.Queue, sub.handleMessage)
	} else {
		natsSub, err = conn.Subscribe(subject, sub.handleMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("events: failed to create subscription: %w", err)
	}
	sub.sub = natsSub

	publisher.logger.Info("created NATS subscription",
		slog.String("subject", subject),
		slog.String("queue", opts.Queue),
	)

	return sub, nil
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	wrapped := &Message{Subject: msg.Subject, Data: msg.Data}
	if err := s.handler(wrapped); err != nil {
		s.logger.Error("message handler error",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// Close unsubscribes. Idempotent.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

// IsValidSubject reports whether subject contains no NATS-reserved
// whitespace, so callers can validate dynamically built subjects (e.g.
// a per-dataset subject suffix) before publishing.
func IsValidSubject(subject string) bool {
	if subject == "" {
		return false
	}
	for _, c := range subject {
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			return false
		}
	}
	return true
}
