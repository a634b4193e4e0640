// Package connector defines the contract the task execution engine uses
// to reach a dataset's underlying data store. Concrete implementations
// (e.g. internal/connector/postgres) adapt this to a specific driver; the
// engine itself never imports a driver directly.
package connector

import (
	"context"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// ErrorKind classifies a connector-level failure for logging and retry
// decisions.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindQuery      ErrorKind = "query"
)

// Error wraps a connector failure with a kind so the engine's retry loop
// and ExecutionLog messages can distinguish connection problems from
// rejected statements without string-matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (k ErrorKind) String() string { return string(k) }

// Connector is implemented once per dataset (one instance shared across
// every task of that dataset within a request; the engine never creates
// more than one pool per dataset per request).
type Connector interface {
	// TestConnection verifies the connector can reach its data store.
	TestConnection(ctx context.Context) error

	// RetrieveData runs the SELECT described by stmt against node's
	// collection and returns the matched rows. A nil stmt (the query
	// layer chose to skip because every input was empty) returns no rows
	// and no error — callers should check for a nil statement themselves
	// before calling, but RetrieveData is defensive regardless.
	RetrieveData(ctx context.Context, node *model.TraversalNode, stmt *query.Statement) ([]model.Row, error)

	// MaskData runs the UPDATE described by stmt for one row and returns
	// the number of rows masked (0 or 1 for primary-key-targeted updates,
	// but the interface allows bulk statements to report more).
	MaskData(ctx context.Context, node *model.TraversalNode, stmt *query.Statement) (int, error)

	// Close idempotently releases pooled resources.
	Close() error
}
