// Package postgres implements the privacygraph connector.Connector
// contract against PostgreSQL (and, via the same driver, Redshift), wrapping
// pgx/v5's connection pool: one *pgxpool.Pool per Connector, constructed
// once and shared across every task of that dataset for a request.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/medisync/privacygraph/internal/privacygraph/connector"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// Connector adapts a pgxpool.Pool to the privacygraph connector.Connector
// contract for one dataset.
type Connector struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Config holds the settings needed to construct a Connector.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	Logger          *slog.Logger
}

// New creates a Connector and its underlying connection pool. The pool is
// created eagerly so TestConnection can verify reachability without a
// first query.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connector/postgres: failed to parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connector/postgres: failed to create pool: %w", err)
	}

	return &Connector{pool: pool, logger: logger}, nil
}

// TestConnection verifies the pool can reach the database.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return &connector.Error{Kind: connector.KindConnection, Message: "ping failed", Cause: err}
	}
	return nil
}

// RetrieveData runs stmt's SELECT and scans every returned row into a
// model.Row keyed by column name.
func (c *Connector) RetrieveData(ctx context.Context, node *model.TraversalNode, stmt *query.Statement) ([]model.Row, error) {
	if stmt == nil {
		return nil, nil
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, &connector.Error{Kind: connector.KindConnection, Message: "failed to acquire connection", Cause: err}
	}
	defer conn.Release()

	for _, pre := range stmt.PreStatements {
		if _, err := conn.Exec(ctx, pre); err != nil {
			return nil, &connector.Error{Kind: connector.KindQuery, Message: "pre-statement failed", Cause: err}
		}
	}

	rows, err := conn.Query(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, &connector.Error{Kind: connector.KindQuery, Message: "select failed", Cause: err}
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, &connector.Error{Kind: connector.KindQuery, Message: "failed to scan rows", Cause: err}
	}
	return result, nil
}

// MaskData runs stmt's UPDATE and returns the number of rows affected.
func (c *Connector) MaskData(ctx context.Context, node *model.TraversalNode, stmt *query.Statement) (int, error) {
	if stmt == nil {
		return 0, nil
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, &connector.Error{Kind: connector.KindConnection, Message: "failed to acquire connection", Cause: err}
	}
	defer conn.Release()

	for _, pre := range stmt.PreStatements {
		if _, err := conn.Exec(ctx, pre); err != nil {
			return 0, &connector.Error{Kind: connector.KindQuery, Message: "pre-statement failed", Cause: err}
		}
	}

	tag, err := conn.Exec(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return 0, &connector.Error{Kind: connector.KindQuery, Message: "update failed", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the pool. Idempotent: closing an already-closed pool is
// a no-op in pgxpool.
func (c *Connector) Close() error {
	c.pool.Close()
	return nil
}

func scanRows(rows pgx.Rows) ([]model.Row, error) {
	fieldDescs := rows.FieldDescriptions()
	var out []model.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(model.Row, len(values))
		for i, fd := range fieldDescs {
			row[string(fd.Name)] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue converts pgvector's vector type (and anything else that
// needs it) into a plain Go value so downstream code (the result filter,
// masking) never has to special-case the driver's wire types.
func normalizeValue(v any) any {
	if vec, ok := v.(pgvector.Vector); ok {
		return vec.Slice()
	}
	return v
}
