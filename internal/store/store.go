// Package store implements the privacy request engine's Store contract:
// append-only execution log persistence plus read-only policy
// and dataset-config lookups, backed by PostgreSQL via pgx/v5. The shape
// follows a warehouse repository: a pool field and logger
// field on a Repo-like struct, explicit SQL strings, no ORM.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Store provides persistence for privacy requests, execution logs, and
// read-only policy/dataset config lookups.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New constructs a Store from an existing pool. Construction of the pool
// itself (DSN parsing, pool sizing) is left to callers so the engine's
// one-pool-per-dataset rule and this store's own pool stay independent.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With(slog.String("component", "store"))}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AppendExecutionLog inserts one execution log entry. Writes are
// append-only and safe under concurrent callers — the engine's tasks call
// this from many goroutines at once.
func (s *Store) AppendExecutionLog(ctx context.Context, entry model.ExecutionLog) error {
	const q = `
		INSERT INTO privacygraph.execution_log
			(id, privacy_request_id, dataset, collection, action, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, q,
		entry.ID, entry.PrivacyRequestID, entry.Dataset, entry.Collection,
		string(entry.Action), string(entry.Status), entry.Message, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: failed to append execution log: %w", err)
	}
	return nil
}

// ExecutionLogTail returns the most recent log entries for a privacy
// request, newest last.
func (s *Store) ExecutionLogTail(ctx context.Context, requestID uuid.UUID, limit int) ([]model.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, privacy_request_id, dataset, collection, action, status, message, created_at
		FROM (
			SELECT id, privacy_request_id, dataset, collection, action, status, message, created_at
			FROM privacygraph.execution_log
			WHERE privacy_request_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) AS tail
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, q, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load execution log tail: %w", err)
	}
	defer rows.Close()

	var out []model.ExecutionLog
	for rows.Next() {
		var e model.ExecutionLog
		var action, status string
		if err := rows.Scan(&e.ID, &e.PrivacyRequestID, &e.Dataset, &e.Collection, &action, &status, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: failed to scan execution log row: %w", err)
		}
		e.Action = model.Action(action)
		e.Status = model.ExecutionStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreatePrivacyRequest persists a new privacy request.
func (s *Store) CreatePrivacyRequest(ctx context.Context, req *model.PrivacyRequest) error {
	seeds, err := json.Marshal(req.Seeds)
	if err != nil {
		return fmt.Errorf("store: failed to marshal seeds: %w", err)
	}
	categories := make([]string, len(req.Categories))
	for i, c := range req.Categories {
		categories[i] = string(c)
	}

	const q = `
		INSERT INTO privacygraph.privacy_request
			(id, seeds, categories, dataset_keys, action, policy_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	status := req.Status
	if status == "" {
		status = model.RequestQueued
	}
	_, err = s.pool.Exec(ctx, q, req.ID, seeds, categories, req.DatasetKeys, string(req.Action), req.PolicyKey, string(status), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to create privacy request: %w", err)
	}
	return nil
}

// UpdateRequestStatus transitions a privacy request's overall status and
// sets completed_at to completedAt as given (a nil completedAt clears it).
func (s *Store) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status model.RequestStatus, completedAt *time.Time) error {
	const q = `
		UPDATE privacygraph.privacy_request
		SET status = $2, completed_at = $3
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, q, id, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("store: failed to update request status: %w", err)
	}
	return nil
}

// LoadPrivacyRequest loads a privacy request by id, without its log tail
// (callers fetch that separately via ExecutionLogTail to avoid paying for
// it on every status poll).
func (s *Store) LoadPrivacyRequest(ctx context.Context, id uuid.UUID) (*model.PrivacyRequest, error) {
	const q = `
		SELECT id, seeds, categories, dataset_keys, action, policy_key, status, created_at, completed_at
		FROM privacygraph.privacy_request
		WHERE id = $1
	`
	var req model.PrivacyRequest
	var seedsJSON []byte
	var categories []string
	var action, status string
	if err := s.pool.QueryRow(ctx, q, id).Scan(
		&req.ID, &seedsJSON, &categories, &req.DatasetKeys, &action, &req.PolicyKey, &status, &req.CreatedAt, &req.CompletedAt,
	); err != nil {
		return nil, fmt.Errorf("store: failed to load privacy request: %w", err)
	}
	if err := json.Unmarshal(seedsJSON, &req.Seeds); err != nil {
		return nil, fmt.Errorf("store: failed to unmarshal seeds: %w", err)
	}
	req.Action = model.Action(action)
	req.Status = model.RequestStatus(status)
	for _, c := range categories {
		req.Categories = append(req.Categories, fieldpath.Category(c))
	}
	return &req, nil
}

// LoadPolicy loads a named policy. Policies are read-only configuration,
// not mutated by request execution.
func (s *Store) LoadPolicy(ctx context.Context, key string) (model.Policy, error) {
	const q = `SELECT key, rules FROM privacygraph.policy WHERE key = $1`
	var policy model.Policy
	var rulesJSON []byte
	if err := s.pool.QueryRow(ctx, q, key).Scan(&policy.Key, &rulesJSON); err != nil {
		return model.Policy{}, fmt.Errorf("store: failed to load policy %q: %w", key, err)
	}
	if err := json.Unmarshal(rulesJSON, &policy.Rules); err != nil {
		return model.Policy{}, fmt.Errorf("store: failed to unmarshal policy rules: %w", err)
	}
	return policy, nil
}

// DatasetConfigRow is the stored representation of a Dataset declaration;
// callers deserialize Declaration into model.Dataset themselves since the
// exact on-disk shape is an implementation detail of this store.
type DatasetConfigRow struct {
	Key         string
	Declaration []byte
	UpdatedAt   time.Time
}

// LoadDatasetConfigs loads raw dataset config rows for the given keys.
func (s *Store) LoadDatasetConfigs(ctx context.Context, keys []string) ([]DatasetConfigRow, error) {
	const q = `
		SELECT key, declaration, updated_at
		FROM privacygraph.dataset_config
		WHERE key = ANY($1)
	`
	rows, err := s.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load dataset configs: %w", err)
	}
	defer rows.Close()

	var out []DatasetConfigRow
	for rows.Next() {
		var r DatasetConfigRow
		if err := rows.Scan(&r.Key, &r.Declaration, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan dataset config row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
