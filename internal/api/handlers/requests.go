// Package handlers provides HTTP handlers for the privacy request API.
//
// This file implements the privacy request lifecycle endpoints: submit,
// status, dry-run, and (via websocket.LogStreamer) stream.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medisync/privacygraph/internal/api/apierrors"
	"github.com/medisync/privacygraph/internal/api/middleware"
	"github.com/medisync/privacygraph/internal/dialectregistry"
	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/graph"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/traversal"
)

// RequestStore is the subset of store.Store the request handlers need.
type RequestStore interface {
	CreatePrivacyRequest(ctx context.Context, req *model.PrivacyRequest) error
	LoadPrivacyRequest(ctx context.Context, id uuid.UUID) (*model.PrivacyRequest, error)
	ExecutionLogTail(ctx context.Context, requestID uuid.UUID, limit int) ([]model.ExecutionLog, error)
	LoadPolicy(ctx context.Context, key string) (model.Policy, error)
	LoadDatasets(ctx context.Context, keys []string) ([]*model.Dataset, error)
}

// RequestPublisher is the subset of events.Publisher the submit handler
// needs to notify a worker that a new request is ready to run.
type RequestPublisher interface {
	PublishRequestQueued(ctx context.Context, requestID uuid.UUID, action model.Action) error
}

// RequestsHandler serves the privacy request lifecycle endpoints.
type RequestsHandler struct {
	store     RequestStore
	publisher RequestPublisher
	logger    *slog.Logger
}

// NewRequestsHandler builds a RequestsHandler.
func NewRequestsHandler(store RequestStore, publisher RequestPublisher, logger *slog.Logger) *RequestsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestsHandler{store: store, publisher: publisher, logger: logger.With(slog.String("component", "requests_handler"))}
}

type submitRequestBody struct {
	Seeds       map[string]string `json:"seeds"`
	Categories  []string          `json:"categories"`
	DatasetKeys []string          `json:"dataset_keys"`
	Action      string            `json:"action"`
	PolicyKey   string            `json:"policy_key"`
}

type submitResponse struct {
	ID        uuid.UUID           `json:"id"`
	Status    model.RequestStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

// Submit handles POST /privacy-requests. Erasure requests require the
// privacy-admin role; access requests only require a valid caller.
func (h *RequestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, r, apierrors.ErrRequestInvalidInput, "malformed request body")
		return
	}

	if len(body.Seeds) == 0 {
		writeAPIError(w, r, apierrors.ErrNoSeedIdentities, "at least one seed identity is required")
		return
	}

	action := model.Action(body.Action)
	if action != model.ActionAccess && action != model.ActionErasure {
		writeAPIError(w, r, apierrors.ErrRequestInvalidInput, "action must be \"access\" or \"erasure\"")
		return
	}

	if action == model.ActionErasure && !middleware.HasRole(r.Context(), "privacy-admin") {
		writeAPIError(w, r, apierrors.ErrForbidden, "erasure requests require the privacy-admin role")
		return
	}

	if body.PolicyKey == "" {
		writeAPIError(w, r, apierrors.ErrRequestInvalidInput, "policy_key is required")
		return
	}
	if _, err := h.store.LoadPolicy(r.Context(), body.PolicyKey); err != nil {
		writeAPIError(w, r, apierrors.ErrPolicyNotFound, fmt.Sprintf("policy %q not found", body.PolicyKey))
		return
	}

	categories := make([]fieldpath.Category, len(body.Categories))
	for i, c := range body.Categories {
		categories[i] = fieldpath.Category(c)
	}

	req := &model.PrivacyRequest{
		ID:          uuid.New(),
		Seeds:       body.Seeds,
		Categories:  categories,
		DatasetKeys: body.DatasetKeys,
		Action:      action,
		PolicyKey:   body.PolicyKey,
		Status:      model.RequestQueued,
		CreatedAt:   time.Now(),
	}

	if err := h.store.CreatePrivacyRequest(r.Context(), req); err != nil {
		h.logger.Error("failed to persist privacy request", slog.Any("error", err))
		writeAPIError(w, r, apierrors.ErrInternalError, "failed to create request")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRequestQueued(r.Context(), req.ID, action); err != nil {
			h.logger.Warn("failed to publish request queued event", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: req.ID, Status: req.Status, CreatedAt: req.CreatedAt})
}

type statusResponse struct {
	ID          uuid.UUID            `json:"id"`
	Status      model.RequestStatus  `json:"status"`
	Action      model.Action         `json:"action"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Logs        []model.ExecutionLog `json:"logs,omitempty"`
}

// Status handles GET /privacy-requests/{id}. With ?verbose=true it also
// returns the execution log tail.
func (h *RequestsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, apierrors.ErrInvalidUUID, "invalid request id")
		return
	}

	req, err := h.store.LoadPrivacyRequest(r.Context(), id)
	if err != nil {
		writeAPIError(w, r, apierrors.ErrRequestNotFound, fmt.Sprintf("request %s not found", id))
		return
	}

	resp := statusResponse{
		ID:          req.ID,
		Status:      req.Status,
		Action:      req.Action,
		CreatedAt:   req.CreatedAt,
		CompletedAt: req.CompletedAt,
	}

	if r.URL.Query().Get("verbose") == "true" {
		logs, err := h.store.ExecutionLogTail(r.Context(), id, 0)
		if err != nil {
			h.logger.Error("failed to load execution log tail", slog.Any("error", err))
		} else {
			resp.Logs = logs
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type dryRunRequestBody struct {
	DatasetKeys []string `json:"dataset_keys"`
}

type dryRunStatement struct {
	CollectionAddress string `json:"collection_address"`
	Dialect           string `json:"dialect"`
	QueryText         string `json:"query_text"`
}

type dryRunResponse struct {
	Statements []dryRunStatement `json:"statements"`
}

// placeholderSeedValue is substituted for every identity key the dry-run
// endpoint discovers in the merged graph.
const placeholderSeedValue = "dry-run-placeholder"

// DryRun handles POST /privacy-requests/dry-run. It builds the graph and
// plans a traversal exactly as a real request would, but only renders the
// SELECT statements reachable directly from the placeholder seed — nodes
// further downstream need real retrieved values the dry run never
// produces, so they are simply absent from the result rather than
// estimated.
func (h *RequestsHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var body dryRunRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, r, apierrors.ErrRequestInvalidInput, "malformed request body")
		return
	}
	if len(body.DatasetKeys) == 0 {
		writeAPIError(w, r, apierrors.ErrRequestInvalidInput, "dataset_keys is required")
		return
	}

	datasets, err := h.store.LoadDatasets(r.Context(), body.DatasetKeys)
	if err != nil {
		h.logger.Error("failed to load datasets", slog.Any("error", err))
		writeAPIError(w, r, apierrors.ErrInternalError, "failed to load dataset declarations")
		return
	}

	g, err := graph.Build(datasets)
	if err != nil {
		writeAPIError(w, r, apierrors.ErrValidationFailed, err.Error())
		return
	}

	dialectByName := make(map[string]string, len(datasets))
	datasetByName := make(map[string]*model.Dataset, len(datasets))
	for _, ds := range datasets {
		dialectByName[ds.Name] = ds.Dialect
		datasetByName[ds.Name] = ds
	}

	seeds := make(map[string]string, len(g.IdentityKeys))
	for _, seedKey := range g.IdentityKeys {
		seeds[seedKey] = placeholderSeedValue
	}

	// A *traversal.Error means some collection is unreachable from the
	// placeholder seeds. That's fatal for a real request, so the dry run
	// reports it as a rejected preview rather than rendering a partial
	// statement list.
	t, planErr := traversal.Plan(g, seeds)
	if planErr != nil {
		var traversalErr *traversal.Error
		if errors.As(planErr, &traversalErr) {
			writeAPIError(w, r, apierrors.ErrGraphUnreachable, planErr.Error())
			return
		}
		writeAPIError(w, r, apierrors.ErrTraversalFailed, planErr.Error())
		return
	}

	var out dryRunResponse
	for _, node := range t.Order {
		if node.IsRoot() {
			continue
		}

		dialect := dialectByName[node.Address.Dataset]
		qc, err := dialectregistry.QueryConfigFor(dialect, dialectregistry.Settings{
			RedshiftSchema: datasetByName[node.Address.Dataset].Schema,
		})
		if err != nil {
			h.logger.Warn("skipping node with unresolvable dialect", slog.String("collection", node.Address.Key()), slog.Any("error", err))
			continue
		}

		stmt, err := qc.GenerateQuery(node, gatherDryRunInputs(node, seeds), model.Policy{})
		if err != nil {
			h.logger.Warn("failed to generate dry-run statement", slog.String("collection", node.Address.Key()), slog.Any("error", err))
			continue
		}
		if stmt == nil {
			continue
		}

		out.Statements = append(out.Statements, dryRunStatement{
			CollectionAddress: node.Address.Key(),
			Dialect:           dialect,
			QueryText:         stmt.Text,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// gatherDryRunInputs builds the input-value map for a node using only
// edges sourced directly from the synthetic ROOT node — the dry run has
// no retrieved rows for any other source, so those edges contribute
// nothing.
func gatherDryRunInputs(node *model.TraversalNode, seeds map[string]string) map[string][]any {
	out := make(map[string][]any)
	for _, edge := range node.IncomingEdges {
		if !edge.Source.CollectionAddress().IsRoot() {
			continue
		}
		seedKey, ok := edge.Source.Path.Head()
		if !ok {
			continue
		}
		v, ok := seeds[seedKey]
		if !ok {
			continue
		}
		destKey := edge.Destination.Path.String()
		out[destKey] = append(out[destKey], v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeAPIError writes a structured apierrors.APIError response using the
// code's derived HTTP status.
func writeAPIError(w http.ResponseWriter, r *http.Request, code, details string) {
	apierrors.NewAPIErrorWithDetails(code, details).WriteJSON(w, 0)
}
