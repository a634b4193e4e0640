package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/api/apierrors"
	"github.com/medisync/privacygraph/internal/api/handlers"
	"github.com/medisync/privacygraph/internal/api/middleware"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

type fakeRequestStore struct {
	createErr   error
	created     *model.PrivacyRequest
	loadRequest *model.PrivacyRequest
	loadErr     error
	logs        []model.ExecutionLog
	logsErr     error
	policy      model.Policy
	policyErr   error
	datasets    []*model.Dataset
	datasetsErr error
}

func (f *fakeRequestStore) CreatePrivacyRequest(ctx context.Context, req *model.PrivacyRequest) error {
	f.created = req
	return f.createErr
}

func (f *fakeRequestStore) LoadPrivacyRequest(ctx context.Context, id uuid.UUID) (*model.PrivacyRequest, error) {
	return f.loadRequest, f.loadErr
}

func (f *fakeRequestStore) ExecutionLogTail(ctx context.Context, requestID uuid.UUID, limit int) ([]model.ExecutionLog, error) {
	return f.logs, f.logsErr
}

func (f *fakeRequestStore) LoadPolicy(ctx context.Context, key string) (model.Policy, error) {
	return f.policy, f.policyErr
}

func (f *fakeRequestStore) LoadDatasets(ctx context.Context, keys []string) ([]*model.Dataset, error) {
	return f.datasets, f.datasetsErr
}

type fakePublisher struct {
	published bool
	err       error
}

func (f *fakePublisher) PublishRequestQueued(ctx context.Context, requestID uuid.UUID, action model.Action) error {
	f.published = true
	return f.err
}

func withChiID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestSubmit_RejectsMissingSeeds(t *testing.T) {
	store := &fakeRequestStore{}
	h := handlers.NewRequestsHandler(store, nil, nil)

	body := bytes.NewBufferString(`{"action":"access","policy_key":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.created)
}

func TestSubmit_RejectsInvalidAction(t *testing.T) {
	store := &fakeRequestStore{}
	h := handlers.NewRequestsHandler(store, nil, nil)

	body := bytes.NewBufferString(`{"seeds":{"email":"alice@example.com"},"action":"delete_everything","policy_key":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_ErasureRequiresPrivacyAdminRole(t *testing.T) {
	store := &fakeRequestStore{policy: model.Policy{Key: "default"}}
	h := handlers.NewRequestsHandler(store, nil, nil)

	body := bytes.NewBufferString(`{"seeds":{"email":"alice@example.com"},"action":"erasure","policy_key":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RolesKey, []string{"privacy-viewer"}))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmit_UnknownPolicyIsNotFound(t *testing.T) {
	store := &fakeRequestStore{policyErr: fmt.Errorf("no rows")}
	h := handlers.NewRequestsHandler(store, nil, nil)

	body := bytes.NewBufferString(`{"seeds":{"email":"alice@example.com"},"action":"access","policy_key":"missing"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmit_CreatesRequestAndPublishes(t *testing.T) {
	store := &fakeRequestStore{policy: model.Policy{Key: "default"}}
	pub := &fakePublisher{}
	h := handlers.NewRequestsHandler(store, pub, nil)

	body := bytes.NewBufferString(`{"seeds":{"email":"alice@example.com"},"categories":["user.provided.identifiable.contact.email"],"action":"access","policy_key":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, model.ActionAccess, store.created.Action)
	assert.Equal(t, model.RequestQueued, store.created.Status)
	assert.True(t, pub.published)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, store.created.ID.String(), resp["id"])
}

func TestSubmit_PublisherFailureStillAccepts(t *testing.T) {
	store := &fakeRequestStore{policy: model.Policy{Key: "default"}}
	pub := &fakePublisher{err: fmt.Errorf("nats unavailable")}
	h := handlers.NewRequestsHandler(store, pub, nil)

	body := bytes.NewBufferString(`{"seeds":{"email":"alice@example.com"},"action":"access","policy_key":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", body)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code, "a failure to publish must not fail the already-persisted request")
}

func TestStatus_InvalidUUIDReturnsBadRequest(t *testing.T) {
	h := handlers.NewRequestsHandler(&fakeRequestStore{}, nil, nil)

	req := withChiID(httptest.NewRequest(http.MethodGet, "/privacy-requests/not-a-uuid", nil), "not-a-uuid")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_UnknownRequestIsNotFound(t *testing.T) {
	store := &fakeRequestStore{loadErr: fmt.Errorf("no rows")}
	h := handlers.NewRequestsHandler(store, nil, nil)

	id := uuid.New()
	req := withChiID(httptest.NewRequest(http.MethodGet, "/privacy-requests/"+id.String(), nil), id.String())
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_VerboseIncludesLogTail(t *testing.T) {
	id := uuid.New()
	store := &fakeRequestStore{
		loadRequest: &model.PrivacyRequest{ID: id, Status: model.RequestComplete, Action: model.ActionAccess, CreatedAt: time.Now()},
		logs:        []model.ExecutionLog{{ID: uuid.New(), Message: "retrieved 3 row(s)"}},
	}
	h := handlers.NewRequestsHandler(store, nil, nil)

	req := withChiID(httptest.NewRequest(http.MethodGet, "/privacy-requests/"+id.String()+"?verbose=true", nil), id.String())
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	logs, ok := resp["logs"].([]any)
	require.True(t, ok)
	assert.Len(t, logs, 1)
}

func TestStatus_NonVerboseOmitsLogs(t *testing.T) {
	id := uuid.New()
	store := &fakeRequestStore{
		loadRequest: &model.PrivacyRequest{ID: id, Status: model.RequestRunning, Action: model.ActionAccess, CreatedAt: time.Now()},
	}
	h := handlers.NewRequestsHandler(store, nil, nil)

	req := withChiID(httptest.NewRequest(http.MethodGet, "/privacy-requests/"+id.String(), nil), id.String())
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["logs"])
}

func TestDryRun_RejectsMissingDatasetKeys(t *testing.T) {
	h := handlers.NewRequestsHandler(&fakeRequestStore{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/privacy-requests/dry-run", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.DryRun(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDryRun_BuildsStatementsForPostgresDataset(t *testing.T) {
	ds := &model.Dataset{
		Name:    "crm",
		Dialect: "postgres",
		Collections: []*model.Collection{
			{
				Name: "customer",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true},
					{Name: "email", Type: model.FieldTypeScalar, Identity: "email"},
				},
			},
		},
	}
	store := &fakeRequestStore{datasets: []*model.Dataset{ds}}
	h := handlers.NewRequestsHandler(store, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/privacy-requests/dry-run", bytes.NewBufferString(`{"dataset_keys":["crm"]}`))
	rec := httptest.NewRecorder()
	h.DryRun(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	stmts, ok := resp["statements"].([]any)
	require.True(t, ok)
	require.Len(t, stmts, 1)
	stmt := stmts[0].(map[string]any)
	assert.Equal(t, "crm.customer", stmt["collection_address"])
	assert.Equal(t, "postgres", stmt["dialect"])
	assert.Contains(t, stmt["query_text"], "SELECT")
}

func TestDryRun_ReportsUnreachableCollections(t *testing.T) {
	ds := &model.Dataset{
		Name: "crm",
		Dialect: "postgres",
		Collections: []*model.Collection{
			{Name: "orphan", Fields: []*model.Field{{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true}}},
		},
	}
	store := &fakeRequestStore{datasets: []*model.Dataset{ds}}
	h := handlers.NewRequestsHandler(store, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/privacy-requests/dry-run", bytes.NewBufferString(`{"dataset_keys":["crm"]}`))
	rec := httptest.NewRecorder()
	h.DryRun(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errBody, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, apierrors.ErrGraphUnreachable, errBody["code"])
}
