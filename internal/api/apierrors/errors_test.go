package apierrors_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/api/apierrors"
)

func TestNewAPIError_UsesDefaultMessageAndDerivedStatus(t *testing.T) {
	err := apierrors.NewAPIError(apierrors.ErrRequestNotFound)
	assert.Equal(t, apierrors.ErrRequestNotFound, err.Code)
	assert.Equal(t, "no privacy request exists with this ID", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
}

func TestNewAPIError_UnknownCodeFallsBackToInternalErrorMessage(t *testing.T) {
	err := apierrors.NewAPIError("SOMETHING_MADE_UP")
	assert.Equal(t, apierrors.ErrorMessages[apierrors.ErrInternalError], err.Message)
}

func TestNewAPIErrorWithDetails(t *testing.T) {
	err := apierrors.NewAPIErrorWithDetails(apierrors.ErrTraversalFailed, "connector postgres.users timed out")
	assert.Equal(t, "connector postgres.users timed out", err.Details)
	assert.Contains(t, err.Error(), "connector postgres.users timed out")
}

func TestAPIError_HTTPStatusByCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{apierrors.ErrInvalidRequest, http.StatusBadRequest},
		{apierrors.ErrUnauthorized, http.StatusUnauthorized},
		{apierrors.ErrForbidden, http.StatusForbidden},
		{apierrors.ErrRequestNotFound, http.StatusNotFound},
		{apierrors.ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{apierrors.ErrErasurePrimaryKey, http.StatusConflict},
		{apierrors.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{apierrors.ErrConnectorTimeout, http.StatusGatewayTimeout},
		{apierrors.ErrTraversalFailed, http.StatusInternalServerError},
		{apierrors.ErrConnectorUnavailable, http.StatusServiceUnavailable},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, apierrors.NewAPIError(tt.code).HTTPStatus)
		})
	}
}

func TestAPIError_WithRetryAfterAndWithField(t *testing.T) {
	err := apierrors.NewAPIError(apierrors.ErrRateLimitExceeded).WithRetryAfter(30).WithField("email")
	assert.Equal(t, 30, err.RetryAfter)
	assert.Equal(t, "email", err.Field)
}

func TestAPIError_WriteJSON_IncludesOptionalFields(t *testing.T) {
	rec := httptest.NewRecorder()
	apierrors.NewAPIErrorWithDetails(apierrors.ErrRateLimitExceeded, "too many requests from this client").
		WithRetryAfter(60).
		WriteJSON(rec, 0)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errBody := body["error"]
	assert.Equal(t, apierrors.ErrRateLimitExceeded, errBody["code"])
	assert.Equal(t, "too many requests from this client", errBody["details"])
	assert.Equal(t, float64(60), errBody["retry_after"])
}

func TestAPIError_WriteJSON_ExplicitStatusOverridesDerived(t *testing.T) {
	rec := httptest.NewRecorder()
	apierrors.NewAPIError(apierrors.ErrRequestNotFound).WriteJSON(rec, http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestUnauthorizedResponse_SetsWWWAuthenticateHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	apierrors.UnauthorizedResponse(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer realm="privacygraph"`, rec.Header().Get("WWW-Authenticate"))
}

func TestValidationErrorResponse_SetsFieldAndDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	apierrors.ValidationErrorResponse(rec, req, "seeds", "at least one seed identity is required")

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "seeds", body["error"]["field"])
	assert.Equal(t, "at least one seed identity is required", body["error"]["details"])
}

func TestMultiError_WriteJSON(t *testing.T) {
	m := apierrors.NewMultiError()
	assert.False(t, m.HasErrors())

	m.Add(apierrors.NewAPIError(apierrors.ErrRequiredField).WithField("seeds"))
	m.Add(apierrors.NewAPIError(apierrors.ErrInvalidUUID).WithField("request_id"))
	require.True(t, m.HasErrors())

	rec := httptest.NewRecorder()
	m.WriteJSON(rec, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errs, ok := body["error"]["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, errs, 2)
}
