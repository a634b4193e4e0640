// Package apierrors provides structured error handling for the privacy
// request API.
//
// It is factored out of the api package itself (rather than living
// alongside server.go) so that handlers can return structured errors
// without importing the server package that imports them — api imports
// handlers, so the reverse import would be a cycle.
//
// All API errors follow a consistent format with error codes, messages,
// and optional retry hints. Error codes follow the pattern:
// MODULE_ERROR_TYPE (e.g., "REQUEST_NOT_FOUND").
//
// Usage:
//
//	err := apierrors.NewAPIError(apierrors.ErrRequestNotFound)
//	err.WriteJSON(w, http.StatusNotFound)
//
// Or with additional context:
//
//	err := apierrors.NewAPIErrorWithDetails(apierrors.ErrTraversalFailed, "connector postgres.users timed out")
//	err.WithRetryAfter(60).WriteJSON(w, http.StatusGatewayTimeout)
package apierrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes organized by concern.
const (
	// General errors
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrConflict           = "CONFLICT"
	ErrRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrRequestTooLarge    = "REQUEST_TOO_LARGE"

	// Privacy request lifecycle errors
	ErrRequestNotFound     = "REQUEST_NOT_FOUND"
	ErrRequestInvalidInput = "REQUEST_INVALID_INPUT"
	ErrNoSeedIdentities    = "REQUEST_NO_SEED_IDENTITIES"
	ErrPolicyNotFound      = "POLICY_NOT_FOUND"
	ErrPolicyInvalid       = "POLICY_INVALID"

	// Graph and traversal errors
	ErrGraphCyclic        = "GRAPH_CYCLIC"
	ErrGraphUnreachable   = "GRAPH_COLLECTION_UNREACHABLE"
	ErrTraversalFailed    = "TRAVERSAL_FAILED"
	ErrErasurePrimaryKey  = "ERASURE_PRIMARY_KEY_GUARD"
	ErrMaskingUnsupported = "MASKING_STRATEGY_UNSUPPORTED"

	// Connector errors
	ErrConnectorUnavailable = "CONNECTOR_UNAVAILABLE"
	ErrConnectorTimeout     = "CONNECTOR_TIMEOUT"
	ErrConnectorQuery       = "CONNECTOR_QUERY_FAILED"
	ErrConnectorConfig      = "CONNECTOR_CONFIG_INVALID"

	// Authentication/Authorization errors
	ErrTokenExpired      = "TOKEN_EXPIRED"
	ErrTokenInvalid      = "TOKEN_INVALID"
	ErrTokenMissing      = "TOKEN_MISSING"
	ErrInsufficientScope = "INSUFFICIENT_SCOPE"

	// Validation errors
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrInvalidUUID      = "INVALID_UUID"
	ErrRequiredField    = "REQUIRED_FIELD_MISSING"
)

// ErrorMessages contains the default message for each error code.
var ErrorMessages = map[string]string{
	ErrInvalidRequest:     "the request is invalid or malformed",
	ErrUnauthorized:       "authentication is required to access this resource",
	ErrForbidden:          "you do not have permission to perform this action",
	ErrNotFound:           "the requested resource was not found",
	ErrMethodNotAllowed:   "this method is not allowed for this resource",
	ErrConflict:           "the request conflicts with the current state of the resource",
	ErrRateLimitExceeded:  "rate limit exceeded, please slow down",
	ErrInternalError:      "an internal error occurred",
	ErrServiceUnavailable: "the service is temporarily unavailable",
	ErrGatewayTimeout:     "the request took too long to process",
	ErrRequestTooLarge:    "the request body is too large",

	ErrRequestNotFound:     "no privacy request exists with this ID",
	ErrRequestInvalidInput: "the privacy request input is invalid",
	ErrNoSeedIdentities:    "the request provided no usable seed identities",
	ErrPolicyNotFound:      "no policy exists for this action",
	ErrPolicyInvalid:       "the policy configuration is invalid",

	ErrGraphCyclic:        "the dataset graph contains a cycle and cannot be traversed",
	ErrGraphUnreachable:   "a collection referenced by the policy is unreachable from any seed identity",
	ErrTraversalFailed:    "graph traversal failed",
	ErrErasurePrimaryKey:  "erasure would modify a collection's primary key and was refused",
	ErrMaskingUnsupported: "no masking strategy is configured for this data category",

	ErrConnectorUnavailable: "the connector for this dataset is unavailable",
	ErrConnectorTimeout:     "the connector call exceeded its timeout",
	ErrConnectorQuery:       "the connector failed to execute the query",
	ErrConnectorConfig:      "the connector configuration is invalid",

	ErrTokenExpired:      "the access token has expired",
	ErrTokenInvalid:      "the access token is invalid",
	ErrTokenMissing:      "no access token was provided",
	ErrInsufficientScope: "the access token lacks the required role",

	ErrValidationFailed: "validation failed",
	ErrInvalidUUID:      "the value is not a valid UUID",
	ErrRequiredField:    "a required field is missing",
}

// APIError represents a structured API error response.
type APIError struct {
	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Details contains additional context about the error.
	Details string `json:"details,omitempty"`

	// RetryAfter indicates seconds to wait before retrying (for rate limits).
	RetryAfter int `json:"retry_after,omitempty"`

	// Field indicates which field caused the error (for validation errors).
	Field string `json:"field,omitempty"`

	// HTTPStatus is the HTTP status code to use (not included in JSON).
	HTTPStatus int `json:"-"`
}

// NewAPIError creates a new API error for the given code.
func NewAPIError(code string) *APIError {
	message, ok := ErrorMessages[code]
	if !ok {
		message = ErrorMessages[ErrInternalError]
	}

	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// NewAPIErrorWithDetails creates a new API error with additional details.
func NewAPIErrorWithDetails(code string, details string) *APIError {
	err := NewAPIError(code)
	err.Details = details
	return err
}

// WithRetryAfter sets the retry-after hint for rate-limited errors.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	e.RetryAfter = seconds
	return e
}

// WithField sets the field name for validation errors.
func (e *APIError) WithField(field string) *APIError {
	e.Field = field
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteJSON writes the error as a JSON response. status=0 uses the code's
// derived HTTPStatus.
func (e *APIError) WriteJSON(w http.ResponseWriter, status int) {
	if status == 0 {
		status = e.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}

	w.WriteHeader(status)

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if e.Details != "" {
		response["error"].(map[string]interface{})["details"] = e.Details
	}

	if e.RetryAfter > 0 {
		response["error"].(map[string]interface{})["retry_after"] = e.RetryAfter
	}

	if e.Field != "" {
		response["error"].(map[string]interface{})["field"] = e.Field
	}

	json.NewEncoder(w).Encode(response)
}

// getHTTPStatus maps error codes to HTTP status codes.
func getHTTPStatus(code string) int {
	switch code {
	case ErrInvalidRequest, ErrRequestInvalidInput, ErrNoSeedIdentities,
		ErrPolicyInvalid, ErrConnectorConfig, ErrValidationFailed,
		ErrInvalidUUID, ErrRequiredField, ErrRequestTooLarge,
		ErrGraphCyclic, ErrGraphUnreachable:
		return http.StatusBadRequest

	case ErrUnauthorized, ErrTokenExpired, ErrTokenInvalid, ErrTokenMissing:
		return http.StatusUnauthorized

	case ErrForbidden, ErrInsufficientScope:
		return http.StatusForbidden

	case ErrNotFound, ErrRequestNotFound, ErrPolicyNotFound:
		return http.StatusNotFound

	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed

	case ErrConflict, ErrErasurePrimaryKey:
		return http.StatusConflict

	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests

	case ErrGatewayTimeout, ErrConnectorTimeout:
		return http.StatusGatewayTimeout

	case ErrInternalError, ErrTraversalFailed,
		ErrMaskingUnsupported, ErrConnectorQuery:
		return http.StatusInternalServerError

	case ErrServiceUnavailable, ErrConnectorUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse writes a generic error response.
func ErrorResponse(w http.ResponseWriter, r *http.Request, code string, status int) {
	NewAPIError(code).WriteJSON(w, status)
}

// ErrorResponseWithDetails writes an error response with additional details.
func ErrorResponseWithDetails(w http.ResponseWriter, r *http.Request, code string, status int, details string) {
	NewAPIErrorWithDetails(code, details).WriteJSON(w, status)
}

// ValidationErrorResponse writes a validation error response.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, field, message string) {
	err := NewAPIError(ErrValidationFailed)
	err.WithField(field)
	err.Details = message
	err.WriteJSON(w, http.StatusBadRequest)
}

// NotFoundResponse writes a 404 not found response.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	NewAPIError(ErrNotFound).WriteJSON(w, http.StatusNotFound)
}

// UnauthorizedResponse writes a 401 unauthorized response.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="privacygraph"`)
	NewAPIError(ErrUnauthorized).WriteJSON(w, http.StatusUnauthorized)
}

// ForbiddenResponse writes a 403 forbidden response.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	NewAPIError(ErrForbidden).WriteJSON(w, http.StatusForbidden)
}

// RateLimitResponse writes a 429 rate limit exceeded response.
func RateLimitResponse(w http.ResponseWriter, r *http.Request, retryAfter int) {
	NewAPIError(ErrRateLimitExceeded).WithRetryAfter(retryAfter).WriteJSON(w, http.StatusTooManyRequests)
}

// TimeoutResponse writes a 504 gateway timeout response.
func TimeoutResponse(w http.ResponseWriter, r *http.Request) {
	NewAPIError(ErrGatewayTimeout).WriteJSON(w, http.StatusGatewayTimeout)
}

// InternalErrorResponse writes a 500 internal server error response.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request) {
	NewAPIError(ErrInternalError).WriteJSON(w, http.StatusInternalServerError)
}

// MultiError represents multiple validation errors.
type MultiError struct {
	Errors []*APIError `json:"errors"`
}

// NewMultiError creates a new multi-error container.
func NewMultiError() *MultiError {
	return &MultiError{
		Errors: make([]*APIError, 0),
	}
}

// Add adds an error to the multi-error.
func (m *MultiError) Add(err *APIError) {
	m.Errors = append(m.Errors, err)
}

// HasErrors returns true if there are any errors.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// WriteJSON writes all errors as a JSON response.
func (m *MultiError) WriteJSON(w http.ResponseWriter, status int) {
	if status == 0 {
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    ErrValidationFailed,
			"message": "multiple validation errors occurred",
			"errors":  m.Errors,
		},
	}

	json.NewEncoder(w).Encode(response)
}
