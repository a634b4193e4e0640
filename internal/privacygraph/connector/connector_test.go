package connector_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medisync/privacygraph/internal/privacygraph/connector"
)

func TestError_ErrorIncludesKindMessageAndCause(t *testing.T) {
	err := &connector.Error{Kind: connector.KindConnection, Message: "dial failed", Cause: errors.New("timeout")}
	assert.Equal(t, "connection: dial failed: timeout", err.Error())
}

func TestError_ErrorWithoutCauseOmitsTrailingColon(t *testing.T) {
	err := &connector.Error{Kind: connector.KindQuery, Message: "syntax error"}
	assert.Equal(t, "query: syntax error", err.Error())
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &connector.Error{Kind: connector.KindConnection, Message: "lost connection", Cause: cause}
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestError_UnwrapNilCauseReturnsNil(t *testing.T) {
	err := &connector.Error{Kind: connector.KindQuery, Message: "rejected"}
	assert.Nil(t, errors.Unwrap(err))
}

func TestErrorKind_StringReturnsUnderlyingValue(t *testing.T) {
	assert.Equal(t, "connection", connector.KindConnection.String())
	assert.Equal(t, "query", connector.KindQuery.String())
}
