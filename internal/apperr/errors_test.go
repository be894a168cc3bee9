package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := Newf(CodeInvalidTopology, "missing required node: %s", "output")
	wrapped := fmt.Errorf("validate: %w", err)

	assert.ErrorIs(t, wrapped, ErrInvalidTopology)
	assert.NotErrorIs(t, wrapped, ErrProviderError)
	assert.Equal(t, CodeInvalidTopology, CodeOf(wrapped))
}

func TestWithCauseUnwraps(t *testing.T) {
	root := errors.New("connection refused")
	err := ErrRetrievalError.WithCause(root)

	assert.ErrorIs(t, err, root)
	assert.ErrorIs(t, err, ErrRetrievalError)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, ErrRetrievalError.Cause, "sentinel must not be mutated")
}

func TestWithDetailsCopies(t *testing.T) {
	base := New(CodeAdmissionRejected, "throttled").WithDetails(map[string]any{"reason": "throttled"})
	more := base.WithDetails(map[string]any{"retry_after": 2})

	assert.Len(t, base.Details, 1)
	assert.Equal(t, "throttled", more.Details["reason"])
	assert.Equal(t, 2, more.Details["retry_after"])
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrAdmissionRejected:         http.StatusTooManyRequests,
		ErrInvalidTopology:           http.StatusBadRequest,
		ErrProviderUnavailable:       http.StatusBadRequest,
		ErrProviderError:             http.StatusBadGateway,
		ErrRetrievalError:            http.StatusBadGateway,
		ErrNotFound:                  http.StatusNotFound,
		errors.New("boom"):           http.StatusInternalServerError,
		New(CodeStoreError, "write"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}
