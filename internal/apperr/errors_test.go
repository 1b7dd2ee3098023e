package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"validation", Validation("total must be positive"), ErrValidation, http.StatusBadRequest},
		{"not found", NotFound("order", "abc"), ErrNotFound, http.StatusNotFound},
		{"invalid state", InvalidState("order already %s", "paid"), ErrInvalidState, http.StatusConflict},
		{"signature", SignatureInvalid("bad hmac"), ErrSignatureInvalid, http.StatusUnauthorized},
		{"external", ExternalService("gateway down", errors.New("dial tcp: timeout")), ErrExternalService, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.status, StatusCode(wrapped))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "order not found: 42", NotFound("order", "42").Error())

	cause := errors.New("connection refused")
	err := ExternalService("create preference failed", cause)
	assert.Equal(t, "create preference failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestFrom(t *testing.T) {
	appErr := From(fmt.Errorf("wrap: %w", InvalidState("nope")))
	assert.Equal(t, CodeInvalidState, appErr.Code)
	assert.Equal(t, "nope", appErr.ToResponse().Error.Message)

	internal := From(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, internal.StatusCode)
	assert.Equal(t, "internal error", internal.Message)
}
