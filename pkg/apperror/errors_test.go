package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("SESS_002", "Cannot capture a session in state CREATED", http.StatusConflict),
			expected: "[SESS_002] Cannot capture a session in state CREATED",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("SESS_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("authorize: %w", ErrMissingContext("billing context"))

	assert.True(t, HasCode(wrapped, CodeMissingContext))
	assert.False(t, HasCode(wrapped, CodeIntegrity))
	assert.False(t, HasCode(errors.New("plain"), CodeMissingContext))
	assert.False(t, HasCode(nil, CodeMissingContext))
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"Integrity", ErrIntegrity(), "CPAY_001", 400},
		{"ChecksumMissing", ErrChecksumMissing(), "CPAY_001", 400},
		{"MalformedHeader", ErrMalformedHeader("count"), "CPAY_002", 400},
		{"FieldTooLong", ErrFieldTooLong("Details1", 1200), "CPAY_003", 422},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"MissingContext", ErrMissingContext("billing context"), "SESS_001", 422},
		{"InvalidTransition", ErrInvalidTransition("capture", "CREATED"), "SESS_002", 409},
		{"NotFound", ErrNotFound("Payment session"), "SESS_003", 404},
		{"NotSupported", ErrNotSupported("Refund"), "SESS_004", 501},
		{"VersionConflict", ErrVersionConflict(), "SESS_005", 409},
		{"CaptureFailed", ErrCaptureFailed(errors.New("502")), "SESS_006", 502},
		{"DuplicateSession", ErrDuplicateSession("ps_1"), "SESS_007", 409},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	lockErr := ErrLockTimeout(inner)
	assert.Equal(t, "SYS_002", lockErr.Code)
	assert.Equal(t, 503, lockErr.HTTPStatus)

	encErr := ErrEncryptionFailure(inner)
	assert.Equal(t, "SYS_003", encErr.Code)
	assert.Equal(t, 500, encErr.HTTPStatus)
}

func TestReconciliationWarning(t *testing.T) {
	err := ErrReconciliation("no session for cart", nil)
	assert.Equal(t, CodeReconciliation, err.Code)
	assert.Contains(t, err.Error(), "no session for cart")
}

func TestNotSupportedMessage(t *testing.T) {
	err := ErrNotSupported("Refund")
	assert.Contains(t, err.Message, "Refund")
}

func TestAccessErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401},
		{"TimestampExpired", ErrTimestampExpired(), "SEC_003", 403},
		{"NonceUsed", ErrNonceUsed(), "SEC_004", 403},
		{"InvalidToken", ErrInvalidToken(), "AUTH_001", 401},
		{"RateLimitExceeded", ErrRateLimitExceeded(), "RATE_001", 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}
