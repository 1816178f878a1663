package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is, or wraps, an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

const (
	CodeIntegrity         = "CPAY_001"
	CodeMalformedHeader   = "CPAY_002"
	CodeFieldTooLong      = "CPAY_003"
	CodeMissingContext    = "SESS_001"
	CodeInvalidTransition = "SESS_002"
	CodeNotFound          = "SESS_003"
	CodeNotSupported      = "SESS_004"
	CodeVersionConflict   = "SESS_005"
	CodeCaptureFailed     = "SESS_006"
	CodeDuplicateSession  = "SESS_007"
	CodeReconciliation    = "RECON_001"
)

// ---- Gateway protocol (CPAY) ----

// ErrIntegrity signals a checksum mismatch; the payload must be treated as untrusted.
func ErrIntegrity() *AppError {
	return New(CodeIntegrity, "Checksum verification failed", http.StatusBadRequest)
}

// ErrChecksumMissing is an integrity failure for a callback that must be signed but is not.
func ErrChecksumMissing() *AppError {
	return New(CodeIntegrity, "Callback carries no return checksum", http.StatusBadRequest)
}

func ErrMalformedHeader(reason string) *AppError {
	return New(CodeMalformedHeader, "Malformed checksum header: "+reason, http.StatusBadRequest)
}

func ErrFieldTooLong(field string, length int) *AppError {
	return New(CodeFieldTooLong, fmt.Sprintf("Field %s is %d bytes, limit is 999", field, length), http.StatusUnprocessableEntity)
}

func ErrInvalidFieldName(name string) *AppError {
	return New(CodeFieldTooLong, fmt.Sprintf("Field name %q cannot be encoded", name), http.StatusUnprocessableEntity)
}

// ---- Payment session (SESS) ----

func ErrMissingContext(what string) *AppError {
	return New(CodeMissingContext, "Payment session is missing "+what, http.StatusUnprocessableEntity)
}

func ErrInvalidTransition(op string, from string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Cannot %s a session in state %s", op, from), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrNotSupported(op string) *AppError {
	return New(CodeNotSupported, fmt.Sprintf("%s is not supported by the cPay provider", op), http.StatusNotImplemented)
}

func ErrVersionConflict() *AppError {
	return New(CodeVersionConflict, "Payment session was modified concurrently", http.StatusConflict)
}

func ErrCaptureFailed(err error) *AppError {
	return Wrap(CodeCaptureFailed, "Capture collaborator rejected the capture", http.StatusBadGateway, err)
}

func ErrDuplicateSession(id string) *AppError {
	return New(CodeDuplicateSession, fmt.Sprintf("Payment session %s already exists", id), http.StatusConflict)
}

// ---- Callback reconciliation (RECON) ----

// ErrReconciliation is a non-fatal warning: the callback could not be matched
// to a session, but the browser redirect still proceeds.
func ErrReconciliation(message string, err error) *AppError {
	return Wrap(CodeReconciliation, message, http.StatusOK, err)
}

// ---- Request signing (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}
