package ports

import (
	"context"
	"time"

	"cpay-gateway/internal/core/domain"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService handles JWT token operations for the session API.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// --- Gateway protocol ---

// CurrencyConverter normalizes an amount into the settlement currency.
type CurrencyConverter interface {
	// Convert never fails; an unknown code returns amount unchanged.
	Convert(amount decimal.Decimal, currencyCode string) decimal.Decimal
	Rate(currencyCode string) (decimal.Decimal, bool)
}

// ParamEncoder builds and parses the length-prefixed gateway header.
type ParamEncoder interface {
	Encode(fields []domain.Field) (string, error)
	Decode(header string, concatenated string) ([]domain.Field, error)
	BuildPaymentFields(settlementAmount decimal.Decimal, sctx *domain.SessionContext) ([]domain.Field, error)
}

// ChecksumService computes and verifies the keyed gateway checksum.
type ChecksumService interface {
	Sign(header string, values []string) string
	Verify(header string, values []string, checksum string) error
}

// --- Service Ports (Business Logic) ---

// SessionService drives the payment session state machine.
type SessionService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.PaymentSession, error)
	Authorize(ctx context.Context, id string) (*domain.PaymentSession, error)
	Capture(ctx context.Context, id string) (*domain.PaymentSession, error)
	Cancel(ctx context.Context, id string) (*domain.PaymentSession, error)
	Delete(ctx context.Context, id string) (*domain.PaymentSession, error)
	Fail(ctx context.Context, id string, reason string) (*domain.PaymentSession, error)
	Refund(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (domain.SessionState, error)
	RetrievePayload(ctx context.Context, id string) (*domain.SignedPayload, error)
	// Lookup resolves a callback reference: cart id first, then session id.
	// It returns (nil, nil) when neither matches.
	Lookup(ctx context.Context, reference string) (*domain.PaymentSession, error)
}

// InitiateRequest holds validated input for session creation.
type InitiateRequest struct {
	ID           string // Optional; a UUID is generated when empty
	Amount       decimal.Decimal
	CurrencyCode string
	Context      *domain.SessionContext
}

// CallbackReconciler maps gateway browser callbacks onto session transitions.
type CallbackReconciler interface {
	HandleSuccess(ctx context.Context, cb CallbackParams) CallbackOutcome
	HandleFail(ctx context.Context, cb CallbackParams) CallbackOutcome
}

// CallbackParams is the parsed callback body.
type CallbackParams struct {
	Details1 string
	Details2 string
	// Form holds every posted field; used to verify the return checksum.
	Form map[string]string
}

// CallbackOutcome is where the browser goes next. Warning is set when
// reconciliation fell short; it never blocks the redirect.
type CallbackOutcome struct {
	RedirectURL string
	SessionID   string
	Result      string // captured, failed, noop, unmatched, rejected, fallback, error
	Warning     error
}
