package ports

import (
	"context"
	"time"

	"cpay-gateway/internal/core/domain"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

// SessionRepository defines persistence operations for payment sessions.
// Get and GetByCartID return (nil, nil) when nothing matches.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.PaymentSession) error
	Get(ctx context.Context, id string) (*domain.PaymentSession, error)
	// GetByCartID picks among sessions sharing a cart by
	// domain.SessionState.CartPriority, newest first among equals.
	GetByCartID(ctx context.Context, cartID string) (*domain.PaymentSession, error)
	// Update applies patch only if the stored version equals patch.ExpectedVersion.
	// It returns domain.ErrVersionConflict when the version moved and
	// domain.ErrSessionNotFound when the row is gone.
	Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.PaymentSession, error)
}

// SessionLocker serializes mutations of one session across processes.
type SessionLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CaptureExecutor hands a captured session to the host's capture workflow.
// A returned error aborts the capture and leaves the session AUTHORIZED.
type CaptureExecutor interface {
	ExecuteCapture(ctx context.Context, session *domain.PaymentSession) error
}

// NonceStore remembers request nonces for replay protection.
type NonceStore interface {
	// CheckAndSet returns true if the nonce is new (and records it), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// IdempotencyCache stores serialized responses keyed by a caller-supplied key.
type IdempotencyCache interface {
	// Get returns nil, nil when the key is unknown.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
