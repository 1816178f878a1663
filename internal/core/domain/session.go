package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the lifecycle state of a payment session.
type SessionState string

const (
	SessionStateCreated    SessionState = "CREATED"
	SessionStateAuthorized SessionState = "AUTHORIZED"
	SessionStateCaptured   SessionState = "CAPTURED"
	SessionStateCancelled  SessionState = "CANCELLED"
	SessionStateDeleted    SessionState = "DELETED"
	SessionStateFailed     SessionState = "FAILED"
)

// Valid reports whether s is one of the known states.
func (s SessionState) Valid() bool {
	switch s {
	case SessionStateCreated, SessionStateAuthorized, SessionStateCaptured,
		SessionStateCancelled, SessionStateDeleted, SessionStateFailed:
		return true
	}
	return false
}

// IsTerminal returns true once no further transition (other than the
// idempotent repeats) is accepted.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCaptured ||
		s == SessionStateCancelled ||
		s == SessionStateDeleted ||
		s == SessionStateFailed
}

// CartPriority ranks sessions sharing a cart for callback resolution: the
// session sent to the gateway (AUTHORIZED) first, then CAPTURED, then the
// rest. Lower wins; ties go to the newest session.
func (s SessionState) CartPriority() int {
	switch s {
	case SessionStateAuthorized:
		return 0
	case SessionStateCaptured:
		return 1
	default:
		return 2
	}
}

var (
	// ErrSessionNotFound is returned by stores that report a missing row as an error.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrVersionConflict is returned when an update loses an optimistic-lock race.
	ErrVersionConflict = errors.New("payment session version conflict")
	// ErrSessionExists is returned by Create when the id is taken.
	ErrSessionExists = errors.New("payment session already exists")
)

// Billing is the customer billing address captured at checkout.
type Billing struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address1    string `json:"address_1"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

// SessionContext is the checkout data the host platform hands over at Initiate.
type SessionContext struct {
	CartID  string   `json:"cart_id"`
	Email   string   `json:"email"`
	Billing *Billing `json:"billing,omitempty"`
}

// PaymentSession holds the gateway-facing state for one cart checkout.
type PaymentSession struct {
	ID            string          `json:"id"`
	State         SessionState    `json:"state"`
	Amount        decimal.Decimal `json:"amount"`        // Major units, before conversion
	CurrencyCode  string          `json:"currency_code"` // Lower-cased ISO 4217
	Context       *SessionContext `json:"context,omitempty"`
	SignedPayload *SignedPayload  `json:"signed_payload,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	AuthorizedAt  *time.Time      `json:"authorized_at,omitempty"`
	CapturedAt    *time.Time      `json:"captured_at,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// CartID returns the cart reference from the session context, or "".
func (s *PaymentSession) CartID() string {
	if s.Context == nil {
		return ""
	}
	return s.Context.CartID
}

// IsTerminal returns true if the session is in a final state.
func (s *PaymentSession) IsTerminal() bool {
	return s.State.IsTerminal()
}

// CanAuthorize: CREATED or AUTHORIZED (re-authorization replaces the payload).
func (s *PaymentSession) CanAuthorize() bool {
	return s.State == SessionStateCreated || s.State == SessionStateAuthorized
}

// CanCapture returns true only for AUTHORIZED sessions.
func (s *PaymentSession) CanCapture() bool {
	return s.State == SessionStateAuthorized
}

func (s *PaymentSession) CanCancel() bool {
	return s.State == SessionStateCreated || s.State == SessionStateAuthorized
}

// CanDelete accepts any non-terminal session. DELETED itself is handled as a no-op by the caller.
func (s *PaymentSession) CanDelete() bool {
	return !s.IsTerminal()
}

func (s *PaymentSession) CanFail() bool {
	return s.State == SessionStateAuthorized
}

// Patch starts an update guarded by the session's current version.
func (s *PaymentSession) Patch(to SessionState, now time.Time) SessionPatch {
	return SessionPatch{
		ExpectedVersion: s.Version,
		State:           to,
		UpdatedAt:       now,
		AuthorizedAt:    s.AuthorizedAt,
		CapturedAt:      s.CapturedAt,
		ClosedAt:        s.ClosedAt,
		SignedPayload:   s.SignedPayload,
		FailureReason:   s.FailureReason,
	}
}

// SessionPatch is the full set of mutable columns written by one transition.
// Stores apply it only when the stored version equals ExpectedVersion and
// bump the version by one.
type SessionPatch struct {
	ExpectedVersion int64
	State           SessionState
	SignedPayload   *SignedPayload
	FailureReason   string
	UpdatedAt       time.Time
	AuthorizedAt    *time.Time
	CapturedAt      *time.Time
	ClosedAt        *time.Time
}

// Apply copies the patch onto s and advances its version.
func (p SessionPatch) Apply(s *PaymentSession) {
	s.State = p.State
	s.SignedPayload = p.SignedPayload
	s.FailureReason = p.FailureReason
	s.UpdatedAt = p.UpdatedAt
	s.AuthorizedAt = p.AuthorizedAt
	s.CapturedAt = p.CapturedAt
	s.ClosedAt = p.ClosedAt
	s.Version = p.ExpectedVersion + 1
}
