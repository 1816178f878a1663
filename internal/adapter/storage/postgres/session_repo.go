package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const sessionColumns = `id, state, amount::text, currency_code, context_encrypted, payload_encrypted,
		failure_reason, version, created_at, updated_at, authorized_at, captured_at, closed_at`

// SessionRepo implements ports.SessionRepository. Checkout context and the
// signed payload are stored as JSON, sealed with the encryption service when
// one is configured.
type SessionRepo struct {
	pool Pool
	enc  ports.EncryptionService
}

// NewSessionRepo creates a new SessionRepo. enc may be nil.
func NewSessionRepo(pool Pool, enc ports.EncryptionService) *SessionRepo {
	return &SessionRepo{pool: pool, enc: enc}
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.PaymentSession) error {
	sealedCtx, err := r.seal(s.Context)
	if err != nil {
		return fmt.Errorf("seal context: %w", err)
	}
	sealedPayload, err := r.seal(s.SignedPayload)
	if err != nil {
		return fmt.Errorf("seal payload: %w", err)
	}

	query := `INSERT INTO payment_sessions (id, state, amount, currency_code, cart_id, context_encrypted,
		payload_encrypted, failure_reason, version, created_at, updated_at, authorized_at, captured_at, closed_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		s.ID, string(s.State), s.Amount.String(), s.CurrencyCode, nullable(s.CartID()),
		sealedCtx, sealedPayload, s.FailureReason, s.Version,
		s.CreatedAt, s.UpdatedAt, s.AuthorizedAt, s.CapturedAt, s.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

// Get fetches a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetByCartID fetches the cart's session a callback should act on, ranked
// like domain.SessionState.CartPriority and then by recency.
func (r *SessionRepo) GetByCartID(ctx context.Context, cartID string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions
		WHERE cart_id = $1
		ORDER BY CASE state WHEN 'AUTHORIZED' THEN 0 WHEN 'CAPTURED' THEN 1 ELSE 2 END, created_at DESC
		LIMIT 1`
	return r.scanSession(r.pool.QueryRow(ctx, query, cartID))
}

// Update writes patch when the stored version still equals patch.ExpectedVersion.
func (r *SessionRepo) Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.PaymentSession, error) {
	sealedPayload, err := r.seal(patch.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	query := `UPDATE payment_sessions SET state = $1, payload_encrypted = $2, failure_reason = $3,
		updated_at = $4, authorized_at = $5, captured_at = $6, closed_at = $7, version = version + 1
		WHERE id = $8 AND version = $9
		RETURNING ` + sessionColumns

	sess, err := r.scanSession(r.pool.QueryRow(ctx, query,
		string(patch.State), sealedPayload, patch.FailureReason,
		patch.UpdatedAt, patch.AuthorizedAt, patch.CapturedAt, patch.ClosedAt,
		id, patch.ExpectedVersion,
	))
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	// Nothing updated: tell a lost race from a missing row.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session exists: %w", err)
	}
	if exists {
		return nil, domain.ErrVersionConflict
	}
	return nil, domain.ErrSessionNotFound
}

func (r *SessionRepo) scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var (
		s             domain.PaymentSession
		state, amount string
		sealedCtx     *string
		sealedPayload *string
	)
	err := row.Scan(
		&s.ID, &state, &amount, &s.CurrencyCode, &sealedCtx, &sealedPayload,
		&s.FailureReason, &s.Version, &s.CreatedAt, &s.UpdatedAt,
		&s.AuthorizedAt, &s.CapturedAt, &s.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment session: %w", err)
	}

	s.State = domain.SessionState(state)
	if s.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if sealedCtx != nil {
		s.Context = &domain.SessionContext{}
		if err := r.open(*sealedCtx, s.Context); err != nil {
			return nil, fmt.Errorf("open context: %w", err)
		}
	}
	if sealedPayload != nil {
		s.SignedPayload = &domain.SignedPayload{}
		if err := r.open(*sealedPayload, s.SignedPayload); err != nil {
			return nil, fmt.Errorf("open payload: %w", err)
		}
	}
	return &s, nil
}

// seal marshals v and encrypts it. A nil pointer is stored as NULL.
func (r *SessionRepo) seal(v any) (*string, error) {
	switch t := v.(type) {
	case *domain.SessionContext:
		if t == nil {
			return nil, nil
		}
	case *domain.SignedPayload:
		if t == nil {
			return nil, nil
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := string(raw)
	if r.enc != nil {
		if out, err = r.enc.Encrypt(out); err != nil {
			return nil, apperror.ErrEncryptionFailure(err)
		}
	}
	return &out, nil
}

func (r *SessionRepo) open(sealed string, dst any) error {
	plain := sealed
	if r.enc != nil {
		var err error
		if plain, err = r.enc.Decrypt(sealed); err != nil {
			return apperror.ErrEncryptionFailure(err)
		}
	}
	return json.Unmarshal([]byte(plain), dst)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
