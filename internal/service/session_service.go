package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/obs"
	"cpay-gateway/pkg/apperror"
	"cpay-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SessionServiceImpl implements ports.SessionService.
type SessionServiceImpl struct {
	repo       ports.SessionRepository
	locker     ports.SessionLocker
	converter  ports.CurrencyConverter
	encoder    ports.ParamEncoder
	checksum   ports.ChecksumService
	capture    ports.CaptureExecutor
	gatewayURL string
	metrics    *obs.DomainMetrics
	tracer     trace.Tracer
	now        func() time.Time
	log        zerolog.Logger
}

// NewSessionService creates a new SessionServiceImpl. A nil locker runs
// mutations without a distributed lock; a nil capture executor accepts every capture.
func NewSessionService(
	repo ports.SessionRepository,
	locker ports.SessionLocker,
	converter ports.CurrencyConverter,
	encoder ports.ParamEncoder,
	checksum ports.ChecksumService,
	capture ports.CaptureExecutor,
	gatewayURL string,
	metrics *obs.DomainMetrics,
	log zerolog.Logger,
) *SessionServiceImpl {
	if locker == nil {
		locker = passthroughLocker{}
	}
	if capture == nil {
		capture = NewNoopCaptureExecutor(log)
	}
	return &SessionServiceImpl{
		repo:       repo,
		locker:     locker,
		converter:  converter,
		encoder:    encoder,
		checksum:   checksum,
		capture:    capture,
		gatewayURL: gatewayURL,
		metrics:    metrics,
		tracer:     obs.Tracer("session"),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// transitionFunc inspects a loaded session and returns the patch to write,
// or nil when the operation is an idempotent no-op.
type transitionFunc func(ctx context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error)

// Initiate creates a CREATED session. The caller may supply the id.
func (s *SessionServiceImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*domain.PaymentSession, error) {
	ctx, span := s.tracer.Start(ctx, "session.initiate")
	defer span.End()

	if req.Amount.IsNegative() {
		return nil, s.finish(span, "initiate", apperror.Validation("amount must not be negative"))
	}
	currency := strings.ToLower(strings.TrimSpace(req.CurrencyCode))
	if currency == "" {
		return nil, s.finish(span, "initiate", apperror.Validation("currency_code is required"))
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", id))

	now := s.now()
	sess := &domain.PaymentSession{
		ID:           id,
		State:        domain.SessionStateCreated,
		Amount:       req.Amount,
		CurrencyCode: currency,
		Context:      req.Context,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrSessionExists) {
			return nil, s.finish(span, "initiate", apperror.ErrDuplicateSession(id))
		}
		return nil, s.finish(span, "initiate", apperror.ErrDatabaseError(fmt.Errorf("create session: %w", err)))
	}

	event := s.log.Info().
		Str("session_id", id).
		Str("cart_id", sess.CartID()).
		Str("amount", sess.Amount.String()).
		Str("currency", currency)
	if sess.Context != nil && sess.Context.Email != "" {
		event = event.Str("email", logger.Mask(sess.Context.Email))
	}
	event.Msg("payment session initiated")

	s.finish(span, "initiate", nil)
	return sess, nil
}

// Authorize converts, encodes and signs the payment request and stores it
// with the session. Re-authorizing an AUTHORIZED session replaces the payload.
func (s *SessionServiceImpl) Authorize(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return s.mutate(ctx, "authorize", id, func(_ context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error) {
		if !sess.CanAuthorize() {
			return nil, apperror.ErrInvalidTransition("authorize", string(sess.State))
		}
		if sess.Context == nil {
			return nil, apperror.ErrMissingContext("checkout context")
		}

		payload, err := s.sign(sess)
		if err != nil {
			return nil, err
		}

		patch := sess.Patch(domain.SessionStateAuthorized, now)
		patch.SignedPayload = payload
		patch.AuthorizedAt = &now
		return &patch, nil
	})
}

// Capture marks an AUTHORIZED session CAPTURED after the capture executor
// accepts it. Capturing a CAPTURED session is a no-op.
func (s *SessionServiceImpl) Capture(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return s.mutate(ctx, "capture", id, func(ctx context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error) {
		if sess.State == domain.SessionStateCaptured {
			return nil, nil
		}
		if !sess.CanCapture() {
			return nil, apperror.ErrInvalidTransition("capture", string(sess.State))
		}

		if err := s.capture.ExecuteCapture(ctx, sess); err != nil {
			return nil, apperror.ErrCaptureFailed(err)
		}

		patch := sess.Patch(domain.SessionStateCaptured, now)
		patch.CapturedAt = &now
		return &patch, nil
	})
}

// Cancel closes a CREATED or AUTHORIZED session and drops its payload.
func (s *SessionServiceImpl) Cancel(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return s.mutate(ctx, "cancel", id, func(_ context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error) {
		if !sess.CanCancel() {
			return nil, apperror.ErrInvalidTransition("cancel", string(sess.State))
		}
		patch := sess.Patch(domain.SessionStateCancelled, now)
		patch.SignedPayload = nil
		patch.ClosedAt = &now
		return &patch, nil
	})
}

// Delete closes any non-terminal session. Deleting twice is a no-op.
func (s *SessionServiceImpl) Delete(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return s.mutate(ctx, "delete", id, func(_ context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error) {
		if sess.State == domain.SessionStateDeleted {
			return nil, nil
		}
		if !sess.CanDelete() {
			return nil, apperror.ErrInvalidTransition("delete", string(sess.State))
		}
		patch := sess.Patch(domain.SessionStateDeleted, now)
		patch.SignedPayload = nil
		patch.ClosedAt = &now
		return &patch, nil
	})
}

// Fail records a gateway-reported failure on an AUTHORIZED session.
func (s *SessionServiceImpl) Fail(ctx context.Context, id string, reason string) (*domain.PaymentSession, error) {
	return s.mutate(ctx, "fail", id, func(_ context.Context, sess *domain.PaymentSession, now time.Time) (*domain.SessionPatch, error) {
		if sess.State == domain.SessionStateFailed {
			return nil, nil
		}
		if !sess.CanFail() {
			return nil, apperror.ErrInvalidTransition("fail", string(sess.State))
		}
		patch := sess.Patch(domain.SessionStateFailed, now)
		patch.SignedPayload = nil
		patch.FailureReason = reason
		patch.ClosedAt = &now
		return &patch, nil
	})
}

// Refund is not offered by the gateway integration.
func (s *SessionServiceImpl) Refund(_ context.Context, _ string) error {
	s.metrics.Transition("refund", "unsupported")
	return apperror.ErrNotSupported("Refund")
}

// GetStatus is not offered by the gateway integration.
func (s *SessionServiceImpl) GetStatus(_ context.Context, _ string) (domain.SessionState, error) {
	s.metrics.Transition("status", "unsupported")
	return "", apperror.ErrNotSupported("Payment status lookup")
}

// RetrievePayload is not offered by the gateway integration.
func (s *SessionServiceImpl) RetrievePayload(_ context.Context, _ string) (*domain.SignedPayload, error) {
	s.metrics.Transition("retrieve", "unsupported")
	return nil, apperror.ErrNotSupported("Payment retrieval")
}

// Lookup resolves a callback reference, trying the cart id before the session id.
// A cart with several sessions resolves to the one sent to the gateway.
func (s *SessionServiceImpl) Lookup(ctx context.Context, reference string) (*domain.PaymentSession, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}

	sess, err := s.repo.GetByCartID(ctx, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get session by cart: %w", err))
	}
	if sess != nil {
		return sess, nil
	}

	sess, err = s.repo.Get(ctx, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get session: %w", err))
	}
	return sess, nil
}

// sign builds the full signed payment request for sess.
func (s *SessionServiceImpl) sign(sess *domain.PaymentSession) (*domain.SignedPayload, error) {
	if _, ok := s.converter.Rate(sess.CurrencyCode); !ok && sess.CurrencyCode != "mkd" {
		s.log.Warn().
			Str("session_id", sess.ID).
			Str("currency", sess.CurrencyCode).
			Msg("currency passthrough: no conversion rate, amount sent as MKD unchanged")
	}
	amount := s.converter.Convert(sess.Amount, sess.CurrencyCode)

	fields, err := s.encoder.BuildPaymentFields(amount, sess.Context)
	if err != nil {
		return nil, err
	}
	header, err := s.encoder.Encode(fields)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = f.Value
	}

	return &domain.SignedPayload{
		Header:     header,
		Fields:     fields,
		Checksum:   s.checksum.Sign(header, values),
		GatewayURL: s.gatewayURL,
	}, nil
}

// mutate runs one read-modify-write under the session lock.
func (s *SessionServiceImpl) mutate(ctx context.Context, op string, id string, fn transitionFunc) (*domain.PaymentSession, error) {
	ctx, span := s.tracer.Start(ctx, "session."+op, trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	var (
		result *domain.PaymentSession
		from   domain.SessionState
		noop   bool
	)
	err := s.locker.WithLock(ctx, "session:"+id, func(ctx context.Context) error {
		sess, err := s.repo.Get(ctx, id)
		if err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("get session: %w", err))
		}
		if sess == nil {
			return apperror.ErrNotFound("Payment session")
		}
		from = sess.State

		patch, err := fn(ctx, sess, s.now())
		if err != nil {
			return err
		}
		if patch == nil {
			noop = true
			result = sess
			return nil
		}

		updated, err := s.repo.Update(ctx, id, *patch)
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			return apperror.ErrVersionConflict()
		case errors.Is(err, domain.ErrSessionNotFound):
			return apperror.ErrNotFound("Payment session")
		case err != nil:
			return apperror.ErrDatabaseError(fmt.Errorf("update session: %w", err))
		}
		result = updated
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("session_id", id).
			Str("operation", op).
			Str("state", string(from)).
			Msg("session transition rejected")
		return nil, s.finish(span, op, err)
	}

	if noop {
		s.metrics.Transition(op, "noop")
		s.log.Debug().Str("session_id", id).Str("operation", op).Str("state", string(from)).Msg("session transition is a no-op")
		return result, nil
	}

	s.log.Info().
		Str("session_id", id).
		Str("operation", op).
		Str("from", string(from)).
		Str("to", string(result.State)).
		Int64("version", result.Version).
		Msg("session transitioned")
	s.finish(span, op, nil)
	return result, nil
}

// finish records the outcome of op on span and metrics and returns err.
func (s *SessionServiceImpl) finish(span trace.Span, op string, err error) error {
	if err == nil {
		s.metrics.Transition(op, "ok")
		return nil
	}

	result := "error"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus < http.StatusInternalServerError {
		result = "rejected"
	}
	s.metrics.Transition(op, result)

	span.RecordError(err)
	if result == "error" {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
