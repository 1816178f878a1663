package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/core/ports/mocks"
	"cpay-gateway/pkg/apperror"

	"github.com/shopspring/decimal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testGatewayURL = "https://gateway.example.com/PaymentParamsPage.aspx"

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type sessionTestDeps struct {
	svc      *SessionServiceImpl
	repo     *mocks.MockSessionRepository
	capture  *mocks.MockCaptureExecutor
	checksum *MD5ChecksumService
	ctrl     *gomock.Controller
}

func setupSessionService(t *testing.T) *sessionTestDeps {
	ctrl := gomock.NewController(t)
	d := &sessionTestDeps{
		repo:     mocks.NewMockSessionRepository(ctrl),
		capture:  mocks.NewMockCaptureExecutor(ctrl),
		checksum: NewMD5ChecksumService("TEST_PASS"),
		ctrl:     ctrl,
	}
	d.svc = NewSessionService(
		d.repo, nil,
		NewStaticCurrencyConverter(),
		NewCPayParamEncoder(testGatewayOptions()),
		d.checksum,
		d.capture,
		testGatewayURL,
		nil,
		zerolog.Nop(),
	)
	d.svc.now = func() time.Time { return testNow }
	return d
}

func sessionIn(state domain.SessionState) *domain.PaymentSession {
	return &domain.PaymentSession{
		ID:           "ps_1",
		State:        state,
		Amount:       decimal.NewFromInt(100),
		CurrencyCode: "eur",
		Context:      testSessionContext(),
		Version:      2,
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Hour),
	}
}

// applyPatch mimics a store that accepts the patch.
func applyPatch(base *domain.PaymentSession) func(context.Context, string, domain.SessionPatch) (*domain.PaymentSession, error) {
	return func(_ context.Context, _ string, patch domain.SessionPatch) (*domain.PaymentSession, error) {
		cp := *base
		patch.Apply(&cp)
		return &cp, nil
	}
}

// ==================== Initiate Tests ====================

func TestSessionService_Initiate_GeneratesID(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	var stored *domain.PaymentSession
	d.repo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, s *domain.PaymentSession) error {
		stored = s
		return nil
	})

	sess, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		Amount:       decimal.NewFromInt(100),
		CurrencyCode: " EUR ",
		Context:      testSessionContext(),
	})
	require.NoError(t, err)
	assert.Same(t, stored, sess)
	assert.Len(t, sess.ID, 36)
	assert.Equal(t, domain.SessionStateCreated, sess.State)
	assert.Equal(t, "eur", sess.CurrencyCode)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, testNow, sess.CreatedAt)
	assert.Nil(t, sess.SignedPayload)
}

func TestSessionService_Initiate_CallerID(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	d.repo.EXPECT().Create(ctx, gomock.Any()).Return(nil)

	sess, err := d.svc.Initiate(ctx, ports.InitiateRequest{
		ID:           "ps_custom",
		Amount:       decimal.NewFromInt(1500),
		CurrencyCode: "mkd",
	})
	require.NoError(t, err)
	assert.Equal(t, "ps_custom", sess.ID)
	assert.Nil(t, sess.Context)
}

func TestSessionService_Initiate_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ports.InitiateRequest
	}{
		{"negative amount", ports.InitiateRequest{Amount: decimal.NewFromInt(-1), CurrencyCode: "eur"}},
		{"missing currency", ports.InitiateRequest{Amount: decimal.NewFromInt(1), CurrencyCode: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupSessionService(t)
			_, err := d.svc.Initiate(context.Background(), tt.req)
			assert.True(t, apperror.HasCode(err, "REQ_001"), "got %v", err)
		})
	}
}

func TestSessionService_Initiate_Duplicate(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	d.repo.EXPECT().Create(ctx, gomock.Any()).Return(domain.ErrSessionExists)

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{ID: "ps_1", Amount: decimal.NewFromInt(1), CurrencyCode: "eur"})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateSession))
}

func TestSessionService_Initiate_StoreError(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	d.repo.EXPECT().Create(ctx, gomock.Any()).Return(errors.New("connection refused"))

	_, err := d.svc.Initiate(ctx, ports.InitiateRequest{Amount: decimal.NewFromInt(1), CurrencyCode: "eur"})
	assert.True(t, apperror.HasCode(err, "SYS_001"))
}

// ==================== Authorize Tests ====================

func TestSessionService_Authorize_Success(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateCreated)

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, patch domain.SessionPatch) (*domain.PaymentSession, error) {
			assert.Equal(t, int64(2), patch.ExpectedVersion)
			assert.Equal(t, domain.SessionStateAuthorized, patch.State)
			require.NotNil(t, patch.AuthorizedAt)
			assert.Equal(t, testNow, *patch.AuthorizedAt)
			return applyPatch(current)(ctx, "ps_1", patch)
		})

	sess, err := d.svc.Authorize(ctx, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateAuthorized, sess.State)
	assert.Equal(t, int64(3), sess.Version)

	payload := sess.SignedPayload
	require.NotNil(t, payload)
	assert.Equal(t, testGatewayURL, payload.GatewayURL)
	assert.Len(t, payload.Fields, 15)

	amount, _ := payload.Lookup(domain.FieldAmountToPay)
	assert.Equal(t, "6150", amount, "100 EUR converts to 6150 MKD")
	cart, _ := payload.Lookup(domain.FieldDetails2)
	assert.Equal(t, "cart_01", cart)

	assert.NoError(t, d.checksum.Verify(payload.Header, payload.Values(), payload.Checksum))
	assert.Equal(t, "528b2a4a583587efba979201f121f559", payload.Checksum)
}

func TestSessionService_Authorize_ReauthorizeOverwrites(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateAuthorized)
	current.SignedPayload = &domain.SignedPayload{Header: "01,A,001", Checksum: "stale"}

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

	sess, err := d.svc.Authorize(ctx, "ps_1")
	require.NoError(t, err)
	assert.NotEqual(t, "stale", sess.SignedPayload.Checksum)
	assert.Len(t, sess.SignedPayload.Fields, 15)
}

func TestSessionService_Authorize_UnknownCurrencyPassesThrough(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateCreated)
	current.CurrencyCode = "xyz"

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

	sess, err := d.svc.Authorize(ctx, "ps_1")
	require.NoError(t, err)
	amount, _ := sess.SignedPayload.Lookup(domain.FieldAmountToPay)
	assert.Equal(t, "100", amount)
}

func TestSessionService_Authorize_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		session *domain.PaymentSession
		code    string
	}{
		{"captured", sessionIn(domain.SessionStateCaptured), apperror.CodeInvalidTransition},
		{"cancelled", sessionIn(domain.SessionStateCancelled), apperror.CodeInvalidTransition},
		{"deleted", sessionIn(domain.SessionStateDeleted), apperror.CodeInvalidTransition},
		{"failed", sessionIn(domain.SessionStateFailed), apperror.CodeInvalidTransition},
		{"no context", func() *domain.PaymentSession {
			s := sessionIn(domain.SessionStateCreated)
			s.Context = nil
			return s
		}(), apperror.CodeMissingContext},
		{"oversized field", func() *domain.PaymentSession {
			s := sessionIn(domain.SessionStateCreated)
			s.Context.Billing.Address1 = string(make([]byte, 1000))
			return s
		}(), apperror.CodeFieldTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupSessionService(t)
			ctx := context.Background()
			d.repo.EXPECT().Get(ctx, "ps_1").Return(tt.session, nil)
			// No Update expected: errors never persist a partial payload.

			_, err := d.svc.Authorize(ctx, "ps_1")
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestSessionService_Authorize_NotFound(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	d.repo.EXPECT().Get(ctx, "missing").Return(nil, nil)

	_, err := d.svc.Authorize(ctx, "missing")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

// ==================== Capture Tests ====================

func TestSessionService_Capture_Success(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateAuthorized)
	current.SignedPayload = &domain.SignedPayload{Checksum: "abc"}

	gomock.InOrder(
		d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil),
		d.capture.EXPECT().ExecuteCapture(ctx, current).Return(nil),
		d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current)),
	)

	sess, err := d.svc.Capture(ctx, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCaptured, sess.State)
	require.NotNil(t, sess.CapturedAt)
	assert.Equal(t, testNow, *sess.CapturedAt)
	assert.NotNil(t, sess.SignedPayload, "captured sessions keep their payload")
}

func TestSessionService_Capture_Idempotent(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateCaptured)

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)

	sess, err := d.svc.Capture(ctx, "ps_1")
	require.NoError(t, err)
	assert.Same(t, current, sess)
}

func TestSessionService_Capture_FromCreated(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateCreated), nil)

	_, err := d.svc.Capture(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
}

func TestSessionService_Capture_ExecutorFails(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateAuthorized)

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	d.capture.EXPECT().ExecuteCapture(ctx, current).Return(errors.New("capture webhook answered 503"))

	_, err := d.svc.Capture(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeCaptureFailed))
	assert.Equal(t, domain.SessionStateAuthorized, current.State)
}

func TestSessionService_Capture_VersionConflict(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()
	current := sessionIn(domain.SessionStateAuthorized)

	d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	d.capture.EXPECT().ExecuteCapture(ctx, current).Return(nil)
	d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).Return(nil, domain.ErrVersionConflict)

	_, err := d.svc.Capture(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeVersionConflict))
}

// ==================== Cancel / Delete / Fail Tests ====================

func TestSessionService_Cancel(t *testing.T) {
	t.Run("authorized clears payload", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		current := sessionIn(domain.SessionStateAuthorized)
		current.SignedPayload = &domain.SignedPayload{Checksum: "abc"}

		d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
		d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

		sess, err := d.svc.Cancel(ctx, "ps_1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStateCancelled, sess.State)
		assert.Nil(t, sess.SignedPayload)
		require.NotNil(t, sess.ClosedAt)
	})

	t.Run("captured rejected", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateCaptured), nil)

		_, err := d.svc.Cancel(ctx, "ps_1")
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
	})
}

func TestSessionService_Delete(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		current := sessionIn(domain.SessionStateCreated)

		d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
		d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

		sess, err := d.svc.Delete(ctx, "ps_1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStateDeleted, sess.State)
	})

	t.Run("deleted twice is a no-op", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		current := sessionIn(domain.SessionStateDeleted)
		d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)

		sess, err := d.svc.Delete(ctx, "ps_1")
		require.NoError(t, err)
		assert.Same(t, current, sess)
	})

	t.Run("captured rejected", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateCaptured), nil)

		_, err := d.svc.Delete(ctx, "ps_1")
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
	})
}

func TestSessionService_Fail(t *testing.T) {
	t.Run("authorized", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		current := sessionIn(domain.SessionStateAuthorized)
		current.SignedPayload = &domain.SignedPayload{Checksum: "abc"}

		d.repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
		d.repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

		sess, err := d.svc.Fail(ctx, "ps_1", "card declined")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStateFailed, sess.State)
		assert.Equal(t, "card declined", sess.FailureReason)
		assert.Nil(t, sess.SignedPayload)
	})

	t.Run("failed twice is a no-op", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateFailed), nil)

		_, err := d.svc.Fail(ctx, "ps_1", "again")
		assert.NoError(t, err)
	})

	t.Run("created rejected", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateCreated), nil)

		_, err := d.svc.Fail(ctx, "ps_1", "declined")
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
	})
}

// ==================== Unsupported Operations ====================

func TestSessionService_NotSupported(t *testing.T) {
	d := setupSessionService(t)
	ctx := context.Background()

	err := d.svc.Refund(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotSupported))

	_, err = d.svc.GetStatus(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotSupported))

	_, err = d.svc.RetrievePayload(ctx, "ps_1")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotSupported))
}

// ==================== Lookup / Locking ====================

func TestSessionService_Lookup(t *testing.T) {
	t.Run("by cart id", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().GetByCartID(ctx, "cart_01").Return(sessionIn(domain.SessionStateAuthorized), nil)

		sess, err := d.svc.Lookup(ctx, "cart_01")
		require.NoError(t, err)
		assert.Equal(t, "ps_1", sess.ID)
	})

	t.Run("falls back to session id", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().GetByCartID(ctx, "ps_1").Return(nil, nil)
		d.repo.EXPECT().Get(ctx, "ps_1").Return(sessionIn(domain.SessionStateAuthorized), nil)

		sess, err := d.svc.Lookup(ctx, "ps_1")
		require.NoError(t, err)
		assert.NotNil(t, sess)
	})

	t.Run("empty reference", func(t *testing.T) {
		d := setupSessionService(t)
		sess, err := d.svc.Lookup(context.Background(), " ")
		assert.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("store error", func(t *testing.T) {
		d := setupSessionService(t)
		ctx := context.Background()
		d.repo.EXPECT().GetByCartID(ctx, "cart_01").Return(nil, errors.New("timeout"))

		_, err := d.svc.Lookup(ctx, "cart_01")
		assert.True(t, apperror.HasCode(err, "SYS_001"))
	})
}

func TestSessionService_UsesLocker(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockSessionRepository(ctrl)
	locker := mocks.NewMockSessionLocker(ctrl)
	svc := NewSessionService(repo, locker, NewStaticCurrencyConverter(),
		NewCPayParamEncoder(testGatewayOptions()), NewMD5ChecksumService("k"), nil, testGatewayURL, nil, zerolog.Nop())

	ctx := context.Background()
	current := sessionIn(domain.SessionStateCreated)

	locker.EXPECT().WithLock(ctx, "session:ps_1", gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, fn func(context.Context) error) error {
			return fn(ctx)
		})
	repo.EXPECT().Get(ctx, "ps_1").Return(current, nil)
	repo.EXPECT().Update(ctx, "ps_1", gomock.Any()).DoAndReturn(applyPatch(current))

	sess, err := svc.Delete(ctx, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateDeleted, sess.State)
}

func TestSessionService_LockFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	locker := mocks.NewMockSessionLocker(ctrl)
	svc := NewSessionService(mocks.NewMockSessionRepository(ctrl), locker, NewStaticCurrencyConverter(),
		NewCPayParamEncoder(testGatewayOptions()), NewMD5ChecksumService("k"), nil, testGatewayURL, nil, zerolog.Nop())

	locker.EXPECT().WithLock(gomock.Any(), "session:ps_1", gomock.Any()).
		Return(apperror.ErrLockTimeout(errors.New("held")))

	_, err := svc.Capture(context.Background(), "ps_1")
	assert.True(t, apperror.HasCode(err, "SYS_002"))
}
