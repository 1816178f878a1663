package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/obs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const captureSecret = "whsec_test"

func newTestNotifier(url string, metrics *obs.DomainMetrics) *HTTPCaptureNotifier {
	n := NewHTTPCaptureNotifier(url, captureSecret, NewHMACSignatureService(),
		NewStaticCurrencyConverter(), NewHTTPClient(2*time.Second), metrics, zerolog.Nop())
	n.now = func() time.Time { return testNow }
	return n
}

func TestHTTPCaptureNotifier_SignedDelivery(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := obs.NewDomainMetrics(reg)
	n := newTestNotifier(srv.URL, metrics)

	sess := sessionIn(domain.SessionStateAuthorized)
	sess.SignedPayload = &domain.SignedPayload{
		Fields: []domain.Field{{Name: domain.FieldAmountToPay, Value: "6150"}},
	}

	require.NoError(t, n.ExecuteCapture(context.Background(), sess))

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "capture:ps_1", gotHeaders.Get(HeaderIdempotencyKey))

	ts := gotHeaders.Get(HeaderTimestamp)
	assert.Equal(t, strconv.FormatInt(testNow.Unix(), 10), ts)
	tsInt, err := strconv.ParseInt(ts, 10, 64)
	require.NoError(t, err)
	assert.True(t, NewHMACSignatureService().Verify(captureSecret, NotificationPayload(tsInt, gotBody), gotHeaders.Get(HeaderSignature)))

	var note CaptureNotification
	require.NoError(t, json.Unmarshal(gotBody, &note))
	assert.Equal(t, "ps_1", note.SessionID)
	assert.Equal(t, "cart_01", note.CartID)
	assert.Equal(t, "100", note.Amount)
	assert.Equal(t, "eur", note.Currency)
	assert.Equal(t, "6150", note.SettlementAmount)
	assert.Equal(t, "MKD", note.SettlementCcy)
	assert.Equal(t, testNow.Format(time.RFC3339), note.CapturedAt)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CaptureNotify))
}

func TestHTTPCaptureNotifier_SettlementFallsBackToConverter(t *testing.T) {
	var note CaptureNotification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&note)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := sessionIn(domain.SessionStateAuthorized)
	sess.Amount = decimal.RequireFromString("10.25")

	require.NoError(t, newTestNotifier(srv.URL, nil).ExecuteCapture(context.Background(), sess))
	assert.Equal(t, "630", note.SettlementAmount, "10.25 EUR at 61.5 rounds to 630 MKD")
}

func TestHTTPCaptureNotifier_Non2xx(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusServiceUnavailable},
		{"client error", http.StatusConflict},
		{"redirect", http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestNotifier(srv.URL, nil).ExecuteCapture(context.Background(), sessionIn(domain.SessionStateAuthorized))
			require.Error(t, err)
			assert.Contains(t, err.Error(), strconv.Itoa(tt.status))
		})
	}
}

func TestHTTPCaptureNotifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestNotifier(url, nil).ExecuteCapture(context.Background(), sessionIn(domain.SessionStateAuthorized))
	assert.Error(t, err)
}

func TestNoopCaptureExecutor(t *testing.T) {
	e := NewNoopCaptureExecutor(zerolog.Nop())
	assert.NoError(t, e.ExecuteCapture(context.Background(), sessionIn(domain.SessionStateAuthorized)))
}
