package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/obs"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Headers set on every capture notification.
const (
	HeaderSignature      = "X-Signature"
	HeaderTimestamp      = "X-Timestamp"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client whose transport emits client spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// CaptureNotification is the JSON body posted to the capture webhook.
type CaptureNotification struct {
	SessionID        string `json:"session_id"`
	CartID           string `json:"cart_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	SettlementAmount string `json:"settlement_amount"`
	SettlementCcy    string `json:"settlement_currency"`
	CapturedAt       string `json:"captured_at"`
}

// HTTPCaptureNotifier implements ports.CaptureExecutor by posting a signed
// notification to the host's capture webhook. Delivery is synchronous: a
// failed delivery fails the capture.
type HTTPCaptureNotifier struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	converter  ports.CurrencyConverter
	httpClient HTTPClient
	metrics    *obs.DomainMetrics
	now        func() time.Time
	log        zerolog.Logger
}

// NewHTTPCaptureNotifier creates a new capture notifier.
func NewHTTPCaptureNotifier(
	url string,
	secret string,
	sigSvc ports.SignatureService,
	converter ports.CurrencyConverter,
	httpClient HTTPClient,
	metrics *obs.DomainMetrics,
	log zerolog.Logger,
) *HTTPCaptureNotifier {
	return &HTTPCaptureNotifier{
		url:        url,
		secret:     secret,
		sigSvc:     sigSvc,
		converter:  converter,
		httpClient: httpClient,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// ExecuteCapture delivers the notification and requires a 2xx answer.
func (n *HTTPCaptureNotifier) ExecuteCapture(ctx context.Context, sess *domain.PaymentSession) error {
	now := n.now()
	body, err := json.Marshal(n.notification(sess, now))
	if err != nil {
		return fmt.Errorf("marshal capture notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build capture request: %w", err)
	}
	ts := now.Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderSignature, n.sigSvc.Sign(n.secret, NotificationPayload(ts, body)))
	req.Header.Set(HeaderIdempotencyKey, "capture:"+sess.ID)

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.metrics.CaptureNotified("error", time.Since(start))
		n.log.Warn().Err(err).Str("session_id", sess.ID).Msg("capture: delivery failed")
		return fmt.Errorf("deliver capture notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.metrics.CaptureNotified("rejected", time.Since(start))
		n.log.Warn().Str("session_id", sess.ID).Int("status", resp.StatusCode).Msg("capture: non-2xx response")
		return fmt.Errorf("capture webhook answered %d", resp.StatusCode)
	}

	n.metrics.CaptureNotified("ok", time.Since(start))
	n.log.Info().Str("session_id", sess.ID).Int("status", resp.StatusCode).Msg("capture: delivered")
	return nil
}

func (n *HTTPCaptureNotifier) notification(sess *domain.PaymentSession, now time.Time) CaptureNotification {
	settlement := ""
	if sess.SignedPayload != nil {
		settlement, _ = sess.SignedPayload.Lookup(domain.FieldAmountToPay)
	}
	if settlement == "" {
		settlement = n.converter.Convert(sess.Amount, sess.CurrencyCode).StringFixed(0)
	}

	return CaptureNotification{
		SessionID:        sess.ID,
		CartID:           sess.CartID(),
		Amount:           sess.Amount.String(),
		Currency:         sess.CurrencyCode,
		SettlementAmount: settlement,
		SettlementCcy:    domain.SettlementCurrency,
		CapturedAt:       now.Format(time.RFC3339),
	}
}

// NoopCaptureExecutor accepts every capture; used when no webhook is configured.
type NoopCaptureExecutor struct {
	log zerolog.Logger
}

func NewNoopCaptureExecutor(log zerolog.Logger) *NoopCaptureExecutor {
	return &NoopCaptureExecutor{log: log}
}

func (e *NoopCaptureExecutor) ExecuteCapture(_ context.Context, sess *domain.PaymentSession) error {
	e.log.Debug().Str("session_id", sess.ID).Msg("capture: no webhook configured, accepting")
	return nil
}
