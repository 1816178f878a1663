package service

import (
	"context"
	"net/url"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/obs"
	"cpay-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// Callback reconciliation results, also used as the metric label.
const (
	CallbackCaptured  = "captured"
	CallbackFailed    = "failed"
	CallbackNoop      = "noop"
	CallbackUnmatched = "unmatched"
	CallbackRejected  = "rejected"
	CallbackFallback  = "fallback"
	CallbackError     = "error"
)

const gatewayFailReason = "gateway reported payment failure"

var errMalformedDetails = apperror.ErrReconciliation("details field missing or malformed", nil)

// CallbackOptions configures the reconciler.
type CallbackOptions struct {
	SuccessFallback string // Used when Details1 carries no usable success URL
	FailFallback    string // Used when Details1 carries no usable fail URL
	// RequireChecksum rejects callbacks that carry no ReturnCheckSum.
	RequireChecksum bool
}

// CallbackReconcilerImpl implements ports.CallbackReconciler.
type CallbackReconcilerImpl struct {
	sessions ports.SessionService
	checksum ports.ChecksumService
	opts     CallbackOptions
	metrics  *obs.DomainMetrics
	log      zerolog.Logger
}

// NewCallbackReconciler creates a new CallbackReconcilerImpl.
func NewCallbackReconciler(
	sessions ports.SessionService,
	checksum ports.ChecksumService,
	opts CallbackOptions,
	metrics *obs.DomainMetrics,
	log zerolog.Logger,
) *CallbackReconcilerImpl {
	return &CallbackReconcilerImpl{
		sessions: sessions,
		checksum: checksum,
		opts:     opts,
		metrics:  metrics,
		log:      log,
	}
}

// HandleSuccess captures the AUTHORIZED session and sends the shopper to the
// success URL. Reconciliation problems are reported as a warning; the
// redirect always happens. A callback without a usable success URL in
// Details1 is redirected to the fallback and touches no session.
func (r *CallbackReconcilerImpl) HandleSuccess(ctx context.Context, cb ports.CallbackParams) ports.CallbackOutcome {
	details := domain.ParseDetails(cb.Details1)
	out := ports.CallbackOutcome{RedirectURL: r.opts.SuccessFallback}

	// A forged success post must not land the shopper on the success page.
	if err := r.verify(cb); err != nil {
		out.RedirectURL = r.failTarget(details)
		out.Result = CallbackRejected
		out.Warning = err
		return r.done(ctx, "success", cb, out)
	}
	if !isWebURL(details.SuccessURL) {
		out.Result = CallbackFallback
		out.Warning = errMalformedDetails
		return r.done(ctx, "success", cb, out)
	}
	out.RedirectURL = details.SuccessURL

	sess, err := r.sessions.Lookup(ctx, cb.Details2)
	if err != nil {
		out.Result = CallbackError
		out.Warning = apperror.ErrReconciliation("session lookup failed", err)
		return r.done(ctx, "success", cb, out)
	}
	if sess == nil {
		out.Result = CallbackUnmatched
		out.Warning = apperror.ErrReconciliation("no payment session for callback reference", nil)
		return r.done(ctx, "success", cb, out)
	}
	out.SessionID = sess.ID

	switch sess.State {
	case domain.SessionStateAuthorized:
		if _, err := r.sessions.Capture(ctx, sess.ID); err != nil {
			out.Result = CallbackError
			out.Warning = apperror.ErrReconciliation("capture failed", err)
		} else {
			out.Result = CallbackCaptured
		}
	case domain.SessionStateCaptured:
		out.Result = CallbackNoop
	default:
		out.Result = CallbackNoop
		out.Warning = apperror.ErrReconciliation("success callback for session in state "+string(sess.State), nil)
	}
	return r.done(ctx, "success", cb, out)
}

// HandleFail marks an AUTHORIZED session FAILED and sends the shopper to the
// fail URL. Sessions in any other state are left untouched, as is every
// session when Details1 carries no usable fail URL.
func (r *CallbackReconcilerImpl) HandleFail(ctx context.Context, cb ports.CallbackParams) ports.CallbackOutcome {
	details := domain.ParseDetails(cb.Details1)
	out := ports.CallbackOutcome{RedirectURL: r.failTarget(details)}

	if err := r.verify(cb); err != nil {
		out.Result = CallbackRejected
		out.Warning = err
		return r.done(ctx, "fail", cb, out)
	}
	if !isWebURL(details.FailURL) {
		out.Result = CallbackFallback
		out.Warning = errMalformedDetails
		return r.done(ctx, "fail", cb, out)
	}

	sess, err := r.sessions.Lookup(ctx, cb.Details2)
	if err != nil {
		out.Result = CallbackError
		out.Warning = apperror.ErrReconciliation("session lookup failed", err)
		return r.done(ctx, "fail", cb, out)
	}
	if sess == nil {
		out.Result = CallbackUnmatched
		out.Warning = apperror.ErrReconciliation("no payment session for callback reference", nil)
		return r.done(ctx, "fail", cb, out)
	}
	out.SessionID = sess.ID

	if sess.State != domain.SessionStateAuthorized {
		out.Result = CallbackNoop
		return r.done(ctx, "fail", cb, out)
	}

	if _, err := r.sessions.Fail(ctx, sess.ID, gatewayFailReason); err != nil {
		out.Result = CallbackError
		out.Warning = apperror.ErrReconciliation("marking session failed", err)
	} else {
		out.Result = CallbackFailed
	}
	return r.done(ctx, "fail", cb, out)
}

// verify checks ReturnCheckSum over the fields named in ReturnCheckSumHeader.
// Callbacks without checksum fields pass unless RequireChecksum is set.
func (r *CallbackReconcilerImpl) verify(cb ports.CallbackParams) error {
	header := cb.Form[domain.FieldReturnCheckSumHeader]
	sum := cb.Form[domain.FieldReturnCheckSum]
	if header == "" && sum == "" {
		if r.opts.RequireChecksum {
			return apperror.ErrChecksumMissing()
		}
		return nil
	}

	names, _, err := DecodeHeader(header)
	if err != nil {
		return err
	}
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = cb.Form[name]
	}
	return r.checksum.Verify(header, values, sum)
}

func (r *CallbackReconcilerImpl) failTarget(d domain.PackedDetails) string {
	if isWebURL(d.FailURL) {
		return d.FailURL
	}
	return r.opts.FailFallback
}

// isWebURL accepts absolute http(s) URLs only. Details1 arrives from the
// browser, so anything else falls back to the configured target.
func isWebURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (r *CallbackReconcilerImpl) done(_ context.Context, route string, cb ports.CallbackParams, out ports.CallbackOutcome) ports.CallbackOutcome {
	r.metrics.Callback(route, out.Result)

	var ev *zerolog.Event
	if out.Warning != nil {
		ev = r.log.Warn().Err(out.Warning)
	} else {
		ev = r.log.Info()
	}
	ev.Str("route", route).
		Str("result", out.Result).
		Str("session_id", out.SessionID).
		Str("label", domain.ParseDetails(cb.Details1).Label).
		Str("details", cb.Details1).
		Str("reference", cb.Details2).
		Str("redirect", out.RedirectURL).
		Msg("gateway callback reconciled")
	return out
}
