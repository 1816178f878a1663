package handler

import (
	"context"
	"encoding/json"
	"time"

	"cpay-gateway/internal/adapter/http/dto"
	"cpay-gateway/internal/adapter/http/middleware"
	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/pkg/apperror"
	"cpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderIdempotencyKey lets the host platform retry Initiate safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// SessionHandler exposes the payment session state machine to the host platform.
type SessionHandler struct {
	sessions ports.SessionService
	idem     ports.IdempotencyCache // nil = Idempotency-Key ignored
	idemTTL  time.Duration
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions ports.SessionService, idem ports.IdempotencyCache, idemTTL time.Duration, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, idem: idem, idemTTL: idemTTL, log: log}
}

// Initiate handles POST /api/v1/sessions.
func (h *SessionHandler) Initiate(c *gin.Context) {
	var req dto.InitiateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	in, err := req.ToInitiate()
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	cacheKey := h.idempotencyKey(c)
	if cacheKey != "" {
		cached, err := h.idem.Get(c.Request.Context(), cacheKey)
		if err != nil {
			h.log.Warn().Err(err).Msg("idempotency cache read failed")
		} else if cached != nil {
			c.Header("Idempotent-Replayed", "true")
			response.Created(c, json.RawMessage(cached))
			return
		}
	}

	sess, err := h.sessions.Initiate(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.ToSessionResponse(sess)
	if cacheKey != "" {
		if raw, err := json.Marshal(resp); err == nil {
			if err := h.idem.Set(c.Request.Context(), cacheKey, raw, h.idemTTL); err != nil {
				h.log.Warn().Err(err).Str("session_id", sess.ID).Msg("idempotency cache write failed")
			}
		}
	}
	response.Created(c, resp)
}

// Authorize handles POST /api/v1/sessions/:id/authorize.
// The response carries the signed form fields for the gateway checkout page.
func (h *SessionHandler) Authorize(c *gin.Context) {
	h.transition(c, h.sessions.Authorize)
}

// Capture handles POST /api/v1/sessions/:id/capture.
func (h *SessionHandler) Capture(c *gin.Context) {
	h.transition(c, h.sessions.Capture)
}

// Cancel handles POST /api/v1/sessions/:id/cancel.
func (h *SessionHandler) Cancel(c *gin.Context) {
	h.transition(c, h.sessions.Cancel)
}

// Delete handles DELETE /api/v1/sessions/:id.
func (h *SessionHandler) Delete(c *gin.Context) {
	h.transition(c, h.sessions.Delete)
}

// Refund handles POST /api/v1/sessions/:id/refund.
func (h *SessionHandler) Refund(c *gin.Context) {
	if err := h.sessions.Refund(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id")})
}

// GetStatus handles GET /api/v1/sessions/:id.
func (h *SessionHandler) GetStatus(c *gin.Context) {
	state, err := h.sessions.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id"), "state": state})
}

// RetrievePayload handles GET /api/v1/sessions/:id/payload.
func (h *SessionHandler) RetrievePayload(c *gin.Context) {
	payload, err := h.sessions.RetrievePayload(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.PaymentFormData{GatewayURL: payload.GatewayURL, Fields: payload.FormValues()})
}

func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, id string) (*domain.PaymentSession, error)) {
	sess, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToSessionResponse(sess))
}

// idempotencyKey scopes the client key to the authenticated caller.
func (h *SessionHandler) idempotencyKey(c *gin.Context) string {
	key := c.GetHeader(HeaderIdempotencyKey)
	if h.idem == nil || key == "" || len(key) > 128 {
		return ""
	}
	subject := c.GetString(middleware.CtxSubject)
	if subject == "" {
		subject = "anonymous"
	}
	return subject + ":" + key
}
