package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CallbackHandler receives the browser posts the gateway sends back after checkout.
// Both routes always answer 200 with an HTML redirect.
type CallbackHandler struct {
	reconciler ports.CallbackReconciler
	log        zerolog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(reconciler ports.CallbackReconciler, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler, log: log}
}

// Success handles POST /api/cpay/success.
func (h *CallbackHandler) Success(c *gin.Context) {
	out := h.reconciler.HandleSuccess(c.Request.Context(), h.parse(c))
	response.HTMLRedirect(c, out.RedirectURL)
}

// Fail handles POST /api/cpay/fail.
func (h *CallbackHandler) Fail(c *gin.Context) {
	out := h.reconciler.HandleFail(c.Request.Context(), h.parse(c))
	response.HTMLRedirect(c, out.RedirectURL)
}

// parse reads a urlencoded, multipart or JSON callback body. An unreadable
// body yields empty params so the reconciler falls back to configured URLs.
func (h *CallbackHandler) parse(c *gin.Context) ports.CallbackParams {
	form, err := readForm(c)
	if err != nil {
		h.log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("unreadable gateway callback body")
		form = map[string]string{}
	}
	return ports.CallbackParams{
		Details1: form[domain.FieldDetails1],
		Details2: form[domain.FieldDetails2],
		Form:     form,
	}
}

func readForm(c *gin.Context) (map[string]string, error) {
	form := make(map[string]string)

	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body map[string]json.RawMessage
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		for k, raw := range body {
			form[k] = jsonScalar(raw)
		}
		return form, nil
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(1 << 20); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
	} else if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	for k, vals := range c.Request.PostForm {
		if len(vals) > 0 {
			form[k] = vals[0]
		}
	}
	return form, nil
}

// jsonScalar renders a posted JSON value the way a form post would carry it.
// Numbers keep their literal digits; objects and arrays stay raw JSON.
func jsonScalar(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return string(raw)
	}
}
