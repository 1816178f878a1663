package dto

import (
	"fmt"
	"strings"
	"time"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/internal/core/ports"

	"github.com/shopspring/decimal"
)

// InitiateSessionRequest is the request body for POST /api/v1/sessions.
// Amount is a decimal string in major units ("100.50").
type InitiateSessionRequest struct {
	ID           string                 `json:"id,omitempty" binding:"omitempty,max=64,safe_id"`
	Amount       string                 `json:"amount" binding:"required,max=32"`
	CurrencyCode string                 `json:"currency_code" binding:"required,len=3,alpha"`
	Context      *SessionContextRequest `json:"context,omitempty"`
}

// SessionContextRequest is the checkout context handed over by the host platform.
type SessionContextRequest struct {
	CartID  string          `json:"cart_id" binding:"omitempty,max=64,safe_id"`
	Email   string          `json:"email" binding:"omitempty,email,max=254"`
	Billing *BillingRequest `json:"billing,omitempty"`
}

// BillingRequest is the customer billing address.
type BillingRequest struct {
	FirstName   string `json:"first_name" binding:"max=100"`
	LastName    string `json:"last_name" binding:"max=100"`
	Address1    string `json:"address_1" binding:"max=200"`
	City        string `json:"city" binding:"max=100"`
	PostalCode  string `json:"postal_code" binding:"max=20"`
	CountryCode string `json:"country_code" binding:"omitempty,len=2,alpha"`
}

// ToInitiate converts the request into service input.
func (r InitiateSessionRequest) ToInitiate() (ports.InitiateRequest, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return ports.InitiateRequest{}, fmt.Errorf("amount %q is not a decimal number", r.Amount)
	}

	req := ports.InitiateRequest{
		ID:           r.ID,
		Amount:       amount,
		CurrencyCode: strings.ToLower(r.CurrencyCode),
	}
	if r.Context != nil {
		req.Context = &domain.SessionContext{
			CartID: r.Context.CartID,
			Email:  r.Context.Email,
		}
		if b := r.Context.Billing; b != nil {
			req.Context.Billing = &domain.Billing{
				FirstName:   b.FirstName,
				LastName:    b.LastName,
				Address1:    b.Address1,
				City:        b.City,
				PostalCode:  b.PostalCode,
				CountryCode: b.CountryCode,
			}
		}
	}
	return req, nil
}

// SessionResponse is the response body for session operations.
type SessionResponse struct {
	ID            string           `json:"id"`
	State         string           `json:"state"`
	Amount        string           `json:"amount"`
	CurrencyCode  string           `json:"currency_code"`
	CartID        string           `json:"cart_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	AuthorizedAt  *string          `json:"authorized_at,omitempty"`
	CapturedAt    *string          `json:"captured_at,omitempty"`
	ClosedAt      *string          `json:"closed_at,omitempty"`
	Payment       *PaymentFormData `json:"payment,omitempty"`
}

// PaymentFormData is what the checkout page posts to the gateway.
type PaymentFormData struct {
	GatewayURL string            `json:"gateway_url,omitempty"`
	Fields     map[string]string `json:"fields"`
}

// ToSessionResponse converts domain.PaymentSession to DTO.
func ToSessionResponse(s *domain.PaymentSession) SessionResponse {
	resp := SessionResponse{
		ID:            s.ID,
		State:         string(s.State),
		Amount:        s.Amount.String(),
		CurrencyCode:  s.CurrencyCode,
		CartID:        s.CartID(),
		FailureReason: s.FailureReason,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
		AuthorizedAt:  formatTime(s.AuthorizedAt),
		CapturedAt:    formatTime(s.CapturedAt),
		ClosedAt:      formatTime(s.ClosedAt),
	}
	if s.SignedPayload != nil {
		resp.Payment = &PaymentFormData{
			GatewayURL: s.SignedPayload.GatewayURL,
			Fields:     s.SignedPayload.FormValues(),
		}
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
