package dto

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsNested(t *testing.T) {
	req := InitiateSessionRequest{
		ID:           "  ps_1  ",
		Amount:       " 100.50 ",
		CurrencyCode: " EUR ",
		Context: &SessionContextRequest{
			CartID: " cart_01 ",
			Email:  " ana@example.com",
			Billing: &BillingRequest{
				FirstName: " Ana ",
				City:      "Skopje  ",
			},
		},
	}
	SanitizeStruct(&req)

	assert.Equal(t, "ps_1", req.ID)
	assert.Equal(t, "100.50", req.Amount)
	assert.Equal(t, "EUR", req.CurrencyCode)
	assert.Equal(t, "cart_01", req.Context.CartID)
	assert.Equal(t, "ana@example.com", req.Context.Email)
	assert.Equal(t, "Ana", req.Context.Billing.FirstName)
	assert.Equal(t, "Skopje", req.Context.Billing.City)
}

func TestSanitizeStruct_KeepsMarkup(t *testing.T) {
	req := BillingRequest{Address1: " Ul. <Makedonija> & 5 "}
	SanitizeStruct(&req)

	assert.Equal(t, "Ul. <Makedonija> & 5", req.Address1)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := InitiateSessionRequest{Amount: "1", CurrencyCode: "mkd"}
	SanitizeStruct(&req)
	assert.Nil(t, req.Context)

	var nilReq *InitiateSessionRequest
	SanitizeStruct(nilReq) // should not panic
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"ref-001",
		"REF_002",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"ref 001",     // space
		"ref<001>",    // angle brackets
		"ref;DROP",    // semicolon
		"",            // empty
		"hello world", // space
		"ref\n001",    // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestInitiateSessionRequest_Binding(t *testing.T) {
	tests := []struct {
		name    string
		req     InitiateSessionRequest
		wantErr bool
	}{
		{"minimal", InitiateSessionRequest{Amount: "100", CurrencyCode: "eur"}, false},
		{"missing amount", InitiateSessionRequest{CurrencyCode: "eur"}, true},
		{"bad currency", InitiateSessionRequest{Amount: "1", CurrencyCode: "euro"}, true},
		{"unsafe id", InitiateSessionRequest{ID: "ps 1", Amount: "1", CurrencyCode: "eur"}, true},
		{
			"bad nested email",
			InitiateSessionRequest{Amount: "1", CurrencyCode: "eur", Context: &SessionContextRequest{Email: "nope"}},
			true,
		},
		{
			"unsafe cart id",
			InitiateSessionRequest{Amount: "1", CurrencyCode: "eur", Context: &SessionContextRequest{CartID: "c;1"}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(&tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitiateSessionRequest_ToInitiate(t *testing.T) {
	req := InitiateSessionRequest{
		Amount:       "100.50",
		CurrencyCode: "EUR",
		Context: &SessionContextRequest{
			CartID:  "cart_01",
			Billing: &BillingRequest{CountryCode: "mk"},
		},
	}

	in, err := req.ToInitiate()
	require.NoError(t, err)
	assert.Equal(t, "100.5", in.Amount.String())
	assert.Equal(t, "eur", in.CurrencyCode)
	assert.Equal(t, "cart_01", in.Context.CartID)
	assert.Equal(t, "mk", in.Context.Billing.CountryCode)

	_, err = InitiateSessionRequest{Amount: "ten", CurrencyCode: "eur"}.ToInitiate()
	assert.Error(t, err)
}
