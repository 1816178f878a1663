package service

import (
	"fmt"
	"strings"

	"cpay-gateway/internal/core/domain"
	"cpay-gateway/pkg/apperror"

	"github.com/shopspring/decimal"
)

const (
	// maxFieldBytes is the largest value a 3-digit length entry can describe.
	maxFieldBytes = 999
	// maxFields is the largest count a 2-digit prefix can describe.
	maxFields   = 99
	lengthWidth = 3
)

// GatewayOptions holds the merchant settings the payment request is built from.
type GatewayOptions struct {
	MerchantName string
	MerchantID   string
	BackendURL   string // Our public base URL; the gateway posts callbacks here
	ShopOKURL    string // Where the shopper lands after a successful payment
	ShopFailURL  string
	DetailsLabel string
}

// CallbackSuccessURL is the gateway's PaymentOKURL.
func (o GatewayOptions) CallbackSuccessURL() string {
	return strings.TrimRight(o.BackendURL, "/") + "/api/cpay/success"
}

// CallbackFailURL is the gateway's PaymentFailURL.
func (o GatewayOptions) CallbackFailURL() string {
	return strings.TrimRight(o.BackendURL, "/") + "/api/cpay/fail"
}

// Details returns the packed Details1 value.
func (o GatewayOptions) Details() domain.PackedDetails {
	label := o.DetailsLabel
	if label == "" {
		label = "Order Payment"
	}
	return domain.PackedDetails{Label: label, SuccessURL: o.ShopOKURL, FailURL: o.ShopFailURL}
}

// CPayParamEncoder builds the ordered parameter list and its header.
type CPayParamEncoder struct {
	opts GatewayOptions
}

// NewCPayParamEncoder creates a new encoder for one merchant.
func NewCPayParamEncoder(opts GatewayOptions) *CPayParamEncoder {
	return &CPayParamEncoder{opts: opts}
}

// Encode returns the header for fields. See EncodeHeader.
func (e *CPayParamEncoder) Encode(fields []domain.Field) (string, error) {
	return EncodeHeader(fields)
}

// Decode splits concatenated values back into named fields. See DecodeFields.
func (e *CPayParamEncoder) Decode(header string, concatenated string) ([]domain.Field, error) {
	return DecodeFields(header, concatenated)
}

// BuildPaymentFields returns the 15 gateway parameters in their fixed order.
// Missing billing data encodes as empty values; it is never omitted.
func (e *CPayParamEncoder) BuildPaymentFields(settlementAmount decimal.Decimal, sctx *domain.SessionContext) ([]domain.Field, error) {
	if sctx == nil {
		return nil, apperror.ErrMissingContext("checkout context")
	}

	billing := domain.Billing{}
	if sctx.Billing != nil {
		billing = *sctx.Billing
	}

	values := map[string]string{
		domain.FieldPaymentOKURL:   e.opts.CallbackSuccessURL(),
		domain.FieldPaymentFailURL: e.opts.CallbackFailURL(),
		domain.FieldAmountToPay:    settlementAmount.StringFixed(0),
		domain.FieldAmountCurrency: domain.SettlementCurrency,
		domain.FieldPayToMerchant:  e.opts.MerchantID,
		domain.FieldDetails1:       e.opts.Details().String(),
		domain.FieldDetails2:       sctx.CartID,
		domain.FieldMerchantName:   e.opts.MerchantName,
		domain.FieldFirstName:      billing.FirstName,
		domain.FieldLastName:       billing.LastName,
		domain.FieldEmail:          sctx.Email,
		domain.FieldZip:            billing.PostalCode,
		domain.FieldAddress:        billing.Address1,
		domain.FieldCity:           billing.City,
		domain.FieldCountry:        billing.CountryCode,
	}

	fields := make([]domain.Field, 0, len(domain.PaymentFieldOrder))
	for _, name := range domain.PaymentFieldOrder {
		fields = append(fields, domain.Field{Name: name, Value: values[name]})
	}
	return fields, nil
}

// EncodeHeader renders "NN,name1,...,nameN,LLL...LLL": a 2-digit count, the
// names, then each value's UTF-8 byte length as 3 digits. The header depends
// only on names and lengths.
func EncodeHeader(fields []domain.Field) (string, error) {
	if len(fields) == 0 {
		return "", apperror.ErrMalformedHeader("no fields")
	}
	if len(fields) > maxFields {
		return "", apperror.ErrMalformedHeader(fmt.Sprintf("%d fields exceed the 2-digit count", len(fields)))
	}

	var names, lengths strings.Builder
	for i, f := range fields {
		if f.Name == "" || strings.Contains(f.Name, ",") {
			return "", apperror.ErrInvalidFieldName(f.Name)
		}
		if len(f.Value) > maxFieldBytes {
			return "", apperror.ErrFieldTooLong(f.Name, len(f.Value))
		}
		if i > 0 {
			names.WriteByte(',')
		}
		names.WriteString(f.Name)
		fmt.Fprintf(&lengths, "%03d", len(f.Value))
	}

	return fmt.Sprintf("%02d,%s,%s", len(fields), names.String(), lengths.String()), nil
}

// DecodeHeader parses a header into its names and byte lengths.
func DecodeHeader(header string) ([]string, []int, error) {
	if len(header) < 3 || header[2] != ',' {
		return nil, nil, apperror.ErrMalformedHeader("missing count prefix")
	}
	count, ok := parseDigits(header[:2])
	if !ok || count < 1 {
		return nil, nil, apperror.ErrMalformedHeader("invalid count")
	}

	parts := strings.Split(header[3:], ",")
	if len(parts) != count+1 {
		return nil, nil, apperror.ErrMalformedHeader(
			fmt.Sprintf("count %d does not match %d names", count, len(parts)-1))
	}

	names := parts[:count]
	for _, n := range names {
		if n == "" {
			return nil, nil, apperror.ErrMalformedHeader("empty field name")
		}
	}

	table := parts[count]
	if len(table) != count*lengthWidth {
		return nil, nil, apperror.ErrMalformedHeader(
			fmt.Sprintf("length table has %d digits, want %d", len(table), count*lengthWidth))
	}

	lengths := make([]int, count)
	for i := range lengths {
		chunk := table[i*lengthWidth : (i+1)*lengthWidth]
		n, ok := parseDigits(chunk)
		if !ok {
			return nil, nil, apperror.ErrMalformedHeader("non-numeric length " + chunk)
		}
		lengths[i] = n
	}

	return names, lengths, nil
}

// parseDigits reads an unsigned decimal made only of ASCII digits; signs
// and spaces are rejected.
func parseDigits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, s != ""
}

// DecodeFields splits concatenated values by the header's length table.
func DecodeFields(header string, concatenated string) ([]domain.Field, error) {
	names, lengths, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range lengths {
		total += n
	}
	if total != len(concatenated) {
		return nil, apperror.ErrMalformedHeader(
			fmt.Sprintf("length table sums to %d bytes, payload has %d", total, len(concatenated)))
	}

	fields := make([]domain.Field, len(names))
	offset := 0
	for i, name := range names {
		fields[i] = domain.Field{Name: name, Value: concatenated[offset : offset+lengths[i]]}
		offset += lengths[i]
	}
	return fields, nil
}

// checkHeader confirms the header describes values one-to-one.
func checkHeader(header string, values []string) error {
	_, lengths, err := DecodeHeader(header)
	if err != nil {
		return err
	}
	if len(lengths) != len(values) {
		return apperror.ErrMalformedHeader(
			fmt.Sprintf("header lists %d fields, got %d values", len(lengths), len(values)))
	}
	for i, v := range values {
		if len(v) != lengths[i] {
			return apperror.ErrMalformedHeader(
				fmt.Sprintf("field %d is %d bytes, header says %d", i+1, len(v), lengths[i]))
		}
	}
	return nil
}
