package domain

import "strings"

// Gateway parameter names, in the order the gateway expects them.
const (
	FieldPaymentOKURL   = "PaymentOKURL"
	FieldPaymentFailURL = "PaymentFailURL"
	FieldAmountToPay    = "AmountToPay"
	FieldAmountCurrency = "AmountCurrency"
	FieldPayToMerchant  = "PayToMerchant"
	FieldDetails1       = "Details1"
	FieldDetails2       = "Details2"
	FieldMerchantName   = "MerchantName"
	FieldFirstName      = "FirstName"
	FieldLastName       = "LastName"
	FieldEmail          = "Email"
	FieldZip            = "Zip"
	FieldAddress        = "Address"
	FieldCity           = "City"
	FieldCountry        = "Country"

	// Fields the gateway adds when it posts the browser back.
	FieldCheckSumHeader       = "CheckSumHeader"
	FieldCheckSum             = "CheckSum"
	FieldReturnCheckSumHeader = "ReturnCheckSumHeader"
	FieldReturnCheckSum       = "ReturnCheckSum"
)

// PaymentFieldOrder is the fixed order of the outbound payment request.
var PaymentFieldOrder = []string{
	FieldPaymentOKURL,
	FieldPaymentFailURL,
	FieldAmountToPay,
	FieldAmountCurrency,
	FieldPayToMerchant,
	FieldDetails1,
	FieldDetails2,
	FieldMerchantName,
	FieldFirstName,
	FieldLastName,
	FieldEmail,
	FieldZip,
	FieldAddress,
	FieldCity,
	FieldCountry,
}

// SettlementCurrency is the only currency the gateway settles in.
const SettlementCurrency = "MKD"

// Field is one named gateway parameter.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SignedPayload is everything the checkout form posts to the gateway.
type SignedPayload struct {
	Header     string  `json:"header"`
	Fields     []Field `json:"fields"`
	Checksum   string  `json:"checksum"`
	GatewayURL string  `json:"gateway_url,omitempty"`
}

// Values returns the field values in order.
func (p *SignedPayload) Values() []string {
	vals := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		vals[i] = f.Value
	}
	return vals
}

// Lookup returns the value of the named field.
func (p *SignedPayload) Lookup(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// FormValues flattens the payload into the form fields posted to the gateway,
// including CheckSumHeader and CheckSum.
func (p *SignedPayload) FormValues() map[string]string {
	out := make(map[string]string, len(p.Fields)+2)
	for _, f := range p.Fields {
		out[f.Name] = f.Value
	}
	out[FieldCheckSumHeader] = p.Header
	out[FieldCheckSum] = p.Checksum
	return out
}

// DetailsSeparator joins the label and the two return URLs inside Details1.
const DetailsSeparator = ", "

// PackedDetails is the structured form of the Details1 field.
type PackedDetails struct {
	Label      string
	SuccessURL string
	FailURL    string
}

// String renders "<label>, <successUrl>, <failUrl>".
func (d PackedDetails) String() string {
	return d.Label + DetailsSeparator + d.SuccessURL + DetailsSeparator + d.FailURL
}

// ParseDetails splits a Details1 value. Missing segments come back empty.
func ParseDetails(s string) PackedDetails {
	parts := strings.Split(s, DetailsSeparator)
	var d PackedDetails
	if len(parts) > 0 {
		d.Label = parts[0]
	}
	if len(parts) > 1 {
		d.SuccessURL = parts[1]
	}
	if len(parts) > 2 {
		d.FailURL = parts[2]
	}
	return d
}
