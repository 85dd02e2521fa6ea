package api

import (
	"encoding/json"
	"time"
)

// Error types surfaced in the response envelope so the front end can render
// a specific prompt (upsell, re-login, retry) instead of a generic failure.
const (
	ErrorTypeAuth              = "auth_error"
	ErrorTypeExpired           = "expired"
	ErrorTypeInsufficientQuota = "insufficient_quota"
	ErrorTypeUnknownOperation  = "unknown_operation"
	ErrorTypeNotFound          = "not_found"
	ErrorTypeInvalidRequest    = "invalid_request"
	ErrorTypeNoBillingAccount  = "no_billing_account"
	ErrorTypeGeneral           = "general_error"
)

// Operation describes one gated action endpoint: a name, its fixed credit
// cost, and the automation endpoint its payload is forwarded to.
type Operation struct {
	Name     string
	Cost     int
	Endpoint string
}

// ActionResponse is the success envelope for a forwarded action
type ActionResponse struct {
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result"`
	Remaining int             `json:"remaining"`
}

// ErrorResponse is the failure envelope shared by all endpoints
type ErrorResponse struct {
	OK        bool   `json:"ok"`
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// UsageResponse reports the caller's current entitlement standing
type UsageResponse struct {
	OK         bool       `json:"ok"`
	Plan       string     `json:"plan"`
	Status     string     `json:"status"`
	QuotaMax   int        `json:"quotaMax"`
	QuotaUsed  int        `json:"quotaUsed"`
	Remaining  int        `json:"remaining"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// CheckoutRequest asks for a hosted checkout session
type CheckoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

// PortalRequest asks for a hosted billing-portal session
type PortalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

// SessionResponse carries a hosted session URL back to the front end
type SessionResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}
