// Package api exposes the credit-gated action endpoints, the usage endpoint,
// and the billing session endpoints consumed by the web front end.
//
// Status code convention: 401 for credential failures, 402 for gate denials
// (with a structured errorType for the upsell UI), 404 for unknown resources,
// 500 for everything unexpected. Gate denials are business outcomes, not
// server faults.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edumesh/tutorgate/pkg/auth"
	"github.com/edumesh/tutorgate/pkg/billing"
	"github.com/edumesh/tutorgate/pkg/entitlement"
	"github.com/edumesh/tutorgate/pkg/forwarder"
)

const maxActionBody = 1 << 20

// timeNow is overridable in tests
var timeNow = func() time.Time { return time.Now().UTC() }

// Config holds configuration for the API handler
type Config struct {
	// Verifier validates inbound bearer credentials (required)
	Verifier auth.Verifier

	// Service is the entitlement service (required)
	Service *entitlement.Service

	// Forwarder relays action payloads to automation endpoints (required)
	Forwarder *forwarder.Client

	// Billing creates checkout and portal sessions (optional; billing
	// endpoints answer 503 when absent)
	Billing billing.Provider

	// Operations is the catalog of gated actions (required, non-empty)
	Operations []Operation

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger

	// Default redirect URLs for hosted billing sessions
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Verifier == nil {
		return fmt.Errorf("verifier is required")
	}
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.Forwarder == nil {
		return fmt.Errorf("forwarder is required")
	}
	if len(c.Operations) == 0 {
		return fmt.Errorf("at least one operation is required")
	}
	return nil
}

// Handler serves the HTTP surface
type Handler struct {
	config Config
	ops    map[string]Operation
	logger entitlement.Logger
}

// NewHandler creates an API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}

	ops := make(map[string]Operation, len(config.Operations))
	for _, op := range config.Operations {
		ops[op.Name] = op
	}

	return &Handler{config: config, ops: ops, logger: logger}, nil
}

// Action handles POST /v1/actions/{operation}: verify the credential, gate on
// the entitlement record, forward the payload, then record usage best-effort.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	op, ok := h.ops[chi.URLParam(r, "operation")]
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrorTypeUnknownOperation, "unknown operation")
		return
	}

	decision, _, err := h.config.Service.Authorize(ctx, subjectID, op.Name, op.Cost)
	if err != nil {
		if errors.Is(err, entitlement.ErrRecordNotFound) {
			h.writeError(w, http.StatusNotFound, ErrorTypeNotFound, "no subscription found")
			return
		}
		h.logger.Error("authorize failed",
			entitlement.Field{Key: "subject_id", Value: subjectID},
			entitlement.Field{Key: "operation", Value: op.Name},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		h.writeError(w, http.StatusInternalServerError, ErrorTypeGeneral, "internal error")
		return
	}

	if !decision.Allowed {
		h.writeError(w, http.StatusPaymentRequired, string(decision.Reason), denialMessage(decision.Reason))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "failed to read request body")
		return
	}
	if len(payload) > 0 && !json.Valid(payload) {
		h.writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "body must be JSON")
		return
	}

	result, err := h.config.Forwarder.Forward(ctx, op.Endpoint, subjectID, payload)
	if err != nil {
		// No quota is deducted for a failed forward
		h.logger.Error("forward failed",
			entitlement.Field{Key: "operation", Value: op.Name},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		h.writeError(w, http.StatusInternalServerError, ErrorTypeGeneral, "automation endpoint failed")
		return
	}

	// Best-effort accounting: the action already succeeded, so a failed
	// usage write is logged and the result still goes back to the caller.
	remaining := decision.Remaining - op.Cost
	if err := h.config.Service.RecordUsage(ctx, subjectID, op.Name, op.Cost); err != nil {
		h.logger.Warn("usage recording failed",
			entitlement.Field{Key: "subject_id", Value: subjectID},
			entitlement.Field{Key: "operation", Value: op.Name},
			entitlement.Field{Key: "cost", Value: op.Cost},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		remaining = decision.Remaining
	}

	h.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Result: result, Remaining: remaining})
}

// Usage handles GET /v1/usage for the dashboard's quota display
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	rec, err := h.config.Service.Entitlement(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, entitlement.ErrRecordNotFound) {
			h.writeError(w, http.StatusNotFound, ErrorTypeNotFound, "no subscription found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, ErrorTypeGeneral, "internal error")
		return
	}

	status := "active"
	switch {
	case rec.Plan == entitlement.PlanCancelled:
		status = "cancelled"
	case rec.Plan == entitlement.PlanPaymentFailed:
		status = "payment_failed"
	case rec.Expired(timeNow()):
		status = "expired"
	}

	h.writeJSON(w, http.StatusOK, UsageResponse{
		OK:         true,
		Plan:       string(rec.Plan),
		Status:     status,
		QuotaMax:   rec.QuotaMax,
		QuotaUsed:  rec.QuotaUsed,
		Remaining:  rec.Remaining(),
		ValidUntil: rec.ValidUntil,
	})
}

// Checkout handles POST /v1/billing/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.writeError(w, http.StatusServiceUnavailable, ErrorTypeGeneral, "billing not configured")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid request body")
		return
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = h.config.CheckoutSuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = h.config.CheckoutCancelURL
	}

	url, err := h.config.Billing.CheckoutURL(r.Context(), subjectID, entitlement.Plan(req.Plan), successURL, cancelURL)
	if err != nil {
		if errors.Is(err, billing.ErrPlanNotConfigured) {
			h.writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "unknown plan")
			return
		}
		h.logger.Error("checkout session failed",
			entitlement.Field{Key: "subject_id", Value: subjectID},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		h.writeError(w, http.StatusInternalServerError, ErrorTypeGeneral, "failed to create checkout session")
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{OK: true, URL: url})
}

// Portal handles POST /v1/billing/portal
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.writeError(w, http.StatusServiceUnavailable, ErrorTypeGeneral, "billing not configured")
		return
	}

	var req PortalRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxActionBody)).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid request body")
			return
		}
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = h.config.PortalReturnURL
	}

	url, err := h.config.Billing.PortalURL(r.Context(), subjectID, returnURL)
	if err != nil {
		if errors.Is(err, billing.ErrCustomerNotFound) {
			h.writeError(w, http.StatusNotFound, ErrorTypeNoBillingAccount, "no billing account for this user")
			return
		}
		h.writeError(w, http.StatusInternalServerError, ErrorTypeGeneral, "failed to create portal session")
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{OK: true, URL: url})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": "healthy"})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	credential := auth.BearerToken(r)
	subjectID, err := h.config.Verifier.Verify(r.Context(), credential)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorTypeAuth, "invalid or missing credentials")
		return "", false
	}
	return subjectID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("response encoding failed", entitlement.Field{Key: "error", Value: err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, errorType, message string) {
	h.writeJSON(w, code, ErrorResponse{OK: false, ErrorType: errorType, Message: message})
}

func denialMessage(reason entitlement.DenyReason) string {
	switch reason {
	case entitlement.DenyExpired:
		return "subscription expired"
	case entitlement.DenyInsufficientQuota:
		return "not enough credits remaining"
	default:
		return "request denied"
	}
}
