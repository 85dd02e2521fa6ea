package billing

import (
	"net/http"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Config defines the standard configuration all providers accept
type Config struct {
	// Service is the entitlement service that billing events mutate
	Service *entitlement.Service

	// PlanMapping maps provider price/product IDs to entitlement plans.
	// For example: map[string]entitlement.Plan{"price_basic_monthly": entitlement.PlanBasic}
	PlanMapping map[string]entitlement.Plan

	// WebhookSecret is used to verify incoming webhook deliveries.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics are silently ignored (no-op).
	Metrics Metrics
}
