// Package billing defines the provider-agnostic surface for translating
// payment-provider events into entitlement-record updates and for creating
// hosted checkout and portal sessions.
package billing

import (
	"context"
	"net/http"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Provider is implemented by each payment-provider integration.
type Provider interface {
	// Name returns the provider name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler for provider webhook deliveries.
	// The handler validates the delivery signature, applies the event's
	// entitlement mutation, and acknowledges unrecognized event kinds with
	// success to satisfy the provider's delivery contract.
	WebhookHandler() http.Handler

	// CheckoutURL creates a hosted checkout session for upgrading the
	// subject to plan and returns the session URL.
	CheckoutURL(ctx context.Context, subjectID string, plan entitlement.Plan, successURL, cancelURL string) (string, error)

	// PortalURL creates a hosted billing-portal session for the subject
	// and returns the session URL. Requires an existing billing reference.
	PortalURL(ctx context.Context, subjectID, returnURL string) (string, error)
}
