package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/edumesh/tutorgate/pkg/billing"
	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// CheckoutURL creates a Stripe Checkout Session for upgrading the subject to
// plan and returns the session URL. The plan is resolved to a Stripe Price ID
// using the configured PlanMapping.
func (p *Provider) CheckoutURL(
	ctx context.Context, subjectID string, plan entitlement.Plan, successURL, cancelURL string,
) (string, error) {
	startTime := time.Now()

	priceID := p.priceIDForPlan(plan)
	if priceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "plan_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}

	// Attach the existing customer when the subject has checked out before.
	// A record without a billing reference lets Stripe create the customer;
	// the webhook persists the reference when checkout completes.
	customerID := ""
	rec, err := p.service.Entitlement(ctx, subjectID)
	if err != nil && !errors.Is(err, entitlement.ErrRecordNotFound) {
		// Fail safe on real store errors to avoid duplicate Stripe customers
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	if rec != nil {
		customerID = rec.BillingRef
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	// Metadata drives the webhook's subject and plan resolution
	params.Metadata = map[string]string{
		"user_id":  subjectID,
		"price_id": priceID,
	}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("user_id", subjectID)

	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else {
		params.ClientReferenceID = stripe.String(subjectID)
		params.CustomerCreation = stripe.String("always")
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session and returns the URL.
// This lets subjects manage their subscription, update payment methods, or
// cancel. Requires an existing billing reference.
func (p *Provider) PortalURL(ctx context.Context, subjectID, returnURL string) (string, error) {
	startTime := time.Now()

	rec, err := p.service.Entitlement(ctx, subjectID)
	if err != nil || rec.BillingRef == "" {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "customer_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, subjectID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(rec.BillingRef),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
		return "", fmt.Errorf("%w: create portal session: %v", billing.ErrProviderAPIError, err)
	}

	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}
