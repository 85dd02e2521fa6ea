package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/edumesh/tutorgate/pkg/billing"
	"github.com/edumesh/tutorgate/pkg/billing/internal"
	"github.com/edumesh/tutorgate/pkg/entitlement"
)

const maxWebhookBody = 256 * 1024

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			_ = internal.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := p.verifyEvent(body, sig)
	if err != nil {
		_ = internal.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processEvent(r.Context(), event); err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookPayload) {
			_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			p.metrics.RecordWebhookEvent(providerName, eventType, "error")
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
			return
		}
		_ = internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process webhook"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// verifyEvent authenticates a webhook delivery against the endpoint's signing
// secret and parses the event envelope.
func (p *Provider) verifyEvent(body []byte, sig string) (*stripe.Event, error) {
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return &event, nil
}

// processEvent maps one event kind to one entitlement-record mutation.
// Unrecognized kinds are acknowledged without effect to satisfy Stripe's
// delivery contract.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) error {
	eventTime := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event, eventTime)
	case "invoice.payment_succeeded":
		return p.handleInvoicePaymentSucceeded(ctx, event, eventTime)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event, eventTime)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, event, eventTime)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event, eventTime)
	default:
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events.
// The billing reference is created here, lazily, on the subject's first
// checkout; the plan comes from the purchased price id.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	subjectID := session.ClientReferenceID
	if subjectID == "" && session.Metadata != nil {
		subjectID = session.Metadata["user_id"]
	}
	if subjectID == "" {
		return fmt.Errorf("user reference missing on checkout session %s", session.ID)
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	priceID := ""
	if session.Metadata != nil {
		priceID = session.Metadata["price_id"]
	}
	if priceID == "" && session.Subscription != nil {
		// Sessions created outside our checkout flow carry no price metadata;
		// fall back to the subscription's first item.
		sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, session.Subscription.ID, nil)
		if err != nil {
			return fmt.Errorf("failed to fetch subscription: %w", err)
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			priceID = sub.Items.Data[0].Price.ID
		}
	}

	plan := p.MapPriceToPlan(priceID)
	quota, _ := entitlement.QuotaForPlan(plan)

	rec, err := p.service.Entitlement(ctx, subjectID)
	if err != nil && !errors.Is(err, entitlement.ErrRecordNotFound) {
		return err
	}
	previousPlan := entitlement.PlanTrial
	if rec != nil {
		previousPlan = rec.Plan
		if customerID == "" {
			// Sessions without a customer object must not wipe a reference
			// an earlier checkout already established.
			customerID = rec.BillingRef
		}
	}

	if previousPlan != plan {
		p.metrics.RecordPlanChange(providerName, string(previousPlan), string(plan))
	}

	return p.service.SetEntitlement(ctx, &entitlement.Record{
		SubjectID:  subjectID,
		Plan:       plan,
		QuotaMax:   quota,
		QuotaUsed:  0,
		ValidUntil: nil,
		BillingRef: customerID,
		UpdatedAt:  eventTime,
	})
}

// handleInvoicePaymentSucceeded processes invoice.payment_succeeded events,
// keyed by the existing billing reference.
func (p *Provider) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	customerID := customerIDFromRaw(event.Data.Raw)
	if customerID == "" {
		// Invoice without a customer reference - nothing to key on
		return nil
	}

	rec, err := p.service.EntitlementByBillingRef(ctx, customerID)
	if errors.Is(err, entitlement.ErrRecordNotFound) {
		// Renewal for a customer we have never seen a checkout for
		return nil
	}
	if err != nil {
		return err
	}

	plan := rec.Plan
	if priceID := priceIDFromInvoiceRaw(event.Data.Raw); priceID != "" {
		plan = p.MapPriceToPlan(priceID)
	}

	quota := rec.QuotaMax
	if q, ok := entitlement.QuotaForPlan(plan); ok {
		quota = q
	}

	if rec.Plan != plan {
		p.metrics.RecordPlanChange(providerName, string(rec.Plan), string(plan))
	}

	rec.Plan = plan
	rec.QuotaMax = quota
	rec.QuotaUsed = 0
	rec.ValidUntil = nil
	rec.UpdatedAt = eventTime
	return p.service.SetEntitlement(ctx, rec)
}

// handleSubscriptionUpdated processes customer.subscription.updated events
func (p *Provider) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	rec, err := p.recordForSubscription(ctx, &sub)
	if err != nil || rec == nil {
		return err
	}

	priceID := ""
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			priceID = item.Price.ID
			if _, ok := p.planMapping[priceID]; ok {
				break
			}
		}
	}

	plan := p.MapPriceToPlan(priceID)
	quota, _ := entitlement.QuotaForPlan(plan)

	if rec.Plan != plan {
		p.metrics.RecordPlanChange(providerName, string(rec.Plan), string(plan))
	}

	rec.Plan = plan
	rec.QuotaMax = quota
	rec.QuotaUsed = 0
	rec.UpdatedAt = eventTime
	return p.service.SetEntitlement(ctx, rec)
}

// handleInvoicePaymentFailed processes invoice.payment_failed events.
// Only the plan tag changes; the granted quota stays until the subscription
// is actually deleted.
func (p *Provider) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	customerID := customerIDFromRaw(event.Data.Raw)
	if customerID == "" {
		return nil
	}

	rec, err := p.service.EntitlementByBillingRef(ctx, customerID)
	if errors.Is(err, entitlement.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if rec.Plan != entitlement.PlanPaymentFailed {
		p.metrics.RecordPlanChange(providerName, string(rec.Plan), string(entitlement.PlanPaymentFailed))
	}

	rec.Plan = entitlement.PlanPaymentFailed
	rec.UpdatedAt = eventTime
	return p.service.SetEntitlement(ctx, rec)
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// The mutation is idempotent: replaying the event yields the same terminal state.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	rec, err := p.recordForSubscription(ctx, &sub)
	if err != nil || rec == nil {
		return err
	}

	if rec.Plan != entitlement.PlanCancelled {
		p.metrics.RecordPlanChange(providerName, string(rec.Plan), string(entitlement.PlanCancelled))
	}

	rec.Plan = entitlement.PlanCancelled
	rec.QuotaMax = 0
	rec.QuotaUsed = 0
	rec.UpdatedAt = eventTime
	return p.service.SetEntitlement(ctx, rec)
}

// recordForSubscription resolves the entitlement record a subscription event
// refers to: subscription metadata first, then the customer billing reference.
// Returns (nil, nil) when the subscription cannot be tied to any record.
func (p *Provider) recordForSubscription(ctx context.Context, sub *stripe.Subscription) (*entitlement.Record, error) {
	if sub.Metadata != nil {
		if subjectID := sub.Metadata["user_id"]; subjectID != "" {
			rec, err := p.service.Entitlement(ctx, subjectID)
			if err == nil {
				return rec, nil
			}
			if !errors.Is(err, entitlement.ErrRecordNotFound) {
				return nil, err
			}
		}
	}

	if sub.Customer != nil && sub.Customer.ID != "" {
		rec, err := p.service.EntitlementByBillingRef(ctx, sub.Customer.ID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, entitlement.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// customerIDFromRaw extracts the customer reference from a raw event payload.
// Stripe serializes it either as an id string or an expanded object.
func customerIDFromRaw(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["customer"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// priceIDFromInvoiceRaw extracts the first line item's price id from a raw
// invoice payload, handling both the current pricing shape and the legacy
// price object.
func priceIDFromInvoiceRaw(raw json.RawMessage) string {
	var data struct {
		Lines struct {
			Data []struct {
				Pricing struct {
					PriceDetails struct {
						Price string `json:"price"`
					} `json:"price_details"`
				} `json:"pricing"`
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	for _, line := range data.Lines.Data {
		if line.Pricing.PriceDetails.Price != "" {
			return line.Pricing.PriceDetails.Price
		}
		if line.Price.ID != "" {
			return line.Price.ID
		}
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

var _ billing.Provider = (*Provider)(nil)
