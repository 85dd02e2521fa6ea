package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/edumesh/tutorgate/pkg/billing"
	"github.com/edumesh/tutorgate/pkg/entitlement"
)

const (
	providerName       = "stripe"
	defaultHTTPTimeout = 10 * time.Second
)

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	service       *entitlement.Service
	config        billing.Config
	planMapping   map[string]entitlement.Plan // Price/Product ID -> Plan
	webhookSecret []byte
	stripeClient  *stripe.Client
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider.
// config.APIKey is the Stripe secret key; config.WebhookSecret is the
// endpoint's signing secret.
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Service == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: httpClient,
	})

	planMapping := make(map[string]entitlement.Plan)
	for k, v := range config.PlanMapping {
		planMapping[strings.ToLower(strings.TrimSpace(k))] = v
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		service:       config.Service,
		config:        config,
		planMapping:   planMapping,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		stripeClient: stripe.NewClient(apiKey, stripe.WithBackends(&stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		})),
		metrics: metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

// MapPriceToPlan maps a Stripe Price ID to an entitlement plan.
// Unknown price ids resolve to the trial plan.
func (p *Provider) MapPriceToPlan(priceID string) entitlement.Plan {
	if priceID == "" {
		return entitlement.PlanTrial
	}
	if plan, ok := p.planMapping[strings.ToLower(strings.TrimSpace(priceID))]; ok {
		return plan
	}
	return entitlement.PlanTrial
}

// priceIDForPlan is the reverse of MapPriceToPlan.
// If multiple price ids map to the same plan, the first match wins.
func (p *Provider) priceIDForPlan(plan entitlement.Plan) string {
	for priceID, mapped := range p.planMapping {
		if mapped == plan {
			return priceID
		}
	}
	return ""
}
