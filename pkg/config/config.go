// Package config builds the process configuration once at startup.
// All settings come from the environment (with optional .env support for
// local development) and are carried in an explicit struct passed by
// reference into each component; nothing reads the environment after Load.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/edumesh/tutorgate/pkg/api"
	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Fixed credit costs per gated operation
const (
	CostLessonPlan      = 10
	CostWorksheet       = 5
	CostGradingFeedback = 10
	CostStudyChat       = 1
)

// Config holds all process configuration
type Config struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string

	// DatabaseURL is the PostgreSQL connection string (required)
	DatabaseURL string

	// RedisURL enables the entitlement read cache when set
	RedisURL string

	// JWTSecret verifies the identity provider's access tokens (required)
	JWTSecret string

	// JWTAudience is the expected token audience
	JWTAudience string

	// Stripe credentials; billing endpoints are disabled when the API key
	// is empty
	StripeAPIKey        string
	StripeWebhookSecret string

	// Stripe price ids per paid plan
	PriceBasic        string
	PriceProfessional string

	// Redirect URLs for hosted billing sessions
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string

	// Automation endpoint URLs, one per gated operation
	LessonPlanURL      string
	WorksheetURL       string
	GradingFeedbackURL string
	StudyChatURL       string

	// LogLevel is the zerolog level name (default: "info")
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:          getenv("TUTORGATE_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("AUTH_JWT_SECRET"),
		JWTAudience:         getenv("AUTH_JWT_AUDIENCE", "authenticated"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceBasic:          os.Getenv("STRIPE_PRICE_BASIC"),
		PriceProfessional:   os.Getenv("STRIPE_PRICE_PROFESSIONAL"),
		CheckoutSuccessURL:  getenv("CHECKOUT_SUCCESS_URL", "https://app.tutorgate.dev/billing/success"),
		CheckoutCancelURL:   getenv("CHECKOUT_CANCEL_URL", "https://app.tutorgate.dev/pricing"),
		PortalReturnURL:     getenv("PORTAL_RETURN_URL", "https://app.tutorgate.dev/account"),
		LessonPlanURL:       os.Getenv("N8N_LESSON_PLAN_URL"),
		WorksheetURL:        os.Getenv("N8N_WORKSHEET_URL"),
		GradingFeedbackURL:  os.Getenv("N8N_GRADING_FEEDBACK_URL"),
		StudyChatURL:        os.Getenv("N8N_STUDY_CHAT_URL"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	return cfg, nil
}

// Operations returns the gated action catalog with fixed per-operation costs
func (c *Config) Operations() []api.Operation {
	return []api.Operation{
		{Name: "lesson-plan", Cost: CostLessonPlan, Endpoint: c.LessonPlanURL},
		{Name: "worksheet", Cost: CostWorksheet, Endpoint: c.WorksheetURL},
		{Name: "grading-feedback", Cost: CostGradingFeedback, Endpoint: c.GradingFeedbackURL},
		{Name: "study-chat", Cost: CostStudyChat, Endpoint: c.StudyChatURL},
	}
}

// PlanMapping returns the Stripe price id to plan mapping
func (c *Config) PlanMapping() map[string]entitlement.Plan {
	mapping := make(map[string]entitlement.Plan)
	if c.PriceBasic != "" {
		mapping[c.PriceBasic] = entitlement.PlanBasic
	}
	if c.PriceProfessional != "" {
		mapping[c.PriceProfessional] = entitlement.PlanProfessional
	}
	return mapping
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
