package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tutorgate")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "authenticated", cfg.JWTAudience)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.StripeAPIKey)
}

func TestLoad_Required(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tutorgate")
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TUTORGATE_ADDR", ":9090")
	t.Setenv("AUTH_JWT_AUDIENCE", "custom-aud")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("N8N_LESSON_PLAN_URL", "https://n8n.internal/webhook/lesson-plan")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "custom-aud", cfg.JWTAudience)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://n8n.internal/webhook/lesson-plan", cfg.LessonPlanURL)
}

func TestOperations(t *testing.T) {
	cfg := &Config{
		LessonPlanURL:      "https://n8n.internal/lesson-plan",
		WorksheetURL:       "https://n8n.internal/worksheet",
		GradingFeedbackURL: "https://n8n.internal/grading-feedback",
		StudyChatURL:       "https://n8n.internal/study-chat",
	}

	ops := cfg.Operations()
	require.Len(t, ops, 4)

	costs := make(map[string]int, len(ops))
	for _, op := range ops {
		costs[op.Name] = op.Cost
		assert.NotEmpty(t, op.Endpoint, op.Name)
	}

	assert.Equal(t, CostLessonPlan, costs["lesson-plan"])
	assert.Equal(t, CostWorksheet, costs["worksheet"])
	assert.Equal(t, CostGradingFeedback, costs["grading-feedback"])
	assert.Equal(t, CostStudyChat, costs["study-chat"])
}

func TestPlanMapping(t *testing.T) {
	cfg := &Config{PriceBasic: "price_b", PriceProfessional: "price_p"}
	mapping := cfg.PlanMapping()
	assert.Equal(t, entitlement.PlanBasic, mapping["price_b"])
	assert.Equal(t, entitlement.PlanProfessional, mapping["price_p"])

	empty := (&Config{}).PlanMapping()
	assert.Empty(t, empty)
}
