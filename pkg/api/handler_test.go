package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumesh/tutorgate/pkg/api"
	"github.com/edumesh/tutorgate/pkg/auth"
	"github.com/edumesh/tutorgate/pkg/entitlement"
	"github.com/edumesh/tutorgate/pkg/forwarder"
	"github.com/edumesh/tutorgate/storage/memory"
)

// fakeVerifier maps bearer tokens to subject IDs without real JWT parsing
type fakeVerifier struct {
	subjects map[string]string
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", auth.ErrMissingCredential
	}
	subject, ok := f.subjects[credential]
	if !ok {
		return "", auth.ErrInvalidCredential
	}
	return subject, nil
}

type testEnv struct {
	router http.Handler
	store  *memory.Store
	n8n    *httptest.Server
}

func newTestEnv(t *testing.T, n8nHandler http.HandlerFunc) *testEnv {
	t.Helper()

	if n8nHandler == nil {
		n8nHandler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"output":"generated content"}`))
		}
	}
	n8n := httptest.NewServer(n8nHandler)
	t.Cleanup(n8n.Close)

	store := memory.New()
	service, err := entitlement.NewService(store, entitlement.Config{})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{
		Verifier: &fakeVerifier{subjects: map[string]string{"token-1": "user1"}},
		Service:  service,
		Forwarder: forwarder.New(forwarder.Config{
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		}),
		Operations: []api.Operation{
			{Name: "lesson-plan", Cost: 10, Endpoint: n8n.URL},
			{Name: "study-chat", Cost: 1, Endpoint: n8n.URL},
		},
	})
	require.NoError(t, err)

	return &testEnv{router: handler.Router(), store: store, n8n: n8n}
}

func (e *testEnv) seed(t *testing.T, rec *entitlement.Record) {
	t.Helper()
	require.NoError(t, e.store.PutRecord(context.Background(), rec))
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAction_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, &entitlement.Record{
		SubjectID: "user1",
		Plan:      entitlement.PlanBasic,
		QuotaMax:  500,
		QuotaUsed: 100,
	})

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `{"topic":"fractions"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.ActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"output":"generated content"}`, string(resp.Result))
	assert.Equal(t, 390, resp.Remaining)

	// Usage was recorded
	rec, err := env.store.GetRecord(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, 110, rec.QuotaUsed)
}

func TestAction_MissingAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.ErrorTypeAuth, decodeError(t, w).ErrorType)

	w = env.do(http.MethodPost, "/v1/actions/lesson-plan", "bad-token", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAction_UnknownOperation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, &entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanBasic, QuotaMax: 500})

	w := env.do(http.MethodPost, "/v1/actions/essay-writer", "token-1", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.ErrorTypeUnknownOperation, decodeError(t, w).ErrorType)
}

func TestAction_NoSubscription(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.ErrorTypeNotFound, decodeError(t, w).ErrorType)
}

func TestAction_QuotaDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, &entitlement.Record{
		SubjectID: "user1",
		Plan:      entitlement.PlanBasic,
		QuotaMax:  500,
		QuotaUsed: 495,
	})

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `{}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, api.ErrorTypeInsufficientQuota, decodeError(t, w).ErrorType)

	// A 1-credit action still fits
	w = env.do(http.MethodPost, "/v1/actions/study-chat", "token-1", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAction_ExpiredDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	env.seed(t, &entitlement.Record{
		SubjectID:  "user1",
		Plan:       entitlement.PlanBasic,
		QuotaMax:   500,
		ValidUntil: &yesterday,
	})

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `{}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, api.ErrorTypeExpired, decodeError(t, w).ErrorType)
}

func TestAction_InvalidBody(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, &entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanBasic, QuotaMax: 500})

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `not json at all`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.ErrorTypeInvalidRequest, decodeError(t, w).ErrorType)

	// Nothing was consumed
	rec, _ := env.store.GetRecord(context.Background(), "user1")
	assert.Equal(t, 0, rec.QuotaUsed)
}

func TestAction_ForwardFailure_NoDeduction(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow crashed", http.StatusInternalServerError)
	})
	env.seed(t, &entitlement.Record{
		SubjectID: "user1",
		Plan:      entitlement.PlanBasic,
		QuotaMax:  500,
		QuotaUsed: 100,
	})

	w := env.do(http.MethodPost, "/v1/actions/lesson-plan", "token-1", `{"topic":"fractions"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, api.ErrorTypeGeneral, decodeError(t, w).ErrorType)

	// Failed forwards cost nothing
	rec, _ := env.store.GetRecord(context.Background(), "user1")
	assert.Equal(t, 100, rec.QuotaUsed)
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t, nil)
	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	env.seed(t, &entitlement.Record{
		SubjectID:  "user1",
		Plan:       entitlement.PlanProfessional,
		QuotaMax:   2000,
		QuotaUsed:  150,
		ValidUntil: &tomorrow,
	})

	w := env.do(http.MethodGet, "/v1/usage", "token-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.UsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "professional", resp.Plan)
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, 2000, resp.QuotaMax)
	assert.Equal(t, 150, resp.QuotaUsed)
	assert.Equal(t, 1850, resp.Remaining)
	require.NotNil(t, resp.ValidUntil)
}

func TestUsage_Status(t *testing.T) {
	yesterday := time.Now().UTC().Add(-24 * time.Hour)

	tests := []struct {
		name       string
		record     entitlement.Record
		wantStatus string
	}{
		{
			name:       "cancelled",
			record:     entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanCancelled},
			wantStatus: "cancelled",
		},
		{
			name:       "payment failed",
			record:     entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanPaymentFailed, QuotaMax: 500},
			wantStatus: "payment_failed",
		},
		{
			name:       "expired",
			record:     entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanBasic, QuotaMax: 500, ValidUntil: &yesterday},
			wantStatus: "expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.seed(t, &tt.record)

			w := env.do(http.MethodGet, "/v1/usage", "token-1", "")
			require.Equal(t, http.StatusOK, w.Code)

			var resp api.UsageResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestUsage_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/v1/usage", "token-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBilling_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, &entitlement.Record{SubjectID: "user1", Plan: entitlement.PlanTrial, QuotaMax: 25})

	w := env.do(http.MethodPost, "/v1/billing/checkout", "token-1", `{"plan":"basic"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(http.MethodPost, "/v1/billing/portal", "token-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// No provider, no webhook route
	w = env.do(http.MethodPost, "/v1/billing/webhook", "", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/actions/lesson-plan", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
