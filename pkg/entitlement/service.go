package entitlement

import (
	"context"
	"fmt"
	"time"
)

// Config holds entitlement service configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking entitlement operations (default: NoopMetrics)
	Metrics Metrics

	// Now overrides the clock used for gate decisions (default: time.Now UTC).
	// Intended for tests.
	Now func() time.Time
}

// Service wraps a Store with the gating policy, logging and metrics.
// It is safe for concurrent use; all state lives in the store.
type Service struct {
	store   Store
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewService creates an entitlement service backed by the given store.
func NewService(store Store, cfg Config) (*Service, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     now,
	}, nil
}

// Entitlement returns the most recent record for a subject.
func (s *Service) Entitlement(ctx context.Context, subjectID string) (*Record, error) {
	start := time.Now()
	rec, err := s.store.GetRecord(ctx, subjectID)
	s.metrics.RecordStoreOperation("get_record", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Authorize looks up the subject's record and evaluates the gate for an
// operation with the given fixed credit cost. The record is returned
// alongside the decision so callers can render quota standing without a
// second lookup. Authorize never consumes quota.
func (s *Service) Authorize(ctx context.Context, subjectID, operation string, cost int) (Decision, *Record, error) {
	if cost < 0 {
		return Decision{}, nil, ErrInvalidAmount
	}

	rec, err := s.Entitlement(ctx, subjectID)
	if err != nil {
		return Decision{}, nil, err
	}

	decision := Evaluate(rec, cost, s.now())

	outcome := "allow"
	if !decision.Allowed {
		outcome = string(decision.Reason)
		s.logger.Info("gate denied",
			Field{Key: "subject_id", Value: subjectID},
			Field{Key: "operation", Value: operation},
			Field{Key: "reason", Value: outcome},
			Field{Key: "remaining", Value: decision.Remaining},
		)
	}
	s.metrics.RecordGateDecision(operation, string(rec.Plan), outcome)

	return decision, rec, nil
}

// RecordUsage increments the subject's consumed quota by cost.
// Called after the forwarded action succeeded; the caller treats failure
// as best-effort and must not roll back the action's result.
func (s *Service) RecordUsage(ctx context.Context, subjectID, operation string, cost int) error {
	if cost < 0 {
		return ErrInvalidAmount
	}
	if cost == 0 {
		return nil
	}

	start := time.Now()
	err := s.store.AddUsage(ctx, subjectID, cost)
	s.metrics.RecordStoreOperation("add_usage", time.Since(start), err)

	if err == nil {
		s.metrics.RecordUsage(operation, cost, true)
		return nil
	}

	s.metrics.RecordUsage(operation, cost, false)
	return fmt.Errorf("record usage for %s: %w", subjectID, err)
}

// SetEntitlement replaces the subject's record. Used by the billing event
// mapper to apply plan and quota changes.
func (s *Service) SetEntitlement(ctx context.Context, rec *Record) error {
	if rec == nil || rec.SubjectID == "" {
		return fmt.Errorf("invalid entitlement record")
	}

	start := time.Now()
	err := s.store.PutRecord(ctx, rec)
	s.metrics.RecordStoreOperation("put_record", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("set entitlement for %s: %w", rec.SubjectID, err)
	}

	s.logger.Info("entitlement updated",
		Field{Key: "subject_id", Value: rec.SubjectID},
		Field{Key: "plan", Value: string(rec.Plan)},
		Field{Key: "quota_max", Value: rec.QuotaMax},
	)
	return nil
}

// AttachBillingRef links a payment-provider customer id to the subject.
func (s *Service) AttachBillingRef(ctx context.Context, subjectID, billingRef string) error {
	start := time.Now()
	err := s.store.SetBillingRef(ctx, subjectID, billingRef)
	s.metrics.RecordStoreOperation("set_billing_ref", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("attach billing ref for %s: %w", subjectID, err)
	}
	return nil
}

// EntitlementByBillingRef returns the record owning a payment-provider
// customer id.
func (s *Service) EntitlementByBillingRef(ctx context.Context, billingRef string) (*Record, error) {
	start := time.Now()
	rec, err := s.store.FindByBillingRef(ctx, billingRef)
	s.metrics.RecordStoreOperation("find_by_billing_ref", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
