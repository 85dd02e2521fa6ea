package entitlement

import "context"

// Store defines the interface for entitlement persistence.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// GetRecord retrieves the most recent entitlement record for a subject.
	// Returns ErrRecordNotFound if the subject has none.
	GetRecord(ctx context.Context, subjectID string) (*Record, error)

	// PutRecord stores a record, replacing any existing record for the subject.
	PutRecord(ctx context.Context, rec *Record) error

	// AddUsage atomically increments QuotaUsed by cost for the subject's
	// current record and bumps UpdatedAt. The increment is conditional:
	// implementations must reject with ErrQuotaExceeded when the new total
	// would exceed QuotaMax, so concurrent writers cannot overshoot at the
	// store even when both passed a gate check.
	AddUsage(ctx context.Context, subjectID string, cost int) error

	// SetBillingRef attaches a payment-provider customer id to the
	// subject's record. Created lazily on first checkout.
	SetBillingRef(ctx context.Context, subjectID, billingRef string) error

	// FindByBillingRef retrieves the record owning a payment-provider
	// customer id. Returns ErrRecordNotFound if no record carries it.
	FindByBillingRef(ctx context.Context, billingRef string) (*Record, error)
}
