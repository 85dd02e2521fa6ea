package entitlement

import (
	"time"
)

// Plan identifies the subscription plan attached to an entitlement record.
type Plan string

const (
	// PlanTrial is the default plan for subscribers without a paid subscription
	PlanTrial Plan = "trial"
	// PlanBasic is the entry-level paid plan
	PlanBasic Plan = "basic"
	// PlanProfessional is the full paid plan
	PlanProfessional Plan = "professional"
	// PlanPaymentFailed marks a subscriber whose last invoice payment failed
	PlanPaymentFailed Plan = "payment_failed"
	// PlanCancelled is the terminal plan after subscription deletion
	PlanCancelled Plan = "cancelled"
)

// planQuotas maps each plan to its monthly credit allowance.
// PlanPaymentFailed is intentionally absent: a failed payment changes the
// plan tag only and leaves the previously granted quota in place.
var planQuotas = map[Plan]int{
	PlanTrial:        25,
	PlanBasic:        500,
	PlanProfessional: 2000,
	PlanCancelled:    0,
}

// QuotaForPlan returns the credit allowance granted by a plan.
// The second return value is false for plans that carry no fixed
// allowance of their own (payment_failed keeps whatever was granted).
func QuotaForPlan(p Plan) (int, bool) {
	q, ok := planQuotas[p]
	return q, ok
}

// Record is the per-subscriber entitlement row tracking plan, quota and
// validity. Records are never hard-deleted: cancellation sets a terminal
// plan with zeroed quota.
type Record struct {
	// SubjectID is the verified caller identity owning this record
	SubjectID string

	// Plan is the current subscription plan
	Plan Plan

	// QuotaMax is the credit allowance for the current plan
	QuotaMax int

	// QuotaUsed is the number of credits consumed so far
	QuotaUsed int

	// ValidUntil is the optional expiry of the entitlement.
	// nil means no fixed expiry (paid until cancelled).
	ValidUntil *time.Time

	// BillingRef is the opaque payment-provider customer id.
	// Empty until the subject's first checkout.
	BillingRef string

	// UpdatedAt is the last mutation timestamp
	UpdatedAt time.Time
}

// Remaining returns the credits left on the record, clamped to zero.
func (r *Record) Remaining() int {
	rem := r.QuotaMax - r.QuotaUsed
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the record's validity window has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}
