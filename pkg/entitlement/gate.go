package entitlement

import "time"

// DenyReason explains why the gate refused an operation.
type DenyReason string

const (
	// DenyExpired means the record's validity window has passed
	DenyExpired DenyReason = "expired"
	// DenyInsufficientQuota means the operation's cost does not fit the remaining quota
	DenyInsufficientQuota DenyReason = "insufficient_quota"
)

// Decision is the gate's verdict for one requested operation.
// A denial is an ordinary outcome, not an error: callers use the reason
// to render a specific upgrade prompt.
type Decision struct {
	Allowed bool
	Reason  DenyReason

	// Remaining is the credit balance at decision time
	Remaining int
}

// Evaluate applies the gating policy to a record for an operation with the
// given fixed credit cost. Policy order is fixed: expiry is checked before
// quota, so an expired record is denied as expired even when credits remain.
// Evaluate has no side effects.
func Evaluate(rec *Record, cost int, now time.Time) Decision {
	if rec.Expired(now) {
		return Decision{Allowed: false, Reason: DenyExpired, Remaining: rec.Remaining()}
	}
	if rec.QuotaUsed+cost > rec.QuotaMax {
		return Decision{Allowed: false, Reason: DenyInsufficientQuota, Remaining: rec.Remaining()}
	}
	return Decision{Allowed: true, Remaining: rec.Remaining()}
}
