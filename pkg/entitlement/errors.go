package entitlement

import "errors"

var (
	// ErrRecordNotFound is returned when a subject has no entitlement record
	ErrRecordNotFound = errors.New("entitlement record not found")

	// ErrQuotaExceeded is returned when a usage write would exceed the quota
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidAmount is returned for negative credit amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStoreUnavailable is returned when the store is unavailable
	ErrStoreUnavailable = errors.New("store unavailable")
)
