// Package memory provides an in-memory implementation of the entitlement.Store
// interface. This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Store implements entitlement.Store using in-memory maps
type Store struct {
	mu      sync.RWMutex
	records map[string]*entitlement.Record
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*entitlement.Record),
	}
}

// GetRecord implements entitlement.Store
func (s *Store) GetRecord(ctx context.Context, subjectID string) (*entitlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[subjectID]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// PutRecord implements entitlement.Store
func (s *Store) PutRecord(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.SubjectID == "" {
		return fmt.Errorf("invalid record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutations
	recCopy := *rec
	s.records[rec.SubjectID] = &recCopy
	return nil
}

// AddUsage implements entitlement.Store with a conditional increment
func (s *Store) AddUsage(ctx context.Context, subjectID string, cost int) error {
	if cost < 0 {
		return entitlement.ErrInvalidAmount
	}
	if cost == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[subjectID]
	if !ok {
		return entitlement.ErrRecordNotFound
	}

	if rec.QuotaUsed+cost > rec.QuotaMax {
		return entitlement.ErrQuotaExceeded
	}

	rec.QuotaUsed += cost
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// SetBillingRef implements entitlement.Store
func (s *Store) SetBillingRef(ctx context.Context, subjectID, billingRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[subjectID]
	if !ok {
		return entitlement.ErrRecordNotFound
	}

	rec.BillingRef = billingRef
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// FindByBillingRef implements entitlement.Store
func (s *Store) FindByBillingRef(ctx context.Context, billingRef string) (*entitlement.Record, error) {
	if billingRef == "" {
		return nil, entitlement.ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.BillingRef == billingRef {
			recCopy := *rec
			return &recCopy, nil
		}
	}
	return nil, entitlement.ErrRecordNotFound
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*entitlement.Record)
}
