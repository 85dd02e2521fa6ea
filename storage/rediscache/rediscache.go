// Package rediscache provides a read-through Redis cache that decorates any
// entitlement.Store. Reads are served from Redis when a fresh copy exists;
// every write goes to the inner store and invalidates the cached copy.
// Usage increments bypass the cache entirely so gate checks never consume
// against a stale counter for longer than the configured TTL.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Config holds Redis cache configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "tutorgate:ent:")
	KeyPrefix string

	// TTL is how long a cached record stays fresh (default: 30 seconds)
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "tutorgate:ent:",
		TTL:       30 * time.Second,
	}
}

// Store decorates an entitlement.Store with a Redis cache
type Store struct {
	inner  entitlement.Store
	client redis.UniversalClient
	config Config
}

// New creates a caching store around inner.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(inner entitlement.Store, client redis.UniversalClient, config Config) (*Store, error) {
	if inner == nil {
		return nil, entitlement.ErrStoreUnavailable
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}

	return &Store{inner: inner, client: client, config: config}, nil
}

// GetRecord implements entitlement.Store with a read-through cache
func (s *Store) GetRecord(ctx context.Context, subjectID string) (*entitlement.Record, error) {
	key := s.key(subjectID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var rec entitlement.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		// Corrupt cache entry: drop it and fall through to the inner store
		s.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		// Redis being down degrades to uncached reads, not failures
		return s.inner.GetRecord(ctx, subjectID)
	}

	rec, err := s.inner.GetRecord(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		s.client.Set(ctx, key, data, s.config.TTL)
	}
	return rec, nil
}

// PutRecord implements entitlement.Store, invalidating the cached copy
func (s *Store) PutRecord(ctx context.Context, rec *entitlement.Record) error {
	if err := s.inner.PutRecord(ctx, rec); err != nil {
		return err
	}
	if rec != nil && rec.SubjectID != "" {
		s.client.Del(ctx, s.key(rec.SubjectID))
	}
	return nil
}

// AddUsage implements entitlement.Store, invalidating the cached copy
func (s *Store) AddUsage(ctx context.Context, subjectID string, cost int) error {
	if err := s.inner.AddUsage(ctx, subjectID, cost); err != nil {
		return err
	}
	s.client.Del(ctx, s.key(subjectID))
	return nil
}

// SetBillingRef implements entitlement.Store, invalidating the cached copy
func (s *Store) SetBillingRef(ctx context.Context, subjectID, billingRef string) error {
	if err := s.inner.SetBillingRef(ctx, subjectID, billingRef); err != nil {
		return err
	}
	s.client.Del(ctx, s.key(subjectID))
	return nil
}

// FindByBillingRef implements entitlement.Store. Billing-reference lookups
// happen only on webhook deliveries, so they are not cached.
func (s *Store) FindByBillingRef(ctx context.Context, billingRef string) (*entitlement.Record, error) {
	return s.inner.FindByBillingRef(ctx, billingRef)
}

func (s *Store) key(subjectID string) string {
	return s.config.KeyPrefix + subjectID
}
