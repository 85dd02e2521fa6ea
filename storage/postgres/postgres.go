// Package postgres provides a PostgreSQL implementation of the entitlement.Store
// interface backed by the subscriptions table. Usage accounting uses a single
// conditional UPDATE so concurrent consumers cannot push quota_used past quota_max.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edumesh/tutorgate/pkg/entitlement"
)

// Store implements entitlement.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetRecord implements entitlement.Store. Subjects can accumulate historical
// subscription rows; the newest row by creation time is the live record.
func (s *Store) GetRecord(ctx context.Context, subjectID string) (*entitlement.Record, error) {
	var rec entitlement.Record
	var plan string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, plan, quota_max, quota_used, valid_until, COALESCE(stripe_customer_id, ''), updated_at
			FROM subscriptions
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT 1`,
		subjectID).Scan(
		&rec.SubjectID,
		&plan,
		&rec.QuotaMax,
		&rec.QuotaUsed,
		&rec.ValidUntil,
		&rec.BillingRef,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.Plan = entitlement.Plan(plan)
	return &rec, nil
}

// PutRecord implements entitlement.Store. The newest row for the subject is
// replaced in full, billing reference included; a subject with no rows gets
// one inserted. Callers that want to keep an existing reference must carry it
// on the record.
func (s *Store) PutRecord(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.SubjectID == "" {
		return fmt.Errorf("invalid record")
	}

	billingRef := nullable(rec.BillingRef)

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
				plan = $2,
				quota_max = $3,
				quota_used = $4,
				valid_until = $5,
				stripe_customer_id = $6,
				updated_at = $7
			WHERE id = (
				SELECT id FROM subscriptions
				WHERE user_id = $1
				ORDER BY created_at DESC
				LIMIT 1
			)`,
		rec.SubjectID, string(rec.Plan), rec.QuotaMax, rec.QuotaUsed,
		rec.ValidUntil, billingRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO subscriptions
				(user_id, plan, quota_max, quota_used, valid_until, stripe_customer_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		rec.SubjectID, string(rec.Plan), rec.QuotaMax, rec.QuotaUsed,
		rec.ValidUntil, billingRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// AddUsage implements entitlement.Store with an atomic conditional increment.
// The WHERE clause enforces quota_used + cost <= quota_max inside the UPDATE,
// so two concurrent writers serialize on the row and cannot overshoot.
func (s *Store) AddUsage(ctx context.Context, subjectID string, cost int) error {
	if cost < 0 {
		return entitlement.ErrInvalidAmount
	}
	if cost == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
				quota_used = quota_used + $2,
				updated_at = $3
			WHERE id = (
				SELECT id FROM subscriptions
				WHERE user_id = $1
				ORDER BY created_at DESC
				LIMIT 1
			)
			AND quota_used + $2 <= quota_max`,
		subjectID, cost, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the subject has no row or the increment would overshoot.
		if _, err := s.GetRecord(ctx, subjectID); err != nil {
			return err
		}
		return entitlement.ErrQuotaExceeded
	}
	return nil
}

// SetBillingRef implements entitlement.Store
func (s *Store) SetBillingRef(ctx context.Context, subjectID, billingRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
				stripe_customer_id = $2,
				updated_at = $3
			WHERE id = (
				SELECT id FROM subscriptions
				WHERE user_id = $1
				ORDER BY created_at DESC
				LIMIT 1
			)`,
		subjectID, billingRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set billing ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrRecordNotFound
	}
	return nil
}

// FindByBillingRef implements entitlement.Store
func (s *Store) FindByBillingRef(ctx context.Context, billingRef string) (*entitlement.Record, error) {
	if billingRef == "" {
		return nil, entitlement.ErrRecordNotFound
	}

	var rec entitlement.Record
	var plan string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, plan, quota_max, quota_used, valid_until, COALESCE(stripe_customer_id, ''), updated_at
			FROM subscriptions
			WHERE stripe_customer_id = $1
			ORDER BY created_at DESC
			LIMIT 1`,
		billingRef).Scan(
		&rec.SubjectID,
		&plan,
		&rec.QuotaMax,
		&rec.QuotaUsed,
		&rec.ValidUntil,
		&rec.BillingRef,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record by billing ref: %w", err)
	}

	rec.Plan = entitlement.Plan(plan)
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
