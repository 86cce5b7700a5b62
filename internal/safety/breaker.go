// Package safety implements SafetyEnvelope: GlobalPause, RateLimit,
// CircuitBreaker, IndexerLagGuard, and DelegateReservation, per spec.md
// §4.3. Grounded file-by-file on original_source/apps/solver/src/db/breakers.rs,
// .../db/jobs/state.rs, and .../runner/job.rs::ensure_delegate_reservation.
package safety

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BreakerSchedule is the pure backoff-as-function-of-fail_count table from
// spec.md §4.3, ported directly from breakers.rs::breaker_backoff_secs.
func BreakerSchedule(failCount int64) time.Duration {
	switch {
	case failCount <= 0:
		return 0
	case failCount == 1:
		return 60 * time.Second
	case failCount == 2:
		return 300 * time.Second
	case failCount == 3:
		return 1800 * time.Second
	case failCount == 4:
		return 21600 * time.Second
	default:
		return 86400 * time.Second
	}
}

// BreakerStore is the narrow persistence surface CircuitBreaker needs.
type BreakerStore interface {
	BreakerIsActive(ctx context.Context, contract [20]byte, selector *[4]byte) (bool, time.Duration, error)
	BreakerRecordFailureWeighted(ctx context.Context, contract [20]byte, selector *[4]byte, weight int32) error
}

// CircuitBreaker checks and debits the (contract, selector) cooldown lock.
type CircuitBreaker struct {
	store BreakerStore
	// MismatchPenalty is the weight applied when a prior emulation said
	// "ok" but on-chain execution failed, per spec.md §4.3 and
	// original_source/runner/tron_flow/sent.rs's breaker_mismatch_penalty.
	MismatchPenalty int32
}

func NewCircuitBreaker(store BreakerStore, mismatchPenalty int32) *CircuitBreaker {
	if mismatchPenalty < 1 {
		mismatchPenalty = 1
	}
	return &CircuitBreaker{store: store, MismatchPenalty: mismatchPenalty}
}

// Allowed reports whether (contract, selector) is outside its cooldown
// window right now.
func (b *CircuitBreaker) Allowed(ctx context.Context, contract [20]byte, selector *[4]byte) (bool, time.Duration, error) {
	active, remaining, err := b.store.BreakerIsActive(ctx, contract, selector)
	if err != nil {
		return false, 0, fmt.Errorf("circuit breaker check: %w", err)
	}
	return !active, remaining, nil
}

// RecordFailure debits the breaker with the default weight of 1.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, contract [20]byte, selector *[4]byte) error {
	return b.store.BreakerRecordFailureWeighted(ctx, contract, selector, 1)
}

// RecordFailureWeighted debits with an explicit weight, clamped 1..100 to
// match the Rust original's clamp in breaker_record_failure_weighted.
func (b *CircuitBreaker) RecordFailureWeighted(ctx context.Context, contract [20]byte, selector *[4]byte, weight int32) error {
	if weight < 1 {
		weight = 1
	}
	if weight > 100 {
		weight = 100
	}
	return b.store.BreakerRecordFailureWeighted(ctx, contract, selector, weight)
}

// SQLBreakerStore below satisfies BreakerStore against Postgres
// directly, avoiding a dependency from the safety package back onto the
// concrete store package (kept narrow per-method, following the teacher's
// preference for small consumed interfaces over importing whole packages).

// SQLBreakerStore adapts a *sql.DB to BreakerStore.
type SQLBreakerStore struct {
	DB *sql.DB
}

func (s SQLBreakerStore) BreakerIsActive(ctx context.Context, contract [20]byte, selector *[4]byte) (bool, time.Duration, error) {
	var cooldownUntil time.Time
	row := s.DB.QueryRowContext(ctx, `
		select cooldown_until from solver.circuit_breakers
		where contract=$1 and selector is not distinct from $2`,
		contract[:], selectorBytes(selector))
	if err := row.Scan(&cooldownUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, nil
		}
		return false, 0, err
	}
	remaining := time.Until(cooldownUntil)
	if remaining <= 0 {
		return false, 0, nil
	}
	return true, remaining, nil
}

func (s SQLBreakerStore) BreakerRecordFailureWeighted(ctx context.Context, contract [20]byte, selector *[4]byte, weight int32) error {
	_, err := s.DB.ExecContext(ctx, `
		insert into solver.circuit_breakers(contract, selector, fail_count, cooldown_until)
		values ($1, $2, $3, now())
		on conflict (contract, (coalesce(selector, ''::bytea))) do update set
			fail_count = solver.circuit_breakers.fail_count + excluded.fail_count
		`, contract[:], selectorBytes(selector), weight)
	if err != nil {
		return err
	}
	var failCount int64
	row := s.DB.QueryRowContext(ctx, `
		select fail_count from solver.circuit_breakers
		where contract=$1 and selector is not distinct from $2`,
		contract[:], selectorBytes(selector))
	if err := row.Scan(&failCount); err != nil {
		return err
	}
	cooldown := BreakerSchedule(failCount)
	_, err = s.DB.ExecContext(ctx, `
		update solver.circuit_breakers set cooldown_until = now() + make_interval(secs => $1)
		where contract=$2 and selector is not distinct from $3`,
		int64(cooldown.Seconds()), contract[:], selectorBytes(selector))
	return err
}

func selectorBytes(sel *[4]byte) []byte {
	if sel == nil {
		return nil
	}
	return sel[:]
}
