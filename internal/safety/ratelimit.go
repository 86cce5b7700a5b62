package safety

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
)

// RateLimitStore is the narrow persistence surface RateLimit needs.
type RateLimitStore interface {
	RateLimitClaimPerMinute(ctx context.Context, key string, limit int64) (waitSecs int64, limited bool, err error)
}

// RateLimit checks the two buckets spec.md §4.3 names: claim:global and
// claim:<intent_type>. An in-process golang.org/x/time/rate limiter is
// consulted first: a claim it rejects is refused without a DB round trip,
// and a claim it admits is then checked against the DB-backed per-minute
// bucket, which counts claims across the whole worker fleet, matching
// original_source's rate_limit_claim_per_minute upsert.
type RateLimit struct {
	store   RateLimitStore
	limits  map[string]int64
	prefilt map[string]*rate.Limiter
}

func NewRateLimit(store RateLimitStore, limits map[string]int64) *RateLimit {
	prefilt := make(map[string]*rate.Limiter, len(limits))
	for key, limit := range limits {
		if limit <= 0 {
			continue
		}
		// Spread the per-minute budget evenly as an in-process token rate
		// with a burst of 1, so claims arriving closer together than
		// 60s/limit in this process are refused even while the DB bucket
		// has room.
		prefilt[key] = rate.NewLimiter(rate.Limit(float64(limit)/60.0), 1)
	}
	return &RateLimit{store: store, limits: limits, prefilt: prefilt}
}

// CheckClaim enforces both the global and per-intent-type buckets for a
// claim attempt, returning a Retryable "claim_rate_limited" error naming
// the offending bucket if either is exceeded.
func (r *RateLimit) CheckClaim(ctx context.Context, intentTypeKey string) error {
	for _, key := range []string{"claim:global", "claim:" + intentTypeKey} {
		limit, configured := r.limits[key]
		if !configured || limit == 0 {
			continue
		}
		if l, ok := r.prefilt[key]; ok && !l.Allow() {
			return joberr.NewRetryable(time.Second, "claim_rate_limited:%s", key)
		}
		waitSecs, limited, err := r.store.RateLimitClaimPerMinute(ctx, key, limit)
		if err != nil {
			return fmt.Errorf("rate limit check %s: %w", key, err)
		}
		if limited {
			return joberr.NewRetryable(durationFromSecs(waitSecs), "claim_rate_limited:%s", key)
		}
	}
	return nil
}
