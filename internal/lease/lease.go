// Package lease implements cooperative work-stealing lease acquisition,
// renewal, and heartbeat-driven extension for long-running handler
// operations. The acquire/select side lives in store.LeaseJobs; this
// package wraps the renew-while-working pattern, grounded on
// ep-eaglepoint-ai-bd_datasets_002/lcxbi7-go-linearizable-sequence-lease-manager's
// heartbeatLoop (renew at a fraction of the TTL, on a background timer tied
// to the operation's context) adapted from a KV-CAS store to Postgres
// conditional updates.
package lease

import (
	"context"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
)

// Renewer is satisfied by store.DurableStore; kept narrow so this package
// never imports store directly (avoids an import cycle and keeps the
// heartbeat logic testable against a fake).
type Renewer interface {
	RenewLease(ctx context.Context, jobID int64, workerID string, leaseFor time.Duration) error
}

// WithHeartbeat runs op while a background ticker renews the lease on
// jobID every interval (recommended < leaseDuration/2, per spec.md §4.2).
// If a renewal fails the heartbeat logs it and tries again on the next
// tick, but does not cancel op: the caller's subsequent state transition will itself fail
// with a lost-lease rejection, per spec.md's "operation is not cancelled"
// note.
func WithHeartbeat(ctx context.Context, r Renewer, jobID int64, workerID string, leaseDuration, interval time.Duration, op func(context.Context) error) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := r.RenewLease(hbCtx, jobID, workerID, leaseDuration); err != nil {
					log.Warn("lease heartbeat renewal failed, job may be reclaimed", "job_id", jobID, "err", err)
				}
			}
		}
	}()
	defer close(done)

	return op(ctx)
}

// DefaultLeaseDuration and DefaultHeartbeatInterval are the values spec.md
// §4.2 recommends: 60s lease, ~10s heartbeat (well under half the lease).
const (
	DefaultLeaseDuration    = 60 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)
