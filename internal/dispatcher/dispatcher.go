// Package dispatcher implements the per-tick loop: health-check the
// indexer, ingest open intents as jobs, lease a batch, and dispatch each
// leased job to its state handler with bounded per-intent-type
// concurrency. Grounded on original_source/apps/solver/src/runner/mod.rs's
// tick() and its JoinSet-based fan-out.
package dispatcher

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/ultrasoundlabs/untron-solver/internal/hubflow"
	"github.com/ultrasoundlabs/untron-solver/internal/indexer"
	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
	"github.com/ultrasoundlabs/untron-solver/internal/targetflow"
	"github.com/ultrasoundlabs/untron-solver/internal/telemetry"
)

// Store is the narrow persistence surface the tick loop depends on
// directly (ingestion, leasing, and recording handler outcomes);
// individual handlers depend on their own narrower Store interfaces.
type Store interface {
	InsertJobIfNew(ctx context.Context, intentID [32]byte, intentType store.IntentType, specs []byte, deadline int64) error
	LeaseJobs(ctx context.Context, workerID string, leaseFor time.Duration, limit int64) ([]store.Job, error)
	RecordRetryableError(ctx context.Context, jobID int64, workerID, errMsg string, delay time.Duration) error
	RecordFatalError(ctx context.Context, jobID int64, workerID, errMsg string) error
}

// HandlerSet groups the per-state handlers a job is dispatched to.
type HandlerSet struct {
	Hub    *hubflow.Handlers
	Target *targetflow.Handlers
}

// retryDelay is used when a Retryable error doesn't set its own
// Delay (joberr.Retryable.Delay == 0): safety-envelope checks (global
// pause, rate limit) know precisely how long to wait and set Delay
// themselves, but most handler errors (RPC timeouts, transient target-chain
// errors) don't, so they fall back to min(2^attempts, 300) seconds, with
// attempts clamped to 0..10.
func retryDelay(attempts int64) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	return min(time.Duration(int64(1)<<attempts)*time.Second, 300*time.Second)
}

// Dispatcher runs one tick at a time; callers loop it on their own cadence.
type Dispatcher struct {
	Store          Store
	Indexer        indexer.Client
	Handlers       HandlerSet
	Telemetry      *telemetry.Telemetry
	WorkerID       string
	LeaseDuration  time.Duration
	MaxInFlight    int64
	FillMaxClaims  int
	TypeSemaphores map[store.IntentType]*semaphore.Weighted
}

// Tick runs the four spec.md §4.6 steps once. Returns an error only for
// conditions that abort the whole tick (indexer unhealthy, ingest/lease
// failure); individual job handler errors are classified and recorded,
// never propagated.
func (d *Dispatcher) Tick(ctx context.Context) error {
	if err := d.Indexer.Health(ctx); err != nil {
		return fmt.Errorf("indexer unhealthy, aborting tick: %w", err)
	}

	intents, err := d.Indexer.OpenIntents(ctx, d.FillMaxClaims)
	if err != nil {
		return fmt.Errorf("fetch open intents: %w", err)
	}
	for _, oi := range intents {
		intentID, err := parseIntentID(oi.ID)
		if err != nil {
			log.Warn("skipping open intent with malformed id", "id", oi.ID, "err", err)
			continue
		}
		if err := d.Store.InsertJobIfNew(ctx, intentID, store.IntentType(oi.IntentType), []byte(oi.IntentSpecs), oi.Deadline); err != nil {
			log.Warn("insert_job_if_new failed", "intent_id", oi.ID, "err", err)
		}
	}

	jobs, err := d.Store.LeaseJobs(ctx, d.WorkerID, d.LeaseDuration, d.MaxInFlight)
	if err != nil {
		return fmt.Errorf("lease jobs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			sem := d.TypeSemaphores[job.IntentType]
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer sem.Release(1)
			}
			d.dispatchOne(gctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job store.Job) {
	started := time.Now()
	err := d.route(ctx, job)
	if d.Telemetry != nil {
		d.Telemetry.TickDuration(time.Since(started))
	}
	if err == nil {
		if d.Telemetry != nil {
			d.Telemetry.JobStateTransition(job.IntentType.String(), string(job.State), "ok")
		}
		return
	}

	class := joberr.Classify(err)
	if d.Telemetry != nil {
		d.Telemetry.Error(string(class))
	}
	log.Warn("job handler error", "job_id", job.JobID, "state", job.State, "class", class, "err", err)

	if f, ok := joberr.AsFatal(err); ok {
		if rerr := d.Store.RecordFatalError(ctx, job.JobID, d.WorkerID, f.Msg); rerr != nil {
			log.Warn("record_fatal_error failed", "job_id", job.JobID, "err", rerr)
		}
		return
	}
	if r, ok := joberr.AsRetryable(err); ok {
		delay := r.Delay
		if delay <= 0 {
			delay = retryDelay(job.Attempts)
		}
		if rerr := d.Store.RecordRetryableError(ctx, job.JobID, d.WorkerID, r.Msg, delay); rerr != nil {
			log.Warn("record_retryable_error failed", "job_id", job.JobID, "err", rerr)
		}
	}
}

// parseIntentID decodes the indexer's hex-encoded intent id into the fixed
// 32-byte form the job store keys on.
func parseIntentID(id string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(id, "0x"))
	if err != nil {
		return out, fmt.Errorf("decode intent id: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("intent id %q is %d bytes, want 32", id, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// route selects the handler for a job's current state, matching spec.md
// §4.4-§4.5's state-to-handler table.
func (d *Dispatcher) route(ctx context.Context, job store.Job) error {
	switch job.State {
	case jobstate.Ready:
		return d.Handlers.Hub.HandleReady(ctx, job)
	case jobstate.Claimed:
		return d.Handlers.Target.HandleClaimed(ctx, job)
	case jobstate.TronPrepared:
		return d.Handlers.Target.HandleTronPrepared(ctx, job)
	case jobstate.TronSent:
		return d.Handlers.Target.HandleTronSent(ctx, job)
	case jobstate.ProofBuilt:
		return d.Handlers.Hub.HandleProofBuilt(ctx, job)
	case jobstate.Proved, jobstate.ProvedWaitingFunding, jobstate.ProvedWaitingSettlement:
		return d.Handlers.Hub.HandleProvedFamily(ctx, job)
	default:
		return joberr.NewFatal("job %d leased in unhandled state %s", job.JobID, job.State)
	}
}
