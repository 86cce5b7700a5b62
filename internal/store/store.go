// Package store is the DurableStore: Postgres-backed persistence for jobs,
// leases, breakers, proofs, rate counters, reservations, and the pause flag.
// Every entity in SPEC_FULL.md §5 is owned here; workers hold only
// transient views. Grounded throughout on
// original_source/apps/solver/src/db/jobs/{core,state}.rs and
// .../db/breakers.rs, whose conditional-update predicates and diagnostic
// reject-reason queries are ported near verbatim into Go.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
)

// DurableStore wraps a Postgres connection pool.
type DurableStore struct {
	db *sql.DB
}

// Open connects to Postgres and verifies connectivity with a ping.
func Open(ctx context.Context, dsn string) (*DurableStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DurableStore{db: db}, nil
}

// DB exposes the underlying pool, used by Migrate and jobsreport.
func (s *DurableStore) DB() *sql.DB { return s.db }

func (s *DurableStore) Close() error { return s.db.Close() }

// InsertJobIfNew idempotently inserts a Ready job for an intent id; a
// concurrent insert that loses the race is a silent no-op.
func (s *DurableStore) InsertJobIfNew(ctx context.Context, intentID [32]byte, intentType IntentType, specs []byte, deadline int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into solver.jobs(intent_id, intent_type, intent_specs, deadline, state)
		values ($1, $2, $3, $4, 'ready')
		on conflict (intent_id) do nothing`,
		intentID[:], int16(intentType), specs, deadline)
	if err != nil {
		return fmt.Errorf("insert_job_if_new: %w", err)
	}
	return nil
}

// JobIDForIntent looks up a job by intent id, for tests and idempotency
// checks.
func (s *DurableStore) JobIDForIntent(ctx context.Context, intentID [32]byte) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `select job_id from solver.jobs where intent_id=$1`, intentID[:]).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("job_id_for_intent: %w", err)
	}
	return id, true, nil
}

// LeaseJobs atomically selects up to limit leaseable jobs and marks them
// leased by workerID, per spec.md §4.2. The CTE + FOR UPDATE SKIP LOCKED
// ensures concurrent leasers never block and never double-select; a worker
// may reclaim its own still-live lease (the leased_by=$2 AND lease_until>=now
// branch), which makes lease renewal idempotent across restarts within the
// same lease window.
func (s *DurableStore) LeaseJobs(ctx context.Context, workerID string, leaseFor time.Duration, limit int64) ([]Job, error) {
	nonTerminal := make([]string, 0, len(jobstate.NonTerminal))
	for _, st := range jobstate.NonTerminal {
		nonTerminal = append(nonTerminal, string(st))
	}
	secs := int64(leaseFor.Seconds())
	rows, err := s.db.QueryContext(ctx, `
		with cte as (
			select job_id
			from solver.jobs
			where state = any($1::text[])
				and next_retry_at <= now()
				and (
					(lease_until is null or lease_until < now())
					or (leased_by = $2 and lease_until >= now())
				)
			order by job_id asc
			limit $3
			for update skip locked
		)
		update solver.jobs j set
			leased_by = $2,
			lease_until = now() + make_interval(secs => $4),
			updated_at = now()
		from cte
		where j.job_id = cte.job_id
		returning j.job_id, j.intent_id, j.intent_type, j.intent_specs, j.deadline,
			j.state, j.attempts, j.leased_by, j.lease_until, j.next_retry_at,
			j.last_error, j.claim_tx_hash, j.prove_tx_hash, j.target_txid,
			j.created_at, j.updated_at`,
		pq.Array(nonTerminal), workerID, limit, secs)
	if err != nil {
		return nil, fmt.Errorf("lease_jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("lease_jobs scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Rows and *sql.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var intentID, claimTx, proveTx, targetTxID []byte
	var leasedBy, lastErr sql.NullString
	var leaseUntil sql.NullTime
	var intentType int16
	var state string
	if err := row.Scan(&j.JobID, &intentID, &intentType, &j.IntentSpecs, &j.Deadline,
		&state, &j.Attempts, &leasedBy, &leaseUntil, &j.NextRetryAt,
		&lastErr, &claimTx, &proveTx, &targetTxID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	copy(j.IntentID[:], intentID)
	j.IntentType = IntentType(intentType)
	j.State = jobstate.State(state)
	if leasedBy.Valid {
		v := leasedBy.String
		j.LeasedBy = &v
	}
	if leaseUntil.Valid {
		v := leaseUntil.Time
		j.LeaseUntil = &v
	}
	if lastErr.Valid {
		v := lastErr.String
		j.LastError = &v
	}
	j.ClaimTxHash = to32(claimTx)
	j.ProveTxHash = to32(proveTx)
	j.TargetTxID = to32(targetTxID)
	return j, nil
}

func to32(b []byte) *[32]byte {
	if len(b) != 32 {
		return nil
	}
	var out [32]byte
	copy(out[:], b)
	return &out
}

// RenewLease extends a job's lease iff still held by workerID, returning
// ErrLostLease otherwise.
func (s *DurableStore) RenewLease(ctx context.Context, jobID int64, workerID string, leaseFor time.Duration) error {
	secs := int64(leaseFor.Seconds())
	res, err := s.db.ExecContext(ctx, `
		update solver.jobs set
			lease_until = now() + make_interval(secs => $1),
			updated_at = now()
		where job_id = $2 and leased_by = $3 and lease_until >= now()
			and state not in ('done', 'failed_fatal')`,
		secs, jobID, workerID)
	if err != nil {
		return fmt.Errorf("renew_job_lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return joberr.ErrLostLease
	}
	return nil
}

// RecordClaim persists claim_tx_hash and transitions Ready->Claimed in one
// conditional update.
func (s *DurableStore) RecordClaim(ctx context.Context, jobID int64, workerID string, claimTxHash [32]byte) error {
	return s.transitionWithExtra(ctx, jobID, workerID, jobstate.Claimed,
		"claim_tx_hash", claimTxHash[:])
}

// RecordTargetTxID persists target_txid and transitions into TronSent.
func (s *DurableStore) RecordTargetTxID(ctx context.Context, jobID int64, workerID string, targetTxID [32]byte) error {
	return s.transitionWithExtra(ctx, jobID, workerID, jobstate.TronSent,
		"target_txid", targetTxID[:])
}

// RecordProve persists prove_tx_hash and transitions into Proved.
func (s *DurableStore) RecordProve(ctx context.Context, jobID int64, workerID string, proveTxHash [32]byte) error {
	return s.transitionWithExtra(ctx, jobID, workerID, jobstate.Proved,
		"prove_tx_hash", proveTxHash[:])
}

// transitionWithExtra applies a state transition together with one extra
// column assignment, using the AllowedFrom predecessor set for `to`.
// extraCol is always one of a small fixed set of column name literals
// passed by the methods above, never caller/user input.
func (s *DurableStore) transitionWithExtra(ctx context.Context, jobID int64, workerID string, to jobstate.State, extraCol string, extraVal any) error {
	expected := stateStrings(jobstate.AllowedFrom(to))
	query := fmt.Sprintf(`
		update solver.jobs set state=$1, %s=$2, updated_at=now()
		where job_id=$3 and leased_by=$4 and lease_until >= now()
			and state = any($5::text[])`, extraCol)
	res, err := s.db.ExecContext(ctx, query,
		string(to), extraVal, jobID, workerID, pq.Array(expected))
	if err != nil {
		return s.diagnoseTransitionReject(ctx, jobID, to, expected, err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return s.diagnoseTransitionReject(ctx, jobID, to, expected, nil)
	}
	return nil
}

// RecordJobState applies a plain state transition (no extra column),
// covering ProofBuilt, ProvedWaitingFunding, ProvedWaitingSettlement, Done,
// and the TronPrepared target-plan-persisted transition.
func (s *DurableStore) RecordJobState(ctx context.Context, jobID int64, workerID string, to jobstate.State) error {
	expected := stateStrings(jobstate.AllowedFrom(to))
	res, err := s.db.ExecContext(ctx, `
		update solver.jobs set state=$1, updated_at=now()
		where job_id=$2 and leased_by=$3 and lease_until >= now()
			and state = any($4::text[])`,
		string(to), jobID, workerID, pq.Array(expected))
	if err != nil {
		return s.diagnoseTransitionReject(ctx, jobID, to, expected, err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return s.diagnoseTransitionReject(ctx, jobID, to, expected, nil)
	}
	return nil
}

func (s *DurableStore) RecordDone(ctx context.Context, jobID int64, workerID string) error {
	return s.RecordJobState(ctx, jobID, workerID, jobstate.Done)
}

// diagnoseTransitionReject re-selects the row to produce the structured
// reason, mirroring update_job_state_from's diagnostic query.
func (s *DurableStore) diagnoseTransitionReject(ctx context.Context, jobID int64, to jobstate.State, expected []string, cause error) error {
	var state, leasedBy sql.NullString
	var leaseValid sql.NullBool
	row := s.db.QueryRowContext(ctx, `
		select state, leased_by, (lease_until >= now()) as lease_valid
		from solver.jobs where job_id=$1`, jobID)
	err := row.Scan(&state, &leasedBy, &leaseValid)
	if errors.Is(err, sql.ErrNoRows) {
		return &joberr.TransitionReject{JobID: jobID, Reason: joberr.ReasonJobNotFound, Detail: fmt.Sprintf("target=%s", to)}
	}
	if err != nil {
		if cause != nil {
			return fmt.Errorf("update solver.jobs state: %w", cause)
		}
		return fmt.Errorf("diagnose transition reject: %w", err)
	}
	reason := joberr.ReasonUnknownConflict
	if state.Valid {
		isExpected := false
		for _, e := range expected {
			if e == state.String {
				isExpected = true
				break
			}
		}
		switch {
		case !isExpected:
			reason = joberr.ReasonStateMismatch
		case leaseValid.Valid && !leaseValid.Bool:
			reason = joberr.ReasonLeaseExpired
		default:
			reason = joberr.ReasonLeaseOwnerMismatch
		}
	}
	return &joberr.TransitionReject{
		JobID:  jobID,
		Reason: reason,
		Detail: fmt.Sprintf("target=%s current_state=%v leased_by=%v lease_valid=%v", to, state.String, leasedBy.String, leaseValid.Bool),
	}
}

// RecordRetryableError advances attempts and schedules the next retry,
// releasing the lease immediately (lease_until=now) so another worker may
// pick the job up once next_retry_at elapses.
func (s *DurableStore) RecordRetryableError(ctx context.Context, jobID int64, workerID, errMsg string, delay time.Duration) error {
	secs := int64(delay.Seconds())
	if secs < 1 {
		secs = 1
	}
	res, err := s.db.ExecContext(ctx, `
		update solver.jobs set
			attempts = attempts + 1,
			last_error = $1,
			next_retry_at = now() + make_interval(secs => $2),
			lease_until = now(),
			updated_at = now()
		where job_id=$3 and leased_by=$4
			and state not in ('done', 'failed_fatal')`,
		errMsg, secs, jobID, workerID)
	if err != nil {
		return fmt.Errorf("record_retryable_error: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return joberr.ErrLostLease
	}
	return nil
}

// RecordFatalError moves the job to FailedFatal and deletes any delegate
// reservation the job holds.
func (s *DurableStore) RecordFatalError(ctx context.Context, jobID int64, workerID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		update solver.jobs set
			state = 'failed_fatal',
			last_error = $1,
			lease_until = now(),
			updated_at = now()
		where job_id=$2 and leased_by=$3
			and state <> 'done'`,
		errMsg, jobID, workerID)
	if err != nil {
		return fmt.Errorf("record_fatal_error: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return joberr.ErrLostLease
	}
	return s.DeleteReservation(ctx, jobID)
}

// GlobalPauseActive returns the remaining pause seconds and reason, if a
// pause is currently in effect.
func (s *DurableStore) GlobalPauseActive(ctx context.Context) (secsLeft int64, reason string, active bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		select extract(epoch from (pause_until - now()))::bigint as secs_left, reason
		from solver.global_pause
		where id = 1 and pause_until > now()`)
	var r sql.NullString
	if serr := row.Scan(&secsLeft, &r); serr != nil {
		if errors.Is(serr, sql.ErrNoRows) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("global_pause_active: %w", serr)
	}
	if secsLeft < 1 {
		secsLeft = 1
	}
	return secsLeft, r.String, true, nil
}

// SetGlobalPauseForSecs arms or extends the global pause.
func (s *DurableStore) SetGlobalPauseForSecs(ctx context.Context, secs int64, reason string) error {
	if secs < 1 {
		secs = 1
	}
	_, err := s.db.ExecContext(ctx, `
		insert into solver.global_pause(id, pause_until, reason, updated_at)
		values (1, now() + make_interval(secs => $1), $2, now())
		on conflict (id) do update set
			pause_until = excluded.pause_until,
			reason = excluded.reason,
			updated_at = now()`,
		secs, reason)
	if err != nil {
		return fmt.Errorf("set_global_pause_for_secs: %w", err)
	}
	return nil
}

// CountRecentFatalErrors powers the auto-pause threshold check.
func (s *DurableStore) CountRecentFatalErrors(ctx context.Context, windowSecs int64) (int64, error) {
	if windowSecs < 1 {
		windowSecs = 1
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `
		select count(*)::bigint from solver.jobs
		where state = 'failed_fatal' and updated_at > now() - make_interval(secs => $1)`,
		windowSecs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count_recent_fatal_errors: %w", err)
	}
	return n, nil
}

// RateLimitClaimPerMinute upserts the per-minute bucket for key; if the
// resulting count exceeds limit it returns the seconds remaining until the
// next minute boundary. limit=0 disables the bucket.
func (s *DurableStore) RateLimitClaimPerMinute(ctx context.Context, key string, limit int64) (waitSecs int64, limited bool, err error) {
	if limit == 0 {
		return 0, false, nil
	}
	row := s.db.QueryRowContext(ctx, `
		with upsert as (
			insert into solver.rate_limits(key, window_start, count, updated_at)
			values ($1, date_trunc('minute', now()), 1, now())
			on conflict (key, window_start) do update set
				count = solver.rate_limits.count + 1,
				updated_at = now()
			returning count
		), wait as (
			select extract(epoch from (date_trunc('minute', now()) + interval '1 minute' - now()))::bigint as wait_secs
		)
		select (select count from upsert) as count, (select wait_secs from wait) as wait_secs`,
		key)
	var count int64
	if err := row.Scan(&count, &waitSecs); err != nil {
		return 0, false, fmt.Errorf("rate_limit_claim_per_minute: %w", err)
	}
	if count > limit {
		if waitSecs < 1 {
			waitSecs = 1
		}
		return waitSecs, true, nil
	}
	return 0, false, nil
}

func stateStrings(states []jobstate.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
