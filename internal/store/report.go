package store

import (
	"context"
	"fmt"
)

// JobCountRow is one (state, intent_type) bucket of the jobs_report view.
type JobCountRow struct {
	State      string
	IntentType IntentType
	Count      int64
}

// JobCounts groups every job row by state and intent type, for the
// read-only operational report in cmd/jobsreport. Grounded on
// original_source/apps/solver/src/bin/jobs_report.rs's own grouped count
// query.
func (s *DurableStore) JobCounts(ctx context.Context) ([]JobCountRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		select state, intent_type, count(*)
		from solver.jobs
		group by state, intent_type
		order by state, intent_type`)
	if err != nil {
		return nil, fmt.Errorf("query job counts: %w", err)
	}
	defer rows.Close()

	var out []JobCountRow
	for rows.Next() {
		var r JobCountRow
		var intentType int16
		if err := rows.Scan(&r.State, &intentType, &r.Count); err != nil {
			return nil, fmt.Errorf("scan job count row: %w", err)
		}
		r.IntentType = IntentType(intentType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// StuckJobs returns non-terminal jobs whose lease expired more than
// graceSecs ago without being renewed or completed — a quick way for an
// operator to spot a worker that died mid-job.
func (s *DurableStore) StuckJobs(ctx context.Context, graceSecs int64) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		select job_id, intent_id, intent_type, intent_specs, deadline,
			state, attempts, leased_by, lease_until, next_retry_at,
			last_error, claim_tx_hash, prove_tx_hash, target_txid,
			created_at, updated_at
		from solver.jobs
		where lease_until is not null
		  and lease_until < now() - make_interval(secs => $1)
		  and state not in ('done', 'failed_fatal')
		order by lease_until asc`, graceSecs)
	if err != nil {
		return nil, fmt.Errorf("query stuck jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
