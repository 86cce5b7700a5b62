// Command jobsreport prints a read-only snapshot of job counts by state
// and intent type, plus any jobs whose lease has gone stale — ambient
// operational tooling, not the pricing/admin UI spec.md's Non-goals
// exclude. Grounded on original_source/apps/solver/src/bin/jobs_report.rs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ultrasoundlabs/untron-solver/internal/store"
)

type cliFlags struct {
	DBUrl            string        `kong:"name='db-url',env='SOLVER_DB_URL',required,help='Postgres connection string.'"`
	StuckGracePeriod time.Duration `kong:"name='stuck-grace',default='10m',help='How long past lease expiry before a job is reported stuck.'"`
}

func main() {
	var flags cliFlags
	kong.Parse(&flags, kong.Description("Read-only job-state report for the solver's durable store."))

	if err := run(flags); err != nil {
		fmt.Fprintln(os.Stderr, "jobsreport:", err)
		os.Exit(1)
	}
}

func run(flags cliFlags) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, flags.DBUrl)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	counts, err := db.JobCounts(ctx)
	if err != nil {
		return fmt.Errorf("job counts: %w", err)
	}
	fmt.Println("state                intent_type           count")
	var total int64
	for _, c := range counts {
		fmt.Printf("%-20s %-21s %d\n", c.State, c.IntentType, c.Count)
		total += c.Count
	}
	fmt.Printf("total: %d\n", total)

	stuck, err := db.StuckJobs(ctx, int64(flags.StuckGracePeriod.Seconds()))
	if err != nil {
		return fmt.Errorf("stuck jobs: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}
	fmt.Printf("\n%d stuck job(s) (lease expired > %s ago):\n", len(stuck), flags.StuckGracePeriod)
	for _, j := range stuck {
		leasedBy := "(none)"
		if j.LeasedBy != nil {
			leasedBy = *j.LeasedBy
		}
		fmt.Printf("  job_id=%d state=%s leased_by=%s attempts=%d\n", j.JobID, j.State, leasedBy, j.Attempts)
	}
	return nil
}
