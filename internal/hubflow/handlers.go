// Package hubflow implements the Ready->Claimed, ProofBuilt->Proved, and
// Proved*->{Done|waiting} transitions against the hub chain. Grounded on
// original_source/apps/solver/src/runner/{ready,proof_built,proved}.rs.
package hubflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ultrasoundlabs/untron-solver/internal/hub"
	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
	"github.com/ultrasoundlabs/untron-solver/internal/profitability"
	"github.com/ultrasoundlabs/untron-solver/internal/safety"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
)

// Store is the narrow persistence surface HubFlow depends on.
type Store interface {
	RecordClaim(ctx context.Context, jobID int64, workerID string, claimTxHash [32]byte) error
	RecordProve(ctx context.Context, jobID int64, workerID string, proveTxHash [32]byte) error
	RecordJobState(ctx context.Context, jobID int64, workerID string, to jobstate.State) error
	InclusionProofFor(ctx context.Context, txid [32]byte) (*store.InclusionProof, bool, error)
}

// Handlers implements the hub-facing state transitions.
type Handlers struct {
	Store           Store
	Hub             hub.Client
	GlobalPause     *safety.GlobalPause
	RateLimit       *safety.RateLimit
	IndexerLag      *safety.IndexerLagGuard
	Profitability   profitability.Check
	IndexerHead     func(ctx context.Context) (int64, error)
	HubHead         func(ctx context.Context) (int64, error)
	WorkerID        string
	StatusPollFor   time.Duration
	StatusPollEvery time.Duration
}

// HandleReady consults the SafetyEnvelope (pause, rate limit, indexer lag)
// before claiming the intent on hub, per spec.md §4.4.
func (h *Handlers) HandleReady(ctx context.Context, job store.Job) error {
	if h.GlobalPause != nil {
		if err := h.GlobalPause.CheckBeforeClaim(ctx); err != nil {
			return err
		}
	}
	if h.RateLimit != nil {
		if err := h.RateLimit.CheckClaim(ctx, job.IntentType.String()); err != nil {
			return err
		}
	}
	if h.IndexerLag != nil && h.IndexerHead != nil && h.HubHead != nil {
		indexerHead, err := h.IndexerHead(ctx)
		if err != nil {
			return joberr.NewRetryable(5*time.Second, "read indexer head: %v", err)
		}
		hubHead, err := h.HubHead(ctx)
		if err != nil {
			return joberr.NewRetryable(5*time.Second, "read hub head: %v", err)
		}
		if err := h.IndexerLag.Check(ctx, indexerHead, hubHead); err != nil {
			return err
		}
	}
	if h.Profitability != nil {
		allow, err := h.Profitability.Allow(ctx, job)
		if err != nil {
			return joberr.NewRetryable(0, "profitability check: %v", err)
		}
		if !allow {
			return joberr.NewRetryable(30*time.Second, "not profitable")
		}
	}

	receipt, err := h.Hub.ClaimIntent(ctx, job.IntentID)
	if err != nil {
		return joberr.NewRetryable(0, "claim_intent: %v", err)
	}
	return h.Store.RecordClaim(ctx, job.JobID, h.WorkerID, receipt.TxHash)
}

// HandleProofBuilt submits the stored inclusion proof to hub and transitions
// to Proved.
func (h *Handlers) HandleProofBuilt(ctx context.Context, job store.Job) error {
	if job.TargetTxID == nil {
		return joberr.NewFatal("job %d in ProofBuilt with no target_txid", job.JobID)
	}
	proof, ok, err := h.Store.InclusionProofFor(ctx, *job.TargetTxID)
	if err != nil {
		return err
	}
	if !ok {
		return joberr.NewFatal("job %d in ProofBuilt with no stored inclusion proof for txid", job.JobID)
	}

	index, success := new(big.Int).SetString(proof.IndexDec, 10)
	if !success {
		return joberr.NewFatal("job %d has malformed proof index %q", job.JobID, proof.IndexDec)
	}

	receipt, err := h.Hub.ProveIntentFill(ctx, job.IntentID, hub.InclusionProofArgs{
		Blocks: proof.Blocks, EncodedTx: proof.EncodedTx, Path: proof.Path, Index: index,
	})
	if err != nil {
		return joberr.NewRetryable(0, "prove_intent_fill: %v", err)
	}
	return h.Store.RecordProve(ctx, job.JobID, h.WorkerID, receipt.TxHash)
}

// HandleProvedFamily polls hub intent_status and applies the transition
// policy from spec.md §4.4; a status matching no rule leaves the job
// untouched for the next tick.
func (h *Handlers) HandleProvedFamily(ctx context.Context, job store.Job) error {
	pollFor := h.StatusPollFor
	if pollFor <= 0 {
		pollFor = 5 * time.Second
	}
	every := h.StatusPollEvery
	if every <= 0 {
		every = time.Second
	}
	deadline := time.Now().Add(pollFor)

	for {
		status, err := h.Hub.IntentStatus(ctx, job.IntentID)
		if err != nil {
			return joberr.NewRetryable(0, "intent_status: %v", err)
		}

		next, transition := nextStateFor(status)
		if transition {
			return h.Store.RecordJobState(ctx, job.JobID, h.WorkerID, next)
		}

		if time.Now().After(deadline) {
			return nil // leave for next tick
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

func nextStateFor(status hub.IntentStatus) (jobstate.State, bool) {
	switch {
	case status.Closed || (status.Solved && status.Funded && status.Settled):
		return jobstate.Done, true
	case status.Solved && !status.Funded:
		return jobstate.ProvedWaitingFunding, true
	case status.Solved && status.Funded && !status.Settled:
		return jobstate.ProvedWaitingSettlement, true
	default:
		return "", false
	}
}
