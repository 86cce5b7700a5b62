package dispatcher_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ultrasoundlabs/untron-solver/internal/dispatcher"
	"github.com/ultrasoundlabs/untron-solver/internal/hub"
	"github.com/ultrasoundlabs/untron-solver/internal/hubflow"
	"github.com/ultrasoundlabs/untron-solver/internal/indexer"
	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
	"github.com/ultrasoundlabs/untron-solver/internal/safety"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
	"github.com/ultrasoundlabs/untron-solver/internal/target"
	"github.com/ultrasoundlabs/untron-solver/internal/targetflow"
)

// fakeStore is a narrow in-memory stand-in for store.DurableStore, covering
// the methods dispatcher.Store, hubflow.Store, and targetflow.Store need,
// plus the retryable/fatal call recorder the dispatchOne scenarios assert
// against.
type fakeStore struct {
	mu sync.Mutex

	jobs []store.Job

	retryableMsgs []string
	fatalMsgs     []string
}

func (s *fakeStore) InsertJobIfNew(ctx context.Context, intentID [32]byte, intentType store.IntentType, specs []byte, deadline int64) error {
	return nil
}

func (s *fakeStore) LeaseJobs(ctx context.Context, workerID string, leaseFor time.Duration, limit int64) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.jobs
	s.jobs = nil
	return out, nil
}

func (s *fakeStore) RecordRetryableError(ctx context.Context, jobID int64, workerID, errMsg string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryableMsgs = append(s.retryableMsgs, errMsg)
	return nil
}

func (s *fakeStore) RecordFatalError(ctx context.Context, jobID int64, workerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatalMsgs = append(s.fatalMsgs, errMsg)
	return nil
}

func (s *fakeStore) RecordClaim(ctx context.Context, jobID int64, workerID string, claimTxHash [32]byte) error {
	return nil
}
func (s *fakeStore) RecordProve(ctx context.Context, jobID int64, workerID string, proveTxHash [32]byte) error {
	return nil
}
func (s *fakeStore) RecordJobState(ctx context.Context, jobID int64, workerID string, to jobstate.State) error {
	return nil
}
func (s *fakeStore) InclusionProofFor(ctx context.Context, txid [32]byte) (*store.InclusionProof, bool, error) {
	return nil, false, nil
}

func (s *fakeStore) PutSignedTxPlan(ctx context.Context, jobID int64, steps []store.TargetSignedTx) error {
	return nil
}
func (s *fakeStore) SignedTxPlan(ctx context.Context, jobID int64) ([]store.TargetSignedTx, error) {
	return nil, nil
}
func (s *fakeStore) RecordTargetTxID(ctx context.Context, jobID int64, workerID string, targetTxID [32]byte) error {
	return nil
}
func (s *fakeStore) PutInclusionProof(ctx context.Context, proof store.InclusionProof) error {
	return nil
}
func (s *fakeStore) RecordTargetTxCost(ctx context.Context, cost store.TargetTxCost) error {
	return nil
}
func (s *fakeStore) IntentEmulation(ctx context.Context, intentID [32]byte) (*store.IntentEmulation, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) RenewLease(ctx context.Context, jobID int64, workerID string, leaseFor time.Duration) error {
	return nil
}

// fakePauseStore and fakeRateLimitStore let the two safety-envelope
// scenarios below force a Retryable without a real Postgres instance.

type fakePauseStore struct{ active bool }

func (f fakePauseStore) GlobalPauseActive(ctx context.Context) (int64, string, bool, error) {
	if !f.active {
		return 0, "", false, nil
	}
	return 30, "auto_pause_fatal_threshold_exceeded", true, nil
}
func (f fakePauseStore) SetGlobalPauseForSecs(ctx context.Context, secs int64, reason string) error {
	return nil
}
func (f fakePauseStore) CountRecentFatalErrors(ctx context.Context, windowSecs int64) (int64, error) {
	return 0, nil
}

type fakeRateLimitStore struct{ limited bool }

func (f fakeRateLimitStore) RateLimitClaimPerMinute(ctx context.Context, key string, limit int64) (int64, bool, error) {
	return 5, f.limited, nil
}

// fakeHub satisfies hub.Client; every method is unreachable in the
// scenarios below since the safety envelope rejects the claim first.
type fakeHub struct{}

func (fakeHub) ClaimIntent(ctx context.Context, intentID [32]byte) (hub.Receipt, error) {
	return hub.Receipt{}, nil
}
func (fakeHub) ProveIntentFill(ctx context.Context, intentID [32]byte, proof hub.InclusionProofArgs) (hub.Receipt, error) {
	return hub.Receipt{}, nil
}
func (fakeHub) IntentStatus(ctx context.Context, intentID [32]byte) (hub.IntentStatus, error) {
	return hub.IntentStatus{}, nil
}
func (fakeHub) EnsureERC20Allowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return nil
}
func (fakeHub) V3TronUSDT(ctx context.Context) (common.Address, error) {
	return common.Address{}, nil
}

// fakeIndexer satisfies indexer.Client with no open intents to ingest, so
// Tick goes straight from health-check to leasing the pre-seeded job.
type fakeIndexer struct{}

func (fakeIndexer) Health(ctx context.Context) error { return nil }
func (fakeIndexer) OpenIntents(ctx context.Context, limit int) ([]indexer.OpenIntent, error) {
	return nil, nil
}
func (fakeIndexer) IntentByID(ctx context.Context, id string) (*indexer.OpenIntent, error) {
	return nil, nil
}
func (fakeIndexer) LatestIndexedBlock(ctx context.Context) (int64, error) { return 0, nil }

func newDispatcher(t *testing.T, st *fakeStore, hubHandlers *hubflow.Handlers) *dispatcher.Dispatcher {
	t.Helper()
	return &dispatcher.Dispatcher{
		Store:         st,
		Indexer:       fakeIndexer{},
		WorkerID:      "worker-1",
		LeaseDuration: time.Minute,
		MaxInFlight:   10,
		FillMaxClaims: 10,
		Handlers: dispatcher.HandlerSet{
			Hub: hubHandlers,
			Target: &targetflow.Handlers{
				Store:  st,
				Driver: target.NewMockDriver(),
			},
		},
	}
}

// TestDispatchOne_GlobalPausePersistsLastError covers spec.md's claim-path
// scenario where the envelope is under an active global pause: HandleReady
// must return a Retryable whose message survives into last_error (via
// RecordRetryableError) rather than being logged and discarded.
func TestDispatchOne_GlobalPausePersistsLastError(t *testing.T) {
	st := &fakeStore{jobs: []store.Job{{
		JobID: 1, IntentType: store.IntentTrxTransfer, State: jobstate.Ready,
	}}}
	hubHandlers := &hubflow.Handlers{
		Store:       st,
		Hub:         fakeHub{},
		GlobalPause: safety.NewGlobalPause(fakePauseStore{active: true}, 0, 0, 0),
	}

	d := newDispatcher(t, st, hubHandlers)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.retryableMsgs) != 1 {
		t.Fatalf("want 1 retryable record, got %d: %v", len(st.retryableMsgs), st.retryableMsgs)
	}
	if !strings.Contains(st.retryableMsgs[0], "global_pause:") {
		t.Errorf("last_error %q does not contain global_pause:", st.retryableMsgs[0])
	}
	if len(st.fatalMsgs) != 0 {
		t.Errorf("expected no fatal records, got %v", st.fatalMsgs)
	}
}

// TestDispatchOne_ClaimRateLimitedPersistsLastError covers the rate-limit
// rejection path: CheckClaim's Retryable must reach last_error the same
// way the global-pause one does.
func TestDispatchOne_ClaimRateLimitedPersistsLastError(t *testing.T) {
	st := &fakeStore{jobs: []store.Job{{
		JobID: 2, IntentType: store.IntentTrxTransfer, State: jobstate.Ready,
	}}}
	hubHandlers := &hubflow.Handlers{
		Store: st,
		Hub:   fakeHub{},
		RateLimit: safety.NewRateLimit(fakeRateLimitStore{limited: true}, map[string]int64{
			"claim:global": 60,
		}),
	}

	d := newDispatcher(t, st, hubHandlers)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.retryableMsgs) != 1 {
		t.Fatalf("want 1 retryable record, got %d: %v", len(st.retryableMsgs), st.retryableMsgs)
	}
	if !strings.Contains(st.retryableMsgs[0], "claim_rate_limited") {
		t.Errorf("last_error %q does not contain claim_rate_limited", st.retryableMsgs[0])
	}
}

// TestDispatchOne_FatalHandlerReachesFailedFatal covers the other half of
// the error-handling contract: a Fatal error from a handler (here,
// TronSent with no target_txid persisted) must call RecordFatalError, the
// store-side move into FailedFatal, not just get logged.
func TestDispatchOne_FatalHandlerReachesFailedFatal(t *testing.T) {
	st := &fakeStore{jobs: []store.Job{{
		JobID: 3, IntentType: store.IntentTrxTransfer, State: jobstate.TronSent, TargetTxID: nil,
	}}}
	hubHandlers := &hubflow.Handlers{Store: st, Hub: fakeHub{}}

	d := newDispatcher(t, st, hubHandlers)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.fatalMsgs) != 1 {
		t.Fatalf("want 1 fatal record, got %d: %v", len(st.fatalMsgs), st.fatalMsgs)
	}
	if !strings.Contains(st.fatalMsgs[0], "target_txid") {
		t.Errorf("fatal message %q does not mention target_txid", st.fatalMsgs[0])
	}
	if len(st.retryableMsgs) != 0 {
		t.Errorf("expected no retryable records, got %v", st.retryableMsgs)
	}
}
