package targetflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ethereum/go-ethereum/common"
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
	"github.com/ultrasoundlabs/untron-solver/internal/lease"
	"github.com/ultrasoundlabs/untron-solver/internal/safety"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
	"github.com/ultrasoundlabs/untron-solver/internal/target"
	"github.com/ultrasoundlabs/untron-solver/internal/telemetry"
)

// usdtTransferSelector is the 4-byte selector for the ERC20/TRC20
// transfer(address,uint256) function, used to key the circuit breaker for
// IntentUsdtTransfer jobs since their calldata is built by the solver
// itself rather than decoded from IntentSpecs. Grounded on
// original_source/apps/solver/src/runner/tron_flow/sent.rs:53.
var usdtTransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// multiStep types require a TronPrepared staging step (consolidation
// pre-transactions ahead of a final fill); everything else broadcasts once
// and goes straight to TronSent, per spec.md §4.5.
func multiStep(t store.IntentType) bool {
	return t == store.IntentUsdtTransfer || t == store.IntentTriggerContract
}

// Preparer builds the ordered signed-tx plan for a multi-step job: any
// consolidation pre-transactions (via the PlanTrx/PlanTrc20 planners)
// followed by the final fill transaction, all pre-signed so TronPrepared ->
// TronSent never has to touch key material again.
type Preparer interface {
	PrepareSignedTxs(ctx context.Context, job store.Job) ([]store.TargetSignedTx, error)
}

// Store is the narrow persistence surface TargetFlow depends on.
type Store interface {
	PutSignedTxPlan(ctx context.Context, jobID int64, steps []store.TargetSignedTx) error
	SignedTxPlan(ctx context.Context, jobID int64) ([]store.TargetSignedTx, error)
	RecordTargetTxID(ctx context.Context, jobID int64, workerID string, targetTxID [32]byte) error
	RecordJobState(ctx context.Context, jobID int64, workerID string, to jobstate.State) error
	RecordFatalError(ctx context.Context, jobID int64, workerID, errMsg string) error
	PutInclusionProof(ctx context.Context, proof store.InclusionProof) error
	RecordTargetTxCost(ctx context.Context, cost store.TargetTxCost) error
	IntentEmulation(ctx context.Context, intentID [32]byte) (*store.IntentEmulation, bool, error)
	lease.Renewer
}

// HubUSDT is the narrow hub.Client surface TargetFlow needs to key the
// circuit breaker for IntentUsdtTransfer failures.
type HubUSDT interface {
	V3TronUSDT(ctx context.Context) (common.Address, error)
}

// Handlers implements the Claimed -> TronPrepared -> TronSent -> ProofBuilt
// transitions. Grounded on
// original_source/apps/solver/src/runner/tron_flow/{prepared,sent}.rs.
type Handlers struct {
	Store              Store
	Driver             target.Driver
	Preparer           Preparer
	Breaker            *safety.CircuitBreaker
	Reservations       *safety.DelegateReservation
	Hub                HubUSDT
	Telemetry          *telemetry.Telemetry
	WorkerID           string
	LeaseDuration      time.Duration
	BroadcastSem       *semaphore.Weighted
	InclusionTimeout   time.Duration
	ProofBuildDeadline time.Duration
	PollInterval       time.Duration
}

// HandleClaimed dispatches a Claimed job to either a single broadcast
// (-> TronSent) or a staged consolidation plan (-> TronPrepared).
func (h *Handlers) HandleClaimed(ctx context.Context, job store.Job) error {
	if err := h.checkBreaker(ctx, job); err != nil {
		return err
	}

	if job.IntentType == store.IntentDelegateResource && h.Reservations != nil {
		if err := h.ensureDelegateReservation(ctx, job); err != nil {
			return err
		}
	}

	if multiStep(job.IntentType) {
		steps, err := h.Preparer.PrepareSignedTxs(ctx, job)
		if err != nil {
			return fmt.Errorf("prepare signed txs: %w", err)
		}
		if err := h.Store.PutSignedTxPlan(ctx, job.JobID, steps); err != nil {
			return err
		}
		return h.Store.RecordJobState(ctx, job.JobID, h.WorkerID, jobstate.TronPrepared)
	}

	outcome, err := h.Driver.Execute(ctx, int16(job.IntentType), job.IntentSpecs)
	if err != nil {
		return joberr.NewRetryable(0, "target execute: %v", err)
	}

	if job.IntentType == store.IntentDelegateResource && h.Reservations != nil {
		if err := h.Reservations.Release(ctx, job.JobID); err != nil {
			log.Warn("release delegate reservation after execute failed", "job_id", job.JobID, "err", err)
		}
	}

	if outcome.ImmediateProof != nil {
		return h.persistProofAndTransition(ctx, job, [32]byte{}, *outcome.ImmediateProof)
	}
	if outcome.BroadcastedTx == nil {
		return joberr.NewFatal("target execute returned neither proof nor broadcast tx")
	}
	return h.Store.RecordTargetTxID(ctx, job.JobID, h.WorkerID, *outcome.BroadcastedTx)
}

// HandleTronPrepared drives the staged broadcast loop: skip steps already
// known/included, broadcast the rest gated by the shared target-broadcast
// semaphore, and wait (bounded, with lease renewal) for each step's
// inclusion before moving on.
func (h *Handlers) HandleTronPrepared(ctx context.Context, job store.Job) error {
	if err := h.checkBreaker(ctx, job); err != nil {
		return err
	}

	steps, err := h.Store.SignedTxPlan(ctx, job.JobID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return joberr.NewFatal("job %d in TronPrepared with no signed tx plan", job.JobID)
	}

	var finalTxID [32]byte
	err = lease.WithHeartbeat(ctx, h.Store, job.JobID, h.WorkerID, h.LeaseDuration, h.LeaseDuration/3, func(ctx context.Context) error {
		for _, step := range steps {
			info, included, err := h.Driver.FetchTxInfo(ctx, step.TxID)
			if err != nil {
				return joberr.NewRetryable(0, "fetch_tx_info step %d: %v", step.Step, err)
			}
			if included && info.BlockNumber > 0 {
				h.recordStepCost(ctx, job, step.TxID, info)
				finalTxID = step.TxID
				continue
			}

			known, err := h.Driver.TxIsKnown(ctx, step.TxID)
			if err != nil {
				return joberr.NewRetryable(0, "tx_is_known step %d: %v", step.Step, err)
			}
			if !known {
				if err := h.BroadcastSem.Acquire(ctx, 1); err != nil {
					return fmt.Errorf("acquire broadcast semaphore: %w", err)
				}
				broadcastErr := h.Driver.BroadcastSignedTx(ctx, step.TxBytes)
				h.BroadcastSem.Release(1)
				if broadcastErr != nil {
					return joberr.NewRetryable(0, "broadcast step %d: %v", step.Step, broadcastErr)
				}
			}
			info, err = h.waitForInclusion(ctx, step.TxID)
			if err != nil {
				return err
			}
			h.recordStepCost(ctx, job, step.TxID, info)
			finalTxID = step.TxID
		}
		return nil
	})
	if err != nil {
		return err
	}

	if job.IntentType == store.IntentDelegateResource && h.Reservations != nil {
		if err := h.Reservations.Release(ctx, job.JobID); err != nil {
			log.Warn("release delegate reservation after staged fill failed", "job_id", job.JobID, "err", err)
		}
	}

	return h.Store.RecordTargetTxID(ctx, job.JobID, h.WorkerID, finalTxID)
}

// waitForInclusion polls FetchTxInfo until the tx lands in a block (per
// prepared.rs's block_number > 0 check), bounded by InclusionTimeout.
func (h *Handlers) waitForInclusion(ctx context.Context, txid [32]byte) (*target.TxInfo, error) {
	deadline := time.Now().Add(h.InclusionTimeout)
	for {
		info, found, err := h.Driver.FetchTxInfo(ctx, txid)
		if err == nil && found && info.BlockNumber > 0 {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, joberr.NewRetryable(15*time.Second, "inclusion wait exceeded %s", h.InclusionTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.PollInterval):
		}
	}
}

// recordStepCost persists the supplemented per-broadcast cost bookkeeping
// row for an included step; failures are logged, not propagated, matching
// original_source's `let _ = ... upsert_tron_tx_costs` fire-and-forget.
func (h *Handlers) recordStepCost(ctx context.Context, job store.Job, txid [32]byte, info *target.TxInfo) {
	if info == nil {
		return
	}
	cost := store.TargetTxCost{
		JobID:          job.JobID,
		TxID:           txid,
		IntentType:     &job.IntentType,
		FeeSun:         &info.FeeSun,
		BlockNumber:    &info.BlockNumber,
		BlockTimestamp: &info.BlockTimestamp,
		ResultCode:     &info.Result,
		ResultMessage:  &info.ResultMessage,
	}
	if info.Receipt != nil {
		cost.EnergyUsageTotal = &info.Receipt.EnergyUsageTotal
		cost.NetUsage = &info.Receipt.NetUsage
		cost.EnergyFeeSun = &info.Receipt.EnergyFeeSun
		cost.NetFeeSun = &info.Receipt.NetFeeSun
	}
	if err := h.Store.RecordTargetTxCost(ctx, cost); err != nil {
		log.Warn("record target tx cost failed", "job_id", job.JobID, "txid", fmt.Sprintf("%x", txid), "err", err)
	}
}

// HandleTronSent builds the inclusion proof for the final txid, recording a
// fatal error (and a weighted circuit-breaker debit for contract-calling
// types) if the driver reports tx_failed.
func (h *Handlers) HandleTronSent(ctx context.Context, job store.Job) error {
	if job.TargetTxID == nil {
		return joberr.NewFatal("job %d in TronSent with no target_txid", job.JobID)
	}
	proof, err := h.Driver.BuildProof(ctx, *job.TargetTxID, h.ProofBuildDeadline)
	if err != nil {
		if errors.Is(err, target.ErrTxFailed) {
			return h.onTxFailed(ctx, job)
		}
		return joberr.NewRetryable(0, "build proof: %v", err)
	}
	return h.persistProofAndTransition(ctx, job, *job.TargetTxID, proof)
}

// onTxFailed debits the circuit breaker for contract-calling intent types
// (trigger-contract and USDT-transfer jobs) before moving the job to
// FailedFatal, applying a heavier weight when a prior emulation predicted
// success. Grounded on
// original_source/apps/solver/src/runner/tron_flow/sent.rs:38-87.
func (h *Handlers) onTxFailed(ctx context.Context, job store.Job) error {
	contract, selector, ok := h.breakerKeyFor(ctx, job)
	if ok && h.Breaker != nil {
		weight := int32(1)
		if h.emulationMismatch(ctx, job) {
			weight = h.Breaker.MismatchPenalty // larger weight when a prior emulation said "ok"
		}
		if err := h.Breaker.RecordFailureWeighted(ctx, contract, selector, weight); err != nil {
			log.Warn("record breaker failure after tx_failed", "job_id", job.JobID, "err", err)
		}
		if h.Telemetry != nil {
			h.Telemetry.BreakerTrip(fmt.Sprintf("%x", contract))
		}
	}
	if err := h.Store.RecordFatalError(ctx, job.JobID, h.WorkerID, "target tx_failed"); err != nil {
		return err
	}
	return nil
}

// checkBreaker skips the fill (by returning a Retryable sized to the
// remaining cooldown) when this job's (contract, selector) circuit breaker
// is tripped, per spec.md §4.3's "check cooldown_until before attempting
// fills" and §7's "subsequent jobs against the same contract are skipped for
// the cooldown window". Intent types with no breaker key (breakerKeyFor's
// ok=false) are never gated.
func (h *Handlers) checkBreaker(ctx context.Context, job store.Job) error {
	if h.Breaker == nil {
		return nil
	}
	contract, selector, ok := h.breakerKeyFor(ctx, job)
	if !ok {
		return nil
	}
	allowed, remaining, err := h.Breaker.Allowed(ctx, contract, selector)
	if err != nil {
		return joberr.NewRetryable(0, "circuit breaker check: %v", err)
	}
	if !allowed {
		return joberr.NewRetryable(remaining, "circuit breaker open for contract %x, cooldown %s remaining", contract, remaining)
	}
	return nil
}

// breakerKeyFor resolves the (contract, selector) the circuit breaker debits
// for this job's failure, or ok=false for intent types that never carry a
// target-contract call (plain TRX/resource-delegation intents).
func (h *Handlers) breakerKeyFor(ctx context.Context, job store.Job) (contract [20]byte, selector *[4]byte, ok bool) {
	switch job.IntentType {
	case store.IntentTriggerContract:
		c, sel := contractSelectorFor(job)
		return c, sel, c != ([20]byte{})
	case store.IntentUsdtTransfer:
		if h.Hub == nil {
			return [20]byte{}, nil, false
		}
		addr, err := h.Hub.V3TronUSDT(ctx)
		if err != nil || addr == (common.Address{}) {
			return [20]byte{}, nil, false
		}
		sel := usdtTransferSelector
		return [20]byte(addr), &sel, true
	default:
		return [20]byte{}, nil, false
	}
}

func (h *Handlers) persistProofAndTransition(ctx context.Context, job store.Job, txid [32]byte, proof target.InclusionProof) error {
	if txid == ([32]byte{}) && job.TargetTxID != nil {
		txid = *job.TargetTxID
	}
	storedProof := store.InclusionProof{
		TxID:      txid,
		Blocks:    proof.Blocks,
		EncodedTx: proof.EncodedTx,
		Path:      proof.Path,
		IndexDec:  fmt.Sprintf("%d", proof.Index),
	}
	if err := h.Store.PutInclusionProof(ctx, storedProof); err != nil {
		return err
	}
	return h.Store.RecordJobState(ctx, job.JobID, h.WorkerID, jobstate.ProofBuilt)
}

// emulationMismatch reports whether a prior emulation for this intent
// returned "ok" despite the on-chain execution ultimately failing, looking
// up the stored result by intent id. Grounded on
// original_source/apps/solver/src/runner/tron_flow/sent.rs:59-76's
// ctx.db.get_intent_emulation check; absence of a recorded emulation (no
// emulation run, or emulation disabled) is the conservative no-penalty case.
func (h *Handlers) emulationMismatch(ctx context.Context, job store.Job) bool {
	emu, found, err := h.Store.IntentEmulation(ctx, job.IntentID)
	if err != nil {
		log.Warn("intent emulation lookup failed", "job_id", job.JobID, "err", err)
		return false
	}
	if !found {
		return false
	}
	return emu.OK
}

// triggerContractSpec mirrors the TriggerSmartContractIntent fields the
// indexer exposes for an IntentTriggerContract job: the target contract and
// the TRC20/EVM-style calldata whose first 4 bytes are the function
// selector the circuit breaker keys on.
type triggerContractSpec struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// contractSelectorFor extracts the (contract, selector) the circuit breaker
// is keyed on for a trigger-smart-contract job by decoding job.IntentSpecs.
// Grounded on
// original_source/apps/solver/src/runner/job.rs:185-200's
// decode_trigger_contract_and_selector, adapted from ABI decoding to the
// indexer's JSON intent_specs representation of the same
// TriggerSmartContractIntent{to, callValueSun, data} struct. Returns the
// zero-value contract for specs this solver can't decode, so breaker
// accounting never panics.
func contractSelectorFor(job store.Job) ([20]byte, *[4]byte) {
	var spec triggerContractSpec
	if err := json.Unmarshal(job.IntentSpecs, &spec); err != nil || spec.To == "" {
		return [20]byte{}, nil
	}
	if !common.IsHexAddress(spec.To) {
		return [20]byte{}, nil
	}
	contract := [20]byte(common.HexToAddress(spec.To))

	data := common.FromHex(spec.Data)
	if len(data) < 4 {
		return contract, nil
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	return contract, &selector
}

// sunAmount tolerates a sun-denominated intent field arriving as either a
// JSON number or a JSON string, matching
// original_source/apps/solver/src/indexer.rs::de_string_or_number (the same
// looseness indexer.Amount covers for escrow_amount).
type sunAmount struct {
	Value string
}

func (a *sunAmount) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		a.Value = asString
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("sun amount neither string nor number: %w", err)
	}
	a.Value = asNumber.String()
	return nil
}

// delegateResourceSpec mirrors the DelegateResourceIntent fields the indexer
// exposes for an IntentDelegateResource job's intent_specs: the resource
// kind to delegate and the sun-denominated amount to stake. Grounded on
// original_source/apps/solver/src/tron_backend.rs's DelegateResourceIntent
// sol! struct (receiver, resource, balanceSun, lockPeriod).
type delegateResourceSpec struct {
	Receiver   string    `json:"receiver"`
	Resource   uint8     `json:"resource"`
	BalanceSun sunAmount `json:"balance_sun"`
	LockPeriod sunAmount `json:"lock_period"`
}

// delegateResourceName maps DelegateResourceIntent.resource to the resource
// kind string safety.OwnerCapacities and DelegateReservation key on.
// Grounded on original_source/apps/solver/src/tron_backend/grpc.rs's match
// on intent.resource (0=Bandwidth, 1=Energy, 2=TronPower).
func delegateResourceName(code uint8) (string, error) {
	switch code {
	case 0:
		return "bandwidth", nil
	case 1:
		return "energy", nil
	case 2:
		return "tron_power", nil
	default:
		return "", fmt.Errorf("unknown delegate resource code %d", code)
	}
}

// saturatingInt64 clamps a non-negative big.Int to int64, matching the Rust
// original's `i64::try_from(intent.balanceSun).unwrap_or(i64::MAX)` so an
// out-of-range on-chain amount degrades to "needs everything" rather than
// wrapping into a negative or panicking.
func saturatingInt64(v *big.Int) int64 {
	if v.Sign() < 0 {
		return 0
	}
	maxInt64 := big.NewInt(0).SetInt64(math.MaxInt64)
	if v.Cmp(maxInt64) > 0 {
		return math.MaxInt64
	}
	return v.Int64()
}

// ensureDelegateReservation decodes job's DelegateResourceIntent specs and
// pre-commits solver-owned stake to the job before Execute broadcasts,
// mirroring original_source/apps/solver/src/runner/job.rs::
// ensure_delegate_reservation, which process_claimed_state calls ahead of
// signing. A delegate_capacity_insufficient failure is fatal: no owner has
// headroom right now, and retrying the same job can't change that without
// operator action (adding capacity, or another job's reservation expiring).
func (h *Handlers) ensureDelegateReservation(ctx context.Context, job store.Job) error {
	var spec delegateResourceSpec
	if err := json.Unmarshal(job.IntentSpecs, &spec); err != nil {
		return joberr.NewFatal("decode delegate resource specs: %v", err)
	}
	resource, err := delegateResourceName(spec.Resource)
	if err != nil {
		return joberr.NewFatal("%v", err)
	}
	needed, ok := new(big.Int).SetString(spec.BalanceSun.Value, 10)
	if !ok {
		return joberr.NewFatal("decode delegate balance_sun %q", spec.BalanceSun.Value)
	}

	if _, err := h.Reservations.Ensure(ctx, job.JobID, resource, saturatingInt64(needed)); err != nil {
		if h.Telemetry != nil && strings.Contains(err.Error(), "delegate_capacity_insufficient") {
			h.Telemetry.DelegateReservationConflict()
		}
		return err
	}
	return nil
}
