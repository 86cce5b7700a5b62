package store

import (
	"time"

	"github.com/ultrasoundlabs/untron-solver/internal/jobstate"
)

// IntentType tags which handler family a job belongs to. Dispatch is a flat
// switch at each handler entry, per spec.md §9 ("no polymorphic hierarchy is
// required").
type IntentType int16

const (
	IntentTrxTransfer      IntentType = 0
	IntentUsdtTransfer     IntentType = 1
	IntentDelegateResource IntentType = 2
	IntentTriggerContract  IntentType = 3
)

func (t IntentType) String() string {
	switch t {
	case IntentTrxTransfer:
		return "trx_transfer"
	case IntentUsdtTransfer:
		return "usdt_transfer"
	case IntentDelegateResource:
		return "delegate_resource"
	case IntentTriggerContract:
		return "trigger_smart_contract"
	default:
		return "unknown"
	}
}

// Job mirrors the `solver.jobs` row, one per intent id.
type Job struct {
	JobID        int64
	IntentID     [32]byte
	IntentType   IntentType
	IntentSpecs  []byte
	Deadline     int64
	State        jobstate.State
	Attempts     int64
	LeasedBy     *string
	LeaseUntil   *time.Time
	NextRetryAt  time.Time
	LastError    *string
	ClaimTxHash  *[32]byte
	ProveTxHash  *[32]byte
	TargetTxID   *[32]byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TargetSignedTx is one step of an ordered pre-signed target-chain
// transaction plan for a job (consolidation pre-transactions + final fill).
type TargetSignedTx struct {
	JobID          int64
	Step           int32
	TxID           [32]byte
	TxBytes        []byte
	FeeLimit       int64
	EnergyRequired int64
	SizeBytes      int64
}

// InclusionProof is keyed by target-chain txid, written once after finality.
type InclusionProof struct {
	TxID       [32]byte
	Blocks     [][]byte
	EncodedTx  []byte
	Path       [][]byte
	IndexDec   string
	WrittenAt  time.Time
}

// TargetTxCost is the supplemented per-broadcast cost bookkeeping row, see
// SPEC_FULL.md §11 and original_source's TronTxCostsRow.
type TargetTxCost struct {
	JobID            int64
	TxID             [32]byte
	IntentType       *IntentType
	FeeSun           *int64
	EnergyUsageTotal *int64
	NetUsage         *int64
	EnergyFeeSun     *int64
	NetFeeSun        *int64
	BlockNumber      *int64
	BlockTimestamp   *int64
	ResultCode       *int32
	ResultMessage    *string
}

// CircuitBreaker is keyed by (contract, optional selector).
type CircuitBreaker struct {
	Contract     [20]byte
	Selector     *[4]byte
	FailCount    int64
	CooldownUntil time.Time
}

// RateCounter is a sliding per-minute counter keyed by a bucket string.
type RateCounter struct {
	Key         string
	WindowStart time.Time
	Count       int64
}

// GlobalPause is the singleton pause flag.
type GlobalPause struct {
	PauseUntil time.Time
	Reason     string
}

// DelegateReservation pre-commits solver-owned staked capacity to a job.
type DelegateReservation struct {
	JobID        int64
	OwnerAddress [21]byte
	Resource     string
	ReservedSun  int64
	ExpiresAt    time.Time
}

// HubUserOpKind distinguishes the two bundler submissions a job makes.
type HubUserOpKind string

const (
	UserOpClaim HubUserOpKind = "claim"
	UserOpProve HubUserOpKind = "prove"
)

// HubUserOpState tracks AA-mode bundler submission lifecycle.
type HubUserOpState string

const (
	UserOpPending   HubUserOpState = "pending"
	UserOpSubmitted HubUserOpState = "submitted"
	UserOpIncluded  HubUserOpState = "included"
	UserOpFailed    HubUserOpState = "failed"
)

// HubUserOp de-duplicates bundler submissions after crashes and records the
// EntryPoint-log fallback receipt when the bundler's own receipt is null.
// Keyed on intent ID rather than job ID: the hub.Client surface it backs is
// intent-scoped, and a job is always reachable from its intent_id.
type HubUserOp struct {
	IntentID    [32]byte
	Kind        HubUserOpKind
	State       HubUserOpState
	UserOpHash  [32]byte
	TxHash      *[32]byte
	BlockNumber *int64
	Success     *bool
	Receipt     []byte // JSON blob; "source"/"costSource" both accepted on read.
}
