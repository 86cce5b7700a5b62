// Package target abstracts the target-chain driver collaborator spec.md §6
// names but leaves unspecified: execute_<type>, build_proof, tx_is_known,
// fetch_tx_info, broadcast_signed_tx. Grounded on
// original_source/apps/solver/src/tron_backend.rs's TronExecution/TronBackend
// split between an immediate-proof mock path and a real broadcast path, and
// original_source/apps/solver/src/tron_backend/grpc/{fetch,proof}.rs for the
// TxInfo/receipt field shape. The real implementation here talks to an
// out-of-process driver service over gRPC rather than embedding a Tron
// client directly, since no Go Tron SDK is present anywhere in the example
// corpus; internal/hub and internal/store already lean on
// github.com/ethereum/go-ethereum and github.com/lib/pq for their own
// chain/storage concerns, so Driver keeps that same "narrow interface, real
// client behind it" shape.
package target

import (
	"context"
	"errors"
	"time"
)

// ErrTxFailed is returned by BuildProof when the target-chain transaction
// confirmed with a failure result code (out-of-energy, reverted, etc.)
// rather than timing out or lacking finality yet. Handlers distinguish this
// from a plain retryable error to debit the circuit breaker and move the job
// to FailedFatal, per spec.md §4.5.
var ErrTxFailed = errors.New("target: tx_failed")

// ExecuteOutcome is the result of a single-broadcast Execute call: either
// the driver resolved the fill synchronously and already has a proof ready
// (the mock-reader path in original_source's TronBackend::execute_*), or it
// broadcast a transaction whose inclusion/proof must be chased separately.
// Exactly one of the two fields is set.
type ExecuteOutcome struct {
	ImmediateProof *InclusionProof
	BroadcastedTx  *[32]byte
}

// TxReceipt carries the resource-accounting fields of a target-chain
// transaction receipt, mirroring tron::protocol::TransactionInfo.receipt as
// read in original_source/apps/solver/src/tron_backend/grpc/fetch.rs.
type TxReceipt struct {
	EnergyUsageTotal int64
	NetUsage         int64
	EnergyFeeSun     int64
	NetFeeSun        int64
}

// TxInfo is the driver's view of a broadcast transaction's on-chain status,
// returned by FetchTxInfo. BlockNumber is zero until the tx is included.
type TxInfo struct {
	BlockNumber    int64
	BlockTimestamp int64
	FeeSun         int64
	Result         int32
	ResultMessage  string
	Receipt        *TxReceipt
}

// InclusionProof is the block-header-window Merkle witness spec.md §3 stores
// per txid, as returned fresh by BuildProof before TargetFlow persists it.
type InclusionProof struct {
	Blocks    [][]byte
	EncodedTx []byte
	Path      [][]byte
	Index     uint64
}

// Driver is the narrow target-chain collaborator surface TargetFlow depends
// on. specs is the job's opaque IntentSpecs blob; intentType is the job's
// store.IntentType encoded as int16, so this package does not import store.
type Driver interface {
	// Execute attempts a one-shot fill for intent types that never need a
	// consolidation plan. It either resolves synchronously with a proof, or
	// returns the broadcasted txid for TargetFlow to chase inclusion on.
	Execute(ctx context.Context, intentType int16, specs []byte) (ExecuteOutcome, error)

	// BroadcastSignedTx submits a pre-signed transaction. A "duplicate"
	// response from the target node is treated as success by the
	// implementation, per original_source/apps/solver/src/tron_backend/grpc/proof.rs.
	BroadcastSignedTx(ctx context.Context, txBytes []byte) error

	// TxIsKnown reports whether the target chain has seen txid at all
	// (pending or included), used to skip re-broadcasting a still-pending
	// step after a crash.
	TxIsKnown(ctx context.Context, txid [32]byte) (bool, error)

	// FetchTxInfo returns the current on-chain status of txid. found=false
	// means the chain has no record of it yet (not the same as "known but
	// pending": a just-broadcast tx can be known without info being
	// fetchable, depending on node propagation).
	FetchTxInfo(ctx context.Context, txid [32]byte) (info *TxInfo, found bool, err error)

	// BuildProof builds the inclusion proof for an already-included txid,
	// retrying internally (bounded by deadline) until the tx reaches the
	// configured finality depth. Returns ErrTxFailed, never a bare error, if
	// the tx confirmed with a failure result code.
	BuildProof(ctx context.Context, txid [32]byte, deadline time.Duration) (InclusionProof, error)
}
