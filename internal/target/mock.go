package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// MockDriver is an in-memory scripted Driver for tests and for
// TargetConfig.Mode="mock" boot-time wiring (the dev/e2e harness path),
// standing in for the reader-contract mock TronBackend::execute_* resolves
// against in original_source. Every method is safe for concurrent use.
type MockDriver struct {
	mu sync.Mutex

	broadcasted map[[32]byte][]byte
	included    map[[32]byte]TxInfo
	failed      map[[32]byte]bool

	// ImmediateExecute, when true, makes Execute resolve every call with a
	// synthesized ImmediateProof rather than a BroadcastedTx, mirroring the
	// Mock TronMode's reader-contract path where every execute_* call
	// resolves synchronously. Defaults to true.
	ImmediateExecute bool
}

// NewMockDriver returns a MockDriver with no transactions known yet and
// ImmediateExecute enabled.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		broadcasted:      make(map[[32]byte][]byte),
		included:         make(map[[32]byte]TxInfo),
		failed:           make(map[[32]byte]bool),
		ImmediateExecute: true,
	}
}

// Execute synthesizes a deterministic txid from (intentType, specs) and
// either resolves immediately with a proof or reports it broadcasted,
// depending on ImmediateExecute.
func (m *MockDriver) Execute(ctx context.Context, intentType int16, specs []byte) (ExecuteOutcome, error) {
	txid := syntheticTxID(intentType, specs)
	m.mu.Lock()
	m.included[txid] = TxInfo{BlockNumber: 1, BlockTimestamp: 1}
	m.mu.Unlock()

	if m.ImmediateExecute {
		return ExecuteOutcome{ImmediateProof: emptyProof(txid)}, nil
	}
	return ExecuteOutcome{BroadcastedTx: &txid}, nil
}

// BroadcastSignedTx records tx_bytes as seen; a second broadcast of the same
// bytes is treated as the "duplicate" success case the real driver handles.
func (m *MockDriver) BroadcastSignedTx(ctx context.Context, txBytes []byte) error {
	txid := crypto.Keccak256Hash(txBytes)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasted[[32]byte(txid)] = txBytes
	m.included[[32]byte(txid)] = TxInfo{BlockNumber: 1, BlockTimestamp: 1}
	return nil
}

// TxIsKnown reports whether txid has been broadcast or marked included by a
// prior Execute/BroadcastSignedTx/MarkIncluded call.
func (m *MockDriver) TxIsKnown(ctx context.Context, txid [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.broadcasted[txid]; ok {
		return true, nil
	}
	_, ok := m.included[txid]
	return ok, nil
}

// FetchTxInfo returns the recorded TxInfo for txid, or found=false if the
// driver has never seen it.
func (m *MockDriver) FetchTxInfo(ctx context.Context, txid [32]byte) (*TxInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.included[txid]
	if !ok {
		return nil, false, nil
	}
	out := info
	return &out, true, nil
}

// BuildProof returns a synthesized proof for an included txid, or
// ErrTxFailed if the txid was marked failed via MarkFailed.
func (m *MockDriver) BuildProof(ctx context.Context, txid [32]byte, deadline time.Duration) (InclusionProof, error) {
	m.mu.Lock()
	failed := m.failed[txid]
	_, known := m.included[txid]
	m.mu.Unlock()

	if failed {
		return InclusionProof{}, ErrTxFailed
	}
	if !known {
		return InclusionProof{}, fmt.Errorf("target: mock driver has no record of txid %x", txid)
	}
	return *emptyProof(txid), nil
}

// MarkFailed arranges for a subsequent BuildProof(txid) to return
// ErrTxFailed, simulating an on-chain revert/out-of-energy confirmation.
func (m *MockDriver) MarkFailed(txid [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.included[txid] = TxInfo{BlockNumber: 1, BlockTimestamp: 1, Result: 1, ResultMessage: "REVERT"}
	m.failed[txid] = true
}

// MarkIncluded lets a test pre-seed a txid as known/included (e.g. to
// satisfy TxIsKnown for a step whose broadcast the test never calls
// BroadcastSignedTx for directly).
func (m *MockDriver) MarkIncluded(txid [32]byte, info TxInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.included[txid] = info
}

func syntheticTxID(intentType int16, specs []byte) [32]byte {
	buf := make([]byte, 0, len(specs)+2)
	buf = append(buf, byte(intentType), byte(intentType>>8))
	buf = append(buf, specs...)
	return crypto.Keccak256Hash(buf)
}

func emptyProof(txid [32]byte) *InclusionProof {
	return &InclusionProof{
		Blocks:    nil,
		EncodedTx: txid[:],
		Path:      nil,
		Index:     0,
	}
}
