package target

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestMockDriverExecuteImmediateProof(t *testing.T) {
	m := NewMockDriver()
	outcome, err := m.Execute(context.Background(), 0, []byte("specs"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.ImmediateProof == nil || outcome.BroadcastedTx != nil {
		t.Fatalf("expected ImmediateProof outcome, got %+v", outcome)
	}
}

func TestMockDriverExecuteBroadcasted(t *testing.T) {
	m := NewMockDriver()
	m.ImmediateExecute = false
	outcome, err := m.Execute(context.Background(), 1, []byte("specs"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.BroadcastedTx == nil || outcome.ImmediateProof != nil {
		t.Fatalf("expected BroadcastedTx outcome, got %+v", outcome)
	}
	known, err := m.TxIsKnown(context.Background(), *outcome.BroadcastedTx)
	if err != nil || !known {
		t.Fatalf("TxIsKnown = %v, %v, want true, nil", known, err)
	}
}

func TestMockDriverBroadcastThenBuildProof(t *testing.T) {
	m := NewMockDriver()
	txBytes := []byte("signed-tx-bytes")
	if err := m.BroadcastSignedTx(context.Background(), txBytes); err != nil {
		t.Fatalf("BroadcastSignedTx: %v", err)
	}

	known, err := m.TxIsKnown(context.Background(), syntheticTxidFromBytes(txBytes))
	if err != nil || !known {
		t.Fatalf("TxIsKnown = %v, %v, want true, nil", known, err)
	}

	info, found, err := m.FetchTxInfo(context.Background(), syntheticTxidFromBytes(txBytes))
	if err != nil || !found {
		t.Fatalf("FetchTxInfo: found=%v err=%v", found, err)
	}
	if info.BlockNumber == 0 {
		t.Fatalf("expected included tx info, got %+v", info)
	}

	proof, err := m.BuildProof(context.Background(), syntheticTxidFromBytes(txBytes), time.Second)
	if err != nil {
		t.Fatalf("BuildProof: %v", err)
	}
	if len(proof.EncodedTx) != 32 {
		t.Fatalf("expected 32-byte EncodedTx placeholder, got %d bytes", len(proof.EncodedTx))
	}
}

func TestMockDriverMarkFailedSurfacesErrTxFailed(t *testing.T) {
	m := NewMockDriver()
	var txid [32]byte
	txid[0] = 0xAB
	m.MarkFailed(txid)

	_, err := m.BuildProof(context.Background(), txid, time.Second)
	if !errors.Is(err, ErrTxFailed) {
		t.Fatalf("BuildProof error = %v, want ErrTxFailed", err)
	}
}

func TestMockDriverBuildProofUnknownTxid(t *testing.T) {
	m := NewMockDriver()
	var txid [32]byte
	txid[0] = 0xCD
	if _, err := m.BuildProof(context.Background(), txid, time.Second); err == nil {
		t.Fatal("expected error for unknown txid")
	}
}

func syntheticTxidFromBytes(b []byte) [32]byte {
	return [32]byte(crypto.Keccak256Hash(b))
}
