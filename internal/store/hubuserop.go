package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertHubUserOp records a bundler submission (or updates its state and
// fallback receipt), keyed on (intent_id, kind), so a worker retrying after
// a crash mid-submit recognizes a userop it already sent rather than
// double-submitting it to the bundler.
func (s *DurableStore) UpsertHubUserOp(ctx context.Context, op HubUserOp) error {
	var txHash []byte
	if op.TxHash != nil {
		txHash = op.TxHash[:]
	}
	_, err := s.db.ExecContext(ctx, `
		insert into solver.hub_userops (intent_id, kind, state, userop_hash, tx_hash, block_number, success, receipt)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (intent_id, kind) do update set
			state=excluded.state, userop_hash=excluded.userop_hash, tx_hash=excluded.tx_hash,
			block_number=excluded.block_number, success=excluded.success, receipt=excluded.receipt`,
		op.IntentID[:], op.Kind, op.State, op.UserOpHash[:], txHash, op.BlockNumber, op.Success, op.Receipt)
	if err != nil {
		return fmt.Errorf("upsert hub userop: %w", err)
	}
	return nil
}

// HubUserOpFor returns the previously-recorded submission for an
// (intent, kind) pair, if any, so a caller can skip re-submitting a userop
// still pending at the bundler.
func (s *DurableStore) HubUserOpFor(ctx context.Context, intentID [32]byte, kind HubUserOpKind) (*HubUserOp, bool, error) {
	var op HubUserOp
	var intentCol, userOpHashCol, txHash []byte
	row := s.db.QueryRowContext(ctx, `
		select intent_id, kind, state, userop_hash, tx_hash, block_number, success, receipt
		from solver.hub_userops where intent_id=$1 and kind=$2`, intentID[:], kind)
	err := row.Scan(&intentCol, &op.Kind, &op.State, &userOpHashCol, &txHash, &op.BlockNumber, &op.Success, &op.Receipt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query hub userop: %w", err)
	}
	op.IntentID = to32(intentCol)
	op.UserOpHash = to32(userOpHashCol)
	if txHash != nil {
		h := to32(txHash)
		op.TxHash = &h
	}
	return &op, true, nil
}
