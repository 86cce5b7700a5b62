package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PutSignedTxPlan persists the full ordered list of pre-signed target-chain
// transactions for a job (Claimed -> TronPrepared), replacing any prior plan
// so a retried prepare step is idempotent.
func (s *DurableStore) PutSignedTxPlan(ctx context.Context, jobID int64, steps []TargetSignedTx) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put signed tx plan: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from solver.target_signed_txs where job_id=$1`, jobID); err != nil {
		return fmt.Errorf("clear prior signed tx plan: %w", err)
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, `
			insert into solver.target_signed_txs (job_id, step, txid, tx_bytes, fee_limit, energy_required, size_bytes)
			values ($1, $2, $3, $4, $5, $6, $7)`,
			jobID, step.Step, step.TxID[:], step.TxBytes, step.FeeLimit, step.EnergyRequired, step.SizeBytes); err != nil {
			return fmt.Errorf("insert signed tx step %d: %w", step.Step, err)
		}
	}
	return tx.Commit()
}

// SignedTxPlan returns the ordered signed-tx plan for a job, if one exists.
func (s *DurableStore) SignedTxPlan(ctx context.Context, jobID int64) ([]TargetSignedTx, error) {
	rows, err := s.db.QueryContext(ctx, `
		select job_id, step, txid, tx_bytes, fee_limit, energy_required, size_bytes
		from solver.target_signed_txs where job_id=$1 order by step asc`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query signed tx plan: %w", err)
	}
	defer rows.Close()

	var out []TargetSignedTx
	for rows.Next() {
		var step TargetSignedTx
		var txid []byte
		if err := rows.Scan(&step.JobID, &step.Step, &txid, &step.TxBytes, &step.FeeLimit, &step.EnergyRequired, &step.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan signed tx step: %w", err)
		}
		step.TxID = to32(txid)
		out = append(out, step)
	}
	return out, rows.Err()
}

// PutInclusionProof persists a proof keyed by target-chain txid; writes are
// idempotent since the same final txid may be proved more than once across
// the ProofBuilt -> ProofBuilt self-edge.
func (s *DurableStore) PutInclusionProof(ctx context.Context, proof InclusionProof) error {
	_, err := s.db.ExecContext(ctx, `
		insert into solver.inclusion_proofs (txid, blocks, encoded_tx, proof_path, index_dec)
		values ($1, $2, $3, $4, $5)
		on conflict (txid) do update set blocks=excluded.blocks, encoded_tx=excluded.encoded_tx,
			proof_path=excluded.proof_path, index_dec=excluded.index_dec, written_at=now()`,
		proof.TxID[:], pq.Array(proof.Blocks), proof.EncodedTx, pq.Array(proof.Path), proof.IndexDec)
	if err != nil {
		return fmt.Errorf("put inclusion proof: %w", err)
	}
	return nil
}

func (s *DurableStore) InclusionProofFor(ctx context.Context, txid [32]byte) (*InclusionProof, bool, error) {
	var proof InclusionProof
	var blocks, path [][]byte
	row := s.db.QueryRowContext(ctx, `
		select txid, blocks, encoded_tx, proof_path, index_dec, written_at
		from solver.inclusion_proofs where txid=$1`, txid[:])
	var txidCol []byte
	err := row.Scan(&txidCol, pq.Array(&blocks), &proof.EncodedTx, pq.Array(&path), &proof.IndexDec, &proof.WrittenAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query inclusion proof: %w", err)
	}
	proof.TxID = to32(txidCol)
	proof.Blocks, proof.Path = blocks, path
	return &proof, true, nil
}

// RecordTargetTxCost persists the supplemented per-broadcast cost
// bookkeeping row described in SPEC_FULL.md §11.
func (s *DurableStore) RecordTargetTxCost(ctx context.Context, cost TargetTxCost) error {
	_, err := s.db.ExecContext(ctx, `
		insert into solver.target_tx_costs
			(job_id, txid, intent_type, fee_sun, energy_usage_total, net_usage, energy_fee_sun, net_fee_sun,
			 block_number, block_timestamp, result_code, result_message)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		on conflict (job_id, txid) do update set
			fee_sun=excluded.fee_sun, energy_usage_total=excluded.energy_usage_total, net_usage=excluded.net_usage,
			energy_fee_sun=excluded.energy_fee_sun, net_fee_sun=excluded.net_fee_sun,
			block_number=excluded.block_number, block_timestamp=excluded.block_timestamp,
			result_code=excluded.result_code, result_message=excluded.result_message`,
		cost.JobID, cost.TxID[:], cost.IntentType, cost.FeeSun, cost.EnergyUsageTotal, cost.NetUsage,
		cost.EnergyFeeSun, cost.NetFeeSun, cost.BlockNumber, cost.BlockTimestamp, cost.ResultCode, cost.ResultMessage)
	if err != nil {
		return fmt.Errorf("record target tx cost: %w", err)
	}
	return nil
}
