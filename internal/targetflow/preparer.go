package targetflow

import (
	"context"
	"fmt"

	"github.com/ultrasoundlabs/untron-solver/internal/joberr"
	"github.com/ultrasoundlabs/untron-solver/internal/store"
)

// BalanceSource reads the current per-account balances a consolidation plan
// is computed against, for the accounts in ConsolidationPreparer.Accounts
// (the solver's ordered list of funding accounts).
type BalanceSource interface {
	TrxBalancesSun(ctx context.Context, accounts [][21]byte) ([]int64, error)
	Trc20Balances(ctx context.Context, token [21]byte, accounts [][21]byte) ([]uint64, error)
}

// TxSigner produces a signed, broadcast-ready transaction for one planned
// leg (either a consolidation transfer or the final fill).
type TxSigner interface {
	SignTransfer(ctx context.Context, from, to [21]byte, amount uint64, token *[21]byte) (txid [32]byte, txBytes []byte, feeLimit, energyRequired, sizeBytes int64, err error)
	SignFinal(ctx context.Context, job store.Job, executor [21]byte) (txid [32]byte, txBytes []byte, feeLimit, energyRequired, sizeBytes int64, err error)
}

// ConsolidationPreparer implements Preparer for multi-step jobs, using
// PlanTrx/PlanTrc20 to decide which accounts fund the executor before the
// final fill is signed.
type ConsolidationPreparer struct {
	Accounts    [][21]byte
	MaxPreTxs   int
	Balances    BalanceSource
	Signer      TxSigner
	TrxToken    *[21]byte // nil for native TRX, set for TRC-20 fills
	RequiredFor func(job store.Job) uint64
}

func (p *ConsolidationPreparer) PrepareSignedTxs(ctx context.Context, job store.Job) ([]store.TargetSignedTx, error) {
	required := p.RequiredFor(job)

	var executorIdx int
	var transferDonors []int
	var transferAmounts []uint64

	if p.TrxToken == nil {
		balances, err := p.Balances.TrxBalancesSun(ctx, p.Accounts)
		if err != nil {
			return nil, fmt.Errorf("read trx balances: %w", err)
		}
		plan, ok := PlanTrx(balances, int64(required), p.MaxPreTxs)
		if !ok {
			return nil, joberr.NewFatal("no feasible trx consolidation plan for job %d (required=%d)", job.JobID, required)
		}
		executorIdx = plan.ExecutorIndex
		for _, t := range plan.Transfers {
			transferDonors = append(transferDonors, t.DonorIndex)
			transferAmounts = append(transferAmounts, uint64(t.AmountSun))
		}
	} else {
		balances, err := p.Balances.Trc20Balances(ctx, *p.TrxToken, p.Accounts)
		if err != nil {
			return nil, fmt.Errorf("read trc20 balances: %w", err)
		}
		plan, ok := PlanTrc20(balances, required, p.MaxPreTxs)
		if !ok {
			return nil, joberr.NewFatal("no feasible trc20 consolidation plan for job %d (required=%d)", job.JobID, required)
		}
		executorIdx = plan.ExecutorIndex
		for _, t := range plan.Transfers {
			transferDonors = append(transferDonors, t.DonorIndex)
			transferAmounts = append(transferAmounts, t.Amount)
		}
	}

	executor := p.Accounts[executorIdx]

	var steps []store.TargetSignedTx
	for i := range transferDonors {
		from := p.Accounts[transferDonors[i]]
		txid, txBytes, feeLimit, energyRequired, sizeBytes, err := p.Signer.SignTransfer(ctx, from, executor, transferAmounts[i], p.TrxToken)
		if err != nil {
			return nil, fmt.Errorf("sign consolidation transfer %d: %w", i, err)
		}
		steps = append(steps, store.TargetSignedTx{
			JobID: job.JobID, Step: int32(i), TxID: txid, TxBytes: txBytes,
			FeeLimit: feeLimit, EnergyRequired: energyRequired, SizeBytes: sizeBytes,
		})
	}

	finalTxID, finalBytes, feeLimit, energyRequired, sizeBytes, err := p.Signer.SignFinal(ctx, job, executor)
	if err != nil {
		return nil, fmt.Errorf("sign final fill: %w", err)
	}
	steps = append(steps, store.TargetSignedTx{
		JobID: job.JobID, Step: int32(len(steps)), TxID: finalTxID, TxBytes: finalBytes,
		FeeLimit: feeLimit, EnergyRequired: energyRequired, SizeBytes: sizeBytes,
	})

	return steps, nil
}
