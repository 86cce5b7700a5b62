// Package targetflow implements the Claimed→TronPrepared→TronSent→ProofBuilt
// state handlers: broadcasting signed transactions against the target-chain
// driver, waiting for inclusion, building proofs, and the pure consolidation
// planners used by multi-step fill types. Grounded on
// original_source/apps/solver/src/runner/tron_flow/{prepared,sent}.rs and
// original_source/apps/solver/src/tron_backend/planner.rs.
package targetflow

import "sort"

// TrxTransfer is a single consolidation leg: move amount sun from the
// account at DonorIndex into the chosen executor account.
type TrxTransfer struct {
	DonorIndex int
	AmountSun  int64
}

// TrxConsolidationPlan mirrors original_source's TrxConsolidationPlan.
type TrxConsolidationPlan struct {
	ExecutorIndex int
	Transfers     []TrxTransfer
}

// PlanTrx produces a consolidation plan over signed 64-bit sun balances. It
// is pure and total: no I/O, and it returns (nil, false) rather than an
// error when no feasible plan exists.
func PlanTrx(balancesSun []int64, requiredSun int64, maxPreTxs int) (*TrxConsolidationPlan, bool) {
	if requiredSun <= 0 {
		return &TrxConsolidationPlan{ExecutorIndex: 0, Transfers: nil}, true
	}
	if len(balancesSun) == 0 {
		return nil, false
	}

	executorIndex := 0
	executorBalance := balancesSun[0]
	for i, b := range balancesSun {
		if b > executorBalance {
			executorIndex, executorBalance = i, b
		}
	}

	if executorBalance >= requiredSun {
		return &TrxConsolidationPlan{ExecutorIndex: executorIndex, Transfers: nil}, true
	}
	if maxPreTxs == 0 {
		return nil, false
	}

	var total int64
	for _, b := range balancesSun {
		total += b
	}
	if total < requiredSun {
		return nil, false
	}

	deficit := requiredSun - executorBalance
	if deficit < 0 {
		deficit = 0
	}

	type donor struct {
		idx int
		bal int64
	}
	donors := make([]donor, 0, len(balancesSun)-1)
	for i, b := range balancesSun {
		if i == executorIndex {
			continue
		}
		donors = append(donors, donor{i, b})
	}
	sort.SliceStable(donors, func(i, j int) bool { return donors[i].bal > donors[j].bal })

	var transfers []TrxTransfer
	for _, d := range donors {
		if deficit <= 0 || len(transfers) >= maxPreTxs {
			break
		}
		if d.bal <= 0 {
			continue
		}
		amt := d.bal
		if deficit < amt {
			amt = deficit
		}
		if amt <= 0 {
			continue
		}
		transfers = append(transfers, TrxTransfer{DonorIndex: d.idx, AmountSun: amt})
		deficit -= amt
	}

	if deficit > 0 {
		return nil, false
	}
	return &TrxConsolidationPlan{ExecutorIndex: executorIndex, Transfers: transfers}, true
}

// Trc20Transfer is a single consolidation leg over unsigned token balances.
type Trc20Transfer struct {
	DonorIndex int
	Amount     uint64
}

type Trc20ConsolidationPlan struct {
	ExecutorIndex int
	Transfers     []Trc20Transfer
}

// PlanTrc20 is PlanTrx's counterpart over unsigned 64-bit token balances
// (e.g. TRC-20 USDT), with a stable ascending-index tiebreak among donors of
// equal balance.
func PlanTrc20(balances []uint64, required uint64, maxPreTxs int) (*Trc20ConsolidationPlan, bool) {
	if required == 0 {
		return &Trc20ConsolidationPlan{ExecutorIndex: 0, Transfers: nil}, true
	}
	if len(balances) == 0 {
		return nil, false
	}

	executorIndex := 0
	executorBalance := balances[0]
	for i, b := range balances {
		if b > executorBalance {
			executorIndex, executorBalance = i, b
		}
	}

	if executorBalance >= required {
		return &Trc20ConsolidationPlan{ExecutorIndex: executorIndex, Transfers: nil}, true
	}
	if maxPreTxs == 0 {
		return nil, false
	}

	var total uint64
	for _, b := range balances {
		total += b
	}
	if total < required {
		return nil, false
	}

	deficit := required - executorBalance

	type donor struct {
		idx int
		bal uint64
	}
	donors := make([]donor, 0, len(balances)-1)
	for i, b := range balances {
		if i == executorIndex {
			continue
		}
		donors = append(donors, donor{i, b})
	}
	sort.Slice(donors, func(i, j int) bool {
		if donors[i].bal != donors[j].bal {
			return donors[i].bal > donors[j].bal
		}
		return donors[i].idx < donors[j].idx
	})

	var transfers []Trc20Transfer
	for _, d := range donors {
		if deficit == 0 || len(transfers) >= maxPreTxs {
			break
		}
		if d.bal == 0 {
			continue
		}
		amt := d.bal
		if deficit < amt {
			amt = deficit
		}
		if amt == 0 {
			continue
		}
		transfers = append(transfers, Trc20Transfer{DonorIndex: d.idx, Amount: amt})
		deficit -= amt
	}

	if deficit != 0 {
		return nil, false
	}
	return &Trc20ConsolidationPlan{ExecutorIndex: executorIndex, Transfers: transfers}, true
}
