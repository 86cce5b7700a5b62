package targetflow

import "testing"

func TestPlanTrxPicksBestExecutorAndMinimalTransfers(t *testing.T) {
	plan, ok := PlanTrx([]int64{10, 5, 100}, 115, 2)
	if !ok {
		t.Fatal("expected a feasible plan")
	}
	if plan.ExecutorIndex != 2 {
		t.Fatalf("executor index = %d, want 2", plan.ExecutorIndex)
	}
	want := []TrxTransfer{{DonorIndex: 0, AmountSun: 10}, {DonorIndex: 1, AmountSun: 5}}
	if len(plan.Transfers) != len(want) {
		t.Fatalf("transfers = %+v, want %+v", plan.Transfers, want)
	}
	for i := range want {
		if plan.Transfers[i] != want[i] {
			t.Fatalf("transfers[%d] = %+v, want %+v", i, plan.Transfers[i], want[i])
		}
	}
}

func TestPlanTrxRespectsMaxPreTxs(t *testing.T) {
	if _, ok := PlanTrx([]int64{10, 5, 100}, 115, 1); ok {
		t.Fatal("expected no feasible plan when max_pre_txs is too small")
	}
}

func TestPlanTrxExecutorAlreadyCovers(t *testing.T) {
	plan, ok := PlanTrx([]int64{10, 5, 100}, 90, 2)
	if !ok {
		t.Fatal("expected a feasible plan")
	}
	if plan.ExecutorIndex != 2 || len(plan.Transfers) != 0 {
		t.Fatalf("expected zero-transfer plan from executor 2, got %+v", plan)
	}
}

func TestPlanTrxInfeasibleTotal(t *testing.T) {
	if _, ok := PlanTrx([]int64{10, 5, 100}, 1000, 3); ok {
		t.Fatal("expected infeasible plan when total balance is insufficient")
	}
}

func TestPlanTrc20WorksLikeTrx(t *testing.T) {
	plan, ok := PlanTrc20([]uint64{10, 5, 100}, 115, 2)
	if !ok {
		t.Fatal("expected a feasible plan")
	}
	if plan.ExecutorIndex != 2 {
		t.Fatalf("executor index = %d, want 2", plan.ExecutorIndex)
	}
	want := []Trc20Transfer{{DonorIndex: 0, Amount: 10}, {DonorIndex: 1, Amount: 5}}
	if len(plan.Transfers) != len(want) {
		t.Fatalf("transfers = %+v, want %+v", plan.Transfers, want)
	}
	for i := range want {
		if plan.Transfers[i] != want[i] {
			t.Fatalf("transfers[%d] = %+v, want %+v", i, plan.Transfers[i], want[i])
		}
	}
}

func TestPlanTrc20ZeroRequired(t *testing.T) {
	plan, ok := PlanTrc20([]uint64{1, 2, 3}, 0, 2)
	if !ok || plan.ExecutorIndex != 0 || len(plan.Transfers) != 0 {
		t.Fatalf("expected trivial zero-transfer plan, got %+v ok=%v", plan, ok)
	}
}

func TestPlanTrc20EmptyBalances(t *testing.T) {
	if _, ok := PlanTrc20(nil, 10, 2); ok {
		t.Fatal("expected infeasible plan for empty balances")
	}
}
