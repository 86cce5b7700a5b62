package safety

import "testing"

func TestResourceUnitRoundTripApproximatelyRecoversSun(t *testing.T) {
	totals := ResourceStakeTotals{TotalLimit: 180_000_000_000, TotalWeight: 9_000_000_000_000_000}
	units := ResourceUnitsForMinTRXSun(1_000_000_000, totals, 50_000) // 5% headroom
	gotSun := TRXSunForResourceUnits(units, totals)
	if gotSun < 1_000_000_000 {
		t.Fatalf("round trip lost precision: got %d sun, want >= 1e9", gotSun)
	}
}

func TestResourceUnitsZeroTotalsDoNotDivideByZero(t *testing.T) {
	totals := ResourceStakeTotals{}
	units := ResourceUnitsForMinTRXSun(1000, totals, 0)
	if units == 0 {
		t.Fatal("expected non-zero units even with zero totals (floored at 1)")
	}
}
