package safety

import "math/big"

// ResourceStakeTotals is the network-wide capacity/weight pair a resource
// (energy or bandwidth) is priced against. Supplemented feature, see
// SPEC_FULL.md §11 and original_source/crates/tron/src/resources.rs.
type ResourceStakeTotals struct {
	TotalLimit  uint64 // total resource capacity on the network
	TotalWeight uint64 // total stake weight (sun) backing that capacity
}

// ceilDivBig computes ceil(n/d) for values that may exceed 64 bits once
// multiplied together, mirroring the Rust original's u128 intermediates so
// large sun amounts never silently wrap.
func ceilDivBig(n, d *big.Int) uint64 {
	if d.Sign() == 0 {
		return ^uint64(0)
	}
	num := new(big.Int).Add(n, new(big.Int).Sub(d, big.NewInt(1)))
	q := new(big.Int).Div(num, d)
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}

// ResourceUnitsForMinTRXSun converts a desired minimum delegated TRX amount
// (in sun) into the resource units to order, with a headroom margin
// expressed in parts-per-million, so a provider computing TRX from energy
// using the same totals ends up delegating at least the requested sun.
// Ported directly from resources.rs::resource_units_for_min_trx_sun.
func ResourceUnitsForMinTRXSun(minBalanceSun uint64, totals ResourceStakeTotals, headroomPPM uint64) uint64 {
	l := bigMax1(totals.TotalLimit)
	w := bigMax1(totals.TotalWeight)
	sun := new(big.Int).SetUint64(minBalanceSun)
	energy := ceilDivBig(new(big.Int).Mul(sun, l), w)
	e := new(big.Int).SetUint64(energy)
	ppm := new(big.Int).SetUint64(1_000_000 + headroomPPM)
	return ceilDivBig(new(big.Int).Mul(e, ppm), big.NewInt(1_000_000))
}

// TRXSunForResourceUnits converts ordered resource units into the TRX
// delegation amount (sun) implied by the current network totals. Ported
// directly from resources.rs::trx_sun_for_resource_units.
func TRXSunForResourceUnits(units uint64, totals ResourceStakeTotals) uint64 {
	l := bigMax1(totals.TotalLimit)
	w := bigMax1(totals.TotalWeight)
	e := new(big.Int).SetUint64(units)
	return ceilDivBig(new(big.Int).Mul(e, w), l)
}

func bigMax1(v uint64) *big.Int {
	if v == 0 {
		v = 1
	}
	return new(big.Int).SetUint64(v)
}
