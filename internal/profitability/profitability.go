// Package profitability defines the pluggable economic gate a worker
// consults before claiming an intent. It is deliberately not a pricing
// engine: this repo ships only the interface and an always-allow default,
// matching spec.md §9's "pluggable profitability check" and
// original_source/apps/solver/src/config/types.rs's PolicyConfig fields
// (min_profit_usd, hub_cost_usd) that a real pricing implementation would
// read but this port does not compute.
package profitability

import (
	"context"

	"github.com/ultrasoundlabs/untron-solver/internal/store"
)

// Check decides whether claiming job is worth the hub/target gas it will
// cost to fill. Implementations may consult escrow amount, current gas
// prices, or any other signal; HandleReady treats a false return as a
// transient rejection, not a fatal one, since profitability can change
// before the job's deadline.
type Check interface {
	Allow(ctx context.Context, job store.Job) (bool, error)
}

// AlwaysAllow is the default Check: it claims every enabled-intent-type job
// regardless of margin. A deployment that wants real profitability gating
// supplies its own Check; nothing else in hubflow needs to change.
type AlwaysAllow struct{}

func (AlwaysAllow) Allow(ctx context.Context, job store.Job) (bool, error) {
	return true, nil
}
