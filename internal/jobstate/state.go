// Package jobstate holds the deterministic transition matrix over the job
// lifecycle. It performs no I/O: DurableStore applies the matrix as a SQL
// predicate, but the matrix itself lives here so it can be tested in
// isolation and reused by anything that needs to reason about reachability.
package jobstate

// State is one value of the job lifecycle.
type State string

const (
	Ready                   State = "ready"
	Claimed                 State = "claimed"
	TronPrepared            State = "tron_prepared"
	TronSent                State = "tron_sent"
	ProofBuilt              State = "proof_built"
	Proved                  State = "proved"
	ProvedWaitingFunding    State = "proved_waiting_funding"
	ProvedWaitingSettlement State = "proved_waiting_settlement"
	Done                    State = "done"
	FailedFatal             State = "failed_fatal"
)

// terminal holds states that may never advance further; the only edge out
// of one is Done's idempotent Done -> Done self-edge.
var terminal = map[State]bool{
	Done:        true,
	FailedFatal: true,
}

// IsTerminal reports whether s is a terminal state.
func IsTerminal(s State) bool {
	return terminal[s]
}

// allowedFrom lists, for every valid transition target, the set of states a
// job may be in immediately before the transition is applied. Ready and
// FailedFatal are never valid targets: Ready is the only insertion state,
// and FailedFatal is reached only via the fatal-error path (store.RecordFatalError),
// not a job-state-machine transition.
var allowedFrom = map[State][]State{
	Claimed:                 {Ready},
	TronPrepared:            {Claimed},
	TronSent:                {Claimed, TronPrepared},
	ProofBuilt:              {TronSent, ProofBuilt},
	Proved:                  {ProofBuilt},
	ProvedWaitingFunding:    {Proved, ProvedWaitingFunding},
	ProvedWaitingSettlement: {Proved, ProvedWaitingFunding, ProvedWaitingSettlement},
	Done:                    {Proved, ProvedWaitingFunding, ProvedWaitingSettlement, Done},
}

// AllowedFrom returns the predecessor states valid for a transition into to.
// A nil/empty result means to is never a valid transition target (Ready,
// FailedFatal, or an unrecognized value).
func AllowedFrom(to State) []State {
	return allowedFrom[to]
}

// CanTransition reports whether moving from `from` to `to` is a valid edge
// in the transition graph (including the listed self-edges, e.g. Done -> Done).
func CanTransition(from, to State) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// NonTerminal is the set of states store.LeaseJobs is willing to select,
// per spec.md §4.2: state ∈ non-terminal.
var NonTerminal = []State{
	Ready,
	Claimed,
	TronPrepared,
	TronSent,
	ProofBuilt,
	Proved,
	ProvedWaitingFunding,
	ProvedWaitingSettlement,
}
