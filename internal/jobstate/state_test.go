package jobstate

import "testing"

func TestCanTransitionValidEdges(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Ready, Claimed, true},
		{Claimed, TronPrepared, true},
		{Claimed, TronSent, true},
		{TronPrepared, TronSent, true},
		{TronSent, ProofBuilt, true},
		{ProofBuilt, ProofBuilt, true},
		{ProofBuilt, Proved, true},
		{Proved, ProvedWaitingFunding, true},
		{ProvedWaitingFunding, ProvedWaitingSettlement, true},
		{ProvedWaitingSettlement, Done, true},
		{Done, Done, true},
		// invalid
		{Ready, TronSent, false},
		{TronPrepared, Claimed, false},
		{Done, Ready, false},
		{FailedFatal, Done, false},
		{Ready, Ready, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		if got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestReadyAndFailedFatalNeverValidTargets(t *testing.T) {
	if len(AllowedFrom(Ready)) != 0 {
		t.Errorf("Ready must never be a transition target, got allowed-from %v", AllowedFrom(Ready))
	}
	if len(AllowedFrom(FailedFatal)) != 0 {
		t.Errorf("FailedFatal must never be a transition target, got allowed-from %v", AllowedFrom(FailedFatal))
	}
}

func TestTerminalStates(t *testing.T) {
	if !IsTerminal(Done) || !IsTerminal(FailedFatal) {
		t.Fatal("Done and FailedFatal must be terminal")
	}
	for _, s := range NonTerminal {
		if IsTerminal(s) {
			t.Errorf("%s listed in NonTerminal but IsTerminal returns true", s)
		}
	}
}
