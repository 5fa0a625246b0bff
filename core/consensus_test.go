package core

import (
	"testing"
	"time"
)

func TestViewStateRecordPrepareReachesQuorum(t *testing.T) {
	v := NewViewState(1)
	if v.RecordPrepare("a", 3) {
		t.Fatalf("expected no quorum with 1 of 3 votes")
	}
	v.RecordPrepare("b", 3)
	if !v.RecordPrepare("c", 3) {
		t.Fatalf("expected quorum reached with 3 of 3 votes")
	}
}

func TestViewStateRecordCommitRequiresPrepareFirst(t *testing.T) {
	v := NewViewState(1)
	if v.RecordCommit("a", 1) {
		t.Fatalf("commit must not succeed before PREPARE quorum")
	}
	v.RecordPrepare("a", 1)
	if !v.RecordCommit("a", 1) {
		t.Fatalf("expected commit quorum reached after PREPARE quorum")
	}
	if v.Phase != PhaseCommitted {
		t.Fatalf("expected PhaseCommitted, got %v", v.Phase)
	}
}

func TestViewStateTriggerViewChangeDoublesTimeoutUpToCap(t *testing.T) {
	v := NewViewState(1)
	cap := 4 * ProposalTimeout
	v.TriggerViewChange(cap)
	if v.Timeout() != 2*ProposalTimeout {
		t.Fatalf("expected timeout doubled once, got %v", v.Timeout())
	}
	v.TriggerViewChange(cap)
	if v.Timeout() != 4*ProposalTimeout {
		t.Fatalf("expected timeout doubled twice, got %v", v.Timeout())
	}
	v.TriggerViewChange(cap)
	if v.Timeout() != cap {
		t.Fatalf("expected timeout clamped to cap, got %v", v.Timeout())
	}
}

func TestViewStateTriggerViewChangeResetsVotesAndAdvancesView(t *testing.T) {
	v := NewViewState(1)
	v.RecordPrepare("a", 1)
	before := v.View
	v.TriggerViewChange(time.Hour)
	if v.View != before+1 {
		t.Fatalf("expected view to advance by 1")
	}
	if v.Phase != PhaseIdle {
		t.Fatalf("expected phase reset to Idle after view change")
	}
	if len(v.PrepareVotes) != 0 {
		t.Fatalf("expected prepare votes cleared after view change")
	}
}

func TestHybridGateRejectsBelowDifficulty(t *testing.T) {
	committee := NewCommittee(4)
	gate := NewHybridGate(committee, ModeOnGrid)
	b := &Block{Difficulty: 250} // effectively unreachable within the test
	if err := gate.Check(b); KindOf(err) != KindPoWTargetMissed {
		t.Fatalf("expected PoWTargetMissed, got %v", err)
	}
}

func TestHybridGateSkipsBFTWithoutPoDPointer(t *testing.T) {
	committee := NewCommittee(4)
	gate := NewHybridGate(committee, ModeOnGrid)
	b := &Block{Difficulty: 0}
	if err := gate.Check(b); err != nil {
		t.Fatalf("expected no BFT requirement without a PoD pointer: %v", err)
	}
}

func TestHybridGateRequiresQuorumOnGrid(t *testing.T) {
	committee := NewCommittee(4)
	for i := 0; i < 4; i++ {
		committee.Register(Validator{Address: string(rune('a' + i)), Stake: 10})
	}
	committee.RotateEpoch(1)
	gate := NewHybridGate(committee, ModeOnGrid)

	id := "contract-1"
	b := &Block{Difficulty: 0, PoDPointer: &id, Attestations: [][]byte{[]byte("sig1")}}
	if err := gate.Check(b); KindOf(err) != KindQuorumInsufficient {
		t.Fatalf("expected QuorumInsufficient with fewer attestations than quorum, got %v", err)
	}

	quorum := committee.QuorumSize()
	full := make([][]byte, quorum)
	for i := range full {
		full[i] = []byte("sig")
	}
	b.Attestations = full
	if err := gate.Check(b); err != nil {
		t.Fatalf("expected gate to pass with full quorum of attestations: %v", err)
	}
}

func TestHybridGateOffGridBypassesBFT(t *testing.T) {
	committee := NewCommittee(4)
	gate := NewHybridGate(committee, ModeOffGrid)
	id := "contract-1"
	b := &Block{Difficulty: 0, PoDPointer: &id, Attestations: nil}
	if err := gate.Check(b); err != nil {
		t.Fatalf("expected OFF_GRID mode to bypass the BFT quorum requirement: %v", err)
	}
}

func TestSimulateQuorumSafetyDeterministic(t *testing.T) {
	a := SimulateQuorumSafety(21, 0.2, 500)
	b := SimulateQuorumSafety(21, 0.2, 500)
	if a != b {
		t.Fatalf("expected deterministic simulation output for a fixed seed, got %v vs %v", a, b)
	}
	if a < 0 || a > 1 {
		t.Fatalf("expected a probability in [0,1], got %v", a)
	}
}
