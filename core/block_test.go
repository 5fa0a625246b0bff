package core

import (
	"context"
	"testing"
)

func TestMineProducesBlockMeetingDifficulty(t *testing.T) {
	b := &Block{Miner: sampleAddress(t), Difficulty: 8, Timestamp: 1700000000}
	ok, err := Mine(context.Background(), b)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if !ok {
		t.Fatalf("expected Mine to succeed at a low difficulty")
	}
	if !b.MeetsDifficulty() {
		t.Fatalf("mined block must satisfy its own difficulty target")
	}
}

func TestMineRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &Block{Miner: sampleAddress(t), Difficulty: 255}
	ok, err := Mine(ctx, b)
	if ok || err == nil {
		t.Fatalf("expected Mine to abort immediately on a cancelled context")
	}
	if KindOf(err) != KindCancelled {
		t.Fatalf("expected KindCancelled, got %v", err)
	}
}

func TestComputeMerkleRootMatchesTxHashes(t *testing.T) {
	txs := []Transaction{
		{Type: TxMiningReward, To: sampleAddress(t), Amount: AmountFromUnits(1), Timestamp: 1},
		{Type: TxTransfer, From: sampleAddress(t), To: sampleAddress(t), Amount: AmountFromUnits(2), Fee: AmountFromUnits(1), Timestamp: 2},
	}
	b := &Block{Txs: txs}
	leaves := make([][32]byte, len(txs))
	for i := range txs {
		leaves[i] = txs[i].Hash()
	}
	if b.ComputeMerkleRoot() != MerkleRoot(leaves) {
		t.Fatalf("ComputeMerkleRoot must match MerkleRoot over the tx hashes")
	}
}

func TestValidateBlockRejectsWrongHeight(t *testing.T) {
	parent := &Block{Height: 5}
	child := &Block{Height: 7, ParentHash: parent.Hash()}
	caps := DefaultCaps(ModeOnGrid)
	if err := ValidateBlock(child, parent, caps, 1e12); KindOf(err) != KindInvalidBlockStructure {
		t.Fatalf("expected InvalidBlockStructure for a non-sequential height, got %v", err)
	}
}

func TestValidateBlockRejectsParentHashMismatch(t *testing.T) {
	parent := &Block{Height: 5}
	child := &Block{Height: 6, ParentHash: [32]byte{9, 9, 9}}
	caps := DefaultCaps(ModeOnGrid)
	if err := ValidateBlock(child, parent, caps, 1e12); KindOf(err) != KindParentUnknown {
		t.Fatalf("expected ParentUnknown for a mismatched parent hash, got %v", err)
	}
}

func TestValidateBlockRejectsMissingRewardTx(t *testing.T) {
	b := &Block{Height: 0, Difficulty: 0, Txs: nil}
	b.MerkleRoot = b.ComputeMerkleRoot()
	caps := DefaultCaps(ModeOnGrid)
	if err := ValidateBlock(b, nil, caps, 1e12); KindOf(err) != KindInvalidBlockStructure {
		t.Fatalf("expected InvalidBlockStructure for a block with no reward tx, got %v", err)
	}
}

func TestValidateBlockRejectsMerkleMismatch(t *testing.T) {
	b := &Block{
		Height: 0, Difficulty: 0,
		Txs: []Transaction{{Type: TxMiningReward, To: sampleAddress(t), Amount: AmountFromUnits(1)}},
	}
	b.MerkleRoot = [32]byte{1, 2, 3} // deliberately wrong
	caps := DefaultCaps(ModeOnGrid)
	if err := ValidateBlock(b, nil, caps, 1e12); KindOf(err) != KindMerkleMismatch {
		t.Fatalf("expected MerkleMismatch, got %v", err)
	}
}

func TestValidateBlockAcceptsWellFormedBlock(t *testing.T) {
	b := &Block{
		Height: 0, Difficulty: 0,
		Txs: []Transaction{{Type: TxMiningReward, To: sampleAddress(t), Amount: AmountFromUnits(1)}},
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	caps := DefaultCaps(ModeOnGrid)
	if err := ValidateBlock(b, nil, caps, 1e12); err != nil {
		t.Fatalf("expected a well-formed zero-difficulty block to validate: %v", err)
	}
}

func TestValidateBlockRejectsTxCountOverCap(t *testing.T) {
	caps := ModeCaps{BlockSizeCapBytes: 10_000_000, TxCountCap: 1, TargetBlockTimeSeconds: 30}
	txs := []Transaction{
		{Type: TxMiningReward, To: sampleAddress(t), Amount: AmountFromUnits(1)},
		{Type: TxTransfer, From: sampleAddress(t), To: sampleAddress(t), Amount: AmountFromUnits(1), Fee: AmountFromUnits(1)},
	}
	b := &Block{Txs: txs}
	b.MerkleRoot = b.ComputeMerkleRoot()
	if err := ValidateBlock(b, nil, caps, 1e12); KindOf(err) != KindInvalidBlockStructure {
		t.Fatalf("expected InvalidBlockStructure for tx count over cap, got %v", err)
	}
}

func TestRetargetDifficultyClampsRatio(t *testing.T) {
	prev := uint32(20)
	// Actual span far smaller than expected => ratio clamped to 4x => +2 bits.
	if got := RetargetDifficulty(prev, 1, 1000); got != prev+2 {
		t.Fatalf("expected difficulty to increase by 2 bits at the 4x clamp, got %d", got)
	}
	// Actual span far larger than expected => ratio clamped to 0.25x => -2 bits.
	if got := RetargetDifficulty(prev, 1000, 1); got != prev-2 {
		t.Fatalf("expected difficulty to decrease by 2 bits at the 0.25x clamp, got %d", got)
	}
}

func TestRetargetDifficultyNeverBelowOne(t *testing.T) {
	if got := RetargetDifficulty(1, 1000, 1); got < 1 {
		t.Fatalf("expected difficulty floor of 1, got %d", got)
	}
}

func TestMiningScheduleHalves(t *testing.T) {
	initial := AmountFromUnits(1_000_000)
	if r := MiningSchedule(0, 100, initial); r.Cmp(initial) != 0 {
		t.Fatalf("expected full reward before first halving, got %v", r.Units())
	}
	if r := MiningSchedule(100, 100, initial); r.Cmp(AmountFromUnits(500_000)) != 0 {
		t.Fatalf("expected half reward after 1 halving interval, got %v", r.Units())
	}
	if r := MiningSchedule(200, 100, initial); r.Cmp(AmountFromUnits(250_000)) != 0 {
		t.Fatalf("expected quarter reward after 2 halving intervals, got %v", r.Units())
	}
}

func TestDefaultCapsDifferByMode(t *testing.T) {
	onGrid := DefaultCaps(ModeOnGrid)
	offGrid := DefaultCaps(ModeOffGrid)
	if onGrid.BlockSizeCapBytes <= offGrid.BlockSizeCapBytes {
		t.Fatalf("expected ON_GRID block size cap to exceed OFF_GRID's")
	}
	if onGrid.TargetBlockTimeSeconds >= offGrid.TargetBlockTimeSeconds {
		t.Fatalf("expected OFF_GRID target block time to exceed ON_GRID's")
	}
}
