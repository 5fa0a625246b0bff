package core

import (
	"testing"

	"github.com/caiorlm/logichain/internal/testutil"
)

func newTestForkManager(t *testing.T, reorgWindow uint64) (*ForkManager, string, *Block) {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	p, err := OpenPersistence(sb.Root, 0)
	if err != nil {
		t.Fatalf("OpenPersistence: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	miner := sampleAddress(t)
	genesis := sampleBlock(0, [32]byte{}, miner)
	genesis.Difficulty = 1
	if err := p.AppendBlock(genesis); err != nil {
		t.Fatalf("AppendBlock genesis: %v", err)
	}
	fm := NewForkManager(p, reorgWindow, genesis.Hash(), 0, blockWork(genesis))
	return fm, miner, genesis
}

func TestForkManagerExtendsCanonicalChainDirectly(t *testing.T) {
	fm, miner, genesis := newTestForkManager(t, DefaultReorgWindow)
	next := sampleBlock(1, genesis.Hash(), miner)
	next.Difficulty = 1
	if err := fm.AddBlock(next); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if fm.TipHeight() != 1 {
		t.Fatalf("expected tip height 1, got %d", fm.TipHeight())
	}
	if fm.TipHash() != next.Hash() {
		t.Fatalf("expected tip hash to match the extending block")
	}
}

// TestForkManagerPromotesHeavierPendingChain exercises the fork manager's
// out-of-order path: a block X filed under the hash of a not-yet-seen future
// tip Y is promoted once Y is accepted and X's work exceeds the new tip's
// cumulative work, within the reorg window.
func TestForkManagerPromotesHeavierPendingChain(t *testing.T) {
	fm, miner, genesis := newTestForkManager(t, DefaultReorgWindow)

	y := sampleBlock(1, genesis.Hash(), miner)
	y.Difficulty = 1
	x := sampleBlock(2, y.Hash(), miner)
	x.Difficulty = 10 // far more work than genesis+y combined

	// x arrives first, referencing y's (not-yet-canonical) hash as parent.
	if err := fm.AddBlock(x); err != nil {
		t.Fatalf("AddBlock x: %v", err)
	}
	if fm.TipHeight() != 0 {
		t.Fatalf("expected no tip change from a block with an unknown parent")
	}

	// y then arrives, extends the canonical chain directly, and triggers
	// promotion onto x since x's work exceeds the post-y cumulative work.
	if err := fm.AddBlock(y); err != nil {
		t.Fatalf("AddBlock y: %v", err)
	}
	if fm.TipHash() != x.Hash() {
		t.Fatalf("expected promotion onto x after y unlocked it")
	}
	if fm.TipHeight() != 2 {
		t.Fatalf("expected tip height 2 after promotion, got %d", fm.TipHeight())
	}
}

func TestForkManagerRefusesReorgBeyondWindow(t *testing.T) {
	fm, miner, genesis := newTestForkManager(t, 1) // reorg window of 1 block

	y := sampleBlock(1, genesis.Hash(), miner)
	y.Difficulty = 1
	x1 := sampleBlock(2, y.Hash(), miner)
	x1.Difficulty = 10
	x2 := sampleBlock(3, x1.Hash(), miner)
	x2.Difficulty = 10

	// File a 2-deep pending chain (x1 -> x2) before y unlocks it.
	if err := fm.AddBlock(x2); err != nil {
		t.Fatalf("AddBlock x2: %v", err)
	}
	if err := fm.AddBlock(x1); err != nil {
		t.Fatalf("AddBlock x1: %v", err)
	}

	if err := fm.AddBlock(y); KindOf(err) != KindReorgBeyondWindow {
		t.Fatalf("expected ReorgBeyondWindow for a 2-deep pending chain with window 1, got %v", err)
	}
	if fm.TipHash() != y.Hash() {
		t.Fatalf("expected canonical tip to remain at y after the refused reorg")
	}

	suspects := fm.Suspects()
	if len(suspects) != 1 {
		t.Fatalf("expected exactly one recorded suspect fork, got %d", len(suspects))
	}
	if suspects[0].Depth != 2 {
		t.Fatalf("expected suspect depth 2, got %d", suspects[0].Depth)
	}
}
