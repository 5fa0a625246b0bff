package core

import (
	"testing"

	"github.com/caiorlm/logichain/internal/testutil"
)

func sampleBlock(height uint64, parent [32]byte, miner string) *Block {
	b := &Block{
		Height:     height,
		ParentHash: parent,
		Timestamp:  1700000000 + float64(height),
		Difficulty: 1,
		Miner:      miner,
		Mode:       ModeOnGrid,
		Txs: []Transaction{{
			Type:      TxMiningReward,
			To:        miner,
			Amount:    AmountFromUnits(1),
			Timestamp: 1700000000 + float64(height),
		}},
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	return b
}

func TestPersistenceAppendAndReadBlock(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	p, err := OpenPersistence(sb.Root, 0)
	if err != nil {
		t.Fatalf("OpenPersistence: %v", err)
	}
	defer p.Close()

	miner := sampleAddress(t)
	genesis := sampleBlock(0, [32]byte{}, miner)
	if err := p.AppendBlock(genesis); err != nil {
		t.Fatalf("AppendBlock genesis: %v", err)
	}

	got, err := p.ReadBlock(genesis.Hash())
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.Height != genesis.Height || got.MerkleRoot != genesis.MerkleRoot {
		t.Fatalf("read-back block does not match appended block")
	}

	if p.BestHeight() != 0 {
		t.Fatalf("expected best height 0, got %d", p.BestHeight())
	}

	byHeight, err := p.BlockAtHeight(0)
	if err != nil {
		t.Fatalf("BlockAtHeight: %v", err)
	}
	if byHeight.Hash() != genesis.Hash() {
		t.Fatalf("BlockAtHeight returned the wrong block")
	}
}

func TestPersistenceReadMissingBlock(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	p, err := OpenPersistence(sb.Root, 0)
	if err != nil {
		t.Fatalf("OpenPersistence: %v", err)
	}
	defer p.Close()

	if _, err := p.ReadBlock([32]byte{9, 9, 9}); KindOf(err) != KindParentUnknown {
		t.Fatalf("expected ParentUnknown reading a missing block, got %v", err)
	}
}

func TestPersistenceReplaysSegmentsAfterReopen(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	miner := sampleAddress(t)
	p, err := OpenPersistence(sb.Root, 0)
	if err != nil {
		t.Fatalf("OpenPersistence: %v", err)
	}
	genesis := sampleBlock(0, [32]byte{}, miner)
	if err := p.AppendBlock(genesis); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	next := sampleBlock(1, genesis.Hash(), miner)
	if err := p.AppendBlock(next); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenPersistence(sb.Root, 0)
	if err != nil {
		t.Fatalf("reopen OpenPersistence: %v", err)
	}
	defer reopened.Close()

	if reopened.BestHeight() != 1 {
		t.Fatalf("expected best height 1 after reopen, got %d", reopened.BestHeight())
	}
	got, err := reopened.ReadBlock(next.Hash())
	if err != nil {
		t.Fatalf("ReadBlock after reopen: %v", err)
	}
	if got.Height != 1 {
		t.Fatalf("expected height 1 from reopened store")
	}
}
