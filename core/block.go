package core

import (
	"context"
	"math/bits"

	"github.com/sirupsen/logrus"
)

// Mode selects online vs offline operating caps (spec §4.8).
type Mode uint8

const (
	ModeOnGrid Mode = iota
	ModeOffGrid
)

func (m Mode) String() string {
	if m == ModeOffGrid {
		return "OFF_GRID"
	}
	return "ON_GRID"
}

// ModeCaps holds the size/tx-count/difficulty/timing caps spec §4.5 and §6
// enumerate per mode.
type ModeCaps struct {
	BlockSizeCapBytes        int
	TxCountCap                int
	TargetBlockTimeSeconds    float64
	DifficultyRetargetInterval uint64
}

// DefaultCaps returns the spec §6 enumerated caps for mode.
func DefaultCaps(mode Mode) ModeCaps {
	if mode == ModeOffGrid {
		return ModeCaps{
			BlockSizeCapBytes:          1024,
			TxCountCap:                 10,
			TargetBlockTimeSeconds:     300,
			DifficultyRetargetInterval: 144,
		}
	}
	return ModeCaps{
		BlockSizeCapBytes:          1_048_576,
		TxCountCap:                 1000,
		TargetBlockTimeSeconds:     30,
		DifficultyRetargetInterval: 2016,
	}
}

// TDriftSeconds is the default timestamp drift tolerance (spec §3).
const TDriftSeconds = 300

// Block is the chain's append-only unit (spec §3).
type Block struct {
	Height       uint64
	ParentHash   [32]byte
	MerkleRoot   [32]byte
	Timestamp    float64
	Nonce        uint64
	Difficulty   uint32 // target leading-zero bit count
	Miner        string
	Mode         Mode
	Txs          []Transaction
	Attestations [][]byte // BFT validator quorum signatures
	PoDPointer   *string  // optional contract_id this block finalizes
}

// headerCanonical is the canonical encoding the block hash and PoW target
// are computed over — everything except the mined Nonce is fixed before
// mining begins.
func (b *Block) headerCanonical() []byte {
	enc := NewCanonicalEncoder().
		Uint64(b.Height).
		Fixed(b.ParentHash[:]).
		Fixed(b.MerkleRoot[:]).
		Float64(b.Timestamp).
		Uint64(uint64(b.Difficulty)).
		Uint64(b.Nonce).
		String(b.Miner).
		Fixed([]byte{byte(b.Mode)})
	return enc.Bytes()
}

// Hash returns the block's double-SHA-256 header hash.
func (b *Block) Hash() [32]byte {
	return DoubleHash256(b.headerCanonical())
}

// MeetsDifficulty reports whether b's hash has at least b.Difficulty
// leading zero bits (spec §3, §4.5).
func (b *Block) MeetsDifficulty() bool {
	h := b.Hash()
	return leadingZeroBits(h[:]) >= int(b.Difficulty)
}

func leadingZeroBits(h []byte) int {
	count := 0
	for _, by := range h {
		if by == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(by)
		break
	}
	return count
}

// ComputeMerkleRoot derives the block's Merkle root from its tx list.
func (b *Block) ComputeMerkleRoot() [32]byte {
	leaves := make([][32]byte, len(b.Txs))
	for i := range b.Txs {
		leaves[i] = b.Txs[i].Hash()
	}
	return MerkleRoot(leaves)
}

// AssembleBlock selects mempool bundles under mode caps, prepends a reward
// tx, and computes the Merkle root — the non-mining half of block assembly
// (spec §4.5).
func AssembleBlock(parent *Block, mp *Mempool, caps ModeCaps, mode Mode, miner string, rewardAmount Amount, difficulty uint32, now float64) *Block {
	txBudget := caps.BlockSizeCapBytes - 512 // leave room for the reward tx + header
	selected := mp.TakeUpTo(txBudget, caps.TxCountCap-1)

	reward := Transaction{
		Type:      TxMiningReward,
		To:        miner,
		Amount:    rewardAmount,
		Timestamp: now,
	}
	txs := append([]Transaction{reward}, selected...)

	var parentHash [32]byte
	var height uint64
	if parent != nil {
		parentHash = parent.Hash()
		height = parent.Height + 1
	}

	b := &Block{
		Height:     height,
		ParentHash: parentHash,
		Timestamp:  now,
		Difficulty: difficulty,
		Miner:      miner,
		Mode:       mode,
		Txs:        txs,
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	return b
}

// Mine searches for a Nonce satisfying the PoW target, preemptible via ctx
// (spec §5: "mining ... preempt on new-parent event").
func Mine(ctx context.Context, b *Block) (bool, error) {
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-ctx.Done():
			return false, NewError(KindCancelled, "mining cancelled")
		default:
		}
		b.Nonce = nonce
		if b.MeetsDifficulty() {
			return true, nil
		}
		if nonce == ^uint64(0) {
			return false, NewError(KindPoWTargetMissed, "nonce space exhausted")
		}
	}
}

// RetargetDifficulty recomputes difficulty every DifficultyRetargetInterval
// blocks to keep mean block time near TargetBlockTimeSeconds, clamped to
// [0.25x, 4x] per step (spec §4.5).
func RetargetDifficulty(prevDifficulty uint32, actualSpanSeconds, expectedSpanSeconds float64) uint32 {
	if actualSpanSeconds <= 0 {
		actualSpanSeconds = 1
	}
	ratio := expectedSpanSeconds / actualSpanSeconds
	if ratio > 4 {
		ratio = 4
	}
	if ratio < 0.25 {
		ratio = 0.25
	}
	// Difficulty is a leading-zero-bit target; approximate the
	// proportional retarget by scaling bits via log2(ratio).
	delta := log2(ratio)
	newDiff := int64(prevDifficulty) + int64(delta)
	if newDiff < 1 {
		newDiff = 1
	}
	return uint32(newDiff)
}

func log2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	// bits.Len-based integer log2 approximation is avoided here since x is
	// a ratio in [0.25, 4]; a direct series is unnecessary at this range.
	n := 0.0
	for x >= 2 {
		x /= 2
		n++
	}
	for x < 1 {
		x *= 2
		n--
	}
	return n
}

var blockLog = logrus.WithField("component", "block")

// ValidateBlock runs structural validation rules from spec §4.5 against a
// candidate block, given its parent: height, parent hash, future drift,
// size and tx-count caps, reward tx at index 0, signatures, merkle root and
// PoW target. It does not check per-sender nonce contiguity or the reward
// amount against the schedule. It does not perform BFT quorum
// verification (see committee.go) or contract-transition legality (see
// contract.go) — callers compose those checks in order per §4.6.
func ValidateBlock(b, parent *Block, caps ModeCaps, nowUnix float64) error {
	if parent != nil {
		if b.Height != parent.Height+1 {
			return NewError(KindInvalidBlockStructure, "height must be parent.height+1")
		}
		if b.ParentHash != parent.Hash() {
			return NewError(KindParentUnknown, "parent hash mismatch")
		}
	}
	if b.Timestamp > nowUnix+2*TDriftSeconds {
		return NewError(KindTimestampDrift, "block timestamp too far in future")
	}

	size := estimateBlockSize(b)
	if size > caps.BlockSizeCapBytes {
		return NewError(KindBlockTooLarge, "block exceeds mode size cap")
	}
	if len(b.Txs) > caps.TxCountCap {
		return NewError(KindInvalidBlockStructure, "tx count exceeds mode cap")
	}
	if len(b.Txs) == 0 || b.Txs[0].Type != TxMiningReward {
		return NewError(KindInvalidBlockStructure, "missing reward tx at index 0")
	}
	for i := range b.Txs {
		if !b.Txs[i].VerifySenderSignature() {
			return NewError(KindInvalidSignature, "transaction signature does not match from-address").
				WithContext("tx_hash", b.Txs[i].HashHex())
		}
	}

	if b.ComputeMerkleRoot() != b.MerkleRoot {
		return NewError(KindMerkleMismatch, "merkle root mismatch")
	}
	if !b.MeetsDifficulty() {
		return NewError(KindPoWTargetMissed, "block hash does not meet difficulty target")
	}
	blockLog.WithFields(logrus.Fields{"height": b.Height, "tx_count": len(b.Txs)}).Debug("block structurally valid")
	return nil
}

func estimateBlockSize(b *Block) int {
	size := 160 // header per spec §6
	for i := range b.Txs {
		size += b.Txs[i].WireSize()
	}
	for _, a := range b.Attestations {
		size += len(a)
	}
	return size
}

// MiningSchedule returns the base block reward at height, halving every
// halvingInterval blocks (spec §4.5, §9). Per SPEC_FULL.md's resolved Open
// Question (a), halving counts every block regardless of Mode.
func MiningSchedule(height, halvingInterval uint64, initialReward Amount) Amount {
	halvings := height / halvingInterval
	units := initialReward.Units()
	for i := uint64(0); i < halvings; i++ {
		units = units.Rsh(units, 1)
	}
	return AmountFromBigInt(units)
}
