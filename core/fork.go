package core

import (
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultReorgWindow bounds how deep a competing chain may reach before the
// tip switches to it (spec §4.7: "Reorgs beyond REORG_WINDOW are refused").
const DefaultReorgWindow = 6

// SuspectFork records a competing chain whose depth exceeded the reorg
// window and was therefore refused rather than adopted (spec §4.7).
type SuspectFork struct {
	ForkPointHash [32]byte
	ForkPointHeight uint64
	Depth         uint64
	TipHash       [32]byte
}

// ForkManager tracks side branches keyed by the hash of the block each one
// extends, and decides whether a competing tip with more cumulative work
// may become canonical (spec §4.7). Adapted from the teacher's
// chain_fork_manager.go: where the teacher's RecoverLongestFork reorganizes
// onto any longer fork unconditionally, this manager refuses any reorg
// whose depth exceeds reorgWindow and records it as a suspect instead.
type ForkManager struct {
	mu sync.Mutex

	persistence *Persistence
	reorgWindow uint64

	tipHash   [32]byte
	tipHeight uint64
	tipWork   *big.Int

	// forks maps the hash of the block a side branch extends to the
	// ordered list of blocks building on top of it. The keyed block may be
	// on the main chain (an active fork point) or itself be a pending
	// fork block (a fork extending another fork).
	forks map[[32]byte][]*Block

	suspects []SuspectFork
	log      *logrus.Entry
}

// NewForkManager builds a manager whose main chain currently sits at
// (tipHash, tipHeight) with cumulative work tipWork.
func NewForkManager(p *Persistence, reorgWindow uint64, tipHash [32]byte, tipHeight uint64, tipWork *big.Int) *ForkManager {
	if reorgWindow == 0 {
		reorgWindow = DefaultReorgWindow
	}
	if tipWork == nil {
		tipWork = big.NewInt(0)
	}
	return &ForkManager{
		persistence: p,
		reorgWindow: reorgWindow,
		tipHash:     tipHash,
		tipHeight:   tipHeight,
		tipWork:     tipWork,
		forks:       make(map[[32]byte][]*Block),
		log:         logrus.WithField("component", "fork"),
	}
}

// blockWork is a block's proof-of-work contribution, approximated as
// 2^difficulty (spec §4.7: "greater cumulative work").
func blockWork(b *Block) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(b.Difficulty))
}

// CumulativeWork sums each persisted block's blockWork from genesis through
// height, the canonical-chain tie-break measure spec §4.7 compares
// competing chains by. Shared by ForkManager's ancestor lookups and every
// cmd/ call site that used to duplicate this loop inline.
func CumulativeWork(p *Persistence, height uint64) (*big.Int, error) {
	total := big.NewInt(0)
	for h := uint64(0); h <= height; h++ {
		b, err := p.BlockAtHeight(h)
		if err != nil {
			return nil, err
		}
		total.Add(total, blockWork(b))
	}
	return total, nil
}

// TipHash returns the current canonical tip hash.
func (fm *ForkManager) TipHash() [32]byte {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.tipHash
}

// TipHeight returns the current canonical tip height.
func (fm *ForkManager) TipHeight() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.tipHeight
}

// Suspects returns a copy of the fork attempts that were refused for
// exceeding the reorg window.
func (fm *ForkManager) Suspects() []SuspectFork {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	out := make([]SuspectFork, len(fm.suspects))
	copy(out, fm.suspects)
	return out
}

// AddBlock accepts a validated block (structural validation already passed;
// see ValidateBlock) and either extends the main chain directly, files it
// as a side-branch candidate, or promotes a side branch into the main chain
// if it now carries more work and sits within the reorg window.
func (fm *ForkManager) AddBlock(b *Block) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if b.ParentHash == fm.tipHash {
		if err := fm.persistence.AppendBlock(b); err != nil {
			return err
		}
		fm.tipHash = b.Hash()
		fm.tipHeight = b.Height
		fm.tipWork.Add(fm.tipWork, blockWork(b))
		fm.log.WithField("height", b.Height).Debug("extended canonical chain")
		return fm.tryPromoteLocked()
	}

	fm.forks[b.ParentHash] = append(fm.forks[b.ParentHash], b)
	return fm.tryPromoteLocked()
}

// chainFromFork walks fm.forks starting at forkPointHash, following
// single-child extensions, and returns the ordered block list plus its
// total work. Branches with more than one child at the same point are left
// for a later round (first-seen child wins per call per spec §4.6's "first
// valid proposal" tie-break framing).
func (fm *ForkManager) chainFromFork(forkPointHash [32]byte) ([]*Block, *big.Int) {
	var chain []*Block
	work := big.NewInt(0)
	cursor := forkPointHash
	for {
		children, ok := fm.forks[cursor]
		if !ok || len(children) == 0 {
			break
		}
		next := children[0]
		chain = append(chain, next)
		work.Add(work, blockWork(next))
		cursor = next.Hash()
	}
	return chain, work
}

// ancestorInfo resolves hash to a height and the canonical chain's
// cumulative work through that height, so a fork point several blocks
// behind the current tip (a deep reorg, not just a future-tip race) can be
// compared on equal footing with fm.tipHash. ok is false if hash is neither
// the current tip nor a block already on the canonical chain — e.g. a fork
// point that is itself still a pending, unpromoted fork block.
func (fm *ForkManager) ancestorInfo(hash [32]byte) (height uint64, work *big.Int, ok bool) {
	if hash == fm.tipHash {
		return fm.tipHeight, fm.tipWork, true
	}
	blk, err := fm.persistence.ReadBlock(hash)
	if err != nil {
		return 0, nil, false
	}
	w, err := CumulativeWork(fm.persistence, blk.Height)
	if err != nil {
		return 0, nil, false
	}
	return blk.Height, w, true
}

// tryPromoteLocked scans every tracked fork point — not just one rooted at
// the current tip — and, if the heaviest resulting chain now carries
// strictly more cumulative work than the canonical tip, attempts to
// reorganize onto it (spec §4.7). A fork point several blocks behind the
// tip is a deep reorg: its ancestor work is looked up via ancestorInfo
// rather than assumed to be fm.tipWork. Must be called with fm.mu held.
func (fm *ForkManager) tryPromoteLocked() error {
	var (
		found              bool
		bestForkPoint      [32]byte
		bestChain          []*Block
		bestTotalWork      *big.Int
		bestAncestorHeight uint64
	)

	for forkPoint := range fm.forks {
		ancestorHeight, ancestorWork, ok := fm.ancestorInfo(forkPoint)
		if !ok {
			continue
		}
		chain, chainWork := fm.chainFromFork(forkPoint)
		if len(chain) == 0 {
			continue
		}
		total := new(big.Int).Add(ancestorWork, chainWork)
		if total.Cmp(fm.tipWork) <= 0 {
			continue
		}
		if !found || total.Cmp(bestTotalWork) > 0 {
			found = true
			bestForkPoint = forkPoint
			bestChain = chain
			bestTotalWork = total
			bestAncestorHeight = ancestorHeight
		}
	}
	if !found {
		return nil
	}

	// depth combines how far back the fork point sits from the current tip
	// (0 for a future-tip catch-up extending the tip itself) with how many
	// new blocks the candidate chain adds, so both a true ancestor-rooted
	// reorg and a long out-of-order catch-up are bounded by the same window.
	depth := (fm.tipHeight - bestAncestorHeight) + uint64(len(bestChain))
	if depth > fm.reorgWindow {
		suspectTip := bestChain[len(bestChain)-1].Hash()
		fm.suspects = append(fm.suspects, SuspectFork{
			ForkPointHash:   bestForkPoint,
			ForkPointHeight: bestAncestorHeight,
			Depth:           depth,
			TipHash:         suspectTip,
		})
		fm.log.WithFields(logrus.Fields{
			"depth":       depth,
			"reorgWindow": fm.reorgWindow,
		}).Warn("refusing reorg beyond window, recording suspect fork")
		return NewError(KindReorgBeyondWindow, "competing chain exceeds reorg window")
	}

	for _, blk := range bestChain {
		if err := fm.persistence.AppendBlock(blk); err != nil {
			return WrapError(KindPersistenceIoError, "reorg apply failed, restore from snapshot required", err)
		}
	}
	tip := bestChain[len(bestChain)-1]
	delete(fm.forks, bestForkPoint)
	fm.tipHash = tip.Hash()
	fm.tipHeight = tip.Height
	fm.tipWork = bestTotalWork
	fm.log.WithFields(logrus.Fields{
		"newHeight":       fm.tipHeight,
		"depth":           depth,
		"forkPointHeight": bestAncestorHeight,
	}).Info("reorganized onto heavier fork")
	return nil
}
