package core

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCommitteeSize is N, the number of validators admitted to the
// active committee (spec §4.6, spec §6 committee_size).
const DefaultCommitteeSize = 21

// DefaultEpochBlocks is the committee rotation period (spec §4.6, §6).
const DefaultEpochBlocks = 144

// StakeAmount is the fixed stake required for validator registration
// (spec §4.6).
const StakeAmount = 10_000

// Validator is a registered BFT committee candidate (spec §4.6).
type Validator struct {
	Address    string
	PubKey     []byte // Ed25519 public key
	Stake      uint64
	Misbehaved int // ProposerMisbehavior strikes this epoch
	Removed    bool
}

// Committee holds the top-N-by-stake validators active for the current
// epoch, plus the deterministic round-robin proposer order (spec §4.6).
type Committee struct {
	mu       sync.RWMutex
	size     int
	epoch    uint64
	members  []Validator // sorted by stake desc, ties by address asc, by RotateEpoch; Register appends
	log      *logrus.Entry
}

// NewCommittee returns an empty committee admitting up to size members.
func NewCommittee(size int) *Committee {
	return &Committee{size: size, log: logrus.WithField("component", "committee")}
}

// Register adds or updates a validator candidate's stake.
func (c *Committee) Register(v Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.members {
		if c.members[i].Address == v.Address {
			c.members[i].Stake = v.Stake
			return
		}
	}
	c.members = append(c.members, v)
}

// RotateEpoch re-selects the top c.size validators by stake, excluding any
// removed for misbehavior, and resets misbehavior counters (spec §4.6: the
// committee rotates every EPOCH blocks).
func (c *Committee) RotateEpoch(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = epoch

	candidates := make([]Validator, 0, len(c.members))
	for _, m := range c.members {
		if !m.Removed {
			m.Misbehaved = 0
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Stake != candidates[j].Stake {
			return candidates[i].Stake > candidates[j].Stake
		}
		return candidates[i].Address < candidates[j].Address
	})
	if len(candidates) > c.size {
		candidates = candidates[:c.size]
	}
	c.members = candidates
	c.log.WithFields(logrus.Fields{"epoch": epoch, "size": len(c.members)}).Info("committee rotated")
}

// Active returns a copy of the current committee membership, ordered for
// round-robin proposer selection.
func (c *Committee) Active() []Validator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Validator, len(c.members))
	copy(out, c.members)
	return out
}

// N returns the current committee size (3f+1).
func (c *Committee) N() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// F returns the maximum tolerated faulty members for the current
// committee size (committee size = 3f+1).
func (c *Committee) F() int {
	n := c.N()
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumSize returns ⌊2f⌋+1, the minimum signature count for BFT quorum
// (spec §4.5, §4.6, GLOSSARY).
func (c *Committee) QuorumSize() int {
	f := c.F()
	return 2*f + 1
}

// ProposerAt returns the deterministic round-robin proposer for the given
// view number (spec §4.6: "the next proposer (deterministic round-robin
// over committee) takes over").
func (c *Committee) ProposerAt(view uint64) (Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.members) == 0 {
		return Validator{}, false
	}
	idx := int(view % uint64(len(c.members)))
	return c.members[idx], true
}

// RecordMisbehavior increments a validator's strike count. After
// maxStrikes, the validator is removed from the committee for the
// remainder of the epoch (spec §7: "repeated ProposerMisbehavior removes a
// validator from the committee for the remainder of the epoch"), adapted
// from the teacher's stake_penalty.go bookkeeping.
func (c *Committee) RecordMisbehavior(address string, maxStrikes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.members {
		if c.members[i].Address == address {
			c.members[i].Misbehaved++
			if c.members[i].Misbehaved >= maxStrikes {
				c.members[i].Removed = true
			}
			return
		}
	}
}
