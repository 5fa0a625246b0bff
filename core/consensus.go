package core

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ProposalTimeout bounds how long the expected proposer has to produce a
// valid block before committee members broadcast VIEW_CHANGE (spec §4.6,
// ON_GRID default).
const ProposalTimeout = 10 * time.Second

var (
	viewChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "view_changes_total",
		Help: "Total number of BFT view changes observed.",
	})
	blocksMinedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blocks_mined_total",
		Help: "Total number of blocks successfully mined by this node.",
	})
	mempoolSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mempool_size",
		Help: "Current number of transactions held in the mempool.",
	})
)

func init() {
	prometheus.MustRegister(viewChangesTotal, blocksMinedTotal, mempoolSizeGauge)
}

// ConsensusPhase tracks the classical three-phase BFT commit: PREPARE
// quorum, then COMMIT quorum (spec §4.6).
type ConsensusPhase uint8

const (
	PhaseIdle ConsensusPhase = iota
	PhasePrepare
	PhaseCommit
	PhaseCommitted
)

// ViewState is one committee member's BFT timeline: the view/height pair
// plus accumulated votes for the current round (spec §4.6, §5: "timers are
// scheduled on a monotonic clock and never rely on wall time for
// ordering").
type ViewState struct {
	mu sync.Mutex

	View              uint64
	Height            uint64
	Phase             ConsensusPhase
	PrepareVotes      map[string]bool
	CommitVotes       map[string]bool
	LastCommittedHash [32]byte
	timeout           time.Duration

	log *logrus.Entry
}

// NewViewState starts a fresh view/height timeline at the base
// ProposalTimeout.
func NewViewState(height uint64) *ViewState {
	return &ViewState{
		Height:       height,
		PrepareVotes: make(map[string]bool),
		CommitVotes:  make(map[string]bool),
		timeout:      ProposalTimeout,
		log:          logrus.WithField("component", "consensus"),
	}
}

// RecordPrepare registers a PREPARE vote from validator and reports whether
// quorum has now been reached.
func (v *ViewState) RecordPrepare(validator string, quorum int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.PrepareVotes[validator] = true
	if len(v.PrepareVotes) >= quorum && v.Phase == PhaseIdle {
		v.Phase = PhasePrepare
	}
	return v.Phase >= PhasePrepare
}

// RecordCommit registers a COMMIT vote and reports whether quorum has now
// been reached (safety: spec §4.6 "final when two rounds of quorum are
// observed at the same (view, height)").
func (v *ViewState) RecordCommit(validator string, quorum int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Phase < PhasePrepare {
		return false
	}
	v.CommitVotes[validator] = true
	if len(v.CommitVotes) >= quorum {
		v.Phase = PhaseCommitted
	}
	return v.Phase == PhaseCommitted
}

// TriggerViewChange advances to the next view, doubling the proposal
// timeout up to a cap, and resets vote tallies for the new round
// (spec §4.6: "timeouts double on each view change up to a cap").
func (v *ViewState) TriggerViewChange(cap time.Duration) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.View++
	v.Phase = PhaseIdle
	v.PrepareVotes = make(map[string]bool)
	v.CommitVotes = make(map[string]bool)
	v.timeout *= 2
	if v.timeout > cap {
		v.timeout = cap
	}
	viewChangesTotal.Inc()
	v.log.WithFields(logrus.Fields{"height": v.Height, "view": v.View}).Warn("view change")
	return v.View
}

// Timeout returns the current proposal timeout for this view.
func (v *ViewState) Timeout() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeout
}

// HybridGate evaluates the three combined checks spec §4.6 requires before
// a block becomes canonical: PoW, PoD, and (for blocks claiming to finalize
// contracts) BFT attestation.
type HybridGate struct {
	Committee *Committee
	Mode      Mode
}

// NewHybridGate builds a gate bound to committee for BFT quorum checks.
func NewHybridGate(committee *Committee, mode Mode) *HybridGate {
	return &HybridGate{Committee: committee, Mode: mode}
}

// Check runs the PoW gate, then (if the block claims a PoD finalization)
// the BFT attestation gate. Off-grid mode disables the BFT requirement
// (spec §4.8: "disables the BFT quorum requirement (PoW+PoD only)").
// Individual PoD transition legality is the caller's responsibility (see
// contract.go); a gate failure there must reject the block wholesale per
// spec §4.6 rule 2.
func (g *HybridGate) Check(b *Block) error {
	if !b.MeetsDifficulty() {
		return NewError(KindPoWTargetMissed, "block fails PoW gate")
	}
	if b.PoDPointer == nil {
		return nil
	}
	if g.Mode == ModeOffGrid {
		return nil
	}
	quorum := g.Committee.QuorumSize()
	if len(b.Attestations) < quorum {
		return NewError(KindQuorumInsufficient, "BFT quorum not met for finalizing block")
	}
	return nil
}

// RecordBlockMined increments the blocks_mined_total metric.
func RecordBlockMined() { blocksMinedTotal.Inc() }

// SetMempoolSizeMetric reports the current mempool transaction count to
// Prometheus.
func SetMempoolSizeMetric(count int) { mempoolSizeGauge.Set(float64(count)) }

// SimulateQuorumSafety runs a Monte Carlo estimate of the probability that a
// BFT quorum with committeeSize members and faultyFraction of adversarial
// members fails to reach the ⌊2f⌋+1-of-3f+1 threshold across trials
// (supplemented feature 6: adapted from the teacher's bft_simulation.go,
// used as an operator diagnostic when tuning committee_size).
func SimulateQuorumSafety(committeeSize int, faultyFraction float64, trials int) float64 {
	if committeeSize == 0 || trials == 0 {
		return 0
	}
	f := (committeeSize - 1) / 3
	quorum := 2*f + 1
	failures := 0
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < trials; i++ {
		honest := 0
		for j := 0; j < committeeSize; j++ {
			if rng.Float64() >= faultyFraction {
				honest++
			}
		}
		if honest < quorum {
			failures++
		}
	}
	return float64(failures) / float64(trials)
}
