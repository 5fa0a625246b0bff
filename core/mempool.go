package core

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RBFMinBumpRatio is the minimum fractional fee-per-byte increase a
// replacement transaction must clear (spec §4.3).
const RBFMinBumpRatio = 0.10

// NGap is the default tolerated nonce gap per sender before a transaction is
// accepted into the queue but withheld from block eligibility (spec §4.3).
const NGap = 16

// MempoolEntry wraps a Transaction with the bookkeeping the priority queue
// needs (spec §3 Mempool entry).
type MempoolEntry struct {
	Tx           Transaction
	ReceivedAt   time.Time
	FeePerByte   float64
	AncestorFee  float64
	AncestorSize int
}

// priority implements spec §4.3: fee_per_byte + β·ancestor_fee_bonus +
// γ·age_bonus, ordered (priority desc, received_at asc).
const (
	ancestorBonusWeight = 0.5 // β
	ageBonusWeight      = 0.1 // γ
	ageBonusHalfLifeSec = 60.0
)

func (e *MempoolEntry) priority(now time.Time) float64 {
	ancestorBonus := 0.0
	if e.AncestorSize > 0 {
		ancestorBonus = e.AncestorFee / float64(e.AncestorSize)
	}
	age := now.Sub(e.ReceivedAt).Seconds()
	ageBonus := age / (age + ageBonusHalfLifeSec)
	return e.FeePerByte + ancestorBonusWeight*ancestorBonus + ageBonusWeight*ageBonus
}

// senderQueue holds one sender's pending transactions ordered by nonce.
type senderQueue struct {
	mu      sync.Mutex
	byNonce map[uint64]*MempoolEntry
}

// Mempool is the priority queue of pending transactions: replace-by-fee,
// child-pays-for-parent bundling, per-sender nonce ordering, capacity
// eviction (spec §4.3). Locking follows the global→sender order mandated by
// spec §5 to avoid deadlock: Enqueue/Evict take the global lock first, then
// (if needed) a sender lock; sender-only operations never acquire the
// global lock while holding a sender lock.
type Mempool struct {
	globalMu sync.RWMutex
	senders  map[string]*senderQueue
	byHash   map[[32]byte]*MempoolEntry

	maxBytes     int64
	curBytes     int64
	blockMinFeeB float64

	log *logrus.Entry
}

// NewMempool returns an empty mempool capped at maxBytes total wire size
// (spec §4.3 MEMPOOL_MAX_BYTES).
func NewMempool(maxBytes int64) *Mempool {
	return &Mempool{
		senders: make(map[string]*senderQueue),
		byHash:  make(map[[32]byte]*MempoolEntry),
		maxBytes: maxBytes,
		log:      logrus.WithField("component", "mempool"),
	}
}

func (m *Mempool) senderQueueFor(sender string) *senderQueue {
	q, ok := m.senders[sender]
	if !ok {
		q = &senderQueue{byNonce: make(map[uint64]*MempoolEntry)}
		m.senders[sender] = q
	}
	return q
}

// Enqueue admits tx, applying replace-by-fee when a transaction with the
// same (from, nonce) already exists, and enforcing the N_GAP contiguous-
// nonce tolerance (spec §4.3).
func (m *Mempool) Enqueue(tx Transaction, accountNonce uint64) error {
	if tx.Nonce <= accountNonce && tx.Type != TxMiningReward {
		return NewError(KindInvalidNonce, "nonce already applied")
	}
	if tx.Nonce > accountNonce+NGap {
		return NewError(KindInvalidNonce, "nonce gap exceeds N_GAP")
	}

	entry := &MempoolEntry{
		Tx:         tx,
		ReceivedAt: time.Now(),
		FeePerByte: tx.FeePerByte(),
	}

	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	h := tx.Hash()
	if _, exists := m.byHash[h]; exists {
		return NewError(KindDuplicateTransaction, "transaction already known")
	}

	q := m.senderQueueFor(tx.From)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byNonce[tx.Nonce]; ok {
		minAccepted := existing.FeePerByte * (1 + RBFMinBumpRatio)
		if entry.FeePerByte < minAccepted {
			return NewError(KindDuplicateTransaction, "replacement fee below RBF minimum bump")
		}
		delete(m.byHash, existing.Tx.Hash())
		m.curBytes -= int64(existing.Tx.WireSize())
	}

	if m.curBytes+int64(tx.WireSize()) > m.maxBytes {
		if !m.evictLowestPriorityLocked() {
			return NewError(KindResourceExhausted, "mempool at capacity")
		}
	}

	q.byNonce[tx.Nonce] = entry
	m.byHash[h] = entry
	m.curBytes += int64(tx.WireSize())
	m.log.WithFields(logrus.Fields{"tx_hash": entry.Tx.HashHex(), "from": tx.From}).Debug("enqueued transaction")
	return nil
}

// evictLowestPriorityLocked removes the single lowest-priority entry across
// all senders. Caller must hold globalMu. Eviction reads every sender's
// queue, the caller's own included, without taking any sender lock, so a
// caller already holding one sender lock does not deadlock.
func (m *Mempool) evictLowestPriorityLocked() bool {
	now := time.Now()
	var worst *MempoolEntry
	var worstSender string
	var worstNonce uint64
	worstScore := math.Inf(1)

	for sender, q := range m.senders {
		for nonce, e := range q.byNonce {
			score := e.priority(now)
			if score < worstScore {
				worstScore = score
				worst = e
				worstSender = sender
				worstNonce = nonce
			}
		}
	}
	if worst == nil {
		return false
	}
	delete(m.senders[worstSender].byNonce, worstNonce)
	delete(m.byHash, worst.Tx.Hash())
	m.curBytes -= int64(worst.Tx.WireSize())
	return true
}

// TakeUpTo selects up to maxBytes worth of mempool entries for block
// inclusion, respecting per-sender nonce contiguity and bundling
// ancestor/descendant fee via child-pays-for-parent (spec §4.3, §4.5): a
// sender's transactions are only eligible starting at its first contiguous
// nonce and stop at the first gap; the whole contiguous run is scored as
// one bundle so a low-fee parent can be carried by a higher-fee child.
func (m *Mempool) TakeUpTo(maxBytes int, maxCount int) []Transaction {
	m.globalMu.RLock()
	defer m.globalMu.RUnlock()

	type bundle struct {
		txs      []Transaction
		size     int
		priority float64
		oldest   time.Time
	}

	now := time.Now()
	var bundles []bundle
	for _, q := range m.senders {
		q.mu.Lock()
		nonces := make([]uint64, 0, len(q.byNonce))
		for n := range q.byNonce {
			nonces = append(nonces, n)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

		var run []Transaction
		var runSize int
		var aggFee float64
		var oldest time.Time
		var expect uint64
		first := true
		for _, n := range nonces {
			if first {
				expect = n
				first = false
			} else if n != expect {
				break // gap: stop the contiguous run here
			}
			e := q.byNonce[n]
			run = append(run, e.Tx)
			runSize += e.Tx.WireSize()
			aggFee += e.FeePerByte * float64(e.Tx.WireSize())
			if oldest.IsZero() || e.ReceivedAt.Before(oldest) {
				oldest = e.ReceivedAt
			}
			expect = n + 1
		}
		q.mu.Unlock()

		if len(run) == 0 {
			continue
		}
		avgFeePerByte := aggFee / float64(runSize)
		age := now.Sub(oldest).Seconds()
		ageBonus := age / (age + ageBonusHalfLifeSec)
		bundles = append(bundles, bundle{
			txs:      run,
			size:     runSize,
			priority: avgFeePerByte + ageBonusWeight*ageBonus,
			oldest:   oldest,
		})
	}

	sort.Slice(bundles, func(i, j int) bool {
		if bundles[i].priority != bundles[j].priority {
			return bundles[i].priority > bundles[j].priority
		}
		return bundles[i].oldest.Before(bundles[j].oldest)
	})

	var out []Transaction
	var usedBytes int
	for _, b := range bundles {
		if len(out)+len(b.txs) > maxCount {
			continue
		}
		if usedBytes+b.size > maxBytes {
			continue
		}
		out = append(out, b.txs...)
		usedBytes += b.size
	}
	return out
}

// Remove drops confirmed transactions from the pool after block inclusion.
func (m *Mempool) Remove(txs []Transaction) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	for _, tx := range txs {
		q, ok := m.senders[tx.From]
		if !ok {
			continue
		}
		q.mu.Lock()
		delete(q.byNonce, tx.Nonce)
		q.mu.Unlock()
		delete(m.byHash, tx.Hash())
		m.curBytes -= int64(tx.WireSize())
	}
}

// Size returns the current pool size in bytes and transaction count.
func (m *Mempool) Size() (bytes int64, count int) {
	m.globalMu.RLock()
	defer m.globalMu.RUnlock()
	return m.curBytes, len(m.byHash)
}
