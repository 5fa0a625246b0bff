package core

// Composition layer wiring the Contract/PoD state machine and account
// balances into the block-application path (spec §3's core ownership
// model, §4.4, §5). ApplyBlock is the single place that turns an
// already-validated block's transactions into account and contract state,
// shared by the daemon's mine/append loop and the CLI's offline replay so
// the two never drift (spec §5: "the Chain actor is the sole writer of
// account and contract state").

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// ContractRegistry holds every known contract keyed by ID, under a single
// mutex, mirroring AccountStore's single-writer/copy-on-read discipline
// (spec §5; account.go).
type ContractRegistry struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
}

// NewContractRegistry returns an empty registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{contracts: make(map[string]*Contract)}
}

// Get returns a defensive copy of the contract at id.
func (r *ContractRegistry) Get(id string) (*Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, false
	}
	cp := *c
	cp.Checkpoints = append([]Checkpoint{}, c.Checkpoints...)
	return &cp, true
}

// Put stores a defensive copy of c, overwriting any prior state for c.ID.
func (r *ContractRegistry) Put(c *Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Checkpoints = append([]Checkpoint{}, c.Checkpoints...)
	r.contracts[c.ID] = &cp
}

// Snapshot returns an immutable copy-on-write view of every contract.
func (r *ContractRegistry) Snapshot() map[string]Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Contract, len(r.contracts))
	for k, v := range r.contracts {
		out[k] = *v
	}
	return out
}

// ContractCreatePayload is the JSON encoding of a CONTRACT_CREATE
// transaction's opaque Payload field (spec §3). ContractID is assigned by
// the transaction's composer (wallet/service layer) rather than generated
// at apply time, so every node derives the identical contract_id from the
// same transaction.
type ContractCreatePayload struct {
	ContractID string          `json:"contract_id"`
	Pickup     Coordinate      `json:"pickup"`
	Delivery   Coordinate      `json:"delivery"`
	ToleranceM float64         `json:"tolerance_m"`
	MaxErrorM  float64         `json:"max_error_m"`
	Cargo      CargoAttributes `json:"cargo"`
	Escrow     Amount          `json:"escrow"`
	Expiration float64         `json:"expiration"`
}

// CheckpointPayload is the JSON encoding of a CONTRACT_CHECKPOINT
// transaction's opaque Payload field. DriverPub carries the driver's raw
// Ed25519 public key hex-encoded: unlike the ECDSA scheme backing
// transaction envelopes, an Ed25519 signature cannot be recovered from the
// signature alone, so the key must travel with the payload (spec §4.1).
type CheckpointPayload struct {
	ContractID string         `json:"contract_id"`
	Seq        uint64         `json:"seq"`
	Timestamp  float64        `json:"timestamp"`
	Coord      Coordinate     `json:"coord"`
	AccuracyM  float64        `json:"accuracy_m"`
	Sensor     *SensorReading `json:"sensor,omitempty"`
	PrevHash   string         `json:"prev_hash"`
	DriverSig  string         `json:"driver_sig"`
	DriverPub  string         `json:"driver_pub"`
}

// ContractFinalizePayload is the JSON encoding of a CONTRACT_FINALIZE
// transaction's opaque Payload field, carrying the BFT quorum's signatures
// over the DELIVERED→VALIDATED transition (spec §4.4).
type ContractFinalizePayload struct {
	ContractID   string   `json:"contract_id"`
	Attestations [][]byte `json:"attestations"`
}

// poolAddress deterministically derives a protocol-owned payout address
// from a label, the way AddressFromPubKey derives a wallet address from a
// key — there is no wallet behind these, only a fixed sink for the
// validator-pool and network-reserve shares of a CONTRACT_FINALIZE payout
// (spec §4.4's 20%/10% split has no owning account defined elsewhere).
func poolAddress(label string) string {
	h := sha256.Sum256([]byte("logichain-protocol-pool:" + label))
	return AddressPrefix + hex.EncodeToString(h[12:32])
}

// ValidatorPoolAddress and NetworkReserveAddress receive the validator and
// reserve shares of every CONTRACT_FINALIZE payout (spec §4.4).
var (
	ValidatorPoolAddress  = poolAddress("validator-pool")
	NetworkReserveAddress = poolAddress("network-reserve")
)

// negate returns the additive inverse of a, used to debit a balance via
// AccountStore.ApplyDelta's signed-delta convention.
func negate(a Amount) Amount {
	neg, err := ZeroAmount().Sub(a)
	if err != nil {
		return ZeroAmount()
	}
	return neg
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, NewError(KindInvalidBlockStructure, "malformed 32-byte hash field")
	}
	copy(out[:], raw)
	return out, nil
}

// ApplyParams bundles the network-configured thresholds ApplyTx needs to
// validate contract transitions, mirroring the geography/consensus config
// groups in pkg/config (spec §4.4, §6).
type ApplyParams struct {
	TDriftSeconds         float64
	GPSAccuracyLimitM     float64
	MaxStepKm             float64
	HalvingIntervalBlocks uint64
	Now                   float64
	BaseReward            Amount
}

var applyLog = logrus.WithField("component", "apply")

// ApplyTx applies one already block-included transaction's effect to
// accounts and contracts, composing the Contract/PoD state machine
// (contract.go) with account balances (spec §3's core ownership model).
// Structural/signature validation has already happened in ValidateBlock;
// failures here are contract-transition-illegal conditions that abort the
// whole block's application (see ApplyBlock).
func ApplyTx(accounts *AccountStore, contracts *ContractRegistry, grid *CoordinateGrid, tx *Transaction, params ApplyParams) error {
	switch tx.Type {
	case TxMiningReward:
		if tx.To == "" {
			return nil
		}
		return accounts.ApplyDelta(tx.To, tx.Amount, false)

	case TxTransfer:
		spend, err := tx.Amount.Add(tx.Fee)
		if err != nil {
			return err
		}
		if err := accounts.ApplyDelta(tx.From, negate(spend), true); err != nil {
			return err
		}
		return accounts.ApplyDelta(tx.To, tx.Amount, false)

	case TxContractCreate:
		return applyContractCreate(accounts, contracts, grid, tx)

	case TxContractCheckpoint:
		return applyContractCheckpoint(accounts, contracts, tx, params)

	case TxContractFinalize:
		return applyContractFinalize(accounts, contracts, grid, tx, params)

	default:
		return NewError(KindInvalidBlockStructure, "unknown transaction type")
	}
}

func applyContractCreate(accounts *AccountStore, contracts *ContractRegistry, grid *CoordinateGrid, tx *Transaction) error {
	var p ContractCreatePayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return WrapError(KindInvalidBlockStructure, "decode CONTRACT_CREATE payload", err)
	}
	c := &Contract{
		ID:         p.ContractID,
		Creator:    tx.From,
		Pickup:     p.Pickup,
		Delivery:   p.Delivery,
		ToleranceM: p.ToleranceM,
		MaxErrorM:  p.MaxErrorM,
		Cargo:      p.Cargo,
		Escrow:     p.Escrow,
		Expiration: p.Expiration,
		State:      StateDraft,
	}
	if err := c.Open(); err != nil {
		return err
	}
	// Escrow moves from the establishment's balance into the contract, to be
	// paid out alongside the base reward at DELIVERED→VALIDATED
	// (contract.go's Validate sums baseReward+Escrow before splitting it).
	if err := accounts.ApplyDelta(tx.From, negate(p.Escrow), false); err != nil {
		return err
	}
	contracts.Put(c)
	if grid != nil {
		grid.BeginContract(c.Pickup)
	}
	applyLog.WithField("contract_id", c.ID).Debug("contract opened")
	return nil
}

func applyContractCheckpoint(accounts *AccountStore, contracts *ContractRegistry, tx *Transaction, params ApplyParams) error {
	var p CheckpointPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return WrapError(KindInvalidBlockStructure, "decode CONTRACT_CHECKPOINT payload", err)
	}
	c, ok := contracts.Get(p.ContractID)
	if !ok {
		return NewError(KindContractStateIllegalTransition, "unknown contract_id").WithContext("contract_id", p.ContractID)
	}

	driverPubRaw, err := hex.DecodeString(p.DriverPub)
	if err != nil {
		return WrapError(KindInvalidSignature, "decode checkpoint driver pubkey", err)
	}
	driverPub := ed25519.PublicKey(driverPubRaw)
	if AddressFromEd25519(driverPub) != tx.From {
		return NewError(KindInvalidSignature, "checkpoint driver key does not match from-address").WithContext("contract_id", p.ContractID)
	}

	// No dedicated ACCEPT transaction exists in the spec §3 type enum; a
	// driver's first checkpoint against an OPEN contract doubles as
	// acceptance, gated on the same reputation threshold Accept enforces.
	if c.State == StateOpen {
		driver := accounts.Get(tx.From)
		if err := c.Accept(tx.From, driver.Reputation); err != nil {
			return err
		}
	}

	prevHash, err := decodeHash32(p.PrevHash)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(p.DriverSig)
	if err != nil {
		return WrapError(KindInvalidSignature, "decode checkpoint signature", err)
	}
	cp := Checkpoint{
		Seq:       p.Seq,
		Timestamp: p.Timestamp,
		Coord:     p.Coord,
		AccuracyM: p.AccuracyM,
		Sensor:    p.Sensor,
		DriverSig: sig,
		PrevHash:  prevHash,
	}
	if err := c.ValidateCheckpoint(cp, driverPub, params.Now, params.TDriftSeconds, params.GPSAccuracyLimitM, params.MaxStepKm); err != nil {
		return err
	}
	if err := c.ApplyCheckpoint(cp); err != nil {
		return err
	}
	contracts.Put(c)
	return nil
}

func applyContractFinalize(accounts *AccountStore, contracts *ContractRegistry, grid *CoordinateGrid, tx *Transaction, params ApplyParams) error {
	var p ContractFinalizePayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return WrapError(KindInvalidBlockStructure, "decode CONTRACT_FINALIZE payload", err)
	}
	c, ok := contracts.Get(p.ContractID)
	if !ok {
		return NewError(KindContractStateIllegalTransition, "unknown contract_id").WithContext("contract_id", p.ContractID)
	}

	driverPay, validatorPay, reservePay, err := c.Validate(p.Attestations, params.BaseReward)
	if err != nil {
		return err
	}
	if err := accounts.ApplyDelta(c.Counterparty, driverPay, false); err != nil {
		return err
	}
	if err := accounts.ApplyDelta(ValidatorPoolAddress, validatorPay, false); err != nil {
		return err
	}
	if err := accounts.ApplyDelta(NetworkReserveAddress, reservePay, false); err != nil {
		return err
	}

	driver := accounts.Get(c.Counterparty)
	driver.Reputation += RepSuccessDelta * (1 - driver.Reputation)
	driver.Metrics.Deliveries++
	driver.Metrics.CompletedContracts++
	if rev, err := driver.Metrics.Revenue.Add(driverPay); err == nil {
		driver.Metrics.Revenue = rev
	}
	accounts.Put(driver)

	contracts.Put(c)
	if grid != nil {
		grid.EndContract(c.Delivery, true)
	}
	applyLog.WithField("contract_id", c.ID).Info("contract validated and paid out")
	return nil
}

// sweepExpirations transitions any non-terminal contract whose Expiration
// has passed the block's timestamp to EXPIRED, applying the spec §4.4
// reputation penalty to its assigned driver. This is the only caller of
// Contract.Expire outside tests: nothing submits an explicit "expire"
// transaction, so ApplyBlock drives it directly off the block timestamp
// compared with each contract's deadline.
func sweepExpirations(accounts *AccountStore, contracts *ContractRegistry, grid *CoordinateGrid, b *Block) {
	for id, c := range contracts.Snapshot() {
		if c.State.Terminal() || b.Timestamp <= c.Expiration {
			continue
		}
		cc := c
		if err := cc.Expire(); err != nil {
			continue
		}
		contracts.Put(&cc)
		if cc.Counterparty != "" {
			driver := accounts.Get(cc.Counterparty)
			driver.Reputation -= RepExpireDelta * driver.Reputation
			accounts.Put(driver)
		}
		if grid != nil {
			grid.EndContract(cc.Delivery, false)
		}
		applyLog.WithField("contract_id", id).Warn("contract expired without delivery")
	}
}

// ReplayChain rebuilds account and contract state from genesis through
// toHeight by replaying each persisted block through ApplyBlock. This is
// the single mechanism behind the daemon's startup load, its post-reorg
// resync, and the CLI's offline replay (spec §5: "readers obtain immutable
// snapshots via replay") — generalizing the teacher's per-call account
// replay to also carry contract state, so CLI-observed balances and
// daemon-observed balances can never diverge on contract payouts.
func ReplayChain(p *Persistence, toHeight uint64, params ApplyParams) (*AccountStore, *ContractRegistry, error) {
	accounts := NewAccountStore()
	contracts := NewContractRegistry()
	for h := uint64(0); h <= toHeight; h++ {
		b, err := p.BlockAtHeight(h)
		if err != nil {
			return nil, nil, err
		}
		if err := ApplyBlock(accounts, contracts, nil, b, params); err != nil {
			return nil, nil, err
		}
	}
	return accounts, contracts, nil
}

// ApplyBlock applies every transaction in b, in order, to accounts and
// contracts, then sweeps newly-expired contracts — the single shared path
// the daemon's mine/append loop and the CLI's offline replay both drive, so
// account and contract state never diverges between them (spec §5's
// single-writer Chain actor, generalizing the teacher's per-tx account
// replay into one block-level entry point). Callers must treat a non-nil
// error as fatal to this block and restore from the last good snapshot
// (spec §7's PersistenceIoError recovery policy extended to apply errors).
func ApplyBlock(accounts *AccountStore, contracts *ContractRegistry, grid *CoordinateGrid, b *Block, params ApplyParams) error {
	params.Now = b.Timestamp
	params.BaseReward = MiningSchedule(b.Height, params.HalvingIntervalBlocks, AmountFromUnits(50))
	for i := range b.Txs {
		if err := ApplyTx(accounts, contracts, grid, &b.Txs[i], params); err != nil {
			return WrapError(KindInvalidBlockStructure, "apply block transaction", err).WithContext("tx_hash", b.Txs[i].HashHex())
		}
	}
	sweepExpirations(accounts, contracts, grid, b)
	return nil
}
