package core

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContractState is a node in the Proof-of-Delivery lifecycle graph
// (spec §4.4).
type ContractState uint8

const (
	StateDraft ContractState = iota
	StateOpen
	StateAccepted
	StateInTransit
	StateDelivered
	StateValidated
	StateExpired
	StateDisputed
)

func (s ContractState) Terminal() bool {
	return s == StateValidated || s == StateExpired || s == StateDisputed
}

func (s ContractState) String() string {
	switch s {
	case StateDraft:
		return "DRAFT"
	case StateOpen:
		return "OPEN"
	case StateAccepted:
		return "ACCEPTED"
	case StateInTransit:
		return "IN_TRANSIT"
	case StateDelivered:
		return "DELIVERED"
	case StateValidated:
		return "VALIDATED"
	case StateExpired:
		return "EXPIRED"
	case StateDisputed:
		return "DISPUTED"
	default:
		return "UNKNOWN"
	}
}

// ReputationThreshold is the minimum driver reputation required to accept a
// contract (spec §4.4 OPEN→ACCEPTED).
const ReputationThreshold = 0.5

// Reward split applied at DELIVERED→VALIDATED (spec §4.4).
const (
	DriverShare     = 0.70
	ValidatorShare  = 0.20
	ReserveShare    = 0.10
	RepSuccessDelta = 0.05
	RepExpireDelta  = 0.20
)

// CargoAttributes describes the shipped goods (spec §3 Contract).
type CargoAttributes struct {
	CargoType      string
	WeightKg       float64
	VolumeM3       float64
	Priority       int
	EstimatedValue Amount
}

// SensorReading carries optional checkpoint telemetry (spec §3 Checkpoint).
type SensorReading struct {
	TemperatureC float64
	HumidityPct  float64
	Shock        bool
}

// Checkpoint is one signed, geolocated waypoint in a contract's delivery
// trail (spec §3).
type Checkpoint struct {
	Seq          uint64
	Timestamp    float64
	Coord        Coordinate
	AccuracyM    float64
	Sensor       *SensorReading
	DriverSig    []byte
	PrevHash     [32]byte
}

// canonicalBody is the byte sequence the driver signs:
// contract_id ‖ seq ‖ timestamp ‖ coord ‖ prev_checkpoint_hash (spec §3).
func (c *Checkpoint) canonicalBody(contractID string) []byte {
	return NewCanonicalEncoder().
		String(contractID).
		Uint64(c.Seq).
		Float64(c.Timestamp).
		Float64(c.Coord.Lat).
		Float64(c.Coord.Lng).
		Fixed(c.PrevHash[:]).
		Bytes()
}

// Hash commits this checkpoint into the contract's tamper-evident chain
// (spec §3: "each checkpoint hash commits to the previous").
func (c *Checkpoint) Hash(contractID string) [32]byte {
	body := c.canonicalBody(contractID)
	full := append(append([]byte{}, body...), c.DriverSig...)
	return DoubleHash256(full)
}

// Contract is a logistics delivery tracked end-to-end as a state machine
// (spec §3, §4.4).
type Contract struct {
	ID            string
	Creator       string // establishment
	Counterparty  string // driver, assigned on acceptance
	Pickup        Coordinate
	Delivery      Coordinate
	ToleranceM    float64
	MaxErrorM     float64
	Cargo         CargoAttributes
	Escrow        Amount
	Expiration    float64
	State         ContractState
	Checkpoints   []Checkpoint
	Attestations  [][]byte // BFT validator signatures over the VALIDATED transition
}

var contractLog = logrus.WithField("component", "contract")

// NewContract creates a contract in DRAFT, to be opened by a
// CONTRACT_CREATE transaction (spec §4.4).
func NewContract(creator string, pickup, delivery Coordinate, toleranceM, maxErrorM float64, cargo CargoAttributes, escrow Amount, expiration float64) *Contract {
	return &Contract{
		ID:         uuid.NewString(),
		Creator:    creator,
		Pickup:     pickup,
		Delivery:   delivery,
		ToleranceM: toleranceM,
		MaxErrorM:  maxErrorM,
		Cargo:      cargo,
		Escrow:     escrow,
		Expiration: expiration,
		State:      StateDraft,
	}
}

// Open transitions DRAFT→OPEN on CONTRACT_CREATE application.
func (c *Contract) Open() error {
	if c.State != StateDraft {
		return NewError(KindContractStateIllegalTransition, "contract not in DRAFT").WithContext("contract_id", c.ID)
	}
	c.State = StateOpen
	return nil
}

// Accept transitions OPEN→ACCEPTED when a driver's ACCEPT tx verifies and
// the driver's reputation clears REP_THRESHOLD (spec §4.4).
func (c *Contract) Accept(driver string, driverReputation float64) error {
	if c.State != StateOpen {
		return NewError(KindContractStateIllegalTransition, "contract not OPEN").WithContext("contract_id", c.ID)
	}
	if driverReputation < ReputationThreshold {
		return NewError(KindContractStateIllegalTransition, "driver reputation below threshold").WithContext("contract_id", c.ID)
	}
	c.Counterparty = driver
	c.State = StateAccepted
	return nil
}

// envelopeSamples returns linear-interpolation points between Pickup and
// Delivery spaced at MAX_STEP_KM, forming the route the checkpoint envelope
// is built around (spec §4.4; resolved per SPEC_FULL.md Open Question d:
// exactly one pickup and one delivery point, no multi-leg waypoints).
func (c *Contract) envelopeSamples(maxStepKm float64) []Coordinate {
	total := HaversineKm(c.Pickup, c.Delivery)
	if total <= 0 {
		return []Coordinate{c.Pickup, c.Delivery}
	}
	steps := int(total/maxStepKm) + 1
	samples := make([]Coordinate, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		samples = append(samples, Coordinate{
			Lat: c.Pickup.Lat + f*(c.Delivery.Lat-c.Pickup.Lat),
			Lng: c.Pickup.Lng + f*(c.Delivery.Lng-c.Pickup.Lng),
		})
	}
	return samples
}

// insideEnvelope reports whether coord lies within ToleranceM of the union
// of discs around Pickup, Delivery, and the interpolated route samples
// (spec §4.4 envelope definition).
func (c *Contract) insideEnvelope(coord Coordinate, maxStepKm float64) bool {
	for _, sample := range c.envelopeSamples(maxStepKm) {
		if HaversineMeters(coord, sample) <= c.ToleranceM {
			return true
		}
	}
	return false
}

// ValidateCheckpoint runs the ordered checkpoint validation rules from
// spec §4.4, returning the first failure encountered. now is the block
// ingest time; tDriftSec and maxStepKm are the configured tolerances.
func (c *Contract) ValidateCheckpoint(cp Checkpoint, driverPub interface{}, now float64, tDriftSec, gpsAccuracyLimitM, maxStepKm float64) error {
	body := cp.canonicalBody(c.ID)
	if !Verify(AlgoEd25519, driverPub, body, cp.DriverSig) {
		return NewError(KindInvalidSignature, "checkpoint signature invalid").WithContext("contract_id", c.ID)
	}

	var prevSeq uint64
	var prevHash [32]byte
	if n := len(c.Checkpoints); n > 0 {
		prevSeq = c.Checkpoints[n-1].Seq
		prevHash = c.Checkpoints[n-1].Hash(c.ID)
	}
	if len(c.Checkpoints) > 0 && cp.Seq != prevSeq+1 {
		return NewError(KindCheckpointOutOfOrder, "sequence not prev+1").WithContext("contract_id", c.ID)
	}
	if len(c.Checkpoints) > 0 && cp.PrevHash != prevHash {
		return NewError(KindCheckpointOutOfOrder, "prev_checkpoint_hash mismatch").WithContext("contract_id", c.ID)
	}

	drift := cp.Timestamp - now
	if drift < 0 {
		drift = -drift
	}
	if drift > tDriftSec {
		return NewError(KindTimestampDrift, "checkpoint timestamp outside drift tolerance").WithContext("contract_id", c.ID)
	}

	if cp.AccuracyM > gpsAccuracyLimitM || cp.AccuracyM > c.MaxErrorM {
		return NewError(KindCheckpointOutOfTolerance, "gps accuracy exceeds limit").WithContext("contract_id", c.ID)
	}

	if len(c.Checkpoints) > 0 {
		step := HaversineKm(c.Checkpoints[len(c.Checkpoints)-1].Coord, cp.Coord)
		if step > maxStepKm {
			return NewError(KindCheckpointOutOfTolerance, "step distance exceeds MAX_STEP_KM").WithContext("contract_id", c.ID)
		}
	}

	if !c.insideEnvelope(cp.Coord, maxStepKm) {
		return NewError(KindCheckpointOutOfTolerance, "checkpoint outside route envelope").WithContext("contract_id", c.ID)
	}

	return nil
}

// ApplyCheckpoint appends a validated checkpoint and advances the lifecycle:
// the first checkpoint within tolerance of Pickup moves ACCEPTED→IN_TRANSIT;
// a checkpoint within tolerance of Delivery moves IN_TRANSIT→DELIVERED.
func (c *Contract) ApplyCheckpoint(cp Checkpoint) error {
	switch c.State {
	case StateAccepted:
		if HaversineMeters(cp.Coord, c.Pickup) > c.ToleranceM {
			return NewError(KindCheckpointOutOfTolerance, "first checkpoint outside pickup tolerance").WithContext("contract_id", c.ID)
		}
		c.State = StateInTransit
	case StateInTransit:
		// stays IN_TRANSIT unless this checkpoint reaches delivery
	default:
		return NewError(KindContractStateIllegalTransition, "checkpoints only accepted in ACCEPTED/IN_TRANSIT").WithContext("contract_id", c.ID)
	}

	c.Checkpoints = append(c.Checkpoints, cp)

	if HaversineMeters(cp.Coord, c.Delivery) <= c.ToleranceM {
		c.State = StateDelivered
	}
	contractLog.WithFields(logrus.Fields{"contract_id": c.ID, "state": c.State.String(), "seq": cp.Seq}).Debug("checkpoint applied")
	return nil
}

// Validate transitions DELIVERED→VALIDATED once a BFT quorum of validator
// signatures over the transition is collected, returning the payout
// amounts for driver, validator pool, and network reserve (spec §4.4).
func (c *Contract) Validate(attestations [][]byte, baseReward Amount) (driverPay, validatorPay, reservePay Amount, err error) {
	if c.State != StateDelivered {
		return Amount{}, Amount{}, Amount{}, NewError(KindContractStateIllegalTransition, "contract not DELIVERED").WithContext("contract_id", c.ID)
	}
	c.Attestations = attestations
	c.State = StateValidated

	total, addErr := baseReward.Add(c.Escrow)
	if addErr != nil {
		return Amount{}, Amount{}, Amount{}, addErr
	}
	totalFloat := new(big.Float).SetInt(total.Units())
	splitUnits := func(share float64) *big.Int {
		f := new(big.Float).Mul(totalFloat, big.NewFloat(share))
		i, _ := f.Int(nil)
		return i
	}

	return AmountFromBigInt(splitUnits(DriverShare)),
		AmountFromBigInt(splitUnits(ValidatorShare)),
		AmountFromBigInt(splitUnits(ReserveShare)),
		nil
}

// Expire transitions any non-terminal state to EXPIRED once block time
// passes Expiration with no terminal delivery (spec §4.4).
func (c *Contract) Expire() error {
	if c.State.Terminal() {
		return NewError(KindContractStateIllegalTransition, "contract already terminal").WithContext("contract_id", c.ID)
	}
	c.State = StateExpired
	return nil
}

// Dispute transitions any non-terminal state to DISPUTED. Per
// SPEC_FULL.md's resolved Open Question (c), this is a terminal state with
// no on-chain resolution path in this subsystem.
func (c *Contract) Dispute() error {
	if c.State.Terminal() {
		return NewError(KindContractStateIllegalTransition, "contract already terminal").WithContext("contract_id", c.ID)
	}
	c.State = StateDisputed
	return nil
}
