package core

import "testing"

func newTestContract(t *testing.T) *Contract {
	t.Helper()
	pickup := Coordinate{Lat: 10, Lng: 10}
	delivery := Coordinate{Lat: 10.05, Lng: 10}
	cargo := CargoAttributes{CargoType: "pallet", WeightKg: 500, EstimatedValue: AmountFromUnits(1000)}
	return NewContract("LGC"+"creator000000000000000000000000000000", pickup, delivery, 500, 50, cargo, AmountFromUnits(200), 1_800_000_000)
}

func signCheckpoint(t *testing.T, priv interface{}, c *Contract, cp *Checkpoint) {
	t.Helper()
	body := cp.canonicalBody(c.ID)
	sig, err := Sign(AlgoEd25519, priv, body)
	if err != nil {
		t.Fatalf("Sign checkpoint: %v", err)
	}
	cp.DriverSig = sig
}

func TestContractFullLifecycle(t *testing.T) {
	c := newTestContract(t)
	pub, priv, err := NewEd25519Keypair()
	if err != nil {
		t.Fatalf("NewEd25519Keypair: %v", err)
	}

	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.State != StateOpen {
		t.Fatalf("expected OPEN after Open")
	}

	if err := c.Accept("driver-1", 0.9); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if c.State != StateAccepted {
		t.Fatalf("expected ACCEPTED after Accept")
	}

	pickupCp := Checkpoint{Seq: 1, Timestamp: 1000, Coord: c.Pickup, AccuracyM: 5}
	signCheckpoint(t, priv, c, &pickupCp)
	if err := c.ValidateCheckpoint(pickupCp, pub, 1000, 300, 50, 10.0); err != nil {
		t.Fatalf("ValidateCheckpoint pickup: %v", err)
	}
	if err := c.ApplyCheckpoint(pickupCp); err != nil {
		t.Fatalf("ApplyCheckpoint pickup: %v", err)
	}
	if c.State != StateInTransit {
		t.Fatalf("expected IN_TRANSIT after pickup checkpoint, got %s", c.State)
	}

	deliveryCp := Checkpoint{Seq: 2, Timestamp: 1100, Coord: c.Delivery, AccuracyM: 5, PrevHash: pickupCp.Hash(c.ID)}
	signCheckpoint(t, priv, c, &deliveryCp)
	if err := c.ValidateCheckpoint(deliveryCp, pub, 1100, 300, 50, 10.0); err != nil {
		t.Fatalf("ValidateCheckpoint delivery: %v", err)
	}
	if err := c.ApplyCheckpoint(deliveryCp); err != nil {
		t.Fatalf("ApplyCheckpoint delivery: %v", err)
	}
	if c.State != StateDelivered {
		t.Fatalf("expected DELIVERED after delivery checkpoint, got %s", c.State)
	}

	driverPay, validatorPay, reservePay, err := c.Validate([][]byte{[]byte("quorum-sig")}, AmountFromUnits(100))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.State != StateValidated {
		t.Fatalf("expected VALIDATED, got %s", c.State)
	}
	total, _ := driverPay.Add(validatorPay)
	total, _ = total.Add(reservePay)
	expectedTotal, _ := AmountFromUnits(100).Add(c.Escrow)
	if total.Cmp(expectedTotal) > 0 {
		t.Fatalf("split payout must not exceed total reward+escrow: got %v want <= %v", total.Units(), expectedTotal.Units())
	}
}

func TestContractAcceptRejectsLowReputation(t *testing.T) {
	c := newTestContract(t)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Accept("driver-1", 0.1); KindOf(err) != KindContractStateIllegalTransition {
		t.Fatalf("expected illegal-transition error for reputation below threshold, got %v", err)
	}
	if c.State != StateOpen {
		t.Fatalf("state must not advance on rejected Accept")
	}
}

func TestContractOpenTwiceRejected(t *testing.T) {
	c := newTestContract(t)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Open(); KindOf(err) != KindContractStateIllegalTransition {
		t.Fatalf("expected illegal-transition error opening an already-OPEN contract")
	}
}

func TestContractValidateCheckpointRejectsBadSignature(t *testing.T) {
	c := newTestContract(t)
	pub, _, err := NewEd25519Keypair()
	if err != nil {
		t.Fatalf("NewEd25519Keypair: %v", err)
	}
	_, otherPriv, err := NewEd25519Keypair()
	if err != nil {
		t.Fatalf("NewEd25519Keypair: %v", err)
	}
	c.Open()
	c.Accept("driver-1", 0.9)

	cp := Checkpoint{Seq: 1, Timestamp: 1000, Coord: c.Pickup, AccuracyM: 5}
	signCheckpoint(t, otherPriv, c, &cp) // signed with the wrong key
	if err := c.ValidateCheckpoint(cp, pub, 1000, 300, 50, 1.0); KindOf(err) != KindInvalidSignature {
		t.Fatalf("expected InvalidSignature for a checkpoint signed by the wrong key, got %v", err)
	}
}

func TestContractValidateCheckpointRejectsOutOfOrderSeq(t *testing.T) {
	c := newTestContract(t)
	pub, priv, _ := NewEd25519Keypair()
	c.Open()
	c.Accept("driver-1", 0.9)

	cp1 := Checkpoint{Seq: 1, Timestamp: 1000, Coord: c.Pickup, AccuracyM: 5}
	signCheckpoint(t, priv, c, &cp1)
	if err := c.ValidateCheckpoint(cp1, pub, 1000, 300, 50, 1.0); err != nil {
		t.Fatalf("ValidateCheckpoint cp1: %v", err)
	}
	c.ApplyCheckpoint(cp1)

	cp3 := Checkpoint{Seq: 3, Timestamp: 1100, Coord: c.Delivery, AccuracyM: 5, PrevHash: cp1.Hash(c.ID)}
	signCheckpoint(t, priv, c, &cp3)
	if err := c.ValidateCheckpoint(cp3, pub, 1100, 300, 50, 1.0); KindOf(err) != KindCheckpointOutOfOrder {
		t.Fatalf("expected CheckpointOutOfOrder for a skipped sequence, got %v", err)
	}
}

func TestContractValidateCheckpointRejectsOutsideEnvelope(t *testing.T) {
	c := newTestContract(t)
	pub, priv, _ := NewEd25519Keypair()
	c.Open()
	c.Accept("driver-1", 0.9)

	farAway := Coordinate{Lat: 50, Lng: 50}
	cp := Checkpoint{Seq: 1, Timestamp: 1000, Coord: farAway, AccuracyM: 5}
	signCheckpoint(t, priv, c, &cp)
	if err := c.ValidateCheckpoint(cp, pub, 1000, 300, 50, 1.0); KindOf(err) != KindCheckpointOutOfTolerance {
		t.Fatalf("expected CheckpointOutOfTolerance for a point far outside the route envelope, got %v", err)
	}
}

func TestContractExpireOnlyFromNonTerminal(t *testing.T) {
	c := newTestContract(t)
	if err := c.Expire(); err != nil {
		t.Fatalf("Expire from DRAFT: %v", err)
	}
	if c.State != StateExpired {
		t.Fatalf("expected EXPIRED")
	}
	if err := c.Expire(); KindOf(err) != KindContractStateIllegalTransition {
		t.Fatalf("expected illegal-transition re-expiring a terminal contract")
	}
}

func TestContractDisputeIsTerminal(t *testing.T) {
	c := newTestContract(t)
	if err := c.Dispute(); err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if !c.State.Terminal() {
		t.Fatalf("expected DISPUTED to be terminal")
	}
	if err := c.Expire(); KindOf(err) != KindContractStateIllegalTransition {
		t.Fatalf("expected no transition out of DISPUTED")
	}
}
