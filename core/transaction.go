package core

import (
	"encoding/hex"
	"math/big"
)

// TxType enumerates the transaction kinds carried by a block (spec §3).
type TxType uint8

const (
	TxTransfer TxType = iota
	TxContractCreate
	TxContractCheckpoint
	TxContractFinalize
	TxMiningReward
)

// Transaction is the wire-level unit of state transition (spec §3). Hash is
// derived, never transmitted; From is empty for TxMiningReward.
type Transaction struct {
	Type      TxType
	From      string
	To        string
	Amount    Amount
	Nonce     uint64
	Fee       Amount
	Timestamp float64
	Payload   []byte
	Signature []byte
}

// canonicalBody returns the canonical encoding of every field except the
// signature — the message the sender actually signs, and what the tx hash
// commits to (spec §4.1, §6).
func (t *Transaction) canonicalBody() []byte {
	enc := NewCanonicalEncoder().
		Fixed([]byte{byte(t.Type)}).
		String(t.From).
		String(t.To).
		Fixed(sliceOf16(t.Amount.Bytes16())).
		Uint64(t.Nonce).
		Fixed(sliceOf16(t.Fee.Bytes16())).
		Float64(t.Timestamp).
		Variable(t.Payload)
	return enc.Bytes()
}

func sliceOf16(b [16]byte) []byte { return b[:] }

// Hash returns the transaction's double-SHA-256 hash over its canonical
// body plus signature, matching the teacher's "hash commits to signed
// payload" convention.
func (t *Transaction) Hash() [32]byte {
	body := t.canonicalBody()
	full := make([]byte, 0, len(body)+len(t.Signature))
	full = append(full, body...)
	full = append(full, t.Signature...)
	return DoubleHash256(full)
}

// HashHex returns Hash as a lowercase hex string, used for log fields and
// index keys.
func (t *Transaction) HashHex() string {
	h := t.Hash()
	return hex.EncodeToString(h[:])
}

// SignWith signs the transaction's canonical body with the given key,
// storing the result in Signature.
func (t *Transaction) SignWith(algo KeyAlgo, priv interface{}) error {
	sig, err := Sign(algo, priv, t.canonicalBody())
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// VerifySignature checks Signature against From's public key material.
func (t *Transaction) VerifySignature(algo KeyAlgo, pub interface{}) bool {
	if t.Type == TxMiningReward {
		return true // reward txs have no sender, per spec §3
	}
	return Verify(algo, pub, t.canonicalBody(), t.Signature)
}

// VerifySenderSignature recovers the ECDSA signer of Signature and checks it
// matches From, spec §3's "signature verifies under from-address" invariant.
// Every user-originated tx type is wallet-signed with ECDSA (spec §4.1); the
// Ed25519 signature embedded in a CONTRACT_CHECKPOINT payload is a separate,
// inner PoD checkpoint signature checked by Contract.ValidateCheckpoint, not
// this envelope-level one.
func (t *Transaction) VerifySenderSignature() bool {
	if t.Type == TxMiningReward {
		return true
	}
	addr, err := RecoverECDSAAddress(t.canonicalBody(), t.Signature)
	if err != nil {
		return false
	}
	return addr == t.From
}

// WireSize estimates the transaction's wire size, which FeePerByte divides
// the fee by for mempool scoring (spec §4.3). The estimate matches
// the wire format in spec §6: 4+1+23+23+16+8+16+8+4+len(payload)+64, with
// From/To folded to 23 bytes regardless of the human-readable string form.
func (t *Transaction) WireSize() int {
	const fixed = 4 + 1 + 23 + 23 + 16 + 8 + 16 + 8 + 4 + 64
	return fixed + len(t.Payload)
}

func (t *Transaction) FeePerByte() float64 {
	size := t.WireSize()
	if size == 0 {
		return 0
	}
	f := new(big.Float).SetInt(t.Fee.Units())
	feeFloat, _ := f.Float64()
	return feeFloat / float64(size)
}
