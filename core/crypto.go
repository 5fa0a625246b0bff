// Package core implements LogiChain's consensus-critical subsystem: crypto
// primitives, the coordinate grid, mempool, Proof-of-Delivery contracts,
// block assembly/validation, hybrid consensus, and persistence.
package core

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// KeyAlgo selects which signature scheme a Sign/Verify call targets. Ed25519
// backs validator and PoD checkpoint signatures; ECDSA backs user wallets,
// matching spec §4.1's "two signature schemes behind one capability".
type KeyAlgo uint8

const (
	AlgoEd25519 KeyAlgo = iota
	AlgoECDSA
)

// AddressPrefix is the 3-character human prefix for every LogiChain address.
const AddressPrefix = "LGC"

// Hash256 returns the single SHA-256 digest of data.
func Hash256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// DoubleHash256 returns SHA-256(SHA-256(data)), used for block and
// transaction hashes per spec §4.1 for collision and length-extension
// margin.
func DoubleHash256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Sign produces a signature over msg using the given algorithm. priv must be
// ed25519.PrivateKey for AlgoEd25519 or *ecdsa.PrivateKey for AlgoECDSA.
func Sign(algo KeyAlgo, priv interface{}, msg []byte) ([]byte, error) {
	switch algo {
	case AlgoEd25519:
		pk, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return nil, NewError(KindInvalidSignature, "sign: want ed25519.PrivateKey")
		}
		return ed25519.Sign(pk, msg), nil
	case AlgoECDSA:
		pk, ok := priv.(*ecdsa.PrivateKey)
		if !ok {
			return nil, NewError(KindInvalidSignature, "sign: want *ecdsa.PrivateKey")
		}
		digest := DoubleHash256(msg)
		return gethcrypto.Sign(digest[:], pk)
	default:
		return nil, NewError(KindInvalidSignature, "sign: unknown algo")
	}
}

// Verify checks sig over msg under pub using the given algorithm. pub must be
// ed25519.PublicKey for AlgoEd25519 or a 65-byte uncompressed secp256k1
// point ([]byte) for AlgoECDSA.
func Verify(algo KeyAlgo, pub interface{}, msg, sig []byte) bool {
	switch algo {
	case AlgoEd25519:
		pk, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(pk, msg, sig)
	case AlgoECDSA:
		pubBytes, ok := pub.([]byte)
		if !ok {
			return false
		}
		if len(sig) == 65 {
			sig = sig[:64] // strip recovery id for plain verification
		}
		digest := DoubleHash256(msg)
		return gethcrypto.VerifySignature(pubBytes, digest[:], sig)
	default:
		return false
	}
}

// NewEd25519Keypair generates a fresh Ed25519 keypair for validators and PoD
// checkpoint signing.
func NewEd25519Keypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// NewECDSAKeypair generates a fresh secp256k1 keypair for a user wallet.
func NewECDSAKeypair() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// NewMnemonic returns a fresh BIP-39 12-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128) // 128 bits -> 12 words
	if err != nil {
		return "", WrapError(KindResourceExhausted, "generate entropy", err)
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic validates and derives a 64-byte seed from a BIP-39
// mnemonic and an optional passphrase.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, NewError(KindInvalidSignature, "invalid mnemonic")
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}

// ECDSAKeyFromSeed derives a deterministic secp256k1 private key from a
// BIP-39 seed, taken from the seed's first 32 bytes. It is independent of
// (*HDWallet).DeriveAccount in wallet.go, which derives child accounts from
// an HMAC-SHA256 master over the seed rather than from this key.
func ECDSAKeyFromSeed(seed []byte) (*ecdsa.PrivateKey, error) {
	if len(seed) < 32 {
		return nil, NewError(KindInvalidSignature, "seed too short")
	}
	return gethcrypto.ToECDSA(seed[:32])
}

// MarshalPubKey returns the uncompressed public key bytes for pub,
// appropriate for Address derivation and AlgoECDSA verification.
func MarshalPubKey(pub *ecdsa.PublicKey) []byte {
	return gethcrypto.FromECDSAPub(pub)
}

// AddressFromPubKey derives a LogiChain address: the prefix "LGC" followed
// by the hex of the last 20 bytes of SHA-256(public key) (spec §4.1).
func AddressFromPubKey(pub []byte) string {
	h := sha256.Sum256(pub)
	return AddressPrefix + hex.EncodeToString(h[12:])
}

// AddressFromEd25519 derives a LogiChain address for an Ed25519 identity
// (validators and PoD checkpoint signers), using the same last-20-bytes
// rule as wallet addresses.
func AddressFromEd25519(pub ed25519.PublicKey) string {
	return AddressFromPubKey(pub)
}

// RecoverECDSAAddress recovers the secp256k1 public key that produced sig
// over msg and returns its LogiChain address, matching the teacher's
// recover-then-compare pattern (core/transactions.go's VerifySig: SigToPub
// then PubkeyToAddress) rather than requiring a separately carried public
// key — LogiChain addresses are one-way hashes of a pubkey, so the sender's
// pubkey can only be recovered from the signature itself.
func RecoverECDSAAddress(msg, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", NewError(KindInvalidSignature, "ecdsa signature must carry a recovery id")
	}
	digest := DoubleHash256(msg)
	pub, err := gethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", WrapError(KindInvalidSignature, "recover signer pubkey", err)
	}
	return AddressFromPubKey(gethcrypto.FromECDSAPub(pub)), nil
}

// CanonicalEncoder builds the canonical, fixed-order, length-prefixed byte
// encoding that every signed LogiChain structure (transaction, checkpoint,
// block header) signs over, per spec §4.1: "signatures cover canonical
// field tuples; canonical encoding concatenates fields in a fixed declared
// order with length-prefix for variable fields."
type CanonicalEncoder struct {
	buf []byte
}

// NewCanonicalEncoder returns an empty encoder.
func NewCanonicalEncoder() *CanonicalEncoder {
	return &CanonicalEncoder{buf: make([]byte, 0, 128)}
}

// Fixed appends a fixed-width field verbatim (no length prefix).
func (c *CanonicalEncoder) Fixed(b []byte) *CanonicalEncoder {
	c.buf = append(c.buf, b...)
	return c
}

// Variable appends a variable-length field preceded by its 4-byte
// big-endian length.
func (c *CanonicalEncoder) Variable(b []byte) *CanonicalEncoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	c.buf = append(c.buf, lenBuf[:]...)
	c.buf = append(c.buf, b...)
	return c
}

// Uint64 appends an 8-byte big-endian integer.
func (c *CanonicalEncoder) Uint64(v uint64) *CanonicalEncoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	c.buf = append(c.buf, b[:]...)
	return c
}

// Int64 appends an 8-byte big-endian signed integer as its two's-complement
// bits. Amounts are not encoded through it: they go in as Fixed(Bytes16())
// (see Amount in account.go).
func (c *CanonicalEncoder) Int64(v int64) *CanonicalEncoder {
	return c.Uint64(uint64(v))
}

// Float64 appends an 8-byte IEEE-754 double, matching the wire format for
// timestamps (spec §6).
func (c *CanonicalEncoder) Float64(v float64) *CanonicalEncoder {
	return c.Uint64(math.Float64bits(v))
}

// String appends a UTF-8 string as a variable field.
func (c *CanonicalEncoder) String(s string) *CanonicalEncoder {
	return c.Variable([]byte(s))
}

// Bytes returns the accumulated canonical encoding.
func (c *CanonicalEncoder) Bytes() []byte { return c.buf }
