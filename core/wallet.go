package core

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ripemd160"
)

var walletLog = logrus.WithField("component", "wallet")

// SetWalletLogger redirects wallet package logging to logger, matching the
// CLI onboarding flow's one-time logger wiring.
func SetWalletLogger(logger *logrus.Logger) {
	walletLog = logger.WithField("component", "wallet")
}

// HDWallet derives per-account keypairs from a single BIP-39 seed using
// hardened, SLIP-0010-style derivation: each child key is
// HMAC-SHA256(parent_key, index) folded through RIPEMD-160 to produce fresh
// key material, then reduced onto the secp256k1 curve.
type HDWallet struct {
	master []byte // 32-byte master key material derived from the seed
}

// NewHDWallet builds a wallet from a BIP-39 seed (see SeedFromMnemonic).
func NewHDWallet(seed []byte) *HDWallet {
	mac := hmac.New(sha256.New, []byte("LogiChain seed"))
	mac.Write(seed)
	return &HDWallet{master: mac.Sum(nil)}
}

// DeriveAccount derives the hardened child key at index and returns its
// secp256k1 private key plus the LogiChain address for its public key.
func (w *HDWallet) DeriveAccount(index uint32) (*ecdsa.PrivateKey, string, error) {
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], index|0x80000000) // hardened

	mac := hmac.New(sha256.New, w.master)
	mac.Write(idxBuf[:])
	childSeed := mac.Sum(nil)

	r := ripemd160.New()
	r.Write(childSeed)
	fold := r.Sum(nil) // 20 bytes

	// Combine the RIPEMD-160 fold back over the HMAC output to obtain a
	// full 32-byte scalar candidate for the curve.
	mac2 := hmac.New(sha256.New, childSeed)
	mac2.Write(fold)
	material := mac2.Sum(nil)

	priv, err := gethcrypto.ToECDSA(material)
	if err != nil {
		return nil, "", WrapError(KindInvalidSignature, "derive child key", err)
	}
	addr := AddressFromPubKey(MarshalPubKey(&priv.PublicKey))
	walletLog.WithFields(logrus.Fields{"index": index, "address": addr}).Debug("derived account")
	return priv, addr, nil
}

// NewWallet generates a fresh mnemonic and its first derived account,
// matching the onboarding flow `cmd/cli/wallet.go` exposes.
func NewWallet() (mnemonic string, wallet *HDWallet, priv *ecdsa.PrivateKey, address string, err error) {
	mnemonic, err = NewMnemonic()
	if err != nil {
		return "", nil, nil, "", err
	}
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return "", nil, nil, "", err
	}
	wallet = NewHDWallet(seed)
	priv, address, err = wallet.DeriveAccount(0)
	if err != nil {
		return "", nil, nil, "", err
	}
	return mnemonic, wallet, priv, address, nil
}
