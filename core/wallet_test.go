package core

import "testing"

func TestHDWalletDeriveAccountDeterministic(t *testing.T) {
	seed := []byte("fixed-test-seed-material-32-bytes")
	w1 := NewHDWallet(seed)
	w2 := NewHDWallet(seed)

	priv1, addr1, err := w1.DeriveAccount(0)
	if err != nil {
		t.Fatalf("DeriveAccount w1: %v", err)
	}
	priv2, addr2, err := w2.DeriveAccount(0)
	if err != nil {
		t.Fatalf("DeriveAccount w2: %v", err)
	}
	if addr1 != addr2 {
		t.Fatalf("expected deterministic derivation from the same seed, got %s vs %s", addr1, addr2)
	}
	if priv1.D.Cmp(priv2.D) != 0 {
		t.Fatalf("expected identical private scalars from the same seed and index")
	}
}

func TestHDWalletDeriveAccountDistinctIndices(t *testing.T) {
	w := NewHDWallet([]byte("another-fixed-seed"))
	_, addr0, err := w.DeriveAccount(0)
	if err != nil {
		t.Fatalf("DeriveAccount 0: %v", err)
	}
	_, addr1, err := w.DeriveAccount(1)
	if err != nil {
		t.Fatalf("DeriveAccount 1: %v", err)
	}
	if addr0 == addr1 {
		t.Fatalf("expected distinct addresses for distinct derivation indices")
	}
}

func TestHDWalletDeriveAccountAddressHasPrefix(t *testing.T) {
	w := NewHDWallet([]byte("seed-for-prefix-check"))
	_, addr, err := w.DeriveAccount(0)
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	if len(addr) < len(AddressPrefix) || addr[:len(AddressPrefix)] != AddressPrefix {
		t.Fatalf("expected address to carry the LGC prefix, got %s", addr)
	}
}

func TestNewWalletProducesValidMnemonicAndAddress(t *testing.T) {
	mnemonic, wallet, priv, address, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	if mnemonic == "" || wallet == nil || priv == nil || address == "" {
		t.Fatalf("expected all NewWallet outputs to be populated")
	}
	if _, err := SeedFromMnemonic(mnemonic, ""); err != nil {
		t.Fatalf("expected generated mnemonic to be valid BIP-39: %v", err)
	}
}
