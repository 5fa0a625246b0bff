package core

import (
	"math/big"
	"sync"
)

// AmountDecimals is the fixed-point scale used for every monetary value in
// LogiChain: 18 decimal places represented as a 128-bit signed integer
// (spec §9 Design Notes). big.Int is used as the in-memory carrier since Go
// has no native int128; arithmetic is checked via Add/Sub below and any
// overflow beyond what a signed 128-bit value can hold surfaces as
// ResourceExhausted.
const AmountDecimals = 18

var amountLimit = new(big.Int).Lsh(big.NewInt(1), 127) // 2^127, signed 128-bit bound

// Amount is a fixed-point monetary value (18 decimals) backed by big.Int but
// bounds-checked to fit in a signed 128-bit integer, matching the wire
// format's 16-byte amount/fee fields.
type Amount struct {
	v *big.Int
}

// ZeroAmount returns the additive identity.
func ZeroAmount() Amount { return Amount{v: big.NewInt(0)} }

// AmountFromUnits constructs an Amount from raw base units (already scaled
// by 10^18).
func AmountFromUnits(units int64) Amount {
	return Amount{v: big.NewInt(units)}
}

// AmountFromBigInt constructs an Amount from an existing big.Int of base
// units, defensively copying it.
func AmountFromBigInt(units *big.Int) Amount {
	return Amount{v: new(big.Int).Set(units)}
}

func (a Amount) checked() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Add returns a+b, erroring with ResourceExhausted if the result would not
// fit in a signed 128-bit integer.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.checked(), b.checked())
	if sum.CmpAbs(amountLimit) >= 0 {
		return Amount{}, NewError(KindResourceExhausted, "amount overflow")
	}
	return Amount{v: sum}, nil
}

// Sub returns a-b, erroring with ResourceExhausted on 128-bit overflow (not
// on negative results — callers that require non-negativity, like account
// balances, must check Sign() themselves).
func (a Amount) Sub(b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.checked(), b.checked())
	if diff.CmpAbs(amountLimit) >= 0 {
		return Amount{}, NewError(KindResourceExhausted, "amount overflow")
	}
	return Amount{v: diff}, nil
}

// Cmp compares a and b the way big.Int.Cmp does.
func (a Amount) Cmp(b Amount) int { return a.checked().Cmp(b.checked()) }

// Sign returns -1, 0, or 1 matching big.Int.Sign.
func (a Amount) Sign() int { return a.checked().Sign() }

// Units returns the raw base-unit big.Int (copy).
func (a Amount) Units() *big.Int { return new(big.Int).Set(a.checked()) }

// Bytes16 returns the amount as a 16-byte big-endian magnitude encoding,
// matching the wire format's fixed-point amount/fee fields. Amount and fee
// are never negative on the wire (spec §3's balance/amount invariants), so
// sign is not encoded.
func (a Amount) Bytes16() [16]byte {
	var out [16]byte
	b := a.checked().Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(out[16-len(b):], b)
	return out
}

// MarshalJSON encodes the amount as its decimal base-unit string, so
// CLI-facing JSON (transactions, contracts) round-trips exactly rather than
// losing precision through a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.checked().String() + `"`), nil
}

// UnmarshalJSON parses the decimal base-unit string produced by
// MarshalJSON.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return NewError(KindInvalidBlockStructure, "invalid amount encoding")
	}
	a.v = v
	return nil
}

// AccountStatus describes whether an account may currently transact.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountSuspended
)

// RoleMetrics tracks per-role performance counters referenced by spec §3's
// Account data model (role-metrics).
type RoleMetrics struct {
	Deliveries         uint64
	Revenue            Amount
	CompletedContracts uint64
	AvgRating          float64
}

// Account is the address-indexed account state: balance, nonce, reputation,
// per-role metrics (spec §3).
type Account struct {
	Address    string
	Balance    Amount
	Nonce      uint64
	Reputation float64 // 0..1
	Metrics    RoleMetrics
	CreatedAt  float64
	Status     AccountStatus
}

// AccountStore holds every known account, keyed by address, under a single
// mutex — consistent with the Chain actor being the sole writer of account
// state (spec §5); readers take copy-on-write snapshots via Snapshot.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewAccountStore returns an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*Account)}
}

// Get returns a copy of the account at address, or a fresh zero-value
// account if none exists yet (mirrors the teacher's lazy-account pattern in
// account_and_balance_operations.go).
func (s *AccountStore) Get(address string) Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[address]; ok {
		cp := *a
		return cp
	}
	return Account{Address: address, Balance: ZeroAmount(), Reputation: 0.5, Status: AccountActive}
}

// Put stores acc, overwriting any prior state for acc.Address.
func (s *AccountStore) Put(acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := acc
	s.accounts[acc.Address] = &cp
}

// ApplyDelta atomically adjusts balance and nonce for address, preserving
// invariant 3 (balance ≥ 0 after each applied block). delta may be negative
// (it is added to the balance with Add).
func (s *AccountStore) ApplyDelta(address string, delta Amount, bumpNonce bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[address]
	if !ok {
		a = &Account{Address: address, Balance: ZeroAmount(), Reputation: 0.5, Status: AccountActive}
		s.accounts[address] = a
	}
	newBal, err := a.Balance.Add(delta)
	if err != nil {
		return err
	}
	if newBal.Sign() < 0 {
		return NewError(KindInsufficientBalance, "balance would go negative").WithContext("address", address)
	}
	a.Balance = newBal
	if bumpNonce {
		a.Nonce++
	}
	return nil
}

// Snapshot returns an immutable copy-on-write view of every account,
// matching the single-writer/immutable-reader split spec §5 requires.
func (s *AccountStore) Snapshot() map[string]Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Account, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = *v
	}
	return out
}

// TotalSupply sums every account balance, used by the conservation property
// (spec §8 property 5).
func (s *AccountStore) TotalSupply() Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := ZeroAmount()
	for _, a := range s.accounts {
		total, _ = total.Add(a.Balance)
	}
	return total
}
