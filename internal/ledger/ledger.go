package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientBalance is returned when a subtraction would take a
	// collateral or debt balance below zero. Balances never wrap.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAmount is returned for nil, zero, or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// PositionLedger is the authoritative mapping of per-user collateral and
// debt balances. The engine is the only writer; reads are safe from any
// goroutine. All amounts are unsigned fixed-point values held as big.Int.
type PositionLedger struct {
	mu       sync.RWMutex
	registry *Registry

	collateral map[uuid.UUID]map[string]*big.Int // user -> asset -> amount
	debt       map[uuid.UUID]*big.Int            // user -> outstanding debt units
}

// NewPositionLedger creates an empty ledger bound to an asset registry.
func NewPositionLedger(registry *Registry) *PositionLedger {
	return &PositionLedger{
		registry:   registry,
		collateral: make(map[uuid.UUID]map[string]*big.Int),
		debt:       make(map[uuid.UUID]*big.Int),
	}
}

// Registry returns the asset registry the ledger was constructed with.
func (l *PositionLedger) Registry() *Registry {
	return l.registry
}

// CollateralBalance returns a copy of the user's balance for one asset.
// Unknown users and assets read as zero.
func (l *PositionLedger) CollateralBalance(user uuid.UUID, asset string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if perAsset, ok := l.collateral[user]; ok {
		if bal, ok := perAsset[asset]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// DebtBalance returns a copy of the user's outstanding debt.
func (l *PositionLedger) DebtBalance(user uuid.UUID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d, ok := l.debt[user]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// AddCollateral credits amount of asset to the user.
func (l *PositionLedger) AddCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if !l.registry.IsRegistered(asset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	perAsset, ok := l.collateral[user]
	if !ok {
		perAsset = make(map[string]*big.Int)
		l.collateral[user] = perAsset
	}
	bal, ok := perAsset[asset]
	if !ok {
		bal = new(big.Int)
		perAsset[asset] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// SubCollateral debits amount of asset from the user. Rejects rather than
// wrapping when the recorded balance is smaller than amount.
func (l *PositionLedger) SubCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if !l.registry.IsRegistered(asset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	perAsset, ok := l.collateral[user]
	if !ok {
		return fmt.Errorf("%w: user %s has no %s collateral", ErrInsufficientBalance, user, asset)
	}
	bal, ok := perAsset[asset]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: user %s has %s of %s, need %s",
			ErrInsufficientBalance, user, balString(bal), asset, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// AddDebt increases the user's recorded debt.
func (l *PositionLedger) AddDebt(user uuid.UUID, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.debt[user]
	if !ok {
		d = new(big.Int)
		l.debt[user] = d
	}
	d.Add(d, amount)
	return nil
}

// SubDebt decreases the user's recorded debt, rejecting underflow.
func (l *PositionLedger) SubDebt(user uuid.UUID, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.debt[user]
	if !ok || d.Cmp(amount) < 0 {
		return fmt.Errorf("%w: user %s owes %s, repay %s",
			ErrInsufficientBalance, user, balString(d), amount)
	}
	d.Sub(d, amount)
	return nil
}

// Checkpoint captures the full position state of the given users so a
// failed operation can be unwound to a byte-identical ledger. Users not in
// the list are untouched by definition (the engine only mutates the parties
// of the current operation).
type Checkpoint struct {
	collateral map[uuid.UUID]map[string]*big.Int
	debt       map[uuid.UUID]*big.Int
}

// Checkpoint snapshots the positions of the listed users.
func (l *PositionLedger) Checkpoint(users ...uuid.UUID) *Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := &Checkpoint{
		collateral: make(map[uuid.UUID]map[string]*big.Int, len(users)),
		debt:       make(map[uuid.UUID]*big.Int, len(users)),
	}

	for _, user := range users {
		perAsset := make(map[string]*big.Int)
		for asset, bal := range l.collateral[user] {
			perAsset[asset] = new(big.Int).Set(bal)
		}
		cp.collateral[user] = perAsset

		if d, ok := l.debt[user]; ok {
			cp.debt[user] = new(big.Int).Set(d)
		} else {
			cp.debt[user] = nil
		}
	}

	return cp
}

// Restore rewinds the checkpointed users to their captured state.
func (l *PositionLedger) Restore(cp *Checkpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for user, perAsset := range cp.collateral {
		fresh := make(map[string]*big.Int, len(perAsset))
		for asset, bal := range perAsset {
			fresh[asset] = new(big.Int).Set(bal)
		}
		if len(fresh) == 0 {
			delete(l.collateral, user)
		} else {
			l.collateral[user] = fresh
		}
	}

	for user, d := range cp.debt {
		if d == nil {
			delete(l.debt, user)
		} else {
			l.debt[user] = new(big.Int).Set(d)
		}
	}
}

// PositionEntry is one row of a ledger snapshot.
type PositionEntry struct {
	User   uuid.UUID
	Asset  string // empty for the debt entry
	Amount *big.Int
	Debt   bool
}

// Snapshot returns a copy of every nonzero balance for persistence. Assets
// iterate in registry order and users in map order; the persistence layer
// sorts rows before writing.
func (l *PositionLedger) Snapshot() []PositionEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]PositionEntry, 0, len(l.debt)+len(l.collateral))

	for user, perAsset := range l.collateral {
		for _, asset := range l.registry.assets {
			if bal, ok := perAsset[asset]; ok && bal.Sign() > 0 {
				entries = append(entries, PositionEntry{
					User:   user,
					Asset:  asset,
					Amount: new(big.Int).Set(bal),
				})
			}
		}
	}

	for user, d := range l.debt {
		if d.Sign() > 0 {
			entries = append(entries, PositionEntry{
				User:   user,
				Amount: new(big.Int).Set(d),
				Debt:   true,
			})
		}
	}

	return entries
}

// RestoreEntry loads one snapshot row into the ledger. Used on warm restart
// before the engine starts serving operations.
func (l *PositionLedger) RestoreEntry(e PositionEntry) error {
	if e.Debt {
		return l.AddDebt(e.User, e.Amount)
	}
	return l.AddCollateral(e.User, e.Asset, e.Amount)
}

// Users returns every user with any recorded collateral or debt.
func (l *PositionLedger) Users() []uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[uuid.UUID]bool, len(l.collateral)+len(l.debt))
	users := make([]uuid.UUID, 0, len(seen))
	for user := range l.collateral {
		if !seen[user] {
			seen[user] = true
			users = append(users, user)
		}
	}
	for user := range l.debt {
		if !seen[user] {
			seen[user] = true
			users = append(users, user)
		}
	}
	return users
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func balString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
