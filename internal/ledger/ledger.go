// Package ledger holds the vault's mutable accounting state: per-account
// positions and share balances plus the pool totals, together with the two
// interest-accrual paths.
//
// The Ledger itself is never mutated piecemeal. Callers open a Tx, stage
// accrual and operation effects on copies, and Commit only once every check
// and asset transfer has succeeded. A discarded Tx leaves no trace.
//
// Ledger is not safe for concurrent use; callers serialize access.
package ledger

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/model"
)

// Ledger is the explicitly owned state object for one vault.
type Ledger struct {
	pool      model.Pool
	positions map[string]model.Position
	shares    map[string]*uint256.Int
}

// New creates an empty ledger whose pool checkpoint starts at period.
func New(period uint64) *Ledger {
	return &Ledger{
		pool:      model.NewPool(period),
		positions: make(map[string]model.Position),
		shares:    make(map[string]*uint256.Int),
	}
}

// Pool returns a copy of the committed pool state.
func (l *Ledger) Pool() model.Pool {
	return l.pool.Clone()
}

// Position returns a copy of account's committed position. Unknown accounts
// get a zero position.
func (l *Ledger) Position(account string) model.Position {
	if p, ok := l.positions[account]; ok {
		return p.Clone()
	}
	return model.NewPosition(account)
}

// Shares returns account's committed share balance.
func (l *Ledger) Shares(account string) *uint256.Int {
	if s, ok := l.shares[account]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

// Accounts lists every account that has ever held a position, sorted.
func (l *Ledger) Accounts() []string {
	accounts := make([]string, 0, len(l.positions))
	for a := range l.positions {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts
}

// Borrowers lists accounts with non-zero committed debt, sorted.
func (l *Ledger) Borrowers() []string {
	var borrowers []string
	for a, p := range l.positions {
		if !p.Debt().IsZero() {
			borrowers = append(borrowers, a)
		}
	}
	sort.Strings(borrowers)
	return borrowers
}

// Tx is a staged set of ledger mutations.
type Tx struct {
	l         *Ledger
	pool      model.Pool
	positions map[string]*model.Position
	shares    map[string]*uint256.Int
	done      bool
}

// Begin opens a transaction over the current committed state.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:         l,
		pool:      l.pool.Clone(),
		positions: make(map[string]*model.Position),
		shares:    make(map[string]*uint256.Int),
	}
}

// Pool returns the staged pool for in-place mutation.
func (tx *Tx) Pool() *model.Pool {
	return &tx.pool
}

// Position returns the staged position for account, loading a copy of the
// committed one on first access.
func (tx *Tx) Position(account string) *model.Position {
	if p, ok := tx.positions[account]; ok {
		return p
	}
	p := tx.l.Position(account)
	tx.positions[account] = &p
	return &p
}

// Shares returns the staged share balance for account. The returned value
// may be mutated in place.
func (tx *Tx) Shares(account string) *uint256.Int {
	if s, ok := tx.shares[account]; ok {
		return s
	}
	s := tx.l.Shares(account)
	tx.shares[account] = s
	return s
}

// Commit publishes every staged change. A Tx can be committed once.
func (tx *Tx) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	tx.l.pool = tx.pool
	for account, p := range tx.positions {
		tx.l.positions[account] = *p
	}
	for account, s := range tx.shares {
		tx.l.shares[account] = s
	}
}
