// Package asset abstracts the single fungible token the vault lends. The
// vault only needs allowance-gated pulls, pushes and balance reads; Ledger
// is an in-memory implementation used by the server and tests.
package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot
	// cover a transfer.
	ErrInsufficientBalance = errors.New("asset: insufficient balance")

	// ErrInsufficientAllowance is returned when a spender pulls more than
	// it was approved for.
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
)

// Token is the external asset interface. Every method reports failure with
// an error; callers must not assume a transfer happened unless it returns
// nil.
type Token interface {
	// TransferFrom moves amount from one account to another, consuming
	// spender's allowance on from. A spender moving its own funds needs no
	// allowance.
	TransferFrom(spender, from, to string, amount *uint256.Int) error

	// Transfer moves amount out of from's own balance.
	Transfer(from, to string, amount *uint256.Int) error

	// Approve sets spender's allowance on owner's balance.
	Approve(owner, spender string, amount *uint256.Int) error

	BalanceOf(account string) *uint256.Int
}

// Ledger is an in-memory Token. Safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[string]*uint256.Int
	allowances map[string]map[string]*uint256.Int // owner → spender → amount
}

// NewLedger creates an empty token ledger.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[string]*uint256.Int),
		allowances: make(map[string]map[string]*uint256.Int),
	}
}

// Symbol returns the token's display symbol.
func (l *Ledger) Symbol() string {
	return l.symbol
}

// Mint credits amount to account out of thin air.
func (l *Ledger) Mint(account string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := fixed.Add(l.balance(account), amount)
	if err != nil {
		return fmt.Errorf("asset: mint %s: %w", account, err)
	}
	l.balances[account] = next
	return nil
}

// BalanceOf returns a copy of account's balance.
func (l *Ledger) BalanceOf(account string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixed.Clone(l.balances[account])
}

// Allowance returns spender's remaining allowance on owner.
func (l *Ledger) Allowance(owner, spender string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixed.Clone(l.allowances[owner][spender])
}

// Approve sets spender's allowance on owner's balance, replacing any
// previous value.
func (l *Ledger) Approve(owner, spender string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]*uint256.Int)
	}
	l.allowances[owner][spender] = fixed.Clone(amount)
	return nil
}

// Transfer moves amount from from's balance to to.
func (l *Ledger) Transfer(from, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender.
func (l *Ledger) TransferFrom(spender, from, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if spender == from {
		return l.move(from, to, amount)
	}
	allowed := l.allowances[from][spender]
	if allowed == nil || allowed.Lt(amount) {
		return fmt.Errorf("%w: %s on %s", ErrInsufficientAllowance, spender, from)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

// move must be called with mu held.
func (l *Ledger) move(from, to string, amount *uint256.Int) error {
	src := l.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := fixed.Add(l.balance(to), amount)
	if err != nil {
		return err
	}
	l.balances[from] = new(uint256.Int).Sub(src, amount)
	l.balances[to] = dst
	return nil
}

func (l *Ledger) balance(account string) *uint256.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}
