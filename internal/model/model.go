// Package model defines the core domain types shared across the lending vault.
// All monetary values are 18-decimal fixed-point uint256 integers; never
// float64 for money.
package model

import (
	"time"

	"github.com/holiman/uint256"
)

// Position is one account's lending state. Collateral is tracked in
// underlying asset units, not shares. Total debt is Principal + Interest.
type Position struct {
	Account    string       `json:"account"`
	Collateral *uint256.Int `json:"collateral"`
	Principal  *uint256.Int `json:"principal"`
	Interest   *uint256.Int `json:"interest"`
	LastUpdate uint64       `json:"last_update"` // accrual period checkpoint
}

// NewPosition returns a zero-initialized position for account.
func NewPosition(account string) Position {
	return Position{
		Account:    account,
		Collateral: new(uint256.Int),
		Principal:  new(uint256.Int),
		Interest:   new(uint256.Int),
	}
}

// Debt returns Principal + Interest, saturating at the maximum value.
func (p Position) Debt() *uint256.Int {
	debt, overflow := new(uint256.Int).AddOverflow(p.Principal, p.Interest)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return debt
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	return Position{
		Account:    p.Account,
		Collateral: new(uint256.Int).Set(p.Collateral),
		Principal:  new(uint256.Int).Set(p.Principal),
		Interest:   new(uint256.Int).Set(p.Interest),
		LastUpdate: p.LastUpdate,
	}
}

// Pool is the singleton pool-level accounting state. TotalBorrows is
// maintained by pool accrual and can drift from the sum of position debts.
type Pool struct {
	TotalBorrows  *uint256.Int `json:"total_borrows"`
	TotalReserves *uint256.Int `json:"total_reserves"`
	TotalShares   *uint256.Int `json:"total_shares"`
	LastAccrual   uint64       `json:"last_accrual"`
}

// NewPool returns an empty pool checkpointed at period.
func NewPool(period uint64) Pool {
	return Pool{
		TotalBorrows:  new(uint256.Int),
		TotalReserves: new(uint256.Int),
		TotalShares:   new(uint256.Int),
		LastAccrual:   period,
	}
}

// Clone returns a deep copy of the pool.
func (p Pool) Clone() Pool {
	return Pool{
		TotalBorrows:  new(uint256.Int).Set(p.TotalBorrows),
		TotalReserves: new(uint256.Int).Set(p.TotalReserves),
		TotalShares:   new(uint256.Int).Set(p.TotalShares),
		LastAccrual:   p.LastAccrual,
	}
}

// EventKind names a vault notification.
type EventKind string

const (
	EventDeposit     EventKind = "deposit"
	EventWithdraw    EventKind = "withdraw"
	EventBorrow      EventKind = "borrow"
	EventRepay       EventKind = "repay"
	EventLiquidation EventKind = "liquidation"
	EventConfig      EventKind = "config"
	EventPause       EventKind = "pause"
	EventUnpause     EventKind = "unpause"
)

// Event is an immutable record of a committed vault operation, emitted for
// external indexing. Amount fields that do not apply to a kind are nil.
// Position is the affected account's state after the operation.
type Event struct {
	ID         string       `json:"id"`
	VaultID    string       `json:"vault_id"`
	Kind       EventKind    `json:"kind"`
	Account    string       `json:"account"`              // caller
	Borrower   string       `json:"borrower,omitempty"`   // liquidations only
	Amount     *uint256.Int `json:"amount,omitempty"`     // asset units moved
	Shares     *uint256.Int `json:"shares,omitempty"`     // shares minted or burned
	Collateral *uint256.Int `json:"collateral,omitempty"` // collateral seized
	Position   *Position    `json:"position,omitempty"`
	Period     uint64       `json:"period"`
	Timestamp  time.Time    `json:"timestamp"`
}

// LiquidationRecord is one entry in the liquidation agent's history log.
type LiquidationRecord struct {
	ID                 string       `json:"id"`
	VaultID            string       `json:"vault_id"`
	Borrower           string       `json:"borrower"`
	Operator           string       `json:"operator"`
	DebtCovered        *uint256.Int `json:"debt_covered"`
	CollateralReceived *uint256.Int `json:"collateral_received"`
	Timestamp          time.Time    `json:"timestamp"`
}
