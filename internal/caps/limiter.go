// Package caps implements optional borrow limits layered on top of the
// collateral check: a per-position debt ceiling, a pool-wide borrow ceiling
// and a utilization ceiling. They throttle how quickly pool liquidity can be
// drained, independent of whether each borrower is individually solvent.
package caps

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ratemodel"
)

var (
	// ErrPositionCapExceeded is returned when a borrow would push a single
	// position's debt beyond MaxPerPosition.
	ErrPositionCapExceeded = errors.New("caps: per-position borrow limit exceeded")

	// ErrTotalCapExceeded is returned when a borrow would push the pool's
	// total borrows beyond MaxTotalBorrows.
	ErrTotalCapExceeded = errors.New("caps: total borrow limit exceeded")

	// ErrUtilizationCapExceeded is returned when the post-borrow
	// utilization would exceed MaxUtilization.
	ErrUtilizationCapExceeded = errors.New("caps: utilization limit exceeded")
)

// BorrowLimiter enforces borrow caps. A zero (or nil) limit disables the
// corresponding check.
type BorrowLimiter struct {
	// MaxPerPosition is the maximum total debt of any single position.
	MaxPerPosition *uint256.Int

	// MaxTotalBorrows is the maximum pool-wide TotalBorrows.
	MaxTotalBorrows *uint256.Int

	// MaxUtilization is the maximum utilization after the borrow, as a
	// fixed-point fraction.
	MaxUtilization *uint256.Int
}

// NewBorrowLimiter creates a limiter with the given ceilings.
func NewBorrowLimiter(maxPerPosition, maxTotal, maxUtilization *uint256.Int) *BorrowLimiter {
	return &BorrowLimiter{
		MaxPerPosition:  fixed.Clone(maxPerPosition),
		MaxTotalBorrows: fixed.Clone(maxTotal),
		MaxUtilization:  fixed.Clone(maxUtilization),
	}
}

// CheckBorrow validates a borrow of amount against the caps.
//
// Parameters:
//   - positionDebt: the borrower's current total debt
//   - amount: the requested borrow
//   - cash, totalBorrows, reserves: pool state before the borrow
//
// Returns nil if the borrow is within limits.
func (l *BorrowLimiter) CheckBorrow(positionDebt, amount, cash, totalBorrows, reserves *uint256.Int) error {
	if l == nil {
		return nil
	}

	// 1. Per-position ceiling.
	if enabled(l.MaxPerPosition) {
		newDebt, err := fixed.Add(positionDebt, amount)
		if err != nil {
			return err
		}
		if newDebt.Gt(l.MaxPerPosition) {
			return ErrPositionCapExceeded
		}
	}

	newBorrows, err := fixed.Add(totalBorrows, amount)
	if err != nil {
		return err
	}

	// 2. Pool-wide ceiling.
	if enabled(l.MaxTotalBorrows) && newBorrows.Gt(l.MaxTotalBorrows) {
		return ErrTotalCapExceeded
	}

	// 3. Utilization after the borrow: cash leaves, borrows grow.
	if enabled(l.MaxUtilization) {
		newCash := fixed.SubSat(cash, amount)
		u, err := ratemodel.Utilization(newCash, newBorrows, reserves)
		if err != nil {
			return err
		}
		if u.Gt(l.MaxUtilization) {
			return ErrUtilizationCapExceeded
		}
	}

	return nil
}

func enabled(limit *uint256.Int) bool {
	return limit != nil && !limit.IsZero()
}
