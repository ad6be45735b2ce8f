package ledger

import (
	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ratemodel"
)

// AccruePool brings the staged pool up to period now using simple (linear)
// interest at the current borrow rate:
//
//	interest = ratePerPeriod · totalBorrows · elapsed / Scale
//
// The interest is added to TotalBorrows and interest·reserveFactor/Scale is
// carved out into TotalReserves. Returns the interest accrued; a zero
// elapsed period count is a no-op.
func (tx *Tx) AccruePool(now uint64, cash *uint256.Int, rm ratemodel.RateModel, reserveFactor *uint256.Int) (*uint256.Int, error) {
	pool := &tx.pool
	if now <= pool.LastAccrual {
		return fixed.Zero(), nil
	}
	elapsed := now - pool.LastAccrual

	rate, err := rm.BorrowRate(cash, pool.TotalBorrows, pool.TotalReserves)
	if err != nil {
		return nil, err
	}
	interest, err := simpleInterest(rate, pool.TotalBorrows, elapsed)
	if err != nil {
		return nil, err
	}
	fee, err := fixed.MulScale(interest, reserveFactor)
	if err != nil {
		return nil, err
	}

	borrows, err := fixed.Add(pool.TotalBorrows, interest)
	if err != nil {
		return nil, err
	}
	reserves, err := fixed.Add(pool.TotalReserves, fee)
	if err != nil {
		return nil, err
	}

	pool.TotalBorrows = borrows
	pool.TotalReserves = reserves
	pool.LastAccrual = now
	return interest, nil
}

// AccruePosition folds interest on account's principal since its last
// checkpoint into Interest, at the rate implied by the already-accrued pool.
// Positions without principal are skipped entirely. Returns the interest
// accrued.
func (tx *Tx) AccruePosition(account string, now uint64, cash *uint256.Int, rm ratemodel.RateModel) (*uint256.Int, error) {
	p := tx.Position(account)
	if p.Principal.IsZero() || now <= p.LastUpdate {
		return fixed.Zero(), nil
	}
	elapsed := now - p.LastUpdate

	rate, err := rm.BorrowRate(cash, tx.pool.TotalBorrows, tx.pool.TotalReserves)
	if err != nil {
		return nil, err
	}
	interest, err := simpleInterest(rate, p.Principal, elapsed)
	if err != nil {
		return nil, err
	}
	total, err := fixed.Add(p.Interest, interest)
	if err != nil {
		return nil, err
	}

	p.Interest = total
	p.LastUpdate = now
	return interest, nil
}

// simpleInterest computes PerPeriod(annualRate) · principal · elapsed / Scale.
func simpleInterest(annualRate, principal *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if principal.IsZero() || elapsed == 0 {
		return fixed.Zero(), nil
	}
	factor, err := fixed.Mul(ratemodel.PerPeriod(annualRate), uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	return fixed.MulScale(factor, principal)
}
