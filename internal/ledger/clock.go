package ledger

import (
	"sync/atomic"
	"time"
)

// PeriodSource reports the current accrual period (a monotonically
// non-decreasing counter).
type PeriodSource interface {
	Period() uint64
}

// WallClock derives periods from elapsed wall time since Genesis.
type WallClock struct {
	Genesis time.Time
	Length  time.Duration
	Now     func() time.Time // optional, defaults to time.Now
}

// NewWallClock starts counting periods of the given length from now.
func NewWallClock(length time.Duration) *WallClock {
	return &WallClock{Genesis: time.Now(), Length: length}
}

// Period returns the number of whole periods since Genesis.
func (c *WallClock) Period() uint64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	elapsed := now().Sub(c.Genesis)
	if elapsed <= 0 || c.Length <= 0 {
		return 0
	}
	return uint64(elapsed / c.Length)
}

// ManualClock is a PeriodSource advanced explicitly. Used in tests and
// simulations.
type ManualClock struct {
	period atomic.Uint64
}

// Period returns the current period.
func (c *ManualClock) Period() uint64 {
	return c.period.Load()
}

// Advance moves the clock forward by n periods.
func (c *ManualClock) Advance(n uint64) {
	c.period.Add(n)
}

// Set jumps the clock to period p.
func (c *ManualClock) Set(p uint64) {
	c.period.Store(p)
}
