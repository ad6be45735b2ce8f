package vault

import (
	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/liquidation"
	"github.com/atmx/safelend-vault/internal/model"
)

// Views read committed state only. They never trigger accrual, so values
// may lag until the next mutating call.

// ID returns the vault identifier.
func (v *Vault) ID() string { return v.id }

// Account returns the vault's own account in the token ledger. Callers
// approve this account before depositing, repaying or liquidating.
func (v *Vault) Account() string { return v.account }

// Position returns a copy of account's position.
func (v *Vault) Position(account string) model.Position {
	return v.state.Position(account)
}

// Cash returns the vault's asset balance.
func (v *Vault) Cash() *uint256.Int {
	return v.cash()
}

// TotalSupply returns cash + borrows − reserves, saturating on overflow.
func (v *Vault) TotalSupply() *uint256.Int {
	pool := v.state.Pool()
	supply, err := totalSupply(v.cash(), &pool)
	if err != nil {
		return fixed.Clone(fixed.Max)
	}
	return supply
}

// TotalBorrows returns the pool's outstanding borrows.
func (v *Vault) TotalBorrows() *uint256.Int {
	return v.state.Pool().TotalBorrows
}

// TotalReserves returns the protocol's accumulated reserves.
func (v *Vault) TotalReserves() *uint256.Int {
	return v.state.Pool().TotalReserves
}

// TotalShares returns the number of shares outstanding.
func (v *Vault) TotalShares() *uint256.Int {
	return v.state.Pool().TotalShares
}

// ShareBalance returns account's shares.
func (v *Vault) ShareBalance(account string) *uint256.Int {
	return v.state.Shares(account)
}

// UtilizationRate returns borrows / (cash + borrows − reserves).
func (v *Vault) UtilizationRate() (*uint256.Int, error) {
	pool := v.state.Pool()
	return v.cfg.RateModel.UtilizationRate(v.cash(), pool.TotalBorrows, pool.TotalReserves)
}

// HealthFactor returns account's health factor, or the maximum value when
// it has no debt.
func (v *Vault) HealthFactor(account string) *uint256.Int {
	p := v.state.Position(account)
	return liquidation.HealthFactor(p.Collateral, p.Debt(), v.cfg.LiquidationThreshold)
}

// TotalDebt returns account's principal plus accrued interest.
func (v *Vault) TotalDebt(account string) *uint256.Int {
	return v.state.Position(account).Debt()
}

// Config returns a copy of the active configuration.
func (v *Vault) Config() Config {
	return v.cfg.Clone()
}

// Rates is a point-in-time view of the interest-rate curve.
type Rates struct {
	Utilization *uint256.Int `json:"utilization"`
	BorrowRate  *uint256.Int `json:"borrow_rate"`
	SupplyRate  *uint256.Int `json:"supply_rate"`
}

// Rates evaluates the active rate model at the current pool state.
func (v *Vault) Rates() (Rates, error) {
	pool := v.state.Pool()
	cash := v.cash()
	rm := v.cfg.RateModel

	u, err := rm.UtilizationRate(cash, pool.TotalBorrows, pool.TotalReserves)
	if err != nil {
		return Rates{}, err
	}
	borrow, err := rm.BorrowRate(cash, pool.TotalBorrows, pool.TotalReserves)
	if err != nil {
		return Rates{}, err
	}
	supply, err := rm.SupplyRate(cash, pool.TotalBorrows, pool.TotalReserves, v.cfg.ReserveFactor)
	if err != nil {
		return Rates{}, err
	}
	return Rates{Utilization: u, BorrowRate: borrow, SupplyRate: supply}, nil
}

// Borrowers lists accounts with outstanding debt.
func (v *Vault) Borrowers() []string {
	return v.state.Borrowers()
}

// Accounts lists every account that has touched the vault.
func (v *Vault) Accounts() []string {
	return v.state.Accounts()
}
