package api

import (
	"time"

	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/liquidation"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/ratemodel"
	"github.com/atmx/safelend-vault/internal/vault"
)

// PositionView is the JSON rendering of one account's position.
type PositionView struct {
	Account    string       `json:"account"`
	Collateral amount.Value `json:"collateral"`
	Principal  amount.Value `json:"principal"`
	Interest   amount.Value `json:"interest"`
	Debt       amount.Value `json:"debt"`
	Shares     amount.Value `json:"shares"`
	// HealthFactor is omitted when the account has no debt.
	HealthFactor *amount.Value `json:"health_factor,omitempty"`
	Liquidatable bool          `json:"liquidatable"`
	MaxBorrow    amount.Value  `json:"max_borrow"`
	LastUpdate   uint64        `json:"last_update"`
}

// SnapshotView is the JSON rendering of a stored position snapshot.
type SnapshotView struct {
	Account    string       `json:"account"`
	Collateral amount.Value `json:"collateral"`
	Principal  amount.Value `json:"principal"`
	Interest   amount.Value `json:"interest"`
	Debt       amount.Value `json:"debt"`
	LastUpdate uint64       `json:"last_update"`
}

// PoolView is the JSON rendering of pool-wide state and current rates.
type PoolView struct {
	VaultID            string       `json:"vault_id"`
	Cash               amount.Value `json:"cash"`
	TotalSupply        amount.Value `json:"total_supply"`
	TotalBorrows       amount.Value `json:"total_borrows"`
	TotalReserves      amount.Value `json:"total_reserves"`
	TotalShares        amount.Value `json:"total_shares"`
	Utilization        amount.Value `json:"utilization"`
	BorrowRate         amount.Value `json:"borrow_rate"`
	SupplyRate         amount.Value `json:"supply_rate"`
	Paused             bool         `json:"paused"`
	LiquidationEnabled bool         `json:"liquidation_enabled"`
	Borrowers          int          `json:"borrowers"`
}

// EventView is the JSON rendering of a persisted vault event.
type EventView struct {
	ID         string          `json:"id"`
	VaultID    string          `json:"vault_id"`
	Kind       model.EventKind `json:"kind"`
	Account    string          `json:"account"`
	Borrower   string          `json:"borrower,omitempty"`
	Amount     *amount.Value   `json:"amount,omitempty"`
	Shares     *amount.Value   `json:"shares,omitempty"`
	Collateral *amount.Value   `json:"collateral,omitempty"`
	Period     uint64          `json:"period"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ConfigView is the JSON rendering of the vault's risk configuration.
type ConfigView struct {
	CollateralFactor     amount.Value   `json:"collateral_factor"`
	LiquidationThreshold amount.Value   `json:"liquidation_threshold"`
	LiquidationBonus     amount.Value   `json:"liquidation_bonus"`
	ReserveFactor        amount.Value   `json:"reserve_factor"`
	RateModel            *RateModelView `json:"rate_model,omitempty"`
	Oracle               string         `json:"oracle,omitempty"`
	LiquidationEnabled   bool           `json:"liquidation_enabled"`
	Paused               bool           `json:"paused"`
	PublicLiquidation    bool           `json:"public_liquidation"`
}

// RateModelView carries the kinked curve parameters.
type RateModelView struct {
	BaseRate       amount.Value `json:"base_rate"`
	Multiplier     amount.Value `json:"multiplier"`
	JumpMultiplier amount.Value `json:"jump_multiplier"`
	Kink           amount.Value `json:"kink"`
}

// LiquidationRecordView is one agent liquidation history entry.
type LiquidationRecordView struct {
	ID                 string       `json:"id"`
	VaultID            string       `json:"vault_id"`
	Borrower           string       `json:"borrower"`
	Operator           string       `json:"operator"`
	DebtCovered        amount.Value `json:"debt_covered"`
	CollateralReceived amount.Value `json:"collateral_received"`
	Timestamp          time.Time    `json:"timestamp"`
}

func positionView(v *vault.Vault, account string) PositionView {
	p := v.Position(account)
	cfg := v.Config()
	debt := p.Debt()

	view := PositionView{
		Account:    account,
		Collateral: units(p.Collateral),
		Principal:  units(p.Principal),
		Interest:   units(p.Interest),
		Debt:       units(debt),
		Shares:     units(v.ShareBalance(account)),
		MaxBorrow:  units(nil),
		LastUpdate: p.LastUpdate,
	}
	if !debt.IsZero() {
		hf := v.HealthFactor(account)
		view.HealthFactor = ptr(units(hf))
		view.Liquidatable = liquidation.IsLiquidatable(hf)
	}
	if headroom, err := liquidation.MaxBorrow(p.Collateral, cfg.CollateralFactor, debt); err == nil {
		view.MaxBorrow = units(headroom)
	}
	return view
}

func snapshotView(p model.Position) SnapshotView {
	return SnapshotView{
		Account:    p.Account,
		Collateral: units(p.Collateral),
		Principal:  units(p.Principal),
		Interest:   units(p.Interest),
		Debt:       units(p.Debt()),
		LastUpdate: p.LastUpdate,
	}
}

func poolView(v *vault.Vault) (PoolView, error) {
	rates, err := v.Rates()
	if err != nil {
		return PoolView{}, err
	}
	cfg := v.Config()
	return PoolView{
		VaultID:            v.ID(),
		Cash:               units(v.Cash()),
		TotalSupply:        units(v.TotalSupply()),
		TotalBorrows:       units(v.TotalBorrows()),
		TotalReserves:      units(v.TotalReserves()),
		TotalShares:        units(v.TotalShares()),
		Utilization:        units(rates.Utilization),
		BorrowRate:         units(rates.BorrowRate),
		SupplyRate:         units(rates.SupplyRate),
		Paused:             cfg.Paused,
		LiquidationEnabled: cfg.LiquidationEnabled,
		Borrowers:          len(v.Borrowers()),
	}, nil
}

func eventView(e model.Event) EventView {
	view := EventView{
		ID:        e.ID,
		VaultID:   e.VaultID,
		Kind:      e.Kind,
		Account:   e.Account,
		Borrower:  e.Borrower,
		Period:    e.Period,
		Timestamp: e.Timestamp,
	}
	if e.Amount != nil {
		view.Amount = ptr(units(e.Amount))
	}
	if e.Shares != nil {
		view.Shares = ptr(units(e.Shares))
	}
	if e.Collateral != nil {
		view.Collateral = ptr(units(e.Collateral))
	}
	return view
}

func configView(cfg vault.Config) ConfigView {
	view := ConfigView{
		CollateralFactor:     units(cfg.CollateralFactor),
		LiquidationThreshold: units(cfg.LiquidationThreshold),
		LiquidationBonus:     units(cfg.LiquidationBonus),
		ReserveFactor:        units(cfg.ReserveFactor),
		Oracle:               cfg.Oracle,
		LiquidationEnabled:   cfg.LiquidationEnabled,
		Paused:               cfg.Paused,
		PublicLiquidation:    cfg.PublicLiquidation,
	}
	if k, ok := cfg.RateModel.(*ratemodel.Kinked); ok {
		base, mult, jump, kink := k.Params()
		view.RateModel = &RateModelView{
			BaseRate:       units(base),
			Multiplier:     units(mult),
			JumpMultiplier: units(jump),
			Kink:           units(kink),
		}
	}
	return view
}

func liquidationRecordView(r model.LiquidationRecord) LiquidationRecordView {
	return LiquidationRecordView{
		ID:                 r.ID,
		VaultID:            r.VaultID,
		Borrower:           r.Borrower,
		Operator:           r.Operator,
		DebtCovered:        units(r.DebtCovered),
		CollateralReceived: units(r.CollateralReceived),
		Timestamp:          r.Timestamp,
	}
}
