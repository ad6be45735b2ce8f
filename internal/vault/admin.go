package vault

import (
	"fmt"
	"time"

	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/model"
)

// Pause stops deposits and borrows. Withdraw, repay and liquidate stay
// available so users can always de-risk.
func (v *Vault) Pause(caller string) error {
	return v.setPaused(caller, true)
}

// Unpause resumes deposits and borrows.
func (v *Vault) Unpause(caller string) error {
	return v.setPaused(caller, false)
}

func (v *Vault) setPaused(caller string, paused bool) (err error) {
	kind := model.EventUnpause
	if paused {
		kind = model.EventPause
	}
	defer v.observe(kind, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := v.authorize(caller, auth.Administrator); err != nil {
		return err
	}

	v.cfg.Paused = paused
	v.emit(model.Event{Kind: kind, Account: caller, Period: v.clock.Period()}, "")
	v.logger.Info(string(kind), "vault", v.id, "by", caller)
	return nil
}

// ReplaceConfig swaps the whole configuration atomically. Interest up to
// now is accrued under the old configuration first, so the new rate model
// and reserve factor only apply going forward.
func (v *Vault) ReplaceConfig(caller string, cfg Config) (err error) {
	defer v.observe(model.EventConfig, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := v.authorize(caller, auth.Administrator); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tx := v.state.Begin()
	now, _, err := v.accrue(tx)
	if err != nil {
		return fmt.Errorf("settle under old config: %w", err)
	}
	tx.Commit()
	v.cfg = cfg.Clone()

	v.emit(model.Event{Kind: model.EventConfig, Account: caller, Period: now}, "")
	v.logger.Info("config replaced",
		"vault", v.id,
		"by", caller,
		"collateral_factor", fixed.ToDecimal(cfg.CollateralFactor).String(),
		"liquidation_threshold", fixed.ToDecimal(cfg.LiquidationThreshold).String(),
		"liquidation_bonus", fixed.ToDecimal(cfg.LiquidationBonus).String(),
		"reserve_factor", fixed.ToDecimal(cfg.ReserveFactor).String(),
		"liquidation_enabled", cfg.LiquidationEnabled,
		"paused", cfg.Paused,
		"public_liquidation", cfg.PublicLiquidation,
	)
	return nil
}
