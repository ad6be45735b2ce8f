package api

import (
	"log/slog"
	"net/http"

	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/ratemodel"
	"github.com/atmx/safelend-vault/internal/vault"
)

// CallerRequest is the JSON body for admin actions without parameters.
type CallerRequest struct {
	Account string `json:"account"`
}

// ConfigRequest is the JSON body for PUT /admin/config. Omitted fields keep
// their current value; the result replaces the configuration as a whole.
type ConfigRequest struct {
	Account              string            `json:"account"`
	CollateralFactor     *amount.Value     `json:"collateral_factor,omitempty"`
	LiquidationThreshold *amount.Value     `json:"liquidation_threshold,omitempty"`
	LiquidationBonus     *amount.Value     `json:"liquidation_bonus,omitempty"`
	ReserveFactor        *amount.Value     `json:"reserve_factor,omitempty"`
	RateModel            *RateModelRequest `json:"rate_model,omitempty"`
	Oracle               *string           `json:"oracle,omitempty"`
	LiquidationEnabled   *bool             `json:"liquidation_enabled,omitempty"`
	PublicLiquidation    *bool             `json:"public_liquidation,omitempty"`
}

// RateModelRequest replaces the kinked curve. All four parameters are
// required.
type RateModelRequest struct {
	BaseRate       amount.Value `json:"base_rate"`
	Multiplier     amount.Value `json:"multiplier"`
	JumpMultiplier amount.Value `json:"jump_multiplier"`
	Kink           amount.Value `json:"kink"`
}

// Pause handles POST /api/v1/admin/pause.
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

// Unpause handles POST /api/v1/admin/unpause.
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Service) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req CallerRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	err := s.exec.Do(func(v *vault.Vault) error {
		if paused {
			return v.Pause(req.Account)
		}
		return v.Unpause(req.Account)
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// GetConfig handles GET /api/v1/admin/config.
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	var view ConfigView
	s.exec.Do(func(v *vault.Vault) error {
		view = configView(v.Config())
		return nil
	})
	writeJSON(w, http.StatusOK, view)
}

// ReplaceConfig handles PUT /api/v1/admin/config.
func (s *Service) ReplaceConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	var view ConfigView
	err := s.exec.Do(func(v *vault.Vault) error {
		cfg, err := req.apply(v.Config())
		if err != nil {
			return err
		}
		if err := v.ReplaceConfig(req.Account, cfg); err != nil {
			return err
		}
		view = configView(v.Config())
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}

	slog.Info("config updated via api", "by", req.Account)
	writeJSON(w, http.StatusOK, view)
}

func (req ConfigRequest) apply(cfg vault.Config) (vault.Config, error) {
	if req.CollateralFactor != nil {
		cfg.CollateralFactor = req.CollateralFactor.OrZero()
	}
	if req.LiquidationThreshold != nil {
		cfg.LiquidationThreshold = req.LiquidationThreshold.OrZero()
	}
	if req.LiquidationBonus != nil {
		cfg.LiquidationBonus = req.LiquidationBonus.OrZero()
	}
	if req.ReserveFactor != nil {
		cfg.ReserveFactor = req.ReserveFactor.OrZero()
	}
	if req.Oracle != nil {
		cfg.Oracle = *req.Oracle
	}
	if req.LiquidationEnabled != nil {
		cfg.LiquidationEnabled = *req.LiquidationEnabled
	}
	if req.PublicLiquidation != nil {
		cfg.PublicLiquidation = *req.PublicLiquidation
	}
	if rm := req.RateModel; rm != nil {
		k, err := ratemodel.NewKinked(rm.BaseRate.OrZero(), rm.Multiplier.OrZero(), rm.JumpMultiplier.OrZero(), rm.Kink.OrZero())
		if err != nil {
			return cfg, err
		}
		cfg.RateModel = k
	}
	return cfg, nil
}
