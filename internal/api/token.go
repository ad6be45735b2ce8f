package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/vault"
)

// ApproveRequest is the JSON body for POST /token/approve.
type ApproveRequest struct {
	Account string       `json:"account"`
	Spender string       `json:"spender"`
	Amount  amount.Value `json:"amount"`
}

// BalanceResponse is returned by GET /token/balance/{account}. Allowances
// are listed for the vault and, when configured, the liquidation agent.
type BalanceResponse struct {
	Account    string                  `json:"account"`
	Symbol     string                  `json:"symbol"`
	Balance    amount.Value            `json:"balance"`
	Allowances map[string]amount.Value `json:"allowances"`
}

// Faucet handles POST /api/v1/token/faucet. It mints demo tokens.
func (s *Service) Faucet(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}
	if err := s.token.Mint(req.Account, req.Amount.OrZero()); err != nil {
		writeVaultError(w, err)
		return
	}

	slog.Info("faucet mint", "account", req.Account, "amount", amount.Format(req.Amount.OrZero()))
	writeJSON(w, http.StatusOK, s.balance(req.Account))
}

// Approve handles POST /api/v1/token/approve. The allowance is replaced,
// not added to.
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}
	if req.Spender == "" {
		writeError(w, "spender is required", string(vault.ClassValidation), http.StatusBadRequest)
		return
	}
	if err := s.token.Approve(req.Account, req.Spender, req.Amount.OrZero()); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balance(req.Account))
}

// GetBalance handles GET /api/v1/token/balance/{account}.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.balance(chi.URLParam(r, "account")))
}

func (s *Service) balance(account string) BalanceResponse {
	spenders := []string{s.exec.Account()}
	if s.agent != nil {
		spenders = append(spenders, s.agent.Account())
	}

	allowances := make(map[string]amount.Value, len(spenders))
	for _, sp := range spenders {
		allowances[sp] = units(s.token.Allowance(account, sp))
	}
	return BalanceResponse{
		Account:    account,
		Symbol:     s.token.Symbol(),
		Balance:    units(s.token.BalanceOf(account)),
		Allowances: allowances,
	}
}
