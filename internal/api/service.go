// Package api exposes the lending vault, its liquidation agent and the
// demo asset ledger over JSON/HTTP.
//
// Amounts travel as decimal strings in asset units ("12.5"), never as JSON
// numbers. Every request that moves funds names the acting account in its
// body; authentication is out of scope and left to the deployment.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/agent"
	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/store"
	"github.com/atmx/safelend-vault/internal/vault"
)

// Service handles vault, agent and token requests. All vault access goes
// through the executor, so handlers never interleave vault operations.
type Service struct {
	exec   *vault.Executor
	agent  *agent.Agent
	token  *asset.Ledger
	store  store.Store
	hub    *WSHub // optional WebSocket hub for real-time event broadcasts
	logger *slog.Logger
}

// NewService creates a new API service. Pass a nil agent to serve the vault
// without the agent endpoints, and a nil hub if WebSocket broadcasting is
// not needed.
func NewService(exec *vault.Executor, ag *agent.Agent, token *asset.Ledger, st store.Store, hub *WSHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		exec:   exec,
		agent:  ag,
		token:  token,
		store:  st,
		hub:    hub,
		logger: logger,
	}
}

// Routes mounts every endpoint under /api/v1 on r.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/deposit", s.Deposit)
		r.Post("/withdraw", s.Withdraw)
		r.Post("/borrow", s.Borrow)
		r.Post("/repay", s.Repay)
		r.Post("/liquidate", s.Liquidate)

		r.Get("/positions/{account}", s.GetPosition)
		r.Get("/pool", s.GetPool)
		r.Get("/snapshots", s.ListSnapshots)
		r.Get("/events", s.GetRecentEvents)
		r.Get("/events/{account}", s.GetEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/pause", s.Pause)
			r.Post("/unpause", s.Unpause)
			r.Get("/config", s.GetConfig)
			r.Put("/config", s.ReplaceConfig)
		})

		r.Route("/token", func(r chi.Router) {
			r.Post("/faucet", s.Faucet)
			r.Post("/approve", s.Approve)
			r.Get("/balance/{account}", s.GetBalance)
		})

		if s.agent != nil {
			r.Route("/agent", func(r chi.Router) {
				r.Get("/opportunities/{borrower}", s.GetOpportunity)
				r.Post("/liquidate", s.AgentLiquidate)
				r.Post("/batch", s.AgentBatch)
				r.Get("/history/{borrower}", s.GetAgentHistory)
			})
		}
	})
}

// --- Request/Response types ---

// AmountRequest is the JSON body for deposit, borrow and repay.
type AmountRequest struct {
	Account string       `json:"account"`
	Amount  amount.Value `json:"amount"`
}

// WithdrawRequest is the JSON body for POST /withdraw.
type WithdrawRequest struct {
	Account string       `json:"account"`
	Shares  amount.Value `json:"shares"`
}

// LiquidateRequest is the JSON body for direct and agent liquidations.
type LiquidateRequest struct {
	Account  string `json:"account"`
	Borrower string `json:"borrower"`
}

// OperationResponse is returned by every successful fund-moving request.
type OperationResponse struct {
	Kind       model.EventKind `json:"kind"`
	Account    string          `json:"account"`
	Borrower   string          `json:"borrower,omitempty"`
	Amount     *amount.Value   `json:"amount,omitempty"`
	Shares     *amount.Value   `json:"shares,omitempty"`
	Collateral *amount.Value   `json:"collateral,omitempty"`
	Position   PositionView    `json:"position"`
}

// --- Vault operations ---

// Deposit handles POST /api/v1/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	var resp OperationResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		shares, err := v.Deposit(req.Account, req.Amount.OrZero())
		if err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:     model.EventDeposit,
			Account:  req.Account,
			Amount:   ptr(req.Amount),
			Shares:   ptr(amount.V(shares)),
			Position: positionView(v, req.Account),
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Withdraw handles POST /api/v1/withdraw.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	var resp OperationResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		out, err := v.Withdraw(req.Account, req.Shares.OrZero())
		if err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:     model.EventWithdraw,
			Account:  req.Account,
			Amount:   ptr(amount.V(out)),
			Shares:   ptr(req.Shares),
			Position: positionView(v, req.Account),
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Borrow handles POST /api/v1/borrow.
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	var resp OperationResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		if err := v.Borrow(req.Account, req.Amount.OrZero()); err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:     model.EventBorrow,
			Account:  req.Account,
			Amount:   ptr(req.Amount),
			Position: positionView(v, req.Account),
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Repay handles POST /api/v1/repay. The response carries the amount
// actually repaid, which is clamped to the outstanding debt.
func (s *Service) Repay(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}

	var resp OperationResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		repaid, err := v.Repay(req.Account, req.Amount.OrZero())
		if err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:     model.EventRepay,
			Account:  req.Account,
			Amount:   ptr(amount.V(repaid)),
			Position: positionView(v, req.Account),
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Liquidate handles POST /api/v1/liquidate, a direct vault liquidation by
// the calling account.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}
	if req.Borrower == "" {
		writeError(w, "borrower is required", string(vault.ClassValidation), http.StatusBadRequest)
		return
	}

	var resp OperationResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		collateral, err := v.Liquidate(req.Account, req.Borrower)
		if err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:       model.EventLiquidation,
			Account:    req.Account,
			Borrower:   req.Borrower,
			Collateral: ptr(amount.V(collateral)),
			Position:   positionView(v, req.Borrower),
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Queries ---

// GetPosition handles GET /api/v1/positions/{account}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var view PositionView
	s.exec.Do(func(v *vault.Vault) error {
		view = positionView(v, account)
		return nil
	})
	writeJSON(w, http.StatusOK, view)
}

// GetPool handles GET /api/v1/pool.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	var view PoolView
	err := s.exec.Do(func(v *vault.Vault) error {
		var err error
		view, err = poolView(v)
		return err
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetEvents handles GET /api/v1/events/{account}.
// Returns the persisted events where account is the caller or the
// liquidated borrower, oldest first.
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	events, err := s.store.ListEventsByAccount(r.Context(), account)
	if err != nil {
		s.logger.Error("list events failed", "account", account, "err", err)
		writeError(w, "failed to load events", string(vault.ClassInternal), http.StatusInternalServerError)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetRecentEvents handles GET /api/v1/events?limit=N.
// Returns the latest persisted events across all accounts, newest first.
func (s *Service) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", string(vault.ClassValidation), http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("list recent events failed", "err", err)
		writeError(w, "failed to load events", string(vault.ClassInternal), http.StatusInternalServerError)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// ListSnapshots handles GET /api/v1/snapshots.
// Returns the persisted position snapshots of this vault, ordered by account.
// Snapshots lag the live state by the recorder's queue.
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context(), s.exec.ID())
	if err != nil {
		s.logger.Error("list snapshots failed", "err", err)
		writeError(w, "failed to load snapshots", string(vault.ClassInternal), http.StatusInternalServerError)
		return
	}

	views := make([]SnapshotView, 0, len(positions))
	for _, p := range positions {
		views = append(views, snapshotView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

// --- helpers ---

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "invalid request body"
		if errors.Is(err, amount.ErrInvalidAmount) || errors.Is(err, amount.ErrTooPrecise) || errors.Is(err, amount.ErrOutOfRange) {
			msg = err.Error()
		}
		writeError(w, msg, string(vault.ClassValidation), http.StatusBadRequest)
		return false
	}
	return true
}

func requireAccount(w http.ResponseWriter, account string) bool {
	if account == "" {
		writeError(w, "account is required", string(vault.ClassValidation), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps a vault or agent error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrEmergencyStopped):
		return http.StatusServiceUnavailable, string(vault.ClassUnavailable)
	case errors.Is(err, agent.ErrVaultNotAuthorized):
		return http.StatusForbidden, string(vault.ClassAuthorization)
	case errors.Is(err, agent.ErrNothingToLiquidate):
		return http.StatusConflict, string(vault.ClassInvariant)
	case errors.Is(err, agent.ErrLengthMismatch):
		return http.StatusBadRequest, string(vault.ClassValidation)
	}

	class := vault.Classify(err)
	switch class {
	case vault.ClassValidation:
		return http.StatusBadRequest, string(class)
	case vault.ClassAuthorization:
		return http.StatusForbidden, string(class)
	case vault.ClassInsufficient, vault.ClassInvariant:
		return http.StatusConflict, string(class)
	case vault.ClassOverflow:
		return http.StatusUnprocessableEntity, string(class)
	case vault.ClassUnavailable:
		return http.StatusServiceUnavailable, string(class)
	default:
		return http.StatusInternalServerError, string(vault.ClassInternal)
	}
}

func writeVaultError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("vault operation failed", "err", err)
	}
	writeError(w, err.Error(), code, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func ptr(v amount.Value) *amount.Value {
	return &v
}

// units renders x, treating nil as zero.
func units(x *uint256.Int) amount.Value {
	return amount.V(fixed.Clone(x))
}
