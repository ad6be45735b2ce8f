package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/safelend-vault/internal/agent"
	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/vault"
)

// OpportunityResponse is returned by GET /agent/opportunities/{borrower}.
type OpportunityResponse struct {
	Borrower     string        `json:"borrower"`
	Profitable   bool          `json:"profitable"`
	Profit       amount.Value  `json:"estimated_profit"`
	HealthFactor *amount.Value `json:"health_factor,omitempty"`
}

// BatchRequest is the JSON body for POST /agent/batch.
type BatchRequest struct {
	Account   string   `json:"account"`
	Borrowers []string `json:"borrowers"`
}

// BatchResponse reports the collateral forwarded per borrower, in request
// order. Entries that failed or were skipped report zero.
type BatchResponse struct {
	Collateral []amount.Value `json:"collateral"`
	Succeeded  int            `json:"succeeded"`
}

// GetOpportunity handles GET /api/v1/agent/opportunities/{borrower}.
func (s *Service) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	borrower := chi.URLParam(r, "borrower")

	var resp OpportunityResponse
	s.exec.Do(func(v *vault.Vault) error {
		ok, profit := s.agent.CheckOpportunity(v, borrower)
		resp = OpportunityResponse{
			Borrower:   borrower,
			Profitable: ok,
			Profit:     units(profit),
		}
		if !v.TotalDebt(borrower).IsZero() {
			resp.HealthFactor = ptr(units(v.HealthFactor(borrower)))
		}
		return nil
	})
	writeJSON(w, http.StatusOK, resp)
}

// AgentLiquidate handles POST /api/v1/agent/liquidate. The caller must have
// approved the agent's account for the debt plus a 10% buffer.
func (s *Service) AgentLiquidate(w http.ResponseWriter, r *http.Request) {
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
		collateral, err := s.agent.Liquidate(req.Account, v, req.Borrower)
		if err != nil {
			return err
		}
		resp = OperationResponse{
			Kind:       "agent_liquidation",
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

// AgentBatch handles POST /api/v1/agent/batch.
func (s *Service) AgentBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) || !requireAccount(w, req.Account) {
		return
	}
	if len(req.Borrowers) == 0 {
		writeError(w, "borrowers must not be empty", string(vault.ClassValidation), http.StatusBadRequest)
		return
	}

	var resp BatchResponse
	err := s.exec.Do(func(v *vault.Vault) error {
		targets := make([]agent.Target, len(req.Borrowers))
		for i := range targets {
			targets[i] = v
		}
		out, err := s.agent.BatchLiquidate(req.Account, targets, req.Borrowers)
		if err != nil {
			return err
		}
		resp.Collateral = make([]amount.Value, len(out))
		for i, c := range out {
			resp.Collateral[i] = units(c)
			if !c.IsZero() {
				resp.Succeeded++
			}
		}
		return nil
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAgentHistory handles GET /api/v1/agent/history/{borrower}.
// Persisted records are preferred; the agent's in-process history is used
// when the store has none (for example before the recorder has flushed).
func (s *Service) GetAgentHistory(w http.ResponseWriter, r *http.Request) {
	borrower := chi.URLParam(r, "borrower")

	records, err := s.store.ListLiquidationRecords(r.Context(), borrower)
	if err != nil {
		s.logger.Error("list liquidation records failed", "borrower", borrower, "err", err)
		writeError(w, "failed to load liquidation history", string(vault.ClassInternal), http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		records = s.agent.History(borrower)
	}

	views := make([]LiquidationRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, liquidationRecordView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}
