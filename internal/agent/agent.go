// Package agent implements the liquidation agent: an external actor that
// watches vault positions, estimates liquidation profit and liquidates
// through the vault's public surface on behalf of an operator.
//
// The agent fronts the debt repayment itself. It pulls a buffered amount
// from the operator, approves the vault, liquidates, then forwards the
// seized collateral and any unused buffer back to the operator.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/liquidation"
	"github.com/atmx/safelend-vault/internal/metrics"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/vault"
)

var (
	// ErrEmergencyStopped is returned while the agent is halted.
	ErrEmergencyStopped = errors.New("agent: emergency stop active")

	// ErrVaultNotAuthorized is returned for vaults not on the allow list.
	ErrVaultNotAuthorized = errors.New("agent: vault not authorized")

	// ErrNothingToLiquidate is returned when the borrower has no debt.
	ErrNothingToLiquidate = errors.New("agent: borrower has no debt")

	// ErrLengthMismatch is returned by BatchLiquidate for unequal inputs.
	ErrLengthMismatch = errors.New("agent: vaults and borrowers differ in length")
)

// bufferPercent is the over-pull applied to the debt read, covering
// interest that accrues between the read and the liquidation.
var bufferPercent = uint256.NewInt(110)

var hundred = uint256.NewInt(100)

// Target is the part of a vault the agent needs. *vault.Vault satisfies it.
type Target interface {
	ID() string
	Account() string
	Position(account string) model.Position
	HealthFactor(account string) *uint256.Int
	TotalDebt(account string) *uint256.Int
	Config() vault.Config
	Borrowers() []string
	Liquidate(caller, borrower string) (*uint256.Int, error)
}

// HistorySink receives every liquidation the agent completes.
type HistorySink interface {
	RecordLiquidation(rec model.LiquidationRecord)
}

// Agent is safe for concurrent use, but liquidations against one vault
// must still be serialized by that vault's executor.
type Agent struct {
	account string // the agent's own account in the token ledger
	token   asset.Token
	authz   auth.Authorizer
	limiter *rate.Limiter
	history HistorySink
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.RWMutex
	authorized map[string]bool
	minProfit  *uint256.Int
	stopped    bool
	public     bool
	records    map[string][]model.LiquidationRecord
}

// Option customizes an Agent.
type Option func(*Agent)

// WithRateLimiter throttles liquidation attempts made by Scan.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(a *Agent) { a.limiter = l }
}

// WithHistorySink persists liquidation records outside the agent.
func WithHistorySink(h HistorySink) Option {
	return func(a *Agent) { a.history = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithMinProfit sets the initial minimum profit threshold.
func WithMinProfit(p *uint256.Int) Option {
	return func(a *Agent) { a.minProfit = fixed.Clone(p) }
}

// New creates an agent that holds funds in account.
func New(account string, token asset.Token, authz auth.Authorizer, opts ...Option) *Agent {
	a := &Agent{
		account:    account,
		token:      token,
		authz:      authz,
		logger:     slog.Default(),
		now:        time.Now,
		authorized: make(map[string]bool),
		minProfit:  fixed.Zero(),
		records:    make(map[string][]model.LiquidationRecord),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Account returns the agent's token account. Operators approve this
// account before calling Liquidate.
func (a *Agent) Account() string { return a.account }

// CheckOpportunity reports whether liquidating borrower on t clears the
// minimum profit, along with the estimated profit
// (principal/2)·bonus. It returns (false, 0) when the vault is not
// authorized, the agent is stopped or the position is healthy.
func (a *Agent) CheckOpportunity(t Target, borrower string) (bool, *uint256.Int) {
	a.mu.RLock()
	stopped, authorized, minProfit := a.stopped, a.authorized[t.ID()], a.minProfit
	a.mu.RUnlock()

	if stopped || !authorized {
		return false, fixed.Zero()
	}
	if !liquidation.IsLiquidatable(t.HealthFactor(borrower)) {
		return false, fixed.Zero()
	}

	half := new(uint256.Int).Rsh(t.Position(borrower).Principal, 1)
	profit, err := fixed.MulScale(half, t.Config().LiquidationBonus)
	if err != nil {
		return false, fixed.Zero()
	}
	return !profit.Lt(minProfit), profit
}

// Liquidate liquidates borrower on t for caller and returns the collateral
// forwarded to caller.
func (a *Agent) Liquidate(caller string, t Target, borrower string) (*uint256.Int, error) {
	a.mu.RLock()
	stopped, authorized, public := a.stopped, a.authorized[t.ID()], a.public
	a.mu.RUnlock()

	if stopped {
		return nil, ErrEmergencyStopped
	}
	if !authorized {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotAuthorized, t.ID())
	}
	if !public {
		if a.authz == nil || !a.authz.HasCapability(caller, auth.LiquidationOperator) {
			return nil, &vault.AuthorizationError{Identity: caller, Capability: auth.LiquidationOperator}
		}
	}

	debt := t.TotalDebt(borrower)
	if debt.IsZero() {
		return nil, ErrNothingToLiquidate
	}
	buffer, err := fixed.MulDiv(debt, bufferPercent, hundred)
	if err != nil {
		return nil, err
	}

	if err := a.token.TransferFrom(a.account, caller, a.account, buffer); err != nil {
		metrics.LiquidationsTotal.WithLabelValues("funding_failed").Inc()
		return nil, fmt.Errorf("agent: pull buffer from %s: %w", caller, err)
	}
	if err := a.token.Approve(a.account, t.Account(), buffer); err != nil {
		a.refund(caller, buffer)
		return nil, fmt.Errorf("agent: approve vault: %w", err)
	}

	before := a.token.BalanceOf(a.account)
	collateral, err := t.Liquidate(a.account, borrower)
	a.token.Approve(a.account, t.Account(), fixed.Zero())
	if err != nil {
		a.refund(caller, buffer)
		metrics.LiquidationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// before − covered + collateral = after
	after := a.token.BalanceOf(a.account)
	gross, err := fixed.Add(before, collateral)
	if err != nil {
		return nil, err
	}
	covered := fixed.SubSat(gross, after)
	unused := fixed.SubSat(buffer, covered)

	if err := a.token.Transfer(a.account, caller, collateral); err != nil {
		return nil, fmt.Errorf("agent: forward collateral to %s: %w", caller, err)
	}
	if !unused.IsZero() {
		a.refund(caller, unused)
	}

	rec := model.LiquidationRecord{
		ID:                 uuid.New().String(),
		VaultID:            t.ID(),
		Borrower:           borrower,
		Operator:           caller,
		DebtCovered:        covered,
		CollateralReceived: fixed.Clone(collateral),
		Timestamp:          a.now().UTC(),
	}
	a.mu.Lock()
	a.records[borrower] = append(a.records[borrower], rec)
	a.mu.Unlock()
	if a.history != nil {
		a.history.RecordLiquidation(rec)
	}

	metrics.LiquidationsTotal.WithLabelValues("success").Inc()
	metrics.AgentProfit.Add(fixed.Float(fixed.SubSat(collateral, covered)))
	a.logger.Info("agent liquidation",
		"vault", t.ID(),
		"operator", caller,
		"borrower", borrower,
		"debt_covered", fixed.ToDecimal(covered).String(),
		"collateral", fixed.ToDecimal(collateral).String(),
	)
	return collateral, nil
}

// BatchLiquidate liquidates each (targets[i], borrowers[i]) pair. Failed or
// skipped entries yield zero and do not abort the batch.
func (a *Agent) BatchLiquidate(caller string, targets []Target, borrowers []string) ([]*uint256.Int, error) {
	if len(targets) != len(borrowers) {
		return nil, fmt.Errorf("%w: %d vaults, %d borrowers", ErrLengthMismatch, len(targets), len(borrowers))
	}

	out := make([]*uint256.Int, len(targets))
	for i, t := range targets {
		out[i] = fixed.Zero()
		if !a.IsAuthorized(t.ID()) {
			continue
		}
		collateral, err := a.Liquidate(caller, t, borrowers[i])
		if err != nil {
			a.logger.Warn("batch liquidation entry failed",
				"index", i,
				"vault", t.ID(),
				"borrower", borrowers[i],
				"err", err,
			)
			continue
		}
		out[i] = collateral
	}
	return out, nil
}

// Scan walks t's borrowers and liquidates every profitable opportunity.
// When a rate limiter is set and its budget is exhausted, the remaining
// borrowers are left for the next scan. Returns the number liquidated.
func (a *Agent) Scan(caller string, t Target) (int, error) {
	var (
		done int
		errs []error
	)
	for _, borrower := range t.Borrowers() {
		ok, _ := a.CheckOpportunity(t, borrower)
		if !ok {
			continue
		}
		if a.limiter != nil && !a.limiter.Allow() {
			break
		}
		if _, err := a.Liquidate(caller, t, borrower); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", borrower, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// History returns borrower's liquidation records, oldest first.
func (a *Agent) History(borrower string) []model.LiquidationRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.LiquidationRecord, len(a.records[borrower]))
	copy(out, a.records[borrower])
	return out
}

// IsAuthorized reports whether vaultID is on the allow list.
func (a *Agent) IsAuthorized(vaultID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authorized[vaultID]
}

func (a *Agent) refund(caller string, amount *uint256.Int) {
	if err := a.token.Transfer(a.account, caller, amount); err != nil {
		a.logger.Error("agent refund failed",
			"operator", caller,
			"amount", fixed.ToDecimal(amount).String(),
			"err", err,
		)
	}
}
