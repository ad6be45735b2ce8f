// Package vault is the lending vault orchestrator: deposit, withdraw,
// borrow, repay and liquidate over a single asset.
//
// Every mutating operation follows the same shape:
//
//  1. refuse re-entrant calls
//  2. check authorization (liquidate and admin only)
//  3. validate inputs and the pause switch
//  4. stage pool accrual, then position accrual, in a ledger.Tx
//  5. validate the staged state against the liquidation math
//  6. move assets through the token collaborator
//  7. commit the Tx and emit an event
//
// Any failure before step 7 discards the Tx, so rejected calls leave no
// trace. A Vault is not safe for concurrent use; wrap it in an Executor.
package vault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/caps"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ledger"
	"github.com/atmx/safelend-vault/internal/liquidation"
	"github.com/atmx/safelend-vault/internal/metrics"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/notify"
)

// Vault holds one pool of a single asset.
type Vault struct {
	id      string
	account string // the vault's own account in the token ledger

	token   asset.Token
	authz   auth.Authorizer
	clock   ledger.PeriodSource
	state   *ledger.Ledger
	limiter *caps.BorrowLimiter
	sink    notify.Sink
	logger  *slog.Logger
	now     func() time.Time

	cfg     Config
	entered bool
}

// Option customizes a Vault.
type Option func(*Vault)

// WithBorrowLimiter applies borrow caps on top of the collateral check.
func WithBorrowLimiter(l *caps.BorrowLimiter) Option {
	return func(v *Vault) { v.limiter = l }
}

// WithSink sets the event sink. Defaults to notify.Discard.
func WithSink(s notify.Sink) Option {
	return func(v *Vault) { v.sink = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithLedger injects an existing ledger instead of a fresh one.
func WithLedger(l *ledger.Ledger) Option {
	return func(v *Vault) { v.state = l }
}

// New creates a vault. account is the vault's own identity in token; cash
// is token.BalanceOf(account).
func New(id, account string, token asset.Token, authz auth.Authorizer, clock ledger.PeriodSource, cfg Config, opts ...Option) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Vault{
		id:      id,
		account: account,
		token:   token,
		authz:   authz,
		clock:   clock,
		sink:    notify.Discard,
		logger:  slog.Default(),
		now:     time.Now,
		cfg:     cfg.Clone(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.state == nil {
		v.state = ledger.New(clock.Period())
	}
	return v, nil
}

// --- Deposit / Withdraw ---

// Deposit pulls amount from caller and mints pool shares. The first deposit
// mints shares 1:1; later deposits mint amount·totalShares/totalSupply.
// The deposit is also credited as the caller's collateral.
func (v *Vault) Deposit(caller string, amount *uint256.Int) (shares *uint256.Int, err error) {
	defer v.observe(model.EventDeposit, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	if v.cfg.Paused {
		return nil, ErrPaused
	}

	tx := v.state.Begin()
	now, cash, err := v.accrue(tx, caller)
	if err != nil {
		return nil, err
	}
	pool := tx.Pool()

	if pool.TotalShares.IsZero() {
		shares = fixed.Clone(amount)
	} else {
		totalAssets, err := totalSupply(cash, pool)
		if err != nil {
			return nil, err
		}
		if totalAssets.IsZero() {
			return nil, fmt.Errorf("%w: pool has shares but no assets", ErrZeroShares)
		}
		if shares, err = fixed.MulDiv(amount, pool.TotalShares, totalAssets); err != nil {
			return nil, err
		}
	}
	if shares.IsZero() {
		return nil, ErrZeroShares
	}

	totalShares, err := fixed.Add(pool.TotalShares, shares)
	if err != nil {
		return nil, err
	}
	balance := tx.Shares(caller)
	newBalance, err := fixed.Add(balance, shares)
	if err != nil {
		return nil, err
	}
	p := tx.Position(caller)
	collateral, err := fixed.Add(p.Collateral, amount)
	if err != nil {
		return nil, err
	}

	pool.TotalShares = totalShares
	balance.Set(newBalance)
	p.Collateral = collateral

	if err := v.pull(caller, amount); err != nil {
		return nil, err
	}
	tx.Commit()

	v.emit(model.Event{Kind: model.EventDeposit, Account: caller, Amount: amount, Shares: shares, Period: now}, caller)
	v.logger.Info("deposit",
		"vault", v.id,
		"account", caller,
		"amount", fixed.ToDecimal(amount).String(),
		"shares", shares.Dec(),
	)
	return shares, nil
}

// Withdraw burns shares and pushes the underlying amount
// shares·totalSupply/totalShares to caller. The amount may not exceed the
// caller's tracked collateral or the vault's cash, and the remaining
// collateral must keep the health factor at or above 1.0.
func (v *Vault) Withdraw(caller string, shares *uint256.Int) (amount *uint256.Int, err error) {
	defer v.observe(model.EventWithdraw, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if isZero(shares) {
		return nil, ErrInvalidAmount
	}

	tx := v.state.Begin()
	balance := tx.Shares(caller)
	if shares.Gt(balance) {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrInsufficientShares, balance.Dec(), shares.Dec())
	}

	now, cash, err := v.accrue(tx, caller)
	if err != nil {
		return nil, err
	}
	pool := tx.Pool()

	totalAssets, err := totalSupply(cash, pool)
	if err != nil {
		return nil, err
	}
	if amount, err = fixed.MulDiv(shares, totalAssets, pool.TotalShares); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal rounds to zero", ErrInvalidAmount)
	}

	p := tx.Position(caller)
	if amount.Gt(p.Collateral) {
		return nil, fmt.Errorf("%w: collateral %s, requested %s",
			ErrInsufficientCollateral, fixed.ToDecimal(p.Collateral), fixed.ToDecimal(amount))
	}
	if amount.Gt(cash) {
		return nil, ErrInsufficientLiquidity
	}

	remaining := new(uint256.Int).Sub(p.Collateral, amount)
	hf := liquidation.HealthFactor(remaining, p.Debt(), v.cfg.LiquidationThreshold)
	if liquidation.IsLiquidatable(hf) {
		return nil, ErrUndercollateralized
	}

	balance.Sub(balance, shares)
	pool.TotalShares = new(uint256.Int).Sub(pool.TotalShares, shares)
	p.Collateral = remaining

	if err := v.push(caller, amount); err != nil {
		return nil, err
	}
	tx.Commit()

	v.emit(model.Event{Kind: model.EventWithdraw, Account: caller, Amount: amount, Shares: shares, Period: now}, caller)
	v.logger.Info("withdraw",
		"vault", v.id,
		"account", caller,
		"amount", fixed.ToDecimal(amount).String(),
		"shares", shares.Dec(),
	)
	return amount, nil
}

// --- Borrow / Repay ---

// Borrow lends amount to caller against their collateral.
func (v *Vault) Borrow(caller string, amount *uint256.Int) (err error) {
	defer v.observe(model.EventBorrow, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return err
	}
	defer release()

	if isZero(amount) {
		return ErrInvalidAmount
	}
	if v.cfg.Paused {
		return ErrPaused
	}

	tx := v.state.Begin()
	now, cash, err := v.accrue(tx, caller)
	if err != nil {
		return err
	}
	pool := tx.Pool()
	p := tx.Position(caller)

	if amount.Gt(cash) {
		return fmt.Errorf("%w: cash %s, requested %s",
			ErrInsufficientLiquidity, fixed.ToDecimal(cash), fixed.ToDecimal(amount))
	}

	debt := p.Debt()
	headroom, err := liquidation.MaxBorrow(p.Collateral, v.cfg.CollateralFactor, debt)
	if err != nil {
		return err
	}
	if amount.Gt(headroom) {
		return fmt.Errorf("%w: max %s, requested %s",
			ErrBorrowLimitExceeded, fixed.ToDecimal(headroom), fixed.ToDecimal(amount))
	}
	if err := v.limiter.CheckBorrow(debt, amount, cash, pool.TotalBorrows, pool.TotalReserves); err != nil {
		return fmt.Errorf("%w: %w", ErrBorrowLimitExceeded, err)
	}

	principal, err := fixed.Add(p.Principal, amount)
	if err != nil {
		return err
	}
	borrows, err := fixed.Add(pool.TotalBorrows, amount)
	if err != nil {
		return err
	}
	p.Principal = principal
	p.LastUpdate = now
	pool.TotalBorrows = borrows

	if err := v.push(caller, amount); err != nil {
		return err
	}
	tx.Commit()

	v.emit(model.Event{Kind: model.EventBorrow, Account: caller, Amount: amount, Period: now}, caller)
	v.logger.Info("borrow",
		"vault", v.id,
		"account", caller,
		"amount", fixed.ToDecimal(amount).String(),
	)
	return nil
}

// Repay pulls up to amount from caller and applies it to accrued interest
// first, then principal. Amounts beyond the total debt are not pulled.
// Returns the amount actually repaid.
func (v *Vault) Repay(caller string, amount *uint256.Int) (repaid *uint256.Int, err error) {
	defer v.observe(model.EventRepay, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if isZero(amount) {
		return nil, ErrInvalidAmount
	}

	tx := v.state.Begin()
	now, _, err := v.accrue(tx, caller)
	if err != nil {
		return nil, err
	}
	pool := tx.Pool()
	p := tx.Position(caller)

	debt := p.Debt()
	if debt.IsZero() {
		return nil, ErrNoDebt
	}
	repaid = fixed.Min(amount, debt)

	principalPaid := applyPayment(p, repaid)
	pool.TotalBorrows = fixed.SubSat(pool.TotalBorrows, principalPaid)

	if err := v.pull(caller, repaid); err != nil {
		return nil, err
	}
	tx.Commit()

	v.emit(model.Event{Kind: model.EventRepay, Account: caller, Amount: repaid, Period: now}, caller)
	v.logger.Info("repay",
		"vault", v.id,
		"account", caller,
		"amount", fixed.ToDecimal(repaid).String(),
		"remaining_debt", fixed.ToDecimal(p.Debt()).String(),
	)
	return repaid, nil
}

// --- Liquidate ---

// Liquidate repays up to half of borrower's debt on their behalf and pays
// caller the proportional collateral plus the liquidation bonus. Requires
// the liquidation operator capability unless public liquidation is on.
// Returns the collateral paid out.
func (v *Vault) Liquidate(caller, borrower string) (collateral *uint256.Int, err error) {
	defer v.observe(model.EventLiquidation, time.Now(), &err)

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if !v.cfg.PublicLiquidation {
		if err := v.authorize(caller, auth.LiquidationOperator); err != nil {
			return nil, err
		}
	}
	if !v.cfg.LiquidationEnabled {
		return nil, ErrLiquidationDisabled
	}

	tx := v.state.Begin()
	now, cash, err := v.accrue(tx, borrower)
	if err != nil {
		return nil, err
	}
	pool := tx.Pool()
	p := tx.Position(borrower)

	debt := p.Debt()
	hf := liquidation.HealthFactor(p.Collateral, debt, v.cfg.LiquidationThreshold)
	if !liquidation.IsLiquidatable(hf) {
		return nil, ErrNotLiquidatable
	}

	half := new(uint256.Int).Rsh(debt, 1)
	collateral, covered, err := liquidation.Amounts(half, debt, p.Collateral, v.cfg.LiquidationBonus)
	if err != nil {
		return nil, err
	}
	if covered.IsZero() {
		return nil, fmt.Errorf("%w: debt too small to liquidate", ErrNotLiquidatable)
	}

	// Burn the borrower's shares backing the seized collateral, valued
	// before the liquidation moves any assets.
	totalAssets, err := totalSupply(cash, pool)
	if err != nil {
		return nil, err
	}
	balance := tx.Shares(borrower)
	burn := fixed.Clone(balance)
	if !totalAssets.IsZero() {
		if burn, err = fixed.MulDiv(collateral, pool.TotalShares, totalAssets); err != nil {
			return nil, err
		}
		burn = fixed.Min(burn, balance)
	}

	principalPaid := applyPayment(p, covered)
	pool.TotalBorrows = fixed.SubSat(pool.TotalBorrows, principalPaid)
	p.Collateral = new(uint256.Int).Sub(p.Collateral, collateral)
	balance.Sub(balance, burn)
	pool.TotalShares = fixed.SubSat(pool.TotalShares, burn)

	if err := v.pull(caller, covered); err != nil {
		return nil, err
	}
	if err := v.push(caller, collateral); err != nil {
		// Hand the covered debt back so the failed call moves nothing.
		if refundErr := v.token.Transfer(v.account, caller, covered); refundErr != nil {
			v.logger.Error("liquidation refund failed",
				"vault", v.id,
				"liquidator", caller,
				"amount", fixed.ToDecimal(covered).String(),
				"err", refundErr,
			)
		}
		return nil, err
	}
	tx.Commit()

	v.emit(model.Event{
		Kind:       model.EventLiquidation,
		Account:    caller,
		Borrower:   borrower,
		Amount:     covered,
		Shares:     burn,
		Collateral: collateral,
		Period:     now,
	}, borrower)
	v.logger.Info("liquidation",
		"vault", v.id,
		"liquidator", caller,
		"borrower", borrower,
		"debt_covered", fixed.ToDecimal(covered).String(),
		"collateral", fixed.ToDecimal(collateral).String(),
		"health_factor", fixed.ToDecimal(hf).String(),
	)
	return collateral, nil
}

// --- internals ---

// enter sets the in-call flag. The returned func clears it.
func (v *Vault) enter() (func(), error) {
	if v.entered {
		return nil, ErrReentrant
	}
	v.entered = true
	return func() { v.entered = false }, nil
}

func (v *Vault) authorize(identity string, c auth.Capability) error {
	if v.authz == nil || !v.authz.HasCapability(identity, c) {
		return &AuthorizationError{Identity: identity, Capability: c}
	}
	return nil
}

// accrue stages pool accrual and then position accrual for each account.
// It returns the current period and the vault's cash.
func (v *Vault) accrue(tx *ledger.Tx, accounts ...string) (uint64, *uint256.Int, error) {
	now := v.clock.Period()
	cash := v.cash()
	if _, err := tx.AccruePool(now, cash, v.cfg.RateModel, v.cfg.ReserveFactor); err != nil {
		return 0, nil, fmt.Errorf("accrue pool: %w", err)
	}
	for _, account := range accounts {
		if _, err := tx.AccruePosition(account, now, cash, v.cfg.RateModel); err != nil {
			return 0, nil, fmt.Errorf("accrue position %s: %w", account, err)
		}
	}
	return now, cash, nil
}

func (v *Vault) cash() *uint256.Int {
	return v.token.BalanceOf(v.account)
}

// pull moves amount from account into the vault using the allowance
// account granted the vault.
func (v *Vault) pull(account string, amount *uint256.Int) error {
	if err := v.token.TransferFrom(v.account, account, v.account, amount); err != nil {
		return fmt.Errorf("%w: pull from %s: %w", ErrTransfer, account, err)
	}
	return nil
}

func (v *Vault) push(account string, amount *uint256.Int) error {
	if err := v.token.Transfer(v.account, account, amount); err != nil {
		return fmt.Errorf("%w: push to %s: %w", ErrTransfer, account, err)
	}
	return nil
}

// emit publishes e with the committed position of subject attached.
func (v *Vault) emit(e model.Event, subject string) {
	e.ID = uuid.New().String()
	e.VaultID = v.id
	e.Timestamp = v.now().UTC()
	if subject != "" {
		p := v.state.Position(subject)
		e.Position = &p
	}
	v.sink.Notify(e)
	v.publishGauges()
}

func (v *Vault) observe(kind model.EventKind, start time.Time, err *error) {
	metrics.OperationLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if *err != nil {
		metrics.OperationRejections.WithLabelValues(string(kind), string(Classify(*err))).Inc()
	}
}

func (v *Vault) publishGauges() {
	pool := v.state.Pool()
	metrics.TotalBorrows.Set(fixed.Float(pool.TotalBorrows))
	metrics.TotalReserves.Set(fixed.Float(pool.TotalReserves))
	metrics.TotalSupply.Set(fixed.Float(v.TotalSupply()))
	if u, err := v.UtilizationRate(); err == nil {
		metrics.Utilization.Set(fixed.Float(u))
	}
}

// applyPayment reduces interest first and then principal by amount, which
// must not exceed the position's debt. Returns the principal portion.
func applyPayment(p *model.Position, amount *uint256.Int) *uint256.Int {
	toInterest := fixed.Min(amount, p.Interest)
	toPrincipal := new(uint256.Int).Sub(amount, toInterest)
	p.Interest = new(uint256.Int).Sub(p.Interest, toInterest)
	p.Principal = fixed.SubSat(p.Principal, toPrincipal)
	return toPrincipal
}

// totalSupply is cash + borrows − reserves, floored at zero.
func totalSupply(cash *uint256.Int, pool *model.Pool) (*uint256.Int, error) {
	gross, err := fixed.Add(cash, pool.TotalBorrows)
	if err != nil {
		return nil, err
	}
	return fixed.SubSat(gross, pool.TotalReserves), nil
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}
