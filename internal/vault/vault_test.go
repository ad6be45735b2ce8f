package vault_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/caps"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ledger"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/notify"
	"github.com/atmx/safelend-vault/internal/ratemodel"
	"github.com/atmx/safelend-vault/internal/vault"
)

const vaultAccount = "vault"

func u(n uint64) *uint256.Int {
	return fixed.Units(n)
}

func dec(s string) *uint256.Int {
	return fixed.MustFromDecimalString(s)
}

type env struct {
	token  *asset.Ledger
	roles  *auth.Roles
	clock  *ledger.ManualClock
	v      *vault.Vault
	events []model.Event
}

// newEnv creates a vault with default config, an admin identity "admin"
// and a liquidation operator "keeper".
func newEnv(t *testing.T, opts ...vault.Option) *env {
	t.Helper()
	return newEnvWithToken(t, asset.NewLedger("USDX"), nil, opts...)
}

func newEnvWithToken(t *testing.T, ledgerToken *asset.Ledger, token asset.Token, opts ...vault.Option) *env {
	t.Helper()
	e := &env{
		token: ledgerToken,
		roles: auth.NewRoles(),
		clock: &ledger.ManualClock{},
	}
	if token == nil {
		token = ledgerToken
	}
	e.roles.Grant("admin", auth.Administrator)
	e.roles.Grant("keeper", auth.LiquidationOperator)

	sink := notify.SinkFunc(func(ev model.Event) { e.events = append(e.events, ev) })
	opts = append([]vault.Option{vault.WithSink(sink)}, opts...)

	v, err := vault.New("vault-1", vaultAccount, token, e.roles, e.clock, vault.DefaultConfig(), opts...)
	require.NoError(t, err)
	e.v = v
	return e
}

// fund mints units to account and approves the vault for everything.
func (e *env) fund(t *testing.T, account string, units uint64) {
	t.Helper()
	require.NoError(t, e.token.Mint(account, u(units)))
	require.NoError(t, e.token.Approve(account, vaultAccount, fixed.Max))
}

func (e *env) deposit(t *testing.T, account string, units uint64) {
	t.Helper()
	e.fund(t, account, units)
	_, err := e.v.Deposit(account, u(units))
	require.NoError(t, err)
}

func (e *env) lowerThreshold(t *testing.T, threshold *uint256.Int) {
	t.Helper()
	cfg := e.v.Config()
	cfg.LiquidationThreshold = threshold
	require.NoError(t, e.v.ReplaceConfig("admin", cfg))
}

// --- Scenarios ---

func TestDepositAndBorrow_Healthy(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)

	require.NoError(t, e.v.Borrow("alice", u(50)))

	hf := e.v.HealthFactor("alice")
	assert.True(t, hf.Gt(fixed.Scale), "health factor %s should exceed 1.0", hf.Dec())
	assert.True(t, hf.Eq(dec("1.6")), "100 · 0.8 / 50 = 1.6, got %s", fixed.ToDecimal(hf))
	assert.True(t, e.token.BalanceOf("alice").Eq(u(50)))
	assert.True(t, e.v.TotalBorrows().Eq(u(50)))
	assert.Equal(t, []string{"alice"}, e.v.Borrowers())
}

func TestBorrow_AboveCollateralFactorRejected(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)

	err := e.v.Borrow("alice", u(80))
	require.ErrorIs(t, err, vault.ErrBorrowLimitExceeded)
	assert.Equal(t, vault.ClassInvariant, vault.Classify(err))

	// Nothing moved.
	assert.True(t, e.v.Position("alice").Principal.IsZero())
	assert.True(t, e.v.TotalBorrows().IsZero())
	assert.True(t, e.v.Cash().Eq(u(100)))
	assert.True(t, e.token.BalanceOf("alice").IsZero())

	// Exactly at the limit is fine.
	require.NoError(t, e.v.Borrow("alice", u(75)))
}

func TestLiquidation_AfterThresholdLowered(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(75)))
	require.False(t, e.v.HealthFactor("alice").Lt(fixed.Scale))

	e.lowerThreshold(t, fixed.Percent(70))
	require.True(t, e.v.HealthFactor("alice").Lt(fixed.Scale))

	e.fund(t, "keeper", 100)
	collateral, err := e.v.Liquidate("keeper", "alice")
	require.NoError(t, err)

	// Half of 75 covered; 37.5 · 100 · 1.05 / 75 = 52.5 seized.
	assert.True(t, collateral.Eq(dec("52.5")), "collateral %s", fixed.ToDecimal(collateral))
	assert.True(t, e.v.TotalDebt("alice").Eq(dec("37.5")))
	assert.True(t, e.v.Position("alice").Collateral.Eq(dec("47.5")))
	assert.True(t, e.v.TotalBorrows().Eq(dec("37.5")))
	assert.True(t, e.token.BalanceOf("keeper").Eq(u(115)))

	// Shares backing the seized collateral are burned.
	assert.True(t, e.v.ShareBalance("alice").Eq(dec("47.5")))
	assert.True(t, e.v.TotalShares().Eq(dec("47.5")))
	assert.True(t, e.v.Cash().Eq(u(10)))
}

func TestRepay_ClampsToDebt(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))
	e.fund(t, "alice", 100) // balance now 150

	repaid, err := e.v.Repay("alice", u(80))
	require.NoError(t, err)
	assert.True(t, repaid.Eq(u(50)))
	assert.True(t, e.v.TotalDebt("alice").IsZero())
	assert.True(t, e.token.BalanceOf("alice").Eq(u(100)), "only the owed amount is pulled")
	assert.True(t, e.v.TotalBorrows().IsZero())
	assert.Empty(t, e.v.Borrowers())

	_, err = e.v.Repay("alice", u(1))
	assert.ErrorIs(t, err, vault.ErrNoDebt)
}

func TestRepay_InterestFirst(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))

	e.clock.Advance(ratemodel.PeriodsPerYear)
	_, err := e.v.Repay("alice", u(1))
	require.NoError(t, err)

	p := e.v.Position("alice")
	assert.True(t, p.Principal.Eq(u(50)), "principal untouched while interest is owed")
	assert.False(t, p.Interest.IsZero())
	assert.Equal(t, uint64(ratemodel.PeriodsPerYear), p.LastUpdate)

	// Pool borrows carry the accrued interest; the repayment was interest only.
	assert.True(t, e.v.TotalBorrows().Gt(u(50)))
	assert.False(t, e.v.TotalReserves().IsZero())
}

func TestPause_Asymmetry(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))
	e.fund(t, "bob", 10)

	require.NoError(t, e.v.Pause("admin"))
	assert.True(t, e.v.Config().Paused)

	_, err := e.v.Deposit("bob", u(10))
	assert.ErrorIs(t, err, vault.ErrPaused)
	assert.ErrorIs(t, e.v.Borrow("alice", u(1)), vault.ErrPaused)

	_, err = e.v.Repay("alice", u(10))
	assert.NoError(t, err, "repay stays open while paused")

	_, err = e.v.Withdraw("alice", u(10))
	assert.NoError(t, err, "withdraw stays open while paused")

	_, err = e.v.Liquidate("keeper", "alice")
	assert.ErrorIs(t, err, vault.ErrNotLiquidatable, "liquidate is evaluated, not blocked by pause")

	require.NoError(t, e.v.Unpause("admin"))
	_, err = e.v.Deposit("bob", u(10))
	assert.NoError(t, err)
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	e.fund(t, "bob", 40)

	shares, err := e.v.Deposit("bob", u(40))
	require.NoError(t, err)
	assert.True(t, shares.Eq(u(40)))

	amount, err := e.v.Withdraw("bob", shares)
	require.NoError(t, err)
	assert.True(t, amount.Eq(u(40)))
	assert.True(t, e.token.BalanceOf("bob").Eq(u(40)))
	assert.True(t, e.v.ShareBalance("bob").IsZero())
	assert.True(t, e.v.Position("bob").Collateral.IsZero())
	assert.True(t, e.v.TotalShares().Eq(u(100)))
}

func TestWithdraw_Rejections(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)

	_, err := e.v.Withdraw("alice", fixed.Zero())
	assert.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = e.v.Withdraw("alice", u(101))
	assert.ErrorIs(t, err, vault.ErrInsufficientShares)

	require.NoError(t, e.v.Borrow("alice", u(75)))
	// 90 · 0.8 = 72 < 75 debt.
	_, err = e.v.Withdraw("alice", u(10))
	assert.ErrorIs(t, err, vault.ErrUndercollateralized)
	assert.True(t, e.v.ShareBalance("alice").Eq(u(100)))
}

func TestLiquidity_Rejections(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	e.deposit(t, "bob", 100)
	require.NoError(t, e.v.Borrow("bob", u(75)))

	// Drain the vault's cash out of band: 125 → 25.
	require.NoError(t, e.token.Transfer(vaultAccount, "elsewhere", u(100)))

	// 60 shares · (25 + 75) / 200 = 30 > 25 cash.
	_, err := e.v.Withdraw("alice", u(60))
	assert.ErrorIs(t, err, vault.ErrInsufficientLiquidity)

	err = e.v.Borrow("alice", u(30))
	assert.ErrorIs(t, err, vault.ErrInsufficientLiquidity)
	assert.Equal(t, vault.ClassInsufficient, vault.Classify(err))
}

func TestDeposit_Rejections(t *testing.T) {
	e := newEnv(t)

	_, err := e.v.Deposit("alice", fixed.Zero())
	assert.ErrorIs(t, err, vault.ErrInvalidAmount)
	assert.Equal(t, vault.ClassValidation, vault.Classify(err))

	// No allowance: the pull fails and nothing is recorded.
	require.NoError(t, e.token.Mint("alice", u(10)))
	_, err = e.v.Deposit("alice", u(10))
	assert.ErrorIs(t, err, vault.ErrTransfer)
	assert.ErrorIs(t, err, asset.ErrInsufficientAllowance)
	assert.True(t, e.v.TotalShares().IsZero())
	assert.True(t, e.v.Position("alice").Collateral.IsZero())
	assert.Empty(t, e.events)
}

func TestDeposit_ZeroSharesRejected(t *testing.T) {
	e := newEnv(t)
	e.fund(t, "alice", 1)
	_, err := e.v.Deposit("alice", fixed.New(1)) // one raw unit → one share
	require.NoError(t, err)

	// Donation inflates the share price.
	require.NoError(t, e.token.Mint(vaultAccount, u(1000)))

	e.fund(t, "bob", 1)
	_, err = e.v.Deposit("bob", u(1))
	assert.ErrorIs(t, err, vault.ErrZeroShares)
	assert.True(t, e.token.BalanceOf("bob").Eq(u(1)))
}

func TestLiquidate_Authorization(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(75)))
	e.lowerThreshold(t, fixed.Percent(70))
	e.fund(t, "mallory", 100)

	_, err := e.v.Liquidate("mallory", "alice")
	require.ErrorIs(t, err, vault.ErrUnauthorized)
	var authErr *vault.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, auth.LiquidationOperator, authErr.Capability)
	assert.Equal(t, vault.ClassAuthorization, vault.Classify(err))
	assert.True(t, e.v.TotalDebt("alice").Eq(u(75)))

	cfg := e.v.Config()
	cfg.PublicLiquidation = true
	require.NoError(t, e.v.ReplaceConfig("admin", cfg))

	_, err = e.v.Liquidate("mallory", "alice")
	assert.NoError(t, err)
}

func TestLiquidate_DisabledAndHealthy(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))

	_, err := e.v.Liquidate("keeper", "alice")
	assert.ErrorIs(t, err, vault.ErrNotLiquidatable)

	_, err = e.v.Liquidate("keeper", "nobody")
	assert.ErrorIs(t, err, vault.ErrNotLiquidatable)

	cfg := e.v.Config()
	cfg.LiquidationEnabled = false
	require.NoError(t, e.v.ReplaceConfig("admin", cfg))
	_, err = e.v.Liquidate("keeper", "alice")
	assert.ErrorIs(t, err, vault.ErrLiquidationDisabled)
}

func TestAdmin_RequiresAdministrator(t *testing.T) {
	e := newEnv(t)

	err := e.v.Pause("alice")
	assert.ErrorIs(t, err, vault.ErrUnauthorized)
	assert.False(t, e.v.Config().Paused)

	bad := e.v.Config()
	bad.CollateralFactor = u(2)
	assert.ErrorIs(t, e.v.ReplaceConfig("admin", bad), vault.ErrInvalidConfig)

	bad = e.v.Config()
	bad.RateModel = nil
	assert.ErrorIs(t, e.v.ReplaceConfig("admin", bad), vault.ErrInvalidConfig)

	assert.ErrorIs(t, e.v.ReplaceConfig("alice", e.v.Config()), vault.ErrUnauthorized)
	assert.True(t, e.v.Config().CollateralFactor.Eq(fixed.Percent(75)))
}

func TestReplaceConfig_SettlesUnderOldConfig(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))

	e.clock.Advance(1000)
	cfg := e.v.Config()
	cfg.ReserveFactor = fixed.Zero()
	require.NoError(t, e.v.ReplaceConfig("admin", cfg))

	// The 1000 elapsed periods were charged with the old 10% reserve factor.
	assert.True(t, e.v.TotalBorrows().Gt(u(50)))
	assert.False(t, e.v.TotalReserves().IsZero())
}

func TestBorrowCaps(t *testing.T) {
	limiter := caps.NewBorrowLimiter(u(10), nil, nil)
	e := newEnv(t, vault.WithBorrowLimiter(limiter))
	e.deposit(t, "alice", 100)

	err := e.v.Borrow("alice", u(20))
	assert.ErrorIs(t, err, vault.ErrBorrowLimitExceeded)
	assert.ErrorIs(t, err, caps.ErrPositionCapExceeded)

	assert.NoError(t, e.v.Borrow("alice", u(10)))
}

func TestEvents(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(10)))
	require.NoError(t, e.v.Pause("admin"))

	require.Len(t, e.events, 3)
	assert.Equal(t, model.EventDeposit, e.events[0].Kind)
	assert.Equal(t, "vault-1", e.events[0].VaultID)
	assert.NotEmpty(t, e.events[0].ID)
	assert.True(t, e.events[0].Shares.Eq(u(100)))
	require.NotNil(t, e.events[0].Position)
	assert.True(t, e.events[0].Position.Collateral.Eq(u(100)))

	assert.Equal(t, model.EventBorrow, e.events[1].Kind)
	assert.True(t, e.events[1].Position.Principal.Eq(u(10)))

	assert.Equal(t, model.EventPause, e.events[2].Kind)
	assert.Nil(t, e.events[2].Position)
}

// --- Re-entrancy and failed transfers ---

// reentrantToken calls back into the vault from inside a pull.
type reentrantToken struct {
	*asset.Ledger
	v     *vault.Vault
	armed bool
	err   error
}

func (r *reentrantToken) TransferFrom(spender, from, to string, amount *uint256.Int) error {
	if r.armed {
		r.armed = false
		_, r.err = r.v.Deposit(from, amount)
	}
	return r.Ledger.TransferFrom(spender, from, to, amount)
}

func TestReentrancyRefused(t *testing.T) {
	token := &reentrantToken{Ledger: asset.NewLedger("USDX")}
	e := newEnvWithToken(t, token.Ledger, token)
	token.v = e.v
	e.fund(t, "alice", 100)

	token.armed = true
	_, err := e.v.Deposit("alice", u(50))
	require.NoError(t, err)
	assert.ErrorIs(t, token.err, vault.ErrReentrant)
	assert.True(t, e.v.TotalShares().Eq(u(50)), "only the outer deposit is recorded")

	// The guard is released after the call.
	_, err = e.v.Deposit("alice", u(50))
	assert.NoError(t, err)
}

// flakyPush fails the next n pushes to one account.
type flakyPush struct {
	*asset.Ledger
	to    string
	fails int
}

func (f *flakyPush) Transfer(from, to string, amount *uint256.Int) error {
	if to == f.to && f.fails > 0 {
		f.fails--
		return errors.New("push rejected")
	}
	return f.Ledger.Transfer(from, to, amount)
}

func TestLiquidate_FailedPushLeavesNoState(t *testing.T) {
	token := &flakyPush{Ledger: asset.NewLedger("USDX"), to: "keeper"}
	e := newEnvWithToken(t, token.Ledger, token)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(75)))
	e.lowerThreshold(t, fixed.Percent(70))
	e.fund(t, "keeper", 100)

	token.fails = 1
	_, err := e.v.Liquidate("keeper", "alice")
	require.ErrorIs(t, err, vault.ErrTransfer)

	assert.True(t, e.v.TotalDebt("alice").Eq(u(75)))
	assert.True(t, e.v.Position("alice").Collateral.Eq(u(100)))
	assert.True(t, e.v.ShareBalance("alice").Eq(u(100)))
	assert.True(t, e.token.BalanceOf("keeper").Eq(u(100)), "covered debt is refunded")
	assert.True(t, e.v.Cash().Eq(u(25)))
}

// --- Views and executor ---

func TestRatesView(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(50)))

	rates, err := e.v.Rates()
	require.NoError(t, err)
	assert.True(t, rates.Utilization.Eq(fixed.Percent(50)))
	assert.True(t, rates.BorrowRate.Eq(fixed.Percent(7)))
	assert.True(t, rates.SupplyRate.Lt(rates.BorrowRate))

	util, err := e.v.UtilizationRate()
	require.NoError(t, err)
	assert.True(t, util.Eq(rates.Utilization))
	assert.True(t, e.v.TotalSupply().Eq(u(100)))
	assert.Equal(t, []string{"alice"}, e.v.Accounts())
	assert.True(t, e.v.HealthFactor("nobody").Eq(fixed.Max))
}

func TestExecutor_SerializesConcurrentCalls(t *testing.T) {
	e := newEnv(t)
	ex := vault.NewExecutor(e.v)

	const n = 20
	for i := 0; i < n; i++ {
		e.fund(t, account(i), 1)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- ex.Do(func(v *vault.Vault) error {
				_, err := v.Deposit(account(i), u(1))
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err, "no call may observe another in flight")
	}
	assert.True(t, e.v.TotalShares().Eq(u(n)))
	assert.Equal(t, "vault-1", ex.ID())
}

func account(i int) string {
	return "user-" + string(rune('a'+i))
}

func TestInjectedLedger(t *testing.T) {
	state := ledger.New(0)
	e := newEnv(t, vault.WithLedger(state))
	e.deposit(t, "alice", 100)
	require.NoError(t, e.v.Borrow("alice", u(40)))

	p := state.Position("alice")
	assert.True(t, p.Collateral.Eq(u(100)))
	assert.True(t, p.Principal.Eq(u(40)))
	assert.True(t, state.Pool().TotalBorrows.Eq(u(40)))
	assert.True(t, state.Shares("alice").Eq(u(100)))
	assert.Equal(t, []string{"alice"}, state.Borrowers())
}
