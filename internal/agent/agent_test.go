package agent_test

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/atmx/safelend-vault/internal/agent"
	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ledger"
	"github.com/atmx/safelend-vault/internal/model"
	"github.com/atmx/safelend-vault/internal/vault"
)

const (
	vaultAccount = "vault"
	agentAccount = "agent"
)

func u(n uint64) *uint256.Int {
	return fixed.Units(n)
}

func dec(s string) *uint256.Int {
	return fixed.MustFromDecimalString(s)
}

type env struct {
	token *asset.Ledger
	roles *auth.Roles
	v     *vault.Vault
	a     *agent.Agent
}

type historyStub []model.LiquidationRecord

func (h *historyStub) RecordLiquidation(rec model.LiquidationRecord) { *h = append(*h, rec) }

// newEnv builds a vault where each listed borrower deposited 100 and
// borrowed 75, then the liquidation threshold dropped to 70% so every
// borrower is underwater.
func newEnv(t *testing.T, borrowers []string, opts ...agent.Option) *env {
	t.Helper()
	e := &env{token: asset.NewLedger("USDX"), roles: auth.NewRoles()}
	e.roles.Grant("admin", auth.Administrator)
	e.roles.Grant("keeper", auth.LiquidationOperator)
	e.roles.Grant(agentAccount, auth.LiquidationOperator)

	v, err := vault.New("vault-1", vaultAccount, e.token, e.roles, &ledger.ManualClock{}, vault.DefaultConfig())
	require.NoError(t, err)
	e.v = v

	for _, b := range borrowers {
		e.fund(t, b, 100, vaultAccount)
		_, err := v.Deposit(b, u(100))
		require.NoError(t, err)
		require.NoError(t, v.Borrow(b, u(75)))
	}
	cfg := v.Config()
	cfg.LiquidationThreshold = fixed.Percent(70)
	require.NoError(t, v.ReplaceConfig("admin", cfg))

	e.a = agent.New(agentAccount, e.token, e.roles, opts...)
	return e
}

func (e *env) fund(t *testing.T, account string, units uint64, spender string) {
	t.Helper()
	require.NoError(t, e.token.Mint(account, u(units)))
	require.NoError(t, e.token.Approve(account, spender, fixed.Max))
}

func TestCheckOpportunity(t *testing.T) {
	e := newEnv(t, []string{"alice"})

	ok, profit := e.a.CheckOpportunity(e.v, "alice")
	assert.False(t, ok, "vault not yet authorized")
	assert.True(t, profit.IsZero())

	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	ok, profit = e.a.CheckOpportunity(e.v, "alice")
	assert.True(t, ok)
	// (75 / 2) · 5% = 1.875
	assert.True(t, profit.Eq(dec("1.875")), "profit %s", fixed.ToDecimal(profit))

	require.NoError(t, e.a.SetMinProfit("admin", u(2)))
	ok, profit = e.a.CheckOpportunity(e.v, "alice")
	assert.False(t, ok)
	assert.True(t, profit.Eq(dec("1.875")))

	ok, profit = e.a.CheckOpportunity(e.v, "healthy-nobody")
	assert.False(t, ok)
	assert.True(t, profit.IsZero())

	require.NoError(t, e.a.EmergencyStop("admin"))
	ok, _ = e.a.CheckOpportunity(e.v, "alice")
	assert.False(t, ok)
}

func TestLiquidate_ForwardsCollateralAndRefundsBuffer(t *testing.T) {
	var history historyStub
	e := newEnv(t, []string{"alice"}, agent.WithHistorySink(&history))
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 100, agentAccount)

	collateral, err := e.a.Liquidate("keeper", e.v, "alice")
	require.NoError(t, err)
	assert.True(t, collateral.Eq(dec("52.5")))

	// 100 − 37.5 covered + 52.5 collateral.
	assert.True(t, e.token.BalanceOf("keeper").Eq(u(115)), "keeper %s", fixed.ToDecimal(e.token.BalanceOf("keeper")))
	assert.True(t, e.token.BalanceOf(agentAccount).IsZero(), "agent keeps nothing")
	assert.True(t, e.token.Allowance(agentAccount, vaultAccount).IsZero(), "vault approval is reset")
	assert.True(t, e.v.TotalDebt("alice").Eq(dec("37.5")))

	records := e.a.History("alice")
	require.Len(t, records, 1)
	assert.Equal(t, "keeper", records[0].Operator)
	assert.Equal(t, "vault-1", records[0].VaultID)
	assert.True(t, records[0].DebtCovered.Eq(dec("37.5")))
	assert.True(t, records[0].CollateralReceived.Eq(dec("52.5")))
	require.Len(t, history, 1)
	assert.Equal(t, records[0].ID, history[0].ID)
}

func TestLiquidate_Guards(t *testing.T) {
	e := newEnv(t, []string{"alice"})
	e.fund(t, "keeper", 100, agentAccount)
	e.fund(t, "mallory", 100, agentAccount)

	_, err := e.a.Liquidate("keeper", e.v, "alice")
	assert.ErrorIs(t, err, agent.ErrVaultNotAuthorized)

	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))

	_, err = e.a.Liquidate("mallory", e.v, "alice")
	assert.ErrorIs(t, err, vault.ErrUnauthorized)

	require.NoError(t, e.a.EmergencyStop("admin"))
	_, err = e.a.Liquidate("keeper", e.v, "alice")
	assert.ErrorIs(t, err, agent.ErrEmergencyStopped)
	require.NoError(t, e.a.Resume("admin"))

	_, err = e.a.Liquidate("keeper", e.v, "nobody")
	assert.ErrorIs(t, err, agent.ErrNothingToLiquidate)

	require.NoError(t, e.a.SetPublicLiquidation("admin", true))
	_, err = e.a.Liquidate("mallory", e.v, "alice")
	assert.NoError(t, err)

	require.NoError(t, e.a.RevokeVault("admin", e.v.ID()))
	_, err = e.a.Liquidate("keeper", e.v, "alice")
	assert.ErrorIs(t, err, agent.ErrVaultNotAuthorized)
}

func TestLiquidate_VaultRejectionRefundsBuffer(t *testing.T) {
	e := newEnv(t, []string{"alice"})
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 100, agentAccount)

	cfg := e.v.Config()
	cfg.LiquidationEnabled = false
	require.NoError(t, e.v.ReplaceConfig("admin", cfg))

	_, err := e.a.Liquidate("keeper", e.v, "alice")
	assert.ErrorIs(t, err, vault.ErrLiquidationDisabled)
	assert.True(t, e.token.BalanceOf("keeper").Eq(u(100)))
	assert.True(t, e.token.BalanceOf(agentAccount).IsZero())
	assert.Empty(t, e.a.History("alice"))
}

func TestLiquidate_UnderfundedOperator(t *testing.T) {
	e := newEnv(t, []string{"alice"})
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 10, agentAccount) // buffer is 82.5

	_, err := e.a.Liquidate("keeper", e.v, "alice")
	assert.ErrorIs(t, err, asset.ErrInsufficientBalance)
	assert.True(t, e.v.TotalDebt("alice").Eq(u(75)))
}

func TestAdmin_RequiresAdministrator(t *testing.T) {
	e := newEnv(t, nil)
	assert.ErrorIs(t, e.a.AuthorizeVault("keeper", "vault-1"), vault.ErrUnauthorized)
	assert.ErrorIs(t, e.a.EmergencyStop("keeper"), vault.ErrUnauthorized)
	assert.ErrorIs(t, e.a.SetMinProfit("keeper", u(1)), vault.ErrUnauthorized)
	assert.False(t, e.a.IsAuthorized("vault-1"))
}

func TestBatchLiquidate(t *testing.T) {
	e := newEnv(t, []string{"alice"})
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 200, agentAccount)

	// A healthy position in the same vault.
	e.fund(t, "bob", 100, vaultAccount)
	_, err := e.v.Deposit("bob", u(100))
	require.NoError(t, err)

	_, err = e.a.BatchLiquidate("keeper", []agent.Target{e.v}, []string{"alice", "bob"})
	assert.ErrorIs(t, err, agent.ErrLengthMismatch)

	out, err := e.a.BatchLiquidate("keeper", []agent.Target{e.v, e.v}, []string{"bob", "alice"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].IsZero(), "healthy entry fails without aborting the batch")
	assert.True(t, out[1].Eq(dec("52.5")))
}

func TestScan(t *testing.T) {
	e := newEnv(t, []string{"alice", "bob"})
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 200, agentAccount)

	n, err := e.a.Scan("keeper", e.v)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, e.a.History("alice"), 1)
	assert.Len(t, e.a.History("bob"), 1)
}

func TestScan_RateLimited(t *testing.T) {
	e := newEnv(t, []string{"alice", "bob"}, agent.WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	require.NoError(t, e.a.AuthorizeVault("admin", e.v.ID()))
	e.fund(t, "keeper", 200, agentAccount)

	n, err := e.a.Scan("keeper", e.v)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "burst of one allows a single liquidation per scan")
}
