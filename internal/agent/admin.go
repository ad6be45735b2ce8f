package agent

import (
	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/vault"
)

// AuthorizeVault adds vaultID to the allow list.
func (a *Agent) AuthorizeVault(caller, vaultID string) error {
	return a.admin(caller, func() { a.authorized[vaultID] = true })
}

// RevokeVault removes vaultID from the allow list.
func (a *Agent) RevokeVault(caller, vaultID string) error {
	return a.admin(caller, func() { delete(a.authorized, vaultID) })
}

// SetMinProfit sets the minimum estimated profit for CheckOpportunity.
func (a *Agent) SetMinProfit(caller string, p *uint256.Int) error {
	return a.admin(caller, func() { a.minProfit = fixed.Clone(p) })
}

// EmergencyStop halts all liquidations.
func (a *Agent) EmergencyStop(caller string) error {
	return a.admin(caller, func() { a.stopped = true })
}

// Resume lifts an emergency stop.
func (a *Agent) Resume(caller string) error {
	return a.admin(caller, func() { a.stopped = false })
}

// SetPublicLiquidation lets anyone liquidate through the agent.
func (a *Agent) SetPublicLiquidation(caller string, public bool) error {
	return a.admin(caller, func() { a.public = public })
}

func (a *Agent) admin(caller string, apply func()) error {
	if a.authz == nil || !a.authz.HasCapability(caller, auth.Administrator) {
		return &vault.AuthorizationError{Identity: caller, Capability: auth.Administrator}
	}
	a.mu.Lock()
	apply()
	a.mu.Unlock()
	a.logger.Info("agent settings changed", "by", caller)
	return nil
}
