// Package auth provides the capability checks the vault and the
// liquidation agent delegate to. Identities are opaque strings.
package auth

import "sync"

// Capability names a privileged action class.
type Capability string

const (
	// Administrator may pause, unpause and replace vault configuration,
	// and manage the liquidation agent.
	Administrator Capability = "administrator"

	// LiquidationOperator may trigger liquidations through the agent.
	LiquidationOperator Capability = "liquidation_operator"
)

// Authorizer answers whether an identity holds a capability.
type Authorizer interface {
	HasCapability(identity string, c Capability) bool
}

// Roles is an in-memory Authorizer. Safe for concurrent use.
type Roles struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]bool
}

// NewRoles creates an empty role table.
func NewRoles() *Roles {
	return &Roles{grants: make(map[string]map[Capability]bool)}
}

// Grant gives identity the capability.
func (r *Roles) Grant(identity string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[identity] == nil {
		r.grants[identity] = make(map[Capability]bool)
	}
	r.grants[identity][c] = true
}

// Revoke removes the capability from identity.
func (r *Roles) Revoke(identity string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[identity], c)
}

// HasCapability implements Authorizer.
func (r *Roles) HasCapability(identity string, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[identity][c]
}

// AllowAll is an Authorizer that grants everything. Intended for tests and
// local simulations only.
type AllowAll struct{}

// HasCapability always returns true.
func (AllowAll) HasCapability(string, Capability) bool { return true }
