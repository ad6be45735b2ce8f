package vault

import "sync"

// Executor serializes every call into a Vault. HTTP handlers and the keeper
// loop all go through one Executor so vault operations never interleave.
type Executor struct {
	mu sync.Mutex
	v  *Vault
}

// NewExecutor wraps v.
func NewExecutor(v *Vault) *Executor {
	return &Executor{v: v}
}

// Do runs fn with exclusive access to the vault.
func (e *Executor) Do(fn func(v *Vault) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.v)
}

// ID returns the wrapped vault's ID without taking the lock; it never
// changes.
func (e *Executor) ID() string {
	return e.v.id
}

// Account returns the wrapped vault's token account.
func (e *Executor) Account() string {
	return e.v.account
}
