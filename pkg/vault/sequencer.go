package vault

import "sync"

// Sequencer gives every caller of a shared Vault one global order.
type Sequencer struct {
	mu    sync.Mutex
	vault *Vault
}

func NewSequencer(v *Vault) *Sequencer {
	return &Sequencer{vault: v}
}

// Do runs fn with exclusive access to the vault.
func (s *Sequencer) Do(fn func(v *Vault) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.vault)
}
