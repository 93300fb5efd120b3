package mutator

import (
	"sync"

	"github.com/lucidperp/posmon/pkg/domain"
)

// AccountStore is the mutator's local mirror of each owner's UserAccount,
// kept optimistically in sync on every local mutation and reconciled by
// whatever process decodes UserAccount accounts off-chain (mirroring
// "G updates D optimistically on local mutations and lets the refresh
// reconcile" — the same rule applies to the account mirror).
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[domain.Address]*domain.UserAccount
}

// NewAccountStore builds an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[domain.Address]*domain.UserAccount)}
}

// Get returns a snapshot copy of owner's mirrored account.
func (s *AccountStore) Get(owner domain.Address) (*domain.UserAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[owner]
	if !ok {
		return nil, false
	}
	cp := *acct
	return &cp, true
}

// Upsert replaces owner's mirrored account wholesale.
func (s *AccountStore) Upsert(acct *domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.Owner] = &cp
}
