package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// AccountStore is the persistence boundary for accounts and their linked
// federated identities. Implementations own their transaction semantics; the
// callers here treat each method as atomic.
type AccountStore interface {
	// FindByEmail returns the account for email, or nil when none exists.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create persists a new account, assigning an id when the caller left it
	// empty, and returns the stored form.
	Create(ctx context.Context, account *Account) (*Account, error)

	// AttachIdentity links identity to the account and marks it verified.
	AttachIdentity(ctx context.Context, accountID string, identity OAuthIdentity) error
}

// NewID generates a random 128-bit hex identifier.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// MemoryAccountStore keeps accounts in process memory. It mirrors the SQLite
// store for tests and throwaway deployments.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	byEmail  map[string]*Account
	accounts map[string]*Account
}

// NewMemoryAccountStore constructs an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byEmail:  make(map[string]*Account),
		accounts: make(map[string]*Account),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *MemoryAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return cloneAccount(acct), nil
}

func (s *MemoryAccountStore) Create(_ context.Context, account *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(account.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrAccountAlreadyExists
	}

	stored := cloneAccount(account)
	if stored.ID == "" {
		stored.ID = NewID()
	}
	stored.Email = email
	if stored.OAuth != nil {
		stored.OAuth.AccountID = stored.ID
	}
	s.byEmail[email] = stored
	s.accounts[stored.ID] = stored
	return cloneAccount(stored), nil
}

func (s *MemoryAccountStore) AttachIdentity(_ context.Context, accountID string, identity OAuthIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	identity.AccountID = accountID
	acct.OAuth = &identity
	acct.IsVerified = true
	return nil
}

func cloneAccount(a *Account) *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.OAuth != nil {
		oauth := *a.OAuth
		out.OAuth = &oauth
	}
	return &out
}
