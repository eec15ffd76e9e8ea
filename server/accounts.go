package server

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// AuthService handles the password login path: registration and credential
// verification against the account store.
type AuthService struct {
	store  AccountStore
	logger *slog.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(store AccountStore, logger *slog.Logger) *AuthService {
	return &AuthService{store: store, logger: logger}
}

// Register creates a new password account. Only the bcrypt hash of the
// password is stored. The account starts active and unverified.
func (s *AuthService) Register(ctx context.Context, email, password string) (*Account, error) {
	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if existing != nil {
		return nil, ErrAccountAlreadyExists
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	account, err := s.store.Create(ctx, &Account{
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

// Authenticate verifies email/password credentials. A wrong password against
// an OAuth-linked account reports which provider owns the account instead of
// a bare credential failure, steering the client to the right login path.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}

	if verifyPassword(password, account.PasswordHash) {
		return account, nil
	}

	if account.OAuth != nil {
		return nil, OAuth2AccountExists(account.OAuth.Provider)
	}
	return nil, ErrInvalidCredentials
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
