package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
)

// IdentityReconciler resolves a verified federated identity to exactly one
// local account, creating or linking as needed. Email is the merge key; an
// ambiguous match (same email, different provider already linked) is rejected
// rather than relinked, since silently moving the link would let a second
// provider claiming the same email take over the account.
type IdentityReconciler struct {
	store  AccountStore
	logger *slog.Logger
}

// NewIdentityReconciler constructs an IdentityReconciler.
func NewIdentityReconciler(store AccountStore, logger *slog.Logger) *IdentityReconciler {
	return &IdentityReconciler{store: store, logger: logger}
}

// Resolve maps identity onto an account:
//
//   - no account for the email: create one, verified, with an unusable random
//     password hash and the identity attached
//   - account linked to a different provider: OAuth2AccountExists, no mutation
//   - account without a link: attach the identity and mark verified, leaving
//     the password hash untouched
//   - account already linked to the same provider: plain login, no mutation
func (rc *IdentityReconciler) Resolve(ctx context.Context, identity ProviderIdentity) (*Account, error) {
	account, err := rc.store.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if account != nil && account.OAuth != nil {
		if account.OAuth.Provider != identity.Provider {
			return nil, OAuth2AccountExists(account.OAuth.Provider)
		}
		return account, nil
	}

	if account == nil {
		hash, err := unusablePasswordHash()
		if err != nil {
			return nil, err
		}
		created, err := rc.store.Create(ctx, &Account{
			Email:        identity.Email,
			PasswordHash: hash,
			IsActive:     true,
			IsVerified:   true,
			OAuth: &OAuthIdentity{
				Provider:   identity.Provider,
				ProviderID: identity.ProviderID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		rc.logger.Info("federated account created", "account_id", created.ID, "provider", identity.Provider)
		return created, nil
	}

	link := OAuthIdentity{
		AccountID:  account.ID,
		Provider:   identity.Provider,
		ProviderID: identity.ProviderID,
	}
	if err := rc.store.AttachIdentity(ctx, account.ID, link); err != nil {
		return nil, fmt.Errorf("attach identity: %w", err)
	}
	account.OAuth = &link
	account.IsVerified = true

	rc.logger.Info("federated identity linked", "account_id", account.ID, "provider", identity.Provider)
	return account, nil
}

// unusablePasswordHash returns a bcrypt hash of 32 random bytes. Federated
// accounts carry it so the password login path can never match.
func unusablePasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return hashPassword(base64.RawURLEncoding.EncodeToString(buf))
}
