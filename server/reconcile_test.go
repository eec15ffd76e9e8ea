package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func googleIdentity(email string) ProviderIdentity {
	return ProviderIdentity{Email: email, Provider: ProviderGoogle, ProviderID: "gsub-1"}
}

func TestResolveCreatesFederatedAccount(t *testing.T) {
	store := NewMemoryAccountStore()
	rc := NewIdentityReconciler(store, testLogger())
	ctx := context.Background()

	account, err := rc.Resolve(ctx, googleIdentity("alice@example.com"))
	require.NoError(t, err)

	assert.NotEmpty(t, account.ID)
	assert.True(t, account.IsVerified)
	assert.True(t, account.IsActive)
	require.NotNil(t, account.OAuth)
	assert.Equal(t, ProviderGoogle, account.OAuth.Provider)
	assert.Equal(t, "gsub-1", account.OAuth.ProviderID)

	// Federated-only accounts must not be reachable via the password path.
	auth := NewAuthService(store, testLogger())
	_, err = auth.Authenticate(ctx, "alice@example.com", "")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "oauth2_account_exists", authErr.Kind)
}

func TestResolveLinksPasswordAccount(t *testing.T) {
	store := NewMemoryAccountStore()
	rc := NewIdentityReconciler(store, testLogger())
	auth := NewAuthService(store, testLogger())
	ctx := context.Background()

	registered, err := auth.Register(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	require.False(t, registered.IsVerified)

	account, err := rc.Resolve(ctx, googleIdentity("alice@example.com"))
	require.NoError(t, err)

	assert.Equal(t, registered.ID, account.ID)
	assert.True(t, account.IsVerified)
	require.NotNil(t, account.OAuth)
	assert.Equal(t, ProviderGoogle, account.OAuth.Provider)

	// Linking leaves the password hash untouched.
	stored, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, registered.PasswordHash, stored.PasswordHash)
	assert.True(t, verifyPassword("secret123", stored.PasswordHash))
}

func TestResolveSameProviderIsPlainLogin(t *testing.T) {
	store := NewMemoryAccountStore()
	rc := NewIdentityReconciler(store, testLogger())
	ctx := context.Background()

	first, err := rc.Resolve(ctx, googleIdentity("alice@example.com"))
	require.NoError(t, err)

	second, err := rc.Resolve(ctx, googleIdentity("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveRejectsDifferentProvider(t *testing.T) {
	store := NewMemoryAccountStore()
	rc := NewIdentityReconciler(store, testLogger())
	ctx := context.Background()

	_, err := rc.Resolve(ctx, googleIdentity("alice@example.com"))
	require.NoError(t, err)

	_, err = rc.Resolve(ctx, ProviderIdentity{
		Email:      "alice@example.com",
		Provider:   ProviderFacebook,
		ProviderID: "fbsub-1",
	})
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "oauth2_account_exists", authErr.Kind)
	assert.Equal(t, ProviderGoogle, authErr.Provider, "error names the provider that owns the link")

	// No mutation on the conflict path.
	stored, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.OAuth)
	assert.Equal(t, ProviderGoogle, stored.OAuth.Provider)
	assert.Equal(t, "gsub-1", stored.OAuth.ProviderID)
}
