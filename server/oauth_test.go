package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger stands in for a provider client and records what reached it.
type fakeExchanger struct {
	identity ProviderIdentity
	err      error

	lastState    string
	lastNonce    string
	lastCode     string
	lastVerifier string
	exchanges    int
}

func (f *fakeExchanger) AuthCodeURL(state, nonce, codeChallenge string) string {
	f.lastState = state
	f.lastNonce = nonce
	return "https://provider.test/auth?state=" + state + "&nonce=" + nonce + "&code_challenge=" + codeChallenge
}

func (f *fakeExchanger) Exchange(_ context.Context, code, codeVerifier, expectedNonce string) (ProviderIdentity, error) {
	f.exchanges++
	f.lastCode = code
	f.lastVerifier = codeVerifier
	f.lastNonce = expectedNonce
	if f.err != nil {
		return ProviderIdentity{}, f.err
	}
	return f.identity, nil
}

func newTestFlowController(fake *fakeExchanger) *FlowController {
	registry := NewProviderRegistry()
	registry.Register(ProviderGoogle, PlatformWeb, fake)
	registry.Register(ProviderGoogle, PlatformAndroid, fake)
	return NewFlowController(registry, testLogger())
}

func TestBeginLoginMintsSingleUseSecrets(t *testing.T) {
	fake := &fakeExchanger{}
	fc := newTestFlowController(fake)
	ctx := context.Background()

	first, err := fc.BeginLogin(ctx, ProviderGoogle, PlatformWeb)
	require.NoError(t, err)
	second, err := fc.BeginLogin(ctx, ProviderGoogle, PlatformWeb)
	require.NoError(t, err)

	assert.NotEqual(t, first.Context.State, second.Context.State)
	assert.NotEqual(t, first.Context.Nonce, second.Context.Nonce)
	assert.NotEqual(t, first.Context.CodeVerifier, second.Context.CodeVerifier)
	assert.Equal(t, PlatformWeb, first.Context.Platform)
	assert.Contains(t, first.URL, "state="+first.Context.State)
	assert.Contains(t, first.URL, "code_challenge="+codeChallenge(first.Context.CodeVerifier))
}

func TestBeginLoginUnknownPairFails(t *testing.T) {
	fc := newTestFlowController(&fakeExchanger{})

	_, err := fc.BeginLogin(context.Background(), ProviderApple, PlatformWeb)
	assert.ErrorIs(t, err, ErrInvalidProviderForPlatform)
}

func TestFinalizeWebChecksStateBeforeNetwork(t *testing.T) {
	fake := &fakeExchanger{}
	fc := newTestFlowController(fake)

	flow := AuthorizationContext{
		State:        "expected-state",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		Platform:     PlatformWeb,
		CreatedAt:    time.Now(),
	}

	_, err := fc.FinalizeWeb(context.Background(), ProviderGoogle, "tampered-state", "code-1", flow)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, fake.exchanges, "state mismatch must fail before any provider call")
}

func TestFinalizeWebRequiresNonceAndVerifier(t *testing.T) {
	fake := &fakeExchanger{}
	fc := newTestFlowController(fake)
	ctx := context.Background()

	flow := AuthorizationContext{State: "s", CodeVerifier: "v", Platform: PlatformWeb, CreatedAt: time.Now()}
	_, err := fc.FinalizeWeb(ctx, ProviderGoogle, "s", "code", flow)
	assert.ErrorIs(t, err, ErrMissingNonce)

	flow = AuthorizationContext{State: "s", Nonce: "n", Platform: PlatformWeb, CreatedAt: time.Now()}
	_, err = fc.FinalizeWeb(ctx, ProviderGoogle, "s", "code", flow)
	assert.ErrorIs(t, err, ErrMissingCodeVerifier)

	assert.Zero(t, fake.exchanges)
}

func TestFinalizeWebExchangesWithStoredSecrets(t *testing.T) {
	fake := &fakeExchanger{identity: googleIdentity("alice@example.com")}
	fc := newTestFlowController(fake)

	flow := AuthorizationContext{
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		Platform:     PlatformWeb,
		CreatedAt:    time.Now(),
	}

	identity, err := fc.FinalizeWeb(context.Background(), ProviderGoogle, "state-1", "code-1", flow)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, ProviderGoogle, identity.Provider)
	assert.Equal(t, "code-1", fake.lastCode)
	assert.Equal(t, "verifier-1", fake.lastVerifier)
	assert.Equal(t, "nonce-1", fake.lastNonce)
}

func TestFinalizeNative(t *testing.T) {
	fake := &fakeExchanger{identity: googleIdentity("alice@example.com")}
	fc := newTestFlowController(fake)
	ctx := context.Background()

	data := CallbackData{Code: "code-1", CodeVerifier: "verifier-1", Nonce: "nonce-1", State: "ignored"}

	identity, err := fc.FinalizeNative(ctx, ProviderGoogle, PlatformAndroid, data)
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, identity.Provider)
	assert.Equal(t, "verifier-1", fake.lastVerifier)

	// Web is not a native platform.
	_, err = fc.FinalizeNative(ctx, ProviderGoogle, PlatformWeb, data)
	assert.ErrorIs(t, err, ErrInvalidProviderForPlatform)

	// Unregistered pair.
	_, err = fc.FinalizeNative(ctx, ProviderGoogle, PlatformIOS, data)
	assert.ErrorIs(t, err, ErrInvalidProviderForPlatform)

	// Required fields.
	_, err = fc.FinalizeNative(ctx, ProviderGoogle, PlatformAndroid, CallbackData{Code: "c", CodeVerifier: "v"})
	assert.ErrorIs(t, err, ErrMissingNonce)
	_, err = fc.FinalizeNative(ctx, ProviderGoogle, PlatformAndroid, CallbackData{Code: "c", Nonce: "n"})
	assert.ErrorIs(t, err, ErrMissingCodeVerifier)
}

func TestCodeVerifierShape(t *testing.T) {
	const urlSafe = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	for i := 0; i < 16; i++ {
		v := generateCodeVerifier()
		if len(v) < 43 || len(v) > 128 {
			t.Fatalf("verifier length %d outside RFC 7636 bounds", len(v))
		}
		for _, r := range v {
			if !strings.ContainsRune(urlSafe, r) {
				t.Fatalf("verifier contains non-url-safe rune %q", r)
			}
		}
	}
}

func TestProviderClientAuthCodeURLCarriesPKCE(t *testing.T) {
	client, err := NewProviderClient(context.Background(), ProviderClientConfig{
		Provider:    "facebook",
		Platform:    "web",
		ClientID:    "fb-client",
		AuthURL:     "https://facebook.test/dialog/oauth",
		TokenURL:    "https://facebook.test/oauth/access_token",
		UserInfoURL: "https://facebook.test/me",
		RedirectURI: "http://auth.test/oauth2/facebook/callback",
	}, testLogger())
	require.NoError(t, err)

	url := client.AuthCodeURL("state-1", "nonce-1", "challenge-1")
	assert.Contains(t, url, "https://facebook.test/dialog/oauth")
	assert.Contains(t, url, "state=state-1")
	assert.Contains(t, url, "nonce=nonce-1")
	assert.Contains(t, url, "code_challenge=challenge-1")
	assert.Contains(t, url, "code_challenge_method=S256")
	assert.Contains(t, url, "redirect_uri=")
}
