package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// IdentityExchanger is the minimal behaviour required from an upstream
// provider client: build the authorization redirect and turn a code into a
// verified identity.
type IdentityExchanger interface {
	AuthCodeURL(state, nonce, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (ProviderIdentity, error)
}

// ProviderClient wraps one registered (provider, platform) OAuth client.
type ProviderClient struct {
	provider    Provider
	platform    Platform
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	logger      *slog.Logger
}

// NewProviderClient initializes a provider client, via OIDC discovery when an
// issuer is configured, otherwise from static endpoints.
func NewProviderClient(ctx context.Context, cfg ProviderClientConfig, logger *slog.Logger) (*ProviderClient, error) {
	client := &ProviderClient{
		provider:    Provider(cfg.Provider),
		platform:    Platform(cfg.Platform),
		userInfoURL: cfg.UserInfoURL,
		logger:      logger,
	}

	scopes := cfg.Scopes
	var endpoint oauth2.Endpoint

	if cfg.IssuerURL != "" {
		op, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("discover provider %s/%s: %w", cfg.Provider, cfg.Platform, err)
		}
		endpoint = op.Endpoint()
		client.verifier = op.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		if len(scopes) == 0 {
			scopes = []string{oidc.ScopeOpenID, "email", "profile"}
		}
	} else {
		endpoint = oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
		if len(scopes) == 0 {
			scopes = []string{"email"}
		}
	}

	// Public clients (native apps) have no secret; PKCE carries the proof.
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	client.oauthConfig = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}

	return client, nil
}

// AuthCodeURL constructs the authorization request for the provider.
func (p *ProviderClient) AuthCodeURL(state, nonce, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange completes the code exchange with the stored PKCE verifier and
// returns the identity asserted by the provider. The returned identity names
// the provider actually exchanged against, not a fixed one.
func (p *ProviderClient) Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (ProviderIdentity, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("exchange code: %w", err)
	}

	if p.verifier == nil {
		return p.fetchUserInfo(ctx, tok)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return ProviderIdentity{}, fmt.Errorf("id_token missing in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Nonce string `json:"nonce"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ProviderIdentity{}, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Nonce != expectedNonce {
		return ProviderIdentity{}, fmt.Errorf("nonce mismatch")
	}
	if claims.Email == "" {
		return ProviderIdentity{}, fmt.Errorf("email missing in id_token")
	}

	return ProviderIdentity{
		Email:      claims.Email,
		Provider:   p.provider,
		ProviderID: idToken.Subject,
	}, nil
}

// fetchUserInfo covers plain-OAuth2 providers without an id_token.
func (p *ProviderClient) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (ProviderIdentity, error) {
	if p.userInfoURL == "" {
		return ProviderIdentity{}, fmt.Errorf("provider %s/%s has no verifier and no userinfo endpoint", p.provider, p.platform)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := p.oauthConfig.Client(ctx, tok).Do(req)
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ProviderIdentity{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info struct {
		ID    string `json:"id"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ProviderIdentity{}, fmt.Errorf("parse userinfo: %w", err)
	}
	subject := info.Sub
	if subject == "" {
		subject = info.ID
	}
	if info.Email == "" || subject == "" {
		return ProviderIdentity{}, fmt.Errorf("userinfo incomplete")
	}

	return ProviderIdentity{
		Email:      info.Email,
		Provider:   p.provider,
		ProviderID: subject,
	}, nil
}

type providerPlatform struct {
	provider Provider
	platform Platform
}

// ProviderRegistry maps (provider, platform) pairs to their configured
// clients. The table is built explicitly at startup and passed into the flow
// controller, never populated as ambient global state.
type ProviderRegistry struct {
	clients map[providerPlatform]IdentityExchanger
}

// NewProviderRegistry constructs an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{clients: make(map[providerPlatform]IdentityExchanger)}
}

// Register adds a client for the pair, replacing any previous entry.
func (r *ProviderRegistry) Register(provider Provider, platform Platform, client IdentityExchanger) {
	r.clients[providerPlatform{provider, platform}] = client
}

// Lookup resolves the client for the pair.
func (r *ProviderRegistry) Lookup(provider Provider, platform Platform) (IdentityExchanger, error) {
	client, ok := r.clients[providerPlatform{provider, platform}]
	if !ok {
		return nil, ErrInvalidProviderForPlatform
	}
	return client, nil
}

// BuildProviderRegistry initializes every configured provider client.
// Discovery failures skip the pair with a warning so one unreachable provider
// does not block startup of the rest.
func BuildProviderRegistry(ctx context.Context, cfg OAuth2Config, logger *slog.Logger) (*ProviderRegistry, error) {
	registry := NewProviderRegistry()
	for _, clientCfg := range cfg.Clients {
		client, err := NewProviderClient(ctx, clientCfg, logger)
		if err != nil {
			logger.Warn("provider client init failed",
				"provider", clientCfg.Provider, "platform", clientCfg.Platform, "error", err)
			continue
		}
		registry.Register(Provider(clientCfg.Provider), Platform(clientCfg.Platform), client)
	}
	return registry, nil
}

// FlowController manages the federated login handshake: PKCE material and
// state/nonce generation on the way out, exchange and nonce verification on
// the way back.
type FlowController struct {
	registry *ProviderRegistry
	logger   *slog.Logger
}

// NewFlowController constructs a FlowController over the registry.
func NewFlowController(registry *ProviderRegistry, logger *slog.Logger) *FlowController {
	return &FlowController{registry: registry, logger: logger}
}

// LoginRedirect is the outcome of BeginLogin: where to send the browser, and
// the single-use context the caller must hold until the callback.
type LoginRedirect struct {
	URL     string
	Context AuthorizationContext
}

// BeginLogin starts a federated login for the pair, minting fresh state,
// nonce, and PKCE verifier.
func (fc *FlowController) BeginLogin(_ context.Context, provider Provider, platform Platform) (LoginRedirect, error) {
	client, err := fc.registry.Lookup(provider, platform)
	if err != nil {
		return LoginRedirect{}, err
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := generateCodeVerifier()

	return LoginRedirect{
		URL: client.AuthCodeURL(state, nonce, codeChallenge(verifier)),
		Context: AuthorizationContext{
			State:        state,
			Nonce:        nonce,
			CodeVerifier: verifier,
			Platform:     platform,
			CreatedAt:    time.Now(),
		},
	}, nil
}

// FinalizeWeb completes a browser callback against the stored context. The
// state comparison happens before anything touches the network; nonce and
// verifier presence are hard requirements.
func (fc *FlowController) FinalizeWeb(ctx context.Context, provider Provider, state, code string, flow AuthorizationContext) (ProviderIdentity, error) {
	if subtle.ConstantTimeCompare([]byte(state), []byte(flow.State)) != 1 {
		return ProviderIdentity{}, ErrInvalidState
	}
	if flow.Nonce == "" {
		return ProviderIdentity{}, ErrMissingNonce
	}
	if flow.CodeVerifier == "" {
		return ProviderIdentity{}, ErrMissingCodeVerifier
	}

	client, err := fc.registry.Lookup(provider, PlatformWeb)
	if err != nil {
		return ProviderIdentity{}, err
	}
	return client.Exchange(ctx, code, flow.CodeVerifier, flow.Nonce)
}

// FinalizeNative completes a mobile callback. The client held the flow
// secrets itself, so there is no server-side state to compare; the nonce
// check and PKCE exchange still apply.
func (fc *FlowController) FinalizeNative(ctx context.Context, provider Provider, platform Platform, data CallbackData) (ProviderIdentity, error) {
	if !platform.Native() {
		return ProviderIdentity{}, ErrInvalidProviderForPlatform
	}
	if data.Nonce == "" {
		return ProviderIdentity{}, ErrMissingNonce
	}
	if data.CodeVerifier == "" {
		return ProviderIdentity{}, ErrMissingCodeVerifier
	}

	client, err := fc.registry.Lookup(provider, platform)
	if err != nil {
		return ProviderIdentity{}, err
	}
	return client.Exchange(ctx, data.Code, data.CodeVerifier, data.Nonce)
}

// generateCodeVerifier returns a 43-128 character URL-safe PKCE verifier
// (RFC 7636); 40 random bytes encode to 54 characters.
func generateCodeVerifier() string {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// codeChallenge derives the S256 challenge for a verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
