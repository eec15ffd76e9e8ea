package server

import "time"

// Provider identifies a federated login provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderApple    Provider = "apple"
)

// Platform identifies the client surface a login originates from. The
// provider client table is keyed by (provider, platform) because redirect
// URIs and client ids differ between web and native apps.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Native reports whether p is a mobile surface, which finalizes callbacks
// without a server-held state comparison.
func (p Platform) Native() bool {
	return p == PlatformAndroid || p == PlatformIOS
}

// TokenKind distinguishes access from refresh tokens. The kind claim is
// authoritative: a token presented where the other kind is expected is
// rejected, never coerced.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Account is a client identity. Email is globally unique; OAuth holds the
// linked federated identity when present.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	OAuth        *OAuthIdentity
}

// OAuthIdentity links an account to a federated provider subject. At most one
// per account.
type OAuthIdentity struct {
	AccountID  string
	Provider   Provider
	ProviderID string
}

// ProviderIdentity is the verified output of a federated login exchange,
// handed to the reconciler.
type ProviderIdentity struct {
	Email      string
	Provider   Provider
	ProviderID string
}

// AuthorizationContext holds the ephemeral secrets bound to one pending
// federated login. Every field is single-use: the flow store hands the
// context out exactly once and a missing field is a hard failure.
type AuthorizationContext struct {
	State        string
	Nonce        string
	CodeVerifier string
	Platform     Platform
	CreatedAt    time.Time
}

// CallbackData is the payload a native client posts back after completing the
// provider flow on-device.
type CallbackData struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	Nonce        string `json:"nonce"`
	State        string `json:"state"`
}

// TokenPair is the issuance result for login, registration, and rotation.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"type"`
}

// AccessOnly is the refresh response when the presented refresh token stays
// in service.
type AccessOnly struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"type"`
}

const bearerType = "bearer"
