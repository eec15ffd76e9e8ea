package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed token payload. Kind travels in the "type" claim next
// to the registered set.
type Claims struct {
	Kind TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// RefreshResult is the outcome of redeeming a refresh token. RefreshToken is
// populated only when the presented token was rotated out.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Rotated      bool
}

// TokenService issues, verifies, redeems, and revokes bearer tokens against
// the signing key ring and the revocation denylist.
type TokenService struct {
	issuer            string
	accessTTL         time.Duration
	refreshTTL        time.Duration
	rotationThreshold time.Duration
	ring              *SigningKeyRing
	denylist          Denylist
	denylistEnabled   bool
	logger            *slog.Logger
}

// NewTokenService constructs a TokenService.
func NewTokenService(cfg Config, ring *SigningKeyRing, denylist Denylist, logger *slog.Logger) *TokenService {
	return &TokenService{
		issuer:            cfg.JWT.Issuer,
		accessTTL:         cfg.JWT.AccessTTL(),
		refreshTTL:        cfg.JWT.RefreshTTL(),
		rotationThreshold: cfg.JWT.RotationThreshold(),
		ring:              ring,
		denylist:          denylist,
		denylistEnabled:   cfg.Denylist.Enabled,
		logger:            logger,
	}
}

// IssuePair mints an access/refresh pair for subject. The two tokens share
// nothing but the subject: independent jtis, kinds, and lifetimes.
func (ts *TokenService) IssuePair(subject string) (TokenPair, error) {
	access, err := ts.issue(subject, AccessToken, ts.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := ts.issue(subject, RefreshToken, ts.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: bearerType}, nil
}

func (ts *TokenService) issue(subject string, kind TokenKind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ts.ring.ActiveKid()
	signed, err := token.SignedString(ts.ring.ActiveKey())
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify validates raw as a token of the wanted kind. Expiry and not-before
// are enforced inside decode, so callers can never observe an unvalidated
// claim set. Refresh tokens additionally consult the denylist.
func (ts *TokenService) Verify(ctx context.Context, raw string, kind TokenKind) (*Claims, error) {
	claims, _, err := ts.verify(ctx, raw, kind)
	return claims, err
}

func (ts *TokenService) verify(ctx context.Context, raw string, kind TokenKind) (*Claims, string, error) {
	if raw == "" {
		return nil, "", TokenRequired(kind)
	}

	claims, kid, err := ts.decode(raw)
	if err != nil {
		return nil, "", err
	}
	if claims.Kind != kind {
		return nil, "", TokenRequired(kind)
	}

	// Only refresh tokens are individually revocable; access tokens ride out
	// their short lifetime.
	if kind == RefreshToken {
		revoked, err := ts.isRevoked(ctx, claims.ID)
		if err != nil {
			return nil, "", fmt.Errorf("denylist lookup: %w", err)
		}
		if revoked {
			return nil, "", ErrTokenRevoked
		}
	}

	return claims, kid, nil
}

// decode parses and validates signature, structure, issuer, expiry, and
// not-before. Every failure collapses into ErrInvalidToken so the rejection
// reason never leaks.
func (ts *TokenService) decode(raw string) (*Claims, string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithExpirationRequired(),
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, ts.ring.Keyfunc, opts...)
	if err != nil {
		return nil, "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, "", ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, "", ErrInvalidToken
	}
	kid, _ := token.Header["kid"].(string)
	return claims, kid, nil
}

// Redeem exchanges a refresh token for a new access token. When the presented
// token is inside the rotation threshold of its expiry, or was signed under a
// kid that is no longer active, it is revoked and a full fresh pair is
// returned; rotation bounds both the blind window during key rollover and the
// useful life of a leaked refresh token.
func (ts *TokenService) Redeem(ctx context.Context, raw string) (RefreshResult, error) {
	claims, kid, err := ts.verify(ctx, raw, RefreshToken)
	if err != nil {
		return RefreshResult{}, err
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	signingChanged := kid != ts.ring.ActiveKid()

	if remaining < ts.rotationThreshold || signingChanged {
		if err := ts.revokeClaims(ctx, claims); err != nil {
			return RefreshResult{}, err
		}
		pair, err := ts.IssuePair(claims.Subject)
		if err != nil {
			return RefreshResult{}, err
		}
		ts.logger.Info("refresh token rotated",
			"subject", claims.Subject, "kid_changed", signingChanged, "remaining", remaining.String())
		return RefreshResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, Rotated: true}, nil
	}

	access, err := ts.issue(claims.Subject, AccessToken, ts.accessTTL)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{AccessToken: access}, nil
}

// Revoke denylists the refresh token for the remainder of its life. Revoking
// an already-revoked token is a no-op.
func (ts *TokenService) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return TokenRequired(RefreshToken)
	}
	claims, _, err := ts.decode(raw)
	if err != nil {
		return err
	}
	if claims.Kind != RefreshToken {
		return TokenRequired(RefreshToken)
	}
	return ts.revokeClaims(ctx, claims)
}

func (ts *TokenService) revokeClaims(ctx context.Context, claims *Claims) error {
	if !ts.denylistEnabled {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := ts.denylist.SetIfAbsent(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("denylist set: %w", err)
	}
	return nil
}

func (ts *TokenService) isRevoked(ctx context.Context, jti string) (bool, error) {
	if !ts.denylistEnabled {
		return false, nil
	}
	return ts.denylist.Exists(ctx, jti)
}

// JWKS returns the published verification key set.
func (ts *TokenService) JWKS() jose.JSONWebKeySet {
	return ts.ring.JWKS()
}

// TokenFromRequest extracts a bearer token of the given kind. The named
// cookie is consulted first, the Authorization header is the fallback.
func TokenFromRequest(r *http.Request, kind TokenKind) string {
	if c, err := r.Cookie(string(kind) + "_token"); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
