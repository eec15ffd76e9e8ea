package server

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

type signingKey struct {
	kid     string
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// SigningKeyRing holds the ordered signing key pairs. The ring is built once
// at startup and never mutated: rotation means redeploying with a new active
// index while the displaced keys stay in the ring, so tokens they signed keep
// verifying until they expire.
type SigningKeyRing struct {
	keys   []signingKey
	active int
	jwks   jose.JSONWebKeySet
}

// NewSigningKeyRing parses the configured PEM key pairs and selects the
// active one. Zero usable pairs is fatal; an out-of-range active index is
// clamped into range rather than failing startup.
func NewSigningKeyRing(cfg JWTConfig, logger *slog.Logger) (*SigningKeyRing, error) {
	if len(cfg.PrivateKeys) == 0 {
		return nil, errors.New("signing key ring requires at least one key pair")
	}
	if len(cfg.PublicKeys) != len(cfg.PrivateKeys) {
		return nil, fmt.Errorf("key ring mismatch: %d private keys, %d public keys",
			len(cfg.PrivateKeys), len(cfg.PublicKeys))
	}

	keys := make([]signingKey, 0, len(cfg.PrivateKeys))
	for i := range cfg.PrivateKeys {
		private, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeys[i]))
		if err != nil {
			return nil, fmt.Errorf("parse private key %d: %w", i, err)
		}
		public, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeys[i]))
		if err != nil {
			return nil, fmt.Errorf("parse public key %d: %w", i, err)
		}
		keys = append(keys, signingKey{
			kid:     keyID(i),
			private: private,
			public:  public,
		})
	}

	active := cfg.SigningKid
	if active > len(keys)-1 {
		logger.Warn("signing kid out of range, clamping to max available index",
			"configured", active, "max", len(keys)-1)
		active = len(keys) - 1
	}
	if active < 0 {
		logger.Warn("signing kid out of range, clamping to zero", "configured", active)
		active = 0
	}

	ring := &SigningKeyRing{keys: keys, active: active}
	ring.jwks = ring.buildJWKS()
	return ring, nil
}

func keyID(index int) string {
	return fmt.Sprintf("auth-key-%d", index)
}

// ActiveKid returns the kid new tokens are signed under.
func (r *SigningKeyRing) ActiveKid() string {
	return r.keys[r.active].kid
}

// ActiveKey returns the private key for the active kid.
func (r *SigningKeyRing) ActiveKey() *rsa.PrivateKey {
	return r.keys[r.active].private
}

// VerificationKey resolves a kid against the full ring.
func (r *SigningKeyRing) VerificationKey(kid string) (*rsa.PublicKey, bool) {
	for _, k := range r.keys {
		if k.kid == kid {
			return k.public, true
		}
	}
	return nil, false
}

// Keyfunc is used during JWT validation. Unknown kids are rejected here and
// surface to callers as a plain invalid token.
func (r *SigningKeyRing) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if key, ok := r.VerificationKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

// JWKS exposes the public half of every ring entry. The ring is immutable so
// the document is computed once at construction; the snapshot is valid for
// the process lifetime.
func (r *SigningKeyRing) JWKS() jose.JSONWebKeySet {
	return r.jwks
}

func (r *SigningKeyRing) buildJWKS() jose.JSONWebKeySet {
	keys := make([]jose.JSONWebKey, 0, len(r.keys))
	for _, k := range r.keys {
		keys = append(keys, jose.JSONWebKey{
			Key:       k.public,
			KeyID:     k.kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	return jose.JSONWebKeySet{Keys: keys}
}
