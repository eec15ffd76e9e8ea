package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKeyPair generates an RSA key pair as PEM for key ring construction.
// Returns the private key too so tests can hand-craft tokens.
func testKeyPair(t *testing.T) (privPEM, pubPEM string, key *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	privPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	}))

	return privPEM, pubPEM, key
}

// testJWTConfig builds a JWTConfig with n generated key pairs.
func testJWTConfig(t *testing.T, n, signingKid int) (JWTConfig, []*rsa.PrivateKey) {
	t.Helper()
	cfg := JWTConfig{
		Issuer:                "http://auth.test",
		Algorithm:             "RS256",
		SigningKid:            signingKid,
		AccessExpireMinutes:   DefaultAccessExpireMinutes,
		RefreshExpireDays:     DefaultRefreshExpireDays,
		RotationThresholdDays: DefaultRotationThresholdDays,
	}
	keys := make([]*rsa.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, key := testKeyPair(t)
		cfg.PrivateKeys = append(cfg.PrivateKeys, priv)
		cfg.PublicKeys = append(cfg.PublicKeys, pub)
		keys = append(keys, key)
	}
	return cfg, keys
}

// craftToken signs a token directly, bypassing the service, so tests can
// produce expired, premature, or foreign-kid tokens.
func craftToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, subject string, kind TokenKind, iat, nbf, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        NewID(),
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(nbf),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign crafted token: %v", err)
	}
	return signed
}
