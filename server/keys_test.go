package server

import (
	"testing"
)

func TestKeyRingClampsActiveIndex(t *testing.T) {
	cfg, _ := testJWTConfig(t, 2, 9)
	ring, err := NewSigningKeyRing(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSigningKeyRing: %v", err)
	}
	if got := ring.ActiveKid(); got != "auth-key-1" {
		t.Fatalf("expected clamp to max index, got %q", got)
	}

	cfg.SigningKid = -3
	ring, err = NewSigningKeyRing(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSigningKeyRing: %v", err)
	}
	if got := ring.ActiveKid(); got != "auth-key-0" {
		t.Fatalf("expected clamp to zero, got %q", got)
	}
}

func TestKeyRingRequiresKeys(t *testing.T) {
	if _, err := NewSigningKeyRing(JWTConfig{}, testLogger()); err == nil {
		t.Fatalf("expected error for empty key ring")
	}
}

func TestKeyRingRejectsMismatchedLists(t *testing.T) {
	cfg, _ := testJWTConfig(t, 2, 0)
	cfg.PublicKeys = cfg.PublicKeys[:1]
	if _, err := NewSigningKeyRing(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for mismatched key lists")
	}
}

func TestKeyRingRejectsMalformedPEM(t *testing.T) {
	cfg, _ := testJWTConfig(t, 1, 0)
	cfg.PrivateKeys[0] = "not pem"
	if _, err := NewSigningKeyRing(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for malformed private key")
	}
}

func TestVerificationKeyResolvesEveryKid(t *testing.T) {
	cfg, _ := testJWTConfig(t, 3, 2)
	ring, err := NewSigningKeyRing(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSigningKeyRing: %v", err)
	}

	for _, kid := range []string{"auth-key-0", "auth-key-1", "auth-key-2"} {
		if _, ok := ring.VerificationKey(kid); !ok {
			t.Fatalf("kid %q not resolvable", kid)
		}
	}
	if _, ok := ring.VerificationKey("auth-key-3"); ok {
		t.Fatalf("unknown kid resolved")
	}
}
