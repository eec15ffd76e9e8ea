package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func beginTestFlow(t *testing.T, fs *FlowStore, flow AuthorizationContext) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	fs.Begin(rec, flow)

	for _, c := range rec.Result().Cookies() {
		if c.Name == flowCookieName {
			return c
		}
	}
	t.Fatalf("flow cookie not set")
	return nil
}

func TestFlowStoreConsumeIsSingleUse(t *testing.T) {
	fs := NewFlowStore(DefaultConfig())
	flow := AuthorizationContext{
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		Platform:     PlatformWeb,
		CreatedAt:    time.Now(),
	}
	cookie := beginTestFlow(t, fs, flow)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/google/callback", nil)
	req.AddCookie(cookie)

	got, ok := fs.Consume(httptest.NewRecorder(), req)
	if !ok {
		t.Fatalf("first consume failed")
	}
	if got.State != "state-1" || got.Nonce != "nonce-1" || got.CodeVerifier != "verifier-1" {
		t.Fatalf("unexpected flow context: %+v", got)
	}

	// Second consume with the same cookie must find nothing.
	req2 := httptest.NewRequest(http.MethodGet, "/oauth2/google/callback", nil)
	req2.AddCookie(cookie)
	if _, ok := fs.Consume(httptest.NewRecorder(), req2); ok {
		t.Fatalf("flow context consumed twice")
	}
}

func TestFlowStoreRejectsMissingCookie(t *testing.T) {
	fs := NewFlowStore(DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/oauth2/google/callback", nil)
	if _, ok := fs.Consume(httptest.NewRecorder(), req); ok {
		t.Fatalf("consume without cookie succeeded")
	}
}

func TestFlowStoreRejectsExpiredFlow(t *testing.T) {
	fs := NewFlowStore(DefaultConfig())
	cookie := beginTestFlow(t, fs, AuthorizationContext{
		State:     "state-1",
		CreatedAt: time.Now().Add(-time.Hour),
	})

	req := httptest.NewRequest(http.MethodGet, "/oauth2/google/callback", nil)
	req.AddCookie(cookie)
	if _, ok := fs.Consume(httptest.NewRecorder(), req); ok {
		t.Fatalf("expired flow consumed")
	}
}

func TestFlowStoreClearsCookieOnConsume(t *testing.T) {
	fs := NewFlowStore(DefaultConfig())
	cookie := beginTestFlow(t, fs, AuthorizationContext{State: "s", CreatedAt: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/oauth2/google/callback", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	fs.Consume(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == flowCookieName && c.MaxAge >= 0 {
			t.Fatalf("flow cookie not cleared: %+v", c)
		}
	}
}
