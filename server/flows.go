package server

import (
	"net/http"
	"sync"
	"time"
)

const (
	flowCookieName = "oauth_flow"
	flowTTL        = 10 * time.Minute
)

// FlowStore binds pending authorization contexts to a browser via an opaque
// HttpOnly cookie. Contexts are strictly single-use: Consume removes the
// entry, so a replayed callback finds nothing.
type FlowStore struct {
	mu           sync.Mutex
	flows        map[string]AuthorizationContext
	ttl          time.Duration
	secure       bool
	cookieDomain string
}

// NewFlowStore constructs a flow store honouring cookie config.
func NewFlowStore(cfg Config) *FlowStore {
	return &FlowStore{
		flows:        make(map[string]AuthorizationContext),
		ttl:          flowTTL,
		secure:       !cfg.Server.DevMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Begin stores the context and sets the flow cookie on the response.
func (fs *FlowStore) Begin(w http.ResponseWriter, flow AuthorizationContext) {
	id := NewID()

	fs.mu.Lock()
	fs.sweepLocked()
	fs.flows[id] = flow
	fs.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    id,
		Path:     "/",
		Domain:   fs.cookieDomain,
		HttpOnly: true,
		Secure:   fs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(fs.ttl.Seconds()),
	})
}

// Consume returns the context bound to the request cookie and clears both the
// entry and the cookie. Missing, unknown, or expired flows report false.
func (fs *FlowStore) Consume(w http.ResponseWriter, r *http.Request) (AuthorizationContext, bool) {
	cookie, err := r.Cookie(flowCookieName)
	if err != nil || cookie.Value == "" {
		return AuthorizationContext{}, false
	}

	fs.mu.Lock()
	flow, ok := fs.flows[cookie.Value]
	delete(fs.flows, cookie.Value)
	fs.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    "",
		Path:     "/",
		Domain:   fs.cookieDomain,
		HttpOnly: true,
		Secure:   fs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	if !ok || time.Since(flow.CreatedAt) > fs.ttl {
		return AuthorizationContext{}, false
	}
	return flow, true
}

// sweepLocked drops expired flows. Callers hold fs.mu.
func (fs *FlowStore) sweepLocked() {
	now := time.Now()
	for id, flow := range fs.flows {
		if now.Sub(flow.CreatedAt) > fs.ttl {
			delete(fs.flows, id)
		}
	}
}
