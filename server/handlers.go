package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config     Config
	Logger     *slog.Logger
	Tokens     *TokenService
	Auth       *AuthService
	Reconciler *IdentityReconciler
	Flows      *FlowController
	FlowStore  *FlowStore
}

// NewApp wires together the application state from configuration and the
// external collaborators.
func NewApp(cfg Config, store AccountStore, denylist Denylist, registry *ProviderRegistry, logger *slog.Logger) (*App, error) {
	ring, err := NewSigningKeyRing(cfg.JWT, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Tokens:     NewTokenService(cfg, ring, denylist, logger),
		Auth:       NewAuthService(store, logger),
		Reconciler: NewIdentityReconciler(store, logger),
		Flows:      NewFlowController(registry, logger),
		FlowStore:  NewFlowStore(cfg),
	}, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) validate() error {
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		return errors.New("valid email is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if err := creds.validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	account, err := a.Auth.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondPair(w, r, account.ID, http.StatusCreated)
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	account, err := a.Auth.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondPair(w, r, account.ID, http.StatusOK)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := TokenFromRequest(r, RefreshToken)
	if err := a.Tokens.Revoke(r.Context(), raw); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.clearTokenCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := TokenFromRequest(r, RefreshToken)
	result, err := a.Tokens.Redeem(r.Context(), raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.setTokenCookie(w, AccessToken, result.AccessToken, a.Config.JWT.AccessTTL())
	if result.Rotated {
		a.setTokenCookie(w, RefreshToken, result.RefreshToken, a.Config.JWT.RefreshTTL())
		writeJSON(w, http.StatusOK, TokenPair{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			TokenType:    bearerType,
		})
		return
	}
	writeJSON(w, http.StatusOK, AccessOnly{AccessToken: result.AccessToken, TokenType: bearerType})
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tokens.JWKS())
}

func (a *App) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		a.writeError(w, r, ErrInvalidProviderForPlatform)
		return
	}
	platform := Platform(r.URL.Query().Get("platform"))
	if platform == "" {
		platform = PlatformWeb
	}
	if !validPlatform(platform) {
		a.writeError(w, r, ErrInvalidProviderForPlatform)
		return
	}

	redirect, err := a.Flows.BeginLogin(r.Context(), provider, platform)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.FlowStore.Begin(w, redirect.Context)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

func (a *App) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		a.writeError(w, r, ErrInvalidProviderForPlatform)
		return
	}

	flow, ok := a.FlowStore.Consume(w, r)
	if !ok {
		a.writeError(w, r, ErrInvalidState)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	identity, err := a.Flows.FinalizeWeb(r.Context(), provider, state, code, flow)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	account, err := a.Reconciler.Resolve(r.Context(), identity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondPair(w, r, account.ID, http.StatusOK)
}

func (a *App) handleOAuthNativeCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		a.writeError(w, r, ErrInvalidProviderForPlatform)
		return
	}
	platform := Platform(r.URL.Query().Get("platform"))

	var data CallbackData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	identity, err := a.Flows.FinalizeNative(r.Context(), provider, platform, data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	account, err := a.Reconciler.Resolve(r.Context(), identity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.respondPair(w, r, account.ID, http.StatusOK)
}

// respondPair issues a token pair for subject and writes it both as JSON and
// as the named token cookies.
func (a *App) respondPair(w http.ResponseWriter, r *http.Request, subject string, status int) {
	pair, err := a.Tokens.IssuePair(subject)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.setTokenCookie(w, AccessToken, pair.AccessToken, a.Config.JWT.AccessTTL())
	a.setTokenCookie(w, RefreshToken, pair.RefreshToken, a.Config.JWT.RefreshTTL())
	writeJSON(w, status, pair)
}

func (a *App) setTokenCookie(w http.ResponseWriter, kind TokenKind, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     string(kind) + "_token",
		Value:    value,
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (a *App) clearTokenCookies(w http.ResponseWriter) {
	for _, kind := range []TokenKind{AccessToken, RefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     string(kind) + "_token",
			Value:    "",
			Path:     "/",
			Domain:   a.Config.Server.CookieDomain,
			HttpOnly: true,
			Secure:   !a.Config.Server.DevMode,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

func parseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(raw))
	return p, validProvider(p)
}

// writeError maps domain errors onto stable HTTP responses. Anything outside
// the taxonomy is a 500 with no internals leaked.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		a.Logger.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	status := http.StatusBadRequest
	switch authErr.Kind {
	case "invalid_credentials", "invalid_token", "token_revoked", "token_required":
		status = http.StatusUnauthorized
	case "oauth2_account_exists":
		status = http.StatusForbidden
	}
	writeJSONError(w, status, authErr.Kind, authErr.Detail)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]string{"error": kind, "detail": detail})
}
