package server

import "fmt"

// Error is the domain error taxonomy. Kind is the stable machine-readable
// discriminator; Detail is safe for clients; Provider is set when the error
// steers the client toward a linked federated provider.
type Error struct {
	Kind     string
	Detail   string
	Provider Provider
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider %s)", e.Kind, e.Detail, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches by Kind so parameterized instances compare equal to their
// sentinel under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredentials = &Error{
		Kind:   "invalid_credentials",
		Detail: "email or password is incorrect",
	}
	ErrAccountAlreadyExists = &Error{
		Kind:   "account_already_exists",
		Detail: "an account with this email already exists",
	}
	ErrInvalidProviderForPlatform = &Error{
		Kind:   "invalid_provider",
		Detail: "provider is not available for this platform",
	}
	ErrInvalidState = &Error{
		Kind:   "invalid_state",
		Detail: "authorization state is missing or does not match",
	}
	ErrMissingNonce = &Error{
		Kind:   "missing_nonce",
		Detail: "authorization flow has no nonce",
	}
	ErrMissingCodeVerifier = &Error{
		Kind:   "missing_code_verifier",
		Detail: "authorization flow has no code verifier",
	}
	ErrInvalidToken = &Error{
		Kind:   "invalid_token",
		Detail: "token is invalid or expired",
	}
	ErrTokenRevoked = &Error{
		Kind:   "token_revoked",
		Detail: "token has been revoked",
	}
)

// OAuth2AccountExists reports that the email is already claimed through the
// named provider, so the caller should log in there instead.
func OAuth2AccountExists(provider Provider) *Error {
	return &Error{
		Kind:     "oauth2_account_exists",
		Detail:   fmt.Sprintf("account is linked to %s, log in with that provider", provider),
		Provider: provider,
	}
}

// TokenRequired reports that no usable token of the wanted kind was presented.
func TokenRequired(kind TokenKind) *Error {
	return &Error{
		Kind:   "token_required",
		Detail: fmt.Sprintf("a valid %s token is required", kind),
	}
}
