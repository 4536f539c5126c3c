// Package provider defines the multi-provider OAuth2 adapter layer.
//
// Each supported provider lives in its own sub-package and implements the
// Provider interface; the closed set is assembled by NewRegistry from config.
// Adding a provider means adding one sub-package and one registry entry, not
// touching shared logic.
//
// Design Patterns:
// - Strategy: each provider is a strategy for the authorization-code flow
// - Adapter: normalize different token/profile responses to Token/Profile
package provider

import (
	"context"
	"time"
)

// Provider is the contract every OAuth2/OIDC provider adapter implements.
// Adapters are stateless beyond their immutable config; all methods are safe
// for concurrent use.
type Provider interface {
	Name() string

	// AuthCodeURL builds the provider authorization URL with PKCE (S256).
	AuthCodeURL(req AuthCodeRequest) string

	// Exchange trades an authorization code + PKCE verifier for tokens.
	Exchange(ctx context.Context, code, verifier string) (*Token, error)

	// Refresh obtains a fresh token set from a refresh token.
	// Providers without refresh support return ErrRefreshUnsupported.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// UserInfo fetches the normalized profile for an access token.
	UserInfo(ctx context.Context, accessToken string) (*Profile, error)
}

// AuthCodeRequest carries the per-request parts of an authorization URL.
type AuthCodeRequest struct {
	State     string
	Challenge string // PKCE code_challenge (S256)
}

// Config is the static per-provider configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string // empty = provider defaults
}

// Token is a normalized token response.
type Token struct {
	AccessToken  string
	RefreshToken string // empty if the provider did not issue one
	TokenType    string
	Scope        string
	ExpiresIn    int // seconds; 0 = does not expire
}

// Expiry converts ExpiresIn to an absolute time, or nil for non-expiring tokens.
func (t *Token) Expiry(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	e := now.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &e
}

// Profile is a normalized user profile from any provider.
type Profile struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
}
