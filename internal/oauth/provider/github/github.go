// Package github implements the GitHub OAuth2 provider adapter.
// GitHub has no OIDC userinfo: the profile comes from the REST API, and the
// email may need a second call because many users keep it private.
package github

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
)

const Name = "github"

const (
	authEndpoint  = "https://github.com/login/oauth/authorize"
	tokenEndpoint = "https://github.com/login/oauth/access_token"
	userEndpoint  = "https://api.github.com/user"
	emailEndpoint = "https://api.github.com/user/emails"
)

// DefaultScopes are requested when config does not override them.
var DefaultScopes = []string{"read:user", "user:email"}

// Provider implements the GitHub flow.
type Provider struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string

	authURL  string
	tokenURL string
	userURL  string
	emailURL string
	http     *http.Client
}

// New creates a GitHub provider from config.
func New(cfg provider.Config) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       scopes,
		authURL:      authEndpoint,
		tokenURL:     tokenEndpoint,
		userURL:      userEndpoint,
		emailURL:     emailEndpoint,
		http:         provider.NewHTTPClient(),
	}
}

func (p *Provider) Name() string { return Name }

// AuthCodeURL builds the GitHub authorization URL.
func (p *Provider) AuthCodeURL(req provider.AuthCodeRequest) string {
	u, _ := url.Parse(p.authURL)
	q := u.Query()
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURI)
	q.Set("scope", strings.Join(p.scopes, " "))
	q.Set("state", req.State)
	q.Set("code_challenge", req.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("allow_signup", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Exchange trades an authorization code for an access token.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*provider.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", p.redirectURI)
	form.Set("code_verifier", verifier)
	return provider.PostTokenForm(ctx, p.http, Name, p.tokenURL, form)
}

// Refresh renews the token pair. Only apps with refresh token rotation
// enabled get one; classic OAuth app tokens never reach the refresher
// because Exchange returns no refresh token for them.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	return provider.PostTokenForm(ctx, p.http, Name, p.tokenURL, form)
}

type userWire struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type emailWire struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserInfo fetches the user profile, resolving private emails via /user/emails.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	var u userWire
	if err := provider.GetJSON(ctx, p.http, Name, p.userURL, accessToken, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, &provider.ResponseError{Provider: Name, Reason: "user missing id"}
	}

	prof := &provider.Profile{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Email:          u.Email,
		Name:           u.Name,
		Picture:        u.AvatarURL,
	}
	if prof.Name == "" {
		prof.Name = u.Login
	}

	// El email público puede estar vacío u oculto: resolver contra la API de
	// emails, prefiriendo primary+verified.
	email, verified, err := p.primaryEmail(ctx, accessToken)
	if err != nil {
		if prof.Email == "" {
			return nil, err
		}
		// email público presente: seguimos, pero sin garantía de verificación
		return prof, nil
	}
	prof.Email = email
	prof.EmailVerified = verified
	return prof, nil
}

func (p *Provider) primaryEmail(ctx context.Context, accessToken string) (string, bool, error) {
	var emails []emailWire
	if err := provider.GetJSON(ctx, p.http, Name, p.emailURL, accessToken, &emails); err != nil {
		return "", false, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified, nil
	}
	return "", false, &provider.ResponseError{Provider: Name, Reason: "no email available"}
}
