// Package microsoft implements the Microsoft identity platform adapter
// (v2.0 endpoints, common tenant).
package microsoft

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
)

const Name = "microsoft"

const (
	authEndpoint     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	tokenEndpoint    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	userinfoEndpoint = "https://graph.microsoft.com/oidc/userinfo"
)

// DefaultScopes incluye offline_access para recibir refresh tokens.
var DefaultScopes = []string{"openid", "email", "profile", "offline_access"}

// Provider implements the Microsoft flow.
type Provider struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string

	authURL     string
	tokenURL    string
	userinfoURL string
	http        *http.Client
}

// New creates a Microsoft provider from config.
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
		userinfoURL:  userinfoEndpoint,
		http:         provider.NewHTTPClient(),
	}
}

func (p *Provider) Name() string { return Name }

// AuthCodeURL builds the authorization URL.
func (p *Provider) AuthCodeURL(req provider.AuthCodeRequest) string {
	u, _ := url.Parse(p.authURL)
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURI)
	q.Set("scope", strings.Join(p.scopes, " "))
	q.Set("state", req.State)
	q.Set("code_challenge", req.Challenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String()
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*provider.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("redirect_uri", p.redirectURI)
	form.Set("code_verifier", verifier)
	return provider.PostTokenForm(ctx, p.http, Name, p.tokenURL, form)
}

// Refresh renews the token pair.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("scope", strings.Join(p.scopes, " "))
	tok, err := provider.PostTokenForm(ctx, p.http, Name, p.tokenURL, form)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

type userinfoWire struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// UserInfo fetches the OIDC userinfo profile. Microsoft no expone un claim
// email_verified; las cuentas Microsoft verifican el email al crearse, así
// que lo tratamos como verificado cuando está presente.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	var w userinfoWire
	if err := provider.GetJSON(ctx, p.http, Name, p.userinfoURL, accessToken, &w); err != nil {
		return nil, err
	}
	if w.Sub == "" {
		return nil, &provider.ResponseError{Provider: Name, Reason: "userinfo missing sub"}
	}
	return &provider.Profile{
		ProviderUserID: w.Sub,
		Email:          w.Email,
		EmailVerified:  w.Email != "",
		Name:           w.Name,
		Picture:        w.Picture,
	}, nil
}
