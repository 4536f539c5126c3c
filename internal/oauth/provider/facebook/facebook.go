// Package facebook implements the Facebook Login adapter (Graph API v19).
package facebook

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
)

const Name = "facebook"

const (
	authEndpoint     = "https://www.facebook.com/v19.0/dialog/oauth"
	tokenEndpoint    = "https://graph.facebook.com/v19.0/oauth/access_token"
	userinfoEndpoint = "https://graph.facebook.com/v19.0/me?fields=id,name,email,picture.type(large)"
)

// DefaultScopes are requested when config does not override them.
var DefaultScopes = []string{"public_profile", "email"}

// Provider implements the Facebook flow.
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

// New creates a Facebook provider from config.
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
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURI)
	q.Set("scope", strings.Join(p.scopes, ","))
	q.Set("state", req.State)
	q.Set("code_challenge", req.Challenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String()
}

// Exchange trades an authorization code for an access token.
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

// Refresh: Facebook no emite refresh tokens (usa long-lived token exchange,
// fuera del alcance del refresher). El token simplemente expira.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	return nil, provider.ErrRefreshUnsupported
}

type userinfoWire struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// UserInfo fetches the Graph profile. Facebook solo entrega emails
// confirmados, así que un email presente cuenta como verificado.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	var w userinfoWire
	if err := provider.GetJSON(ctx, p.http, Name, p.userinfoURL, accessToken, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, &provider.ResponseError{Provider: Name, Reason: "profile missing id"}
	}
	return &provider.Profile{
		ProviderUserID: w.ID,
		Email:          w.Email,
		EmailVerified:  w.Email != "",
		Name:           w.Name,
		Picture:        w.Picture.Data.URL,
	}, nil
}
