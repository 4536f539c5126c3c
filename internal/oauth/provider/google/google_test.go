package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
)

func newTestProvider(tokenURL, userinfoURL string) *Provider {
	p := New(provider.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://app.example.com/auth/oauth/google/callback",
	})
	if tokenURL != "" {
		p.tokenURL = tokenURL
	}
	if userinfoURL != "" {
		p.userinfoURL = userinfoURL
	}
	return p
}

func TestAuthCodeURL(t *testing.T) {
	t.Parallel()
	p := newTestProvider("", "")
	raw := p.AuthCodeURL(provider.AuthCodeRequest{State: "st123", Challenge: "ch456"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "st123", q.Get("state"))
	assert.Equal(t, "ch456", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
}

func TestExchange_SendsVerifier(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))
		w.Write([]byte(`{"access_token":"ya29.x","refresh_token":"1//r","token_type":"Bearer","expires_in":3599}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL, "")
	tok, err := p.Exchange(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "ya29.x", tok.AccessToken)
	assert.Equal(t, "1//r", tok.RefreshToken)
}

func TestRefresh_KeepsRefreshToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		// Google no devuelve refresh_token en el refresh
		w.Write([]byte(`{"access_token":"ya29.new","token_type":"Bearer","expires_in":3599}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL, "")
	tok, err := p.Refresh(context.Background(), "1//old")
	require.NoError(t, err)
	assert.Equal(t, "ya29.new", tok.AccessToken)
	assert.Equal(t, "1//old", tok.RefreshToken)
}

func TestUserInfo_MapsProfile(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		w.Write([]byte(`{"sub":"42","email":"new@example.com","email_verified":true,"name":"New User","picture":"https://p"}`))
	}))
	defer srv.Close()

	p := newTestProvider("", srv.URL)
	prof, err := p.UserInfo(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, "42", prof.ProviderUserID)
	assert.Equal(t, "new@example.com", prof.Email)
	assert.True(t, prof.EmailVerified)
	assert.Equal(t, "New User", prof.Name)
}

func TestUserInfo_MissingSubFailsClosed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email":"x@example.com"}`))
	}))
	defer srv.Close()

	p := newTestProvider("", srv.URL)
	_, err := p.UserInfo(context.Background(), "at")
	var respErr *provider.ResponseError
	require.ErrorAs(t, err, &respErr)
}
