package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/socialauth/internal/auth/flow"
	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/oauth/state"
	"github.com/dropDatabas3/socialauth/internal/rate"
	"github.com/dropDatabas3/socialauth/internal/security/password"
	"github.com/dropDatabas3/socialauth/internal/security/tokenbox"
	"github.com/dropDatabas3/socialauth/internal/session"
	"github.com/dropDatabas3/socialauth/internal/store/memory"
)

type stubProvider struct {
	name        string
	profile     provider.Profile
	exchangeErr error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) AuthCodeURL(req provider.AuthCodeRequest) string {
	return fmt.Sprintf("https://provider.test/authorize?state=%s&code_challenge=%s",
		url.QueryEscape(req.State), url.QueryEscape(req.Challenge))
}
func (s *stubProvider) Exchange(ctx context.Context, code, verifier string) (*provider.Token, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &provider.Token{AccessToken: "access-plain", RefreshToken: "refresh-plain", TokenType: "Bearer", ExpiresIn: 3600}, nil
}
func (s *stubProvider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	return nil, provider.ErrRefreshUnsupported
}
func (s *stubProvider) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	p := s.profile
	return &p, nil
}

type harness struct {
	srv   *httptest.Server
	store repository.Store
	prov  *stubProvider
}

func newHarness(t *testing.T, loginLimiter rate.Limiter) *harness {
	t.Helper()
	prov := &stubProvider{
		name: "google",
		profile: provider.Profile{
			ProviderUserID: "g-123",
			Email:          "ada@example.com",
			EmailVerified:  true,
			Name:           "Ada Lovelace",
		},
	}
	reg, err := provider.NewRegistry(prov)
	require.NoError(t, err)

	box, err := tokenbox.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 32)))
	require.NoError(t, err)

	sessions, err := session.NewManager(session.Config{
		CookieName: "sa_session",
		SigningKey: "handler-test-signing-key-0123456",
		TTL:        time.Hour,
	})
	require.NoError(t, err)

	st := memory.New()
	link := linker.New(st)
	flowSvc := flow.New(flow.Deps{
		Providers: reg,
		States:    state.NewMemory(10 * time.Minute),
		Store:     st,
		Linker:    link,
		Box:       box,
	}, flow.Options{})

	router := NewRouter(Deps{
		Flow:         flowSvc,
		Linker:       link,
		Sessions:     sessions,
		Providers:    reg,
		Store:        st,
		LoginLimiter: loginLimiter,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: st, prov: prov}
}

// noRedirect evita que el client siga los 302.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// login arranca el flow y devuelve el state emitido.
func (h *harness) login(t *testing.T, query string) string {
	t.Helper()
	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/login" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "provider.test", loc.Host)
	return loc.Query().Get("state")
}

// callback completa el flow y devuelve la respuesta cruda.
func (h *harness) callback(t *testing.T, stateTok string) *http.Response {
	t.Helper()
	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/callback?state=" + url.QueryEscape(stateTok) + "&code=fake-code")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, ck := range resp.Cookies() {
		if ck.Name == "sa_session" {
			return ck
		}
	}
	return nil
}

func TestLoginCallback_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	stateTok := h.login(t, "?redirect=%2Fdashboard")
	require.NotEmpty(t, stateTok)

	resp := h.callback(t, stateTok)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	ck := sessionCookie(resp)
	require.NotNil(t, ck, "successful callback must set the session cookie")
	assert.True(t, ck.HttpOnly)

	// La sesión sirve para /auth/me.
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/auth/me", nil)
	req.AddCookie(ck)
	me, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer me.Body.Close()
	require.Equal(t, http.StatusOK, me.StatusCode)

	var body struct {
		Email       string `json:"email"`
		HasPassword bool   `json:"has_password"`
	}
	require.NoError(t, json.NewDecoder(me.Body).Decode(&body))
	assert.Equal(t, "ada@example.com", body.Email)
	assert.False(t, body.HasPassword)
}

// assertFailureRedirect verifica el contrato de fallas del callback: 302 al
// login con un indicador genérico, sin cookie de sesión.
func assertFailureRedirect(t *testing.T, resp *http.Response, wantCode string) {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Nil(t, sessionCookie(resp))

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, wantCode, loc.Query().Get("error"))
}

func TestCallback_InvalidState(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.callback(t, "forged-state")
	assertFailureRedirect(t, resp, "authentication_failed")
}

func TestCallback_Replay(t *testing.T) {
	h := newHarness(t, nil)
	stateTok := h.login(t, "")

	first := h.callback(t, stateTok)
	require.Equal(t, http.StatusFound, first.StatusCode)
	require.NotNil(t, sessionCookie(first))

	assertFailureRedirect(t, h.callback(t, stateTok), "authentication_failed")
}

func TestCallback_ProviderDenied(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/callback?error=access_denied")
	require.NoError(t, err)
	defer resp.Body.Close()
	assertFailureRedirect(t, resp, "authorization_denied")
}

func TestCallback_ProviderErrorRedirects(t *testing.T) {
	h := newHarness(t, nil)
	// invalid_grant es un 4xx del provider, no una falla interna: el usuario
	// vuelve al login con indicador de provider, nunca un 500.
	h.prov.exchangeErr = &provider.HTTPError{
		Provider: "google", Status: 400, Code: "invalid_grant",
	}
	stateTok := h.login(t, "")
	assertFailureRedirect(t, h.callback(t, stateTok), "provider_error")
}

func TestLogin_UnknownProvider(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/myspace/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogin_LinkRequiresSession(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/login?link=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProvidersList(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.srv.URL + "/auth/oauth/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"google"}, body.Providers)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newHarness(t, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/auth/connections"},
		{http.MethodDelete, "/auth/connections/some-id"},
		{http.MethodPost, "/auth/logout"},
	} {
		req, _ := http.NewRequest(route.method, h.srv.URL+route.path, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestConnectionsAndDisconnect(t *testing.T) {
	h := newHarness(t, nil)

	stateTok := h.login(t, "")
	resp := h.callback(t, stateTok)
	ck := sessionCookie(resp)
	require.NotNil(t, ck)

	do := func(method, path string) *http.Response {
		req, _ := http.NewRequest(method, h.srv.URL+path, nil)
		req.AddCookie(ck)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { r.Body.Close() })
		return r
	}

	list := do(http.MethodGet, "/auth/connections")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var body struct {
		Connections []struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
		} `json:"connections"`
		CanDisconnect bool `json:"can_disconnect"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&body))
	require.Len(t, body.Connections, 1)
	assert.Equal(t, "google", body.Connections[0].Provider)
	assert.False(t, body.CanDisconnect, "single auth method cannot be disconnected")

	// Única identidad y sin password: el guard corta.
	del := do(http.MethodDelete, "/auth/connections/"+body.Connections[0].ID)
	assert.Equal(t, http.StatusConflict, del.StatusCode)

	// Cuenta ajena o inexistente: 404.
	del = do(http.MethodDelete, "/auth/connections/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}

func TestConfirmLinkEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	phc, err := password.Hash(password.Default, "hunter2!")
	require.NoError(t, err)
	require.NoError(t, h.store.Users().Create(ctx, &repository.User{
		ID:           uuid.NewString(),
		Email:        "ada@example.com",
		PasswordHash: phc,
	}))

	stateTok := h.login(t, "")
	resp := h.callback(t, stateTok)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Nil(t, sessionCookie(resp), "no session before confirmation")

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/oauth/confirm-link", loc.Path)
	confirmToken := loc.Query().Get("token")
	require.NotEmpty(t, confirmToken)

	payload := fmt.Sprintf(`{"token":%q,"password":"hunter2!"}`, confirmToken)
	post, err := http.Post(h.srv.URL+"/auth/oauth/confirm-link", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)
	require.NotNil(t, sessionCookie(post))

	var out struct {
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.NewDecoder(post.Body).Decode(&out))
	assert.Equal(t, "linked", out.Outcome)
}

func TestConfirmLink_BadRequest(t *testing.T) {
	h := newHarness(t, nil)
	post, err := http.Post(h.srv.URL+"/auth/oauth/confirm-link", "application/json", strings.NewReader(`{"token":""}`))
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusBadRequest, post.StatusCode)

	post, err = http.Post(h.srv.URL+"/auth/oauth/confirm-link", "application/json",
		strings.NewReader(`{"token":"never-issued","password":"x"}`))
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusGone, post.StatusCode)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	stateTok := h.login(t, "")
	ck := sessionCookie(h.callback(t, stateTok))
	require.NotNil(t, ck)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/logout", nil)
	req.AddCookie(ck)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	cleared := sessionCookie(resp)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, rate.NewMemoryLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/login")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
	}

	resp, err := noRedirect().Get(h.srv.URL + "/auth/oauth/google/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Los 429 tienen que ser visibles en /metrics: el limiter corta por
	// dentro de la instrumentación, no por fuera.
	mresp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body),
		`rate_limit_rejections_total{path="/auth/oauth/{provider}/login"}`)
	assert.Contains(t, string(body), `status="429"`)
}

func TestRequestIDPropagation(t *testing.T) {
	h := newHarness(t, nil)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-abc", resp.Header.Get("X-Request-ID"))

	resp2, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}
