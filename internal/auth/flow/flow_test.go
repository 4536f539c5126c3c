package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/oauth/state"
	"github.com/dropDatabas3/socialauth/internal/security/password"
	"github.com/dropDatabas3/socialauth/internal/security/tokenbox"
	"github.com/dropDatabas3/socialauth/internal/store/memory"
)

// stubProvider simula un provider sin red.
type stubProvider struct {
	name          string
	profile       provider.Profile
	token         provider.Token
	exchangeErrs  []error // errores a devolver antes de tener éxito
	exchangeCalls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) AuthCodeURL(req provider.AuthCodeRequest) string {
	return fmt.Sprintf("https://provider.test/authorize?state=%s&code_challenge=%s",
		url.QueryEscape(req.State), url.QueryEscape(req.Challenge))
}

func (s *stubProvider) Exchange(ctx context.Context, code, verifier string) (*provider.Token, error) {
	s.exchangeCalls++
	if len(s.exchangeErrs) > 0 {
		err := s.exchangeErrs[0]
		s.exchangeErrs = s.exchangeErrs[1:]
		return nil, err
	}
	tok := s.token
	return &tok, nil
}

func (s *stubProvider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	tok := s.token
	return &tok, nil
}

func (s *stubProvider) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	p := s.profile
	return &p, nil
}

type fixture struct {
	svc   *Service
	store repository.Store
	box   *tokenbox.Box
	prov  *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prov := &stubProvider{
		name: "google",
		profile: provider.Profile{
			ProviderUserID: "g-123",
			Email:          "ada@example.com",
			EmailVerified:  true,
			Name:           "Ada Lovelace",
		},
		token: provider.Token{
			AccessToken:  "access-plain",
			RefreshToken: "refresh-plain",
			TokenType:    "Bearer",
			Scope:        "openid email",
			ExpiresIn:    3600,
		},
	}
	reg, err := provider.NewRegistry(prov)
	require.NoError(t, err)

	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	box, err := tokenbox.New(key)
	require.NoError(t, err)

	st := memory.New()
	svc := New(Deps{
		Providers: reg,
		States:    state.NewMemory(10 * time.Minute),
		Store:     st,
		Linker:    linker.New(st),
		Box:       box,
	}, Options{})
	return &fixture{svc: svc, store: st, box: box, prov: prov}
}

// beginAndCapture arranca el flow y extrae el state de la URL generada.
func beginAndCapture(t *testing.T, f *fixture, redirect, linkingUserID string) string {
	t.Helper()
	authURL, err := f.svc.Begin(context.Background(), "google", redirect, linkingUserID)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	stateTok := u.Query().Get("state")
	require.NotEmpty(t, stateTok)
	require.NotEmpty(t, u.Query().Get("code_challenge"))
	return stateTok
}

func TestBeginComplete_FirstLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stateTok := beginAndCapture(t, f, "/dashboard", "")

	comp, err := f.svc.Complete(ctx, "google", stateTok, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeCreated, comp.Outcome)
	assert.Equal(t, "/dashboard", comp.RedirectTarget)
	require.NotEmpty(t, comp.UserID)

	// El token quedó cifrado pero recuperable.
	accts, err := f.store.Accounts().ListByUser(ctx, comp.UserID)
	require.NoError(t, err)
	require.Len(t, accts, 1)

	tok, err := f.store.Tokens().GetByAccount(ctx, accts[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, "access-plain", tok.EncryptedAccessToken)

	plain, err := f.box.Decrypt(tok.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-plain", plain)

	refresh, err := f.box.Decrypt(tok.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-plain", refresh)
	require.NotNil(t, tok.ExpiresAt)
}

func TestComplete_StateReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stateTok := beginAndCapture(t, f, "", "")

	_, err := f.svc.Complete(ctx, "google", stateTok, "auth-code")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "google", stateTok, "auth-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComplete_UnknownState(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(context.Background(), "google", "never-issued", "auth-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComplete_ProviderMismatch(t *testing.T) {
	f := newFixture(t)
	stateTok := beginAndCapture(t, f, "", "")

	// El state era de google; presentarlo en otro callback lo invalida
	// y además lo consume.
	_, err := f.svc.Complete(context.Background(), "github", stateTok, "auth-code")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Complete(context.Background(), "google", stateTok, "auth-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComplete_MissingParams(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(context.Background(), "google", "", "code")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.Complete(context.Background(), "google", "state", "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComplete_RetriesTransientExchangeOnce(t *testing.T) {
	f := newFixture(t)
	f.prov.exchangeErrs = []error{fmt.Errorf("dial: %w", provider.ErrTransport)}

	stateTok := beginAndCapture(t, f, "", "")
	comp, err := f.svc.Complete(context.Background(), "google", stateTok, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeCreated, comp.Outcome)
	assert.Equal(t, 2, f.prov.exchangeCalls)
}

func TestComplete_NoRetryOnDeniedGrant(t *testing.T) {
	f := newFixture(t)
	denied := &provider.HTTPError{Provider: "google", Status: 400, Code: "invalid_grant"}
	f.prov.exchangeErrs = []error{denied}

	stateTok := beginAndCapture(t, f, "", "")
	_, err := f.svc.Complete(context.Background(), "google", stateTok, "auth-code")
	var httpErr *provider.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 1, f.prov.exchangeCalls)
}

func TestBegin_RejectsOpenRedirect(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"https://evil.test/", "//evil.test", "/\\evil.test", "javascript:alert(1)"} {
		_, err := f.svc.Begin(context.Background(), "google", target, "")
		assert.ErrorIs(t, err, ErrInvalidRedirect, "target %q", target)
	}
}

func TestBegin_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Begin(context.Background(), "myspace", "", "")
	var unknown *provider.UnknownProviderError
	assert.ErrorAs(t, err, &unknown)
}

func TestConfirmLinkFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Usuario local preexistente con el mismo email verificado.
	phc, err := password.Hash(password.Default, "hunter2!")
	require.NoError(t, err)
	existing := &repository.User{
		ID:           uuid.NewString(),
		Email:        "ada@example.com",
		PasswordHash: phc,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, f.store.Users().Create(ctx, existing))

	stateTok := beginAndCapture(t, f, "/settings", "")
	comp, err := f.svc.Complete(ctx, "google", stateTok, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeNeedsConfirmation, comp.Outcome)
	assert.Empty(t, comp.UserID, "no session before ownership is proven")
	require.NotEmpty(t, comp.ConfirmToken)

	// Nada vinculado todavía.
	accts, err := f.store.Accounts().ListByUser(ctx, existing.ID)
	require.NoError(t, err)
	assert.Empty(t, accts)

	done, err := f.svc.ConfirmLink(ctx, comp.ConfirmToken, "hunter2!")
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeLinked, done.Outcome)
	assert.Equal(t, existing.ID, done.UserID)
	assert.Equal(t, "/settings", done.RedirectTarget)

	accts, err = f.store.Accounts().ListByUser(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, accts, 1)

	// Los tokens parqueados se materializaron cifrados.
	tok, err := f.store.Tokens().GetByAccount(ctx, accts[0].ID)
	require.NoError(t, err)
	plain, err := f.box.Decrypt(tok.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-plain", plain)
}

func TestConfirmLink_WrongPasswordConsumesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	phc, err := password.Hash(password.Default, "hunter2!")
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Create(ctx, &repository.User{
		ID:           uuid.NewString(),
		Email:        "ada@example.com",
		PasswordHash: phc,
	}))

	stateTok := beginAndCapture(t, f, "", "")
	comp, err := f.svc.Complete(ctx, "google", stateTok, "auth-code")
	require.NoError(t, err)

	_, err = f.svc.ConfirmLink(ctx, comp.ConfirmToken, "wrong")
	assert.ErrorIs(t, err, linker.ErrConfirmationFailed)

	// El token es single-use: un segundo intento vuelve a autorizar desde cero.
	_, err = f.svc.ConfirmLink(ctx, comp.ConfirmToken, "hunter2!")
	assert.ErrorIs(t, err, ErrConfirmExpired)
}

func TestConfirmLink_UnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmLink(context.Background(), "never-issued", "pw")
	assert.ErrorIs(t, err, ErrConfirmExpired)
}

func TestComplete_LinkingUserFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := &repository.User{ID: uuid.NewString(), Email: "owner@example.com"}
	require.NoError(t, f.store.Users().Create(ctx, u))

	stateTok := beginAndCapture(t, f, "/settings/connections", u.ID)
	comp, err := f.svc.Complete(ctx, "google", stateTok, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeLinked, comp.Outcome)
	assert.Equal(t, u.ID, comp.UserID)
}

func TestComplete_WrapsUnderlyingErrors(t *testing.T) {
	f := newFixture(t)
	f.prov.exchangeErrs = []error{errors.New("boom"), errors.New("boom")}

	stateTok := beginAndCapture(t, f, "", "")
	_, err := f.svc.Complete(context.Background(), "google", stateTok, "auth-code")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidState)
}
