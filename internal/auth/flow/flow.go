// Package flow orquesta el authorization-code flow completo: login start,
// callback y confirmación de linking. Los handlers HTTP son cáscaras finas
// sobre este servicio.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/oauth/pkce"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/oauth/state"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
	"github.com/dropDatabas3/socialauth/internal/security/tokenbox"
)

var (
	// ErrInvalidState cubre state desconocido, vencido o replay. El handler lo
	// traduce a una falla genérica: no distinguimos causas hacia afuera.
	ErrInvalidState = errors.New("flow: invalid or expired state")

	// ErrInvalidRedirect: el redirect pedido no es un path relativo local.
	ErrInvalidRedirect = errors.New("flow: redirect target not allowed")

	// ErrConfirmExpired: el token de confirmación no existe o venció.
	ErrConfirmExpired = errors.New("flow: confirmation expired")
)

// Deps agrupa las dependencias del servicio.
type Deps struct {
	Providers *provider.Registry
	States    state.Store
	Store     repository.Store
	Linker    *linker.Service
	Box       *tokenbox.Box
}

// Options ajusta TTLs y defaults.
type Options struct {
	StateTTL        time.Duration
	ConfirmTTL      time.Duration
	DefaultRedirect string
	ConfirmPath     string // adonde mandamos al usuario a confirmar ownership
}

type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Service {
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.ConfirmTTL <= 0 {
		opts.ConfirmTTL = 10 * time.Minute
	}
	if opts.DefaultRedirect == "" {
		opts.DefaultRedirect = "/"
	}
	if opts.ConfirmPath == "" {
		opts.ConfirmPath = "/auth/oauth/confirm-link"
	}
	return &Service{deps: deps, opts: opts, now: time.Now}
}

// Begin arma la URL de autorización y registra el state pendiente.
// linkingUserID no vacío marca el flow "conectar cuenta".
func (s *Service) Begin(ctx context.Context, providerName, redirectTarget, linkingUserID string) (string, error) {
	p, err := s.deps.Providers.Get(providerName)
	if err != nil {
		return "", err
	}
	target, err := s.sanitizeRedirect(redirectTarget)
	if err != nil {
		return "", err
	}

	stateTok, err := pkce.NewState()
	if err != nil {
		return "", err
	}
	verifier, err := pkce.NewVerifier()
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	pending := &state.PendingAuthorization{
		State:          stateTok,
		Provider:       p.Name(),
		CodeVerifier:   verifier,
		RedirectTarget: target,
		LinkingUserID:  linkingUserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.StateTTL),
	}
	if err := s.deps.States.Put(ctx, pending); err != nil {
		return "", fmt.Errorf("flow: register state: %w", err)
	}

	return p.AuthCodeURL(provider.AuthCodeRequest{
		State:     stateTok,
		Challenge: pkce.Challenge(verifier),
	}), nil
}

// Completion es el desenlace de Complete / ConfirmLink.
type Completion struct {
	Outcome        linker.Outcome
	UserID         string // vacío en NeedsConfirmation
	RedirectTarget string
	// ConfirmToken está poblado solo en NeedsConfirmation; el cliente lo
	// presenta en /confirm-link junto con la password.
	ConfirmToken string
}

// Complete procesa el callback del provider: valida y consume el state,
// canjea el code, resuelve el linking y persiste los tokens cifrados.
func (s *Service) Complete(ctx context.Context, providerName, stateTok, code string) (*Completion, error) {
	if stateTok == "" || code == "" {
		return nil, ErrInvalidState
	}

	pending, err := s.deps.States.Take(ctx, stateTok)
	if err != nil {
		// No distinguir "nunca existió" de "ya usado": misma respuesta.
		return nil, ErrInvalidState
	}
	if pending.Provider != providerName || pending.Expired(s.now()) {
		return nil, ErrInvalidState
	}

	p, err := s.deps.Providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	tok, err := s.exchange(ctx, p, code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}
	profile, err := p.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	// Cifrar antes de que los tokens toquen cualquier almacenamiento,
	// incluido el parqueo de confirmación.
	encAccess, err := s.deps.Box.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh := ""
	if tok.RefreshToken != "" {
		if encRefresh, err = s.deps.Box.Encrypt(tok.RefreshToken); err != nil {
			return nil, err
		}
	}

	res, err := s.deps.Linker.Resolve(ctx, p.Name(), profile, pending.LinkingUserID)
	if err != nil {
		return nil, err
	}

	if res.Outcome == linker.OutcomeNeedsConfirmation {
		return s.parkForConfirmation(ctx, p.Name(), profile, res.ExistingUser, pending.RedirectTarget, tok, encAccess, encRefresh)
	}

	if err := s.storeToken(ctx, res.Account.ID, tok, encAccess, encRefresh); err != nil {
		return nil, err
	}

	logger.L().Info("oauth callback completed",
		logger.Provider(p.Name()),
		logger.UserID(res.User.ID),
		logger.Outcome(string(res.Outcome)))

	return &Completion{
		Outcome:        res.Outcome,
		UserID:         res.User.ID,
		RedirectTarget: pending.RedirectTarget,
	}, nil
}

// ConfirmLink consume el token de confirmación, verifica la password y
// materializa la vinculación parqueada.
func (s *Service) ConfirmLink(ctx context.Context, confirmToken, plainPassword string) (*Completion, error) {
	link, err := s.deps.States.TakeLink(ctx, confirmToken)
	if err != nil {
		return nil, ErrConfirmExpired
	}
	if s.now().After(link.ExpiresAt) {
		return nil, ErrConfirmExpired
	}

	profile := &provider.Profile{
		ProviderUserID: link.ProviderUserID,
		Email:          link.Email,
		EmailVerified:  true, // solo parqueamos perfiles con email verificado
	}
	res, err := s.deps.Linker.ConfirmLink(ctx, link.UserID, plainPassword, link.Provider, profile)
	if err != nil {
		return nil, err
	}

	t := &repository.OAuthToken{
		ID:                    uuid.NewString(),
		OAuthAccountID:        res.Account.ID,
		EncryptedAccessToken:  link.EncAccessToken,
		EncryptedRefreshToken: link.EncRefreshTok,
		TokenType:             link.TokenType,
		Scope:                 link.Scope,
		ExpiresAt:             link.TokenExpiresAt,
		UpdatedAt:             s.now().UTC(),
	}
	if err := s.deps.Store.Tokens().Upsert(ctx, t); err != nil {
		return nil, err
	}

	logger.L().Info("pending link confirmed",
		logger.Provider(link.Provider), logger.UserID(res.User.ID))

	return &Completion{
		Outcome:        res.Outcome,
		UserID:         res.User.ID,
		RedirectTarget: s.redirectOrDefault(link.RedirectTarget),
	}, nil
}

// exchange reintenta una sola vez y solo ante errores transitorios; un
// invalid_grant jamás se reintenta.
func (s *Service) exchange(ctx context.Context, p provider.Provider, code, verifier string) (*provider.Token, error) {
	tok, err := p.Exchange(ctx, code, verifier)
	if err == nil {
		return tok, nil
	}
	if !provider.IsTransient(err) {
		return nil, err
	}
	logger.L().Warn("code exchange failed, retrying once",
		logger.Provider(p.Name()), logger.Err(err))
	return p.Exchange(ctx, code, verifier)
}

func (s *Service) parkForConfirmation(ctx context.Context, prov string, profile *provider.Profile, existing *repository.User, redirectTarget string, tok *provider.Token, encAccess, encRefresh string) (*Completion, error) {
	confirmToken, err := pkce.NewState()
	if err != nil {
		return nil, err
	}
	link := &state.PendingLink{
		Token:          confirmToken,
		Provider:       prov,
		ProviderUserID: profile.ProviderUserID,
		Email:          strings.ToLower(strings.TrimSpace(profile.Email)),
		UserID:         existing.ID,
		RedirectTarget: redirectTarget,
		EncAccessToken: encAccess,
		EncRefreshTok:  encRefresh,
		TokenType:      tok.TokenType,
		Scope:          tok.Scope,
		TokenExpiresAt: tok.Expiry(s.now().UTC()),
		ExpiresAt:      s.now().UTC().Add(s.opts.ConfirmTTL),
	}
	if err := s.deps.States.PutLink(ctx, link); err != nil {
		return nil, err
	}

	logger.L().Info("link parked pending confirmation",
		logger.Provider(prov), logger.UserID(existing.ID))

	return &Completion{
		Outcome:        linker.OutcomeNeedsConfirmation,
		RedirectTarget: s.opts.ConfirmPath,
		ConfirmToken:   confirmToken,
	}, nil
}

func (s *Service) storeToken(ctx context.Context, accountID string, tok *provider.Token, encAccess, encRefresh string) error {
	t := &repository.OAuthToken{
		ID:                    uuid.NewString(),
		OAuthAccountID:        accountID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenType:             tok.TokenType,
		Scope:                 tok.Scope,
		ExpiresAt:             tok.Expiry(s.now().UTC()),
		UpdatedAt:             s.now().UTC(),
	}
	return s.deps.Store.Tokens().Upsert(ctx, t)
}

func (s *Service) redirectOrDefault(target string) string {
	if target == "" {
		return s.opts.DefaultRedirect
	}
	return target
}

// sanitizeRedirect fuerza paths relativos locales: nada de open redirects.
func (s *Service) sanitizeRedirect(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return s.opts.DefaultRedirect, nil
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return "", ErrInvalidRedirect
	}
	return target, nil
}
