// Package linker resuelve a qué usuario local pertenece una identidad social.
//
// Orden de resolución, del caso más fuerte al más débil:
//
//  1. La identidad ya está vinculada      → SignedIn
//  2. El flow traía un usuario conectando → Linked (o conflicto)
//  3. Hay usuario local con ese email     → NeedsConfirmation (nunca auto-merge)
//  4. Nadie reclama la identidad          → Created
//
// El caso 3 requiere prueba de ownership explícita: un atacante que controla
// una cuenta social con un email ajeno no debe poder absorber la cuenta local.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
	"github.com/dropDatabas3/socialauth/internal/security/password"
)

// Outcome clasifica el resultado de Resolve.
type Outcome string

const (
	OutcomeSignedIn          Outcome = "signed_in"
	OutcomeCreated           Outcome = "created"
	OutcomeLinked            Outcome = "linked"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
)

var (
	// ErrIdentityTaken: la identidad social ya está vinculada a OTRO usuario.
	ErrIdentityTaken = errors.New("linker: identity linked to another user")

	// ErrConfirmationFailed: la prueba de ownership no verificó.
	ErrConfirmationFailed = errors.New("linker: ownership confirmation failed")

	// ErrConfirmationUnavailable: el usuario local no tiene password, no hay
	// forma de probar ownership in-band.
	ErrConfirmationUnavailable = errors.New("linker: no password to confirm with")
)

// Result es el veredicto de Resolve.
type Result struct {
	Outcome Outcome
	// User y Account están poblados salvo en NeedsConfirmation.
	User    *repository.User
	Account *repository.OAuthAccount
	// ExistingUser está poblado solo en NeedsConfirmation: el usuario local
	// cuyo email coincide.
	ExistingUser *repository.User
}

// Service implementa la política de account linking.
type Service struct {
	store repository.Store
	now   func() time.Time
}

func New(store repository.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Resolve decide el destino de un perfil autenticado. linkingUserID viene del
// flow "conectar cuenta" y es vacío en un login normal.
//
// Ante ErrConflict (carrera con otro callback) re-ejecuta el lookup una vez:
// la fila que nos ganó es ahora el estado canónico.
func (s *Service) Resolve(ctx context.Context, prov string, profile *provider.Profile, linkingUserID string) (*Result, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := s.resolveOnce(ctx, prov, profile, linkingUserID)
		if err == nil {
			return res, nil
		}
		if !repository.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		logger.L().Debug("linking conflict, retrying lookup",
			logger.Provider(prov), zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("linker: unresolved conflict: %w", lastErr)
}

func (s *Service) resolveOnce(ctx context.Context, prov string, profile *provider.Profile, linkingUserID string) (*Result, error) {
	now := s.now().UTC()

	// 1. Identidad conocida.
	acct, err := s.store.Accounts().GetByProvider(ctx, prov, profile.ProviderUserID)
	switch {
	case err == nil:
		return s.resolveExisting(ctx, acct, linkingUserID, now)
	case !repository.IsNotFound(err):
		return nil, err
	}

	// 2. Flow de conexión: vincular al usuario en sesión.
	if linkingUserID != "" {
		return s.linkToUser(ctx, prov, profile, linkingUserID, now)
	}

	// 3. Email coincidente: parquear para confirmación. Un email no
	// verificado por el provider no prueba nada, en ese caso caemos a crear
	// cuenta nueva.
	email := normalizeEmail(profile.Email)
	if email != "" && profile.EmailVerified {
		existing, err := s.store.Users().GetByEmail(ctx, email)
		switch {
		case err == nil:
			return &Result{Outcome: OutcomeNeedsConfirmation, ExistingUser: existing}, nil
		case !repository.IsNotFound(err):
			return nil, err
		}
	}

	// 4. Primer login: usuario nuevo + vinculación, atómico.
	return s.createUser(ctx, prov, profile, now)
}

func (s *Service) resolveExisting(ctx context.Context, acct *repository.OAuthAccount, linkingUserID string, now time.Time) (*Result, error) {
	if linkingUserID != "" && acct.UserID != linkingUserID {
		return nil, ErrIdentityTaken
	}
	user, err := s.store.Users().GetByID(ctx, acct.UserID)
	if err != nil {
		return nil, fmt.Errorf("linker: account %s without user: %w", acct.ID, err)
	}
	if err := s.store.Accounts().TouchLastUsed(ctx, acct.ID, now); err != nil && !repository.IsNotFound(err) {
		logger.L().Warn("touch last_used failed", logger.AccountID(acct.ID), logger.Err(err))
	}
	outcome := OutcomeSignedIn
	if linkingUserID != "" {
		// Reconectar una identidad ya propia es idempotente.
		outcome = OutcomeLinked
	}
	return &Result{Outcome: outcome, User: user, Account: acct}, nil
}

func (s *Service) linkToUser(ctx context.Context, prov string, profile *provider.Profile, userID string, now time.Time) (*Result, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("linker: linking user: %w", err)
	}
	acct := s.newAccount(prov, profile, user.ID, now)
	if err := s.store.Accounts().Create(ctx, acct); err != nil {
		return nil, err
	}
	logger.L().Info("identity linked",
		logger.Provider(prov), logger.UserID(user.ID), logger.AccountID(acct.ID))
	return &Result{Outcome: OutcomeLinked, User: user, Account: acct}, nil
}

func (s *Service) createUser(ctx context.Context, prov string, profile *provider.Profile, now time.Time) (*Result, error) {
	user := &repository.User{
		ID:            uuid.NewString(),
		Email:         normalizeEmail(profile.Email),
		EmailVerified: profile.EmailVerified,
		Name:          profile.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	acct := s.newAccount(prov, profile, user.ID, now)
	if err := s.store.CreateUserWithAccount(ctx, user, acct); err != nil {
		return nil, err
	}
	logger.L().Info("user created from social login",
		logger.Provider(prov), logger.UserID(user.ID))
	return &Result{Outcome: OutcomeCreated, User: user, Account: acct}, nil
}

// ConfirmLink completa el caso NeedsConfirmation: verifica la password del
// usuario local y recién entonces crea la vinculación.
func (s *Service) ConfirmLink(ctx context.Context, userID, plainPassword, prov string, profile *provider.Profile) (*Result, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasPassword() {
		return nil, ErrConfirmationUnavailable
	}
	if !password.Verify(plainPassword, user.PasswordHash) {
		return nil, ErrConfirmationFailed
	}

	now := s.now().UTC()
	acct := s.newAccount(prov, profile, user.ID, now)
	if err := s.store.Accounts().Create(ctx, acct); err != nil {
		if repository.IsConflict(err) {
			// Alguien vinculó la identidad entre el parqueo y la confirmación.
			return nil, ErrIdentityTaken
		}
		return nil, err
	}
	logger.L().Info("identity linked after confirmation",
		logger.Provider(prov), logger.UserID(user.ID), logger.AccountID(acct.ID))
	return &Result{Outcome: OutcomeLinked, User: user, Account: acct}, nil
}

// Unlink desvincula una identidad del usuario. Rechaza con ErrLastAuthMethod
// si es el último método de autenticación que le queda. El guard vive en el
// store (chequeo y borrado atómicos), acá solo se traduce el resultado.
func (s *Service) Unlink(ctx context.Context, userID, accountID string) error {
	acct, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.UserID != userID {
		// No filtrar existencia de cuentas ajenas.
		return repository.ErrNotFound
	}
	if err := s.store.Accounts().DeleteUnlessLast(ctx, userID, accountID); err != nil {
		return err
	}
	logger.L().Info("identity unlinked",
		logger.Provider(acct.Provider), logger.UserID(userID), logger.AccountID(accountID))
	return nil
}

// Accounts lista las identidades vinculadas de un usuario.
func (s *Service) Accounts(ctx context.Context, userID string) ([]repository.OAuthAccount, error) {
	return s.store.Accounts().ListByUser(ctx, userID)
}

func (s *Service) newAccount(prov string, profile *provider.Profile, userID string, now time.Time) *repository.OAuthAccount {
	return &repository.OAuthAccount{
		ID:             uuid.NewString(),
		UserID:         userID,
		Provider:       prov,
		ProviderUserID: profile.ProviderUserID,
		ProviderEmail:  normalizeEmail(profile.Email),
		LinkedAt:       now,
		LastUsedAt:     now,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
