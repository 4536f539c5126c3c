// Package refresher renueva en background los access tokens próximos a
// vencer. Cada sweep toma un lease sobre sus candidatos, así varias
// instancias pueden correr el refresher sin pisarse.
package refresher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
	"github.com/dropDatabas3/socialauth/internal/security/tokenbox"
)

// Options ajusta el ciclo de refresh.
type Options struct {
	Interval    time.Duration // periodo entre sweeps
	Lookahead   time.Duration // renovar tokens que vencen dentro de esta ventana
	MaxAttempts int           // reintentos antes de marcar refresh_failed
	Concurrency int           // refreshes en paralelo por sweep
	BatchSize   int           // tokens por sweep
	BackoffBase time.Duration // primer retry; se duplica por intento

	// OnResult, si está presente, recibe (provider, "ok"|"retry"|"failed")
	// por cada intento. Lo usa la capa HTTP para métricas.
	OnResult func(provider, result string)
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 3 * time.Minute
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
}

// Refresher es el worker de renovación de tokens.
type Refresher struct {
	store     repository.Store
	providers *provider.Registry
	accounts  repository.AccountRepository
	box       *tokenbox.Box
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func New(store repository.Store, providers *provider.Registry, box *tokenbox.Box, opts Options) *Refresher {
	opts.defaults()
	return &Refresher{
		store:     store,
		providers: providers,
		accounts:  store.Accounts(),
		box:       box,
		opts:      opts,
		log:       logger.Named("refresher"),
		now:       time.Now,
	}
}

// Run ejecuta sweeps periódicos hasta que el contexto se cancele.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.log.Info("refresher started",
		zap.Duration("interval", r.opts.Interval),
		zap.Duration("lookahead", r.opts.Lookahead))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("sweep failed", logger.Err(err))
			}
		}
	}
}

// Sweep reclama un batch de tokens por vencer y los renueva en paralelo.
func (r *Refresher) Sweep(ctx context.Context) error {
	// El lease dura lo mismo que el intervalo: si esta instancia muere, el
	// próximo sweep de cualquier instancia recupera sus tokens.
	tokens, err := r.store.Tokens().LeaseExpiring(ctx, r.opts.Lookahead, r.opts.Interval, r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	r.log.Debug("sweep leased tokens", zap.Int("count", len(tokens)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i := range tokens {
		tok := tokens[i]
		g.Go(func() error {
			r.refreshOne(ctx, &tok)
			return nil
		})
	}
	return g.Wait()
}

func (r *Refresher) refreshOne(ctx context.Context, tok *repository.OAuthToken) {
	acct, err := r.accounts.GetByID(ctx, tok.OAuthAccountID)
	if err != nil {
		// Cuenta desvinculada entre el lease y ahora.
		r.log.Debug("token without account, skipping", zap.String("token_id", tok.ID))
		return
	}
	log := r.log.With(logger.Provider(acct.Provider), logger.AccountID(acct.ID))

	p, err := r.providers.Get(acct.Provider)
	if err != nil {
		log.Warn("provider not configured for stored token")
		r.recordFailure(ctx, tok, log)
		return
	}

	refreshPlain, err := r.box.Decrypt(tok.EncryptedRefreshToken)
	if err != nil {
		// Clave rotada sin re-cifrado: el token es irrecuperable, el usuario
		// tendrá que reconectar. Jamás tumbar el proceso por esto.
		log.Warn("stored refresh token undecryptable, marking failed", logger.Err(err))
		r.markFailed(ctx, tok, log)
		return
	}

	fresh, err := p.Refresh(ctx, refreshPlain)
	switch {
	case err == nil:
		r.storeRefreshed(ctx, tok, fresh, refreshPlain, log)
		r.report(acct.Provider, "ok")
	case errors.Is(err, provider.ErrRefreshUnsupported):
		log.Debug("provider does not refresh, marking failed")
		r.markFailed(ctx, tok, log)
		r.report(acct.Provider, "failed")
	case provider.IsTransient(err):
		log.Warn("transient refresh failure", logger.Err(err))
		r.recordFailure(ctx, tok, log)
		r.report(acct.Provider, "retry")
	default:
		// Respuesta definitiva del provider (revocado, invalid_grant).
		log.Warn("refresh rejected by provider", logger.Err(err))
		r.markFailed(ctx, tok, log)
		r.report(acct.Provider, "failed")
	}
}

func (r *Refresher) report(provider, result string) {
	if r.opts.OnResult != nil {
		r.opts.OnResult(provider, result)
	}
}

func (r *Refresher) storeRefreshed(ctx context.Context, tok *repository.OAuthToken, fresh *provider.Token, oldRefresh string, log *zap.Logger) {
	encAccess, err := r.box.Encrypt(fresh.AccessToken)
	if err != nil {
		log.Error("encrypt refreshed access token", logger.Err(err))
		return
	}
	// Rotación de refresh token: si el provider no mandó uno nuevo, el
	// anterior sigue siendo válido.
	refreshPlain := fresh.RefreshToken
	if refreshPlain == "" {
		refreshPlain = oldRefresh
	}
	encRefresh, err := r.box.Encrypt(refreshPlain)
	if err != nil {
		log.Error("encrypt rotated refresh token", logger.Err(err))
		return
	}

	now := r.now().UTC()
	updated := &repository.OAuthToken{
		ID:                    tok.ID,
		OAuthAccountID:        tok.OAuthAccountID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenType:             fresh.TokenType,
		Scope:                 fresh.Scope,
		ExpiresAt:             fresh.Expiry(now),
		RefreshAttempts:       0, // éxito resetea el ciclo
		NextRefreshAt:         nil,
		RefreshFailed:         false,
		UpdatedAt:             now,
	}
	if err := r.store.Tokens().Upsert(ctx, updated); err != nil {
		log.Error("persist refreshed token", logger.Err(err))
		return
	}
	log.Info("token refreshed")
}

// recordFailure suma un intento con backoff exponencial; al agotar los
// intentos el token pasa a refresh_failed.
func (r *Refresher) recordFailure(ctx context.Context, tok *repository.OAuthToken, log *zap.Logger) {
	attempts := tok.RefreshAttempts + 1
	if attempts >= r.opts.MaxAttempts {
		r.markFailedAttempts(ctx, tok, attempts, log)
		return
	}
	backoff := r.opts.BackoffBase << (attempts - 1)
	next := r.now().UTC().Add(backoff)
	if err := r.store.Tokens().MarkRefreshFailure(ctx, tok.ID, attempts, next, false); err != nil {
		log.Error("record refresh failure", logger.Err(err))
		return
	}
	log.Debug("refresh backoff scheduled",
		zap.Int("attempts", attempts), zap.Duration("backoff", backoff))
}

func (r *Refresher) markFailed(ctx context.Context, tok *repository.OAuthToken, log *zap.Logger) {
	r.markFailedAttempts(ctx, tok, tok.RefreshAttempts+1, log)
}

func (r *Refresher) markFailedAttempts(ctx context.Context, tok *repository.OAuthToken, attempts int, log *zap.Logger) {
	if err := r.store.Tokens().MarkRefreshFailure(ctx, tok.ID, attempts, r.now().UTC(), true); err != nil {
		log.Error("mark refresh failed", logger.Err(err))
		return
	}
	log.Info("token marked refresh_failed, reconnect required",
		zap.Int("attempts", attempts))
}
