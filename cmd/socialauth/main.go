package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/socialauth/internal/auth/flow"
	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/auth/refresher"
	"github.com/dropDatabas3/socialauth/internal/config"
	httpapi "github.com/dropDatabas3/socialauth/internal/http"
	"github.com/dropDatabas3/socialauth/internal/oauth/pkce"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider/facebook"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider/github"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider/google"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider/microsoft"
	"github.com/dropDatabas3/socialauth/internal/oauth/state"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
	"github.com/dropDatabas3/socialauth/internal/rate"
	"github.com/dropDatabas3/socialauth/internal/security/tokenbox"
	"github.com/dropDatabas3/socialauth/internal/session"
	"github.com/dropDatabas3/socialauth/internal/store"
	"github.com/dropDatabas3/socialauth/internal/store/pg"
	migrations "github.com/dropDatabas3/socialauth/migrations/postgres"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "socialauth",
		Short: "Servicio de autenticación social (OAuth2) y account linking",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path al YAML de configuración")

	root.AddCommand(serveCmd(&configPath), migrateCmd(&configPath), keygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP y el refresher en background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger.Init(logger.Config{Env: cfg.App.Env, Level: "info"})
			defer func() { _ = logger.Sync() }()
			log := logger.Named("serve")

			// Sin aleatoriedad sana no hay PKCE ni state: abortar el boot.
			if err := pkce.SelfCheck(); err != nil {
				return err
			}

			box, err := tokenbox.New(cfg.Security.TokenCipherKey)
			if err != nil {
				return fmt.Errorf("token cipher: %w", err)
			}
			sessions, err := session.NewManager(session.Config{
				CookieName: cfg.Auth.Session.CookieName,
				Domain:     cfg.Auth.Session.Domain,
				SameSite:   cfg.Auth.Session.SameSite,
				Secure:     cfg.Auth.Session.Secure,
				TTL:        cfg.Auth.Session.TTL.D(),
				SigningKey: cfg.Auth.Session.SigningKey,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer st.Close()

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			log.Info("providers configured", zap.Strings("providers", registry.Names()))

			// State store + rate limiters sobre el mismo backend de cache.
			var states state.Store
			var loginLimiter, callbackLimiter rate.Limiter
			var cachePing func(ctx context.Context) error
			if cfg.Cache.Kind == "redis" {
				client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
				defer func() { _ = client.Close() }()
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				cachePing = func(ctx context.Context) error { return client.Ping(ctx).Err() }
				states = state.NewRedis(client, cfg.Cache.Redis.Prefix)
				if cfg.Rate.Enabled {
					loginLimiter = rate.NewRedisLimiter(client, "rl:login:", cfg.Rate.Login.Limit, mustDur(cfg.Rate.Login.Window))
					callbackLimiter = rate.NewRedisLimiter(client, "rl:cb:", cfg.Rate.Callback.Limit, mustDur(cfg.Rate.Callback.Window))
				}
			} else {
				states = state.NewMemory(cfg.Auth.StateTTL.D())
				if cfg.Rate.Enabled {
					loginLimiter = rate.NewMemoryLimiter(cfg.Rate.Login.Limit, mustDur(cfg.Rate.Login.Window))
					callbackLimiter = rate.NewMemoryLimiter(cfg.Rate.Callback.Limit, mustDur(cfg.Rate.Callback.Window))
				}
			}

			link := linker.New(st)
			flowSvc := flow.New(flow.Deps{
				Providers: registry,
				States:    states,
				Store:     st,
				Linker:    link,
				Box:       box,
			}, flow.Options{
				StateTTL:        cfg.Auth.StateTTL.D(),
				ConfirmTTL:      cfg.Auth.ConfirmTTL.D(),
				DefaultRedirect: cfg.Auth.DefaultRedirect,
			})

			handler := httpapi.NewRouter(httpapi.Deps{
				Flow:            flowSvc,
				Linker:          link,
				Sessions:        sessions,
				Providers:       registry,
				Store:           st,
				CachePing:       cachePing,
				LoginLimiter:    loginLimiter,
				CallbackLimiter: callbackLimiter,
			})

			if cfg.Refresher.Enabled {
				ref := refresher.New(st, registry, box, refresher.Options{
					Interval:    cfg.Refresher.Interval.D(),
					Lookahead:   cfg.Refresher.Lookahead.D(),
					MaxAttempts: cfg.Refresher.MaxAttempts,
					Concurrency: cfg.Refresher.Concurrency,
					OnResult:    httpapi.CountRefresh,
				})
				go func() { _ = ref.Run(ctx) }()
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("shutting down")
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutCtx)
			}
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de postgres pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrate solo aplica con storage.driver=postgres")
			}

			logger.Init(logger.Config{Env: cfg.App.Env, Level: "info"})
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			pgStore, err := pg.New(ctx, cfg.Storage.DSN, pg.Options{})
			if err != nil {
				return err
			}
			defer pgStore.Close()

			res, err := pg.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, pgStore.Pool())
			if err != nil {
				return err
			}
			logger.L().Info("migrations done",
				zap.Ints("applied", res.Applied),
				zap.Ints("skipped", res.Skipped),
				zap.Duration("took", res.Duration))
			return nil
		},
	}
}

// keygenCmd genera claves listas para pegar en el .env.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera claves aleatorias para cifrado de tokens y firma de sesión",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenKey := make([]byte, 32)
			if _, err := rand.Read(tokenKey); err != nil {
				return err
			}
			sessionKey := make([]byte, 32)
			if _, err := rand.Read(sessionKey); err != nil {
				return err
			}
			fmt.Printf("SOCIALAUTH_TOKEN_KEY=%s\n", base64.StdEncoding.EncodeToString(tokenKey))
			fmt.Printf("SOCIALAUTH_SESSION_KEY=%s\n", base64.RawURLEncoding.EncodeToString(sessionKey))
			return nil
		},
	}
}

// buildRegistry arma el set cerrado de providers habilitados en config.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	redirect := func(name string) string {
		return cfg.Server.BaseURL + "/auth/oauth/" + name + "/callback"
	}
	creds := func(pc config.ProviderCreds, name string) (provider.Config, error) {
		if pc.ClientID == "" || pc.ClientSecret == "" {
			return provider.Config{}, fmt.Errorf("provider %s habilitado sin client_id/client_secret", name)
		}
		return provider.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURI:  redirect(name),
			Scopes:       pc.Scopes,
		}, nil
	}

	var ps []provider.Provider
	if cfg.Providers.Google.Enabled {
		c, err := creds(cfg.Providers.Google, "google")
		if err != nil {
			return nil, err
		}
		ps = append(ps, google.New(c))
	}
	if cfg.Providers.GitHub.Enabled {
		c, err := creds(cfg.Providers.GitHub, "github")
		if err != nil {
			return nil, err
		}
		ps = append(ps, github.New(c))
	}
	if cfg.Providers.Microsoft.Enabled {
		c, err := creds(cfg.Providers.Microsoft, "microsoft")
		if err != nil {
			return nil, err
		}
		ps = append(ps, microsoft.New(c))
	}
	if cfg.Providers.Facebook.Enabled {
		c, err := creds(cfg.Providers.Facebook, "facebook")
		if err != nil {
			return nil, err
		}
		ps = append(ps, facebook.New(c))
	}
	if len(ps) == 0 {
		return nil, errors.New("ningún provider habilitado en config")
	}
	return provider.NewRegistry(ps...)
}

func mustDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Minute
	}
	return d
}
