package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration acepta "10m" / "24h" en YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("duration inválida %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// D devuelve el valor como time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

type ProviderCreds struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"` // override de los defaults del provider
}

type Storage struct {
	// memory | postgres
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Postgres struct {
		MaxConns        int    `yaml:"max_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"postgres"`
}

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// BaseURL pública del servicio; se usa para armar las redirect_uri
		// registradas en cada provider (<base_url>/auth/oauth/<provider>/callback).
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Storage Storage `yaml:"storage"`

	Cache struct {
		// memory | redis — backend del state store y del rate limiter
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Auth struct {
		// StateTTL limita la vida de una autorización pendiente.
		StateTTL Duration `yaml:"state_ttl"`
		// ConfirmTTL limita la vida de un link pendiente de confirmación.
		ConfirmTTL Duration `yaml:"confirm_ttl"`
		// DefaultRedirect es el destino post-login cuando el request no trae uno.
		DefaultRedirect string `yaml:"default_redirect"`
		Session         struct {
			CookieName string        `yaml:"cookie_name"`
			Domain     string        `yaml:"domain"`
			SameSite   string        `yaml:"samesite"`
			Secure     bool          `yaml:"secure"`
			TTL        Duration      `yaml:"ttl"`
			SigningKey string        `yaml:"signing_key"` // fallback: SOCIALAUTH_SESSION_KEY
		} `yaml:"session"`
	} `yaml:"auth"`

	Security struct {
		// TokenCipherKey: base64(32 bytes) para cifrar tokens en reposo.
		// Fallback: SOCIALAUTH_TOKEN_KEY.
		TokenCipherKey string `yaml:"token_cipher_key"`
	} `yaml:"security"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		Callback struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"callback"`
	} `yaml:"rate"`

	Refresher struct {
		Enabled     bool          `yaml:"enabled"`
		Interval    Duration `yaml:"interval"`
		Lookahead   Duration `yaml:"lookahead"`
		MaxAttempts int           `yaml:"max_attempts"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"refresher"`

	Providers struct {
		Google    ProviderCreds `yaml:"google"`
		GitHub    ProviderCreds `yaml:"github"`
		Microsoft ProviderCreds `yaml:"microsoft"`
		Facebook  ProviderCreds `yaml:"facebook"`
	} `yaml:"providers"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Auth.StateTTL == 0 {
		c.Auth.StateTTL = Duration(10 * time.Minute)
	}
	if c.Auth.ConfirmTTL == 0 {
		c.Auth.ConfirmTTL = Duration(10 * time.Minute)
	}
	if c.Auth.DefaultRedirect == "" {
		c.Auth.DefaultRedirect = "/"
	}
	if c.Auth.Session.CookieName == "" {
		c.Auth.Session.CookieName = "sa_session"
	}
	if c.Auth.Session.TTL == 0 {
		c.Auth.Session.TTL = Duration(24 * time.Hour)
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.Callback.Limit == 0 {
		c.Rate.Callback.Limit = 20
	}
	if c.Rate.Callback.Window == "" {
		c.Rate.Callback.Window = "1m"
	}
	if c.Refresher.Interval == 0 {
		c.Refresher.Interval = Duration(3 * time.Minute)
	}
	if c.Refresher.Lookahead == 0 {
		c.Refresher.Lookahead = Duration(5 * time.Minute)
	}
	if c.Refresher.MaxAttempts == 0 {
		c.Refresher.MaxAttempts = 6
	}
	if c.Refresher.Concurrency == 0 {
		c.Refresher.Concurrency = 4
	}

	// secretos: YAML > env (godotenv cargado en main)
	if c.Security.TokenCipherKey == "" {
		c.Security.TokenCipherKey = strings.TrimSpace(os.Getenv("SOCIALAUTH_TOKEN_KEY"))
	}
	if c.Auth.Session.SigningKey == "" {
		c.Auth.Session.SigningKey = strings.TrimSpace(os.Getenv("SOCIALAUTH_SESSION_KEY"))
	}
	fillFromEnv(&c.Providers.Google, "GOOGLE")
	fillFromEnv(&c.Providers.GitHub, "GITHUB")
	fillFromEnv(&c.Providers.Microsoft, "MICROSOFT")
	fillFromEnv(&c.Providers.Facebook, "FACEBOOK")

	return &c, nil
}

// Validate verifica lo mínimo para arrancar; los providers se validan al
// construir el registry.
func (c *Config) Validate() error {
	if c.Security.TokenCipherKey == "" {
		return fmt.Errorf("config: security.token_cipher_key (o SOCIALAUTH_TOKEN_KEY) es requerida")
	}
	if c.Auth.Session.SigningKey == "" {
		return fmt.Errorf("config: auth.session.signing_key (o SOCIALAUTH_SESSION_KEY) es requerida")
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn es requerida con driver postgres")
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.redis.addr es requerida con kind redis")
	}
	return nil
}

func fillFromEnv(p *ProviderCreds, prefix string) {
	if p.ClientID == "" {
		p.ClientID = strings.TrimSpace(os.Getenv(prefix + "_CLIENT_ID"))
	}
	if p.ClientSecret == "" {
		p.ClientSecret = strings.TrimSpace(os.Getenv(prefix + "_CLIENT_SECRET"))
	}
}
