// Package session emite y valida la cookie de sesión firmada (HS256).
// La sesión es stateless: el JWT lleva user id y expiración, no hay
// estado server-side que invalidar.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("session: invalid or expired")

type Config struct {
	CookieName string
	Domain     string
	SameSite   string
	Secure     bool
	TTL        time.Duration
	SigningKey string
}

// Manager firma cookies de sesión con clave simétrica.
type Manager struct {
	cfg Config
	key []byte
	now func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, errors.New("session: signing key required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "sa_session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Manager{cfg: cfg, key: []byte(cfg.SigningKey), now: time.Now}, nil
}

// Issue firma un JWT de sesión para el usuario y arma la cookie.
func (m *Manager) Issue(userID string) (*http.Cookie, error) {
	now := m.now().UTC()
	claims := jwtv5.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(m.cfg.TTL).Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(m.key)
	if err != nil {
		return nil, fmt.Errorf("session: sign: %w", err)
	}
	return buildCookie(m.cfg, signed, m.cfg.TTL), nil
}

// Verify valida la cookie del request y devuelve el user id.
func (m *Manager) Verify(r *http.Request) (string, error) {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", ErrInvalidSession
	}
	return m.VerifyToken(ck.Value)
}

// VerifyToken valida un JWT de sesión crudo.
func (m *Manager) VerifyToken(raw string) (string, error) {
	tk, err := jwtv5.Parse(raw, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwtv5.WithValidMethods([]string{"HS256"}), jwtv5.WithExpirationRequired())
	if err != nil || !tk.Valid {
		return "", ErrInvalidSession
	}
	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return "", ErrInvalidSession
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidSession
	}
	return sub, nil
}

// Clear devuelve la cookie de borrado.
func (m *Manager) Clear() *http.Cookie {
	ck := buildCookie(m.cfg, "", 0)
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}

func parseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func buildCookie(cfg Config, value string, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: parseSameSite(cfg.SameSite),
	}
	if strings.TrimSpace(cfg.Domain) != "" {
		ck.Domain = cfg.Domain
	}
	if ttl > 0 {
		ck.Expires = time.Now().Add(ttl).UTC()
		ck.MaxAge = int(ttl.Seconds())
	}
	return ck
}
