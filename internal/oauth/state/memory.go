package state

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	statePrefix = "st:"
	linkPrefix  = "lk:"
)

// Memory es el backend in-process. go-cache aporta TTL + janitor de limpieza;
// el mutex propio hace atómico el get+delete de Take.
type Memory struct {
	mu sync.Mutex
	c  *gocache.Cache

	now func() time.Time // inyectable en tests
}

// NewMemory crea el backend de memoria. defaultTTL acota registros cuyo
// ExpiresAt venga en cero.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		c:   gocache.New(defaultTTL, time.Minute),
		now: time.Now,
	}
}

func (m *Memory) Put(ctx context.Context, p *PendingAuthorization) error {
	return m.put(statePrefix+p.State, *p, p.ExpiresAt)
}

func (m *Memory) Take(ctx context.Context, stateTok string) (*PendingAuthorization, error) {
	v, err := m.take(statePrefix + stateTok)
	if err != nil {
		return nil, err
	}
	p := v.(PendingAuthorization)
	if p.Expired(m.now()) {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) PutLink(ctx context.Context, l *PendingLink) error {
	return m.put(linkPrefix+l.Token, *l, l.ExpiresAt)
}

func (m *Memory) TakeLink(ctx context.Context, token string) (*PendingLink, error) {
	v, err := m.take(linkPrefix + token)
	if err != nil {
		return nil, err
	}
	l := v.(PendingLink)
	if m.now().After(l.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *Memory) put(key string, val any, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.c.Get(key); exists {
		return ErrStateExists
	}
	ttl := gocache.DefaultExpiration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
	}
	m.c.Set(key, val, ttl)
	return nil
}

func (m *Memory) take(key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, found := m.c.Get(key) // Get ya filtra los vencidos
	if !found {
		return nil, ErrNotFound
	}
	m.c.Delete(key)
	return v, nil
}
