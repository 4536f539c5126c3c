package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Redis es el backend distribuido. SETNX rechaza colisiones y GETDEL hace el
// take-once linearizable entre instancias.
type Redis struct {
	client *rdb.Client
	prefix string
	now    func() time.Time
}

// NewRedis crea el backend redis. prefix evita choques de keyspace con otros
// usos del mismo redis.
func NewRedis(client *rdb.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "socialauth:"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) Put(ctx context.Context, p *PendingAuthorization) error {
	return r.put(ctx, r.prefix+statePrefix+p.State, p, p.ExpiresAt)
}

func (r *Redis) Take(ctx context.Context, stateTok string) (*PendingAuthorization, error) {
	var p PendingAuthorization
	if err := r.take(ctx, r.prefix+statePrefix+stateTok, &p); err != nil {
		return nil, err
	}
	// El TTL de redis ya purga vencidos; el chequeo extra cubre clock skew.
	if p.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *Redis) PutLink(ctx context.Context, l *PendingLink) error {
	return r.put(ctx, r.prefix+linkPrefix+l.Token, l, l.ExpiresAt)
}

func (r *Redis) TakeLink(ctx context.Context, token string) (*PendingLink, error) {
	var l PendingLink
	if err := r.take(ctx, r.prefix+linkPrefix+token, &l); err != nil {
		return nil, err
	}
	if r.now().After(l.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (r *Redis) put(ctx context.Context, key string, val any, expiresAt time.Time) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := r.client.SetNX(ctx, key, b, ttl).Result()
	if err != nil {
		return fmt.Errorf("state: redis setnx: %w", err)
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

func (r *Redis) take(ctx context.Context, key string, out any) error {
	b, err := r.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, rdb.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("state: redis getdel: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("state: unmarshal: %w", err)
	}
	return nil
}
