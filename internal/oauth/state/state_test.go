package state

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(stateTok string, ttl time.Duration) *PendingAuthorization {
	now := time.Now()
	return &PendingAuthorization{
		State:          stateTok,
		Provider:       "google",
		CodeVerifier:   "verifier-abc",
		RedirectTarget: "/dashboard",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// backends bajo test: memory siempre; redis vía miniredis.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemory(10 * time.Minute),
		"redis":  NewRedis(client, "test:"),
	}
}

func TestPutTake_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := pending("tok1", 10*time.Minute)
			require.NoError(t, s.Put(ctx, p))

			got, err := s.Take(ctx, "tok1")
			require.NoError(t, err)
			assert.Equal(t, "google", got.Provider)
			assert.Equal(t, "verifier-abc", got.CodeVerifier)
			assert.Equal(t, "/dashboard", got.RedirectTarget)
		})
	}
}

func TestTake_SingleUse(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, pending("tok2", 10*time.Minute)))

			_, err := s.Take(ctx, "tok2")
			require.NoError(t, err)

			_, err = s.Take(ctx, "tok2")
			assert.ErrorIs(t, err, ErrNotFound, "replay debe fallar")
		})
	}
}

func TestTake_Missing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Take(context.Background(), "nunca-existio")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPut_RejectsCollision(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, pending("dup", 10*time.Minute)))
			assert.ErrorIs(t, s.Put(ctx, pending("dup", 10*time.Minute)), ErrStateExists)
		})
	}
}

func TestTake_ExpiredIsNotFound(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		m := NewMemory(10 * time.Minute)
		p := pending("exp", time.Minute)
		require.NoError(t, m.Put(ctx, p))
		// correr el reloj, no dormir: el registro sigue físicamente presente
		m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err := m.Take(ctx, "exp")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
		defer client.Close()
		r := NewRedis(client, "test:")
		require.NoError(t, r.Put(ctx, pending("exp", time.Minute)))
		mr.FastForward(2 * time.Minute)
		_, err := r.Take(ctx, "exp")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTake_ConcurrentSingleWinner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, pending("race", 10*time.Minute)))

			const goroutines = 32
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < goroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if _, err := s.Take(ctx, "race"); err == nil {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load(), "exactamente un Take debe ganar")
		})
	}
}

func TestPendingLink_RoundTripAndSingleUse(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := &PendingLink{
				Token:          "conf-tok",
				Provider:       "github",
				ProviderUserID: "1296269",
				Email:          "octocat@example.com",
				UserID:         "user-1",
				EncAccessToken: "v1|...|...",
				TokenType:      "Bearer",
				ExpiresAt:      time.Now().Add(10 * time.Minute),
			}
			require.NoError(t, s.PutLink(ctx, l))

			got, err := s.TakeLink(ctx, "conf-tok")
			require.NoError(t, err)
			assert.Equal(t, "user-1", got.UserID)
			assert.Equal(t, "v1|...|...", got.EncAccessToken)

			_, err = s.TakeLink(ctx, "conf-tok")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
