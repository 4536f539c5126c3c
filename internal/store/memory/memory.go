// Package memory implementa repository.Store en memoria. Se usa en dev y en
// tests; replica las mismas garantías de unicidad y leasing que el adapter
// postgres para que el linker y el refresher se comporten igual en ambos.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
)

type Store struct {
	mu sync.Mutex

	users    map[string]*repository.User         // por id
	byEmail  map[string]string                   // email -> user id
	accounts map[string]*repository.OAuthAccount // por id
	byIdent  map[string]string                   // provider\x00puid -> account id
	tokens   map[string]*repository.OAuthToken   // por oauth_account_id

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]*repository.User),
		byEmail:  make(map[string]string),
		accounts: make(map[string]*repository.OAuthAccount),
		byIdent:  make(map[string]string),
		tokens:   make(map[string]*repository.OAuthToken),
		now:      time.Now,
	}
}

func identKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// ---------------------------------------------------------------------------
// repository.Store

func (s *Store) Users() repository.UserRepository       { return (*userRepo)(s) }
func (s *Store) Accounts() repository.AccountRepository { return (*accountRepo)(s) }
func (s *Store) Tokens() repository.TokenRepository     { return (*tokenRepo)(s) }

func (s *Store) CreateUserWithAccount(ctx context.Context, u *repository.User, a *repository.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[normEmail(u.Email)]; taken {
		return repository.ErrConflict
	}
	if _, taken := s.byIdent[identKey(a.Provider, a.ProviderUserID)]; taken {
		return repository.ErrConflict
	}
	s.putUserLocked(u)
	s.putAccountLocked(a)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

func (s *Store) putUserLocked(u *repository.User) {
	cp := *u
	s.users[cp.ID] = &cp
	s.byEmail[normEmail(cp.Email)] = cp.ID
}

func (s *Store) putAccountLocked(a *repository.OAuthAccount) {
	cp := *a
	s.accounts[cp.ID] = &cp
	s.byIdent[identKey(cp.Provider, cp.ProviderUserID)] = cp.ID
}

// ---------------------------------------------------------------------------
// users

type userRepo Store

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[normEmail(u.Email)]; taken {
		return repository.ErrConflict
	}
	s.putUserLocked(u)
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (r *userRepo) AuthMethodCount(ctx context.Context, userID string) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	n := 0
	if u.PasswordHash != "" {
		n++
	}
	for _, a := range s.accounts {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// accounts

type accountRepo Store

func (r *accountRepo) Create(ctx context.Context, a *repository.OAuthAccount) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byIdent[identKey(a.Provider, a.ProviderUserID)]; taken {
		return repository.ErrConflict
	}
	s.putAccountLocked(a)
	return nil
}

func (r *accountRepo) GetByProvider(ctx context.Context, provider, providerUserID string) (*repository.OAuthAccount, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdent[identKey(provider, providerUserID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*repository.OAuthAccount, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) ListByUser(ctx context.Context, userID string) ([]repository.OAuthAccount, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.OAuthAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkedAt.Before(out[j].LinkedAt) })
	return out, nil
}

func (r *accountRepo) DeleteUnlessLast(ctx context.Context, userID, id string) error {
	s := (*Store)(r)
	// Chequeo y borrado bajo el mismo lock: unlinks concurrentes no pueden
	// dejar al usuario sin métodos de auth.
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	methods := 0
	if u, ok := s.users[userID]; ok && u.PasswordHash != "" {
		methods++
	}
	for _, other := range s.accounts {
		if other.UserID == userID {
			methods++
		}
	}
	if methods <= 1 {
		return repository.ErrLastAuthMethod
	}
	delete(s.byIdent, identKey(a.Provider, a.ProviderUserID))
	delete(s.accounts, id)
	delete(s.tokens, id) // cascade
	return nil
}

func (r *accountRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.LastUsedAt = at
	return nil
}

// ---------------------------------------------------------------------------
// tokens

type tokenRepo Store

func (r *tokenRepo) Upsert(ctx context.Context, t *repository.OAuthToken) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[t.OAuthAccountID]; !ok {
		return repository.ErrNotFound
	}
	cp := *t
	cp.UpdatedAt = s.now()
	s.tokens[cp.OAuthAccountID] = &cp
	return nil
}

func (r *tokenRepo) GetByAccount(ctx context.Context, accountID string) (*repository.OAuthToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *tokenRepo) LeaseExpiring(ctx context.Context, lookahead, lease time.Duration, maxAttempts, limit int) ([]repository.OAuthToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(lookahead)
	leaseUntil := now.Add(lease)

	var claimed []repository.OAuthToken
	for _, t := range s.tokens {
		if len(claimed) >= limit {
			break
		}
		if t.EncryptedRefreshToken == "" || t.RefreshFailed || t.RefreshAttempts >= maxAttempts {
			continue
		}
		if t.ExpiresAt == nil || t.ExpiresAt.After(cutoff) {
			continue
		}
		if t.NextRefreshAt != nil && t.NextRefreshAt.After(now) {
			continue // leased o en backoff
		}
		next := leaseUntil
		t.NextRefreshAt = &next
		claimed = append(claimed, *t)
	}
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].ExpiresAt.Before(*claimed[j].ExpiresAt)
	})
	return claimed, nil
}

func (r *tokenRepo) MarkRefreshFailure(ctx context.Context, id string, attempts int, nextRetry time.Time, failed bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.ID == id {
			t.RefreshAttempts = attempts
			t.NextRefreshAt = &nextRetry
			t.RefreshFailed = failed
			t.UpdatedAt = s.now()
			return nil
		}
	}
	return repository.ErrNotFound
}

var _ repository.Store = (*Store)(nil)
