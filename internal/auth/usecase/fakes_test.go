package usecase

import (
	"context"
	"strings"
	"sync"

	authdomain "mailsync-backend/internal/auth/domain"
)

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*authdomain.Account
	saves    int
}

func newFakeAccountRepo(accounts ...*authdomain.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[string]*authdomain.Account{}}
	for _, a := range accounts {
		cp := *a
		r.accounts[a.ID] = &cp
	}
	return r
}

func (r *fakeAccountRepo) Save(_ context.Context, a *authdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	for id, existing := range r.accounts {
		if existing.Provider == a.Provider && existing.ProviderAccountID == a.ProviderAccountID {
			a.ID = id
		}
	}
	if a.ID == "" {
		a.ID = "acc-" + a.ProviderAccountID
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccountRepo) Load(_ context.Context, provider, providerAccountID string) (*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) FindByID(_ context.Context, id string) (*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeAccountRepo) FindByUserAndProvider(_ context.Context, userID, provider string) (*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UserID == userID && a.Provider == provider {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) ListByUser(_ context.Context, userID string) ([]*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*authdomain.Account
	for _, a := range r.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ListByProvider(_ context.Context, provider string) ([]*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*authdomain.Account
	for _, a := range r.accounts {
		if a.Provider == provider {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ListByEmail(_ context.Context, provider, email string) ([]*authdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*authdomain.Account
	for _, a := range r.accounts {
		if a.Provider == provider && strings.EqualFold(a.Email, email) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

func (r *fakeAccountRepo) get(id string) authdomain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

type fakeUserRepo struct {
	users         map[string]*authdomain.User
	refreshTokens map[string]*authdomain.RefreshToken
}

func newFakeUserRepo(users ...*authdomain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]*authdomain.User{}, refreshTokens: map[string]*authdomain.RefreshToken{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(u *authdomain.User) error {
	if u.ID == "" {
		u.ID = "user-" + u.Email
	}
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) FindByEmail(email string) (*authdomain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) FindByID(id string) (*authdomain.User, error) {
	return r.users[id], nil
}

func (r *fakeUserRepo) Update(u *authdomain.User) error {
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) SaveRefreshToken(t *authdomain.RefreshToken) error {
	r.refreshTokens[t.Token] = t
	return nil
}

func (r *fakeUserRepo) FindRefreshToken(token string) (*authdomain.RefreshToken, error) {
	return r.refreshTokens[token], nil
}

func (r *fakeUserRepo) DeleteRefreshToken(token string) error {
	delete(r.refreshTokens, token)
	return nil
}

func (r *fakeUserRepo) DeleteRefreshTokensByUser(userID string) error {
	for k, t := range r.refreshTokens {
		if t.UserID == userID {
			delete(r.refreshTokens, k)
		}
	}
	return nil
}
