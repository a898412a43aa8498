package repository

import (
	"context"

	authdomain "mailsync-backend/internal/auth/domain"
)

type UserRepository interface {
	Create(user *authdomain.User) error
	FindByEmail(email string) (*authdomain.User, error)
	FindByID(id string) (*authdomain.User, error)
	Update(user *authdomain.User) error
	SaveRefreshToken(token *authdomain.RefreshToken) error
	FindRefreshToken(token string) (*authdomain.RefreshToken, error)
	DeleteRefreshToken(token string) error
	DeleteRefreshTokensByUser(userID string) error
}

// AccountRepository stores OAuth credentials. Lookups return (nil, nil)
// when no row matches.
type AccountRepository interface {
	// Save inserts or updates the credential keyed by (Provider, ProviderAccountID).
	Save(ctx context.Context, account *authdomain.Account) error
	Load(ctx context.Context, provider, providerAccountID string) (*authdomain.Account, error)
	FindByID(ctx context.Context, id string) (*authdomain.Account, error)
	FindByUserAndProvider(ctx context.Context, userID, provider string) (*authdomain.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*authdomain.Account, error)
	ListByProvider(ctx context.Context, provider string) ([]*authdomain.Account, error)
	// ListByEmail returns every credential for the mailbox address; several users may link the same one.
	ListByEmail(ctx context.Context, provider, email string) ([]*authdomain.Account, error)
	Delete(ctx context.Context, id string) error
}
