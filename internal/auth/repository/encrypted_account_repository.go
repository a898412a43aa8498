package repository

import (
	"context"
	"fmt"

	authdomain "mailsync-backend/internal/auth/domain"
)

// TokenCodec is satisfied by *crypto.Codec.
type TokenCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// encryptedAccountRepository encrypts every token field on the way into the
// inner repository and decrypts on the way out. Callers only ever see
// plaintext; the table only ever holds ciphertext.
type encryptedAccountRepository struct {
	inner AccountRepository
	codec TokenCodec
}

func NewEncryptedAccountRepository(inner AccountRepository, codec TokenCodec) AccountRepository {
	return &encryptedAccountRepository{inner: inner, codec: codec}
}

func (r *encryptedAccountRepository) Save(ctx context.Context, account *authdomain.Account) error {
	sealed := *account
	var err error
	if sealed.AccessToken, err = r.codec.Encrypt(account.AccessToken); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if sealed.RefreshToken, err = r.codec.Encrypt(account.RefreshToken); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	if sealed.IDToken, err = r.codec.Encrypt(account.IDToken); err != nil {
		return fmt.Errorf("encrypt id token: %w", err)
	}

	if err := r.inner.Save(ctx, &sealed); err != nil {
		return err
	}
	account.ID = sealed.ID
	account.CreatedAt = sealed.CreatedAt
	account.UpdatedAt = sealed.UpdatedAt
	return nil
}

func (r *encryptedAccountRepository) Load(ctx context.Context, provider, providerAccountID string) (*authdomain.Account, error) {
	account, err := r.inner.Load(ctx, provider, providerAccountID)
	if err != nil || account == nil {
		return nil, err
	}
	return r.open(account)
}

func (r *encryptedAccountRepository) FindByID(ctx context.Context, id string) (*authdomain.Account, error) {
	account, err := r.inner.FindByID(ctx, id)
	if err != nil || account == nil {
		return nil, err
	}
	return r.open(account)
}

func (r *encryptedAccountRepository) FindByUserAndProvider(ctx context.Context, userID, provider string) (*authdomain.Account, error) {
	account, err := r.inner.FindByUserAndProvider(ctx, userID, provider)
	if err != nil || account == nil {
		return nil, err
	}
	return r.open(account)
}

func (r *encryptedAccountRepository) ListByUser(ctx context.Context, userID string) ([]*authdomain.Account, error) {
	accounts, err := r.inner.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.openAll(accounts)
}

func (r *encryptedAccountRepository) ListByProvider(ctx context.Context, provider string) ([]*authdomain.Account, error) {
	accounts, err := r.inner.ListByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	return r.openAll(accounts)
}

func (r *encryptedAccountRepository) ListByEmail(ctx context.Context, provider, email string) ([]*authdomain.Account, error) {
	accounts, err := r.inner.ListByEmail(ctx, provider, email)
	if err != nil {
		return nil, err
	}
	return r.openAll(accounts)
}

func (r *encryptedAccountRepository) Delete(ctx context.Context, id string) error {
	return r.inner.Delete(ctx, id)
}

func (r *encryptedAccountRepository) open(account *authdomain.Account) (*authdomain.Account, error) {
	var err error
	if account.AccessToken, err = r.codec.Decrypt(account.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token for account %s: %w", account.ID, err)
	}
	if account.RefreshToken, err = r.codec.Decrypt(account.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token for account %s: %w", account.ID, err)
	}
	if account.IDToken, err = r.codec.Decrypt(account.IDToken); err != nil {
		return nil, fmt.Errorf("decrypt id token for account %s: %w", account.ID, err)
	}
	return account, nil
}

func (r *encryptedAccountRepository) openAll(accounts []*authdomain.Account) ([]*authdomain.Account, error) {
	for i, a := range accounts {
		opened, err := r.open(a)
		if err != nil {
			return nil, err
		}
		accounts[i] = opened
	}
	return accounts, nil
}
