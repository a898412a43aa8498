package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// accountRepository is the raw gorm store. Tokens pass through unchanged;
// wrap it with NewEncryptedAccountRepository before handing it out.
type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Save(ctx context.Context, account *authdomain.Account) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		account.UpdatedAt = now

		var existing authdomain.Account
		err := tx.Select("id", "created_at").
			Where("provider = ? AND provider_account_id = ?", account.Provider, account.ProviderAccountID).
			First(&existing).Error
		switch {
		case err == nil:
			account.ID = existing.ID
			account.CreatedAt = existing.CreatedAt
			return tx.Save(account).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if account.ID == "" {
				account.ID = uuid.New().String()
			}
			account.CreatedAt = now
			return tx.Create(account).Error
		default:
			return err
		}
	})
}

func (r *accountRepository) Load(ctx context.Context, provider, providerAccountID string) (*authdomain.Account, error) {
	return r.first(ctx, "provider = ? AND provider_account_id = ?", provider, providerAccountID)
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*authdomain.Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *accountRepository) FindByUserAndProvider(ctx context.Context, userID, provider string) (*authdomain.Account, error) {
	var account authdomain.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Order("updated_at DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByUser(ctx context.Context, userID string) ([]*authdomain.Account, error) {
	var accounts []*authdomain.Account
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) ListByProvider(ctx context.Context, provider string) ([]*authdomain.Account, error) {
	var accounts []*authdomain.Account
	if err := r.db.WithContext(ctx).Where("provider = ?", provider).Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) ListByEmail(ctx context.Context, provider, email string) ([]*authdomain.Account, error) {
	var accounts []*authdomain.Account
	err := r.db.WithContext(ctx).
		Where("provider = ? AND LOWER(email) = ?", provider, strings.ToLower(strings.TrimSpace(email))).
		Order("created_at").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&authdomain.Account{}).Error
}

func (r *accountRepository) first(ctx context.Context, query string, args ...interface{}) (*authdomain.Account, error) {
	var account authdomain.Account
	err := r.db.WithContext(ctx).Where(query, args...).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}
