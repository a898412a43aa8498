package repository

import (
	"context"
	"fmt"

	authdomain "mailsync-backend/internal/auth/domain"
	"mailsync-backend/pkg/logger"
	"mailsync-backend/pkg/utils/crypto"

	"gorm.io/gorm"
)

// MigrateLegacyTokens encrypts token columns still stored as plaintext.
// Values that already look like codec output are skipped, so the migration
// can be re-run safely. It returns the number of accounts rewritten.
func MigrateLegacyTokens(ctx context.Context, db *gorm.DB, codec TokenCodec) (int, error) {
	log := logger.With("token-migration")
	migrated := 0

	var batch []*authdomain.Account
	result := db.WithContext(ctx).Model(&authdomain.Account{}).FindInBatches(&batch, 100, func(tx *gorm.DB, _ int) error {
		for _, account := range batch {
			updates := map[string]interface{}{}
			for column, value := range map[string]string{
				"access_token":  account.AccessToken,
				"refresh_token": account.RefreshToken,
				"id_token":      account.IDToken,
			} {
				if value == "" || crypto.LooksEncrypted(value) {
					continue
				}
				sealed, err := codec.Encrypt(value)
				if err != nil {
					return fmt.Errorf("encrypt %s for account %s: %w", column, account.ID, err)
				}
				updates[column] = sealed
			}
			if len(updates) == 0 {
				continue
			}
			if err := db.WithContext(ctx).Model(&authdomain.Account{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("update account %s: %w", account.ID, err)
			}
			migrated++
		}
		return nil
	})
	if result.Error != nil {
		return migrated, result.Error
	}

	if migrated > 0 {
		log.Info().Int("accounts", migrated).Msg("encrypted legacy plaintext tokens")
	}
	return migrated, nil
}
