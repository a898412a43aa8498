package domain

import "time"

// Account is an OAuth credential linking a user to an external provider
// account. Token fields hold ciphertext when persisted; repositories handed
// out to the rest of the app decrypt them transparently.
type Account struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	UserID            string    `json:"user_id" gorm:"index;not null"`
	Provider          string    `json:"provider" gorm:"uniqueIndex:idx_provider_account;not null"`
	ProviderAccountID string    `json:"provider_account_id" gorm:"uniqueIndex:idx_provider_account;not null"`
	Email             string    `json:"email"`
	AccessToken       string    `json:"-"`
	RefreshToken      string    `json:"-"`
	IDToken           string    `json:"-"`
	ExpiresAt         int64     `json:"expires_at"` // epoch seconds, 0 if unknown
	TokenType         string    `json:"token_type"`
	Scope             string    `json:"scope"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsExpired reports whether the access token is expired or will expire
// within buffer of now.
func (a *Account) IsExpired(now time.Time, buffer time.Duration) bool {
	return now.Unix() >= a.ExpiresAt-int64(buffer/time.Second)
}
