package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLastSignInMethod = errors.New("cannot remove the last sign-in method")
	ErrAccountNotFound  = errors.New("account not found")
)

// AuthenticationError means no usable credential exists for the user and
// they must re-link the provider account.
type AuthenticationError struct {
	UserID   string
	Provider string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("no valid %s credentials for user %s, re-authentication required", e.Provider, e.UserID)
}

// TokenRefreshError is a failed refresh_token grant. Stored credentials are
// left untouched when it is returned.
type TokenRefreshError struct {
	StatusCode int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Body)
}
