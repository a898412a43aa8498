package usecase

import (
	"context"

	authdomain "mailsync-backend/internal/auth/domain"
	authdto "mailsync-backend/internal/auth/dto"
)

type AuthUsecase interface {
	Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	Register(req *authdto.RegisterRequest) (*authdto.TokenResponse, error)
	RefreshToken(refreshToken string) (*authdto.TokenResponse, error)
	Logout(refreshToken string) error
	ValidateToken(token string) (*authdomain.User, error)

	// GoogleAuthURL builds the consent URL requesting offline Gmail access.
	GoogleAuthURL(state string) string
	// GoogleCallback exchanges an authorization code, stores the credential and
	// signs the user in. A non-empty currentUserID links the Google account to
	// that user instead.
	GoogleCallback(ctx context.Context, code, currentUserID string) (*authdto.TokenResponse, error)

	ListAccounts(ctx context.Context, userID string) ([]*authdomain.Account, error)
	// UnlinkAccount removes a linked provider account unless it is the user's
	// last way to sign in.
	UnlinkAccount(ctx context.Context, userID, accountID string) error

	RegisterDevice(ctx context.Context, userID, token, deviceInfo string) error
	UnregisterDevice(ctx context.Context, token string) error
}

// AccountLinkListener is notified after a provider account is linked or relinked.
type AccountLinkListener interface {
	AccountLinked(ctx context.Context, account *authdomain.Account)
}
