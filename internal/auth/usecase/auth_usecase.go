package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	authdto "mailsync-backend/internal/auth/dto"
	"mailsync-backend/internal/auth/repository"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleUserInfo is the subset of the OpenID userinfo response we keep.
type GoogleUserInfo struct {
	Sub           string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// UserInfoFetcher resolves the Google identity behind a freshly issued token.
type UserInfoFetcher func(ctx context.Context, tok *oauth2.Token) (*GoogleUserInfo, error)

type authUsecase struct {
	userRepo     repository.UserRepository
	accountRepo  repository.AccountRepository
	fcmRepo      repository.FCMTokenRepository
	oauth        *oauth2.Config
	userInfo     UserInfoFetcher
	linkListener AccountLinkListener
	config       *config.Config
}

func NewAuthUsecase(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	fcmRepo repository.FCMTokenRepository,
	oauthConfig *oauth2.Config,
	cfg *config.Config,
) *authUsecase {
	u := &authUsecase{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		fcmRepo:     fcmRepo,
		oauth:       oauthConfig,
		config:      cfg,
	}
	u.userInfo = u.fetchGoogleUserInfo
	return u
}

// NewGoogleOAuthConfig builds the OAuth client used for both the code
// exchange and refresh grants.
func NewGoogleOAuthConfig(cfg *config.Config) *oauth2.Config {
	endpoint := google.Endpoint
	if cfg.GoogleTokenURL != "" {
		endpoint.TokenURL = cfg.GoogleTokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		Endpoint:     endpoint,
		Scopes: []string{
			"openid",
			oauth2api.UserinfoEmailScope,
			oauth2api.UserinfoProfileScope,
			gmailapi.GmailReadonlyScope,
		},
	}
}

// SetLinkListener registers the callback run after a Google account is linked.
func (u *authUsecase) SetLinkListener(l AccountLinkListener) {
	u.linkListener = l
}

// SetUserInfoFetcher replaces the Google userinfo lookup.
func (u *authUsecase) SetUserInfoFetcher(f UserInfoFetcher) {
	u.userInfo = f
}

func (u *authUsecase) Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error) {
	user, err := u.userRepo.FindByEmail(req.Email)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("invalid email or password")
	}

	if !user.HasPassword() {
		return nil, errors.New("please use Google Sign-In for this account")
	}

	if !repository.CheckPasswordHash(req.Password, user.Password) {
		return nil, errors.New("invalid email or password")
	}

	return u.generateTokens(user)
}

func (u *authUsecase) Register(req *authdto.RegisterRequest) (*authdto.TokenResponse, error) {
	existing, err := u.userRepo.FindByEmail(req.Email)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, errors.New("email already registered")
	}

	hashedPassword, err := repository.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &authdomain.User{
		Email:    req.Email,
		Password: hashedPassword,
		Name:     req.Name,
	}

	if err := u.userRepo.Create(user); err != nil {
		return nil, err
	}

	return u.generateTokens(user)
}

func (u *authUsecase) GoogleAuthURL(state string) string {
	return u.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (u *authUsecase) GoogleCallback(ctx context.Context, code, currentUserID string) (*authdto.TokenResponse, error) {
	log := logger.With("auth")

	tok, err := u.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &authdomain.TokenRefreshError{StatusCode: retrieveErr.Response.StatusCode, Body: string(retrieveErr.Body)}
		}
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	info, err := u.userInfo(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Google user info: %w", err)
	}
	if !info.EmailVerified {
		return nil, errors.New("google email is not verified")
	}

	existing, err := u.accountRepo.Load(ctx, authdomain.ProviderGoogle, info.Sub)
	if err != nil {
		return nil, err
	}

	user, err := u.resolveGoogleUser(existing, info, currentUserID)
	if err != nil {
		return nil, err
	}

	account := &authdomain.Account{
		UserID:            user.ID,
		Provider:          authdomain.ProviderGoogle,
		ProviderAccountID: info.Sub,
		Email:             info.Email,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		account.ExpiresAt = tok.Expiry.Unix()
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		account.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		account.Scope = scope
	}
	// Google omits the refresh token on repeat consent; keep the one we have.
	if account.RefreshToken == "" && existing != nil {
		account.RefreshToken = existing.RefreshToken
	}

	if err := u.accountRepo.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store Google credential: %w", err)
	}
	log.Info().Str("user_id", user.ID).Str("account", account.Email).Msg("google account linked")

	if u.linkListener != nil {
		u.linkListener.AccountLinked(ctx, account)
	}

	return u.generateTokens(user)
}

func (u *authUsecase) resolveGoogleUser(existing *authdomain.Account, info *GoogleUserInfo, currentUserID string) (*authdomain.User, error) {
	if currentUserID != "" {
		if existing != nil && existing.UserID != currentUserID {
			return nil, errors.New("this Google account is linked to another user")
		}
		user, err := u.userRepo.FindByID(currentUserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, errors.New("user not found")
		}
		return user, nil
	}

	if existing != nil {
		user, err := u.userRepo.FindByID(existing.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	user, err := u.userRepo.FindByEmail(info.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &authdomain.User{
			Email:     info.Email,
			Name:      info.Name,
			AvatarURL: info.Picture,
		}
		if err := u.userRepo.Create(user); err != nil {
			return nil, err
		}
		return user, nil
	}

	user.Name = info.Name
	user.AvatarURL = info.Picture
	if err := u.userRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *authUsecase) fetchGoogleUserInfo(ctx context.Context, tok *oauth2.Token) (*GoogleUserInfo, error) {
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(u.oauth.TokenSource(ctx, tok)))
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	verified := info.VerifiedEmail != nil && *info.VerifiedEmail
	return &GoogleUserInfo{
		Sub:           info.Id,
		Email:         info.Email,
		Name:          info.Name,
		Picture:       info.Picture,
		EmailVerified: verified,
	}, nil
}

func (u *authUsecase) ListAccounts(ctx context.Context, userID string) ([]*authdomain.Account, error) {
	return u.accountRepo.ListByUser(ctx, userID)
}

func (u *authUsecase) UnlinkAccount(ctx context.Context, userID, accountID string) error {
	account, err := u.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil || account.UserID != userID {
		return authdomain.ErrAccountNotFound
	}

	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return errors.New("user not found")
	}

	accounts, err := u.accountRepo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	methods := len(accounts)
	if user.HasPassword() {
		methods++
	}
	if methods <= 1 {
		return authdomain.ErrLastSignInMethod
	}

	return u.accountRepo.Delete(ctx, accountID)
}

func (u *authUsecase) RegisterDevice(ctx context.Context, userID, token, deviceInfo string) error {
	return u.fcmRepo.SaveToken(ctx, userID, token, deviceInfo)
}

func (u *authUsecase) UnregisterDevice(ctx context.Context, token string) error {
	return u.fcmRepo.DeleteToken(ctx, token)
}

func (u *authUsecase) RefreshToken(refreshToken string) (*authdto.TokenResponse, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return nil, errors.New("invalid refresh token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	storedToken, err := u.userRepo.FindRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	if storedToken == nil || storedToken.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("refresh token expired")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("user not found")
	}

	// Rotate: the presented refresh token is single use.
	if err := u.userRepo.DeleteRefreshToken(refreshToken); err != nil {
		return nil, err
	}

	return u.generateTokens(user)
}

func (u *authUsecase) Logout(refreshToken string) error {
	return u.userRepo.DeleteRefreshToken(refreshToken)
}

func (u *authUsecase) generateTokens(user *authdomain.User) (*authdto.TokenResponse, error) {
	accessToken, err := u.signToken(jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     time.Now().Add(u.config.JWTAccessExpiry).Unix(),
		"iat":     time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := u.signToken(jwt.MapClaims{
		"user_id":  user.ID,
		"token_id": uuid.New().String(),
		"exp":      time.Now().Add(u.config.JWTRefreshExpiry).Unix(),
		"iat":      time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	refreshTokenEntity := &authdomain.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(u.config.JWTRefreshExpiry),
	}
	if err := u.userRepo.SaveRefreshToken(refreshTokenEntity); err != nil {
		return nil, err
	}

	return &authdto.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

func (u *authUsecase) signToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.config.JWTSecret))
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	// Refresh tokens carry token_id and must not authenticate API calls.
	if _, isRefresh := claims["token_id"]; isRefresh {
		return nil, errors.New("invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("user not found")
	}

	return user, nil
}
