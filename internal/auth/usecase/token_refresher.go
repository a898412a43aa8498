package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	"mailsync-backend/internal/auth/repository"
	"mailsync-backend/pkg/logger"
	"mailsync-backend/pkg/metrics"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ExpiryBuffer is how long before its expiry an access token is treated as expired.
const ExpiryBuffer = 60 * time.Second

// DefaultTokenLifetime is assumed when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

// TokenRefresher hands out access tokens that are valid for at least
// ExpiryBuffer, refreshing and persisting them when needed.
type TokenRefresher struct {
	accounts   repository.AccountRepository
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	group      singleflight.Group
}

type RefresherOption func(*TokenRefresher)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) RefresherOption {
	return func(r *TokenRefresher) { r.httpClient = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *TokenRefresher) { r.now = now }
}

func NewTokenRefresher(accounts repository.AccountRepository, oauthConfig *oauth2.Config, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		accounts: accounts,
		oauth:    oauthConfig,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetValidAccessToken returns a usable access token for the user's provider
// account. It returns "" with a nil error when there is no credential or
// the credential has no refresh token; callers must ask the user to re-link.
func (r *TokenRefresher) GetValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	account, err := r.accounts.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return "", fmt.Errorf("load %s credential: %w", provider, err)
	}
	return r.validToken(ctx, account)
}

// AccessTokenForAccount is GetValidAccessToken keyed by the linked account
// row, for users with more than one mailbox on the same provider.
func (r *TokenRefresher) AccessTokenForAccount(ctx context.Context, accountID string) (string, error) {
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", accountID, err)
	}
	return r.validToken(ctx, account)
}

func (r *TokenRefresher) validToken(ctx context.Context, account *authdomain.Account) (string, error) {
	if account == nil || account.RefreshToken == "" {
		return "", nil
	}
	if !account.IsExpired(r.now(), ExpiryBuffer) {
		return account.AccessToken, nil
	}

	v, err, _ := r.group.Do(account.ID, func() (interface{}, error) {
		return r.refresh(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *TokenRefresher) refresh(ctx context.Context, account *authdomain.Account) (string, error) {
	log := logger.With("token-refresher")

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// An empty access token forces the source to hit the token endpoint.
	tok, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			log.Warn().Str("user_id", account.UserID).Int("status", status).Msg("refresh rejected by provider")
			return "", &authdomain.TokenRefreshError{StatusCode: status, Body: string(retrieveErr.Body)}
		}
		return "", &authdomain.TokenRefreshError{Body: err.Error()}
	}

	updated := *account
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = r.now().Add(DefaultTokenLifetime)
	}
	updated.ExpiresAt = expiry.Unix()
	if tok.TokenType != "" {
		updated.TokenType = tok.TokenType
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		updated.IDToken = idToken
	}

	if err := r.accounts.Save(ctx, &updated); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	log.Debug().Str("user_id", account.UserID).Time("expires_at", expiry).Msg("access token refreshed")
	return updated.AccessToken, nil
}
