package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	authdto "mailsync-backend/internal/auth/dto"
	"mailsync-backend/pkg/config"

	"golang.org/x/oauth2"
)

type recordingListener struct {
	linked []*authdomain.Account
}

func (l *recordingListener) AccountLinked(_ context.Context, a *authdomain.Account) {
	l.linked = append(l.linked, a)
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
	}
}

func newCodeExchangeServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAuthUsecase(users *fakeUserRepo, accounts *fakeAccountRepo, tokenURL string) *authUsecase {
	oauthCfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	u := NewAuthUsecase(users, accounts, nil, oauthCfg, testConfig())
	u.SetUserInfoFetcher(func(context.Context, *oauth2.Token) (*GoogleUserInfo, error) {
		return &GoogleUserInfo{Sub: "sub-1", Email: "alice@example.com", Name: "Alice", EmailVerified: true}, nil
	})
	return u
}

func TestGoogleCallback_CreatesUserAndCredential(t *testing.T) {
	srv := newCodeExchangeServer(t, `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`)
	users := newFakeUserRepo()
	accounts := newFakeAccountRepo()
	listener := &recordingListener{}
	u := newTestAuthUsecase(users, accounts, srv.URL)
	u.SetLinkListener(listener)

	resp, err := u.GoogleCallback(context.Background(), "auth-code", "")
	if err != nil {
		t.Fatalf("GoogleCallback: %v", err)
	}
	if resp.User == nil || resp.User.Email != "alice@example.com" {
		t.Fatalf("expected alice to be signed in, got %+v", resp.User)
	}

	account, _ := accounts.Load(context.Background(), "google", "sub-1")
	if account == nil {
		t.Fatal("expected stored credential")
	}
	if account.RefreshToken != "rt" || account.Email != "alice@example.com" || account.UserID != resp.User.ID {
		t.Fatalf("unexpected credential: %+v", account)
	}
	if len(listener.linked) != 1 {
		t.Fatalf("expected link listener to fire once, got %d", len(listener.linked))
	}
}

func TestGoogleCallback_KeepsRefreshTokenOnRelink(t *testing.T) {
	srv := newCodeExchangeServer(t, `{"access_token":"at2","token_type":"Bearer","expires_in":3600}`)
	users := newFakeUserRepo(&authdomain.User{ID: "u1", Email: "alice@example.com"})
	accounts := newFakeAccountRepo(&authdomain.Account{ID: "acc-1", UserID: "u1", Provider: "google", ProviderAccountID: "sub-1", RefreshToken: "rt-original"})
	u := newTestAuthUsecase(users, accounts, srv.URL)

	if _, err := u.GoogleCallback(context.Background(), "auth-code", ""); err != nil {
		t.Fatalf("GoogleCallback: %v", err)
	}

	stored := accounts.get("acc-1")
	if stored.RefreshToken != "rt-original" || stored.AccessToken != "at2" {
		t.Fatalf("expected refresh token kept and access token replaced, got %+v", stored)
	}
}

func TestUnlinkAccount_RefusesLastSignInMethod(t *testing.T) {
	users := newFakeUserRepo(&authdomain.User{ID: "u1", Email: "a@example.com"})
	accounts := newFakeAccountRepo(&authdomain.Account{ID: "acc-1", UserID: "u1", Provider: "google", ProviderAccountID: "sub-1"})
	u := newTestAuthUsecase(users, accounts, "http://unused")

	err := u.UnlinkAccount(context.Background(), "u1", "acc-1")
	if !errors.Is(err, authdomain.ErrLastSignInMethod) {
		t.Fatalf("expected ErrLastSignInMethod, got %v", err)
	}
	if a, _ := accounts.FindByID(context.Background(), "acc-1"); a == nil {
		t.Fatal("expected account to remain")
	}
}

func TestUnlinkAccount_AllowedWithPassword(t *testing.T) {
	users := newFakeUserRepo(&authdomain.User{ID: "u1", Email: "a@example.com", Password: "hash"})
	accounts := newFakeAccountRepo(&authdomain.Account{ID: "acc-1", UserID: "u1", Provider: "google", ProviderAccountID: "sub-1"})
	u := newTestAuthUsecase(users, accounts, "http://unused")

	if err := u.UnlinkAccount(context.Background(), "u1", "acc-1"); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}
	if a, _ := accounts.FindByID(context.Background(), "acc-1"); a != nil {
		t.Fatal("expected account to be deleted")
	}
}

func TestUnlinkAccount_OtherUsersAccount(t *testing.T) {
	users := newFakeUserRepo(&authdomain.User{ID: "u1", Password: "hash"})
	accounts := newFakeAccountRepo(&authdomain.Account{ID: "acc-2", UserID: "u2", Provider: "google", ProviderAccountID: "sub-2"})
	u := newTestAuthUsecase(users, accounts, "http://unused")

	if err := u.UnlinkAccount(context.Background(), "u1", "acc-2"); !errors.Is(err, authdomain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestValidateToken_RejectsRefreshToken(t *testing.T) {
	users := newFakeUserRepo()
	u := newTestAuthUsecase(users, newFakeAccountRepo(), "http://unused")

	resp, err := u.Register(&authdto.RegisterRequest{Email: "b@example.com", Password: "secret1", Name: "B"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := u.ValidateToken(resp.AccessToken); err != nil {
		t.Fatalf("expected access token to validate, got %v", err)
	}
	if _, err := u.ValidateToken(resp.RefreshToken); err == nil {
		t.Fatal("expected refresh token to be rejected as an access token")
	}
}
