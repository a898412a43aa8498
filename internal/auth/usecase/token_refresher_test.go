package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"

	"golang.org/x/oauth2"
)

var refresherNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type tokenServer struct {
	*httptest.Server
	calls            int32
	lastRefreshToken atomic.Value
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected grant_type=refresh_token, got %q", got)
		}
		ts.lastRefreshToken.Store(r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestRefresher(repo *fakeAccountRepo, tokenURL string) *TokenRefresher {
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	return NewTokenRefresher(repo, cfg, WithClock(func() time.Time { return refresherNow }))
}

func googleAccount(expiresIn time.Duration) *authdomain.Account {
	return &authdomain.Account{
		ID:                "acc-1",
		UserID:            "user-1",
		Provider:          authdomain.ProviderGoogle,
		ProviderAccountID: "sub-1",
		AccessToken:       "old-access",
		RefreshToken:      "old-refresh",
		ExpiresAt:         refresherNow.Add(expiresIn).Unix(),
	}
}

func TestGetValidAccessToken_NoCredential(t *testing.T) {
	r := newTestRefresher(newFakeAccountRepo(), "http://unused")

	tok, err := r.GetValidAccessToken(context.Background(), "user-1", "google")
	if err != nil || tok != "" {
		t.Fatalf("expected empty token and nil error, got %q, %v", tok, err)
	}
}

func TestGetValidAccessToken_NoRefreshToken(t *testing.T) {
	a := googleAccount(time.Hour)
	a.RefreshToken = ""
	r := newTestRefresher(newFakeAccountRepo(a), "http://unused")

	tok, err := r.GetValidAccessToken(context.Background(), "user-1", "google")
	if err != nil || tok != "" {
		t.Fatalf("expected empty token and nil error, got %q, %v", tok, err)
	}
}

func TestGetValidAccessToken_FreshTokenNotRefreshed(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	repo := newFakeAccountRepo(googleAccount(2 * time.Minute))
	r := newTestRefresher(repo, ts.URL)

	tok, err := r.GetValidAccessToken(context.Background(), "user-1", "google")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "old-access" {
		t.Fatalf("expected stored token, got %q", tok)
	}
	if atomic.LoadInt32(&ts.calls) != 0 {
		t.Fatal("expected no token endpoint call")
	}
}

func TestGetValidAccessToken_RefreshesInsideBuffer(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600,"refresh_token":"new-refresh"}`)
	repo := newFakeAccountRepo(googleAccount(30 * time.Second))
	r := newTestRefresher(repo, ts.URL)

	tok, err := r.GetValidAccessToken(context.Background(), "user-1", "google")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "new-access" {
		t.Fatalf("expected new-access, got %q", tok)
	}
	if got := ts.lastRefreshToken.Load(); got != "old-refresh" {
		t.Fatalf("expected refresh grant with old-refresh, got %v", got)
	}

	stored := repo.get("acc-1")
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Fatalf("expected rotated tokens persisted, got %q / %q", stored.AccessToken, stored.RefreshToken)
	}
	if stored.ExpiresAt <= refresherNow.Unix() {
		t.Fatalf("expected expiry in the future, got %d", stored.ExpiresAt)
	}
}

func TestGetValidAccessToken_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`)
	repo := newFakeAccountRepo(googleAccount(-time.Hour))
	r := newTestRefresher(repo, ts.URL)

	if _, err := r.GetValidAccessToken(context.Background(), "user-1", "google"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.get("acc-1")
	if stored.RefreshToken != "old-refresh" {
		t.Fatalf("expected old refresh token kept, got %q", stored.RefreshToken)
	}
	if stored.AccessToken != "new-access" {
		t.Fatalf("expected new access token, got %q", stored.AccessToken)
	}
}

func TestGetValidAccessToken_RefreshFailureLeavesStateUntouched(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	repo := newFakeAccountRepo(googleAccount(-time.Minute))
	r := newTestRefresher(repo, ts.URL)

	_, err := r.GetValidAccessToken(context.Background(), "user-1", "google")

	var refreshErr *authdomain.TokenRefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected TokenRefreshError, got %v", err)
	}
	if refreshErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", refreshErr.StatusCode)
	}
	if repo.saves != 0 {
		t.Fatalf("expected no writes, got %d", repo.saves)
	}
	if stored := repo.get("acc-1"); stored.AccessToken != "old-access" || stored.RefreshToken != "old-refresh" {
		t.Fatal("expected stored credential unchanged")
	}
}

func TestGetValidAccessToken_MissingExpiryUsesDefaultLifetime(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access","token_type":"Bearer"}`)
	repo := newFakeAccountRepo(googleAccount(-time.Minute))
	r := newTestRefresher(repo, ts.URL)

	if _, err := r.GetValidAccessToken(context.Background(), "user-1", "google"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := refresherNow.Add(DefaultTokenLifetime).Unix()
	if got := repo.get("acc-1").ExpiresAt; got != want {
		t.Fatalf("expected expiry %d, got %d", want, got)
	}

	tok, err := r.GetValidAccessToken(context.Background(), "user-1", "google")
	if err != nil || tok != "new-access" {
		t.Fatalf("expected cached token, got %q, %v", tok, err)
	}
	if calls := atomic.LoadInt32(&ts.calls); calls != 1 {
		t.Fatalf("expected a single token endpoint call, got %d", calls)
	}
}

func TestAccessTokenForAccount_SeparatesMailboxesOfOneUser(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	work := googleAccount(time.Hour)
	personal := googleAccount(time.Hour)
	personal.ID = "acc-2"
	personal.ProviderAccountID = "sub-2"
	personal.AccessToken = "personal-access"
	r := newTestRefresher(newFakeAccountRepo(work, personal), ts.URL)

	for id, want := range map[string]string{"acc-1": "old-access", "acc-2": "personal-access"} {
		tok, err := r.AccessTokenForAccount(context.Background(), id)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id, err)
		}
		if tok != want {
			t.Fatalf("%s: expected %q, got %q", id, want, tok)
		}
	}

	tok, err := r.AccessTokenForAccount(context.Background(), "acc-missing")
	if err != nil || tok != "" {
		t.Fatalf("expected empty token for unknown account, got %q, %v", tok, err)
	}
}
