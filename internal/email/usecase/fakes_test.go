package usecase

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/gmail"

	gmailapi "google.golang.org/api/gmail/v1"
)

var testScope = emaildomain.Scope{UserID: "user-1", AccountEmail: "alice@example.com"}

func newTestRepo(t *testing.T) repository.MailRepository {
	t.Helper()
	db, err := database.NewSQLiteConnection(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db, &emaildomain.Message{}, &emaildomain.Attachment{}, &emaildomain.Thread{}, &emaildomain.SyncState{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewMailRepository(db)
}

// seedCursor stores a sync state row positioned at historyID.
func seedCursor(t *testing.T, repo repository.MailRepository, historyID string) {
	t.Helper()
	state := &emaildomain.SyncState{UserID: testScope.UserID, AccountEmail: testScope.AccountEmail, HistoryID: historyID}
	if err := repo.UpsertSyncState(context.Background(), state); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
}

func testMessage(id, threadID string, historyID uint64, date time.Time, labels ...string) *gmailapi.Message {
	return &gmailapi.Message{
		Id:           id,
		ThreadId:     threadID,
		HistoryId:    historyID,
		LabelIds:     labels,
		Snippet:      "snippet " + id,
		InternalDate: date.UnixMilli(),
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "Subject", Value: "subject " + id},
				{Name: "From", Value: "Bob <bob@example.com>"},
				{Name: "To", Value: "alice@example.com"},
				{Name: "Date", Value: date.Format(time.RFC1123Z)},
			},
			Body: &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("body " + id))},
		},
	}
}

type historyKey struct {
	start string
	token string
}

type historyResponse struct {
	page *emaildomain.HistoryPage
	err  error
}

// fakeProvider is an in-memory mailbox. ListMessages pages over listIDs
// using the offset as page token.
type fakeProvider struct {
	mu        sync.Mutex
	messages  map[string]*gmailapi.Message
	listIDs   []string
	listErr   error
	history   map[historyKey]historyResponse
	profile    *gmail.Profile
	profileErr error
	fetches   map[string]int
	queries   []string
	histCalls []historyKey
}

func newFakeProvider(msgs ...*gmailapi.Message) *fakeProvider {
	p := &fakeProvider{
		messages: map[string]*gmailapi.Message{},
		history:  map[historyKey]historyResponse{},
		fetches:  map[string]int{},
		profile:  &gmail.Profile{EmailAddress: "alice@example.com", HistoryID: "1"},
	}
	for _, m := range msgs {
		p.add(m)
	}
	return p
}

func (p *fakeProvider) add(m *gmailapi.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[m.Id] = m
	p.listIDs = append(p.listIDs, m.Id)
}

func (p *fakeProvider) setHistory(start, token string, page *emaildomain.HistoryPage, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[historyKey{start, token}] = historyResponse{page: page, err: err}
}

func (p *fakeProvider) fetchCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[id]
}

func (p *fakeProvider) ListMessages(_ context.Context, query, pageToken string, maxResults int64) (*gmail.MessageList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, query)
	if p.listErr != nil {
		return nil, p.listErr
	}

	offset := 0
	if pageToken != "" {
		offset, _ = strconv.Atoi(pageToken)
	}
	end := offset + int(maxResults)
	if end > len(p.listIDs) {
		end = len(p.listIDs)
	}

	list := &gmail.MessageList{ResultSizeEstimate: int64(len(p.listIDs))}
	for _, id := range p.listIDs[offset:end] {
		list.Messages = append(list.Messages, gmail.MessageRef{ID: id, ThreadID: p.messages[id].ThreadId})
	}
	if end < len(p.listIDs) {
		list.NextPageToken = strconv.Itoa(end)
	}
	return list, nil
}

func (p *fakeProvider) GetMessage(_ context.Context, id string) (*gmailapi.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches[id]++
	m, ok := p.messages[id]
	if !ok {
		return nil, &gmail.APIError{StatusCode: http.StatusNotFound, Body: "Requested entity was not found."}
	}
	return m, nil
}

func (p *fakeProvider) BatchGetMessages(ctx context.Context, ids []string) []gmail.BatchResult {
	results := make([]gmail.BatchResult, len(ids))
	for i, id := range ids {
		m, err := p.GetMessage(ctx, id)
		results[i] = gmail.BatchResult{ID: id, Message: m, Err: err}
	}
	return results
}

func (p *fakeProvider) ListHistory(_ context.Context, start, pageToken string, _ []string) (*emaildomain.HistoryPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := historyKey{start, pageToken}
	p.histCalls = append(p.histCalls, key)
	resp, ok := p.history[key]
	if !ok {
		return &emaildomain.HistoryPage{HistoryID: start}, nil
	}
	return resp.page, resp.err
}

func (p *fakeProvider) GetProfile(context.Context) (*gmail.Profile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return p.profile, nil
}

// fakeAccountRepo implements authrepo.AccountRepository over a slice.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts []*authdomain.Account
}

func (r *fakeAccountRepo) Save(_ context.Context, a *authdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, a)
	return nil
}

func (r *fakeAccountRepo) Load(_ context.Context, provider, providerAccountID string) (*authdomain.Account, error) {
	return r.find(func(a *authdomain.Account) bool {
		return a.Provider == provider && a.ProviderAccountID == providerAccountID
	}), nil
}

func (r *fakeAccountRepo) FindByID(_ context.Context, id string) (*authdomain.Account, error) {
	return r.find(func(a *authdomain.Account) bool { return a.ID == id }), nil
}

func (r *fakeAccountRepo) FindByUserAndProvider(_ context.Context, userID, provider string) (*authdomain.Account, error) {
	return r.find(func(a *authdomain.Account) bool { return a.UserID == userID && a.Provider == provider }), nil
}

func (r *fakeAccountRepo) ListByUser(_ context.Context, userID string) ([]*authdomain.Account, error) {
	return r.filter(func(a *authdomain.Account) bool { return a.UserID == userID }), nil
}

func (r *fakeAccountRepo) ListByProvider(_ context.Context, provider string) ([]*authdomain.Account, error) {
	return r.filter(func(a *authdomain.Account) bool { return a.Provider == provider }), nil
}

func (r *fakeAccountRepo) ListByEmail(_ context.Context, provider, email string) ([]*authdomain.Account, error) {
	return r.filter(func(a *authdomain.Account) bool {
		return a.Provider == provider && strings.EqualFold(a.Email, email)
	}), nil
}

func (r *fakeAccountRepo) Delete(context.Context, string) error { return nil }

func (r *fakeAccountRepo) find(match func(*authdomain.Account) bool) *authdomain.Account {
	if found := r.filter(match); len(found) > 0 {
		return found[0]
	}
	return nil
}

func (r *fakeAccountRepo) filter(match func(*authdomain.Account) bool) []*authdomain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*authdomain.Account
	for _, a := range r.accounts {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}
