package gmail

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/logger"
	"mailsync-backend/pkg/metrics"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	user = "me"

	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// HistoryTypes are the history record types the sync engine consumes.
var HistoryTypes = []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"}

// TokenProvider supplies a currently valid access token for a linked
// account. An empty token with a nil error means there is no usable
// credential.
type TokenProvider interface {
	AccessTokenForAccount(ctx context.Context, accountID string) (string, error)
}

// Service builds per-account Gmail clients.
type Service struct {
	tokens     TokenProvider
	endpoint   string
	httpClient *http.Client
	batchSize  int
	batchDelay time.Duration
}

type Option func(*Service)

// WithEndpoint points clients at another base URL, e.g. an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(s *Service) { s.endpoint = endpoint }
}

// WithHTTPClient sets the client whose transport carries API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithBatchPacing sets the batch-get chunk size and the pause between chunks.
func WithBatchPacing(size int, delay time.Duration) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
		if delay >= 0 {
			s.batchDelay = delay
		}
	}
}

func NewService(tokens TokenProvider, opts ...Option) *Service {
	s := &Service{
		tokens:     tokens,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForAccount returns a client acting on the linked account's mailbox. Every
// request asks the token provider for that account's bearer token, so
// refreshes happen mid-sync.
func (s *Service) ForAccount(ctx context.Context, account *authdomain.Account) (*Client, error) {
	base := http.DefaultTransport
	if s.httpClient != nil && s.httpClient.Transport != nil {
		base = s.httpClient.Transport
	}
	hc := &http.Client{
		Transport: &bearerTransport{base: base, tokens: s.tokens, account: account},
	}
	if s.httpClient != nil {
		hc.Timeout = s.httpClient.Timeout
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return &Client{
		srv:        srv,
		userID:     account.UserID,
		batchSize:  s.batchSize,
		batchDelay: s.batchDelay,
	}, nil
}

type bearerTransport struct {
	base    http.RoundTripper
	tokens  TokenProvider
	account *authdomain.Account
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.AccessTokenForAccount(req.Context(), t.account.ID)
	if err == nil && token == "" {
		err = &authdomain.AuthenticationError{UserID: t.account.UserID, Provider: authdomain.ProviderGoogle}
	}
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(r)
}

// Client is a Gmail API client bound to one linked account.
type Client struct {
	srv        *gmail.Service
	userID     string
	batchSize  int
	batchDelay time.Duration
}

type MessageRef struct {
	ID       string
	ThreadID string
}

type MessageList struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	HistoryID     string
}

// BatchResult is the outcome of fetching one id in BatchGetMessages.
type BatchResult struct {
	ID      string
	Message *gmail.Message
	Err     error
}

func (c *Client) ListMessages(ctx context.Context, query, pageToken string, maxResults int64) (*MessageList, error) {
	call := c.srv.Users.Messages.List(user).MaxResults(maxResults).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	observe("messages.list", err)
	if err != nil {
		return nil, wrapAPIError("list messages", err)
	}

	list := &MessageList{
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		list.Messages = append(list.Messages, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return list, nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, err := c.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	observe("messages.get", err)
	if err != nil {
		return nil, wrapAPIError("get message "+id, err)
	}
	return msg, nil
}

// BatchGetMessages fetches ids in sequential chunks, pausing between chunks
// to stay under the per-user rate limit. Ids inside a chunk are fetched
// concurrently. Results are in input order and carry per-id errors; the
// call itself only fails early if ctx is cancelled between chunks.
func (c *Client) BatchGetMessages(ctx context.Context, ids []string) []BatchResult {
	results := make([]BatchResult, len(ids))
	for i, id := range ids {
		results[i].ID = id
	}

	for start := 0; start < len(ids); start += c.batchSize {
		if start > 0 && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				for i := start; i < len(ids); i++ {
					results[i].Err = ctx.Err()
				}
				return results
			case <-time.After(c.batchDelay):
			}
		}

		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i].Message, results[i].Err = c.GetMessage(ctx, ids[i])
			}(i)
		}
		wg.Wait()
	}
	return results
}

// ListHistory returns one page of history after startHistoryID, converted to
// tagged events.
func (c *Client) ListHistory(ctx context.Context, startHistoryID, pageToken string, historyTypes []string) (*emaildomain.HistoryPage, error) {
	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("history id %q out of range for the Gmail API: %w", startHistoryID, err)
	}

	call := c.srv.Users.History.List(user).StartHistoryId(start).Context(ctx)
	if len(historyTypes) > 0 {
		call = call.HistoryTypes(historyTypes...)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	observe("history.list", err)
	if err != nil {
		return nil, wrapAPIError("list history", err)
	}
	return convertHistory(resp), nil
}

func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	p, err := c.srv.Users.GetProfile(user).Context(ctx).Do()
	observe("users.getProfile", err)
	if err != nil {
		return nil, wrapAPIError("get profile", err)
	}
	return &Profile{
		EmailAddress:  p.EmailAddress,
		MessagesTotal: p.MessagesTotal,
		HistoryID:     formatHistoryID(p.HistoryId),
	}, nil
}

// Watch (re)starts push notifications for the mailbox on a Pub/Sub topic.
func (c *Client) Watch(ctx context.Context, topicName string) (string, error) {
	log := logger.With("gmail")

	// Only one watch per user is allowed; clear any previous one first.
	if err := c.Stop(ctx); err != nil {
		log.Debug().Err(err).Str("user_id", c.userID).Msg("no previous watch to stop")
	}

	resp, err := c.srv.Users.Watch(user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	observe("users.watch", err)
	if err != nil {
		return "", wrapAPIError("watch mailbox", err)
	}
	log.Info().Str("user_id", c.userID).Int64("expiration", resp.Expiration).Msg("gmail watch started")
	return formatHistoryID(resp.HistoryId), nil
}

// Stop ends push notifications for the mailbox.
func (c *Client) Stop(ctx context.Context) error {
	err := c.srv.Users.Stop(user).Context(ctx).Do()
	observe("users.stop", err)
	return wrapAPIError("stop watch", err)
}

// convertHistory turns a Gmail history page into tagged events. On
// intermediate pages Gmail reports the mailbox's current history id, which
// would skip unread pages if used as a cursor, so the highest record id of
// the page is used instead.
func convertHistory(resp *gmail.ListHistoryResponse) *emaildomain.HistoryPage {
	page := &emaildomain.HistoryPage{NextPageToken: resp.NextPageToken}

	var highest uint64
	for _, h := range resp.History {
		if h.Id > highest {
			highest = h.Id
		}
		record := emaildomain.HistoryRecord{ID: formatHistoryID(h.Id)}
		for _, added := range h.MessagesAdded {
			if added.Message != nil {
				record.Events = append(record.Events, emaildomain.HistoryEvent{
					Kind: emaildomain.MessageAdded, MessageID: added.Message.Id, ThreadID: added.Message.ThreadId,
				})
			}
		}
		for _, deleted := range h.MessagesDeleted {
			if deleted.Message != nil {
				record.Events = append(record.Events, emaildomain.HistoryEvent{
					Kind: emaildomain.MessageDeleted, MessageID: deleted.Message.Id, ThreadID: deleted.Message.ThreadId,
				})
			}
		}
		for _, la := range h.LabelsAdded {
			if la.Message != nil {
				record.Events = append(record.Events, emaildomain.HistoryEvent{
					Kind: emaildomain.LabelsAdded, MessageID: la.Message.Id, ThreadID: la.Message.ThreadId, LabelIDs: la.LabelIds,
				})
			}
		}
		for _, lr := range h.LabelsRemoved {
			if lr.Message != nil {
				record.Events = append(record.Events, emaildomain.HistoryEvent{
					Kind: emaildomain.LabelsRemoved, MessageID: lr.Message.Id, ThreadID: lr.Message.ThreadId, LabelIDs: lr.LabelIds,
				})
			}
		}
		page.Records = append(page.Records, record)
	}

	switch {
	case resp.NextPageToken == "":
		page.HistoryID = formatHistoryID(resp.HistoryId)
	case highest > 0:
		page.HistoryID = formatHistoryID(highest)
	}
	return page
}

func formatHistoryID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

func observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProviderRequests.WithLabelValues(op, status).Inc()
}
