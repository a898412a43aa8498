package repository

import (
	"context"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

// MailRepository persists the local mirror. Every write is scoped to one
// (user, account) mailbox and is idempotent.
type MailRepository interface {
	// UpsertThread creates the thread if missing, otherwise advances subject,
	// snippet and LastMessageDate when thread.LastMessageDate is strictly newer.
	UpsertThread(ctx context.Context, scope emaildomain.Scope, thread *emaildomain.Thread) error
	IncrementThreadMessageCount(ctx context.Context, scope emaildomain.Scope, threadID string) error
	// RefreshThreadFlags recomputes unread, starred and important from member messages.
	RefreshThreadFlags(ctx context.Context, scope emaildomain.Scope, threadID string) error
	FindThreadLastMessageDate(ctx context.Context, scope emaildomain.Scope, threadID string) (*time.Time, error)

	// UpsertMessage reports whether the message row was newly created.
	UpsertMessage(ctx context.Context, scope emaildomain.Scope, msg *emaildomain.Message) (bool, error)
	UpsertAttachment(ctx context.Context, scope emaildomain.Scope, att *emaildomain.Attachment) error
	// DeleteMessage removes a message and its attachments; deleting a missing
	// message is not an error.
	DeleteMessage(ctx context.Context, scope emaildomain.Scope, messageID string) (bool, error)

	GetSyncState(ctx context.Context, scope emaildomain.Scope) (*emaildomain.SyncState, error)
	UpsertSyncState(ctx context.Context, state *emaildomain.SyncState) error
	// ClaimSync atomically sets IsSyncing when it is unset or its lease has
	// expired. It reports false when another run holds the claim.
	ClaimSync(ctx context.Context, scope emaildomain.Scope, now time.Time, lease time.Duration) (bool, error)
	// ReleaseSync clears IsSyncing and records lastErr (nil clears it).
	ReleaseSync(ctx context.Context, scope emaildomain.Scope, lastErr *string) error
	// AdvanceCursor stores historyID only if it is greater than the current one.
	AdvanceCursor(ctx context.Context, scope emaildomain.Scope, historyID string) error
	MarkSynced(ctx context.Context, scope emaildomain.Scope, at time.Time) error

	ListMessages(ctx context.Context, userID string, q MessageQuery) ([]*emaildomain.Message, int64, error)
	GetMessage(ctx context.Context, userID, messageID string) (*emaildomain.Message, []*emaildomain.Attachment, error)
	ListThreads(ctx context.Context, userID string, limit, offset int) ([]*emaildomain.Thread, int64, error)
	ListSyncStates(ctx context.Context, userID string) ([]*emaildomain.SyncState, error)
}

type MessageQuery struct {
	AccountEmail string
	LabelID      string
	ThreadID     string
	UnreadOnly   bool
	Limit        int
	Offset       int
}
