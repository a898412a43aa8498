package usecase

import (
	"context"
	"fmt"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/logger"
	"mailsync-backend/pkg/metrics"

	"github.com/rs/zerolog"
	gmailapi "google.golang.org/api/gmail/v1"
)

const (
	// InitialSyncQuery bounds a first full sync that has no explicit query.
	InitialSyncQuery = "newer_than:30d"

	DefaultMaxMessages = 100
	DefaultSyncLease   = 30 * time.Minute

	listPageSize = 100
)

// MailProvider is the remote mailbox API the engine reads from. *gmail.Client
// implements it.
type MailProvider interface {
	ListMessages(ctx context.Context, query, pageToken string, maxResults int64) (*gmail.MessageList, error)
	GetMessage(ctx context.Context, id string) (*gmailapi.Message, error)
	BatchGetMessages(ctx context.Context, ids []string) []gmail.BatchResult
	ListHistory(ctx context.Context, startHistoryID, pageToken string, historyTypes []string) (*emaildomain.HistoryPage, error)
	GetProfile(ctx context.Context) (*gmail.Profile, error)
}

// SyncEngine mirrors one (user, account) mailbox into the repository.
type SyncEngine struct {
	repo     repository.MailRepository
	provider MailProvider
	scope    emaildomain.Scope
	lease    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type EngineOption func(*SyncEngine)

// WithLease sets how long a sync claim is honoured before another run may take it over.
func WithLease(d time.Duration) EngineOption {
	return func(e *SyncEngine) {
		if d > 0 {
			e.lease = d
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *SyncEngine) { e.now = now }
}

func NewSyncEngine(repo repository.MailRepository, provider MailProvider, scope emaildomain.Scope, opts ...EngineOption) *SyncEngine {
	e := &SyncEngine{
		repo:     repo,
		provider: provider,
		scope:    scope,
		lease:    DefaultSyncLease,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.With("sync").With().
		Str("user_id", scope.UserID).
		Str("account", scope.AccountEmail).
		Logger()
	return e
}

// SyncMessages runs a full sync: list, fetch, parse and store up to
// opts.MaxMessages messages. The cursor is set to the highest history id seen.
func (e *SyncEngine) SyncMessages(ctx context.Context, opts emaildomain.SyncOptions) (*emaildomain.SyncResult, error) {
	return e.run(ctx, emaildomain.SyncModeFull, func(ctx context.Context) (*emaildomain.SyncResult, error) {
		return e.fullSync(ctx, opts)
	})
}

// IncrementalSync applies history since the stored cursor, falling back to
// an initial full sync when there is no usable cursor.
func (e *SyncEngine) IncrementalSync(ctx context.Context, maxMessages int) (*emaildomain.SyncResult, error) {
	return e.run(ctx, emaildomain.SyncModeIncremental, func(ctx context.Context) (*emaildomain.SyncResult, error) {
		return e.incrementalSync(ctx, maxMessages)
	})
}

// run holds the account's sync claim for the duration of fn and always
// releases it, recording the error message if fn failed.
func (e *SyncEngine) run(ctx context.Context, mode string, fn func(context.Context) (*emaildomain.SyncResult, error)) (result *emaildomain.SyncResult, err error) {
	started := e.now()

	claimed, err := e.repo.ClaimSync(ctx, e.scope, started, e.lease)
	if err != nil {
		return nil, err
	}
	if !claimed {
		metrics.ObserveSync(mode, "skipped", started)
		return nil, emaildomain.ErrSyncInProgress
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}

		var lastErr *string
		if err != nil {
			msg := err.Error()
			lastErr = &msg
		}
		// The caller's context may already be cancelled; the claim must still be released.
		if relErr := e.repo.ReleaseSync(context.WithoutCancel(ctx), e.scope, lastErr); relErr != nil {
			e.log.Error().Err(relErr).Msg("failed to release sync claim")
			if err == nil {
				err = relErr
			}
		}

		outcome := "success"
		if err != nil {
			outcome = "error"
			e.log.Error().Err(err).Str("mode", mode).Msg("sync failed")
		}
		metrics.ObserveSync(mode, outcome, started)
	}()

	result, err = fn(ctx)
	if err != nil {
		return result, err
	}
	if err = e.repo.MarkSynced(ctx, e.scope, e.now()); err != nil {
		return result, err
	}

	e.log.Info().
		Str("mode", result.Mode).
		Int("synced", result.Synced).
		Int("errors", result.Errors).
		Int("deleted", result.Deleted).
		Int("updated", result.Updated).
		Str("history_id", result.HistoryID).
		Dur("took", e.now().Sub(started)).
		Msg("sync finished")
	return result, nil
}

func (e *SyncEngine) fullSync(ctx context.Context, opts emaildomain.SyncOptions) (*emaildomain.SyncResult, error) {
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	query := opts.Query
	if opts.IsInitialSync && query == "" {
		query = InitialSyncQuery
	}

	result := &emaildomain.SyncResult{Mode: emaildomain.SyncModeFull}
	var highest string
	remaining := maxMessages
	pageToken := ""

	for remaining > 0 {
		pageSize := listPageSize
		if remaining < pageSize {
			pageSize = remaining
		}

		list, err := e.provider.ListMessages(ctx, query, pageToken, int64(pageSize))
		if err != nil {
			return result, err
		}
		if len(list.Messages) == 0 {
			break
		}

		ids := make([]string, 0, len(list.Messages))
		for _, m := range list.Messages {
			ids = append(ids, m.ID)
		}
		if len(ids) > remaining {
			ids = ids[:remaining]
		}

		batch := e.fetchAndStore(ctx, ids)
		result.Synced += batch.stored
		result.Errors += batch.failed
		highest = emaildomain.MaxHistoryID(highest, batch.highest)

		remaining -= len(ids)
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	if highest == "" {
		// Nothing stored; take the mailbox's current position so the next
		// run can go incremental.
		profile, err := e.provider.GetProfile(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("could not read profile history id")
		} else {
			highest = profile.HistoryID
		}
	}

	if err := e.repo.AdvanceCursor(ctx, e.scope, highest); err != nil {
		return result, err
	}
	result.HistoryID = highest
	return result, nil
}

func (e *SyncEngine) incrementalSync(ctx context.Context, maxMessages int) (*emaildomain.SyncResult, error) {
	state, err := e.repo.GetSyncState(ctx, e.scope)
	if err != nil {
		return nil, err
	}
	if state == nil || state.HistoryID == "" {
		e.log.Info().Msg("no history cursor, running initial full sync")
		return e.fullSync(ctx, emaildomain.SyncOptions{MaxMessages: maxMessages, IsInitialSync: true})
	}

	result := &emaildomain.SyncResult{Mode: emaildomain.SyncModeIncremental, HistoryID: state.HistoryID}
	start := state.HistoryID
	pageToken := ""
	fetched := 0

	for {
		page, err := e.provider.ListHistory(ctx, start, pageToken, gmail.HistoryTypes)
		if err != nil {
			if pageToken == "" && gmail.IsNotFound(err) {
				return e.recoverExpiredCursor(ctx, state, maxMessages)
			}
			return result, err
		}

		for _, record := range page.Records {
			fetched += e.applyRecord(ctx, record, result)
		}

		// Only advance once every record of the page has been applied.
		if page.HistoryID != "" {
			if err := e.repo.AdvanceCursor(ctx, e.scope, page.HistoryID); err != nil {
				return result, err
			}
			result.HistoryID = emaildomain.MaxHistoryID(result.HistoryID, page.HistoryID)
		}

		if page.NextPageToken == "" {
			break
		}
		if maxMessages > 0 && fetched >= maxMessages {
			e.log.Info().Int("fetched", fetched).Msg("message budget reached, remaining history left for next run")
			break
		}
		pageToken = page.NextPageToken
	}

	return result, nil
}

// recoverExpiredCursor moves the cursor to the mailbox's current position
// and refetches recent mail. This is the only place the cursor moves
// backwards: messages already mirrored may carry ids below the expired
// cursor, so advancing from them alone would leave it expired.
func (e *SyncEngine) recoverExpiredCursor(ctx context.Context, state *emaildomain.SyncState, maxMessages int) (*emaildomain.SyncResult, error) {
	e.log.Warn().Str("history_id", state.HistoryID).Msg("history cursor expired, running initial full sync")

	// Read the position before listing so changes made during the full sync
	// are replayed by the next incremental run.
	profile, err := e.provider.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("read mailbox position: %w", err)
	}
	state.HistoryID = profile.HistoryID
	if err := e.repo.UpsertSyncState(ctx, state); err != nil {
		return nil, err
	}

	result, err := e.fullSync(ctx, emaildomain.SyncOptions{MaxMessages: maxMessages, IsInitialSync: true})
	if result != nil {
		result.HistoryID = emaildomain.MaxHistoryID(result.HistoryID, profile.HistoryID)
	}
	return result, err
}

// applyRecord applies one history record and returns how many messages it fetched.
func (e *SyncEngine) applyRecord(ctx context.Context, record emaildomain.HistoryRecord, result *emaildomain.SyncResult) int {
	var added, deleted, relabelled []string
	seen := map[string]bool{}

	for _, ev := range record.Events {
		switch ev.Kind {
		case emaildomain.MessageAdded:
			if !seen[ev.MessageID] {
				seen[ev.MessageID] = true
				added = append(added, ev.MessageID)
			}
		case emaildomain.MessageDeleted:
			deleted = append(deleted, ev.MessageID)
		}
	}
	for _, id := range deleted {
		seen[id] = true
	}
	// Label changes are a union over the record so each message is refetched once.
	for _, ev := range record.Events {
		if ev.Kind != emaildomain.LabelsAdded && ev.Kind != emaildomain.LabelsRemoved {
			continue
		}
		if !seen[ev.MessageID] {
			seen[ev.MessageID] = true
			relabelled = append(relabelled, ev.MessageID)
		}
	}

	if len(added) > 0 {
		batch := e.fetchAndStore(ctx, added)
		result.Synced += batch.stored
		result.Errors += batch.failed
		result.Deleted += batch.gone
	}

	for _, id := range deleted {
		removed, err := e.repo.DeleteMessage(ctx, e.scope, id)
		if err != nil {
			result.Errors++
			metrics.MessageErrors.Inc()
			e.log.Warn().Err(err).Str("message_id", id).Msg("failed to delete message")
			continue
		}
		if removed {
			result.Deleted++
			metrics.MessagesDeleted.Inc()
		}
	}

	if len(relabelled) > 0 {
		batch := e.fetchAndStore(ctx, relabelled)
		result.Updated += batch.stored
		result.Errors += batch.failed
		result.Deleted += batch.gone
	}

	return len(added) + len(relabelled)
}

type batchOutcome struct {
	stored  int
	failed  int
	gone    int
	highest string
}

// fetchAndStore fetches, parses and stores ids, isolating failures per
// message. Messages the provider no longer has are removed locally.
func (e *SyncEngine) fetchAndStore(ctx context.Context, ids []string) batchOutcome {
	var out batchOutcome

	for _, r := range e.provider.BatchGetMessages(ctx, ids) {
		if r.Err != nil {
			if gmail.IsNotFound(r.Err) {
				if removed, err := e.repo.DeleteMessage(ctx, e.scope, r.ID); err == nil && removed {
					out.gone++
					metrics.MessagesDeleted.Inc()
				}
				continue
			}
			out.failed++
			metrics.MessageErrors.Inc()
			e.log.Warn().Err(r.Err).Str("message_id", r.ID).Msg("failed to fetch message")
			continue
		}

		parsed, err := gmail.ParseMessage(r.Message)
		if err != nil {
			out.failed++
			metrics.MessageErrors.Inc()
			e.log.Warn().Err(err).Str("message_id", r.ID).Msg("failed to parse message")
			continue
		}

		if err := e.storeMessage(ctx, parsed); err != nil {
			out.failed++
			metrics.MessageErrors.Inc()
			e.log.Warn().Err(err).Str("message_id", r.ID).Msg("failed to store message")
			continue
		}

		out.stored++
		metrics.MessagesSynced.Inc()
		out.highest = emaildomain.MaxHistoryID(out.highest, parsed.HistoryID)
	}
	return out
}

// storeMessage writes thread, then message, then attachments. It is
// idempotent: storing the same message twice leaves one row and the same
// thread counters.
func (e *SyncEngine) storeMessage(ctx context.Context, p *emaildomain.ParsedMessage) error {
	last, err := e.repo.FindThreadLastMessageDate(ctx, e.scope, p.ThreadID)
	if err != nil {
		return err
	}
	if last == nil || p.Date.After(*last) {
		thread := &emaildomain.Thread{
			ID:              p.ThreadID,
			Subject:         p.Subject,
			Snippet:         p.Snippet,
			LastMessageDate: p.Date,
		}
		if err := e.repo.UpsertThread(ctx, e.scope, thread); err != nil {
			return err
		}
	}

	created, err := e.repo.UpsertMessage(ctx, e.scope, &emaildomain.Message{
		ID:        p.ID,
		ThreadID:  p.ThreadID,
		Subject:   p.Subject,
		From:      p.From,
		To:        p.To,
		Cc:        p.Cc,
		Bcc:       p.Bcc,
		Date:      p.Date,
		Snippet:   p.Snippet,
		BodyText:  p.BodyText,
		BodyHTML:  p.BodyHTML,
		LabelIDs:  p.LabelIDs,
		HistoryID: p.HistoryID,
		Flags:     p.Flags,
	})
	if err != nil {
		return err
	}

	for _, a := range p.Attachments {
		partID := a.PartID
		if partID == "" {
			partID = a.AttachmentID
		}
		err := e.repo.UpsertAttachment(ctx, e.scope, &emaildomain.Attachment{
			MessageID:    p.ID,
			PartID:       partID,
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			Size:         a.Size,
		})
		if err != nil {
			return err
		}
	}

	if created {
		if err := e.repo.IncrementThreadMessageCount(ctx, e.scope, p.ThreadID); err != nil {
			return err
		}
	}
	return e.repo.RefreshThreadFlags(ctx, e.scope, p.ThreadID)
}
