package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	authrepo "mailsync-backend/internal/auth/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/logger"

	"github.com/goccy/go-json"
)

// GmailNotification is the payload Gmail publishes on mailbox changes.
type GmailNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

type Syncer interface {
	IncrementalSyncByEmail(ctx context.Context, email string) ([]usecase.AccountSyncResult, error)
}

type Pusher interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// Dispatcher turns mailbox notifications into incremental syncs and pushes
// a device notification to users who received new mail.
type Dispatcher struct {
	syncer  Syncer
	fcmRepo authrepo.FCMTokenRepository
	pusher  Pusher

	mu            sync.Mutex
	lastHistoryID map[string]string
}

// NewDispatcher builds a Dispatcher. pusher may be nil to disable device notifications.
func NewDispatcher(syncer Syncer, fcmRepo authrepo.FCMTokenRepository, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		syncer:        syncer,
		fcmRepo:       fcmRepo,
		pusher:        pusher,
		lastHistoryID: make(map[string]string),
	}
}

// Handle processes one raw notification. Notifications at or below the last
// history id synced for the mailbox are skipped. A history id is only
// recorded once every account on the mailbox synced cleanly, so a
// redelivered notification after a failure syncs again.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) error {
	log := logger.With("notification")

	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(n.EmailAddress))
	if email == "" {
		return fmt.Errorf("notification without email address")
	}

	historyID := n.HistoryID.String()
	if d.alreadySynced(email, historyID) {
		log.Debug().Str("account", email).Str("history_id", historyID).Msg("duplicate notification skipped")
		return nil
	}

	results, err := d.syncer.IncrementalSyncByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("sync %s: %w", email, err)
	}

	clean := true
	for _, r := range results {
		if r.Err != nil {
			clean = false
			continue
		}
		if r.Result == nil || r.Result.Synced == 0 {
			continue
		}
		d.notifyNewMail(ctx, r.UserID, r.Result)
	}
	if clean {
		d.recordSynced(email, historyID)
	}
	return nil
}

func (d *Dispatcher) alreadySynced(email, historyID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastHistoryID[email]
	return ok && emaildomain.CompareHistoryIDs(historyID, last) <= 0
}

func (d *Dispatcher) recordSynced(email, historyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastHistoryID[email]; ok && emaildomain.CompareHistoryIDs(historyID, last) <= 0 {
		return
	}
	d.lastHistoryID[email] = historyID
}

func (d *Dispatcher) notifyNewMail(ctx context.Context, userID string, result *emaildomain.SyncResult) {
	if d.pusher == nil || d.fcmRepo == nil {
		return
	}
	log := logger.With("notification").With().Str("user_id", userID).Logger()

	tokens, err := d.fcmRepo.GetTokensByUserID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load device tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	body := "You have a new email"
	if result.Synced > 1 {
		body = fmt.Sprintf("You have %d new emails", result.Synced)
	}
	stale, err := d.pusher.SendToDevices(ctx, tokenStrings, fcm.NotificationData{
		Title: "New mail",
		Body:  body,
		Data: map[string]string{
			"type":       "new_mail",
			"count":      strconv.Itoa(result.Synced),
			"history_id": result.HistoryID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("push notification failed")
		return
	}

	if len(stale) > 0 {
		if err := d.fcmRepo.DeleteTokens(ctx, stale); err != nil {
			log.Warn().Err(err).Msg("failed to remove stale device tokens")
		}
	}
}
