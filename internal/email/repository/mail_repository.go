package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type mailRepository struct {
	db *gorm.DB
}

func NewMailRepository(db *gorm.DB) MailRepository {
	return &mailRepository{db: db}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &emaildomain.PersistenceError{Op: op, Err: err}
}

func (r *mailRepository) UpsertThread(ctx context.Context, scope emaildomain.Scope, thread *emaildomain.Thread) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing emaildomain.Thread
		err := tx.Where("user_id = ? AND id = ?", scope.UserID, thread.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := *thread
			row.UserID = scope.UserID
			row.AccountEmail = scope.AccountEmail
			row.MessageCount = 0
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		if !thread.LastMessageDate.After(existing.LastMessageDate) {
			return nil
		}
		return tx.Model(&emaildomain.Thread{}).
			Where("user_id = ? AND id = ?", scope.UserID, thread.ID).
			Updates(map[string]interface{}{
				"subject":           thread.Subject,
				"snippet":           thread.Snippet,
				"last_message_date": thread.LastMessageDate,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
	return wrap("upsert thread", err)
}

func (r *mailRepository) IncrementThreadMessageCount(ctx context.Context, scope emaildomain.Scope, threadID string) error {
	err := r.db.WithContext(ctx).Model(&emaildomain.Thread{}).
		Where("user_id = ? AND id = ?", scope.UserID, threadID).
		UpdateColumn("message_count", gorm.Expr("message_count + ?", 1)).Error
	return wrap("increment thread count", err)
}

func (r *mailRepository) RefreshThreadFlags(ctx context.Context, scope emaildomain.Scope, threadID string) error {
	var agg struct {
		Unread    int64
		Starred   int64
		Important int64
	}
	err := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Select(
			"COALESCE(SUM(CASE WHEN is_read THEN 0 ELSE 1 END), 0) AS unread, "+
				"COALESCE(SUM(CASE WHEN is_starred THEN 1 ELSE 0 END), 0) AS starred, "+
				"COALESCE(SUM(CASE WHEN is_important THEN 1 ELSE 0 END), 0) AS important").
		Where("user_id = ? AND thread_id = ?", scope.UserID, threadID).
		Scan(&agg).Error
	if err != nil {
		return wrap("aggregate thread flags", err)
	}

	err = r.db.WithContext(ctx).Model(&emaildomain.Thread{}).
		Where("user_id = ? AND id = ?", scope.UserID, threadID).
		Updates(map[string]interface{}{
			"has_unread":   agg.Unread > 0,
			"is_starred":   agg.Starred > 0,
			"is_important": agg.Important > 0,
		}).Error
	return wrap("update thread flags", err)
}

func (r *mailRepository) FindThreadLastMessageDate(ctx context.Context, scope emaildomain.Scope, threadID string) (*time.Time, error) {
	var thread emaildomain.Thread
	err := r.db.WithContext(ctx).Select("last_message_date").
		Where("user_id = ? AND id = ?", scope.UserID, threadID).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find thread date", err)
	}
	return &thread.LastMessageDate, nil
}

func (r *mailRepository) UpsertMessage(ctx context.Context, scope emaildomain.Scope, msg *emaildomain.Message) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := *msg
		row.UserID = scope.UserID
		row.AccountEmail = scope.AccountEmail
		now := time.Now().UTC()
		row.UpdatedAt = now

		var count int64
		if err := tx.Model(&emaildomain.Message{}).Where("user_id = ? AND id = ?", scope.UserID, msg.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			created = true
			row.CreatedAt = now
			return tx.Create(&row).Error
		}
		return tx.Model(&emaildomain.Message{}).
			Where("user_id = ? AND id = ?", scope.UserID, msg.ID).
			Select("*").Omit("user_id", "id", "created_at").
			Updates(&row).Error
	})
	if err != nil {
		return false, wrap("upsert message", err)
	}
	return created, nil
}

func (r *mailRepository) UpsertAttachment(ctx context.Context, scope emaildomain.Scope, att *emaildomain.Attachment) error {
	row := *att
	row.UserID = scope.UserID
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}, {Name: "part_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"attachment_id", "filename", "mime_type", "size", "updated_at"}),
	}).Create(&row).Error
	return wrap("upsert attachment", err)
}

func (r *mailRepository) DeleteMessage(ctx context.Context, scope emaildomain.Scope, messageID string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND message_id = ?", scope.UserID, messageID).Delete(&emaildomain.Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("user_id = ? AND id = ?", scope.UserID, messageID).Delete(&emaildomain.Message{})
		deleted = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return false, wrap("delete message", err)
	}
	return deleted, nil
}

func (r *mailRepository) GetSyncState(ctx context.Context, scope emaildomain.Scope) (*emaildomain.SyncState, error) {
	var state emaildomain.SyncState
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get sync state", err)
	}
	return &state, nil
}

func (r *mailRepository) UpsertSyncState(ctx context.Context, state *emaildomain.SyncState) error {
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "account_email"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sync_at", "history_id", "is_syncing", "sync_started_at", "last_error", "updated_at"}),
	}).Create(state).Error
	return wrap("upsert sync state", err)
}

func (r *mailRepository) ClaimSync(ctx context.Context, scope emaildomain.Scope, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	db := r.db.WithContext(ctx)

	seed := &emaildomain.SyncState{UserID: scope.UserID, AccountEmail: scope.AccountEmail, CreatedAt: now, UpdatedAt: now}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return false, wrap("seed sync state", err)
	}

	res := db.Model(&emaildomain.SyncState{}).
		Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).
		Where("is_syncing = ? OR sync_started_at IS NULL OR sync_started_at < ?", false, now.Add(-lease)).
		Updates(map[string]interface{}{
			"is_syncing":      true,
			"sync_started_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, wrap("claim sync", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *mailRepository) ReleaseSync(ctx context.Context, scope emaildomain.Scope, lastErr *string) error {
	err := r.db.WithContext(ctx).Model(&emaildomain.SyncState{}).
		Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).
		Updates(map[string]interface{}{
			"is_syncing":      false,
			"sync_started_at": nil,
			"last_error":      lastErr,
			"updated_at":      time.Now().UTC(),
		}).Error
	return wrap("release sync", err)
}

func (r *mailRepository) AdvanceCursor(ctx context.Context, scope emaildomain.Scope, historyID string) error {
	if historyID == "" {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state emaildomain.SyncState
		err := tx.Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).First(&state).Error
		if err != nil {
			return err
		}
		if emaildomain.CompareHistoryIDs(historyID, state.HistoryID) <= 0 {
			return nil
		}
		return tx.Model(&emaildomain.SyncState{}).
			Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).
			Updates(map[string]interface{}{"history_id": historyID, "updated_at": time.Now().UTC()}).Error
	})
	return wrap("advance cursor", err)
}

func (r *mailRepository) MarkSynced(ctx context.Context, scope emaildomain.Scope, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&emaildomain.SyncState{}).
		Where("user_id = ? AND account_email = ?", scope.UserID, scope.AccountEmail).
		Updates(map[string]interface{}{"last_sync_at": at.UTC(), "updated_at": time.Now().UTC()}).Error
	return wrap("mark synced", err)
}

func (r *mailRepository) ListMessages(ctx context.Context, userID string, q MessageQuery) ([]*emaildomain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&emaildomain.Message{}).Where("user_id = ?", userID)
	if q.AccountEmail != "" {
		query = query.Where("account_email = ?", q.AccountEmail)
	}
	if q.ThreadID != "" {
		query = query.Where("thread_id = ?", q.ThreadID)
	}
	if q.LabelID != "" {
		query = query.Where("label_ids LIKE ?", `%"`+q.LabelID+`"%`)
	}
	if q.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrap("count messages", err)
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var messages []*emaildomain.Message
	err := query.Order("date DESC").Limit(limit).Offset(q.Offset).Find(&messages).Error
	if err != nil {
		return nil, 0, wrap("list messages", err)
	}
	return messages, total, nil
}

func (r *mailRepository) GetMessage(ctx context.Context, userID, messageID string) (*emaildomain.Message, []*emaildomain.Attachment, error) {
	var msg emaildomain.Message
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, wrap("get message", err)
	}

	var atts []*emaildomain.Attachment
	if err := r.db.WithContext(ctx).Where("user_id = ? AND message_id = ?", userID, messageID).Order("part_id").Find(&atts).Error; err != nil {
		return nil, nil, wrap("list attachments", err)
	}
	return &msg, atts, nil
}

func (r *mailRepository) ListThreads(ctx context.Context, userID string, limit, offset int) ([]*emaildomain.Thread, int64, error) {
	query := r.db.WithContext(ctx).Model(&emaildomain.Thread{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrap("count threads", err)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var threads []*emaildomain.Thread
	if err := query.Order("last_message_date DESC").Limit(limit).Offset(offset).Find(&threads).Error; err != nil {
		return nil, 0, wrap("list threads", err)
	}
	return threads, total, nil
}

func (r *mailRepository) ListSyncStates(ctx context.Context, userID string) ([]*emaildomain.SyncState, error) {
	var states []*emaildomain.SyncState
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("account_email").Find(&states).Error; err != nil {
		return nil, wrap("list sync states", err)
	}
	return states, nil
}
