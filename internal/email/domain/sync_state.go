package domain

import "time"

// SyncState tracks progress for one (user, account) mailbox. HistoryID is the
// resume cursor for incremental sync, kept as a decimal string.
type SyncState struct {
	UserID        string     `json:"-" gorm:"primaryKey"`
	AccountEmail  string     `json:"account_email" gorm:"primaryKey"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	HistoryID     string     `json:"history_id"`
	IsSyncing     bool       `json:"is_syncing"`
	SyncStartedAt *time.Time `json:"sync_started_at,omitempty"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

// SyncOptions configures a full sync.
type SyncOptions struct {
	MaxMessages   int
	Query         string
	IsInitialSync bool
}

type SyncResult struct {
	Mode      string `json:"mode"`
	Synced    int    `json:"synced"`
	Errors    int    `json:"errors"`
	Deleted   int    `json:"deleted"`
	Updated   int    `json:"updated"`
	HistoryID string `json:"history_id,omitempty"`
}
