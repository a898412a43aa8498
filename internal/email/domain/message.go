package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Scope identifies one mirrored mailbox: a user's linked account.
type Scope struct {
	UserID       string
	AccountEmail string
}

// StringList is stored as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

func (StringList) GormDataType() string { return "text" }

// Flags are derived from Gmail label ids on every sync, never stored independently.
type Flags struct {
	IsRead      bool `json:"is_read"`
	IsStarred   bool `json:"is_starred"`
	IsImportant bool `json:"is_important"`
	IsDraft     bool `json:"is_draft"`
	IsSent      bool `json:"is_sent"`
	IsTrash     bool `json:"is_trash"`
}

// Message is the local mirror of one remote message.
type Message struct {
	UserID       string     `json:"-" gorm:"primaryKey"`
	ID           string     `json:"id" gorm:"primaryKey"`
	AccountEmail string     `json:"account_email" gorm:"index:idx_message_account"`
	ThreadID     string     `json:"thread_id" gorm:"index"`
	Subject      string     `json:"subject"`
	From         string     `json:"from"`
	To           StringList `json:"to"`
	Cc           StringList `json:"cc"`
	Bcc          StringList `json:"bcc"`
	Date         time.Time  `json:"date" gorm:"index"`
	Snippet      string     `json:"snippet"`
	BodyText     string     `json:"body_text,omitempty"`
	BodyHTML     string     `json:"body_html,omitempty"`
	LabelIDs     StringList `json:"label_ids"`
	HistoryID    string     `json:"history_id"`
	Flags        `gorm:"embedded"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "mail_messages" }

// Attachment holds metadata only; content is fetched on demand.
type Attachment struct {
	UserID       string    `json:"-" gorm:"primaryKey"`
	MessageID    string    `json:"message_id" gorm:"primaryKey"`
	PartID       string    `json:"part_id" gorm:"primaryKey"`
	AttachmentID string    `json:"attachment_id"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Attachment) TableName() string { return "mail_attachments" }

// Thread aggregates the messages of one conversation. LastMessageDate only
// moves forward and MessageCount only grows.
type Thread struct {
	UserID          string    `json:"-" gorm:"primaryKey"`
	ID              string    `json:"id" gorm:"primaryKey"`
	AccountEmail    string    `json:"account_email" gorm:"index:idx_thread_account"`
	Subject         string    `json:"subject"`
	Snippet         string    `json:"snippet"`
	LastMessageDate time.Time `json:"last_message_date" gorm:"index"`
	MessageCount    int       `json:"message_count"`
	HasUnread       bool      `json:"has_unread"`
	IsStarred       bool      `json:"is_starred"`
	IsImportant     bool      `json:"is_important"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Thread) TableName() string { return "mail_threads" }

// ParsedMessage is the provider-neutral form of a fetched message.
type ParsedMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Date        time.Time
	Snippet     string
	BodyText    string
	BodyHTML    string
	LabelIDs    []string
	HistoryID   string
	Flags       Flags
	Attachments []ParsedAttachment
}

type ParsedAttachment struct {
	PartID       string
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64
}
