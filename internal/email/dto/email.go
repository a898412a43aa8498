package dto

import emaildomain "mailsync-backend/internal/email/domain"

// SyncRequest triggers a sync of the caller's mailbox. Full forces a list
// based sync instead of applying history.
type SyncRequest struct {
	Full        bool   `json:"full"`
	MaxMessages int    `json:"limit" binding:"omitempty,min=1,max=5000"`
	Query       string `json:"query"`
}

type SyncResponse struct {
	Result *emaildomain.SyncResult `json:"result"`
}

type SyncStatusResponse struct {
	Accounts []*emaildomain.SyncState `json:"accounts"`
}

type EmailsResponse struct {
	Emails []*emaildomain.Message `json:"emails"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Total  int64                  `json:"total"`
}

type EmailDetailResponse struct {
	*emaildomain.Message
	Attachments []*emaildomain.Attachment `json:"attachments"`
}

type ThreadsResponse struct {
	Threads []*emaildomain.Thread `json:"threads"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	Total   int64                 `json:"total"`
}
