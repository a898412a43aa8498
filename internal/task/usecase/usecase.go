package usecase

import (
	"context"

	"mailsync-backend/internal/task/domain"
)

type TaskUsecase interface {
	CreateTask(ctx context.Context, userID string, input TaskInput) (*domain.Task, error)
	// CreateTaskFromEmail creates a task titled after a mirrored message.
	CreateTaskFromEmail(ctx context.Context, userID, emailID string, input TaskInput) (*domain.Task, error)
	// GetTaskByID returns ErrTaskNotFound or ErrForbidden when the task is
	// missing or owned by someone else.
	GetTaskByID(ctx context.Context, userID, taskID string) (*domain.Task, error)
	GetUserTasks(ctx context.Context, userID string, status string, limit, offset int) ([]*domain.Task, int64, error)
	UpdateTask(ctx context.Context, userID, taskID string, updates TaskUpdateRequest) (*domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// TaskInput carries optional RFC 3339 timestamps as strings.
type TaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"`
	Priority    string  `json:"priority"`
	ReminderAt  *string `json:"reminder_at"`
}

// TaskUpdateRequest holds the fields that can be updated. An empty string
// clears DueDate or ReminderAt.
type TaskUpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Status      *string `json:"status,omitempty"`
	ReminderAt  *string `json:"reminder_at,omitempty"`
}

// MessageReader looks up a mirrored message; found is false when it does not exist.
type MessageReader interface {
	MessageSummary(ctx context.Context, userID, messageID string) (subject, snippet string, found bool, err error)
}
