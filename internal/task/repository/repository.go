package repository

import (
	"context"
	"time"

	"mailsync-backend/internal/task/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	// FindByID returns (nil, nil) when the task does not exist.
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	FindByUserID(ctx context.Context, userID string, status *domain.TaskStatus, limit, offset int) ([]*domain.Task, int64, error)
	Update(ctx context.Context, task *domain.Task) error
	Delete(ctx context.Context, id string) error

	// FindPendingReminders returns open tasks whose reminder is due and not yet sent.
	FindPendingReminders(ctx context.Context, now time.Time) ([]*domain.Task, error)
	MarkReminderSent(ctx context.Context, id string) error
}
