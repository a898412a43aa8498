package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailsync-backend/internal/task/domain"
	"mailsync-backend/internal/task/repository"
	"mailsync-backend/pkg/logger"

	"github.com/google/uuid"
)

// DefaultReminderLead is how long before the due date a reminder fires
// when none is given.
const DefaultReminderLead = time.Hour

type taskUsecase struct {
	taskRepo repository.TaskRepository
	messages MessageReader
	now      func() time.Time
}

// NewTaskUsecase builds the task usecase. messages may be nil, which
// disables CreateTaskFromEmail.
func NewTaskUsecase(taskRepo repository.TaskRepository, messages MessageReader) TaskUsecase {
	return &taskUsecase{
		taskRepo: taskRepo,
		messages: messages,
		now:      time.Now,
	}
}

func (u *taskUsecase) CreateTask(ctx context.Context, userID string, input TaskInput) (*domain.Task, error) {
	task, err := u.newTask(userID, input)
	if err != nil {
		return nil, err
	}
	if err := u.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (u *taskUsecase) CreateTaskFromEmail(ctx context.Context, userID, emailID string, input TaskInput) (*domain.Task, error) {
	if u.messages == nil {
		return nil, fmt.Errorf("%w: mail mirror not available", domain.ErrInvalidInput)
	}
	subject, snippet, found, err := u.messages.MessageSummary(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: email %s not found", domain.ErrInvalidInput, emailID)
	}

	if strings.TrimSpace(input.Title) == "" {
		input.Title = subject
		if input.Title == "" {
			input.Title = "(no subject)"
		}
	}
	if input.Description == "" {
		input.Description = snippet
	}

	task, err := u.newTask(userID, input)
	if err != nil {
		return nil, err
	}
	task.EmailID = emailID
	if err := u.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	logger.With("task").Debug().Str("user_id", userID).Str("email_id", emailID).Msg("task created from email")
	return task, nil
}

func (u *taskUsecase) newTask(userID string, input TaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	priority, ok := domain.ParsePriority(input.Priority)
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, input.Priority)
	}
	dueDate, err := parseTime(input.DueDate)
	if err != nil {
		return nil, err
	}
	reminderAt, err := parseTime(input.ReminderAt)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: input.Description,
		DueDate:     dueDate,
		Priority:    priority,
		Status:      domain.TaskStatusPending,
		ReminderAt:  reminderAt,
	}
	if task.ReminderAt == nil && task.DueDate != nil {
		if at := task.DueDate.Add(-DefaultReminderLead); at.After(u.now()) {
			task.ReminderAt = &at
		}
	}
	return task, nil
}

func (u *taskUsecase) GetTaskByID(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	task, err := u.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrTaskNotFound
	}
	if task.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return task, nil
}

func (u *taskUsecase) GetUserTasks(ctx context.Context, userID string, status string, limit, offset int) ([]*domain.Task, int64, error) {
	var statusFilter *domain.TaskStatus
	if status != "" {
		s, ok := domain.ParseStatus(status)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
		}
		statusFilter = &s
	}
	return u.taskRepo.FindByUserID(ctx, userID, statusFilter, limit, offset)
}

func (u *taskUsecase) UpdateTask(ctx context.Context, userID, taskID string, updates TaskUpdateRequest) (*domain.Task, error) {
	task, err := u.GetTaskByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if updates.Title != nil {
		title := strings.TrimSpace(*updates.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
		}
		task.Title = title
	}
	if updates.Description != nil {
		task.Description = *updates.Description
	}
	if updates.Priority != nil {
		p, ok := domain.ParsePriority(*updates.Priority)
		if !ok {
			return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, *updates.Priority)
		}
		task.Priority = p
	}
	if updates.Status != nil {
		s, ok := domain.ParseStatus(*updates.Status)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, *updates.Status)
		}
		task.Status = s
	}
	if updates.DueDate != nil {
		if task.DueDate, err = parseTime(updates.DueDate); err != nil {
			return nil, err
		}
	}
	if updates.ReminderAt != nil {
		if task.ReminderAt, err = parseTime(updates.ReminderAt); err != nil {
			return nil, err
		}
		// A moved reminder fires again.
		task.ReminderSent = false
	}

	if err := u.taskRepo.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (u *taskUsecase) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := u.GetTaskByID(ctx, userID, taskID)
	if err != nil {
		return err
	}
	return u.taskRepo.Delete(ctx, task.ID)
}

// parseTime parses an optional RFC 3339 value into UTC; nil or "" yields nil.
func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an RFC 3339 time", domain.ErrInvalidInput, *s)
	}
	t = t.UTC()
	return &t, nil
}
