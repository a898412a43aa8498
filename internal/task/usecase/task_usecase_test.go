package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailsync-backend/internal/task/domain"
	"mailsync-backend/internal/task/repository"
	"mailsync-backend/pkg/database"
)

type fakeMessages map[string][2]string

func (m fakeMessages) MessageSummary(_ context.Context, userID, messageID string) (string, string, bool, error) {
	v, ok := m[userID+"/"+messageID]
	return v[0], v[1], ok, nil
}

func newTestUsecase(t *testing.T, messages MessageReader) *taskUsecase {
	t.Helper()
	db, err := database.NewSQLiteConnection(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db, &domain.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewTaskUsecase(repository.NewGormTaskRepository(db), messages).(*taskUsecase)
}

func strPtr(s string) *string { return &s }

func TestCreateTask_Validation(t *testing.T) {
	uc := newTestUsecase(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   TaskInput
		wantErr bool
	}{
		{name: "minimal", input: TaskInput{Title: "Pay invoice"}},
		{name: "blank title", input: TaskInput{Title: "   "}, wantErr: true},
		{name: "bad priority", input: TaskInput{Title: "x", Priority: "urgent"}, wantErr: true},
		{name: "bad due date", input: TaskInput{Title: "x", DueDate: strPtr("tomorrow")}, wantErr: true},
		{name: "full", input: TaskInput{Title: "x", Priority: "high", DueDate: strPtr("2030-01-02T15:04:05+07:00")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := uc.CreateTask(ctx, "user-1", tt.input)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			if task.Status != domain.TaskStatusPending {
				t.Fatalf("expected pending status, got %q", task.Status)
			}
		})
	}
}

func TestCreateTask_DefaultReminder(t *testing.T) {
	uc := newTestUsecase(t, nil)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return now }

	task, err := uc.CreateTask(context.Background(), "user-1", TaskInput{Title: "x", DueDate: strPtr("2030-01-02T10:00:00Z")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	want := time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)
	if task.ReminderAt == nil || !task.ReminderAt.Equal(want) {
		t.Fatalf("expected reminder at %v, got %v", want, task.ReminderAt)
	}

	past, err := uc.CreateTask(context.Background(), "user-1", TaskInput{Title: "y", DueDate: strPtr("2030-01-01T00:30:00Z")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if past.ReminderAt != nil {
		t.Fatalf("expected no reminder in the past, got %v", past.ReminderAt)
	}
}

func TestCreateTaskFromEmail(t *testing.T) {
	uc := newTestUsecase(t, fakeMessages{"user-1/m1": {"Quarterly report", "Please review by Friday"}})
	ctx := context.Background()

	task, err := uc.CreateTaskFromEmail(ctx, "user-1", "m1", TaskInput{})
	if err != nil {
		t.Fatalf("CreateTaskFromEmail: %v", err)
	}
	if task.Title != "Quarterly report" || task.Description != "Please review by Friday" || task.EmailID != "m1" {
		t.Fatalf("unexpected task: %+v", task)
	}

	if _, err := uc.CreateTaskFromEmail(ctx, "user-2", "m1", TaskInput{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected other user's email to be rejected, got %v", err)
	}
}

func TestTaskOwnership(t *testing.T) {
	uc := newTestUsecase(t, nil)
	ctx := context.Background()

	task, err := uc.CreateTask(ctx, "owner", TaskInput{Title: "mine"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := uc.GetTaskByID(ctx, "intruder", task.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := uc.DeleteTask(ctx, "intruder", task.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := uc.GetTaskByID(ctx, "owner", "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateTask_ResetsReminder(t *testing.T) {
	uc := newTestUsecase(t, nil)
	ctx := context.Background()

	task, err := uc.CreateTask(ctx, "user-1", TaskInput{Title: "x", ReminderAt: strPtr("2030-01-01T00:00:00Z")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := uc.taskRepo.MarkReminderSent(ctx, task.ID); err != nil {
		t.Fatalf("MarkReminderSent: %v", err)
	}

	updated, err := uc.UpdateTask(ctx, "user-1", task.ID, TaskUpdateRequest{
		ReminderAt: strPtr("2030-02-01T00:00:00Z"),
		Status:     strPtr("in_progress"),
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.ReminderSent || updated.Status != domain.TaskStatusInProgress {
		t.Fatalf("unexpected task after update: %+v", updated)
	}

	if _, err := uc.UpdateTask(ctx, "user-1", task.ID, TaskUpdateRequest{Status: strPtr("done")}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown status, got %v", err)
	}
}

func TestGetUserTasks_FiltersByStatus(t *testing.T) {
	uc := newTestUsecase(t, nil)
	ctx := context.Background()

	a, _ := uc.CreateTask(ctx, "user-1", TaskInput{Title: "a"})
	uc.CreateTask(ctx, "user-1", TaskInput{Title: "b"})
	uc.CreateTask(ctx, "user-2", TaskInput{Title: "c"})
	if _, err := uc.UpdateTask(ctx, "user-1", a.ID, TaskUpdateRequest{Status: strPtr("completed")}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	tasks, total, err := uc.GetUserTasks(ctx, "user-1", "pending", 10, 0)
	if err != nil {
		t.Fatalf("GetUserTasks: %v", err)
	}
	if total != 1 || len(tasks) != 1 || tasks[0].Title != "b" {
		t.Fatalf("expected only task b, got total=%d %+v", total, tasks)
	}
}
