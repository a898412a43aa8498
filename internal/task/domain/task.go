package domain

import (
	"errors"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrForbidden    = errors.New("task belongs to another user")
	ErrInvalidInput = errors.New("invalid task input")
)

// Task is a to-do item, created manually or from a mirrored message.
type Task struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	EmailID      string     `json:"email_id,omitempty" gorm:"index"`
	Title        string     `json:"title" gorm:"not null"`
	Description  string     `json:"description,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Priority     Priority   `json:"priority" gorm:"default:medium"`
	Status       TaskStatus `json:"status" gorm:"default:pending"`
	ReminderAt   *time.Time `json:"reminder_at,omitempty"`
	ReminderSent bool       `json:"reminder_sent" gorm:"default:false"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func ParsePriority(p string) (Priority, bool) {
	switch Priority(p) {
	case "":
		return PriorityMedium, true
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(p), true
	default:
		return "", false
	}
}

func ParseStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return TaskStatus(s), true
	default:
		return "", false
	}
}
