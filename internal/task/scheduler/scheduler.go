package scheduler

import (
	"context"
	"fmt"
	"time"

	authrepo "mailsync-backend/internal/auth/repository"
	"mailsync-backend/internal/task/domain"
	"mailsync-backend/internal/task/repository"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/logger"
)

// Pusher delivers a notification and returns tokens that should be forgotten.
type Pusher interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// TaskReminderScheduler sends push reminders for tasks whose reminder time
// has passed.
type TaskReminderScheduler struct {
	taskRepo repository.TaskRepository
	fcmRepo  authrepo.FCMTokenRepository
	pusher   Pusher
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

func NewTaskReminderScheduler(
	taskRepo repository.TaskRepository,
	fcmRepo authrepo.FCMTokenRepository,
	pusher Pusher,
	interval time.Duration,
) *TaskReminderScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TaskReminderScheduler{
		taskRepo: taskRepo,
		fcmRepo:  fcmRepo,
		pusher:   pusher,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *TaskReminderScheduler) Start(ctx context.Context) {
	log := logger.With("task-scheduler")
	if s.pusher == nil {
		log.Warn().Msg("push client not available, reminders disabled")
		return
	}

	log.Info().Dur("interval", s.interval).Msg("starting task reminder scheduler")

	go func() {
		s.SendDueReminders(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.SendDueReminders(ctx)
			case <-s.stopChan:
				log.Info().Msg("scheduler stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *TaskReminderScheduler) Stop() {
	close(s.stopChan)
}

// SendDueReminders pushes every due reminder once. A reminder is marked sent
// even when delivery fails, so a broken device never causes repeats.
func (s *TaskReminderScheduler) SendDueReminders(ctx context.Context) int {
	log := logger.With("task-scheduler")

	tasks, err := s.taskRepo.FindPendingReminders(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Msg("failed to load pending reminders")
		return 0
	}

	sent := 0
	for _, task := range tasks {
		if s.remind(ctx, task) {
			sent++
		}
		if err := s.taskRepo.MarkReminderSent(ctx, task.ID); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark reminder sent")
		}
	}
	if len(tasks) > 0 {
		log.Info().Int("due", len(tasks)).Int("sent", sent).Msg("task reminders processed")
	}
	return sent
}

func (s *TaskReminderScheduler) remind(ctx context.Context, task *domain.Task) bool {
	log := logger.With("task-scheduler").With().Str("task_id", task.ID).Str("user_id", task.UserID).Logger()

	tokens, err := s.fcmRepo.GetTokensByUserID(ctx, task.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load device tokens")
		return false
	}
	if len(tokens) == 0 {
		return false
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	stale, err := s.pusher.SendToDevices(ctx, tokenStrings, reminderNotification(task))
	if err != nil {
		log.Warn().Err(err).Msg("failed to send reminder")
		return false
	}
	if len(stale) > 0 {
		if err := s.fcmRepo.DeleteTokens(ctx, stale); err != nil {
			log.Warn().Err(err).Msg("failed to remove stale device tokens")
		}
	}
	return true
}

func reminderNotification(task *domain.Task) fcm.NotificationData {
	body := task.Description
	if body == "" {
		body = "You have a task to finish"
	}
	if task.DueDate != nil {
		body = fmt.Sprintf("%s\nDue: %s", body, task.DueDate.Format("2006-01-02 15:04 MST"))
	}

	data := map[string]string{
		"type":         "task_reminder",
		"task_id":      task.ID,
		"priority":     string(task.Priority),
		"click_action": "/tasks",
	}
	if task.EmailID != "" {
		data["email_id"] = task.EmailID
	}

	return fcm.NotificationData{
		Title: "Reminder: " + task.Title,
		Body:  body,
		Data:  data,
	}
}
