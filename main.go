package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	api "mailsync-backend/cmd/api"
	"mailsync-backend/internal/app"
	emailUsecase "mailsync-backend/internal/email/usecase"
	"mailsync-backend/internal/notification"
	"mailsync-backend/internal/task/scheduler"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	container, err := app.New(ctx, cfg, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	if cfg.SyncInterval > 0 {
		syncScheduler := emailUsecase.NewSyncScheduler(container.Sync, cfg.SyncInterval)
		syncScheduler.Start(ctx)
		defer syncScheduler.Stop()
	} else {
		logger.Info().Msg("SYNC_INTERVAL is 0, background sync disabled")
	}

	// Push notifications are optional; everything else works without them.
	var fcmClient *fcm.Client
	if cfg.FirebaseCredentials != "" {
		fcmClient, err = fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize FCM client, push notifications disabled")
			fcmClient = nil
		}
	}

	var reminderPusher scheduler.Pusher
	var mailPusher notification.Pusher
	if fcmClient != nil {
		reminderPusher = fcmClient
		mailPusher = fcmClient
	}

	reminders := scheduler.NewTaskReminderScheduler(container.Tasks, container.FCMTokens, reminderPusher, cfg.TaskReminderInterval)
	reminders.Start(ctx)
	defer reminders.Stop()

	if cfg.GoogleProjectID != "" {
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		if topicName == "" {
			topicName = "gmail-updates"
		}

		dispatcher := notification.NewDispatcher(container.Sync, container.FCMTokens, mailPusher)
		notifService, err := notification.NewService(ctx, cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, dispatcher)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize notification service")
		} else {
			defer notifService.Close()
			go func() {
				if err := notifService.Start(ctx); err != nil {
					logger.Error().Err(err).Msg("notification service stopped")
				}
			}()
		}
	} else {
		logger.Warn().Msg("GOOGLE_PROJECT_ID not configured, push sync disabled")
	}

	handler := api.NewHandler(container)
	if err := handler.Start(ctx, ":"+cfg.Port); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("server shut down")
}
