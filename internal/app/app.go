// Package app wires repositories, the token lifecycle and the sync engine
// together for the API server and the gmailsync CLI.
package app

import (
	"context"
	"fmt"

	authdomain "mailsync-backend/internal/auth/domain"
	authrepo "mailsync-backend/internal/auth/repository"
	authusecase "mailsync-backend/internal/auth/usecase"
	emaildomain "mailsync-backend/internal/email/domain"
	emailrepo "mailsync-backend/internal/email/repository"
	emailusecase "mailsync-backend/internal/email/usecase"
	taskdomain "mailsync-backend/internal/task/domain"
	taskrepo "mailsync-backend/internal/task/repository"
	taskusecase "mailsync-backend/internal/task/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/logger"
	"mailsync-backend/pkg/utils/crypto"

	"gorm.io/gorm"
)

// Models lists every table the application owns.
func Models() []interface{} {
	return []interface{}{
		&authdomain.User{},
		&authdomain.RefreshToken{},
		&authdomain.Account{},
		&authdomain.FCMToken{},
		&emaildomain.Thread{},
		&emaildomain.Message{},
		&emaildomain.Attachment{},
		&emaildomain.SyncState{},
		&taskdomain.Task{},
	}
}

type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Codec  *crypto.Codec

	// MigratedTokens counts accounts whose plaintext tokens were encrypted
	// while building the container.
	MigratedTokens int

	Users     authrepo.UserRepository
	Accounts  authrepo.AccountRepository
	FCMTokens authrepo.FCMTokenRepository
	Mail      emailrepo.MailRepository
	Tasks     taskrepo.TaskRepository

	Refresher *authusecase.TokenRefresher
	Gmail     *gmail.Service

	Auth        authusecase.AuthUsecase
	Sync        emailusecase.SyncUsecase
	TaskUsecase taskusecase.TaskUsecase
}

// New migrates the schema, encrypts any legacy plaintext tokens and builds
// the dependency graph.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Container, error) {
	if err := database.Migrate(db, Models()...); err != nil {
		return nil, err
	}

	codec, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}

	migrated, err := authrepo.MigrateLegacyTokens(ctx, db, codec)
	if err != nil {
		return nil, fmt.Errorf("encrypt legacy tokens: %w", err)
	}

	c := &Container{
		Config: cfg,
		DB:     db,
		Codec:  codec,

		MigratedTokens: migrated,

		Users:     authrepo.NewUserRepository(db),
		Accounts:  authrepo.NewEncryptedAccountRepository(authrepo.NewAccountRepository(db), codec),
		FCMTokens: authrepo.NewFCMTokenRepository(db),
		Mail:      emailrepo.NewMailRepository(db),
		Tasks:     taskrepo.NewGormTaskRepository(db),
	}

	oauthConfig := authusecase.NewGoogleOAuthConfig(cfg)
	c.Refresher = authusecase.NewTokenRefresher(c.Accounts, oauthConfig)

	gmailOpts := []gmail.Option{gmail.WithBatchPacing(cfg.GmailBatchSize, cfg.GmailBatchDelay)}
	if cfg.GmailAPIEndpoint != "" {
		gmailOpts = append(gmailOpts, gmail.WithEndpoint(cfg.GmailAPIEndpoint))
	}
	c.Gmail = gmail.NewService(c.Refresher, gmailOpts...)

	c.Sync = emailusecase.NewSyncUsecase(c.Mail, c.Accounts, emailusecase.GmailProviders(c.Gmail), emailusecase.SyncConfig{
		MaxMessages: cfg.SyncMaxMessages,
		Lease:       cfg.SyncLockTTL,
		WatchTopic:  cfg.GooglePubSubTopic,
	})

	auth := authusecase.NewAuthUsecase(c.Users, c.Accounts, c.FCMTokens, oauthConfig, cfg)
	auth.SetLinkListener(c.Sync)
	c.Auth = auth

	c.TaskUsecase = taskusecase.NewTaskUsecase(c.Tasks, messageReader{sync: c.Sync})
	return c, nil
}

// NewCodec builds the token codec from TOKEN_ENCRYPTION_KEY, or derives a key
// from JWT_SECRET when none is configured.
func NewCodec(cfg *config.Config) (*crypto.Codec, error) {
	var key []byte
	var err error
	if cfg.TokenEncryptionKey != "" {
		key, err = crypto.ParseKey(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
		}
	} else {
		logger.Warn().Msg("TOKEN_ENCRYPTION_KEY not set, deriving token key from JWT_SECRET")
		key, err = crypto.DeriveKey(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("derive token key: %w", err)
		}
	}
	return crypto.NewCodec(key)
}

// messageReader adapts the mail mirror to the task usecase.
type messageReader struct {
	sync emailusecase.SyncUsecase
}

func (r messageReader) MessageSummary(ctx context.Context, userID, messageID string) (string, string, bool, error) {
	msg, _, err := r.sync.GetMessage(ctx, userID, messageID)
	if err != nil || msg == nil {
		return "", "", false, err
	}
	return msg.Subject, msg.Snippet, true, nil
}
