package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	authrepo "mailsync-backend/internal/auth/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// SyncUsecase runs syncs on behalf of users and serves the local mirror.
type SyncUsecase interface {
	SyncMessages(ctx context.Context, userID string, opts emaildomain.SyncOptions) (*emaildomain.SyncResult, error)
	IncrementalSync(ctx context.Context, userID string, maxMessages int) (*emaildomain.SyncResult, error)
	// IncrementalSyncByEmail syncs every account linked to the mailbox address.
	IncrementalSyncByEmail(ctx context.Context, email string) ([]AccountSyncResult, error)
	SyncAllAccounts(ctx context.Context) []AccountSyncResult

	GetSyncStatus(ctx context.Context, userID string) ([]*emaildomain.SyncState, error)
	ListMessages(ctx context.Context, userID string, q repository.MessageQuery) ([]*emaildomain.Message, int64, error)
	GetMessage(ctx context.Context, userID, messageID string) (*emaildomain.Message, []*emaildomain.Attachment, error)
	ListThreads(ctx context.Context, userID string, limit, offset int) ([]*emaildomain.Thread, int64, error)

	AccountLinked(ctx context.Context, account *authdomain.Account)
}

// AccountSyncResult is the outcome of syncing one linked account.
type AccountSyncResult struct {
	AccountID string
	UserID    string
	Email     string
	Result    *emaildomain.SyncResult
	Err       error
}

// ProviderFactory returns a mailbox client authorised with the linked
// account's own credential.
type ProviderFactory func(ctx context.Context, account *authdomain.Account) (MailProvider, error)

// GmailProviders adapts a gmail.Service to a ProviderFactory.
func GmailProviders(svc *gmail.Service) ProviderFactory {
	return func(ctx context.Context, account *authdomain.Account) (MailProvider, error) {
		client, err := svc.ForAccount(ctx, account)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type watcher interface {
	Watch(ctx context.Context, topicName string) (string, error)
}

type SyncConfig struct {
	MaxMessages int
	Lease       time.Duration
	// WatchTopic is the Pub/Sub topic for mailbox push notifications; empty disables watches.
	WatchTopic string
	// Concurrency bounds how many accounts SyncAllAccounts syncs at once.
	Concurrency int
}

type syncUsecase struct {
	repo      repository.MailRepository
	accounts  authrepo.AccountRepository
	providers ProviderFactory
	cfg       SyncConfig
}

func NewSyncUsecase(repo repository.MailRepository, accounts authrepo.AccountRepository, providers ProviderFactory, cfg SyncConfig) *syncUsecase {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultSyncLease
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &syncUsecase{
		repo:      repo,
		accounts:  accounts,
		providers: providers,
		cfg:       cfg,
	}
}

// SyncMessages runs a full sync of the user's Google mailbox. When the
// account has no cursor yet and no query is given, the run is treated as
// an initial sync.
func (u *syncUsecase) SyncMessages(ctx context.Context, userID string, opts emaildomain.SyncOptions) (*emaildomain.SyncResult, error) {
	account, err := u.googleAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	engine, err := u.engineFor(ctx, account)
	if err != nil {
		return nil, err
	}

	if opts.MaxMessages <= 0 {
		opts.MaxMessages = u.cfg.MaxMessages
	}
	if !opts.IsInitialSync && opts.Query == "" {
		state, err := u.repo.GetSyncState(ctx, engine.scope)
		if err != nil {
			return nil, err
		}
		opts.IsInitialSync = state == nil || state.HistoryID == ""
	}
	return engine.SyncMessages(ctx, opts)
}

func (u *syncUsecase) IncrementalSync(ctx context.Context, userID string, maxMessages int) (*emaildomain.SyncResult, error) {
	account, err := u.googleAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.incrementalFor(ctx, account, maxMessages)
}

func (u *syncUsecase) IncrementalSyncByEmail(ctx context.Context, email string) ([]AccountSyncResult, error) {
	accounts, err := u.accounts.ListByEmail(ctx, authdomain.ProviderGoogle, email)
	if err != nil {
		return nil, err
	}
	return u.syncEach(ctx, accounts), nil
}

// SyncAllAccounts runs an incremental sync for every linked Google account.
// A failing account never stops the others.
func (u *syncUsecase) SyncAllAccounts(ctx context.Context) []AccountSyncResult {
	accounts, err := u.accounts.ListByProvider(ctx, authdomain.ProviderGoogle)
	if err != nil {
		logger.With("sync").Error().Err(err).Msg("failed to list accounts")
		return nil
	}
	return u.syncEach(ctx, accounts)
}

func (u *syncUsecase) syncEach(ctx context.Context, accounts []*authdomain.Account) []AccountSyncResult {
	log := logger.With("sync")
	results := make([]AccountSyncResult, len(accounts))

	var g errgroup.Group
	g.SetLimit(u.cfg.Concurrency)
	for i, account := range accounts {
		i, account := i, account // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			res, err := u.incrementalFor(ctx, account, u.cfg.MaxMessages)
			results[i] = AccountSyncResult{
				AccountID: account.ID,
				UserID:    account.UserID,
				Email:     account.Email,
				Result:    res,
				Err:       err,
			}
			switch {
			case errors.Is(err, emaildomain.ErrSyncInProgress):
				log.Debug().Str("account_id", account.ID).Msg("sync already running, skipped")
			case err != nil:
				log.Warn().Err(err).Str("account_id", account.ID).Str("user_id", account.UserID).Msg("account sync failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (u *syncUsecase) GetSyncStatus(ctx context.Context, userID string) ([]*emaildomain.SyncState, error) {
	return u.repo.ListSyncStates(ctx, userID)
}

func (u *syncUsecase) ListMessages(ctx context.Context, userID string, q repository.MessageQuery) ([]*emaildomain.Message, int64, error) {
	return u.repo.ListMessages(ctx, userID, q)
}

func (u *syncUsecase) GetMessage(ctx context.Context, userID, messageID string) (*emaildomain.Message, []*emaildomain.Attachment, error) {
	return u.repo.GetMessage(ctx, userID, messageID)
}

func (u *syncUsecase) ListThreads(ctx context.Context, userID string, limit, offset int) ([]*emaildomain.Thread, int64, error) {
	return u.repo.ListThreads(ctx, userID, limit, offset)
}

// AccountLinked starts a push watch when configured and kicks off the
// initial sync in the background.
func (u *syncUsecase) AccountLinked(ctx context.Context, account *authdomain.Account) {
	if account.Provider != authdomain.ProviderGoogle {
		return
	}
	log := logger.With("sync").With().Str("user_id", account.UserID).Logger()

	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
		defer cancel()

		if u.cfg.WatchTopic != "" {
			provider, err := u.providers(bg, account)
			if err == nil {
				if w, ok := provider.(watcher); ok {
					if _, err := w.Watch(bg, u.cfg.WatchTopic); err != nil {
						log.Warn().Err(err).Msg("failed to start mailbox watch")
					}
				}
			}
		}

		if _, err := u.incrementalFor(bg, account, u.cfg.MaxMessages); err != nil && !errors.Is(err, emaildomain.ErrSyncInProgress) {
			log.Warn().Err(err).Msg("initial sync after linking failed")
		}
	}()
}

func (u *syncUsecase) incrementalFor(ctx context.Context, account *authdomain.Account, maxMessages int) (*emaildomain.SyncResult, error) {
	engine, err := u.engineFor(ctx, account)
	if err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = u.cfg.MaxMessages
	}
	return engine.IncrementalSync(ctx, maxMessages)
}

func (u *syncUsecase) googleAccount(ctx context.Context, userID string) (*authdomain.Account, error) {
	account, err := u.accounts.FindByUserAndProvider(ctx, userID, authdomain.ProviderGoogle)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &authdomain.AuthenticationError{UserID: userID, Provider: authdomain.ProviderGoogle}
	}
	return account, nil
}

func (u *syncUsecase) engineFor(ctx context.Context, account *authdomain.Account) (*SyncEngine, error) {
	provider, err := u.providers(ctx, account)
	if err != nil {
		return nil, err
	}

	email := account.Email
	if email == "" {
		profile, err := provider.GetProfile(ctx)
		if err != nil {
			return nil, err
		}
		email = profile.EmailAddress
	}

	scope := emaildomain.Scope{UserID: account.UserID, AccountEmail: strings.ToLower(email)}
	return NewSyncEngine(u.repo, provider, scope, WithLease(u.cfg.Lease)), nil
}

// IsAuthFailure reports whether err means the user has to re-link their
// Google account.
func IsAuthFailure(err error) bool {
	var authErr *authdomain.AuthenticationError
	var refreshErr *authdomain.TokenRefreshError
	return errors.As(err, &authErr) || errors.As(err, &refreshErr)
}
