// Command gmailsync runs a one-off mailbox sync for a single user.
//
//	gmailsync --user=alice@example.com             incremental sync
//	gmailsync --user=<id> --full --limit=200       full sync of recent mail
//	gmailsync --user=<id> --query="from:boss"      full sync of matching mail
//	gmailsync --migrate-tokens                     encrypt legacy plaintext tokens
//
// Exit codes: 0 success, 1 sync failure, 2 authentication or usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mailsync-backend/internal/app"
	authdomain "mailsync-backend/internal/auth/domain"
	emaildomain "mailsync-backend/internal/email/domain"
	emailUsecase "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/logger"

	"github.com/goccy/go-json"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage error")

type options struct {
	user          string
	full          bool
	limit         int
	query         string
	verbose       bool
	format        string
	migrateTokens bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg := config.Load()
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger.Init(logger.Config{Level: level, Format: "console", Output: stderr})

	return execute(ctx, cfg, opts, stdout, stderr)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("gmailsync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.user, "user", "", "user id, login email or linked Gmail address")
	fs.BoolVar(&opts.full, "full", false, "run a full sync instead of an incremental one")
	fs.IntVar(&opts.limit, "limit", 0, "maximum messages to fetch (0 uses SYNC_MAX_MESSAGES)")
	fs.StringVar(&opts.query, "query", "", "Gmail search query; implies --full")
	fs.BoolVar(&opts.verbose, "verbose", false, "log sync progress to stderr")
	fs.StringVar(&opts.format, "format", "text", "output format: text or json")
	fs.BoolVar(&opts.migrateTokens, "migrate-tokens", false, "encrypt plaintext OAuth tokens and exit unless --user is set")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return nil, errUsage
	}
	if opts.format != "text" && opts.format != "json" {
		fmt.Fprintf(stderr, "invalid --format %q, want text or json\n", opts.format)
		return nil, errUsage
	}
	if opts.limit < 0 {
		fmt.Fprintln(stderr, "--limit must not be negative")
		return nil, errUsage
	}
	if opts.user == "" && !opts.migrateTokens {
		fmt.Fprintln(stderr, "--user is required")
		fs.Usage()
		return nil, errUsage
	}
	return opts, nil
}

func execute(ctx context.Context, cfg *config.Config, opts *options, stdout, stderr io.Writer) int {
	out := &printer{w: stdout, errW: stderr, json: opts.format == "json"}

	db, err := database.Open(cfg)
	if err != nil {
		out.fail(err)
		return exitFailure
	}

	container, err := app.New(ctx, cfg, db)
	if err != nil {
		out.fail(err)
		return exitFailure
	}

	if opts.migrateTokens {
		out.migrated(container.MigratedTokens)
		if opts.user == "" {
			return exitOK
		}
	}

	userID, err := resolveUser(ctx, container, opts.user)
	if err != nil {
		out.fail(err)
		return exitUsage
	}

	var result *emaildomain.SyncResult
	if opts.full || opts.query != "" {
		result, err = container.Sync.SyncMessages(ctx, userID, emaildomain.SyncOptions{
			MaxMessages: opts.limit,
			Query:       opts.query,
		})
	} else {
		result, err = container.Sync.IncrementalSync(ctx, userID, opts.limit)
	}
	if err != nil {
		out.fail(err)
		if emailUsecase.IsAuthFailure(err) {
			return exitUsage
		}
		return exitFailure
	}

	out.result(result)
	return exitOK
}

// resolveUser accepts a user id, the email a user signs in with, or the
// address of a linked Gmail account.
func resolveUser(ctx context.Context, c *app.Container, ref string) (string, error) {
	if !strings.Contains(ref, "@") {
		user, err := c.Users.FindByID(ref)
		if err != nil {
			return "", err
		}
		if user == nil {
			return "", fmt.Errorf("user %q not found", ref)
		}
		return user.ID, nil
	}

	user, err := c.Users.FindByEmail(ref)
	if err != nil {
		return "", err
	}
	if user != nil {
		return user.ID, nil
	}

	accounts, err := c.Accounts.ListByEmail(ctx, authdomain.ProviderGoogle, ref)
	if err != nil {
		return "", err
	}
	switch len(accounts) {
	case 0:
		return "", fmt.Errorf("no user or linked account for %q", ref)
	case 1:
		return accounts[0].UserID, nil
	default:
		return "", fmt.Errorf("%q is linked to %d users, pass a user id instead", ref, len(accounts))
	}
}

type printer struct {
	w    io.Writer
	errW io.Writer
	json bool
}

func (p *printer) result(r *emaildomain.SyncResult) {
	if p.json {
		p.encode(p.w, r)
		return
	}
	fmt.Fprintf(p.w, "mode=%s synced=%d errors=%d deleted=%d updated=%d history_id=%s\n",
		r.Mode, r.Synced, r.Errors, r.Deleted, r.Updated, r.HistoryID)
}

func (p *printer) migrated(n int) {
	if p.json {
		p.encode(p.w, map[string]int{"migrated_accounts": n})
		return
	}
	fmt.Fprintf(p.w, "encrypted tokens for %d account(s)\n", n)
}

func (p *printer) fail(err error) {
	if p.json {
		p.encode(p.errW, map[string]string{"error": err.Error()})
		return
	}
	fmt.Fprintf(p.errW, "gmailsync: %v\n", err)
}

func (p *printer) encode(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
