package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carecircle/internal/util"
	"carecircle/pkg/ai"
	"carecircle/pkg/domain"
	"carecircle/pkg/store"
)

const dateLayout = "2006-01-02"

// MailPublisher mirrors committed mails somewhere outside the Root document.
type MailPublisher interface {
	Publish(ctx context.Context, mails ...domain.Mail) error
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    *store.RootStore
	Remember *store.RememberStore
	// Outbox is optional.
	Outbox MailPublisher
	// Assistant is nil when no provider is configured.
	Assistant     ai.ChatCompleter
	Clock         func() time.Time
	PublicBaseURL string
}

// App is the core application service: session, tasks, updates, donations,
// chat, symptoms and the assistant, all operating on the Root document.
type App struct {
	store     *store.RootStore
	remember  *store.RememberStore
	outbox    MailPublisher
	assistant ai.ChatCompleter
	now       func() time.Time
	baseURL   string
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("root store required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	remember := cfg.Remember
	if remember == nil {
		remember = store.NewRememberStore(cfg.Store.Backend(), now)
	}
	return &App{
		store:     cfg.Store,
		remember:  remember,
		outbox:    cfg.Outbox,
		assistant: cfg.Assistant,
		now:       now,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

// Root returns the current document.
func (a *App) Root(ctx context.Context) domain.Root {
	return a.store.GetRoot(ctx)
}

func (a *App) clock() time.Time {
	return a.now().UTC()
}

func (a *App) today() string {
	return a.clock().Format(dateLayout)
}

// effects collects side effects of one Root update. It is reset on every
// attempt so a retried update never double-publishes.
type effects struct {
	mails []domain.Mail
}

// mail stamps m, appends it to the mailbox and queues it for the outbox.
func (fx *effects) mail(root *domain.Root, m domain.Mail, now time.Time) domain.Mail {
	m.ID = util.NewID()
	m.CreatedAt = now
	root.Mailbox = append(root.Mailbox, m)
	fx.mails = append(fx.mails, m)
	return m
}

// update runs fn inside a Root read-modify-write and publishes mails once the
// write committed.
func (a *App) update(ctx context.Context, fn func(root *domain.Root, fx *effects) error) (domain.Root, error) {
	var fx effects
	root, err := a.store.UpdateRoot(ctx, func(r *domain.Root) error {
		fx = effects{}
		return fn(r, &fx)
	})
	if err != nil {
		return root, err
	}
	a.publish(ctx, fx.mails)
	return root, nil
}

func (a *App) publish(ctx context.Context, mails []domain.Mail) {
	if a.outbox == nil || len(mails) == 0 {
		return
	}
	if err := a.outbox.Publish(ctx, mails...); err != nil {
		util.LoggerFromContext(ctx).Warn("outbox publish failed", "count", len(mails), "err", err)
	}
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n,;")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsPrecondition reports whether err is a domain precondition failure rather
// than an infrastructure fault.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrNotLoggedIn, ErrNoGroupSelected, ErrNotMember, ErrForbidden, ErrUserNotFound,
		ErrGroupNotFound, ErrInvalidInviteCode, ErrInvalidEmail, ErrInvalidInput, ErrInvalidRole,
		ErrInvalidAvatar, ErrInvalidDate, ErrTaskNotFound, ErrTaskFull, ErrAlreadyClaimed,
		ErrNotClaimed, ErrInvalidMood, ErrInvalidAmount, ErrInvalidRating,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
