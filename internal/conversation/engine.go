// Package conversation runs the per-user reminder dialogue: it turns
// structured intents into reminder operations and keeps the conversation
// state between turns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/metrics"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
	"github.com/notexe/remindme/internal/validate"
)

const (
	defaultDedupCacheSize = 1024
	defaultDedupTTL       = 10 * time.Minute
)

// Store is the persistence the engine depends on. *reminder.Store
// satisfies it.
type Store interface {
	GetOrCreateUser(ctx context.Context, phone, defaultTimezone, defaultChannel string) (*reminder.User, error)
	SaveUser(ctx context.Context, u *reminder.User) error
	Create(ctx context.Context, r reminder.Reminder) (*reminder.Reminder, error)
	GetByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	ListByUser(ctx context.Context, phone string, statuses ...string) ([]reminder.Reminder, error)
	FindInRange(ctx context.Context, phone string, from, to time.Time) ([]reminder.Reminder, error)
	FindByContent(ctx context.Context, phone, substr string) ([]reminder.Reminder, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Update(ctx context.Context, id int64, fields reminder.UpdateFields) (*reminder.Reminder, error)
	CancelSeries(ctx context.Context, originID int64) (int64, error)
}

// Sender delivers a chat message to a user.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// IntentSource turns user text into a structured intent.
type IntentSource interface {
	Extract(ctx context.Context, text string, stage reminder.StateKind, now time.Time) (intent.Intent, error)
}

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	DefaultTimezone  string
	DefaultChannel   string
	ConflictDuration time.Duration
	DedupCacheSize   int
	DedupTTL         time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Engine handles conversation turns. Turns for the same phone number are
// serialised; different users proceed concurrently.
type Engine struct {
	store     Store
	intents   IntentSource
	sender    Sender
	resolver  *timeparse.Resolver
	validator *validate.Validator
	handlers  map[intent.Type]handlerFunc

	defaultTimezone  string
	defaultChannel   string
	conflictDuration time.Duration

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	locks sync.Map

	dedupMu    sync.Mutex
	dedupCache *lru.Cache[string, time.Time]
	dedupTTL   time.Duration
}

// New creates an Engine. sender may be nil, in which case replies are only
// returned to the caller.
func New(store Store, intents IntentSource, sender Sender, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("conversation engine requires a store")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = reminder.ChannelChat
	}
	if opts.ConflictDuration <= 0 {
		opts.ConflictDuration = validate.DefaultDuration
	}
	if opts.DedupCacheSize <= 0 {
		opts.DedupCacheSize = defaultDedupCacheSize
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}

	cache, err := lru.New[string, time.Time](opts.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create message dedup cache: %w", err)
	}

	logger := logging.Component(opts.Logger, "conversation")
	e := &Engine{
		store:            store,
		intents:          intents,
		sender:           sender,
		resolver:         timeparse.NewResolver(timeparse.WithClock(opts.Now), timeparse.WithLogger(logger)),
		validator:        validate.New(store, opts.Now),
		defaultTimezone:  opts.DefaultTimezone,
		defaultChannel:   opts.DefaultChannel,
		conflictDuration: opts.ConflictDuration,
		now:              opts.Now,
		logger:           logger,
		metrics:          opts.Metrics,
		dedupCache:       cache,
		dedupTTL:         opts.DedupTTL,
	}
	e.handlers = e.routes()
	return e, nil
}

// turn carries one user's context through a single dispatch.
type turn struct {
	user *reminder.User
	loc  *time.Location
	now  time.Time
	// next is the state persisted when the turn completes.
	next reminder.State
}

// HandleInbound processes a webhook delivery, ignoring message IDs seen
// within the dedup window. Duplicates return an empty reply.
func (e *Engine) HandleInbound(ctx context.Context, messageID, phone, text string) (string, error) {
	if e.isDuplicateMessage(messageID) {
		e.logger.Debug("dropping duplicate delivery", "message_id", messageID, "phone", phone)
		return "", nil
	}
	return e.HandleMessage(ctx, phone, text)
}

// HandleMessage runs one conversation turn for text sent by phone and
// delivers the reply through the Sender. The reply is always non-empty;
// the error reports what went wrong behind a generic reply.
func (e *Engine) HandleMessage(ctx context.Context, phone, text string) (string, error) {
	mu := e.lock(phone)
	mu.Lock()
	defer mu.Unlock()

	start := e.now()
	user, err := e.store.GetOrCreateUser(ctx, phone, e.defaultTimezone, e.defaultChannel)
	if err != nil {
		e.metrics.ObserveTurn("", "error", e.now().Sub(start))
		return e.reply(ctx, phone, msgTryAgain), fmt.Errorf("failed to load user %s: %w", phone, err)
	}

	if e.intents == nil {
		return e.reply(ctx, phone, msgTryAgain), errors.New("no intent source configured")
	}
	in, err := e.intents.Extract(ctx, text, stateOf(user).Kind(), e.resolver.Now(user.Timezone))
	var upf *intent.UpstreamParseFailure
	switch {
	case errors.As(err, &upf):
		e.metrics.IntentFallback()
		e.logger.Warn("intent payload unreadable, using fallback", "phone", phone, "type", in.Type, "error", upf.Err)
	case err != nil:
		e.metrics.ObserveTurn("", "error", e.now().Sub(start))
		e.logger.Error("intent extraction failed", "phone", phone, "error", err)
		return e.reply(ctx, phone, msgTryAgain), err
	}
	if in.Original == "" {
		in.Original = text
	}

	out, err := e.run(ctx, user, in, start)
	return e.reply(ctx, phone, out), err
}

// HandleIntent runs a turn for an already structured intent. The reply is
// returned but not sent.
func (e *Engine) HandleIntent(ctx context.Context, phone string, in intent.Intent) (string, error) {
	mu := e.lock(phone)
	mu.Lock()
	defer mu.Unlock()

	start := e.now()
	user, err := e.store.GetOrCreateUser(ctx, phone, e.defaultTimezone, e.defaultChannel)
	if err != nil {
		return msgTryAgain, fmt.Errorf("failed to load user %s: %w", phone, err)
	}
	return e.run(ctx, user, in, start)
}

// run dispatches the intent and persists the resulting state. On any
// failure the stored state is left as it was so the turn can be retried.
func (e *Engine) run(ctx context.Context, user *reminder.User, in intent.Intent, start time.Time) (string, error) {
	user.State = stateOf(user)
	t := &turn{
		user: user,
		loc:  e.resolver.Location(user.Timezone),
		next: user.State,
	}
	t.now = e.now().In(t.loc)

	out, err := e.dispatch(ctx, t, in)
	if err != nil {
		e.metrics.ObserveTurn(string(in.Type), "error", e.now().Sub(start))
		e.logger.Error("turn failed", "phone", user.Phone, "intent", in.Type, "state", user.State.Kind(), "error", err)
		return msgTryAgain, err
	}

	prev := user.State.Kind()
	user.State = t.next
	user.LastInteraction = e.now().UTC()
	if err := e.store.SaveUser(ctx, user); err != nil {
		e.metrics.ObserveTurn(string(in.Type), "error", e.now().Sub(start))
		e.logger.Error("failed to save conversation state", "phone", user.Phone, "error", err)
		return msgTryAgain, err
	}

	e.metrics.ObserveTurn(string(in.Type), "ok", e.now().Sub(start))
	e.logger.Info("turn handled", "phone", user.Phone, "intent", in.Type,
		"from", prev, "to", t.next.Kind(), "fallback", in.Fallback)
	return out, nil
}

// reply sends text to phone on a best-effort basis and returns it.
func (e *Engine) reply(ctx context.Context, phone, text string) string {
	if e.sender == nil || text == "" {
		return text
	}
	if err := e.sender.Send(ctx, phone, text); err != nil {
		e.logger.Warn("failed to deliver reply", "phone", phone, "error", err)
	}
	return text
}

// State returns the stored conversation state for phone.
func (e *Engine) State(ctx context.Context, phone string) (reminder.State, error) {
	user, err := e.store.GetOrCreateUser(ctx, phone, e.defaultTimezone, e.defaultChannel)
	if err != nil {
		return nil, err
	}
	return stateOf(user), nil
}

func (e *Engine) lock(phone string) *sync.Mutex {
	if phone == "" {
		return &sync.Mutex{}
	}
	v, _ := e.locks.LoadOrStore(phone, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) isDuplicateMessage(messageID string) bool {
	if messageID == "" {
		return false
	}
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()

	now := e.now()
	if ts, ok := e.dedupCache.Get(messageID); ok {
		if now.Sub(ts) <= e.dedupTTL {
			return true
		}
		e.dedupCache.Remove(messageID)
	}
	e.dedupCache.Add(messageID, now)
	return false
}

func stateOf(u *reminder.User) reminder.State {
	if u.State == nil {
		return reminder.Initial{}
	}
	return u.State
}
