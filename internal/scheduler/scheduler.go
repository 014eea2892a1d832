// Package scheduler delivers due reminders and rolls recurring reminders
// forward to their next occurrence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/metrics"
	"github.com/notexe/remindme/internal/recurrence"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

const (
	defaultMaxConcurrent = 4
	defaultBatchLimit    = 100
)

// Store is the reminder persistence the scheduler works against.
type Store interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error)
	GetUser(ctx context.Context, phone string) (*reminder.User, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Create(ctx context.Context, r reminder.Reminder) (*reminder.Reminder, error)
}

// Sender delivers a chat message.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Caller places a voice call announcing a reminder.
type Caller interface {
	Call(ctx context.Context, to string, r reminder.Reminder) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCaller enables voice delivery. Without one, voice reminders go out
// as chat messages.
func WithCaller(c Caller) Option {
	return func(s *Scheduler) { s.caller = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.Component(l, "scheduler") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler periodically sends due reminders.
type Scheduler struct {
	store   Store
	sender  Sender
	caller  Caller
	config  config.SchedulerConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Scheduler delivering chat messages through sender.
func New(store Store, sender Sender, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		sender: sender,
		config: cfg,
		now:    time.Now,
		logger: logging.Component(nil, "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxConcurrent <= 0 {
		s.config.MaxConcurrent = defaultMaxConcurrent
	}
	if s.config.BatchLimit <= 0 {
		s.config.BatchLimit = defaultBatchLimit
	}
	return s
}

// Run blocks and runs tick() on interval + immediately on start.
// It exits when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", s.config.Interval)
	}
	interval := time.Duration(s.config.Interval) * time.Second

	s.logger.Info("started", "interval", interval, "max_concurrent", s.config.MaxConcurrent)

	// Run immediately on start
	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("tick failed", "error", err)
	}
}

// RunOnce processes the reminders due now and returns how many were
// delivered. Per-reminder failures are logged and left for the next run.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.store.GetDue(ctx, s.now(), s.config.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to load due reminders: %w", err)
	}
	if len(due) == 0 {
		s.logger.Debug("no reminders due")
		return 0, nil
	}
	s.logger.Debug("reminders due", "count", len(due))

	delivered := make([]bool, len(due))
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrent)
	for i := range due {
		g.Go(func() error {
			delivered[i] = s.process(ctx, due[i])
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range delivered {
		if ok {
			n++
		}
	}
	return n, nil
}

// process delivers one reminder, marks it sent and schedules the next
// occurrence of a recurring one.
func (s *Scheduler) process(ctx context.Context, r reminder.Reminder) bool {
	log := s.logger.With("id", r.ID, "phone", r.UserPhone)

	if err := s.deliver(ctx, r); err != nil {
		log.Warn("delivery failed, will retry", "channel", r.Channel, "error", err)
		return false
	}
	if err := s.store.UpdateStatus(ctx, r.ID, reminder.StatusSent); err != nil {
		// Still pending, so the next tick delivers it again.
		log.Error("failed to mark reminder sent, it will be delivered again", "error", err)
		return false
	}
	log.Info("reminder sent", "channel", r.Channel)

	if r.IsRecurring() {
		if err := s.scheduleNext(ctx, r); err != nil {
			log.Error("failed to schedule next occurrence", "error", err)
		}
	}
	return true
}

func (s *Scheduler) deliver(ctx context.Context, r reminder.Reminder) error {
	switch r.Channel {
	case reminder.ChannelVoice:
		if s.caller != nil {
			return s.call(ctx, r)
		}
		return s.chat(ctx, r)
	case reminder.ChannelBoth:
		chatErr := s.chat(ctx, r)
		if s.caller == nil {
			return chatErr
		}
		callErr := s.call(ctx, r)
		if chatErr != nil && callErr != nil {
			return errors.Join(chatErr, callErr)
		}
		return nil
	}
	return s.chat(ctx, r)
}

func (s *Scheduler) chat(ctx context.Context, r reminder.Reminder) error {
	if s.sender == nil {
		return errors.New("no chat sender configured")
	}
	err := s.sender.Send(ctx, r.UserPhone, Message(r))
	s.metrics.Notification(reminder.ChannelChat, err)
	return err
}

func (s *Scheduler) call(ctx context.Context, r reminder.Reminder) error {
	err := s.caller.Call(ctx, r.UserPhone, r)
	s.metrics.Notification(reminder.ChannelVoice, err)
	return err
}

// scheduleNext creates the first occurrence after now, skipping any that
// were missed while the reminder was overdue. Recurrence math runs in the
// user's timezone so weekdays and month days stay on local dates.
func (s *Scheduler) scheduleNext(ctx context.Context, r reminder.Reminder) error {
	loc := time.UTC
	if u, err := s.store.GetUser(ctx, r.UserPhone); err == nil {
		if l, ok := timeparse.Location(u.Timezone); ok {
			loc = l
		}
	}

	now := s.now()
	next := r.ScheduledFor.In(loc)
	for {
		var ok bool
		next, ok = recurrence.Next(next, *r.Pattern, r.EndDate)
		if !ok {
			s.logger.Info("recurring series finished", "id", r.ID, "phone", r.UserPhone)
			return nil
		}
		if next.After(now) {
			break
		}
	}

	origin := r.SeriesOrigin
	if origin == 0 {
		origin = r.ID
	}
	created, err := s.store.Create(ctx, reminder.Reminder{
		UserPhone:        r.UserPhone,
		Content:          r.Content,
		ScheduledFor:     next.UTC(),
		Recurrence:       r.Recurrence,
		Pattern:          r.Pattern,
		EndDate:          r.EndDate,
		Status:           reminder.StatusPending,
		Channel:          r.Channel,
		SeriesOrigin:     origin,
		PreviousInstance: r.ID,
	})
	if err != nil {
		return err
	}
	s.metrics.ReminderCreated(string(created.Recurrence))
	s.logger.Debug("next occurrence scheduled", "id", created.ID, "previous", r.ID, "scheduled_for", created.ScheduledFor)
	return nil
}

// Message is the chat text announcing r.
func Message(r reminder.Reminder) string {
	return "⏰ Reminder: " + r.Content
}
