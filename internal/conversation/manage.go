package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/recurrence"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
	"github.com/notexe/remindme/internal/validate"
)

func (e *Engine) handleList(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	t.next = t.user.State
	phone := t.user.Phone

	filter := in.Filter
	if filter == "" && in.Query != "" {
		filter = intent.FilterContent
	}

	var (
		found []reminder.Reminder
		err   error
	)
	if filter == intent.FilterContent && in.Query != "" {
		found, err = e.store.FindByContent(ctx, phone, in.Query)
		if err == nil && len(found) == 0 {
			found, err = e.matchPending(ctx, phone, in.Query)
		}
	} else {
		found, err = e.store.ListByUser(ctx, phone, reminder.StatusPending)
	}
	if err != nil {
		return "", err
	}

	var header, empty string
	switch filter {
	case intent.FilterToday:
		found = within(found, startOfDay(t.now), startOfDay(t.now).AddDate(0, 0, 1))
		header, empty = "Today's reminders:", "You have no reminders for today."
	case intent.FilterWeek:
		found = within(found, t.now, t.now.AddDate(0, 0, 7))
		header, empty = "Reminders for the next 7 days:", "You have no reminders in the next 7 days."
	case intent.FilterContent:
		header = fmt.Sprintf("Reminders matching %q:", in.Query)
		empty = fmt.Sprintf("I couldn't find any reminders matching %q.", in.Query)
	default:
		header, empty = "Your upcoming reminders:", "You have no upcoming reminders."
	}

	if len(found) == 0 {
		return empty, nil
	}
	return header + "\n" + renderList(found, t.loc), nil
}

func (e *Engine) handleDelete(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	t.next = t.user.State
	query := firstNonEmpty(in.Query, in.Content)
	if in.ReminderID == 0 && query == "" {
		return "Which reminder should I delete? Tell me what it was about.", nil
	}

	matches, err := e.targets(ctx, t, in.ReminderID, query)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return notFound(in.ReminderID, query), nil
	case 1:
		return e.deleteOne(ctx, t, matches[0].ID)
	}

	t.next = reminder.DeleteSelection{CandidateIDs: ids(matches)}
	return "I found several matching reminders:\n" + renderList(matches, t.loc) +
		"\nWhich one should I delete? Reply with its number.", nil
}

func (e *Engine) handleUpdate(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	t.next = t.user.State
	if in.Updates.Empty() {
		return "What would you like to change? For example \"move my dentist reminder to 4pm\".", nil
	}
	query := firstNonEmpty(in.Query, in.Content)
	if in.ReminderID == 0 && query == "" {
		return "Which reminder should I change? Tell me what it is about.", nil
	}

	matches, err := e.targets(ctx, t, in.ReminderID, query)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return notFound(in.ReminderID, query), nil
	case 1:
		return e.applyUpdate(ctx, t, matches[0].ID, in.Updates)
	}

	t.next = reminder.UpdateSelection{CandidateIDs: ids(matches), Updates: in.Updates}
	return "I found several matching reminders:\n" + renderList(matches, t.loc) +
		"\nWhich one should I change? Reply with its number.", nil
}

func (e *Engine) handleSelection(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	switch st := t.user.State.(type) {
	case reminder.DeleteSelection:
		id, ok := pick(st.CandidateIDs, in.Selection)
		if !ok {
			t.next = st
			return fmt.Sprintf(msgPickNumber, len(st.CandidateIDs)), nil
		}
		return e.deleteOne(ctx, t, id)

	case reminder.UpdateSelection:
		id, ok := pick(st.CandidateIDs, in.Selection)
		if !ok {
			t.next = st
			return fmt.Sprintf(msgPickNumber, len(st.CandidateIDs)), nil
		}
		return e.applyUpdate(ctx, t, id, st.Updates)
	}
	return e.unhandled(t, in)
}

func (e *Engine) handleUnclearSelection(_ context.Context, t *turn, in intent.Intent) (string, error) {
	switch t.user.State.(type) {
	case reminder.DeleteSelection, reminder.UpdateSelection:
		t.next = t.user.State
		return msgDidNotCatch + prompt(t.user.State), nil
	}
	return e.unhandled(t, in)
}

// targets finds the reminders a delete or update refers to: the given ID
// when it belongs to the user, else a fuzzy match over pending reminders.
func (e *Engine) targets(ctx context.Context, t *turn, id int64, query string) ([]reminder.Reminder, error) {
	if id > 0 {
		r, err := e.store.GetByID(ctx, id)
		if errors.Is(err, reminder.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if r.UserPhone != t.user.Phone || r.Status == reminder.StatusCancelled {
			return nil, nil
		}
		return []reminder.Reminder{*r}, nil
	}
	return e.matchPending(ctx, t.user.Phone, query)
}

func (e *Engine) matchPending(ctx context.Context, phone, query string) ([]reminder.Reminder, error) {
	pending, err := e.store.ListByUser(ctx, phone, reminder.StatusPending)
	if err != nil {
		return nil, err
	}
	return matchReminders(query, pending), nil
}

// deleteOne cancels a reminder and, for a recurring one, the rest of its
// series.
func (e *Engine) deleteOne(ctx context.Context, t *turn, id int64) (string, error) {
	t.next = reminder.Initial{}

	r, err := e.store.GetByID(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) {
		return "That reminder no longer exists.", nil
	}
	if err != nil {
		return "", err
	}

	if r.Status == reminder.StatusPending || r.Status == reminder.StatusSent {
		if err := e.store.UpdateStatus(ctx, r.ID, reminder.StatusCancelled); err != nil {
			return "", err
		}
	}
	if r.IsRecurring() || r.SeriesOrigin > 0 {
		if _, err := e.store.CancelSeries(ctx, seriesOrigin(r)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted %q and all its future repeats.", r.Content), nil
	}
	return fmt.Sprintf("Deleted your reminder %q for %s.", r.Content, timeparse.FormatWhen(r.ScheduledFor, t.loc)), nil
}

// applyUpdate changes content and/or time. Omitted date or time parts keep
// the reminder's current values.
func (e *Engine) applyUpdate(ctx context.Context, t *turn, id int64, u reminder.Updates) (string, error) {
	t.next = reminder.Initial{}

	r, err := e.store.GetByID(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) {
		return "That reminder no longer exists.", nil
	}
	if err != nil {
		return "", err
	}

	var fields reminder.UpdateFields
	if u.Content != "" {
		if cr := validate.ValidateContent(u.Content); !cr.Valid {
			return cr.Message, nil
		}
		content := strings.TrimSpace(u.Content)
		fields.Content = &content
	}

	var note string
	if u.Date != "" || u.Time != "" || u.TimeReference != "" {
		current := r.ScheduledFor.In(t.loc)
		req := timeparse.Request{Date: u.Date, Time: u.Time, TimeReference: u.TimeReference}
		if req.Date == "" {
			req.Date = current.Format("2006-01-02")
		}
		if req.Time == "" && req.TimeReference == "" {
			req.Time = current.Format("15:04")
		}

		when, err := e.resolver.Resolve(req, t.user.TimePreferences, t.user.Timezone)
		if err != nil {
			var dpe *timeparse.DateParseError
			if errors.As(err, &dpe) {
				return dpe.Message, nil
			}
			return msgUnclearDatetime, nil
		}

		dr := e.validator.ValidateDate(when, t.loc)
		if !dr.Valid {
			return fmt.Sprintf("%s is in the past, so I left the reminder unchanged.", timeparse.FormatWhen(when, t.loc)), nil
		}
		when = dr.Date

		cr, err := e.validator.CheckConflicts(ctx, t.user.Phone, when, e.conflictDuration, t.loc, r.ID)
		if err != nil {
			return "", err
		}
		if cr.HasConflict {
			note = fmt.Sprintf(" Heads up: you have %d other reminder(s) around that time.", len(cr.Conflicts))
		}
		fields.ScheduledFor = &when
	}

	updated, err := e.store.Update(ctx, r.ID, fields)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated: %q is set for %s.%s", updated.Content,
		timeparse.FormatWhen(updated.ScheduledFor, t.loc), note), nil
}

func renderList(rs []reminder.Reminder, loc *time.Location) string {
	var b strings.Builder
	for i, r := range rs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s - %s", i+1, r.Content, timeparse.FormatWhen(r.ScheduledFor, loc))
		if r.IsRecurring() {
			fmt.Fprintf(&b, " (%s)", recurrence.Describe(*r.Pattern, time.Time{}, nil))
		}
	}
	return b.String()
}

func within(rs []reminder.Reminder, from, to time.Time) []reminder.Reminder {
	var out []reminder.Reminder
	for _, r := range rs {
		if !r.ScheduledFor.Before(from) && r.ScheduledFor.Before(to) {
			out = append(out, r)
		}
	}
	return out
}

func pick(candidates []int64, selection int) (int64, bool) {
	if selection < 1 || selection > len(candidates) {
		return 0, false
	}
	return candidates[selection-1], true
}

func ids(rs []reminder.Reminder) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func notFound(id int64, query string) string {
	if id > 0 {
		return fmt.Sprintf("I couldn't find reminder #%d.", id)
	}
	return fmt.Sprintf("I couldn't find a reminder matching %q.", query)
}

func seriesOrigin(r *reminder.Reminder) int64 {
	if r.SeriesOrigin > 0 {
		return r.SeriesOrigin
	}
	return r.ID
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
