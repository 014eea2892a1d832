package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/recurrence"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
	"github.com/notexe/remindme/internal/validate"
)

// draft is a reminder request assembled over one or more turns.
type draft struct {
	content   string
	req       timeparse.Request
	recurring *reminder.Recurring
}

func draftFrom(in intent.Intent, now time.Time) draft {
	return draft{
		content:   strings.TrimSpace(in.Content),
		req:       in.TimeRequest(),
		recurring: recurringFrom(in, now),
	}
}

func (d draft) followupContent() reminder.FollowupContent {
	return reminder.FollowupContent{
		Date:          d.req.Date,
		Time:          d.req.Time,
		TimeReference: d.req.TimeReference,
		Recurring:     d.recurring,
	}
}

func (e *Engine) handleReminder(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	return e.proceed(ctx, t, draftFrom(in, t.now))
}

func (e *Engine) handleIncomplete(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	d := draftFrom(in, t.now)
	if d.content == "" {
		t.next = d.followupContent()
		return msgAskContent, nil
	}
	if slices.Contains(in.Missing, "time") && d.req.Date != "" && !d.req.HasTime() {
		t.next = reminder.FollowupDatetime{Content: d.content, Date: d.req.Date, Recurring: d.recurring}
		return fmt.Sprintf("What time %s should I remind you to %s?", d.req.Date, d.content), nil
	}
	return e.proceed(ctx, t, d)
}

func (e *Engine) handleDatetime(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	switch st := t.user.State.(type) {
	case reminder.FollowupDatetime:
		d := draft{content: st.Content, req: in.TimeRequest(), recurring: st.Recurring}
		if d.req.Date == "" {
			d.req.Date = st.Date
		}
		if d.req.Time == "" && d.req.TimeReference == "" {
			d.req.Time, d.req.TimeReference = st.Time, st.TimeReference
		}
		if rec := recurringFrom(in, t.now); rec != nil {
			d.recurring = rec
		}
		if d.req.Date == "" && !d.req.HasTime() {
			t.next = st
			return msgUnclearDatetime, nil
		}
		return e.proceed(ctx, t, d)

	case reminder.Initial:
		// A bare date or time with nothing pending: keep it and ask what for.
		d := draftFrom(in, t.now)
		d.content = ""
		return e.proceed(ctx, t, d)
	}
	return e.unhandled(t, in)
}

func (e *Engine) handleUnclearDatetime(_ context.Context, t *turn, in intent.Intent) (string, error) {
	if _, ok := t.user.State.(reminder.FollowupDatetime); !ok {
		return e.unhandled(t, in)
	}
	t.next = t.user.State
	return msgUnclearDatetime, nil
}

func (e *Engine) handleContent(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		content = strings.TrimSpace(in.Original)
	}

	switch st := t.user.State.(type) {
	case reminder.FollowupContent:
		return e.proceed(ctx, t, draft{
			content: content,
			req: timeparse.Request{
				Date:          st.Date,
				Time:          st.Time,
				TimeReference: st.TimeReference,
			},
			recurring: st.Recurring,
		})

	case reminder.Initial:
		return e.proceed(ctx, t, draft{content: content, recurring: recurringFrom(in, t.now)})
	}
	return e.unhandled(t, in)
}

func (e *Engine) handleConfirmation(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	switch st := t.user.State.(type) {
	case reminder.RescheduleConfirmation:
		if in.Confirmed == nil {
			t.next = st
			return msgYesNo, nil
		}
		if *in.Confirmed {
			return e.schedule(ctx, t, st.Content, st.SuggestedDate, st.Recurring, true)
		}
		return e.askNewTime(t, st.Content, st.Recurring), nil

	case reminder.ConflictResolution:
		if in.Confirmed == nil {
			t.next = st
			return msgYesNo, nil
		}
		if *in.Confirmed {
			return e.schedule(ctx, t, st.Content, st.ScheduledFor, st.Recurring, false)
		}
		return e.askNewTime(t, st.Content, st.Recurring), nil
	}
	return e.unhandled(t, in)
}

func (e *Engine) askNewTime(t *turn, content string, rec *reminder.Recurring) string {
	t.next = reminder.FollowupDatetime{Content: content, Recurring: rec}
	return fmt.Sprintf("No problem. When should I remind you to %s instead?", content)
}

func (e *Engine) handleDateClarification(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	st, ok := t.user.State.(reminder.DateClarification)
	if !ok {
		return e.unhandled(t, in)
	}

	var date string
	switch in.Option {
	case intent.OptionToday:
		date = st.TodayOption
	case intent.OptionNextWeek:
		date = st.NextWeekOption
	default:
		t.next = st
		return msgTodayOrNextWeek, nil
	}

	return e.proceed(ctx, t, draft{
		content:   st.Content,
		req:       timeparse.Request{Date: date, Time: st.Time, TimeReference: st.TimeReference},
		recurring: st.Recurring,
	})
}

// proceed validates content, resolves the time and hands over to schedule.
// Missing or invalid pieces move the conversation to the state that asks
// for them, keeping what is already known.
func (e *Engine) proceed(ctx context.Context, t *turn, d draft) (string, error) {
	if d.content == "" {
		t.next = d.followupContent()
		return msgAskContent, nil
	}
	if cr := validate.ValidateContent(d.content); !cr.Valid {
		t.next = d.followupContent()
		return cr.Message, nil
	}

	if d.req.Date == "" && !d.req.HasTime() {
		t.next = reminder.FollowupDatetime{Content: d.content, Recurring: d.recurring}
		return fmt.Sprintf(msgAskDatetime, d.content), nil
	}

	if wd, ok := timeparse.IsBareWeekday(d.req.Date); ok && wd == t.now.Weekday() {
		name := strings.ToLower(wd.String())
		t.next = reminder.DateClarification{
			Content:        d.content,
			TodayOption:    "today",
			NextWeekOption: "next " + name,
			Time:           d.req.Time,
			TimeReference:  d.req.TimeReference,
			Recurring:      d.recurring,
		}
		return fmt.Sprintf("Today is %s. Did you mean today or next %s?", wd, wd), nil
	}

	when, err := e.resolver.Resolve(d.req, t.user.TimePreferences, t.user.Timezone)
	if err != nil {
		msg := msgUnclearDatetime
		var dpe *timeparse.DateParseError
		if errors.As(err, &dpe) {
			msg = dpe.Message
		}
		t.next = reminder.FollowupDatetime{Content: d.content, Recurring: d.recurring}
		return msg, nil
	}

	if d.recurring != nil && d.recurring.Pattern != nil {
		when = recurrence.Align(when, *d.recurring.Pattern)
	}
	return e.schedule(ctx, t, d.content, when, d.recurring, true)
}

// schedule checks the date, then conflicts, then creates the reminder.
func (e *Engine) schedule(ctx context.Context, t *turn, content string, when time.Time, rec *reminder.Recurring, checkConflicts bool) (string, error) {
	dr := e.validator.ValidateDate(when, t.loc)
	if !dr.Valid {
		t.next = reminder.RescheduleConfirmation{Content: content, SuggestedDate: *dr.Suggestion, Recurring: rec}
		return dr.Message, nil
	}
	when = dr.Date

	var notes []string
	if dr.Adjusted {
		notes = append(notes, dr.Message)
	}

	if checkConflicts {
		cr, err := e.validator.CheckConflicts(ctx, t.user.Phone, when, e.conflictDuration, t.loc)
		if err != nil {
			return "", err
		}
		if cr.HasConflict {
			t.next = reminder.ConflictResolution{
				Content:      content,
				ScheduledFor: when,
				ConflictIDs:  cr.ConflictIDs(),
				Recurring:    rec,
			}
			return cr.Message, nil
		}
	}

	return e.create(ctx, t, content, when, rec, notes...)
}

func (e *Engine) create(ctx context.Context, t *turn, content string, when time.Time, rec *reminder.Recurring, notes ...string) (string, error) {
	r := reminder.Reminder{
		UserPhone:    t.user.Phone,
		Content:      content,
		ScheduledFor: when.UTC(),
		Recurrence:   reminder.RecurrenceNone,
		Status:       reminder.StatusPending,
		Channel:      t.user.Channel,
	}
	if rec != nil && rec.Pattern != nil {
		r.Recurrence = rec.Kind
		r.Pattern = rec.Pattern
		r.EndDate = rec.EndDate
	}

	created, err := e.store.Create(ctx, r)
	if err != nil {
		return "", err
	}
	e.metrics.ReminderCreated(string(created.Recurrence))
	e.logger.Info("reminder created", "phone", t.user.Phone, "id", created.ID,
		"scheduled_for", created.ScheduledFor, "recurrence", created.Recurrence)

	t.next = reminder.Initial{}
	return strings.Join(append(notes, confirmation(created, t.loc)), " "), nil
}

func confirmation(r *reminder.Reminder, loc *time.Location) string {
	if r.IsRecurring() {
		return fmt.Sprintf("Reminder set: %q %s.", r.Content,
			recurrence.Describe(*r.Pattern, r.ScheduledFor.In(loc), r.EndDate))
	}
	return fmt.Sprintf("Reminder set: %q on %s.", r.Content, timeparse.FormatWhen(r.ScheduledFor, loc))
}

// recurringFrom builds the recurrence carried by an intent. The upstream
// fields win; the user's own words fill in a missing day set or end date.
// The text only decides the kind when the intent left recurrence unset and
// the words say the event repeats; an explicit "none" is a one-off.
func recurringFrom(in intent.Intent, now time.Time) *reminder.Recurring {
	var parsed *recurrence.Parsed
	if in.Recurring() || (in.Recurrence == "" && recurrence.HasRepeatCue(in.Original)) {
		parsed = recurrence.Parse(in.Original, now)
	}

	kind, pattern := in.Recurrence, in.Pattern
	if !in.Recurring() {
		if parsed == nil {
			return nil
		}
		kind, pattern = parsed.Kind, &parsed.Pattern
	}
	if pattern == nil {
		pattern = recurrence.KindPattern(kind)
	}
	if parsed != nil && (pattern == nil || lacksDays(*pattern, parsed.Pattern)) {
		pattern = &parsed.Pattern
	}
	if pattern == nil {
		return nil
	}

	return &reminder.Recurring{
		Kind:    kind,
		Pattern: pattern,
		EndDate: endDate(in.EndDate, in.Original, now),
	}
}

// lacksDays reports whether p is the same weekly rule as parsed without
// the weekday information parsed carries.
func lacksDays(p, parsed reminder.RecurrencePattern) bool {
	return p.Frequency == reminder.FrequencyWeek && parsed.Frequency == reminder.FrequencyWeek &&
		p.DayOfWeek == nil && len(p.DaysOfWeek) == 0 &&
		(parsed.DayOfWeek != nil || len(parsed.DaysOfWeek) > 0)
}

// endDate reads an explicit end date (ISO first, then as an until phrase)
// and falls back to an until clause in the original text.
func endDate(explicit, original string, now time.Time) *time.Time {
	if explicit != "" {
		if d, err := time.ParseInLocation("2006-01-02", explicit, now.Location()); err == nil {
			end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, d.Location())
			return &end
		}
		if end := recurrence.ParseUntil("until "+explicit, now); end != nil {
			return end
		}
	}
	return recurrence.ParseUntil(original, now)
}
