package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

const msgVoiceUnknown = "Sorry, I didn't catch that. Say \"done\", \"remind me in 10 minutes\" or \"cancel\"."

// HandleVoiceResponse applies a spoken reply to the reminder the call was
// about: completed acknowledges it, delay brings it back later and cancel
// stops it along with the rest of its series.
func (e *Engine) HandleVoiceResponse(ctx context.Context, phone string, reminderID int64, transcript string) (string, error) {
	mu := e.lock(phone)
	mu.Lock()
	defer mu.Unlock()

	start := e.now()
	resp := intent.ClassifyVoice(transcript)
	out, err := e.voice(ctx, phone, reminderID, resp)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.logger.Error("voice response failed", "phone", phone, "reminder_id", reminderID, "kind", resp.Kind, "error", err)
		out = msgTryAgain
	}
	e.metrics.ObserveTurn("voice_"+string(resp.Kind), outcome, e.now().Sub(start))
	return out, err
}

func (e *Engine) voice(ctx context.Context, phone string, id int64, resp intent.VoiceResponse) (string, error) {
	r, err := e.store.GetByID(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) {
		return "I couldn't find that reminder.", nil
	}
	if err != nil {
		return "", err
	}
	if r.UserPhone != phone {
		return "I couldn't find that reminder.", nil
	}
	if resp.Kind == intent.VoiceUnknown {
		return msgVoiceUnknown, nil
	}
	if r.Status == reminder.StatusAcknowledged || r.Status == reminder.StatusCancelled {
		return fmt.Sprintf("The reminder %q is already %s.", r.Content, r.Status), nil
	}

	switch resp.Kind {
	case intent.VoiceCompleted:
		if err := e.store.UpdateStatus(ctx, r.ID, reminder.StatusAcknowledged); err != nil {
			return "", err
		}
		return fmt.Sprintf("Great, I've marked %q as done.", r.Content), nil

	case intent.VoiceDelay:
		return e.snooze(ctx, phone, r, time.Duration(resp.Minutes)*time.Minute)

	case intent.VoiceCancel:
		if err := e.store.UpdateStatus(ctx, r.ID, reminder.StatusCancelled); err != nil {
			return "", err
		}
		if r.IsRecurring() || r.SeriesOrigin > 0 {
			if _, err := e.store.CancelSeries(ctx, seriesOrigin(r)); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("Okay, I've cancelled %q.", r.Content), nil
	}
	return msgVoiceUnknown, nil
}

// snooze moves a pending reminder, or schedules a one-off follow-up for
// one that was already sent so the series keeps its own schedule.
func (e *Engine) snooze(ctx context.Context, phone string, r *reminder.Reminder, d time.Duration) (string, error) {
	loc := time.Local
	if user, err := e.store.GetOrCreateUser(ctx, phone, e.defaultTimezone, e.defaultChannel); err == nil {
		loc = e.resolver.Location(user.Timezone)
	}
	at := e.now().Add(d).UTC().Truncate(time.Second)

	if r.Status == reminder.StatusPending {
		if _, err := e.store.Update(ctx, r.ID, reminder.UpdateFields{ScheduledFor: &at}); err != nil {
			return "", err
		}
	} else {
		_, err := e.store.Create(ctx, reminder.Reminder{
			UserPhone:        r.UserPhone,
			Content:          r.Content,
			ScheduledFor:     at,
			Recurrence:       reminder.RecurrenceNone,
			Status:           reminder.StatusPending,
			Channel:          r.Channel,
			SeriesOrigin:     seriesOrigin(r),
			PreviousInstance: r.ID,
		})
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Okay, I'll remind you about %q again at %s.", r.Content,
		timeparse.FormatWhen(at, loc)), nil
}
