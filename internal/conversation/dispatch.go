package conversation

import (
	"context"
	"fmt"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/reminder"
)

const (
	msgTryAgain        = "Sorry, something went wrong on my side. Please try again."
	msgNotUnderstood   = "I'm not sure how to help with that. You can say things like \"remind me to call mom tomorrow at 5pm\" or \"what are my reminders today?\"."
	msgAskContent      = "What would you like me to remind you about?"
	msgAskDatetime     = "When should I remind you to %s?"
	msgUnclearDatetime = "Sorry, I couldn't understand that date or time. Try something like \"tomorrow at 3pm\" or \"next Monday morning\"."
	msgYesNo           = "Please answer yes or no."
	msgPickNumber      = "Please reply with the number of the reminder, between 1 and %d."
	msgTodayOrNextWeek = "Please reply \"today\" or \"next week\"."
	msgDidNotCatch     = "Sorry, I didn't catch that. "
)

type handlerFunc func(ctx context.Context, t *turn, in intent.Intent) (string, error)

func (e *Engine) routes() map[intent.Type]handlerFunc {
	return map[intent.Type]handlerFunc{
		intent.TypeReminder:           e.handleReminder,
		intent.TypeIncompleteReminder: e.handleIncomplete,
		intent.TypeReminderDatetime:   e.handleDatetime,
		intent.TypeUnclearDatetime:    e.handleUnclearDatetime,
		intent.TypeReminderContent:    e.handleContent,
		intent.TypeNotReminder:        e.handleNotReminder,
		intent.TypeListReminders:      e.handleList,
		intent.TypeDeleteReminder:     e.handleDelete,
		intent.TypeUpdateReminder:     e.handleUpdate,
		intent.TypePreference:         e.handlePreference,
		intent.TypeConfirmation:       e.handleConfirmation,
		intent.TypeSelection:          e.handleSelection,
		intent.TypeUnclearSelection:   e.handleUnclearSelection,
		intent.TypeDateClarification:  e.handleDateClarification,
	}
}

// dispatch routes in to its handler. Types outside the fixed set reset the
// conversation.
func (e *Engine) dispatch(ctx context.Context, t *turn, in intent.Intent) (string, error) {
	h, ok := e.handlers[in.Type]
	if !ok {
		e.logger.Warn("unknown intent type", "type", in.Type, "phone", t.user.Phone)
		t.next = reminder.Initial{}
		return msgNotUnderstood, nil
	}
	return h(ctx, t, in)
}

// unhandled answers a known intent the active state does not accept. The
// state is kept and its question asked again.
func (e *Engine) unhandled(t *turn, in intent.Intent) (string, error) {
	e.logger.Debug("intent not accepted in state", "type", in.Type, "state", t.user.State.Kind())
	t.next = t.user.State
	return msgDidNotCatch + prompt(t.user.State), nil
}

// prompt is the question a state is waiting on.
func prompt(s reminder.State) string {
	switch st := s.(type) {
	case reminder.FollowupDatetime:
		return fmt.Sprintf(msgAskDatetime, st.Content)
	case reminder.FollowupContent:
		return msgAskContent
	case reminder.RescheduleConfirmation, reminder.ConflictResolution:
		return msgYesNo
	case reminder.DeleteSelection:
		return fmt.Sprintf(msgPickNumber, len(st.CandidateIDs))
	case reminder.UpdateSelection:
		return fmt.Sprintf(msgPickNumber, len(st.CandidateIDs))
	case reminder.DateClarification:
		return msgTodayOrNextWeek
	}
	return msgNotUnderstood
}

func (e *Engine) handleNotReminder(_ context.Context, t *turn, in intent.Intent) (string, error) {
	t.next = t.user.State
	if in.Reply != "" {
		return in.Reply, nil
	}
	if _, idle := t.user.State.(reminder.Initial); !idle {
		return msgDidNotCatch + prompt(t.user.State), nil
	}
	return msgNotUnderstood, nil
}
