package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/reminder"
)

const phone = "+15550001111"

// Wednesday, 28 May 2025, 10:00 UTC.
var testNow = time.Date(2025, time.May, 28, 10, 0, 0, 0, time.UTC)

type scriptedIntents struct {
	byText map[string]intent.Intent
	err    error
}

func (s *scriptedIntents) Extract(_ context.Context, text string, _ reminder.StateKind, _ time.Time) (intent.Intent, error) {
	if s.err != nil {
		return intent.Intent{}, s.err
	}
	in, ok := s.byText[text]
	if !ok {
		return intent.Fallback(text), &intent.UpstreamParseFailure{Raw: "garbage", Err: errors.New("not json")}
	}
	in.Original = text
	return in, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+": "+text)
	return r.err
}

func openStore(t *testing.T) *reminder.Store {
	t.Helper()
	s, err := reminder.NewStore(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, store Store, intents IntentSource, sender Sender) *Engine {
	t.Helper()
	e, err := New(store, intents, sender, Options{
		DefaultTimezone: "UTC",
		Now:             func() time.Time { return testNow },
		Logger:          logging.Discard(),
	})
	require.NoError(t, err)
	return e
}

func state(t *testing.T, e *Engine) reminder.State {
	t.Helper()
	s, err := e.State(t.Context(), phone)
	require.NoError(t, err)
	return s
}

func pending(t *testing.T, s *reminder.Store) []reminder.Reminder {
	t.Helper()
	rs, err := s.ListByUser(t.Context(), phone, reminder.StatusPending)
	require.NoError(t, err)
	return rs
}

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2025, month, day, hour, min, 0, 0, time.UTC)
}

func assertTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func boolPtr(b bool) *bool { return &b }

func TestCallMomTomorrowAt5pm(t *testing.T) {
	store := openStore(t)
	sender := &recordingSender{}
	text := "remind me to call mom tomorrow at 5pm"
	intents := &scriptedIntents{byText: map[string]intent.Intent{
		text: {Type: intent.TypeReminder, Content: "call mom", Date: "tomorrow", Time: "17:00"},
	}}
	e := newEngine(t, store, intents, sender)

	reply, err := e.HandleMessage(t.Context(), phone, text)
	require.NoError(t, err)

	assert.Contains(t, reply, "call mom")
	assert.Contains(t, reply, "Thursday, May 29 at 5:00 PM")
	assert.Equal(t, []string{phone + ": " + reply}, sender.sent)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assert.Equal(t, "call mom", rs[0].Content)
	assert.Equal(t, reminder.StatusPending, rs[0].Status)
	assert.Equal(t, reminder.RecurrenceNone, rs[0].Recurrence)
	assertTime(t, at(time.May, 29, 17, 0), rs[0].ScheduledFor)
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestIncompleteThenDatetime(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{
		Type: intent.TypeIncompleteReminder, Content: "buy milk", Missing: []string{"date", "time"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "buy milk")
	assert.Equal(t, reminder.FollowupDatetime{Content: "buy milk"}, state(t, e))

	reply, err = e.HandleIntent(t.Context(), phone, intent.Intent{
		Type: intent.TypeReminderDatetime, Date: "2025-06-01", Time: "09:00",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "buy milk")

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assert.Equal(t, "buy milk", rs[0].Content)
	assertTime(t, at(time.June, 1, 9, 0), rs[0].ScheduledFor)
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestDatetimeThenContent(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{
		Type: intent.TypeReminderDatetime, Date: "tomorrow", Time: "08:00",
	})
	require.NoError(t, err)
	assert.Equal(t, msgAskContent, reply)
	assert.Equal(t, reminder.FollowupContent{Date: "tomorrow", Time: "08:00"}, state(t, e))

	// A bare time word is not content; the known time is kept.
	reply, err = e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeReminderContent, Content: "morning"})
	require.NoError(t, err)
	assert.Contains(t, reply, "What would you like me to remind you about?")
	assert.Equal(t, reminder.FollowupContent{Date: "tomorrow", Time: "08:00"}, state(t, e))

	_, err = e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeReminderContent, Content: "water the plants"})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assert.Equal(t, "water the plants", rs[0].Content)
	assertTime(t, at(time.May, 29, 8, 0), rs[0].ScheduledFor)
}

func TestConflictResolution(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	_, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "standup", Date: "today", Time: "15:00"})
	require.NoError(t, err)

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "call bob", Date: "today", Time: "15:10"})
	require.NoError(t, err)
	assert.Contains(t, reply, "standup")

	st, ok := state(t, e).(reminder.ConflictResolution)
	require.True(t, ok)
	assert.Equal(t, "call bob", st.Content)
	assert.Len(t, st.ConflictIDs, 1)
	assertTime(t, at(time.May, 28, 15, 10), st.ScheduledFor)

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeConfirmation, Confirmed: boolPtr(true)})
	require.NoError(t, err)
	assert.Contains(t, reply, "call bob")
	assert.Len(t, pending(t, store), 2)
	assert.Equal(t, reminder.Initial{}, state(t, e))

	// No conflict an hour later.
	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "email", Date: "today", Time: "17:00"})
	require.NoError(t, err)
	assert.Len(t, pending(t, store), 3)
}

func TestConflictDeclinedAsksForNewTime(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	_, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "standup", Date: "today", Time: "15:00"})
	require.NoError(t, err)
	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "call bob", Date: "today", Time: "15:10"})
	require.NoError(t, err)

	// An answer that is neither yes nor no keeps the question open.
	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeConfirmation})
	require.NoError(t, err)
	assert.Equal(t, msgYesNo, reply)
	assert.Equal(t, reminder.StateConflictResolution, state(t, e).Kind())

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeConfirmation, Confirmed: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, reminder.FollowupDatetime{Content: "call bob"}, state(t, e))
	assert.Len(t, pending(t, store), 1)
}

func TestPastDateOffersReschedule(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "pay rent", Date: "2025-05-20", Time: "09:00"})
	require.NoError(t, err)
	assert.Contains(t, reply, "in the past")

	st, ok := state(t, e).(reminder.RescheduleConfirmation)
	require.True(t, ok)
	// Today at 09:00 has passed, so the suggestion is tomorrow.
	assertTime(t, at(time.May, 29, 9, 0), st.SuggestedDate)
	assert.Empty(t, pending(t, store))

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeConfirmation, Confirmed: boolPtr(true)})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assertTime(t, at(time.May, 29, 9, 0), rs[0].ScheduledFor)
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestInvalidCalendarDateAsksAgain(t *testing.T) {
	e := newEngine(t, openStore(t), nil, nil)

	reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeReminder, Content: "party", Date: "2025-02-30", Time: "20:00"})
	require.NoError(t, err)
	assert.Contains(t, reply, "only has 28 days")
	assert.Equal(t, reminder.FollowupDatetime{Content: "party"}, state(t, e))
}

func TestBareWeekdayTodayNeedsClarification(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "yoga", Date: "wednesday", Time: "18:00"})
	require.NoError(t, err)
	assert.Contains(t, reply, "today or next Wednesday")
	assert.Equal(t, reminder.DateClarification{
		Content: "yoga", TodayOption: "today", NextWeekOption: "next wednesday", Time: "18:00",
	}, state(t, e))

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeDateClarification, Option: intent.OptionNextWeek})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assertTime(t, at(time.June, 4, 18, 0), rs[0].ScheduledFor)
}

func TestBareWeekdayOtherDayIsThisWeek(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	_, err := e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeReminder, Content: "yoga", Date: "friday", Time: "18:00"})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assertTime(t, at(time.May, 30, 18, 0), rs[0].ScheduledFor)
}

func TestRecurringReminderFromOriginalText(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{
		Type:       intent.TypeReminder,
		Content:    "go to the gym",
		Time:       "08:00",
		Recurrence: reminder.RecurrenceWeekly,
		Original:   "remind me to go to the gym every Monday and Wednesday at 8am until December",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "every Monday and Wednesday")

	rs := pending(t, store)
	require.Len(t, rs, 1)
	r := rs[0]
	assert.Equal(t, reminder.RecurrenceWeekly, r.Recurrence)
	require.NotNil(t, r.Pattern)
	assert.Equal(t, []int{1, 3}, r.Pattern.DaysOfWeek)
	require.NotNil(t, r.EndDate)
	assertTime(t, time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC), *r.EndDate)
	// 08:00 today has passed; the first allowed day after Thursday is Monday.
	assertTime(t, at(time.June, 2, 8, 0), r.ScheduledFor)
}

func TestOneOffReminderMentioningWeekdaysDoesNotRepeat(t *testing.T) {
	tests := []struct {
		name       string
		recurrence reminder.RecurrenceKind
	}{
		{"explicit none", reminder.RecurrenceNone},
		{"unset", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			e := newEngine(t, store, nil, nil)

			reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{
				Type:       intent.TypeReminder,
				Content:    "prepare slides for monday standup",
				Date:       "friday",
				Time:       "09:00",
				Recurrence: tt.recurrence,
				Original:   "remind me on friday to prepare slides for monday's standup",
			})
			require.NoError(t, err)
			assert.NotContains(t, reply, "every")

			rs := pending(t, store)
			require.Len(t, rs, 1)
			assert.Equal(t, reminder.RecurrenceNone, rs[0].Recurrence)
			assert.Nil(t, rs[0].Pattern)
			assert.Nil(t, rs[0].EndDate)
			assertTime(t, at(time.May, 30, 9, 0), rs[0].ScheduledFor)
		})
	}
}

func TestUnsetRecurrenceWithRepeatWordsIsInferred(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	_, err := e.HandleIntent(t.Context(), phone, intent.Intent{
		Type:     intent.TypeReminder,
		Content:  "water the plants",
		Time:     "18:00",
		Original: "remind me to water the plants every Tuesday and Friday at 6pm",
	})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assert.Equal(t, reminder.RecurrenceWeekly, rs[0].Recurrence)
	require.NotNil(t, rs[0].Pattern)
	assert.Equal(t, []int{2, 5}, rs[0].Pattern.DaysOfWeek)
}

func TestDeleteWithSelection(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	for _, in := range []intent.Intent{
		{Type: intent.TypeReminder, Content: "dentist appointment", Date: "tomorrow", Time: "09:00"},
		{Type: intent.TypeReminder, Content: "call the dentist back", Date: "tomorrow", Time: "12:00"},
		{Type: intent.TypeReminder, Content: "buy bread", Date: "tomorrow", Time: "18:00"},
	} {
		_, err := e.HandleIntent(ctx, phone, in)
		require.NoError(t, err)
	}

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeDeleteReminder, Query: "dentist"})
	require.NoError(t, err)
	assert.Contains(t, reply, "1. dentist appointment")
	assert.Contains(t, reply, "2. call the dentist back")

	st, ok := state(t, e).(reminder.DeleteSelection)
	require.True(t, ok)
	require.Len(t, st.CandidateIDs, 2)

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeSelection, Selection: 5})
	require.NoError(t, err)
	assert.Contains(t, reply, "between 1 and 2")
	assert.Equal(t, reminder.StateDeleteSelection, state(t, e).Kind())

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeSelection, Selection: 2})
	require.NoError(t, err)
	assert.Equal(t, reminder.Initial{}, state(t, e))

	deleted, err := store.GetByID(ctx, st.CandidateIDs[1])
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusCancelled, deleted.Status)
	assert.Len(t, pending(t, store), 2)
}

func TestDeleteNoMatch(t *testing.T) {
	e := newEngine(t, openStore(t), nil, nil)

	reply, err := e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeDeleteReminder, Query: "piano lesson"})
	require.NoError(t, err)
	assert.Contains(t, reply, "couldn't find")
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestUpdateSingleMatchKeepsDate(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	_, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "gym session", Date: "tomorrow", Time: "07:00"})
	require.NoError(t, err)

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypeUpdateReminder, Query: "gym", Updates: reminder.Updates{Time: "08:30"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "8:30 AM")

	rs := pending(t, store)
	require.Len(t, rs, 1)
	assertTime(t, at(time.May, 29, 8, 30), rs[0].ScheduledFor)
}

func TestUpdateWithSelection(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	for _, in := range []intent.Intent{
		{Type: intent.TypeReminder, Content: "take vitamins", Date: "tomorrow", Time: "08:00"},
		{Type: intent.TypeReminder, Content: "take out the trash", Date: "tomorrow", Time: "20:00"},
	} {
		_, err := e.HandleIntent(ctx, phone, in)
		require.NoError(t, err)
	}

	_, err := e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypeUpdateReminder, Query: "take", Updates: reminder.Updates{Content: "take fish oil"},
	})
	require.NoError(t, err)
	st, ok := state(t, e).(reminder.UpdateSelection)
	require.True(t, ok)
	assert.Equal(t, "take fish oil", st.Updates.Content)

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeSelection, Selection: 1})
	require.NoError(t, err)

	updated, err := store.GetByID(ctx, st.CandidateIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "take fish oil", updated.Content)
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestListFilters(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeListReminders})
	require.NoError(t, err)
	assert.Equal(t, "You have no upcoming reminders.", reply)

	for _, in := range []intent.Intent{
		{Type: intent.TypeReminder, Content: "lunch with sam", Date: "today", Time: "12:30"},
		{Type: intent.TypeReminder, Content: "renew passport", Date: "2025-06-02", Time: "10:00"},
		{Type: intent.TypeReminder, Content: "dentist", Date: "2025-07-15", Time: "10:00"},
	} {
		_, err := e.HandleIntent(ctx, phone, in)
		require.NoError(t, err)
	}

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeListReminders, Filter: intent.FilterToday})
	require.NoError(t, err)
	assert.Contains(t, reply, "lunch with sam")
	assert.NotContains(t, reply, "passport")

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeListReminders, Filter: intent.FilterWeek})
	require.NoError(t, err)
	assert.Contains(t, reply, "passport")
	assert.NotContains(t, reply, "dentist")

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeListReminders, Filter: intent.FilterContent, Query: "passports"})
	require.NoError(t, err)
	assert.Contains(t, reply, "renew passport")

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeListReminders, Filter: intent.FilterAll})
	require.NoError(t, err)
	assert.Contains(t, reply, "3. dentist")
}

func TestPreferences(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)
	ctx := t.Context()

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypePreference, Action: intent.ActionSet, PreferenceKey: "timezone", PreferenceValue: "Mars/Olympus",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "don't recognise")

	_, err = e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypePreference, Action: intent.ActionSet, PreferenceKey: "timezone", PreferenceValue: "America/New_York",
	})
	require.NoError(t, err)
	_, err = e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypePreference, Action: intent.ActionSet, PreferenceKey: "morning", PreferenceValue: "7:30am",
	})
	require.NoError(t, err)
	_, err = e.HandleIntent(ctx, phone, intent.Intent{
		Type: intent.TypePreference, Action: intent.ActionSet, PreferenceKey: "channel", PreferenceValue: "call",
	})
	require.NoError(t, err)

	user, err := store.GetUser(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", user.Timezone)
	assert.Equal(t, reminder.ChannelVoice, user.Channel)
	assert.Equal(t, reminder.TimeOfDay{Hour: 7, Minute: 30}, user.TimePreferences["morning"])

	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypePreference, Action: intent.ActionGet})
	require.NoError(t, err)
	assert.Contains(t, reply, "America/New_York")
	assert.Contains(t, reply, "morning: 07:30")

	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminder, Content: "stretch", Date: "tomorrow", TimeReference: "morning"})
	require.NoError(t, err)

	rs := pending(t, store)
	require.Len(t, rs, 1)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assertTime(t, time.Date(2025, time.May, 29, 7, 30, 0, 0, ny), rs[0].ScheduledFor)
	assert.Equal(t, reminder.ChannelVoice, rs[0].Channel)
}

func TestFallbackPolicy(t *testing.T) {
	e := newEngine(t, openStore(t), nil, nil)
	ctx := t.Context()

	_, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeIncompleteReminder, Content: "buy milk"})
	require.NoError(t, err)
	require.Equal(t, reminder.StateFollowupDatetime, state(t, e).Kind())

	// A known type the state does not expect keeps the state.
	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeSelection, Selection: 1})
	require.NoError(t, err)
	assert.Contains(t, reply, "When should I remind you to buy milk?")
	assert.Equal(t, reminder.StateFollowupDatetime, state(t, e).Kind())

	// Small talk keeps the state too.
	_, err = e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeNotReminder})
	require.NoError(t, err)
	assert.Equal(t, reminder.StateFollowupDatetime, state(t, e).Kind())

	// An unknown type resets.
	reply, err = e.HandleIntent(ctx, phone, intent.Intent{Type: "weather_report"})
	require.NoError(t, err)
	assert.Equal(t, msgNotUnderstood, reply)
	assert.Equal(t, reminder.Initial{}, state(t, e))
}

func TestUnreadablePayloadFallsBack(t *testing.T) {
	e := newEngine(t, openStore(t), &scriptedIntents{}, nil)

	reply, err := e.HandleMessage(t.Context(), phone, "remind me something")
	require.NoError(t, err)
	assert.Equal(t, msgAskContent, reply)
	assert.Equal(t, reminder.StateFollowupContent, state(t, e).Kind())

	reply, err = e.HandleMessage(t.Context(), phone, "how are you")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}

func TestExtractionErrorLeavesState(t *testing.T) {
	store := openStore(t)
	intents := &scriptedIntents{}
	e := newEngine(t, store, intents, nil)

	_, err := e.HandleIntent(t.Context(), phone, intent.Intent{Type: intent.TypeIncompleteReminder, Content: "buy milk"})
	require.NoError(t, err)

	intents.err = errors.New("upstream timeout")
	reply, err := e.HandleMessage(t.Context(), phone, "tomorrow at 9")
	require.Error(t, err)
	assert.Equal(t, msgTryAgain, reply)
	assert.Equal(t, reminder.FollowupDatetime{Content: "buy milk"}, state(t, e))
}

type failingCreate struct {
	*reminder.Store
}

func (failingCreate) Create(context.Context, reminder.Reminder) (*reminder.Reminder, error) {
	return nil, &reminder.PersistenceError{Op: "insert reminder", Err: errors.New("disk I/O error")}
}

func TestPersistenceFailureLeavesState(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, failingCreate{store}, nil, nil)
	ctx := t.Context()

	_, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeIncompleteReminder, Content: "buy milk"})
	require.NoError(t, err)

	reply, err := e.HandleIntent(ctx, phone, intent.Intent{Type: intent.TypeReminderDatetime, Date: "tomorrow", Time: "09:00"})
	var pe *reminder.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, msgTryAgain, reply)
	assert.Equal(t, reminder.FollowupDatetime{Content: "buy milk"}, state(t, e))
}

func TestHandleInboundDropsDuplicates(t *testing.T) {
	store := openStore(t)
	sender := &recordingSender{err: errors.New("gateway down")}
	text := "remind me to call mom tomorrow at 5pm"
	intents := &scriptedIntents{byText: map[string]intent.Intent{
		text: {Type: intent.TypeReminder, Content: "call mom", Date: "tomorrow", Time: "17:00"},
	}}
	e := newEngine(t, store, intents, sender)

	reply, err := e.HandleInbound(t.Context(), "wamid.1", phone, text)
	require.NoError(t, err, "send failures are best effort")
	assert.NotEmpty(t, reply)

	reply, err = e.HandleInbound(t.Context(), "wamid.1", phone, text)
	require.NoError(t, err)
	assert.Empty(t, reply)

	assert.Len(t, pending(t, store), 1)
	assert.Len(t, sender.sent, 1)
}

func TestConcurrentTurnsForOneUser(t *testing.T) {
	store := openStore(t)
	e := newEngine(t, store, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.HandleIntent(context.Background(), phone, intent.Intent{Type: intent.TypeListReminders})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, reminder.Initial{}, state(t, e))
}
