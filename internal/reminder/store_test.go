package reminder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+15550002222"

var storeNow = time.Date(2025, time.May, 28, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s.now = func() time.Time { return storeNow }
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, r Reminder) *Reminder {
	t.Helper()
	if r.UserPhone == "" {
		r.UserPhone = testPhone
	}
	created, err := s.Create(t.Context(), r)
	require.NoError(t, err)
	return created
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	day := 1
	end := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)

	created := mustCreate(t, s, Reminder{
		Content:      "water plants",
		ScheduledFor: storeNow.Add(time.Hour),
		Recurrence:   RecurrenceWeekly,
		Pattern:      &RecurrencePattern{Frequency: FrequencyWeek, Interval: 1, DayOfWeek: &day},
		EndDate:      &end,
	})
	assert.NotZero(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, ChannelChat, created.Channel)

	got, err := s.GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "water plants", got.Content)
	assert.True(t, got.ScheduledFor.Equal(storeNow.Add(time.Hour)))
	require.NotNil(t, got.Pattern)
	assert.Equal(t, FrequencyWeek, got.Pattern.Frequency)
	require.NotNil(t, got.Pattern.DayOfWeek)
	assert.Equal(t, 1, *got.Pattern.DayOfWeek)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.IsRecurring())

	_, err = s.GetByID(t.Context(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndFind(t *testing.T) {
	s := openTestStore(t)
	later := mustCreate(t, s, Reminder{Content: "Dentist appointment", ScheduledFor: storeNow.Add(48 * time.Hour)})
	soon := mustCreate(t, s, Reminder{Content: "call mom", ScheduledFor: storeNow.Add(time.Hour)})
	done := mustCreate(t, s, Reminder{Content: "pay 100% of rent", ScheduledFor: storeNow.Add(2 * time.Hour)})
	require.NoError(t, s.UpdateStatus(t.Context(), done.ID, StatusCancelled))
	mustCreate(t, s, Reminder{UserPhone: "+15559999999", Content: "call mom", ScheduledFor: storeNow})

	all, err := s.ListByUser(t.Context(), testPhone)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, soon.ID, all[0].ID)

	pending, err := s.ListByUser(t.Context(), testPhone, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	inRange, err := s.FindInRange(t.Context(), testPhone, storeNow, storeNow.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, soon.ID, inRange[0].ID)

	byContent, err := s.FindByContent(t.Context(), testPhone, "DENTIST")
	require.NoError(t, err)
	require.Len(t, byContent, 1)
	assert.Equal(t, later.ID, byContent[0].ID)

	// LIKE wildcards in the query are literal; the cancelled match is excluded.
	byContent, err = s.FindByContent(t.Context(), testPhone, "100%")
	require.NoError(t, err)
	assert.Empty(t, byContent)
}

func TestGetDue(t *testing.T) {
	s := openTestStore(t)
	overdue := mustCreate(t, s, Reminder{Content: "a", ScheduledFor: storeNow.Add(-time.Hour)})
	exact := mustCreate(t, s, Reminder{Content: "b", ScheduledFor: storeNow})
	mustCreate(t, s, Reminder{Content: "c", ScheduledFor: storeNow.Add(time.Minute)})
	sent := mustCreate(t, s, Reminder{Content: "d", ScheduledFor: storeNow.Add(-2 * time.Hour)})
	require.NoError(t, s.UpdateStatus(t.Context(), sent.ID, StatusSent))

	due, err := s.GetDue(t.Context(), storeNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, overdue.ID, due[0].ID)
	assert.Equal(t, exact.ID, due[1].ID)

	due, err = s.GetDue(t.Context(), storeNow, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusAcknowledged, true},
		{StatusSent, StatusAcknowledged, true},
		{StatusSent, StatusCancelled, true},
		{StatusSent, StatusPending, false},
		{StatusAcknowledged, StatusPending, false},
		{StatusCancelled, StatusSent, false},
		{StatusCancelled, StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			s := openTestStore(t)
			r := mustCreate(t, s, Reminder{Content: "x", ScheduledFor: storeNow, Status: tt.from})

			err := s.UpdateStatus(t.Context(), r.ID, tt.to)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := s.GetByID(t.Context(), r.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
		})
	}
}

func TestCancelSeries(t *testing.T) {
	s := openTestStore(t)
	pattern := &RecurrencePattern{Frequency: FrequencyDay, Interval: 1}
	origin := mustCreate(t, s, Reminder{Content: "stretch", ScheduledFor: storeNow, Recurrence: RecurrenceDaily, Pattern: pattern})
	require.NoError(t, s.UpdateStatus(t.Context(), origin.ID, StatusSent))
	next := mustCreate(t, s, Reminder{Content: "stretch", ScheduledFor: storeNow.Add(24 * time.Hour),
		Recurrence: RecurrenceDaily, Pattern: pattern, SeriesOrigin: origin.ID, PreviousInstance: origin.ID})
	other := mustCreate(t, s, Reminder{Content: "other", ScheduledFor: storeNow})

	n, err := s.CancelSeries(t.Context(), origin.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetByID(t.Context(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	got, err = s.GetByID(t.Context(), origin.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Status)

	got, err = s.GetByID(t.Context(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	r := mustCreate(t, s, Reminder{Content: "gym", ScheduledFor: storeNow})

	content := "gym with Sam"
	when := storeNow.Add(3 * time.Hour)
	channel := ChannelVoice
	updated, err := s.Update(t.Context(), r.ID, UpdateFields{Content: &content, ScheduledFor: &when, Channel: &channel})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)
	assert.True(t, updated.ScheduledFor.Equal(when))
	assert.Equal(t, ChannelVoice, updated.Channel)

	unchanged, err := s.Update(t.Context(), r.ID, UpdateFields{})
	require.NoError(t, err)
	assert.Equal(t, content, unchanged.Content)

	_, err = s.Update(t.Context(), 9999, UpdateFields{Content: &content})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(t.Context(), r.ID))
	assert.ErrorIs(t, s.Delete(t.Context(), r.ID), ErrNotFound)
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetOrCreateUser(t.Context(), testPhone, "Europe/Berlin", ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", u.Timezone)
	assert.Equal(t, Initial{}, u.State)

	u.TimePreferences["morning"] = TimeOfDay{Hour: 7, Minute: 30}
	u.Channel = ChannelBoth
	u.State = DeleteSelection{CandidateIDs: []int64{4, 7}}
	require.NoError(t, s.SaveUser(t.Context(), u))

	// Defaults only apply on first contact.
	got, err := s.GetOrCreateUser(t.Context(), testPhone, "UTC", ChannelVoice)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.Equal(t, ChannelBoth, got.Channel)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 30}, got.TimePreferences["morning"])
	assert.Equal(t, DeleteSelection{CandidateIDs: []int64{4, 7}}, got.State)
	assert.True(t, got.LastInteraction.Equal(storeNow))

	_, err = s.GetUser(t.Context(), "+10000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptStateFallsBackToInitial(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetOrCreateUser(t.Context(), testPhone, "UTC", ChannelChat)
	require.NoError(t, err)

	_, err = s.db.ExecContext(t.Context(), `UPDATE users SET state = '{not json' WHERE phone = ?`, testPhone)
	require.NoError(t, err)

	u, err := s.GetUser(t.Context(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, Initial{}, u.State)
}
