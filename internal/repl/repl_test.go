package repl

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/ui"
)

const phone = "+15550004444"

type fakeEngine struct {
	messages []string
	voice    []string
	state    reminder.State
	err      error
}

func (f *fakeEngine) HandleMessage(_ context.Context, _, text string) (string, error) {
	f.messages = append(f.messages, text)
	return "Reminder set: " + text, f.err
}

func (f *fakeEngine) HandleVoiceResponse(_ context.Context, _ string, id int64, transcript string) (string, error) {
	f.voice = append(f.voice, transcript)
	return "Great, I've marked it as done.", nil
}

func (f *fakeEngine) State(context.Context, string) (reminder.State, error) {
	if f.state == nil {
		return reminder.Initial{}, nil
	}
	return f.state, nil
}

type fakeStore struct {
	reminders []reminder.Reminder
}

func (f *fakeStore) ListByUser(context.Context, string, ...string) ([]reminder.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*reminder.Reminder, error) {
	for _, r := range f.reminders {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, reminder.ErrNotFound
}

func (f *fakeStore) GetUser(context.Context, string) (*reminder.User, error) {
	return &reminder.User{Phone: phone, Timezone: "UTC"}, nil
}

func newTestREPL(engine Engine, store Store) (*REPL, *bytes.Buffer) {
	var buf bytes.Buffer
	return &REPL{
		engine:    engine,
		store:     store,
		opts:      Options{Phone: phone},
		out:       &buf,
		formatter: ui.NewFormatter(false),
		spinner:   ui.NewSpinner(&bytes.Buffer{}, false),
	}, &buf
}

func TestParseCommand(t *testing.T) {
	r, _ := newTestREPL(&fakeEngine{}, &fakeStore{})

	isCmd, cmd, args := r.parseCommand("/VOICE 3  remind me later ")
	assert.True(t, isCmd)
	assert.Equal(t, "/voice", cmd)
	assert.Equal(t, "3  remind me later", args)

	isCmd, _, _ = r.parseCommand("remind me to stretch")
	assert.False(t, isCmd)
}

func TestParseVoiceArgs(t *testing.T) {
	id, transcript, err := parseVoiceArgs("#12 remind me in 10 minutes")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.Equal(t, "remind me in 10 minutes", transcript)

	for _, bad := range []string{"", "12", "abc done", "0 done"} {
		_, _, err := parseVoiceArgs(bad)
		assert.Error(t, err, bad)
	}
}

func TestHandleMessagePrintsReply(t *testing.T) {
	engine := &fakeEngine{}
	r, out := newTestREPL(engine, &fakeStore{})

	require.NoError(t, r.handleMessage(context.Background(), "call mom at 5"))
	assert.Equal(t, []string{"call mom at 5"}, engine.messages)
	assert.Contains(t, out.String(), "Assistant: Reminder set: call mom at 5")
}

func TestHandleMessageReportsError(t *testing.T) {
	r, out := newTestREPL(&fakeEngine{err: errors.New("llm down")}, &fakeStore{})

	err := r.handleMessage(context.Background(), "hi")
	assert.EqualError(t, err, "llm down")
	assert.Contains(t, out.String(), "Assistant:")
}

func TestCommands(t *testing.T) {
	engine := &fakeEngine{state: reminder.FollowupDatetime{Content: "buy milk"}}
	store := &fakeStore{reminders: []reminder.Reminder{
		{ID: 7, Content: "water plants", ScheduledFor: time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC), Channel: reminder.ChannelChat},
	}}
	r, out := newTestREPL(engine, store)
	ctx := context.Background()

	require.NoError(t, r.handleCommand(ctx, "/list", ""))
	assert.Contains(t, out.String(), "water plants")

	require.NoError(t, r.handleCommand(ctx, "/state", ""))
	assert.Contains(t, out.String(), "followup_datetime")

	require.NoError(t, r.handleCommand(ctx, "/voice", "7 yes done"))
	assert.Equal(t, []string{"yes done"}, engine.voice)
	assert.Contains(t, out.String(), "marked it as done")

	assert.Error(t, r.handleCommand(ctx, "/voice", "seven"))
	assert.Error(t, r.handleCommand(ctx, "/frobnicate", ""))
}

func TestNotifications(t *testing.T) {
	r, out := newTestREPL(&fakeEngine{}, &fakeStore{})

	require.NoError(t, r.Send(context.Background(), phone, "⏰ Reminder: stretch"))
	require.NoError(t, r.Call(context.Background(), phone, reminder.Reminder{ID: 9, Content: "stretch"}))

	assert.Contains(t, out.String(), "💬 WhatsApp: ⏰ Reminder: stretch")
	assert.Contains(t, out.String(), "📞 Call:")
	assert.Contains(t, out.String(), "/voice 9")
}

func TestCandidateOptions(t *testing.T) {
	store := &fakeStore{reminders: []reminder.Reminder{
		{ID: 1, Content: "dentist", ScheduledFor: time.Date(2025, time.June, 3, 15, 0, 0, 0, time.UTC)},
		{ID: 2, Content: "dentist follow-up", ScheduledFor: time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)},
	}}
	r, _ := newTestREPL(&fakeEngine{}, store)

	options, err := r.candidateOptions(context.Background(), []int64{2, 1})
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "dentist follow-up", options[0].Label)
	assert.Equal(t, "Tuesday, June 3 at 3:00 PM", options[1].Description)
}
