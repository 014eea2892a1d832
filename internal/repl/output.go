package repl

import (
	"context"
	"fmt"
	"time"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/scheduler"
)

func (r *REPL) println(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintln(r.out, s)
}

func (r *REPL) displayReply(reply string, took time.Duration) {
	if reply == "" {
		return
	}
	r.println("")
	r.println(r.formatter.FormatAssistantMessage(reply))
	if took > 0 {
		r.println(r.formatter.FormatStatus(fmt.Sprintf("(%s)", took.Round(time.Millisecond))))
	}
	r.println("")
}

func (r *REPL) displayError(err error) {
	r.println(r.formatter.FormatError(err))
	r.println("")
}

func (r *REPL) displayWelcome() {
	r.println(r.formatter.FormatWelcome(r.opts.Phone, r.opts.Provider, r.opts.Model))
}

func (r *REPL) displayHelp() {
	r.println(r.formatter.FormatHelp())
	r.println("")
}

// Send prints an outbound chat message as if it arrived on the phone.
func (r *REPL) Send(_ context.Context, to, text string) error {
	if to != r.opts.Phone {
		r.println(r.formatter.FormatSystem(fmt.Sprintf("(message for %s) %s", to, text)))
		return nil
	}
	r.println(r.formatter.FormatNotification(reminder.ChannelChat, text))
	return nil
}

// Call prints a reminder call. The answer is given with /voice.
func (r *REPL) Call(_ context.Context, _ string, rem reminder.Reminder) error {
	r.println(r.formatter.FormatNotification(reminder.ChannelVoice, scheduler.Message(rem)))
	r.println(r.formatter.FormatStatus(fmt.Sprintf("Answer with: /voice %d <done | remind me in 10 minutes | cancel>", rem.ID)))
	return nil
}
