package repl

import (
	"context"
	"errors"
	"strconv"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
	"github.com/notexe/remindme/internal/ui"
)

// offerSelection shows a menu when the assistant is waiting for the user
// to pick a reminder, and sends the picked number as the next message.
func (r *REPL) offerSelection(ctx context.Context) error {
	st, err := r.engine.State(ctx, r.opts.Phone)
	if err != nil {
		return err
	}

	var ids []int64
	switch s := st.(type) {
	case reminder.DeleteSelection:
		ids = s.CandidateIDs
	case reminder.UpdateSelection:
		ids = s.CandidateIDs
	default:
		return nil
	}

	options, err := r.candidateOptions(ctx, ids)
	if err != nil || len(options) != len(ids) {
		return err
	}

	// Temporarily close readline to avoid terminal conflicts
	r.rl.Close()
	n, runErr := ui.NewSelector("Pick a reminder", options, r.opts.Colored).Run()
	newRl, rlErr := setupReadline(r.formatter.FormatPrompt())
	if rlErr != nil {
		return rlErr
	}
	r.rl = newRl
	r.outMu.Lock()
	r.out = newRl.Stdout()
	r.outMu.Unlock()

	if errors.Is(runErr, ui.ErrSelectionCancelled) {
		return nil
	}
	if runErr != nil {
		return runErr
	}
	return r.handleMessage(ctx, strconv.Itoa(n))
}

func (r *REPL) candidateOptions(ctx context.Context, ids []int64) ([]ui.SelectorOption, error) {
	loc := r.location(ctx)
	options := make([]ui.SelectorOption, 0, len(ids))
	for _, id := range ids {
		rem, err := r.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		options = append(options, ui.SelectorOption{
			Label:       rem.Content,
			Description: timeparse.FormatWhen(rem.ScheduledFor, loc),
		})
	}
	return options, nil
}
