// Package repl is a console stand-in for a phone: it feeds typed lines to
// the conversation engine as one user and prints deliveries from the
// scheduler as they arrive.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
	"github.com/notexe/remindme/internal/ui"
)

// Engine is the conversation surface the console drives.
type Engine interface {
	HandleMessage(ctx context.Context, phone, text string) (string, error)
	HandleVoiceResponse(ctx context.Context, phone string, reminderID int64, transcript string) (string, error)
	State(ctx context.Context, phone string) (reminder.State, error)
}

// Store reads reminders for the /list command and selection menus.
type Store interface {
	ListByUser(ctx context.Context, phone string, statuses ...string) ([]reminder.Reminder, error)
	GetByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	GetUser(ctx context.Context, phone string) (*reminder.User, error)
}

type Options struct {
	Phone    string
	Provider string
	Model    string
	Colored  bool
	// Interactive offers an arrow-key menu when the assistant asks the
	// user to pick one of several reminders.
	Interactive bool
}

type REPL struct {
	engine    Engine
	store     Store
	opts      Options
	rl        *readline.Instance
	out       io.Writer
	outMu     sync.Mutex
	formatter *ui.Formatter
	spinner   *ui.Spinner
}

func NewREPL(engine Engine, store Store, opts Options) (*REPL, error) {
	rl, err := setupReadline(ui.NewFormatter(opts.Colored).FormatPrompt())
	if err != nil {
		return nil, fmt.Errorf("failed to setup readline: %w", err)
	}

	return &REPL{
		engine:    engine,
		store:     store,
		opts:      opts,
		rl:        rl,
		out:       rl.Stdout(),
		formatter: ui.NewFormatter(opts.Colored),
		spinner:   ui.NewSpinner(os.Stdout, opts.Colored),
	}, nil
}

func (r *REPL) Start(ctx context.Context) error {
	defer r.rl.Close()

	r.displayWelcome()

	for {
		input, err := r.readInput()
		if err != nil {
			if isEOF(err) {
				r.println("\nGoodbye!")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if input == "" {
			continue
		}

		isCommand, command, args := r.parseCommand(input)
		if isCommand {
			if err := r.handleCommand(ctx, command, args); err != nil {
				r.displayError(err)
			}

			if command == "/quit" || command == "/exit" || command == "/q" {
				return nil
			}

			continue
		}

		if err := r.handleMessage(ctx, input); err != nil {
			r.displayError(err)
		}
	}
}

func (r *REPL) Stop() {
	if r.rl != nil {
		r.rl.Close()
	}
}

func (r *REPL) handleMessage(ctx context.Context, message string) error {
	r.spinner.Start("Thinking...")
	start := time.Now()
	reply, err := r.engine.HandleMessage(ctx, r.opts.Phone, message)
	r.spinner.Stop()

	r.displayReply(reply, time.Since(start))
	if err != nil {
		return err
	}

	if r.opts.Interactive {
		return r.offerSelection(ctx)
	}
	return nil
}

func (r *REPL) handleCommand(ctx context.Context, command, args string) error {
	switch command {
	case "/help", "/h":
		r.displayHelp()
		return nil

	case "/list", "/l":
		return r.listReminders(ctx)

	case "/state", "/s":
		st, err := r.engine.State(ctx, r.opts.Phone)
		if err != nil {
			return err
		}
		r.println(r.formatter.FormatState(st))
		r.println("")
		return nil

	case "/voice", "/v":
		id, transcript, err := parseVoiceArgs(args)
		if err != nil {
			return err
		}
		reply, err := r.engine.HandleVoiceResponse(ctx, r.opts.Phone, id, transcript)
		r.displayReply(reply, 0)
		return err

	case "/quit", "/exit", "/q":
		r.println("\nGoodbye!")
		return nil

	default:
		return fmt.Errorf("unknown command: %s (type /help for available commands)", command)
	}
}

func (r *REPL) listReminders(ctx context.Context) error {
	rs, err := r.store.ListByUser(ctx, r.opts.Phone, reminder.StatusPending)
	if err != nil {
		return err
	}
	r.println(r.formatter.FormatReminders(rs, r.location(ctx)))
	r.println("")
	return nil
}

// location is the user's timezone, or local time before the first turn.
func (r *REPL) location(ctx context.Context) *time.Location {
	u, err := r.store.GetUser(ctx, r.opts.Phone)
	if err != nil {
		return time.Local
	}
	loc, _ := timeparse.Location(u.Timezone)
	return loc
}

func parseVoiceArgs(args string) (int64, string, error) {
	idStr, transcript, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := strconv.ParseInt(strings.TrimPrefix(idStr, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("usage: /voice <reminder id> <what you would say>")
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return 0, "", fmt.Errorf("usage: /voice <reminder id> <what you would say>")
	}
	return id, transcript, nil
}
