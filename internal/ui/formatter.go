package ui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/notexe/remindme/internal/recurrence"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

var (
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")). // Bright cyan
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")) // Soft green

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")). // Soft purple
			Italic(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Medium gray
			Italic(true)

	NotifyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("215")). // Orange
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")). // Soft blue border
			Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

type Formatter struct {
	colored bool
}

func NewFormatter(colored bool) *Formatter {
	return &Formatter{colored: colored}
}

func (f *Formatter) render(style lipgloss.Style, s string) string {
	if f.colored {
		return style.Render(s)
	}
	return s
}

func (f *Formatter) FormatAssistantMessage(msg string) string {
	return f.render(AssistantStyle, "Assistant: ") + msg
}

func (f *Formatter) FormatError(err error) string {
	return f.render(ErrorStyle, "Error: ") + err.Error()
}

func (f *Formatter) FormatInfo(info string) string {
	return f.render(InfoStyle, info)
}

func (f *Formatter) FormatSystem(msg string) string {
	return f.render(SystemStyle, msg)
}

func (f *Formatter) FormatStatus(msg string) string {
	return f.render(StatusStyle, msg)
}

// FormatNotification renders a delivered reminder the way a phone would
// show an incoming message.
func (f *Formatter) FormatNotification(channel, text string) string {
	label := "💬 WhatsApp"
	if channel == reminder.ChannelVoice {
		label = "📞 Call"
	}
	return f.render(NotifyStyle, label+": ") + text
}

func (f *Formatter) FormatWelcome(phone, provider, model string) string {
	title := "Reminder assistant"
	lines := []string{
		title,
		"Phone:    " + phone,
		"Provider: " + provider + " (" + model + ")",
		"",
		"Type a message, or /help for commands",
	}
	if !f.colored {
		return "\n" + strings.Join(lines, "\n") + "\n\n"
	}

	lines[0] = UserStyle.Render(title)
	for i := 1; i < 3; i++ {
		label, value, _ := strings.Cut(lines[i], " ")
		lines[i] = DimStyle.Render(label) + " " + AssistantStyle.Render(strings.TrimSpace(value))
	}
	lines[4] = StatusStyle.Render(lines[4])
	return "\n" + BoxStyle.Render(strings.Join(lines, "\n")) + "\n\n"
}

const helpMarkdown = `# Commands

| Command | Description |
|---|---|
| ` + "`/list`" + ` | Show pending reminders |
| ` + "`/state`" + ` | Show the stored conversation state |
| ` + "`/voice <id> <answer>`" + ` | Answer a reminder call, e.g. ` + "`/voice 3 remind me in 10 minutes`" + ` |
| ` + "`/help`" + ` | Show this help |
| ` + "`/quit`" + ` | Exit |

Anything else is sent to the assistant as a chat message, for example
*remind me to call mom tomorrow at 5pm* or *what are my reminders today?*
`

func (f *Formatter) FormatHelp() string {
	return RenderMarkdown(helpMarkdown, f.colored)
}

// FormatReminders renders reminders as a markdown table in loc.
func (f *Formatter) FormatReminders(rs []reminder.Reminder, loc *time.Location) string {
	if len(rs) == 0 {
		return f.FormatInfo("No pending reminders.")
	}

	var b strings.Builder
	b.WriteString("| ID | When | Reminder | Repeats | Channel |\n|---|---|---|---|---|\n")
	for _, r := range rs {
		repeats := "-"
		if r.IsRecurring() {
			repeats = recurrence.Describe(*r.Pattern, time.Time{}, r.EndDate)
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", r.ID,
			timeparse.FormatWhen(r.ScheduledFor, loc), escapeCell(r.Content), repeats, r.Channel)
	}
	return RenderMarkdown(b.String(), f.colored)
}

// FormatState renders a conversation state as indented JSON.
func (f *Formatter) FormatState(s reminder.State) string {
	raw, err := reminder.MarshalState(s)
	if err != nil {
		return f.FormatError(err)
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return string(raw)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	return f.render(DimStyle, string(out))
}

// FormatPrompt returns a styled input prompt
func (f *Formatter) FormatPrompt() string {
	if f.colored {
		promptStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("62"))
		arrowStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true)
		return promptStyle.Render("you") + arrowStyle.Render(" > ")
	}
	return "you > "
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
