package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const reminderColumns = `id, user_phone, content, scheduled_for, recurrence, pattern, end_date,
	status, channel, series_origin, previous_instance, created_at, updated_at`

// Store provides SQLite-backed storage for users and reminders.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (or creates) the SQLite database at dbPath and
// ensures the users and reminders tables exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			phone            TEXT PRIMARY KEY,
			timezone         TEXT NOT NULL DEFAULT '',
			channel          TEXT NOT NULL DEFAULT 'chat',
			time_preferences TEXT NOT NULL DEFAULT '{}',
			state            TEXT NOT NULL DEFAULT '',
			last_interaction TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			user_phone        TEXT    NOT NULL,
			content           TEXT    NOT NULL,
			scheduled_for     TEXT    NOT NULL,
			recurrence        TEXT    NOT NULL DEFAULT 'none',
			pattern           TEXT    NOT NULL DEFAULT '',
			end_date          TEXT    NOT NULL DEFAULT '',
			status            TEXT    NOT NULL DEFAULT 'pending',
			channel           TEXT    NOT NULL DEFAULT 'chat',
			series_origin     INTEGER NOT NULL DEFAULT 0,
			previous_instance INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT    NOT NULL,
			updated_at        TEXT    NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reminders table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_reminders_user_time ON reminders (user_phone, scheduled_for)`)
	if err != nil {
		return fmt.Errorf("failed to create reminders index: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreateUser loads the user with the given phone, creating a record
// with the supplied defaults on first contact.
func (s *Store) GetOrCreateUser(ctx context.Context, phone, defaultTimezone, defaultChannel string) (*User, error) {
	u, err := s.GetUser(ctx, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &User{
		Phone:           phone,
		Timezone:        defaultTimezone,
		Channel:         defaultChannel,
		TimePreferences: map[string]TimeOfDay{},
		State:           Initial{},
		LastInteraction: s.now().UTC(),
	}
	if err := s.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns the user with the given phone number.
func (s *Store) GetUser(ctx context.Context, phone string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT phone, timezone, channel, time_preferences, state, last_interaction
		FROM users WHERE phone = ?
	`, phone)

	var u User
	var prefs, state, last string
	if err := row.Scan(&u.Phone, &u.Timezone, &u.Channel, &prefs, &state, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", phone, ErrNotFound)
		}
		return nil, persistErr("get user", err)
	}

	u.TimePreferences = map[string]TimeOfDay{}
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &u.TimePreferences); err != nil {
			return nil, persistErr("decode time preferences", err)
		}
	}

	st, err := UnmarshalState([]byte(state))
	if err != nil {
		// A corrupt state must not lock the user out of the conversation.
		st = Initial{}
	}
	u.State = st
	u.LastInteraction, _ = time.Parse(time.RFC3339, last)

	return &u, nil
}

// SaveUser upserts the user record including its conversation state.
func (s *Store) SaveUser(ctx context.Context, u *User) error {
	prefs, err := json.Marshal(u.TimePreferences)
	if err != nil {
		return persistErr("encode time preferences", err)
	}
	state, err := MarshalState(u.State)
	if err != nil {
		return persistErr("encode state", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (phone, timezone, channel, time_preferences, state, last_interaction)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			timezone = excluded.timezone,
			channel = excluded.channel,
			time_preferences = excluded.time_preferences,
			state = excluded.state,
			last_interaction = excluded.last_interaction
	`, u.Phone, u.Timezone, u.Channel, string(prefs), string(state),
		u.LastInteraction.UTC().Format(time.RFC3339))
	if err != nil {
		return persistErr("save user", err)
	}
	return nil
}

// Create inserts a new reminder and returns it with the assigned ID.
func (s *Store) Create(ctx context.Context, r Reminder) (*Reminder, error) {
	now := s.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Recurrence == "" {
		r.Recurrence = RecurrenceNone
	}
	if r.Channel == "" {
		r.Channel = ChannelChat
	}

	pattern, err := encodePattern(r.Pattern)
	if err != nil {
		return nil, persistErr("encode pattern", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (user_phone, content, scheduled_for, recurrence, pattern, end_date,
			status, channel, series_origin, previous_instance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UserPhone, r.Content, r.ScheduledFor.UTC().Format(time.RFC3339),
		string(r.Recurrence), pattern, formatOptionalTime(r.EndDate),
		r.Status, r.Channel, r.SeriesOrigin, r.PreviousInstance,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, persistErr("insert reminder", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, persistErr("get inserted ID", err)
	}
	r.ID = id
	r.ScheduledFor = r.ScheduledFor.UTC()

	return &r, nil
}

// GetByID returns a single reminder by ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)

	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
		}
		return nil, persistErr("get reminder", err)
	}
	return r, nil
}

// ListByUser returns the user's reminders ordered by scheduled time,
// optionally restricted to the given statuses.
func (s *Store) ListByUser(ctx context.Context, phone string, statuses ...string) ([]Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE user_phone = ?`
	args := []any{phone}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY scheduled_for ASC"

	return s.queryReminders(ctx, "list reminders", query, args...)
}

// FindInRange returns the user's non-cancelled reminders scheduled within
// [from, to].
func (s *Store) FindInRange(ctx context.Context, phone string, from, to time.Time) ([]Reminder, error) {
	return s.queryReminders(ctx, "find reminders in range", `
		SELECT `+reminderColumns+` FROM reminders
		WHERE user_phone = ? AND status != ? AND scheduled_for >= ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC
	`, phone, StatusCancelled, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

// FindByContent returns the user's pending reminders whose content contains
// the given substring (case-insensitive).
func (s *Store) FindByContent(ctx context.Context, phone, substr string) ([]Reminder, error) {
	return s.queryReminders(ctx, "find reminders by content", `
		SELECT `+reminderColumns+` FROM reminders
		WHERE user_phone = ? AND status = ? AND LOWER(content) LIKE ? ESCAPE '\'
		ORDER BY scheduled_for ASC
	`, phone, StatusPending, "%"+escapeLike(strings.ToLower(substr))+"%")
}

// GetDue returns pending reminders whose scheduled time is at or before now.
func (s *Store) GetDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryReminders(ctx, "get due reminders", `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC LIMIT ?
	`, StatusPending, now.UTC().Format(time.RFC3339), limit)
}

// UpdateStatus moves a reminder to a new status. Transitions that would
// go backwards in the lifecycle are rejected.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !validTransition(current.Status, status) {
		return fmt.Errorf("reminder %d: invalid status transition %s -> %s", id, current.Status, status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = ?, updated_at = ? WHERE id = ?
	`, status, s.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return persistErr("update reminder status", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

// CancelSeries cancels every pending instance that belongs to the series
// started by originID, including the origin itself.
func (s *Store) CancelSeries(ctx context.Context, originID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = ?, updated_at = ?
		WHERE status = ? AND (id = ? OR series_origin = ?)
	`, StatusCancelled, s.now().UTC().Format(time.RFC3339), StatusPending, originID, originID)
	if err != nil {
		return 0, persistErr("cancel series", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Delete removes a reminder by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete reminder", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateFields holds optional fields for a partial update.
type UpdateFields struct {
	Content      *string
	ScheduledFor *time.Time
	Channel      *string
}

// Update applies partial updates to a reminder.
func (s *Store) Update(ctx context.Context, id int64, fields UpdateFields) (*Reminder, error) {
	// Build SET clause dynamically
	setClauses := []string{}
	args := []any{}

	if fields.Content != nil {
		setClauses = append(setClauses, "content = ?")
		args = append(args, *fields.Content)
	}
	if fields.ScheduledFor != nil {
		setClauses = append(setClauses, "scheduled_for = ?")
		args = append(args, fields.ScheduledFor.UTC().Format(time.RFC3339))
	}
	if fields.Channel != nil {
		setClauses = append(setClauses, "channel = ?")
		args = append(args, *fields.Channel)
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.now().UTC().Format(time.RFC3339))
	args = append(args, id)

	query := "UPDATE reminders SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("update reminder", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}

	return s.GetByID(ctx, id)
}

func (s *Store) queryReminders(ctx context.Context, op, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		reminders = append(reminders, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return reminders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReminder reads a single row into a Reminder.
func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	var scheduledFor, recurrence, pattern, endDate, createdAt, updatedAt string

	if err := row.Scan(&r.ID, &r.UserPhone, &r.Content, &scheduledFor, &recurrence,
		&pattern, &endDate, &r.Status, &r.Channel, &r.SeriesOrigin, &r.PreviousInstance,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.Recurrence = RecurrenceKind(recurrence)
	r.ScheduledFor, _ = time.Parse(time.RFC3339, scheduledFor)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if pattern != "" {
		var p RecurrencePattern
		if err := json.Unmarshal([]byte(pattern), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pattern for reminder %d: %w", r.ID, err)
		}
		r.Pattern = &p
	}
	if endDate != "" {
		if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			r.EndDate = &t
		}
	}

	return &r, nil
}

func encodePattern(p *RecurrencePattern) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
