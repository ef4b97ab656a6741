package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/reminder"
)

const reminderColumns = `id, bill_id, vendor, amount, due_date, remind_at, days_before, channel, recipient, status, sent_at, error_message, created_at`

// ReminderStore persists reminders in the reminders table.
type ReminderStore struct {
	DB  *sql.DB
	now func() time.Time
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{DB: db, now: time.Now}
}

// Add stores r as pending, assigning an id when it has none.
func (s *ReminderStore) Add(ctx context.Context, r reminder.Reminder) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	query := `INSERT INTO reminders (` + reminderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?)`
	_, err := s.DB.ExecContext(ctx, query,
		r.ID, r.BillID, r.Vendor, r.Amount,
		formatTime(r.DueDate), formatTime(r.RemindAt), r.DaysBefore,
		string(r.Channel), r.Recipient, string(reminder.StatusPending),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to add reminder: %w", err)
	}
	return r.ID, nil
}

// DueNow lists pending reminders whose time has come, earliest first.
func (s *ReminderStore) DueNow(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE status = ? AND remind_at <= ? ORDER BY remind_at`
	return s.query(ctx, query, string(reminder.StatusPending), formatTime(now))
}

// Upcoming lists pending reminders due within the window after now.
func (s *ReminderStore) Upcoming(ctx context.Context, now time.Time, within time.Duration) ([]reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE status = ? AND remind_at > ? AND remind_at <= ? ORDER BY remind_at`
	return s.query(ctx, query, string(reminder.StatusPending), formatTime(now), formatTime(now.Add(within)))
}

func (s *ReminderStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	list, err := s.query(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if len(list) == 0 {
		return reminder.Reminder{}, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return list[0], nil
}

func (s *ReminderStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id,
		`UPDATE reminders SET status = ?, sent_at = ?, error_message = '' WHERE id = ?`,
		string(reminder.StatusSent), formatTime(at), id)
}

func (s *ReminderStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.update(ctx, id,
		`UPDATE reminders SET status = ?, error_message = ? WHERE id = ?`,
		string(reminder.StatusFailed), reason, id)
}

func (s *ReminderStore) update(ctx context.Context, id string, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

// Stats counts reminders by status.
func (s *ReminderStore) Stats(ctx context.Context) (map[reminder.Status]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[reminder.Status]int{
		reminder.StatusPending: 0,
		reminder.StatusSent:    0,
		reminder.StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[reminder.Status(status)] = n
	}
	return stats, rows.Err()
}

// Cleanup deletes sent and failed reminders created before cutoff and
// returns how many were removed.
func (s *ReminderStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM reminders WHERE status IN (?, ?) AND created_at < ?`,
		string(reminder.StatusSent), string(reminder.StatusFailed), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *ReminderStore) query(ctx context.Context, query string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			r                                  reminder.Reminder
			billID, vendor, channel, recipient sql.NullString
			status, errMsg                     sql.NullString
			due, remindAt, sentAt, createdAt   sql.NullString
			amount                             sql.NullFloat64
			daysBefore                         sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &billID, &vendor, &amount, &due, &remindAt, &daysBefore,
			&channel, &recipient, &status, &sentAt, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		r.BillID = billID.String
		r.Vendor = vendor.String
		r.Amount = amount.Float64
		r.DueDate = parseTime(due)
		r.RemindAt = parseTime(remindAt)
		r.DaysBefore = int(daysBefore.Int64)
		r.Channel = notify.Channel(channel.String)
		r.Recipient = recipient.String
		r.Status = reminder.Status(status.String)
		r.SentAt = parseTime(sentAt)
		r.Error = errMsg.String
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
