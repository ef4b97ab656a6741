package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rahul/billagent/internal/notify"
)

// Status is the delivery state of a reminder.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

var (
	ErrNoDueDate = errors.New("bill has no due date")
	ErrPastDue   = errors.New("bill is already past due")
)

// DefaultOffsets are the days before the due date a reminder fires.
var DefaultOffsets = []int{3, 1}

// Reminder is one scheduled notification for one bill.
type Reminder struct {
	ID         string         `json:"id"`
	BillID     string         `json:"bill_id"`
	Vendor     string         `json:"vendor"`
	Amount     float64        `json:"amount"`
	DueDate    time.Time      `json:"due_date"`
	RemindAt   time.Time      `json:"remind_at"`
	DaysBefore int            `json:"days_before"`
	Channel    notify.Channel `json:"channel"`
	Recipient  string         `json:"recipient"`
	Status     Status         `json:"status"`
	SentAt     time.Time      `json:"sent_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Bill is the subset of an extracted bill needed to schedule reminders.
type Bill struct {
	ID      string
	Vendor  string
	Amount  float64
	DueDate time.Time
}

// Schedule creates one pending reminder per offset. Offsets are deduplicated
// and negative values ignored.
func Schedule(b Bill, offsets []int, now time.Time) ([]Reminder, error) {
	if b.DueDate.IsZero() {
		return nil, ErrNoDueDate
	}
	if b.DueDate.Before(startOfDay(now)) {
		return nil, fmt.Errorf("%w: %s", ErrPastDue, b.DueDate.Format("2006-01-02"))
	}
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	vendor := b.Vendor
	if vendor == "" {
		vendor = "Unknown"
	}

	seen := make(map[int]bool)
	var out []Reminder
	for _, days := range offsets {
		if days < 0 || seen[days] {
			continue
		}
		seen[days] = true
		out = append(out, Reminder{
			BillID:     b.ID,
			Vendor:     vendor,
			Amount:     b.Amount,
			DueDate:    b.DueDate,
			RemindAt:   b.DueDate.AddDate(0, 0, -days),
			DaysBefore: days,
			Status:     StatusPending,
			CreatedAt:  now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysUntilDue counts calendar days from now to the due date.
func (r Reminder) DaysUntilDue(now time.Time) int {
	return int(startOfDay(r.DueDate).Sub(startOfDay(now.In(r.DueDate.Location()))).Hours() / 24)
}

// Format renders the notification text. The first line doubles as the email
// subject.
func Format(r Reminder, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Bill Reminder: %s*\n", r.Vendor)
	if r.Amount > 0 {
		fmt.Fprintf(&b, "Amount: $%.2f\n", r.Amount)
	}
	days := r.DaysUntilDue(now)
	switch {
	case days < 0:
		fmt.Fprintf(&b, "Due: %s (overdue)\n", r.DueDate.Format("Jan 2, 2006"))
	case days == 0:
		fmt.Fprintf(&b, "Due: %s (today)\n", r.DueDate.Format("Jan 2, 2006"))
	default:
		fmt.Fprintf(&b, "Due: %s (in %d day(s))\n", r.DueDate.Format("Jan 2, 2006"), days)
	}
	b.WriteString("\nPlease make sure to pay on time to avoid late fees.")
	return b.String()
}

// Store persists reminders. Every status transition is a single atomic write
// keyed by reminder id.
type Store interface {
	Add(ctx context.Context, r Reminder) (string, error)
	DueNow(ctx context.Context, now time.Time) ([]Reminder, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Sender delivers text on a channel. notify.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, ch notify.Channel, recipient string, text string) error
}
