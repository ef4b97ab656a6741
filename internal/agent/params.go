package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
)

const dateLayout = "2006-01-02"

// DateRange bounds a mailbox scan. A zero To means "now".
type DateRange struct {
	From time.Time
	To   time.Time
}

// Params are the entities extracted by classification. Unset fields are zero;
// steps go through the accessors, which supply defaults.
type Params struct {
	DateRange  *DateRange
	Days       int
	Category   mail.Category
	Channel    notify.Channel
	DaysBefore []int
	Vendor     string

	// Extras holds keys no step understands, kept for the responder.
	Extras map[string]any
}

// ParseParams converts the classifier's free-form entity map. Recognised
// keys with unusable values are moved to Extras rather than dropped.
func ParseParams(raw map[string]any) Params {
	var p Params
	extra := func(k string, v any) {
		if p.Extras == nil {
			p.Extras = make(map[string]any)
		}
		p.Extras[k] = v
	}

	var from, to time.Time
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch strings.ToLower(k) {
		case "scan_days", "days":
			if n, ok := toInt(v); ok && n > 0 {
				p.Days = n
			} else {
				extra(k, v)
			}
		case "date_from":
			if t, ok := toDate(v); ok {
				from = t
			} else {
				extra(k, v)
			}
		case "date_to":
			if t, ok := toDate(v); ok {
				to = t
			} else {
				extra(k, v)
			}
		case "email_scan_type", "scan_type", "category":
			if c, ok := mail.ParseCategory(fmt.Sprint(v)); ok {
				p.Category = c
			} else {
				extra(k, v)
			}
		case "notification_channel", "channel":
			if c, ok := notify.ParseChannel(fmt.Sprint(v)); ok {
				p.Channel = c
			} else {
				extra(k, v)
			}
		case "days_before":
			if days := toInts(v); len(days) > 0 {
				p.DaysBefore = days
			} else {
				extra(k, v)
			}
		case "vendor":
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				p.Vendor = s
			}
		default:
			extra(k, v)
		}
	}
	switch {
	case !from.IsZero():
		p.DateRange = &DateRange{From: from, To: to}
	case !to.IsZero():
		extra("date_to", to.Format(dateLayout))
	}
	return p
}

// ScanCategory is the category to scan for goal, defaulting to bills for
// scan_bills and general otherwise.
func (p Params) ScanCategory(goal Goal) mail.Category {
	if p.Category != "" {
		return p.Category
	}
	if goal == GoalScanBills {
		return mail.CategoryBills
	}
	return mail.CategoryGeneral
}

// Range returns the scan window ending at now. An explicit date range wins
// over Days, which wins over defaultDays.
func (p Params) Range(now time.Time, defaultDays int) (time.Time, time.Time) {
	if p.DateRange != nil {
		to := p.DateRange.To
		if to.IsZero() || to.After(now) {
			to = now
		}
		return p.DateRange.From, to
	}
	days := p.Days
	if days <= 0 {
		days = defaultDays
	}
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, -days), now
}

// ReminderOffsets returns DaysBefore or def.
func (p Params) ReminderOffsets(def []int) []int {
	if len(p.DaysBefore) > 0 {
		return p.DaysBefore
	}
	return def
}

// NotifyChannel returns Channel or def.
func (p Params) NotifyChannel(def notify.Channel) notify.Channel {
	if p.Channel != "" {
		return p.Channel
	}
	return def
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func toInts(v any) []int {
	var raw []any
	switch x := v.(type) {
	case []any:
		raw = x
	case []int:
		return positive(x)
	default:
		raw = []any{x}
	}
	var out []int
	for _, r := range raw {
		if n, ok := toInt(r); ok {
			out = append(out, n)
		}
	}
	return positive(out)
}

func positive(in []int) []int {
	var out []int
	for _, n := range in {
		if n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

func toDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
