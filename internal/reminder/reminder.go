package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusPending       Status = "Pending"
	StatusEarlyNotified Status = "EarlyNotified"
	StatusNotified      Status = "Notified"
	StatusCompleted     Status = "Completed"
)

// Layouts of the persisted due fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
	DueLayout  = DateLayout + " " + TimeLayout
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusEarlyNotified:
		return 1
	case StatusNotified:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return s.rank() >= 0 }

// Before reports whether s precedes other in the lifecycle.
func (s Status) Before(other Status) bool { return s.rank() < other.rank() }

// Watched reports whether the scheduler still evaluates reminders in this state.
func (s Status) Watched() bool {
	return s == StatusPending || s == StatusEarlyNotified
}

type Reminder struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	DueDate       string      `json:"due_date"`
	DueTime       string      `json:"due_time"`
	Status        Status      `json:"status"`
	Created       time.Time   `json:"created"`
	Comments      string      `json:"comments"`
	Progress      int         `json:"progress"`
	Updates       ProgressLog `json:"updates"`
	EarlyNotified bool        `json:"early_notified"`
}

func NewReminder(id, title string, due time.Time, created time.Time) Reminder {
	return Reminder{
		ID:      id,
		Title:   title,
		DueDate: due.Format(DateLayout),
		DueTime: due.Format(TimeLayout),
		Status:  StatusPending,
		Created: created,
		Updates: ProgressLog{},
	}
}

// Zone-less ISO-8601 layouts accepted for stored timestamps.
var localTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp reads an RFC 3339 timestamp, or an ISO-8601 one without a
// zone offset in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Validation("timestamp", fmt.Sprintf("unrecognized timestamp %q", s))
}

// ParseDue parses a combined "YYYY-MM-DD HH:MM" value in local time.
func ParseDue(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DueLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, Validation("due_at", fmt.Sprintf("expected %q, got %q", DueLayout, s))
	}
	return t, nil
}

// DueAt combines the persisted date and time fields.
func (r Reminder) DueAt() (time.Time, error) {
	t, err := time.ParseInLocation(DueLayout, r.DueDate+" "+r.DueTime, time.Local)
	if err != nil {
		return time.Time{}, CorruptData(fmt.Sprintf("reminder %s has malformed due moment %q %q", r.ID, r.DueDate, r.DueTime), err)
	}
	return t, nil
}

// SetDue rewrites the due fields from t, dropping seconds.
func (r *Reminder) SetDue(t time.Time) {
	r.DueDate = t.Format(DateLayout)
	r.DueTime = t.Format(TimeLayout)
}

// Clone returns a copy that shares no memory with r.
func (r Reminder) Clone() Reminder {
	c := r
	c.Updates = append(ProgressLog{}, r.Updates...)
	return c
}

// Validate checks the fields every stored reminder must satisfy.
func (r Reminder) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return Validation("title", "must not be empty")
	}
	if _, err := time.ParseInLocation(DueLayout, r.DueDate+" "+r.DueTime, time.Local); err != nil {
		return Validation("due_at", fmt.Sprintf("expected %q, got %q", DueLayout, r.DueDate+" "+r.DueTime))
	}
	if r.Progress < MinProgress || r.Progress > MaxProgress {
		return Validation("progress", fmt.Sprintf("must be between %d and %d", MinProgress, MaxProgress))
	}
	if !r.Status.Valid() {
		return Validation("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	return nil
}

// State is a display classification derived from the due moment.
type State string

const (
	StateNone    State = ""
	StateOverdue State = "overdue"
	StateDueSoon State = "due_soon"
)

// Classify reports whether r is overdue or due within window of now.
// Completed and malformed reminders are never highlighted.
func Classify(r Reminder, now time.Time, window time.Duration) State {
	if r.Status == StatusCompleted {
		return StateNone
	}
	due, err := r.DueAt()
	if err != nil {
		return StateNone
	}
	switch {
	case now.After(due):
		return StateOverdue
	case !due.After(now.Add(window)):
		return StateDueSoon
	}
	return StateNone
}
