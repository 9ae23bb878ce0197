package reminder

import "time"

// CompletedReminder is the snapshot written to the completed log.
type CompletedReminder struct {
	Reminder
	CompletedAt time.Time `json:"completed_at"`
}

// Complete snapshots r as completed at the given time.
func Complete(r Reminder, at time.Time) CompletedReminder {
	c := r.Clone()
	c.Status = StatusCompleted
	return CompletedReminder{Reminder: c, CompletedAt: at}
}
