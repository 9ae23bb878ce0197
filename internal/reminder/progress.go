package reminder

import (
	"fmt"
	"sort"
	"time"
)

const (
	MinProgress = 0
	MaxProgress = 10

	// MaxUpdates caps the history kept per reminder.
	MaxUpdates = 10
	// DefaultCommentLength is the comment limit, in runes, when none is configured.
	DefaultCommentLength = 100
)

// UpdateEntry is one recorded progress update.
type UpdateEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Progress  int       `json:"progress"`
	Comment   string    `json:"comment"`
}

// ProgressLog is the capped progress history of a reminder, oldest first.
type ProgressLog []UpdateEntry

// Append records a progress snapshot taken at now. The comment is cut to
// maxComment runes (DefaultCommentLength when maxComment <= 0) and the oldest
// entries are evicted so at most MaxUpdates remain.
func (l *ProgressLog) Append(now time.Time, progress int, comment string, maxComment int) (UpdateEntry, error) {
	if progress < MinProgress || progress > MaxProgress {
		return UpdateEntry{}, Validation("progress", fmt.Sprintf("must be between %d and %d, got %d", MinProgress, MaxProgress, progress))
	}
	if maxComment <= 0 {
		maxComment = DefaultCommentLength
	}
	e := UpdateEntry{Timestamp: now, Progress: progress, Comment: truncate(comment, maxComment)}
	entries := append(*l, e)
	if n := len(entries) - MaxUpdates; n > 0 {
		entries = append(ProgressLog{}, entries[n:]...)
	}
	*l = entries
	return e, nil
}

// Latest returns the most recent entry, if any.
func (l ProgressLog) Latest() (UpdateEntry, bool) {
	if len(l) == 0 {
		return UpdateEntry{}, false
	}
	return l[len(l)-1], true
}

// Entries returns a copy of the history in append order.
func (l ProgressLog) Entries() []UpdateEntry {
	out := make([]UpdateEntry, len(l))
	copy(out, l)
	return out
}

// DayGroup is the history of a single local calendar day.
type DayGroup struct {
	Date    string        `json:"date"`
	Entries []UpdateEntry `json:"entries"`
}

// GroupByDate projects the history for display: newest day first, newest
// entry first within each day.
func (l ProgressLog) GroupByDate() []DayGroup {
	entries := l.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	var groups []DayGroup
	for _, e := range entries {
		day := e.Timestamp.Local().Format(DateLayout)
		if n := len(groups); n > 0 && groups[n-1].Date == day {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Entries: []UpdateEntry{e}})
	}
	return groups
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
