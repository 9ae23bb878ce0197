// Package store holds the authoritative collection of active reminders and
// the completed log. All mutations, including scheduler transitions, are
// serialized by one lock and persisted before they become visible.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/reminder"
	"reminder-engine/internal/storage"
)

// ErrNoChange may be returned by an Update mutator to abandon the update
// without persisting anything. Update then returns nil.
var ErrNoChange = errors.New("no change")

type ReminderStore struct {
	backend    storage.Backend
	clock      clock.Clock
	logger     *zap.Logger
	commentMax int
	newID      func() string

	mu           sync.Mutex
	active       []reminder.Reminder // insertion order
	completed    []reminder.CompletedReminder
	completedIDs map[string]int // id -> index in completed
}

func New(backend storage.Backend, opts ...Option) *ReminderStore {
	s := &ReminderStore{
		backend:      backend,
		completedIDs: make(map[string]int),
	}
	defaults(s)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load replaces the in-memory state with what the backend holds. Corrupt or
// missing data is recovered from and reported in the returned LoadReport; an
// error is returned only when the backend cannot be read at all.
func (s *ReminderStore) Load(ctx context.Context) (storage.LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, report, err := s.backend.LoadActive(ctx)
	if err != nil {
		return report, reminder.Persistence("load reminders", err)
	}
	completed, err := s.backend.LoadCompleted(ctx)
	if err != nil {
		if !reminder.IsKind(err, reminder.KindCorruptData) {
			return report, reminder.Persistence("load completed reminders", err)
		}
		report.Warnings = append(report.Warnings, err)
	}

	completedIDs := make(map[string]int, len(completed))
	for i, c := range completed {
		completedIDs[c.ID] = i
	}

	dirty := false
	seen := make(map[string]bool, len(active))
	kept := make([]reminder.Reminder, 0, len(active))
	for _, r := range active {
		if r.ID == "" || seen[r.ID] {
			r.ID = s.newID()
			dirty = true
		}
		if _, done := completedIDs[r.ID]; done {
			// Completed, but the active file was not rewritten before a crash.
			report.Warnings = append(report.Warnings, reminder.CorruptData(
				fmt.Sprintf("reminder %s is already in the completed log; dropping it from the active store", r.ID), nil))
			dirty = true
			continue
		}
		if r.Updates == nil {
			r.Updates = reminder.ProgressLog{}
		}
		if r.Status == "" {
			r.Status = reminder.StatusPending
		}
		seen[r.ID] = true
		kept = append(kept, r)
	}

	s.active = kept
	s.completed = completed
	s.completedIDs = completedIDs

	for _, w := range report.Warnings {
		s.logger.Warn("recovered while loading reminders", zap.String("source", string(report.Source)), zap.Error(w))
	}
	if dirty {
		if err := s.backend.SaveActive(ctx, s.active); err != nil {
			s.logger.Warn("could not persist reconciled reminders", zap.Error(err))
		}
	}
	s.logger.Info("reminders loaded",
		zap.String("source", string(report.Source)),
		zap.Int("active", len(s.active)),
		zap.Int("completed", len(s.completed)),
	)
	return report, nil
}

// Save persists the current active collection.
func (s *ReminderStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, s.active)
}

// commitLocked persists next and only then makes it the live collection, so a
// failed write leaves memory as it was.
func (s *ReminderStore) commitLocked(ctx context.Context, next []reminder.Reminder) error {
	if err := s.backend.SaveActive(ctx, next); err != nil {
		return reminder.Persistence("save reminders", err)
	}
	s.active = next
	return nil
}

func (s *ReminderStore) indexLocked(id string) int {
	return slices.IndexFunc(s.active, func(r reminder.Reminder) bool { return r.ID == id })
}

func (s *ReminderStore) now() time.Time {
	return s.clock.Now().Round(0)
}

// Create adds a Pending reminder due at dueAt ("YYYY-MM-DD HH:MM"). A due
// moment in the past is accepted.
func (s *ReminderStore) Create(ctx context.Context, title, dueAt string) (reminder.Reminder, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return reminder.Reminder{}, reminder.Validation("title", "must not be empty")
	}
	due, err := reminder.ParseDue(dueAt)
	if err != nil {
		return reminder.Reminder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := reminder.NewReminder(s.newID(), title, due, s.now())
	next := append(slices.Clone(s.active), r)
	if err := s.commitLocked(ctx, next); err != nil {
		return reminder.Reminder{}, err
	}
	s.logger.Debug("reminder created", zap.String("id", r.ID), zap.String("due", dueAt))
	return r.Clone(), nil
}

// Update runs mutator on a private copy of the reminder and persists the
// result. The mutator may not change the id, complete the reminder or move its
// status backwards. A progress change without a new history entry gets one.
func (s *ReminderStore) Update(ctx context.Context, id string, mutator func(*reminder.Reminder) error) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return reminder.Reminder{}, reminder.NotFound(id)
	}
	before := s.active[i]
	working := before.Clone()
	if err := mutator(&working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return before.Clone(), nil
		}
		return reminder.Reminder{}, err
	}
	if err := s.checkUpdate(before, &working); err != nil {
		return reminder.Reminder{}, err
	}

	next := slices.Clone(s.active)
	next[i] = working
	if err := s.commitLocked(ctx, next); err != nil {
		return reminder.Reminder{}, err
	}
	return working.Clone(), nil
}

func (s *ReminderStore) checkUpdate(before reminder.Reminder, after *reminder.Reminder) error {
	after.Title = strings.TrimSpace(after.Title)
	switch {
	case after.ID != before.ID:
		return reminder.Validation("id", "is immutable")
	case after.Status == reminder.StatusCompleted:
		return reminder.Validation("status", "reminders are completed through Complete")
	case after.Status.Before(before.Status):
		return reminder.Validation("status", fmt.Sprintf("cannot move from %s back to %s", before.Status, after.Status))
	case before.EarlyNotified && !after.EarlyNotified:
		return reminder.Validation("early_notified", "cannot be cleared")
	case len(after.Updates) > reminder.MaxUpdates:
		return reminder.Validation("updates", fmt.Sprintf("at most %d entries", reminder.MaxUpdates))
	}
	if err := after.Validate(); err != nil {
		return err
	}
	added, ok := historyAppended(before.Updates, after.Updates)
	if !ok {
		return reminder.Validation("updates", "recorded entries cannot be changed or removed")
	}
	for _, e := range after.Updates[len(after.Updates)-added:] {
		if e.Progress < reminder.MinProgress || e.Progress > reminder.MaxProgress {
			return reminder.Validation("updates", fmt.Sprintf("progress must be between %d and %d", reminder.MinProgress, reminder.MaxProgress))
		}
	}
	if after.Progress != before.Progress {
		if latest, _ := after.Updates.Latest(); added == 0 || latest.Progress != after.Progress {
			if _, err := after.Updates.Append(s.now(), after.Progress, "", s.commentMax); err != nil {
				return err
			}
		}
	}
	return nil
}

// historyAppended reports how many entries after adds to before. The only
// allowed changes are appends plus the evictions from the front that the
// history cap forces.
func historyAppended(before, after reminder.ProgressLog) (int, bool) {
	for evicted := 0; evicted <= len(before); evicted++ {
		kept := before[evicted:]
		added := len(after) - len(kept)
		if added < 0 {
			continue
		}
		if evicted != max(0, len(before)+added-reminder.MaxUpdates) {
			continue
		}
		if slices.EqualFunc(kept, after[:len(kept)], sameEntry) {
			return added, true
		}
	}
	return 0, false
}

func sameEntry(a, b reminder.UpdateEntry) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.Progress == b.Progress && a.Comment == b.Comment
}

// AppendProgress records a progress update on the reminder's history and
// makes it the current progress.
func (s *ReminderStore) AppendProgress(ctx context.Context, id string, progress int, comment string) (reminder.Reminder, error) {
	return s.Update(ctx, id, func(r *reminder.Reminder) error {
		if _, err := r.Updates.Append(s.now(), progress, comment, s.commentMax); err != nil {
			return err
		}
		r.Progress = progress
		return nil
	})
}

func (s *ReminderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return reminder.NotFound(id)
	}
	next := slices.Delete(slices.Clone(s.active), i, i+1)
	if err := s.commitLocked(ctx, next); err != nil {
		return err
	}
	s.logger.Debug("reminder deleted", zap.String("id", id))
	return nil
}

// Complete moves the reminder into the completed log. The snapshot is
// appended before the active collection is rewritten: a crash in between
// leaves a duplicate that the next Load drops, never a lost reminder. Retrying
// after a failed rewrite does not log the reminder twice.
func (s *ReminderStore) Complete(ctx context.Context, id string) (reminder.CompletedReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return reminder.CompletedReminder{}, reminder.NotFound(id)
	}

	var snap reminder.CompletedReminder
	if j, logged := s.completedIDs[id]; logged {
		snap = s.completed[j]
	} else {
		snap = reminder.Complete(s.active[i], s.now())
		if err := s.backend.AppendCompleted(ctx, snap); err != nil {
			return reminder.CompletedReminder{}, reminder.Persistence("append completed reminder", err)
		}
		s.completed = append(s.completed, snap)
		s.completedIDs[id] = len(s.completed) - 1
	}

	next := slices.Delete(slices.Clone(s.active), i, i+1)
	if err := s.commitLocked(ctx, next); err != nil {
		s.logger.Warn("completed reminder is still in the active store", zap.String("id", id), zap.Error(err))
		return reminder.CompletedReminder{}, err
	}
	s.logger.Info("reminder completed", zap.String("id", id), zap.String("title", snap.Title))
	return cloneCompleted(snap), nil
}

func (s *ReminderStore) Get(id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return reminder.Reminder{}, reminder.NotFound(id)
	}
	return s.active[i].Clone(), nil
}

// List returns a copy of the active reminders ordered by due moment, ties in
// insertion order. Reminders whose due moment cannot be parsed come last.
func (s *ReminderStore) List() []reminder.Reminder {
	s.mu.Lock()
	type keyed struct {
		r   reminder.Reminder
		due time.Time
		ok  bool
	}
	items := make([]keyed, len(s.active))
	for i, r := range s.active {
		due, err := r.DueAt()
		items[i] = keyed{r: r.Clone(), due: due, ok: err == nil}
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.due.Before(b.due)
	})
	out := make([]reminder.Reminder, len(items))
	for i, it := range items {
		out[i] = it.r
	}
	return out
}

// Completed returns a copy of the completed log in completion order.
func (s *ReminderStore) Completed() []reminder.CompletedReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reminder.CompletedReminder, len(s.completed))
	for i, c := range s.completed {
		out[i] = cloneCompleted(c)
	}
	return out
}

func cloneCompleted(c reminder.CompletedReminder) reminder.CompletedReminder {
	return reminder.CompletedReminder{Reminder: c.Reminder.Clone(), CompletedAt: c.CompletedAt}
}
