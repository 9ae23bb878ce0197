package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/reminder"
	"reminder-engine/internal/storage"
)

var errDiskFull = errors.New("disk full")

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore(t *testing.T, backend storage.Backend, opts ...Option) (*ReminderStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 12, 31, 12, 0, 0, 0, time.Local))
	all := append([]Option{WithClock(clk), WithIDGenerator(sequentialIDs())}, opts...)
	s := New(backend, all...)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s, clk
}

func asJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t, storage.NewMemoryBackend())

	r, err := s.Create(ctx, "  Pay rent ", "2025-01-01 09:00")
	require.NoError(t, err)
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, "Pay rent", r.Title)
	assert.Equal(t, "2025-01-01", r.DueDate)
	assert.Equal(t, "09:00", r.DueTime)
	assert.Equal(t, reminder.StatusPending, r.Status)
	assert.Equal(t, 0, r.Progress)
	assert.NotNil(t, r.Updates)
	assert.Empty(t, r.Updates)
	assert.True(t, r.Created.Equal(clk.Now()))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, asJSON(t, r), asJSON(t, list[0]))
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, _ := newTestStore(t, backend)

	_, err := s.Create(ctx, "   ", "2025-01-01 09:00")
	assert.True(t, reminder.IsKind(err, reminder.KindValidation), "empty title: %v", err)

	_, err = s.Create(ctx, "Pay rent", "01/01/2025 9am")
	assert.True(t, reminder.IsKind(err, reminder.KindValidation), "bad due: %v", err)

	assert.Empty(t, s.List())
	assert.Equal(t, 0, backend.Saves())
}

func TestCreateAcceptsPastDue(t *testing.T) {
	s, _ := newTestStore(t, storage.NewMemoryBackend())
	r, err := s.Create(context.Background(), "Already late", "2020-06-01 10:00")
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusPending, r.Status)
}

func TestCreatePersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, _ := newTestStore(t, backend)

	_, err := s.Create(ctx, "First", "2025-01-01 09:00")
	require.NoError(t, err)

	backend.FailWrites(errDiskFull)
	_, err = s.Create(ctx, "Second", "2025-01-02 09:00")
	require.Error(t, err)
	assert.True(t, reminder.IsKind(err, reminder.KindPersistence))
	assert.ErrorIs(t, err, errDiskFull)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0].Title)
}

func TestListOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryBackend())

	for _, c := range []struct{ title, due string }{
		{"late", "2025-03-01 08:00"},
		{"tie-a", "2025-02-01 08:00"},
		{"early", "2025-01-01 08:00"},
		{"tie-b", "2025-02-01 08:00"},
	} {
		_, err := s.Create(ctx, c.title, c.due)
		require.NoError(t, err)
	}

	var titles []string
	for _, r := range s.List() {
		titles = append(titles, r.Title)
	}
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, titles)
}

func TestListMalformedDueSortsLast(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	broken := reminder.Reminder{ID: "broken", Title: "Broken", DueDate: "someday", Status: reminder.StatusPending}
	ok := reminder.NewReminder("ok", "Fine", time.Date(2030, 1, 1, 9, 0, 0, 0, time.Local), time.Now())
	require.NoError(t, backend.SaveActive(ctx, []reminder.Reminder{broken, ok}))

	s, _ := newTestStore(t, backend)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "ok", list[0].ID)
	assert.Equal(t, "broken", list[1].ID)
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryBackend())
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)
	_, err = s.AppendProgress(ctx, r.ID, 3, "started")
	require.NoError(t, err)

	list := s.List()
	list[0].Title = "changed"
	list[0].Updates[0].Comment = "changed"

	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pay rent", got.Title)
	assert.Equal(t, "started", got.Updates[0].Comment)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, clk := newTestStore(t, backend)
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", func(*reminder.Reminder) error { return nil })
		assert.True(t, reminder.IsKind(err, reminder.KindNotFound))
	})

	t.Run("fields", func(t *testing.T) {
		got, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Title = "Pay rent (January)"
			r.Comments = "use savings"
			r.SetDue(time.Date(2025, 1, 2, 10, 30, 0, 0, time.Local))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "Pay rent (January)", got.Title)
		assert.Equal(t, "2025-01-02", got.DueDate)
		assert.Equal(t, "10:30", got.DueTime)
	})

	t.Run("mutator error", func(t *testing.T) {
		boom := errors.New("boom")
		saves := backend.Saves()
		_, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Title = "half done"
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, saves, backend.Saves())
		got, _ := s.Get(r.ID)
		assert.Equal(t, "Pay rent (January)", got.Title)
	})

	t.Run("no change", func(t *testing.T) {
		saves := backend.Saves()
		_, err := s.Update(ctx, r.ID, func(*reminder.Reminder) error { return ErrNoChange })
		assert.NoError(t, err)
		assert.Equal(t, saves, backend.Saves())
	})

	t.Run("invalid result", func(t *testing.T) {
		cases := map[string]func(*reminder.Reminder){
			"id":       func(r *reminder.Reminder) { r.ID = "other" },
			"title":    func(r *reminder.Reminder) { r.Title = "" },
			"due":      func(r *reminder.Reminder) { r.DueTime = "25:99" },
			"progress": func(r *reminder.Reminder) { r.Progress = 11 },
			"complete": func(r *reminder.Reminder) { r.Status = reminder.StatusCompleted },
			"status":   func(r *reminder.Reminder) { r.Status = "Snoozed" },
		}
		for name, mutate := range cases {
			_, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
				mutate(r)
				return nil
			})
			assert.True(t, reminder.IsKind(err, reminder.KindValidation), "%s: %v", name, err)
		}
	})

	t.Run("status is monotonic", func(t *testing.T) {
		_, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Status = reminder.StatusNotified
			return nil
		})
		require.NoError(t, err)
		_, err = s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Status = reminder.StatusPending
			return nil
		})
		assert.True(t, reminder.IsKind(err, reminder.KindValidation))
	})

	t.Run("progress change is recorded", func(t *testing.T) {
		clk.Advance(time.Minute)
		got, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Progress = 6
			return nil
		})
		require.NoError(t, err)
		latest, ok := got.Updates.Latest()
		require.True(t, ok)
		assert.Equal(t, 6, latest.Progress)
		assert.True(t, latest.Timestamp.Equal(clk.Now()))

		// an explicit decrease is recorded too
		got, err = s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Progress = 2
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got.Updates, 2)
		assert.Equal(t, 2, got.Updates[1].Progress)
	})

	t.Run("history is append only", func(t *testing.T) {
		saves := backend.Saves()
		cases := map[string]func(*reminder.Reminder){
			"rewrite":  func(r *reminder.Reminder) { r.Updates[0].Comment = "rewritten" },
			"restamp":  func(r *reminder.Reminder) { r.Updates[1].Timestamp = r.Updates[1].Timestamp.Add(time.Hour) },
			"remove":   func(r *reminder.Reminder) { r.Updates = r.Updates[1:] },
			"truncate": func(r *reminder.Reminder) { r.Updates = nil },
			"hide decrease": func(r *reminder.Reminder) {
				r.Progress = 1
				r.Updates[1].Progress = 1
			},
			"bad entry": func(r *reminder.Reminder) {
				r.Updates = append(r.Updates, reminder.UpdateEntry{Timestamp: clk.Now(), Progress: 12})
			},
		}
		for name, mutate := range cases {
			_, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
				mutate(r)
				return nil
			})
			assert.True(t, reminder.IsKind(err, reminder.KindValidation), "%s: %v", name, err)
		}
		assert.Equal(t, saves, backend.Saves())

		got, _ := s.Get(r.ID)
		require.Len(t, got.Updates, 2)
		assert.Equal(t, 6, got.Updates[0].Progress)
		assert.Equal(t, 2, got.Progress)

		// an appended entry that matches the new progress is kept as is
		clk.Advance(time.Minute)
		got, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Progress = 3
			r.Updates = append(r.Updates, reminder.UpdateEntry{Timestamp: clk.Now(), Progress: 3, Comment: "paid half"})
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got.Updates, 3)
		assert.Equal(t, "paid half", got.Updates[2].Comment)
	})

	t.Run("persistence failure", func(t *testing.T) {
		backend.FailWrites(errDiskFull)
		defer backend.FailWrites(nil)
		_, err := s.Update(ctx, r.ID, func(r *reminder.Reminder) error {
			r.Title = "never stored"
			return nil
		})
		assert.True(t, reminder.IsKind(err, reminder.KindPersistence))
		got, _ := s.Get(r.ID)
		assert.Equal(t, "Pay rent (January)", got.Title)
	})
}

func TestAppendProgress(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t, storage.NewMemoryBackend(), WithCommentLength(5))
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)

	_, err = s.AppendProgress(ctx, r.ID, 11, "too much")
	assert.True(t, reminder.IsKind(err, reminder.KindValidation))

	for i := 0; i <= reminder.MaxUpdates; i++ {
		clk.Advance(time.Minute)
		r, err = s.AppendProgress(ctx, r.ID, i%11, "comment that is long")
		require.NoError(t, err)
	}
	assert.Len(t, r.Updates, reminder.MaxUpdates)
	assert.Equal(t, 1, r.Updates[0].Progress)
	assert.Equal(t, "comme", r.Updates[0].Comment)
	assert.Equal(t, reminder.MaxUpdates%11, r.Progress)

	_, err = s.AppendProgress(ctx, "missing", 1, "")
	assert.True(t, reminder.IsKind(err, reminder.KindNotFound))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, _ := newTestStore(t, backend)
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)

	backend.FailWrites(errDiskFull)
	assert.True(t, reminder.IsKind(s.Delete(ctx, r.ID), reminder.KindPersistence))
	assert.Len(t, s.List(), 1)
	backend.FailWrites(nil)

	require.NoError(t, s.Delete(ctx, r.ID))
	assert.Empty(t, s.List())
	assert.True(t, reminder.IsKind(s.Delete(ctx, r.ID), reminder.KindNotFound))
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t, storage.NewMemoryBackend())
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)

	clk.Set(time.Date(2025, 1, 1, 9, 30, 0, 0, time.Local))
	done, err := s.Complete(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusCompleted, done.Status)
	assert.True(t, done.CompletedAt.Equal(clk.Now()))

	assert.Empty(t, s.List())
	completed := s.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, r.ID, completed[0].ID)
	assert.Equal(t, reminder.StatusCompleted, completed[0].Status)

	_, err = s.Complete(ctx, r.ID)
	assert.True(t, reminder.IsKind(err, reminder.KindNotFound))
	assert.Len(t, s.Completed(), 1)
}

func TestCompleteRetryAfterActiveSaveFailure(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, _ := newTestStore(t, backend)
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)

	backend.FailActiveSaves(errDiskFull)
	_, err = s.Complete(ctx, r.ID)
	assert.True(t, reminder.IsKind(err, reminder.KindPersistence))
	assert.Len(t, s.List(), 1, "reminder stays active when the active save fails")
	assert.Len(t, s.Completed(), 1)

	backend.FailActiveSaves(nil)
	_, err = s.Complete(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, s.List())

	logged, err := backend.LoadCompleted(ctx)
	require.NoError(t, err)
	assert.Len(t, logged, 1, "retry must not log the reminder twice")
}

func TestLoadDropsAlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s, _ := newTestStore(t, backend)
	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)
	_, err = s.Create(ctx, "Dentist", "2025-01-03 09:00")
	require.NoError(t, err)

	// crash between the completed append and the active rewrite
	backend.FailActiveSaves(errDiskFull)
	_, err = s.Complete(ctx, r.ID)
	require.Error(t, err)
	backend.FailActiveSaves(nil)

	restarted := New(backend, WithIDGenerator(sequentialIDs()))
	report, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 1)

	list := restarted.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Dentist", list[0].Title)
	assert.Len(t, restarted.Completed(), 1)

	// the reconciled collection was written back
	active, _, err := backend.LoadActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLoadNormalizesLegacyEntries(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	legacy := reminder.Reminder{Title: "No id", DueDate: "2025-01-01", DueTime: "09:00", Status: reminder.StatusPending}
	require.NoError(t, backend.SaveActive(ctx, []reminder.Reminder{legacy, legacy}))

	s, _ := newTestStore(t, backend)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "id-1", list[0].ID)
	assert.Equal(t, "id-2", list[1].ID)
	assert.NotNil(t, list[0].Updates)
}

func TestLoadAcceptsZonelessCreatedTimestamps(t *testing.T) {
	dir := t.TempDir()
	backend := storage.NewFileBackendDir(dir)
	legacy := `[{"title": "Pay rent", "due_date": "2025-01-01", "due_time": "09:00", "status": "Pending", "created": "2024-12-30T18:00:00.123456"}]`
	require.NoError(t, os.WriteFile(backend.ActiveFile(), []byte(legacy), 0o644))

	s, _ := newTestStore(t, backend)
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "id-1", list[0].ID)
	assert.Equal(t, "Pay rent", list[0].Title)
	assert.Equal(t, reminder.StatusPending, list[0].Status)
	assert.NotNil(t, list[0].Updates)
	assert.True(t, list[0].Created.Equal(time.Date(2024, 12, 30, 18, 0, 0, 123456000, time.Local)))

	// the assigned id is written back
	data, err := os.ReadFile(backend.ActiveFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "id-1"`)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, clk := newTestStore(t, storage.NewFileBackendDir(dir))

	r, err := s.Create(ctx, "Pay rent", "2025-01-01 09:00")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = s.AppendProgress(ctx, r.ID, 4, "called landlord")
	require.NoError(t, err)
	_, err = s.Create(ctx, "Dentist", "2025-01-05 14:15")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	restarted, _ := newTestStore(t, storage.NewFileBackendDir(dir))
	assert.Equal(t, asJSON(t, s.List()), asJSON(t, restarted.List()))
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryBackend())
	_, err := s.Load(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Create(ctx, fmt.Sprintf("task %d", i), "2025-01-01 09:00")
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.AppendProgress(ctx, r.ID, i%11, "")
			assert.NoError(t, err)
			_ = s.List()
			if i%2 == 0 {
				_, err = s.Complete(ctx, r.ID)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.List(), 4)
	assert.Len(t, s.Completed(), 4)
}
