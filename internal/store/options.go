package store

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/reminder"
)

type Option func(*ReminderStore)

func WithClock(c clock.Clock) Option {
	return func(s *ReminderStore) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ReminderStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCommentLength sets the rune limit applied to progress comments.
func WithCommentLength(n int) Option {
	return func(s *ReminderStore) {
		if n > 0 {
			s.commentMax = n
		}
	}
}

// WithIDGenerator replaces the UUID generator, mostly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *ReminderStore) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func defaults(s *ReminderStore) {
	s.clock = clock.System{}
	s.logger = zap.NewNop()
	s.commentMax = reminder.DefaultCommentLength
	s.newID = func() string { return uuid.NewString() }
}
