// Package scheduler polls the reminder store and drives the
// Pending -> EarlyNotified -> Notified transitions.
package scheduler

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/notify"
	"reminder-engine/internal/reminder"
	"reminder-engine/internal/store"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultLeadMinutes    = 15
	DefaultPublishTimeout = 5 * time.Second
)

// Publisher receives the events of persisted transitions.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

type Config struct {
	Interval    time.Duration
	LeadMinutes int
	// PublishTimeout bounds how long one event may wait for the publisher.
	PublishTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
}

type Scheduler struct {
	store     *store.ReminderStore
	publisher Publisher
	clock     clock.Clock
	logger    *zap.Logger
	interval  time.Duration
	lead      time.Duration
	timeout   time.Duration
	stopped   chan struct{}
}

// TickResult summarizes one poll.
type TickResult struct {
	Checked  int
	Upcoming int
	Due      int
	Failed   int
}

func New(st *store.ReminderStore, pub Publisher, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LeadMinutes < 0 {
		cfg.LeadMinutes = DefaultLeadMinutes
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		store:     st,
		publisher: pub,
		clock:     cfg.Clock,
		logger:    cfg.Logger.Named("scheduler"),
		interval:  cfg.Interval,
		lead:      time.Duration(cfg.LeadMinutes) * time.Minute,
		timeout:   cfg.PublishTimeout,
		stopped:   make(chan struct{}),
	}
}

// Run polls once immediately and then every interval until ctx is cancelled.
// A tick that has started is allowed to finish. Run must be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("lead", s.lead),
	)
	s.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// Wait blocks until Run has returned, so the last tick's transitions are
// persisted and published, or until ctx is done. Call it only after Run was
// started.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduler tick panicked", zap.Any("panic", p))
		}
	}()
	s.Tick(context.WithoutCancel(ctx))
}

// Tick evaluates every watched reminder once. Failures are logged per
// reminder and never stop the rest of the tick.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	var res TickResult

	for _, r := range s.store.List() {
		if !r.Status.Watched() {
			continue
		}
		res.Checked++

		ev, err := s.evaluate(ctx, r.ID)
		if err != nil {
			if reminder.IsKind(err, reminder.KindNotFound) {
				// completed or deleted since the snapshot
				continue
			}
			res.Failed++
			s.logger.Warn("skipping reminder", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		if ev == nil {
			continue
		}
		if err := s.publish(ctx, *ev); err != nil {
			res.Failed++
			s.logger.Warn("could not publish event",
				zap.String("id", r.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
			continue
		}
		switch ev.Kind {
		case notify.KindUpcoming:
			res.Upcoming++
		case notify.KindDue:
			res.Due++
		}
	}

	s.logger.Debug("tick finished",
		zap.Duration("took", time.Since(start)),
		zap.Int("checked", res.Checked),
		zap.Int("upcoming", res.Upcoming),
		zap.Int("due", res.Due),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (s *Scheduler) publish(ctx context.Context, ev notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.publisher.Publish(ctx, ev)
}

// evaluate applies at most one transition to the reminder. The decision is
// made inside the store's update so it sees the latest state.
func (s *Scheduler) evaluate(ctx context.Context, id string) (*notify.Event, error) {
	var ev *notify.Event
	updated, err := s.store.Update(ctx, id, func(r *reminder.Reminder) error {
		if !r.Status.Watched() {
			return store.ErrNoChange
		}
		due, err := r.DueAt()
		if err != nil {
			return err
		}
		now := s.clock.Now()
		left := due.Sub(now)
		switch {
		case left <= 0:
			r.Status = reminder.StatusNotified
			ev = &notify.Event{Kind: notify.KindDue, At: now}
		case left <= s.lead && !r.EarlyNotified:
			r.Status = reminder.StatusEarlyNotified
			r.EarlyNotified = true
			ev = &notify.Event{Kind: notify.KindUpcoming, MinutesLeft: minutesLeft(left), At: now}
		default:
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		ev.Reminder = updated
	}
	return ev, nil
}

func minutesLeft(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
