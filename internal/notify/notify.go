// Package notify delivers scheduler events to any number of sinks.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"reminder-engine/internal/reminder"
)

type Kind string

const (
	KindUpcoming Kind = "upcoming"
	KindDue      Kind = "due"
)

// Event is a threshold crossing detected by the scheduler. Reminder is the
// state that was persisted with the transition.
type Event struct {
	Kind        Kind              `json:"kind"`
	Reminder    reminder.Reminder `json:"reminder"`
	MinutesLeft int               `json:"minutes_left,omitempty"`
	At          time.Time         `json:"at"`
}

// Sink displays alerts. Implementations must be safe to call from the hub
// goroutine; they never run under the store lock.
type Sink interface {
	OnUpcoming(r reminder.Reminder, minutesLeft int)
	OnDue(r reminder.Reminder)
}

var ErrHubClosed = errors.New("notification hub closed")

const defaultBuffer = 64

// Hub queues events and fans them out to registered sinks from its own
// goroutine, so publishers never wait on slow sinks beyond the buffer.
type Hub struct {
	logger *zap.Logger
	events chan Event
	done   chan struct{}

	// closeMu guards closed and the send side of events. Sinks have their
	// own lock so delivery never waits behind a blocked publisher.
	closeMu sync.RWMutex
	closed  bool

	sinksMu sync.RWMutex
	sinks   []Sink
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Add registers a sink. Sinks added while the hub runs receive later events.
func (h *Hub) Add(s Sink) {
	h.sinksMu.Lock()
	defer h.sinksMu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Publish enqueues ev. It blocks while the buffer is full, until ctx is done.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers events until Close is called and the queue is drained.
func (h *Hub) Run() {
	defer close(h.done)
	for ev := range h.events {
		h.deliver(ev)
	}
}

// Close stops accepting events. Queued events are still delivered; Close
// returns once Run has drained the queue or ctx is done.
func (h *Hub) Close(ctx context.Context) error {
	h.closeMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	h.closeMu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) deliver(ev Event) {
	h.sinksMu.RLock()
	sinks := append([]Sink(nil), h.sinks...)
	h.sinksMu.RUnlock()

	for _, s := range sinks {
		h.call(s, ev)
	}
}

func (h *Hub) call(s Sink, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("notification sink panicked",
				zap.String("kind", string(ev.Kind)),
				zap.String("reminder_id", ev.Reminder.ID),
				zap.Any("panic", p),
			)
		}
	}()
	switch ev.Kind {
	case KindUpcoming:
		s.OnUpcoming(ev.Reminder, ev.MinutesLeft)
	case KindDue:
		s.OnDue(ev.Reminder)
	default:
		h.logger.Warn("dropping event of unknown kind", zap.String("kind", string(ev.Kind)))
	}
}

// ChanSink forwards alerts to a channel as events. A full channel drops the
// alert rather than stall the hub.
type ChanSink struct {
	C chan Event
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Event, buffer)}
}

func (c *ChanSink) OnUpcoming(r reminder.Reminder, minutesLeft int) {
	c.send(Event{Kind: KindUpcoming, Reminder: r, MinutesLeft: minutesLeft, At: time.Now()})
}

func (c *ChanSink) OnDue(r reminder.Reminder) {
	c.send(Event{Kind: KindDue, Reminder: r, At: time.Now()})
}

func (c *ChanSink) send(ev Event) {
	select {
	case c.C <- ev:
	default:
	}
}
