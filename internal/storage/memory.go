package storage

import (
	"context"
	"encoding/json"
	"sync"

	"reminder-engine/internal/reminder"
)

// MemoryBackend keeps encoded copies of both collections in memory. Nothing
// survives the process; it exists for tests and throwaway runs.
type MemoryBackend struct {
	active     []byte
	completed  [][]byte
	failWith   error
	failActive error
	saves      int
	mu         sync.Mutex
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (m *MemoryBackend) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// FailActiveSaves makes only SaveActive fail, leaving the completed log writable.
func (m *MemoryBackend) FailActiveSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failActive = err
}

// Saves reports how many times SaveActive succeeded.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryBackend) LoadActive(_ context.Context) ([]reminder.Reminder, LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return []reminder.Reminder{}, LoadReport{Source: SourceEmpty}, nil
	}
	var list []reminder.Reminder
	if err := json.Unmarshal(m.active, &list); err != nil {
		return []reminder.Reminder{}, LoadReport{
			Source:   SourceEmpty,
			Warnings: []error{reminder.CorruptData("decode in-memory reminders", err)},
		}, nil
	}
	return list, LoadReport{Source: SourcePrimary}, nil
}

func (m *MemoryBackend) SaveActive(_ context.Context, reminders []reminder.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.failActive != nil {
		return m.failActive
	}
	if reminders == nil {
		reminders = []reminder.Reminder{}
	}
	data, err := json.Marshal(reminders)
	if err != nil {
		return err
	}
	m.active = data
	m.saves++
	return nil
}

func (m *MemoryBackend) LoadCompleted(_ context.Context) ([]reminder.CompletedReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]reminder.CompletedReminder, 0, len(m.completed))
	for _, data := range m.completed {
		var c reminder.CompletedReminder
		if err := json.Unmarshal(data, &c); err != nil {
			return list, reminder.CorruptData("decode in-memory completed reminder", err)
		}
		list = append(list, c)
	}
	return list, nil
}

func (m *MemoryBackend) AppendCompleted(_ context.Context, c reminder.CompletedReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	m.completed = append(m.completed, data)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
