package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reminder-engine/internal/reminder"
)

// Backend persists the active reminder collection and the completed log.
// Implementations are not required to be safe for concurrent writers; the
// reminder store serializes every call.
type Backend interface {
	// LoadActive returns the persisted active collection. Recoverable
	// problems (corrupt primary, fallback to backup, skipped rows) are reported
	// in the LoadReport rather than as an error.
	LoadActive(ctx context.Context) ([]reminder.Reminder, LoadReport, error)
	// SaveActive durably replaces the active collection.
	SaveActive(ctx context.Context, reminders []reminder.Reminder) error

	LoadCompleted(ctx context.Context) ([]reminder.CompletedReminder, error)
	// AppendCompleted durably appends one snapshot to the completed log.
	AppendCompleted(ctx context.Context, c reminder.CompletedReminder) error

	Close() error
}

// Source tells where LoadActive found its data.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
	SourceEmpty   Source = "empty"
)

type LoadReport struct {
	Source   Source
	Warnings []error
}

// Recovered reports whether loading had to fall back or skip data.
func (r LoadReport) Recovered() bool {
	return r.Source != SourcePrimary || len(r.Warnings) > 0
}

var errNotObject = errors.New("document is not a JSON object")

// Timestamp fields that older files may carry without a zone offset.
var (
	legacyTimeFields  = []string{"created", "completed_at"}
	legacyUpdateField = "updates"
	legacyEntryField  = "timestamp"
)

// decodeDoc reads one persisted reminder document into v, first rewriting
// zone-less ISO-8601 timestamps as local time.
func decodeDoc(doc []byte, v any) error {
	fixed, err := normalizeDoc(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(fixed, v)
}

// decodeDocs reads a JSON array of documents. A document that cannot be
// decoded is skipped and reported; only a broken array fails the whole read.
func decodeDocs[T any](data []byte, source string) ([]T, []error, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(raw))
	var skipped []error
	for i, doc := range raw {
		var v T
		if err := decodeDoc(doc, &v); err != nil {
			skipped = append(skipped, reminder.CorruptData(fmt.Sprintf("skipping entry %d of %s", i, source), err))
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}

func normalizeDoc(doc []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotObject
	}
	changed := false
	for _, k := range legacyTimeFields {
		if t, ok := normalizeTime(fields[k]); ok {
			fields[k] = t
			changed = true
		}
	}
	if raw, ok := fields[legacyUpdateField]; ok {
		var entries []map[string]json.RawMessage
		if json.Unmarshal(raw, &entries) == nil {
			touched := false
			for _, e := range entries {
				if t, ok := normalizeTime(e[legacyEntryField]); ok {
					e[legacyEntryField] = t
					touched = true
				}
			}
			if touched {
				b, err := json.Marshal(entries)
				if err != nil {
					return nil, err
				}
				fields[legacyUpdateField] = b
				changed = true
			}
		}
	}
	if !changed {
		return doc, nil
	}
	return json.Marshal(fields)
}

// normalizeTime returns an RFC 3339 replacement for raw when raw is a
// timestamp string time.Time cannot decode as is.
func normalizeTime(raw json.RawMessage) (json.RawMessage, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil, false
	}
	if s == "" {
		return json.RawMessage("null"), true
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return nil, false
	}
	t, err := reminder.ParseTimestamp(s)
	if err != nil {
		return nil, false
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, false
	}
	return b, true
}
