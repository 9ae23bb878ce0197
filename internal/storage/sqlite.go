package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reminder-engine/internal/reminder"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores each reminder as a JSON document row.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One connection keeps writes serialized and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			doc TEXT NOT NULL -- JSON encoded reminder
		)`,
		`CREATE TABLE IF NOT EXISTS completed_reminders (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			completed_at TEXT NOT NULL, -- RFC 3339
			doc TEXT NOT NULL
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}
	return nil
}

func (s *SQLiteBackend) LoadActive(ctx context.Context) ([]reminder.Reminder, LoadReport, error) {
	report := LoadReport{Source: SourcePrimary}
	rows, err := s.db.QueryContext(ctx, "SELECT id, doc FROM reminders ORDER BY position")
	if err != nil {
		return nil, report, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	list := []reminder.Reminder{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, report, fmt.Errorf("failed to scan reminder: %w", err)
		}
		var r reminder.Reminder
		if err := decodeDoc([]byte(doc), &r); err != nil {
			report.Warnings = append(report.Warnings, reminder.CorruptData(fmt.Sprintf("skipping reminder row %s", id), err))
			continue
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, report, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return list, report, nil
}

func (s *SQLiteBackend) SaveActive(ctx context.Context, reminders []reminder.Reminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reminders"); err != nil {
		return fmt.Errorf("failed to clear reminders: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO reminders (id, position, doc) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range reminders {
		doc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal reminder %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(doc)); err != nil {
			return fmt.Errorf("failed to insert reminder %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reminders: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) LoadCompleted(ctx context.Context) ([]reminder.CompletedReminder, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, doc FROM completed_reminders ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list completed reminders: %w", err)
	}
	defer rows.Close()

	list := []reminder.CompletedReminder{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan completed reminder: %w", err)
		}
		var c reminder.CompletedReminder
		if err := decodeDoc([]byte(doc), &c); err != nil {
			return list, reminder.CorruptData(fmt.Sprintf("completed reminder row %s", id), err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *SQLiteBackend) AppendCompleted(ctx context.Context, c reminder.CompletedReminder) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal completed reminder %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO completed_reminders (id, completed_at, doc) VALUES (?, ?, ?)",
		c.ID, c.CompletedAt.Format(time.RFC3339), string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert completed reminder %s: %w", c.ID, err)
	}
	return nil
}
