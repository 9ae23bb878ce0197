package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteBackend(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "test_reminder.db")
	backend, err := NewSQLiteBackend(dbFile)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer backend.Close()

	runBackendTests(t, backend)
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "test_reopen.db")
	backend, err := NewSQLiteBackend(dbFile)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	want := testReminders()
	if err := backend.SaveActive(ctx, want); err != nil {
		t.Fatalf("SaveActive failed: %v", err)
	}
	backend.Close()

	reopened, err := NewSQLiteBackend(dbFile)
	if err != nil {
		t.Fatalf("Failed to reopen SQLite backend: %v", err)
	}
	defer reopened.Close()
	got, _, err := reopened.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive failed: %v", err)
	}
	if asJSON(t, got) != asJSON(t, want) {
		t.Errorf("after reopen: got %s", asJSON(t, got))
	}
}

func TestSQLiteBackendSkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test_malformed.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer backend.Close()
	if err := backend.SaveActive(ctx, testReminders()); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.db.Exec("INSERT INTO reminders (id, position, doc) VALUES ('bad', 99, '{oops')"); err != nil {
		t.Fatal(err)
	}
	got, report, err := backend.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive failed: %v", err)
	}
	if len(got) != 2 || len(report.Warnings) != 1 {
		t.Errorf("got %d reminders, %d warnings", len(got), len(report.Warnings))
	}
}

func TestSQLiteBackendCreateTablesError(t *testing.T) {
	// Test with invalid database path to trigger error
	_, err := NewSQLiteBackend("/invalid/path/test.db")
	if err == nil {
		t.Error("Expected error when creating SQLite backend with invalid path")
	}
}
