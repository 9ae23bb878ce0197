package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reminder-engine/internal/reminder"
)

const (
	DefaultActiveFile    = "reminders.json"
	DefaultCompletedFile = "completed_reminders.json"
	backupSuffix         = ".bak"
)

var errEmptyFile = errors.New("file is empty")

// FileBackend keeps each collection in a JSON file. Every save of the active
// file first copies the previous primary to a backup next to it.
type FileBackend struct {
	activeFile    string
	backupFile    string
	completedFile string
	mu            sync.Mutex
}

func NewFileBackend(activeFile, completedFile string) *FileBackend {
	return &FileBackend{
		activeFile:    activeFile,
		backupFile:    activeFile + backupSuffix,
		completedFile: completedFile,
	}
}

// NewFileBackendDir uses the default file names inside dir.
func NewFileBackendDir(dir string) *FileBackend {
	return NewFileBackend(filepath.Join(dir, DefaultActiveFile), filepath.Join(dir, DefaultCompletedFile))
}

func (fb *FileBackend) ActiveFile() string { return fb.activeFile }
func (fb *FileBackend) BackupFile() string { return fb.backupFile }

// readDocs reads a JSON array from path, skipping entries that do not decode.
func readDocs[T any](path string) ([]T, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, errEmptyFile
	}
	return decodeDocs[T](data, path)
}

// writeFileAtomic replaces path with data via a synced temp file and rename,
// so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (fb *FileBackend) LoadActive(_ context.Context) ([]reminder.Reminder, LoadReport, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	var report LoadReport
	primary, skipped, err := readDocs[reminder.Reminder](fb.activeFile)
	if err == nil {
		report.Source = SourcePrimary
		report.Warnings = skipped
		return primary, report, nil
	}
	primaryMissing := errors.Is(err, os.ErrNotExist)
	if !primaryMissing {
		report.Warnings = append(report.Warnings, reminder.CorruptData(fmt.Sprintf("read %s", fb.activeFile), err))
	}

	backup, skipped, berr := readDocs[reminder.Reminder](fb.backupFile)
	if berr == nil {
		if primaryMissing {
			report.Warnings = append(report.Warnings, reminder.CorruptData(fmt.Sprintf("%s is missing, recovered from backup", fb.activeFile), err))
		}
		report.Warnings = append(report.Warnings, skipped...)
		report.Source = SourceBackup
		return backup, report, nil
	}
	if !errors.Is(berr, os.ErrNotExist) {
		report.Warnings = append(report.Warnings, reminder.CorruptData(fmt.Sprintf("read %s", fb.backupFile), berr))
	}
	report.Source = SourceEmpty
	return []reminder.Reminder{}, report, nil
}

func (fb *FileBackend) SaveActive(_ context.Context, reminders []reminder.Reminder) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if reminders == nil {
		reminders = []reminder.Reminder{}
	}
	data, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}

	prev, err := os.ReadFile(fb.activeFile)
	switch {
	case err == nil:
		// A corrupt primary must not replace the last good backup.
		if len(prev) > 0 && json.Valid(prev) {
			if err := writeFileAtomic(fb.backupFile, prev); err != nil {
				return fmt.Errorf("write backup %s: %w", fb.backupFile, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read %s for backup: %w", fb.activeFile, err)
	}

	if err := writeFileAtomic(fb.activeFile, data); err != nil {
		return fmt.Errorf("write %s: %w", fb.activeFile, err)
	}
	return nil
}

func (fb *FileBackend) LoadCompleted(_ context.Context) ([]reminder.CompletedReminder, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.loadCompleted()
}

// loadCompleted returns what could be read. Skipped entries make the log
// count as corrupt so AppendCompleted moves it aside before rewriting.
func (fb *FileBackend) loadCompleted() ([]reminder.CompletedReminder, error) {
	completed, skipped, err := readDocs[reminder.CompletedReminder](fb.completedFile)
	switch {
	case err == nil && len(skipped) == 0:
		return completed, nil
	case err == nil:
		return completed, reminder.CorruptData(fmt.Sprintf("read %s", fb.completedFile), errors.Join(skipped...))
	case errors.Is(err, os.ErrNotExist) || errors.Is(err, errEmptyFile):
		return []reminder.CompletedReminder{}, nil
	}
	return []reminder.CompletedReminder{}, reminder.CorruptData(fmt.Sprintf("read %s", fb.completedFile), err)
}

func (fb *FileBackend) AppendCompleted(_ context.Context, c reminder.CompletedReminder) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	completed, err := fb.loadCompleted()
	if err != nil {
		// Keep the unreadable log for inspection instead of overwriting it.
		aside := fmt.Sprintf("%s.corrupt-%d", fb.completedFile, time.Now().Unix())
		if rerr := os.Rename(fb.completedFile, aside); rerr != nil {
			return fmt.Errorf("move aside corrupt %s: %w", fb.completedFile, rerr)
		}
	}
	completed = append(completed, c)
	data, err := json.MarshalIndent(completed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode completed reminders: %w", err)
	}
	if err := writeFileAtomic(fb.completedFile, data); err != nil {
		return fmt.Errorf("write %s: %w", fb.completedFile, err)
	}
	return nil
}

func (fb *FileBackend) Close() error { return nil }
