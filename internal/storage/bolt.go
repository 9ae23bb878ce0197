package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"reminder-engine/internal/reminder"
)

var (
	boltRemindersBucket = []byte("reminders")
	boltCompletedBucket = []byte("completed")
)

// BoltBackend persists both collections in a single bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens the database file and ensures the buckets exist.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltRemindersBucket, boltCompletedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func positionKey(i int) []byte {
	return []byte(fmt.Sprintf("%08d", i))
}

func (b *BoltBackend) LoadActive(_ context.Context) ([]reminder.Reminder, LoadReport, error) {
	report := LoadReport{Source: SourcePrimary}
	list := []reminder.Reminder{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltRemindersBucket).ForEach(func(k, v []byte) error {
			var r reminder.Reminder
			if err := decodeDoc(v, &r); err != nil {
				report.Warnings = append(report.Warnings, reminder.CorruptData(fmt.Sprintf("skipping reminder at key %s", k), err))
				return nil
			}
			list = append(list, r)
			return nil
		})
	})
	if err != nil {
		return nil, report, err
	}
	return list, report, nil
}

// SaveActive rewrites the reminders bucket inside one transaction.
func (b *BoltBackend) SaveActive(_ context.Context, reminders []reminder.Reminder) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltRemindersBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := tx.CreateBucket(boltRemindersBucket)
		if err != nil {
			return err
		}
		for i, r := range reminders {
			payload, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode reminder %s: %w", r.ID, err)
			}
			if err := bucket.Put(positionKey(i), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) LoadCompleted(_ context.Context) ([]reminder.CompletedReminder, error) {
	list := []reminder.CompletedReminder{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltCompletedBucket).ForEach(func(k, v []byte) error {
			var c reminder.CompletedReminder
			if err := decodeDoc(v, &c); err != nil {
				return reminder.CorruptData(fmt.Sprintf("completed reminder at key %s", k), err)
			}
			list = append(list, c)
			return nil
		})
	})
	return list, err
}

// AppendCompleted keys snapshots by the bucket sequence to keep append order.
func (b *BoltBackend) AppendCompleted(_ context.Context, c reminder.CompletedReminder) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completed reminder %s: %w", c.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltCompletedBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(fmt.Sprintf("%016d", seq)), payload)
	})
}
