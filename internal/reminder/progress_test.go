package reminder

import (
	"strings"
	"testing"
	"time"
)

func TestProgressLogEvictsOldest(t *testing.T) {
	var log ProgressLog
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)
	for i := 0; i < 11; i++ {
		if _, err := log.Append(base.Add(time.Duration(i)*time.Minute), i%11, "", 0); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if len(log) != MaxUpdates {
		t.Fatalf("len: got %d, want %d", len(log), MaxUpdates)
	}
	for i, e := range log {
		want := base.Add(time.Duration(i+1) * time.Minute)
		if !e.Timestamp.Equal(want) {
			t.Errorf("entry %d: got %v, want %v", i, e.Timestamp, want)
		}
	}
	latest, ok := log.Latest()
	if !ok || latest.Progress != 10 {
		t.Errorf("Latest: got %+v, %v", latest, ok)
	}
}

func TestProgressLogRejectsOutOfRange(t *testing.T) {
	var log ProgressLog
	for _, p := range []int{-1, 11} {
		_, err := log.Append(time.Now(), p, "x", 0)
		if !IsKind(err, KindValidation) {
			t.Errorf("progress %d: expected validation error, got %v", p, err)
		}
	}
	if len(log) != 0 {
		t.Errorf("log mutated on rejected append: %+v", log)
	}
	if _, ok := log.Latest(); ok {
		t.Error("Latest on empty log reported an entry")
	}
}

func TestProgressLogTruncatesComment(t *testing.T) {
	var log ProgressLog
	e, err := log.Append(time.Now(), 5, strings.Repeat("é", 150), 0)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if n := len([]rune(e.Comment)); n != DefaultCommentLength {
		t.Errorf("comment runes: got %d, want %d", n, DefaultCommentLength)
	}
	e, _ = log.Append(time.Now(), 5, "abcdef", 3)
	if e.Comment != "abc" {
		t.Errorf("custom limit: got %q", e.Comment)
	}
}

func TestGroupByDate(t *testing.T) {
	var log ProgressLog
	d1 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)
	d2 := time.Date(2025, 1, 2, 9, 0, 0, 0, time.Local)
	log.Append(d1, 1, "a", 0)
	log.Append(d1.Add(time.Hour), 2, "b", 0)
	log.Append(d2, 3, "c", 0)

	groups := log.GroupByDate()
	if len(groups) != 2 {
		t.Fatalf("groups: got %d, want 2", len(groups))
	}
	if groups[0].Date != "2025-01-02" || groups[1].Date != "2025-01-01" {
		t.Errorf("group order: %s, %s", groups[0].Date, groups[1].Date)
	}
	if groups[1].Entries[0].Comment != "b" || groups[1].Entries[1].Comment != "a" {
		t.Errorf("entries within day not newest first: %+v", groups[1].Entries)
	}
}
