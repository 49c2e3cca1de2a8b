package dimensions

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestActivityLogBounded(t *testing.T) {
	log := NewActivityLog(ActivityCapacity)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 150; i++ {
		log.Add(ActivityEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			PinID:     int64(i),
			Outcome:   OutcomeSuccess,
		})
	}

	entries := log.Entries()
	if len(entries) != 100 || log.Len() != 100 {
		t.Fatalf("log holds %d entries, want 100", len(entries))
	}

	for i, e := range entries {
		if want := int64(149 - i); e.PinID != want {
			t.Fatalf("entry %d is pin %d, want %d", i, e.PinID, want)
		}
		if i > 0 && !e.Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("entries not in reverse-chronological order at %d", i)
		}
		if e.PinID < 50 {
			t.Fatalf("oldest entry %d survived", e.PinID)
		}
	}
}

func TestActivityLogPartial(t *testing.T) {
	log := NewActivityLog(5)
	log.Add(ActivityEntry{PinID: 1})
	log.Add(ActivityEntry{PinID: 2})

	entries := log.Entries()
	if len(entries) != 2 || entries[0].PinID != 2 || entries[1].PinID != 1 {
		t.Errorf("Entries() = %+v, want pins 2, 1", entries)
	}

	log.Reset()
	if log.Len() != 0 || len(log.Entries()) != 0 {
		t.Error("Reset() did not empty the log")
	}
}

func TestActivityLogTruncatesURL(t *testing.T) {
	log := NewActivityLog(1)
	long := "https://ex.com/" + strings.Repeat("a", 200)
	log.Add(ActivityEntry{URL: long})

	got := log.Entries()[0].URL
	if len(got) != maxActivityURL || !strings.HasSuffix(got, "...") {
		t.Errorf("URL = %q (%d chars), want %d chars ending in ...", got, len(got), maxActivityURL)
	}

	log.Add(ActivityEntry{URL: "https://ex.com/a.jpg"})
	if got := log.Entries()[0].URL; got != "https://ex.com/a.jpg" {
		t.Errorf("short URL changed to %q", got)
	}
}

func TestActivityLogTruncatesOnRuneBoundary(t *testing.T) {
	log := NewActivityLog(1)
	// Each "é" is two bytes, so byte 77 falls inside a rune.
	long := "https://ex.com/x" + strings.Repeat("é", 100)
	log.Add(ActivityEntry{URL: long})

	got := log.Entries()[0].URL
	if !utf8.ValidString(got) {
		t.Fatalf("URL %q is not valid UTF-8", got)
	}
	if len(got) > maxActivityURL || !strings.HasSuffix(got, "...") {
		t.Errorf("URL = %q (%d bytes), want at most %d bytes ending in ...", got, len(got), maxActivityURL)
	}
}
