package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// TestRecordAndRecent writes entries and reads them back newest-first.
func TestRecordAndRecent(t *testing.T) {
	l := openTestLogger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := l.Record(ctx, &Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Kind:      KindRuleFire,
			Source:    "00-weather",
			Sender:    "node1",
			Channel:   0,
			Success:   true,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].Timestamp.After(entries[1].Timestamp) {
		t.Errorf("entries not newest-first: %v then %v",
			entries[0].Timestamp, entries[1].Timestamp)
	}
	if entries[0].Source != "00-weather" || entries[0].Kind != KindRuleFire {
		t.Errorf("entry = %+v", entries[0])
	}
}

// TestStatsSince counts only matching kinds after the cutoff and computes
// the error rate.
func TestStatsSince(t *testing.T) {
	l := openTestLogger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	writes := []struct {
		kind EventKind
		at   time.Time
		ok   bool
	}{
		{KindSend, base, true},
		{KindSend, base.Add(time.Minute), true},
		{KindSend, base.Add(2 * time.Minute), false},
		{KindSend, base.Add(-2 * time.Hour), false}, // before cutoff
		{KindJobFire, base.Add(time.Minute), true},  // different kind
	}
	for _, w := range writes {
		err := l.Record(ctx, &Entry{Timestamp: w.at, Kind: w.kind, Source: "x", Success: w.ok})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	s, err := l.StatsSince(ctx, KindSend, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatsSince: %v", err)
	}
	if s.Total != 3 || s.Successful != 2 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ErrorRate < 0.33 || s.ErrorRate > 0.34 {
		t.Errorf("error rate = %v", s.ErrorRate)
	}
}

// TestZeroTimestampFilled stamps entries recorded without a timestamp.
func TestZeroTimestampFilled(t *testing.T) {
	l := openTestLogger(t)
	ctx := context.Background()

	if err := l.Record(ctx, &Entry{Kind: KindPluginCall, Source: "weather.generate_content"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := l.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Timestamp.IsZero() {
		t.Fatalf("entries = %+v", entries)
	}
}
