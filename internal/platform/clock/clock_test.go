package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)
	m.Advance(90 * time.Second)
	if got := m.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("unexpected time after advance: got=%s", got)
	}
	m.Set(start)
	if got := NowOr(m); !got.Equal(start) {
		t.Fatalf("unexpected time after set: got=%s", got)
	}
}

func TestNowOrNilFallsBackToWallClock(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	if got := NowOr(nil); got.Before(before) {
		t.Fatalf("expected wall clock time, got=%s", got)
	}
}
