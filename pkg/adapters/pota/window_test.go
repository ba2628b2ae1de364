package pota

import (
	"testing"
	"time"
)

func TestWindowContains(t *testing.T) {
	window := Window{Weekday: time.Wednesday, Start: "00:00", Length: 2 * time.Hour}

	// 2025-03-05 is a Wednesday.
	inside := time.Date(2025, 3, 5, 1, 30, 0, 0, time.UTC)
	ok, until := window.Contains(inside)
	if !ok {
		t.Fatal("01:30 Wednesday must be inside the window")
	}
	want := time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC)
	if !until.Equal(want) {
		t.Fatalf("expected window end %v, got %v", want, until)
	}

	if ok, _ := window.Contains(time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC)); ok {
		t.Fatal("window end is exclusive")
	}
	if ok, _ := window.Contains(time.Date(2025, 3, 6, 1, 0, 0, 0, time.UTC)); ok {
		t.Fatal("Thursday must be outside the window")
	}
}

func TestWindowStraddlesMidnight(t *testing.T) {
	window := Window{Weekday: time.Tuesday, Start: "23:00", Length: 3 * time.Hour}

	// Opens Tuesday 2025-03-04 23:00, closes Wednesday 02:00.
	if ok, _ := window.Contains(time.Date(2025, 3, 5, 1, 0, 0, 0, time.UTC)); !ok {
		t.Fatal("early Wednesday falls in a window opened Tuesday night")
	}
	if ok, _ := window.Contains(time.Date(2025, 3, 5, 3, 0, 0, 0, time.UTC)); ok {
		t.Fatal("03:00 Wednesday is past the window")
	}
}

func TestWindowBypass(t *testing.T) {
	window := Window{Weekday: time.Wednesday, Start: "00:00", Length: 2 * time.Hour, Bypass: true}
	if ok, _ := window.Contains(time.Date(2025, 3, 5, 1, 0, 0, 0, time.UTC)); ok {
		t.Fatal("bypassed window must never match")
	}
}
