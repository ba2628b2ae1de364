package pota

import (
	"fmt"
	"time"
)

// Window is a weekly recurring maintenance slot in UTC. The service drops
// uploads on the floor during the slot while still returning 200, so calls
// are refused locally instead of trusting the response.
type Window struct {
	Weekday time.Weekday
	Start   string // "15:04"
	Length  time.Duration
	Bypass  bool
}

// Contains reports whether t falls inside the window and, when it does, when
// the window ends. A bypassed window never matches.
func (w Window) Contains(t time.Time) (bool, time.Time) {
	if w.Bypass || w.Length <= 0 {
		return false, time.Time{}
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false, time.Time{}
	}

	t = t.UTC()
	// Candidate window openings on the same weekday this week and last week;
	// last week covers a window that straddles midnight into the next day.
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC)
	dayStart = dayStart.AddDate(0, 0, int(w.Weekday-t.Weekday()))
	for _, opens := range []time.Time{dayStart, dayStart.AddDate(0, 0, -7)} {
		if !t.Before(opens) && t.Before(opens.Add(w.Length)) {
			return true, opens.Add(w.Length)
		}
	}
	return false, time.Time{}
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s+%s UTC", w.Weekday, w.Start, w.Length)
}
