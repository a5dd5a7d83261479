package service

import (
	"fmt"
	"time"
)

// OpenDuring reports whether [entry, exit) fits inside a single open
// period of a lot opening at opening and closing at closing (HH:MM,
// local to loc). Empty hours mean always open, equal hours mean open
// around the clock and closing before opening means overnight.
func OpenDuring(opening, closing string, entry, exit time.Time, loc *time.Location) (bool, error) {
	if opening == "" || closing == "" {
		return true, nil
	}
	openAt, err := parseClock(opening)
	if err != nil {
		return false, err
	}
	closeAt, err := parseClock(closing)
	if err != nil {
		return false, err
	}
	if openAt == closeAt {
		return true, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	local := entry.In(loc)
	// The period containing entry started either on the entry day or,
	// for overnight hours, the day before.
	for _, dayOffset := range []int{-1, 0} {
		day := time.Date(local.Year(), local.Month(), local.Day()+dayOffset, 0, 0, 0, 0, loc)
		start := day.Add(openAt)
		end := day.Add(closeAt)
		if closeAt < openAt {
			end = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc).Add(closeAt)
		}
		if !entry.Before(start) && !exit.After(end) {
			return true, nil
		}
	}
	return false, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
