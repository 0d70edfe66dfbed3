// Package window decides when autonomous execution is allowed. It owns the
// nightly time window, the execution state machine, and the task-start
// guards (duration, session, and daily change limits).
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a daily recurring window between two wall-clock times.
// An end before the start means the window crosses midnight.
type TimeWindow struct {
	start int // minutes after midnight
	end   int
	loc   *time.Location
}

// ParseWindow builds a TimeWindow from "HH:MM" boundaries in the given
// IANA timezone. An empty timezone means UTC.
func ParseWindow(start, end, timezone string) (*TimeWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("window timezone: %w", err)
		}
	}

	return &TimeWindow{start: s, end: e, loc: loc}, nil
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the window. Boundaries are
// inclusive. Start equal to end means the window is always open.
func (w *TimeWindow) Contains(t time.Time) bool {
	lt := t.In(w.loc)
	m := lt.Hour()*60 + lt.Minute()

	switch {
	case w.start == w.end:
		return true
	case w.start < w.end:
		return m >= w.start && m <= w.end
	default:
		// Crosses midnight.
		return m >= w.start || m <= w.end
	}
}

// NextStart returns the next window opening at or after t. Inside the
// window it returns the following day's opening.
func (w *TimeWindow) NextStart(t time.Time) time.Time {
	lt := t.In(w.loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), w.start/60, w.start%60, 0, 0, w.loc)
	if !next.After(lt) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextEnd returns the next window closing at or after t.
func (w *TimeWindow) NextEnd(t time.Time) time.Time {
	lt := t.In(w.loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), w.end/60, w.end%60, 0, 0, w.loc)
	if !next.After(lt) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Location returns the timezone the window is evaluated in.
func (w *TimeWindow) Location() *time.Location {
	return w.loc
}

// String renders the window as "HH:MM-HH:MM".
func (w *TimeWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}
