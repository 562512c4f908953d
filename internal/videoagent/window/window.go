// Package window gates upload cycles on configured active time windows.
package window

import (
	"fmt"
	"time"
)

// offsetlessLayout is accepted for timestamps written without a zone.
const offsetlessLayout = "2006-01-02T15:04:05"

// Window is a closed interval of absolute time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Schedule is an unordered set of windows. An empty Schedule means the gate is
// not configured.
type Schedule []Window

// Validate reports an error when the window ends before it starts.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s is before start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Covers reports whether t lies in [Start, End].
func (w Window) Covers(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start.UTC()) && !t.After(w.End.UTC())
}

// Contains reports whether any window covers t. It is false for an empty Schedule.
func (s Schedule) Contains(t time.Time) bool {
	for _, w := range s {
		if w.Covers(t) {
			return true
		}
	}
	return false
}

// IsActive reports whether a cycle may run at now. An unconfigured (empty)
// schedule is always active.
func IsActive(s Schedule, now time.Time) bool {
	if len(s) == 0 {
		return true
	}
	return s.Contains(now)
}

// ParseTimestamp parses an RFC 3339 timestamp. Timestamps without an offset
// are read as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(offsetlessLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC 3339", v)
	}
	return t, nil
}

// Parse builds a Window from two timestamps and validates it.
func Parse(start, end string) (Window, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	w := Window{Start: s, End: e}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}
