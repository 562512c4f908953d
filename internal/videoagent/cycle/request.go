package cycle

import (
	"time"
)

const (
	// TimestampLayout is how save requests render their bounds, always in UTC.
	TimestampLayout = "2006-01-02_15-04-05Z"

	// Buffer keeps the requested range clear of the segment still being written.
	Buffer = 30 * time.Second

	// CommandSave is the device command issued every cycle.
	CommandSave = "save"
)

// Request is the time range one save command asks the video store to write.
type Request struct {
	From time.Time
	To   time.Time
}

// NewRequest ends the range Buffer before now and spans one interval.
func NewRequest(now time.Time, interval time.Duration) Request {
	to := now.UTC().Add(-Buffer)
	return Request{From: to.Add(-interval), To: to}
}

// FromString returns From in TimestampLayout.
func (r Request) FromString() string {
	return r.From.UTC().Format(TimestampLayout)
}

// ToString returns To in TimestampLayout.
func (r Request) ToString() string {
	return r.To.UTC().Format(TimestampLayout)
}

// Command renders the request as the device command payload.
func (r Request) Command() map[string]any {
	return map[string]any{
		"command": CommandSave,
		"from":    r.FromString(),
		"to":      r.ToString(),
	}
}
