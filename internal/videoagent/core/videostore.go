package core

import (
	"context"
)

// VideoStore is the device that keeps a rolling buffer of recorded video and
// writes a segment to disk on request.
type VideoStore interface {
	// DoCommand sends cmd and returns the device's result.
	DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error)

	Close() error
}
