package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	now := time.Date(2024, 1, 1, 19, 10, 0, 0, time.UTC)
	req := NewRequest(now, 10*time.Minute)

	assert.Equal(t, "2024-01-01_18-59-30Z", req.FromString())
	assert.Equal(t, "2024-01-01_19-09-30Z", req.ToString())
	assert.Equal(t, map[string]any{
		"command": "save",
		"from":    "2024-01-01_18-59-30Z",
		"to":      "2024-01-01_19-09-30Z",
	}, req.Command())
}

func TestNewRequestOrdering(t *testing.T) {
	now := time.Date(2024, 6, 30, 23, 59, 59, 0, time.FixedZone("PDT", -7*3600))

	for _, interval := range []time.Duration{time.Minute, 10 * time.Minute, 24 * time.Hour} {
		req := NewRequest(now, interval)
		assert.True(t, req.From.Before(req.To), "from < to for %s", interval)
		assert.True(t, req.To.Before(now), "to < now for %s", interval)
		assert.Equal(t, interval, req.To.Sub(req.From))
		assert.Equal(t, Buffer, now.Sub(req.To))
	}
}

func TestRequestRendersUTC(t *testing.T) {
	now := time.Date(2024, 1, 1, 20, 10, 0, 0, time.FixedZone("CET", 3600))
	req := NewRequest(now, 10*time.Minute)

	assert.Equal(t, "2024-01-01_19-09-30Z", req.ToString())
}
