package videostore

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/pkg/log"
)

// BreakerSettings tune the circuit breaker in front of a VideoStore.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after 3 consecutive failures for 5 minutes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: 5 * time.Minute}
}

// Breaker stops calling an unresponsive video store for a while after
// repeated failures. While open, DoCommand fails fast with
// gobreaker.ErrOpenState.
type Breaker struct {
	next core.VideoStore
	cb   *gobreaker.CircuitBreaker[map[string]any]
}

var _ core.VideoStore = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(name string, next core.VideoStore, st BreakerSettings, l log.Logger) *Breaker {
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if st.OpenTimeout <= 0 {
		st.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}
	l = l.WithName("breaker")

	cb := gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("Video store breaker changed state", "videoStore", name, "from", from, "to", to)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	return b.cb.Execute(func() (map[string]any, error) {
		return b.next.DoCommand(ctx, cmd)
	})
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Close() error {
	return b.next.Close()
}
