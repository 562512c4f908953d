package videostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/videoupload/pkg/log"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &fakeStore{err: errors.New("device offline")}
	b := NewBreaker("front-door", next, DefaultBreakerSettings(), log.NewNopLogger())

	for range 3 {
		_, err := b.DoCommand(t.Context(), saveCmd)
		require.ErrorContains(t, err, "device offline")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.DoCommand(t.Context(), saveCmd)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, next.Calls())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	next := &fakeStore{err: errors.New("device offline")}
	b := NewBreaker("front-door", next, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond}, log.NewNopLogger())

	_, err := b.DoCommand(t.Context(), saveCmd)
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()

	require.Eventually(t, func() bool { return b.State() == gobreaker.StateHalfOpen }, time.Second, 5*time.Millisecond)
	_, err = b.DoCommand(t.Context(), saveCmd)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	next := &fakeStore{err: context.Canceled}
	b := NewBreaker("front-door", next, BreakerSettings{ConsecutiveFailures: 1}, log.NewNopLogger())

	for range 3 {
		_, err := b.DoCommand(t.Context(), saveCmd)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
