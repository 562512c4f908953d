package videostore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/videoupload/pkg/log"
	"github.com/autopeer-io/videoupload/pkg/mqtt"
	"github.com/autopeer-io/videoupload/pkg/mqtt/topic"
)

var saveCmd = map[string]any{
	"command": "save",
	"from":    "2024-01-01_18-59-30Z",
	"to":      "2024-01-01_19-09-30Z",
}

func newStore(t *testing.T, c *fakeClient, timeout time.Duration) *MQTT {
	t.Helper()
	s := NewMQTT(c, topic.NewBuilder("video/v1"), "front-door", timeout, log.NewNopLogger())
	require.NoError(t, s.Start(t.Context()))
	return s
}

func TestTopics(t *testing.T) {
	s := NewMQTT(newFakeClient(), topic.NewBuilder("video/v1"), "front-door", 0, log.NewNopLogger())
	assert.Equal(t, "video/v1/command/front-door", s.CommandTopic())
	assert.Equal(t, "video/v1/command/ack/front-door", s.ReplyTopic())
	assert.Equal(t, DefaultTimeout, s.timeout)
}

func TestDoCommandCorrelatesReply(t *testing.T) {
	c := newFakeClient()
	c.respond = func(_ string, req map[string]any) (string, any, bool) {
		id := req["request_id"].(string)
		// A stale reply for another request arrives first and is ignored.
		c.deliver("video/v1/command/ack/front-door", []byte(`{"request_id":"stale","result":{"saved":"nope.mp4"}}`))
		return "video/v1/command/ack/front-door", map[string]any{
			"request_id": id,
			"result":     map[string]any{"saved": "front-door_2024-01-01.mp4"},
		}, true
	}
	s := newStore(t, c, time.Second)

	res, err := s.DoCommand(t.Context(), saveCmd)
	require.NoError(t, err)
	assert.Equal(t, "front-door_2024-01-01.mp4", res["saved"])

	pub := c.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "video/v1/command/front-door", pub[0].topic)

	var req map[string]any
	require.NoError(t, json.Unmarshal(pub[0].payload, &req))
	assert.Equal(t, saveCmd, req["command"])
	assert.NotEmpty(t, req["request_id"])

	assert.Equal(t, mqtt.AtLeastOnce, pub[0].pub.QoS)
	assert.False(t, pub[0].pub.Retain)
	assert.Equal(t, "video/v1/command/ack/front-door", pub[0].pub.ResponseTopic)
	assert.Equal(t, req["request_id"], string(pub[0].pub.CorrelationData))
}

func TestDoCommandCorrelatesByCorrelationData(t *testing.T) {
	c := newFakeClient()
	c.correlate = true
	c.respond = func(string, map[string]any) (string, any, bool) {
		// The reply body does not echo request_id.
		return "video/v1/command/ack/front-door", map[string]any{"result": "ok"}, true
	}
	s := newStore(t, c, time.Second)

	res, err := s.DoCommand(t.Context(), saveCmd)
	require.NoError(t, err)
	assert.Equal(t, "ok", res["result"])
}

func TestDoCommandRemoteError(t *testing.T) {
	c := newFakeClient()
	c.respond = func(_ string, req map[string]any) (string, any, bool) {
		return "video/v1/command/ack/front-door", map[string]any{
			"request_id": req["request_id"],
			"error":      "no frames in range",
		}, true
	}
	s := newStore(t, c, time.Second)

	_, err := s.DoCommand(t.Context(), saveCmd)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorContains(t, err, "no frames in range")
}

func TestDoCommandTimeout(t *testing.T) {
	s := newStore(t, newFakeClient(), 50*time.Millisecond)

	start := time.Now()
	_, err := s.DoCommand(t.Context(), saveCmd)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	s.lock.Lock()
	assert.Empty(t, s.pending)
	s.lock.Unlock()
}

func TestDoCommandCallerCancel(t *testing.T) {
	s := newStore(t, newFakeClient(), time.Minute)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.DoCommand(ctx, saveCmd)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoCommandPublishError(t *testing.T) {
	c := newFakeClient()
	c.publishErr = errors.New("not connected")
	s := newStore(t, c, time.Second)

	_, err := s.DoCommand(t.Context(), saveCmd)
	assert.ErrorContains(t, err, "not connected")
}

func TestCloseFailsPendingCommands(t *testing.T) {
	c := newFakeClient()
	s := newStore(t, c, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.DoCommand(context.Background(), saveCmd)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(c.Published()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending command not released by Close")
	}

	_, err := s.DoCommand(t.Context(), saveCmd)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestCloseKeepsReplacementSubscription(t *testing.T) {
	c := newFakeClient()
	c.correlate = true
	c.respond = func(string, map[string]any) (string, any, bool) {
		return "video/v1/command/ack/front-door", map[string]any{"result": map[string]any{"saved": "a.mp4"}}, true
	}
	old := newStore(t, c, time.Second)
	current := newStore(t, c, time.Second)
	require.Equal(t, 2, c.HandlerCount(current.ReplyTopic()))

	require.NoError(t, old.Close())
	assert.Equal(t, 1, c.HandlerCount(current.ReplyTopic()))
	assert.Empty(t, c.Released())

	res, err := current.DoCommand(t.Context(), saveCmd)
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", res["saved"])

	require.NoError(t, current.Close())
	assert.Equal(t, []string{"video/v1/command/ack/front-door"}, c.Released())
}

func TestMalformedRepliesAreDropped(t *testing.T) {
	s := NewMQTT(newFakeClient(), topic.NewBuilder("video/v1"), "front-door", time.Second, log.NewNopLogger())

	assert.NotPanics(t, func() {
		s.handleReply(t.Context(), &mqtt.Message{Payload: []byte("not json")})
		s.handleReply(t.Context(), &mqtt.Message{Payload: []byte(`{"result":{}}`)})
		s.handleReply(t.Context(), &mqtt.Message{Payload: []byte(`{"request_id":"unknown"}`)})
		s.handleReply(t.Context(), &mqtt.Message{Payload: []byte(`{}`), CorrelationData: []byte("unknown")})
	})
}

func TestConnected(t *testing.T) {
	c := newFakeClient()
	s := newStore(t, c, time.Second)
	assert.True(t, s.Connected())

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	assert.False(t, s.Connected())
}
