// Package videostore sends commands to a video-store device over MQTT.
package videostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/videoupload/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/pkg/log"
	"github.com/autopeer-io/videoupload/pkg/mqtt"
	"github.com/autopeer-io/videoupload/pkg/mqtt/topic"
)

// DefaultTimeout bounds the wait for a reply when none is configured.
const DefaultTimeout = 5 * time.Minute

const contentType = "application/json"

const (
	fieldRequestID = "request_id"
	fieldCommand   = "command"
	fieldResult    = "result"
	fieldError     = "error"
)

var (
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("video store did not reply in time")

	// ErrCommandFailed wraps an error reported by the device.
	ErrCommandFailed = errors.New("video store command failed")

	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("video store client closed")
)

type reply struct {
	result map[string]any
	err    error
}

// MQTT is a core.VideoStore that publishes commands to
// {root}/command/{name} and waits for the matching reply on
// {root}/command/ack/{name}.
type MQTT struct {
	name    string
	client  mqtt.Client
	topics  *topic.Builder
	timeout time.Duration
	log     log.Logger

	lock    sync.Mutex
	sub     mqtt.Subscription
	pending map[string]chan reply
	closed  bool
}

var _ core.VideoStore = (*MQTT)(nil)

// NewMQTT creates a client for the named video store. The MQTT client must
// be started by the caller.
func NewMQTT(client mqtt.Client, builder *topic.Builder, name string, timeout time.Duration, l log.Logger) *MQTT {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MQTT{
		name:    name,
		client:  client,
		topics:  builder,
		timeout: timeout,
		log:     l.WithName("videostore").WithValues("videoStore", name),
		pending: make(map[string]chan reply),
	}
}

// CommandTopic is where requests are published.
func (s *MQTT) CommandTopic() string {
	return s.topics.Build(paths.Command, s.name)
}

// ReplyTopic is where the device answers.
func (s *MQTT) ReplyTopic() string {
	return s.topics.Build(paths.CommandAck, s.name)
}

// Start subscribes to the reply topic. A failed SUBSCRIBE is not fatal: the
// subscription is retried whenever the connection comes up. Another client
// for the same video store may share the reply topic; each one only drops
// its own handler on Close.
func (s *MQTT) Start(ctx context.Context) error {
	sub, err := s.client.Subscribe(ctx, s.ReplyTopic(), mqtt.AtLeastOnce, s.handleReply)
	if err != nil {
		s.log.Warn("Reply subscription deferred until connected", "topic", s.ReplyTopic(), "error", err)
	}

	s.lock.Lock()
	s.sub = sub
	s.lock.Unlock()
	return nil
}

// Connected reports whether the underlying MQTT session is up.
func (s *MQTT) Connected() bool {
	return s.client.IsConnected()
}

func (s *MQTT) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil, ErrClosed
	}
	s.pending[id] = ch
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		delete(s.pending, id)
		s.lock.Unlock()
	}()

	msg, err := structpb.NewStruct(map[string]any{
		fieldRequestID: id,
		fieldCommand:   cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	payload, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.client.Publish(ctx, &mqtt.Publication{
		Topic:           s.CommandTopic(),
		Payload:         payload,
		QoS:             mqtt.AtLeastOnce,
		ContentType:     contentType,
		ResponseTopic:   s.ReplyTopic(),
		CorrelationData: []byte(id),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("publish: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("failed to publish command: %w", err)
	}
	s.log.Debug("Command published", "requestID", id, "topic", s.CommandTopic())

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("request %s after %s: %w", id, s.timeout, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// Close releases the reply handler and fails every pending command with
// ErrClosed.
func (s *MQTT) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.pending {
		ch <- reply{err: ErrClosed}
		delete(s.pending, id)
	}
	sub := s.sub
	s.sub = nil
	s.lock.Unlock()

	if sub == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.Unsubscribe(ctx)
}

// handleReply matches a reply to its request by the MQTT 5 correlation data,
// or by the request_id field for devices that only echo the payload.
func (s *MQTT) handleReply(_ context.Context, msg *mqtt.Message) {
	body := &structpb.Struct{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(msg.Payload, body); err != nil {
		s.log.Warn("Dropping malformed reply", "error", err)
		return
	}
	m := body.AsMap()

	id := string(msg.CorrelationData)
	if id == "" {
		id, _ = m[fieldRequestID].(string)
	}
	if id == "" {
		s.log.Warn("Dropping reply without request id")
		return
	}

	r := reply{}
	if e, ok := m[fieldError].(string); ok && e != "" {
		r.err = fmt.Errorf("%w: %s", ErrCommandFailed, e)
	}
	switch v := m[fieldResult].(type) {
	case map[string]any:
		r.result = v
	case nil:
		r.result = map[string]any{}
	default:
		r.result = map[string]any{fieldResult: v}
	}

	s.lock.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.lock.Unlock()

	if !ok {
		s.log.Debug("Reply for unknown or expired request", "requestID", id)
		return
	}
	ch <- r
}
