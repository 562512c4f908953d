package mqtt

import (
	"context"
)

// QoS is the delivery guarantee of a message or subscription.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// Message is a PUBLISH received from the broker.
type Message struct {
	Topic   string
	Payload []byte

	// ResponseTopic and CorrelationData are the MQTT 5 request/response
	// properties. Both are empty when the sender did not set them.
	ResponseTopic   string
	CorrelationData []byte
}

// Publication is a PUBLISH sent to the broker.
type Publication struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool

	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
}

// Handler processes one received message. It runs on its own goroutine.
type Handler func(ctx context.Context, msg *Message)

// Subscription is one handler registered with Client.Subscribe.
type Subscription interface {
	// Unsubscribe removes this handler. The broker subscription is dropped
	// only when no other handler remains on the same filter.
	Unsubscribe(ctx context.Context) error
}

// Client is the subset of an MQTT 5 session the agent needs.
type Client interface {
	// Start connects in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect closes the session.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, p *Publication) error

	// Subscribe registers h for filter. Several handlers may share a filter;
	// each one is released through its own Subscription. Registered filters
	// are subscribed again after every reconnect, so a non-nil Subscription
	// stays valid when the SUBSCRIBE itself failed.
	Subscribe(ctx context.Context, filter string, qos QoS, h Handler) (Subscription, error)

	// AwaitConnection blocks until the session is up or ctx is done.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
