package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/videoupload/pkg/log"
)

// ErrNotStarted is returned by operations issued before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// Option configures the client returned by NewClient.
type Option func(*pahoClient)

// WithLogger sets the logger. The package logger is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(c *pahoClient) {
		c.log = l
	}
}

// filterSubs holds every handler registered on one filter.
type filterSubs struct {
	qos      QoS
	handlers map[uint64]Handler
}

type pahoSubscription struct {
	client *pahoClient
	filter string
	id     uint64
}

func (s *pahoSubscription) Unsubscribe(ctx context.Context) error {
	if !s.client.release(s) {
		return nil
	}
	cm, err := s.client.manager()
	if err != nil {
		return err
	}
	if _, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{s.filter}}); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", s.filter, err)
	}
	s.client.log.Debug("Unsubscribed", "filter", s.filter)
	return nil
}

type pahoClient struct {
	cfg ClientConfig
	log log.Logger

	mu     sync.RWMutex
	cm     *autopaho.ConnectionManager
	subs   map[string]*filterSubs
	nextID uint64

	connected atomic.Bool
}

// NewClient validates cfg and returns an unconnected client backed by the
// paho auto-reconnecting connection manager.
func NewClient(cfg *ClientConfig, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	c := &pahoClient{
		cfg:  cfg.withDefaults(),
		log:  log.Std(),
		subs: make(map[string]*filterSubs),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("mqtt").WithValues("clientID", c.cfg.ClientID)
	return c, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	cm, err := autopaho.NewConnection(ctx, c.connectionConfig(broker))
	if err != nil {
		return fmt.Errorf("failed to start mqtt connection: %w", err)
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	c.log.Info("MQTT client started", "broker", c.cfg.BrokerURL)
	return nil
}

func (c *pahoClient) connectionConfig(broker *url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	}
	if broker.Scheme == "ssl" || broker.Scheme == "tls" || broker.Scheme == "mqtts" || broker.Scheme == "wss" {
		cfg.TlsCfg = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
	}
	if w := c.cfg.Will; w != nil {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			QoS:     byte(w.QoS),
			Retain:  w.Retain,
		}
	}
	return cfg
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cm == nil {
		return nil, ErrNotStarted
	}
	return c.cm, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	cm, err := c.manager()
	if err != nil {
		return
	}
	if err := cm.Disconnect(ctx); err != nil {
		c.log.Debug("MQTT disconnect returned an error", "error", err)
	}
	c.connected.Store(false)
	c.log.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, p *Publication) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	pkt := &paho.Publish{
		Topic:   p.Topic,
		QoS:     byte(p.QoS),
		Retain:  p.Retain,
		Payload: p.Payload,
	}
	if p.ContentType != "" || p.ResponseTopic != "" || len(p.CorrelationData) > 0 {
		pkt.Properties = &paho.PublishProperties{
			ContentType:     p.ContentType,
			ResponseTopic:   p.ResponseTopic,
			CorrelationData: p.CorrelationData,
		}
	}

	_, err = cm.Publish(ctx, pkt)
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos QoS, h Handler) (Subscription, error) {
	cm, err := c.manager()
	if err != nil {
		return nil, err
	}

	// Registered before the SUBSCRIBE so that a reconnect picks it up even
	// when this attempt fails.
	sub := c.register(filter, qos, h)

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}); err != nil {
		return sub, fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}

	c.log.Debug("Subscribed", "filter", filter)
	return sub, nil
}

func (c *pahoClient) register(filter string, qos QoS, h Handler) *pahoSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs, ok := c.subs[filter]
	if !ok {
		fs = &filterSubs{qos: qos, handlers: make(map[uint64]Handler)}
		c.subs[filter] = fs
	}
	fs.qos = max(fs.qos, qos)

	c.nextID++
	fs.handlers[c.nextID] = h
	return &pahoSubscription{client: c, filter: filter, id: c.nextID}
}

// release drops the handler of s and reports whether it was the last one on
// its filter. Releasing twice is a no-op.
func (c *pahoClient) release(s *pahoSubscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fs, ok := c.subs[s.filter]
	if !ok {
		return false
	}
	if _, ok := fs.handlers[s.id]; !ok {
		return false
	}
	delete(fs.handlers, s.id)
	if len(fs.handlers) > 0 {
		return false
	}
	delete(c.subs, s.filter)
	return true
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// onConnectionUp restores every registered subscription in one SUBSCRIBE.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.log.Info("MQTT connection up")

	sub := c.resubscribePacket()
	if sub == nil {
		return
	}
	if _, err := cm.Subscribe(context.Background(), sub); err != nil {
		c.log.Error(err, "Failed to restore subscriptions", "count", len(sub.Subscriptions))
	}
}

func (c *pahoClient) resubscribePacket() *paho.Subscribe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return nil
	}

	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	slices.Sort(filters)

	sub := &paho.Subscribe{}
	for _, f := range filters {
		sub.Subscriptions = append(sub.Subscriptions, paho.SubscribeOptions{Topic: f, QoS: byte(c.subs[f].qos)})
	}
	return sub
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	c.log.Warn("MQTT connect failed, retrying", "error", err, "retryIn", c.cfg.ReconnectDelay)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	c.log.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.log.Warn("MQTT server closed the session", "reasonCode", d.ReasonCode, "reason", reason)
}

// dispatch hands an inbound PUBLISH to every handler whose filter matches.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	msg := toMessage(p.Packet)
	handlers := c.handlersFor(msg.Topic)
	if len(handlers) == 0 {
		c.log.Debug("No handler for topic", "topic", msg.Topic)
		return true, nil
	}

	for _, h := range handlers {
		go h(context.Background(), msg)
	}
	return true, nil
}

func (c *pahoClient) handlersFor(topic string) []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var hs []Handler
	for filter, fs := range c.subs {
		if !topicsMatch(topicFilter(filter), topic) {
			continue
		}
		for _, h := range fs.handlers {
			hs = append(hs, h)
		}
	}
	return hs
}

func toMessage(p *paho.Publish) *Message {
	msg := &Message{Topic: p.Topic, Payload: p.Payload}
	if p.Properties != nil {
		msg.ResponseTopic = p.Properties.ResponseTopic
		msg.CorrelationData = p.Properties.CorrelationData
	}
	return msg
}
