package videostore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/autopeer-io/videoupload/pkg/mqtt"
)

type published struct {
	topic   string
	payload []byte
	pub     mqtt.Publication
}

// fakeClient is an in-process mqtt.Client. Replies produced by respond are
// delivered to every handler subscribed on the reply topic.
type fakeClient struct {
	mu         sync.Mutex
	nextID     int
	handlers   map[string]map[int]mqtt.Handler
	released   []string
	published  []published
	publishErr error
	connected  bool

	// respond returns (replyTopic, payload, ok) for a published request.
	respond func(topic string, req map[string]any) (string, any, bool)

	// correlate makes replies carry the request's correlation data, the way
	// an MQTT 5 responder does.
	correlate bool
}

var _ mqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]map[int]mqtt.Handler{}, connected: true}
}

func (f *fakeClient) Start(context.Context) error           { return nil }
func (f *fakeClient) Disconnect(context.Context)            {}
func (f *fakeClient) AwaitConnection(context.Context) error { return nil }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ mqtt.QoS, h mqtt.Handler) (mqtt.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[topic] == nil {
		f.handlers[topic] = map[int]mqtt.Handler{}
	}
	f.nextID++
	f.handlers[topic][f.nextID] = h
	return &fakeSub{client: f, topic: topic, id: f.nextID}, nil
}

// HandlerCount returns how many handlers are registered on topic.
func (f *fakeClient) HandlerCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[topic])
}

// Released lists the topics whose last handler was dropped.
func (f *fakeClient) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeSub struct {
	client *fakeClient
	topic  string
	id     int
}

func (s *fakeSub) Unsubscribe(context.Context) error {
	f := s.client
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handlers[s.topic]
	if _, ok := hs[s.id]; !ok {
		return nil
	}
	delete(hs, s.id)
	if len(hs) == 0 {
		delete(f.handlers, s.topic)
		f.released = append(f.released, s.topic)
	}
	return nil
}

func (f *fakeClient) Publish(_ context.Context, p *mqtt.Publication) error {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return err
	}
	topic, payload := p.Topic, p.Payload
	f.published = append(f.published, published{topic: topic, payload: payload, pub: *p})
	respond, correlate := f.respond, f.correlate
	f.mu.Unlock()

	if respond == nil {
		return nil
	}

	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	replyTopic, body, ok := respond(topic, req)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := &mqtt.Message{Topic: replyTopic, Payload: raw}
	if correlate {
		msg.CorrelationData = p.CorrelationData
	}
	f.deliverMessage(msg)
	return nil
}

func (f *fakeClient) deliver(topic string, payload []byte) {
	f.deliverMessage(&mqtt.Message{Topic: topic, Payload: payload})
}

func (f *fakeClient) deliverMessage(msg *mqtt.Message) {
	f.mu.Lock()
	var hs []mqtt.Handler
	for _, h := range f.handlers[msg.Topic] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		go h(context.Background(), msg)
	}
}

func (f *fakeClient) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

// fakeStore is a scripted core.VideoStore.
type fakeStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeStore) DoCommand(context.Context, map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{}, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
