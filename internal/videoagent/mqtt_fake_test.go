package videoagent

import (
	"context"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/videoupload/pkg/mqtt"
)

// loopbackClient is an in-process mqtt.Client that keys handlers by filter
// and answers every request carrying a response topic with an empty result,
// correlated the way an MQTT 5 video store does.
type loopbackClient struct {
	mu           sync.Mutex
	nextID       int
	handlers     map[string]map[int]mqtt.Handler
	pubs         []mqtt.Publication
	released     int
	disconnected bool
}

var _ mqtt.Client = (*loopbackClient)(nil)

func newLoopbackClient() *loopbackClient {
	return &loopbackClient{handlers: map[string]map[int]mqtt.Handler{}}
}

func (c *loopbackClient) Start(context.Context) error           { return nil }
func (c *loopbackClient) AwaitConnection(context.Context) error { return nil }
func (c *loopbackClient) IsConnected() bool                     { return true }

func (c *loopbackClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *loopbackClient) Subscribe(_ context.Context, filter string, _ mqtt.QoS, h mqtt.Handler) (mqtt.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[filter] == nil {
		c.handlers[filter] = map[int]mqtt.Handler{}
	}
	c.nextID++
	c.handlers[filter][c.nextID] = h
	return &loopbackSub{client: c, filter: filter, id: c.nextID}, nil
}

func (c *loopbackClient) Publish(_ context.Context, p *mqtt.Publication) error {
	c.mu.Lock()
	c.pubs = append(c.pubs, *p)
	var hs []mqtt.Handler
	for _, h := range c.handlers[p.ResponseTopic] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	if p.ResponseTopic == "" {
		return nil
	}
	body, err := structpb.NewStruct(map[string]any{"result": map[string]any{}})
	if err != nil {
		return err
	}
	payload, err := protojson.Marshal(body)
	if err != nil {
		return err
	}
	for _, h := range hs {
		go h(context.Background(), &mqtt.Message{
			Topic:           p.ResponseTopic,
			Payload:         payload,
			CorrelationData: p.CorrelationData,
		})
	}
	return nil
}

func (c *loopbackClient) publications() []mqtt.Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mqtt.Publication(nil), c.pubs...)
}

func (c *loopbackClient) handlerCount(filter string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[filter])
}

func (c *loopbackClient) releasedHandlers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

type loopbackSub struct {
	client *loopbackClient
	filter string
	id     int
}

func (s *loopbackSub) Unsubscribe(context.Context) error {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.handlers[s.filter]
	if _, ok := hs[s.id]; !ok {
		return nil
	}
	delete(hs, s.id)
	c.released++
	if len(hs) == 0 {
		delete(c.handlers, s.filter)
	}
	return nil
}
