package videoagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/videoupload/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/videoupload/pkg/mqtt/topic"
	"github.com/autopeer-io/videoupload/pkg/options"
)

func TestPresencePayload(t *testing.T) {
	assert.JSONEq(t, `{"online":false}`, string(presencePayload(false, time.Time{})))
	assert.JSONEq(t, `{"online":true,"timestamp":1704136200}`,
		string(presencePayload(true, time.Date(2024, 1, 1, 19, 10, 0, 0, time.UTC))))
}

func TestAgentAnnouncesPresence(t *testing.T) {
	h := newHarness()
	client := newLoopbackClient()
	opts := append([]Option{
		WithMQTT(client, mqtttopic.NewBuilder("video/v1")),
		WithPresence("video/v1/online/front-door"),
	}, h.options()...)

	a, err := NewAgent(saveOnlySettings(), opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(t.Context()))

	require.Eventually(t, func() bool { return len(client.publications()) == 1 }, time.Second, 5*time.Millisecond)
	online := client.publications()[0]
	assert.Equal(t, "video/v1/online/front-door", online.Topic)
	assert.True(t, online.Retain)
	assert.Equal(t, mqtt.AtLeastOnce, online.QoS)
	assert.JSONEq(t, `{"online":true,"timestamp":1704136200}`, string(online.Payload))

	require.NoError(t, a.Close())

	pubs := client.publications()
	require.Len(t, pubs, 2)
	assert.JSONEq(t, `{"online":false,"timestamp":1704136200}`, string(pubs[1].Payload))
	assert.True(t, client.disconnected)
}

func TestAgentWithoutPresencePublishesNothing(t *testing.T) {
	h := newHarness()
	client := newLoopbackClient()
	opts := append([]Option{WithMQTT(client, mqtttopic.NewBuilder("video/v1"))}, h.options()...)

	a, err := NewAgent(saveOnlySettings(), opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(t.Context()))
	require.NoError(t, a.Close())

	assert.Empty(t, client.publications())
}

func TestConfigPresenceTopic(t *testing.T) {
	cfg := &Config{Settings: saveOnlySettings(), MqttOptions: options.NewMqttOptions()}
	assert.Equal(t, "video/v1/online/front-door", cfg.presenceTopic(mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)))

	a, err := cfg.NewAgent(newHarness().options()...)
	require.NoError(t, err)
	assert.Equal(t, "video/v1/online/front-door", a.presence)

	cfg.MqttOptions.Presence = false
	a, err = cfg.NewAgent(newHarness().options()...)
	require.NoError(t, err)
	assert.Empty(t, a.presence)
}
