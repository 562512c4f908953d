package videoagent

import (
	"context"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/videoupload/pkg/mqtt"
)

const presenceTimeout = 5 * time.Second

// presencePayload is the retained status message: {"online": bool, "timestamp": unix}.
// A zero now leaves out the timestamp, as in the last-will message.
func presencePayload(online bool, now time.Time) []byte {
	fields := map[string]any{"online": online}
	if !now.IsZero() {
		fields["timestamp"] = now.Unix()
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil
	}
	b, _ := protojson.Marshal(msg)
	return b
}

// announce publishes the agent status as a retained message. The broker
// publishes the offline will itself when the session drops unexpectedly.
func (a *Agent) announce(ctx context.Context, online bool) {
	if a.mqtt == nil || a.presence == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	err := a.mqtt.Publish(ctx, &mqtt.Publication{
		Topic:       a.presence,
		Payload:     presencePayload(online, a.clock.Now()),
		QoS:         mqtt.AtLeastOnce,
		Retain:      true,
		ContentType: "application/json",
	})
	if err != nil {
		a.log.Warn("Failed to publish presence", "topic", a.presence, "online", online, "error", err)
	}
}
