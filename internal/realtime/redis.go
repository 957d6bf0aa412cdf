package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannel = "safecom:broadcast"

// envelope is what travels over Redis. Origin lets an instance ignore its
// own events, which it already delivered locally.
type envelope struct {
	Origin string          `json:"origin"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RedisBridge connects hubs on several instances through Redis pub/sub.
// Redis pub/sub is fire-and-forget, which matches the hub's own guarantees.
type RedisBridge struct {
	client     *redis.Client
	hub        *Hub
	instanceID string
	logger     *zap.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{
		client:     client,
		hub:        hub,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

func (b *RedisBridge) encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	return json.Marshal(envelope{Origin: b.instanceID, Type: ev.Type, Topic: ev.Topic, Data: data})
}

// decode returns ok=false for events this instance published itself.
func (b *RedisBridge) decode(payload []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Origin == b.instanceID {
		return Event{}, false, nil
	}
	return Event{Type: env.Type, Topic: env.Topic, Data: env.Data}, true, nil
}

func (b *RedisBridge) Forward(ctx context.Context, ev Event) error {
	payload, err := b.encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, redisChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Run delivers events from other instances to local subscribers until ctx
// is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, redisChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}
	b.logger.Info("redis bridge subscribed",
		zap.String("channel", redisChannel),
		zap.String("instance_id", b.instanceID),
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok, err := b.decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("drop malformed broadcast", zap.Error(err))
				continue
			}
			if ok {
				b.hub.DeliverLocal(ev)
			}
		}
	}
}
