package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
)

// Redis shares one feed between service instances. Publish goes to the redis
// channel only; Run relays the channel back into the local hub, so each
// instance sees every event exactly once, its own included.
type Redis struct {
	l       *logger.Logger
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedis(l *logger.Logger, client *redis.Client, channel string, hub *Hub) *Redis {
	return &Redis{l: l, client: client, channel: channel, hub: hub}
}

func (r *Redis) Publish(ctx context.Context, event *booking.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event %s: %w", event.ID, err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change event %s to redis: %w", event.ID, err)
	}

	return nil
}

// Run blocks until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			r.l.LogErrorf("Could not close redis subscription: %v", err.Error())
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis channel %s: %w", r.channel, err)
	}

	r.l.LogInfo("Relaying change feed from redis channel %v", r.channel)

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var event booking.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.l.LogErrorf("Could not decode change event from redis: %v", err.Error())

				continue
			}

			_ = r.hub.Publish(ctx, &event)
		}
	}
}
