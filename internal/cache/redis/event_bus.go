package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// eventStreamMaxLen caps the durable event stream, enforced via XADD MAXLEN ~.
const eventStreamMaxLen int64 = 10000

const eventStream = "anomaly_events"

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a capped Redis Stream for short-term durable history.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

func eventChannel(symbol string) string { return "anomaly:" + symbol }

// PublishEvent broadcasts an event on the symbol's channel and appends it to
// the capped history stream.
func (eb *EventBus) PublishEvent(ctx context.Context, event domain.AnomalyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event.EventID, err)
	}

	if err := eb.rdb.Publish(ctx, eventChannel(event.Symbol), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event.EventID, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := eb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append event %s: %w", event.EventID, err)
	}
	return nil
}

// SubscribeEvents subscribes to events for one symbol, or all symbols when
// symbol is "*". The returned channel closes when ctx is cancelled; slow
// consumers lose messages once the buffer fills.
func (eb *EventBus) SubscribeEvents(ctx context.Context, symbol string) (<-chan domain.AnomalyEvent, error) {
	var pubsub *redis.PubSub
	if symbol == "*" {
		pubsub = eb.rdb.PSubscribe(ctx, eventChannel("*"))
	} else {
		pubsub = eb.rdb.Subscribe(ctx, eventChannel(symbol))
	}

	// Receive the subscription confirmation before handing the channel out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", symbol, err)
	}

	out := make(chan domain.AnomalyEvent, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.AnomalyEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
