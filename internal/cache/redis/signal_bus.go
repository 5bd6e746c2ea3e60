package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// defaultStreamMaxLen bounds each event stream when no limit is configured.
const defaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus. Live events go over Pub/Sub and a
// bounded copy of each is kept in a stream for WebSocket replay. Channel and
// stream names are namespaced with the client's key prefix.
type SignalBus struct {
	c      *Client
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus keeping about maxLen entries per stream.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{c: c, rdb: c.Underlying(), maxLen: maxLen}
}

func (sb *SignalBus) name(kind, n string) string {
	return sb.c.key(kind, n)
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.name("bus", channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. The
// subscription and the returned channel close when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, sb.name("bus", channel))
	} else {
		pubsub = sb.rdb.Subscribe(ctx, sb.name("bus", channel))
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
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
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends payload to stream, trimming it to about maxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: sb.name("stream", stream),
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries of stream with ids after lastID,
// oldest first. "0" and "" read from the start of the retained window and
// "$" returns nothing.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	key, start := sb.name("stream", stream), rangeStart(lastID)
	var cmd *redis.XMessageSliceCmd
	if count > 0 {
		cmd = sb.rdb.XRangeN(ctx, key, start, "+", int64(count))
	} else {
		cmd = sb.rdb.XRange(ctx, key, start, "+")
	}
	entries, err := cmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	messages := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if data, ok := payloadOf(e.Values); ok {
			messages = append(messages, domain.StreamMessage{ID: e.ID, Payload: data})
		}
	}
	return messages, nil
}

// rangeStart turns a last-seen id into an exclusive XRANGE start.
func rangeStart(lastID string) string {
	switch lastID {
	case "", "0", "0-0":
		return "-"
	default:
		return "(" + lastID
	}
}

func payloadOf(values map[string]any) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
