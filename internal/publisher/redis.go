package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// defaultStreamMaxLen caps each fill stream, approximately.
const defaultStreamMaxLen = 100_000

// StreamKey returns the Redis stream fills for symbol are appended to.
func StreamKey(symbol string) string {
	return fmt.Sprintf("fills:%s", symbol)
}

// RedisPublisher appends fills to per-symbol Redis streams.
type RedisPublisher struct {
	client *redis.Client
	maxLen int64
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: defaultStreamMaxLen}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Publish pipelines one XADD per fill:
// XADD fills:AAPL MAXLEN ~ 100000 * price 101 size 20 ...
func (p *RedisPublisher) Publish(ctx context.Context, fills []domain.Fill) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range fills {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: StreamKey(f.Symbol),
				MaxLen: p.maxLen,
				Approx: true,
				Values: map[string]any{
					"price":       f.Price,
					"size":        f.Size,
					"resting_id":  f.RestingID,
					"incoming_id": f.IncomingID,
					"timestamp":   f.Timestamp,
					"sequence_id": f.SequenceID,
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append fills to redis: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
