package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/roadside-api/pkg/circuitbreaker"
	"github.com/jwalitptl/roadside-api/pkg/messaging"
)

const (
	// ModePubSub publishes to a channel; only connected subscribers see it.
	ModePubSub = "pubsub"
	// ModeStream appends to a stream so consumers can catch up after downtime.
	ModeStream = "stream"
)

type RedisBroker struct {
	client       *redis.Client
	cb           *circuitbreaker.CircuitBreaker
	logger       *zerolog.Logger
	mode         string
	streamMaxLen int64
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	Mode         string
	// StreamMaxLen approximately caps the stream length in stream mode.
	StreamMaxLen int64
}

func NewRedisBroker(config Config, logger *zerolog.Logger) (messaging.Broker, error) {
	switch config.Mode {
	case "":
		config.Mode = ModePubSub
	case ModePubSub, ModeStream:
	default:
		return nil, fmt.Errorf("unsupported redis mode %q", config.Mode)
	}

	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
	})

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client:       client,
		cb:           cb,
		logger:       logger,
		mode:         config.Mode,
		streamMaxLen: config.StreamMaxLen,
	}, nil
}

// Publish sends message as JSON. In stream mode channel names the stream and
// the JSON goes into the "message" field of the entry.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = b.cb.Execute(func() error {
		if b.mode == ModeStream {
			return b.client.XAdd(ctx, &redis.XAddArgs{
				Stream: channel,
				MaxLen: b.streamMaxLen,
				Approx: b.streamMaxLen > 0,
				Values: map[string]interface{}{"message": payload},
			}).Err()
		}
		return b.client.Publish(ctx, channel, payload).Err()
	})
	if circuitbreaker.IsOpen(err) {
		b.logger.Warn().Str("channel", channel).Str("breaker", b.cb.State()).Msg("redis publish rejected by circuit breaker")
	}
	return err
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
