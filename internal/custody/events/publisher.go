// Package events fans custody engine events out to the configured
// destinations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// Destination delivers a serialized event to one downstream system
type Destination interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// Fanout implements interfaces.EventPublisher over a set of destinations.
// A publish succeeds when at least one destination accepts the event, so a
// degraded broker does not block the engine's write path.
type Fanout struct {
	topic        string
	destinations []Destination
	logger       *zap.Logger
}

// NewFanout creates an event publisher over the given destinations
func NewFanout(topic string, destinations []Destination, logger *zap.Logger) *Fanout {
	if topic == "" {
		topic = "custody.events"
	}
	return &Fanout{
		topic:        topic,
		destinations: destinations,
		logger:       logger,
	}
}

// Publish delivers one event to every destination
func (f *Fanout) Publish(ctx context.Context, event *interfaces.EngineEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	var lastErr error
	delivered := 0
	for i, dest := range f.destinations {
		if err := dest.PublishEvent(ctx, f.topic, event); err != nil {
			f.logger.Error("failed to publish event",
				zap.Int("destination_index", i),
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			lastErr = err
		} else {
			delivered++
		}
	}

	f.logger.Debug("published engine event",
		zap.String("event_type", event.Type),
		zap.String("user_id", event.UserID.String()),
		zap.String("entity_id", event.EntityID.String()),
		zap.Int("destinations_success", delivered),
		zap.Int("destinations_total", len(f.destinations)),
	)

	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("all destinations failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaDestination publishes events to a Kafka topic
type KafkaDestination struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaDestination creates a Kafka event destination
func NewKafkaDestination(brokers []string, topic string, logger *zap.Logger) *KafkaDestination {
	return &KafkaDestination{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		logger: logger,
	}
}

// PublishEvent writes one event message to the topic. The engine event ID is
// the message key so per-entity ordering follows the partitioner.
func (k *KafkaDestination) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := topic
	if e, ok := event.(*interfaces.EngineEvent); ok {
		key = e.EntityID.String()
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	})
}

// Close flushes and closes the underlying writer
func (k *KafkaDestination) Close() error {
	return k.writer.Close()
}

// RedisDestination publishes events to a Redis Stream
type RedisDestination struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisDestination creates a Redis Streams event destination
func NewRedisDestination(client *redis.Client, logger *zap.Logger) *RedisDestination {
	return &RedisDestination{
		client: client,
		logger: logger,
	}
}

// PublishEvent appends one entry to the stream named after the topic
func (r *RedisDestination) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"data":      string(payload),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "custody-engine",
		},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.logger.Debug("published event to redis stream",
		zap.String("stream", topic),
		zap.String("message_id", res.Val()),
	)
	return nil
}
