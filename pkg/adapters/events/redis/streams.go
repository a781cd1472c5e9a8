package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// DefaultMaxLen caps the length of each event stream.
const DefaultMaxLen = 10000

// StreamsEventBus implements EventBus using Redis Streams.
//
// One reader goroutine per topic consumes the stream through the bus's
// consumer group and fans each message out to every local handler, so all
// subscribers in a process observe every event.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64
	block         time.Duration

	mu       sync.Mutex
	topics   map[string]*topicReader
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
	rootCtx  context.Context
	cancelFn context.CancelFunc
}

type topicReader struct {
	handlers map[uint64]ports.EventHandler
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        DefaultMaxLen,
		block:         time.Second,
		topics:        make(map[string]*topicReader),
		rootCtx:       ctx,
		cancelFn:      cancel,
	}, nil
}

// Publish appends an event to the topic stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: e.maxLen,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("job_id", event.JobID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe registers handler for topic until ctx is cancelled
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("event bus closed")
	}
	reader, ok := e.topics[topic]
	if !ok {
		// "$" starts the group at new messages only.
		err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			e.mu.Unlock()
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		reader = &topicReader{handlers: make(map[uint64]ports.EventHandler)}
		e.topics[topic] = reader

		e.wg.Add(1)
		go e.readStream(topic, streamKey, reader)

		e.logger.Info("subscribed to event stream",
			zap.String("stream", streamKey),
			zap.String("consumer_group", e.consumerGroup),
			zap.String("consumer", e.consumerName))
	}
	e.nextID++
	id := e.nextID
	reader.handlers[id] = handler
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.rootCtx.Done():
		}
		e.mu.Lock()
		delete(reader.handlers, id)
		e.mu.Unlock()
	}()

	return nil
}

// readStream reads events from a stream until the bus closes
func (e *StreamsEventBus) readStream(topic, streamKey string, reader *topicReader) {
	defer e.wg.Done()
	ctx := e.rootCtx

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    e.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, reader)
			}
		}
	}
}

// processMessage fans a single stream message out to local handlers
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, reader *topicReader) {
	defer func() {
		if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil && ctx.Err() == nil {
			e.logger.Error("failed to acknowledge message",
				zap.String("stream", streamKey),
				zap.String("message_id", message.ID),
				zap.Error(err))
		}
	}()

	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	e.mu.Lock()
	handlers := make([]ports.EventHandler, 0, len(reader.handlers))
	for _, h := range reader.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			e.logger.Debug("handler error",
				zap.String("stream", streamKey),
				zap.String("message_id", message.ID),
				zap.Error(err))
		}
	}
}

// Close stops all stream readers. The Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancelFn()
	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("autopresenter:events:%s", topic)
}
