package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// subscriberBuffer bounds the events queued for one slow subscriber.
const subscriberBuffer = 256

type subscription struct {
	id      uint64
	handler ports.EventHandler
	events  chan domain.Event
	done    chan struct{}
}

// InMemoryEventBus implements EventBus using in-process handlers.
// Each subscriber receives events in publish order on its own goroutine.
type InMemoryEventBus struct {
	subscribers map[string][]*subscription
	nextID      uint64
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]*subscription),
		logger:      logger,
	}
}

// Publish delivers an event to all subscribers of a topic. Events for a
// subscriber whose buffer is full are dropped.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		default:
			e.logger.Warn("dropping event for slow subscriber",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe registers handler until ctx is cancelled or the bus is closed.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return context.Canceled
	}

	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		handler: handler,
		events:  make(chan domain.Event, subscriberBuffer),
		done:    make(chan struct{}),
	}
	e.subscribers[topic] = append(e.subscribers[topic], sub)

	e.wg.Add(1)
	go e.deliver(ctx, topic, sub)

	return nil
}

func (e *InMemoryEventBus) deliver(ctx context.Context, topic string, sub *subscription) {
	defer e.wg.Done()
	defer e.unsubscribe(topic, sub.id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case event := <-sub.events:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("event handler error",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Close stops all subscribers and waits for them to exit.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, subs := range e.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// SubscriberCount returns the number of active subscribers on topic.
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
