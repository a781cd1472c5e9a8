package ports

import (
	"context"
	"io"
	"time"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// JobStore persists job records.
type JobStore interface {
	// Create stores a new job. It fails if the ID already exists.
	Create(ctx context.Context, job *domain.Job) error
	// Get returns a copy of the job or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Update applies fn to the current record and persists the result
	// atomically. Concurrent updates of the same job are serialized. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error)
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*domain.Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// ArtifactStore stores immutable job artifacts by key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	// Open returns the artifact or domain.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

// EventHandler receives events from the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes job lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe delivers events until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records pipeline metrics.
type MetricsCollector interface {
	RecordJobSubmitted(kind string)
	RecordJobStatus(status string)
	RecordUnitExecuted(stage, outcome string, duration time.Duration)
	RecordUnitRetry(stage, kind string)
	RecordStrategy(stage, strategy string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetInFlight(stage string, count int)
}

// SlidePosition places a slide within its deck for narration.
type SlidePosition struct {
	Index int
	Total int
}

// First reports whether the slide opens the deck.
func (p SlidePosition) First() bool { return p.Index == 0 }

// Last reports whether the slide closes the deck.
func (p SlidePosition) Last() bool { return p.Index == p.Total-1 }

// NarrationWriter produces a spoken script for a slide image.
type NarrationWriter interface {
	WriteNarration(ctx context.Context, image []byte, pos SlidePosition) (string, error)
	Name() string
	Ping(ctx context.Context) error
}
