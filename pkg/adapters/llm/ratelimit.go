package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// RateLimitedWriter bounds the request rate to a narration provider.
// Calls over budget fail fast with domain.ErrResourceExhausted so the
// scheduler re-queues the unit instead of holding a worker.
type RateLimitedWriter struct {
	next    ports.NarrationWriter
	limiter *rate.Limiter
}

// NewRateLimitedWriter wraps next with a token bucket of requestsPerMinute
// and burst.
func NewRateLimitedWriter(next ports.NarrationWriter, requestsPerMinute float64, burst int) *RateLimitedWriter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(requestsPerMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedWriter{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// WriteNarration forwards to the wrapped writer when a token is available.
func (w *RateLimitedWriter) WriteNarration(ctx context.Context, image []byte, pos ports.SlidePosition) (string, error) {
	r := w.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return "", fmt.Errorf("%w: %s request budget spent, next slot in %s",
			domain.ErrResourceExhausted, w.next.Name(), delay.Round(time.Millisecond))
	}
	return w.next.WriteNarration(ctx, image, pos)
}

// Name returns the wrapped provider's name.
func (w *RateLimitedWriter) Name() string {
	return w.next.Name()
}

// Ping checks the wrapped provider without spending request budget.
func (w *RateLimitedWriter) Ping(ctx context.Context) error {
	return w.next.Ping(ctx)
}

// Close releases the wrapped provider's client, if it holds one.
func (w *RateLimitedWriter) Close() error {
	if c, ok := w.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
