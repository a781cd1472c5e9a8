package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor samples the pool on a ticker, publishing worker gauges
// and logging when the scheduler cannot keep up or cannot persist results.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// HealthStatus is a point-in-time view of the scheduler
type HealthStatus struct {
	TotalWorkers   int `json:"total_workers"`
	IdleWorkers    int `json:"idle_workers"`
	BusyWorkers    int `json:"busy_workers"`
	StoppedWorkers int `json:"stopped_workers"`

	// RunningUnits counts claimed units whose outcome is not yet recorded.
	RunningUnits int `json:"running_units"`
	// UnrecordedResults counts finished units waiting for a record write.
	UnrecordedResults int `json:"unrecorded_results"`

	Healthy   bool      `json:"healthy"`
	Problem   string    `json:"problem,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewHealthMonitor creates a monitor for pool
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger.With(zap.String("component", "worker_health")),
	}
}

// Start begins sampling. Calling it twice has no effect.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
}

// Stop ends sampling and waits for the sampler to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HealthMonitor) sample() {
	status := h.GetStatus()
	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	h.logger.Debug("worker pool sampled",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("running_units", status.RunningUnits),
		zap.Int("unrecorded_results", status.UnrecordedResults))

	if !status.Healthy {
		h.logger.Warn("worker pool degraded", zap.String("problem", status.Problem))
	}
	if status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers {
		h.logger.Info("all workers busy, ready units are waiting",
			zap.Int("workers", status.TotalWorkers))
	}
}

// GetStatus counts workers by state and reads the scheduler backlog
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		RunningUnits:      int(h.pool.running.Load()),
		UnrecordedResults: int(h.pool.backlog.Load()),
		CheckedAt:         time.Now(),
	}
	for _, ws := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch ws {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	switch {
	case status.StoppedWorkers > 0:
		status.Problem = fmt.Sprintf("%d of %d workers stopped", status.StoppedWorkers, status.TotalWorkers)
	case status.UnrecordedResults > 0:
		status.Problem = fmt.Sprintf("%d unit results waiting for the job store", status.UnrecordedResults)
	}
	status.Healthy = status.Problem == ""
	return status
}
