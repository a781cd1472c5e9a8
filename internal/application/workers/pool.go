package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/pipeline"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Executor runs one unit. job is a snapshot taken at claim time.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome
}

// Options configures the pool.
type Options struct {
	// Size is the global cap on concurrently executing units.
	Size int
	// PerJobLimit caps concurrent per-slide units of one job. Job-scoped
	// stages never overlap within a job.
	PerJobLimit int
	// StageLimits caps concurrent units of a stage across all jobs. Zero
	// means unlimited.
	StageLimits map[domain.Stage]int
	// Timeouts bounds each stage's execution. Zero means no timeout.
	Timeouts            map[domain.Stage]time.Duration
	Policy              pipeline.Policy
	TickInterval        time.Duration
	HealthCheckInterval time.Duration
}

// storeTimeout bounds record updates made by the dispatch loop.
const storeTimeout = 10 * time.Second

// Pool schedules work units onto a fixed set of workers.
//
// A single dispatch goroutine owns all scheduling state: it derives ready
// units with pipeline.Advance, claims them through the job store, hands
// them to idle workers and records their outcomes. Workers only execute.
type Pool struct {
	opts     Options
	store    ports.JobStore
	executor Executor
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor
	now      func() time.Time

	workers []*worker
	idle    chan *worker
	wake    chan struct{}
	results chan result
	stopCh  chan struct{}
	done    chan struct{}

	// Dispatch loop state. A unit stays in inFlight until its outcome is
	// recorded; outcomes whose record write failed wait in unrecorded.
	inFlight   map[domain.Unit]struct{}
	unrecorded []result
	perJob     map[string]int
	perStage   map[domain.Stage]int

	// Mirrors of len(inFlight) and len(unrecorded) for the health monitor.
	running atomic.Int32
	backlog atomic.Int32

	cancelMu   sync.Mutex
	jobCancels map[string]map[domain.Unit]context.CancelFunc

	group      errgroup.Group
	workCtx    context.Context
	cancelWork context.CancelFunc
	startOnce  sync.Once
	stopOnce   sync.Once
}

// worker represents a single execution slot
type worker struct {
	id      string
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

type result struct {
	worker   *worker
	outcome  domain.Outcome
	duration time.Duration
}

// NewPool creates a new worker pool
func NewPool(
	opts Options,
	store ports.JobStore,
	executor Executor,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.PerJobLimit < 1 {
		opts.PerJobLimit = 1
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy = pipeline.DefaultPolicy()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 2 * time.Second
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	pool := &Pool{
		opts:       opts,
		store:      store,
		executor:   executor,
		eventBus:   eventBus,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		workers:    make([]*worker, opts.Size),
		idle:       make(chan *worker, opts.Size),
		wake:       make(chan struct{}, 1),
		results:    make(chan result, opts.Size),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		inFlight:   make(map[domain.Unit]struct{}),
		perJob:     make(map[string]int),
		perStage:   make(map[domain.Stage]int),
		jobCancels: make(map[string]map[domain.Unit]context.CancelFunc),
		workCtx:    workCtx,
		cancelWork: cancelWork,
	}

	for i := 0; i < opts.Size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		pool.workers[i] = w
		pool.idle <- w
	}

	pool.health = NewHealthMonitor(pool, opts.HealthCheckInterval, logger)
	return pool
}

// Start starts the dispatch loop and health monitor
func (p *Pool) Start() error {
	started := false
	p.startOnce.Do(func() {
		started = true
		p.logger.Info("starting worker pool",
			zap.Int("size", p.opts.Size),
			zap.Int("per_job_limit", p.opts.PerJobLimit))

		go p.loop()
		p.health.Start()
		p.Wake()
	})
	if !started {
		return fmt.Errorf("worker pool already started")
	}
	return nil
}

// Wake asks the dispatch loop to look for ready work
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// CancelJob aborts every in-flight unit of a job. Their outcomes are
// discarded when recorded.
func (p *Pool) CancelJob(jobID string) int {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()

	cancels := p.jobCancels[jobID]
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Shutdown stops dispatching, waits for in-flight units to finish and
// then stops the pool. If ctx expires first in-flight units are
// cancelled; their claims are re-derived on the next start.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")
	p.health.Stop()
	p.stopOnce.Do(func() { close(p.stopCh) })

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached, cancelling in-flight units")
		p.cancelWork()
		err = fmt.Errorf("shutdown timeout")
	}

	p.cancelWork()
	_ = p.group.Wait()
	<-p.done

	for _, w := range p.workers {
		w.setStatus(WorkerStatusStopped)
	}
	p.logger.Info("worker pool shut down complete")
	return err
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Health returns the current health status
func (p *Pool) Health() *HealthStatus {
	return p.health.GetStatus()
}

// loop is the dispatch loop
func (p *Pool) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	stopping := false
	stopCh := p.stopCh
	for {
		if stopping && len(p.inFlight) == len(p.unrecorded) {
			p.recordPending()
			p.backlog.Store(int32(len(p.unrecorded)))
			if n := len(p.unrecorded); n > 0 {
				p.logger.Warn("stopping with unrecorded unit results, they will be recovered on restart",
					zap.Int("count", n))
			}
			return
		}

		select {
		case <-stopCh:
			stopping = true
			stopCh = nil
		case <-p.wake:
		case <-ticker.C:
			p.recordPending()
		case res := <-p.results:
			p.complete(res)
		}

		if !stopping {
			p.dispatch()
		}
		p.running.Store(int32(len(p.inFlight)))
		p.backlog.Store(int32(len(p.unrecorded)))
	}
}

// dispatch claims ready units, oldest job first, until capacity runs out
func (p *Pool) dispatch() {
	if len(p.idle) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	jobs, err := p.store.List(ctx)
	if err != nil {
		p.logger.Error("failed to list jobs", zap.Error(err))
		return
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	now := p.now()
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		for _, u := range pipeline.Advance(job) {
			if len(p.idle) == 0 {
				return
			}
			if !p.admit(job, u, now) {
				continue
			}
			p.claim(ctx, u, now)
		}
	}
}

// admit checks dispatch limits for u
func (p *Pool) admit(job *domain.Job, u domain.Unit, now time.Time) bool {
	if _, running := p.inFlight[u]; running {
		return false
	}
	if !pipeline.Due(job, u, now) {
		return false
	}
	if u.Stage.JobScoped() {
		if p.perJob[u.JobID] > 0 {
			return false
		}
	} else if p.perJob[u.JobID] >= p.opts.PerJobLimit {
		return false
	}
	if limit := p.opts.StageLimits[u.Stage]; limit > 0 && p.perStage[u.Stage] >= limit {
		return false
	}
	return true
}

// claim marks u running in the store and hands it to an idle worker
func (p *Pool) claim(ctx context.Context, u domain.Unit, now time.Time) {
	snapshot, err := p.store.Update(ctx, u.JobID, func(job *domain.Job) error {
		return pipeline.Claim(job, u, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			p.logger.Debug("unit no longer ready", zap.String("unit", u.String()))
			return
		}
		p.logger.Error("failed to claim unit",
			zap.String("job_id", u.JobID),
			zap.String("unit", u.String()),
			zap.Error(err))
		return
	}

	w := <-p.idle
	w.setStatus(WorkerStatusBusy)

	p.inFlight[u] = struct{}{}
	p.perJob[u.JobID]++
	p.perStage[u.Stage]++
	p.metrics.SetInFlight(string(u.Stage), p.perStage[u.Stage])

	var (
		unitCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout := p.opts.Timeouts[u.Stage]; timeout > 0 {
		unitCtx, cancel = context.WithTimeout(p.workCtx, timeout)
	} else {
		unitCtx, cancel = context.WithCancel(p.workCtx)
	}
	p.registerCancel(u, cancel)

	p.logger.Info("unit started",
		zap.String("worker_id", w.id),
		zap.String("job_id", u.JobID),
		zap.Int("slide", u.Slide),
		zap.String("stage", string(u.Stage)),
		zap.Int("version", u.Version))
	p.publish(domain.EventUnitStarted, u, nil)

	p.group.Go(func() error {
		defer cancel()
		start := time.Now()
		out := p.execute(unitCtx, snapshot, u)
		res := result{worker: w, outcome: out, duration: time.Since(start)}
		p.results <- res
		return nil
	})
}

// execute runs the executor, converting a panic into a transient failure
func (p *Pool) execute(ctx context.Context, job *domain.Job, u domain.Unit) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor panicked",
				zap.String("unit", u.String()),
				zap.Any("panic", r))
			out = domain.Outcome{Unit: u, Err: domain.Wrap(domain.ErrTransient, u.Stage, "", fmt.Sprintf("panic: %v", r), nil)}
		}
	}()
	out = p.executor.Execute(ctx, job, u)
	out.Unit = u
	return out
}

// complete frees the worker that produced res and records its outcome
func (p *Pool) complete(res result) {
	p.unregisterCancel(res.outcome.Unit)

	res.worker.mu.Lock()
	res.worker.status = WorkerStatusIdle
	res.worker.lastJob = time.Now()
	res.worker.mu.Unlock()
	p.idle <- res.worker

	if !p.record(res) {
		p.unrecorded = append(p.unrecorded, res)
	}
}

// recordPending retries outcomes whose record write failed
func (p *Pool) recordPending() {
	if len(p.unrecorded) == 0 {
		return
	}
	pending := p.unrecorded
	p.unrecorded = nil
	for _, res := range pending {
		if !p.record(res) {
			p.unrecorded = append(p.unrecorded, res)
		}
	}
}

// record applies res to the job record. It reports false when the write
// failed and should be retried; the unit keeps its dispatch slot until then.
func (p *Pool) record(res result) bool {
	u := res.outcome.Unit

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var (
		decision pipeline.Decision
		before   domain.JobStatus
	)
	job, err := p.store.Update(ctx, u.JobID, func(job *domain.Job) error {
		before = job.Status
		d, err := pipeline.RecordResult(job, res.outcome, p.opts.Policy, p.now())
		decision = d
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.Error("failed to record unit result, will retry",
			zap.String("job_id", u.JobID),
			zap.String("unit", u.String()),
			zap.Error(err))
		return false
	}
	p.release(u)
	if err != nil {
		p.logger.Warn("dropping result for unknown job",
			zap.String("job_id", u.JobID),
			zap.String("unit", u.String()))
		return true
	}

	p.report(job, u, res, decision)
	if job.Status != before {
		p.logger.Info("job status changed",
			zap.String("job_id", job.ID),
			zap.String("from", string(before)),
			zap.String("to", string(job.Status)))
		p.metrics.RecordJobStatus(string(job.Status))
		p.publish(domain.EventJobStatusChanged, domain.Unit{JobID: job.ID, Slide: domain.JobSlide}, map[string]interface{}{
			"from":     string(before),
			"to":       string(job.Status),
			"progress": pipeline.Progress(job),
		})
	}
	return true
}

// release drops the dispatch bookkeeping held by u
func (p *Pool) release(u domain.Unit) {
	delete(p.inFlight, u)
	p.perJob[u.JobID]--
	if p.perJob[u.JobID] <= 0 {
		delete(p.perJob, u.JobID)
	}
	p.perStage[u.Stage]--
	p.metrics.SetInFlight(string(u.Stage), p.perStage[u.Stage])
}

// report logs, meters and publishes a recorded outcome
func (p *Pool) report(job *domain.Job, u domain.Unit, res result, decision pipeline.Decision) {
	stage := string(u.Stage)
	fields := []zap.Field{
		zap.String("worker_id", res.worker.id),
		zap.String("job_id", u.JobID),
		zap.Int("slide", u.Slide),
		zap.String("stage", stage),
		zap.Int("version", u.Version),
		zap.String("decision", string(decision)),
		zap.Duration("duration", res.duration),
	}

	switch decision {
	case pipeline.DecisionApplied:
		st := job.UnitState(u.Slide, u.Stage)
		if st != nil && st.Strategy != "" {
			fields = append(fields, zap.String("strategy", st.Strategy))
			p.metrics.RecordStrategy(stage, st.Strategy)
		}
		p.logger.Info("unit completed", fields...)
		p.metrics.RecordUnitExecuted(stage, "success", res.duration)
		data := map[string]interface{}{"progress": pipeline.Progress(job)}
		if st != nil {
			data["artifact_key"] = st.ArtifactKey
			if st.Strategy != "" {
				data["strategy"] = st.Strategy
			}
		}
		p.publish(domain.EventUnitCompleted, u, data)
	case pipeline.DecisionRetry, pipeline.DecisionRequeued:
		kind := string(domain.KindOf(res.outcome.Err))
		p.logger.Warn("unit will be retried", append(fields, zap.Error(res.outcome.Err))...)
		p.metrics.RecordUnitExecuted(stage, "retry", res.duration)
		p.metrics.RecordUnitRetry(stage, kind)
		p.publish(domain.EventUnitRetrying, u, map[string]interface{}{
			"kind":  kind,
			"error": errorText(res.outcome.Err),
		})
	case pipeline.DecisionFailed:
		st := job.UnitState(u.Slide, u.Stage)
		msg := errorText(res.outcome.Err)
		kind := domain.KindOf(res.outcome.Err)
		if st != nil && st.LastError != nil {
			msg = st.LastError.Message
			kind = st.LastError.Kind
		}
		p.logger.Warn("unit failed", append(fields, zap.String("kind", string(kind)), zap.String("error", msg))...)
		p.metrics.RecordUnitExecuted(stage, "failed", res.duration)
		p.publish(domain.EventUnitFailed, u, map[string]interface{}{
			"kind":  string(kind),
			"error": msg,
		})
	default:
		p.logger.Debug("unit outcome not applied", fields...)
		p.metrics.RecordUnitExecuted(stage, string(decision), res.duration)
	}
}

func (p *Pool) registerCancel(u domain.Unit, cancel context.CancelFunc) {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	if p.jobCancels[u.JobID] == nil {
		p.jobCancels[u.JobID] = make(map[domain.Unit]context.CancelFunc)
	}
	p.jobCancels[u.JobID][u] = cancel
}

func (p *Pool) unregisterCancel(u domain.Unit) {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	delete(p.jobCancels[u.JobID], u)
	if len(p.jobCancels[u.JobID]) == 0 {
		delete(p.jobCancels, u.JobID)
	}
}

// publish publishes an event to the event bus
func (p *Pool) publish(eventType domain.EventType, u domain.Unit, data map[string]interface{}) {
	if p.eventBus == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     u.JobID,
		Slide:     u.Slide,
		Stage:     u.Stage,
		Timestamp: p.now(),
		Data:      data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.eventBus.Publish(ctx, domain.TopicJobs, event); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.String("job_id", u.JobID),
			zap.Error(err))
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
