package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/pipeline"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Scheduler is the part of the worker pool the manager drives
type Scheduler interface {
	Wake()
	CancelJob(jobID string) int
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Manager coordinates job submission, inspection and edits
type Manager struct {
	store     ports.JobStore
	artifacts ports.ArtifactStore
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	validator *Validator
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time

	checksMu sync.RWMutex
	checks   map[string]HealthCheck
}

// NewManager creates a new orchestrator manager
func NewManager(
	store ports.JobStore,
	artifacts ports.ArtifactStore,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	validator *Validator,
	scheduler Scheduler,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		store:     store,
		artifacts: artifacts,
		eventBus:  eventBus,
		metrics:   metrics,
		validator: validator,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
		checks:    make(map[string]HealthCheck),
	}
	m.RegisterCheck("job_store", store.Ping)
	m.RegisterCheck("artifact_store", artifacts.Ping)
	return m
}

// StageStatus is the reported state of one stage unit
type StageStatus struct {
	Status   domain.UnitStatus  `json:"status"`
	Version  int                `json:"version"`
	Current  bool               `json:"current"`
	Attempts int                `json:"attempts,omitempty"`
	Strategy string             `json:"strategy,omitempty"`
	Error    *domain.StageError `json:"error,omitempty"`
}

// SlideStatus is the reported state of one slide
type SlideStatus struct {
	Index         int                          `json:"index"`
	ScriptSource  domain.ScriptSource          `json:"script_source,omitempty"`
	ScriptVersion int                          `json:"script_version"`
	Stages        map[domain.Stage]StageStatus `json:"stages"`
}

// StatusReport is the status view of a job
type StatusReport struct {
	JobID          string                       `json:"job_id"`
	SourceName     string                       `json:"source_name"`
	Status         domain.JobStatus             `json:"status"`
	Progress       float64                      `json:"progress"`
	CompletedUnits int                          `json:"completed_units"`
	TotalUnits     int                          `json:"total_units"`
	Stages         map[domain.Stage]StageStatus `json:"stages"`
	Slides         []SlideStatus                `json:"slides"`
	ResultReady    bool                         `json:"result_ready"`
	LastError      *domain.StageError           `json:"last_error,omitempty"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
	CompletedAt    *time.Time                   `json:"completed_at,omitempty"`
}

// ScriptView is one slide's narration
type ScriptView struct {
	Index    int                 `json:"index"`
	Script   string              `json:"script"`
	Source   domain.ScriptSource `json:"source,omitempty"`
	Version  int                 `json:"version"`
	Current  bool                `json:"current"`
	ImageKey string              `json:"image_key,omitempty"`
}

// ComponentHealth is the health of one dependency
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport aggregates dependency health
type HealthReport struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Submit validates a deck, stores it and queues a new job
func (m *Manager) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	kind, err := m.validator.Validate(filename, data)
	if err != nil {
		m.logger.Warn("deck validation failed",
			zap.String("source_name", filename),
			zap.Error(err))
		return "", err
	}

	jobID := uuid.New().String()
	now := m.now().UTC()
	job := &domain.Job{
		ID:         jobID,
		CreatedAt:  now,
		UpdatedAt:  now,
		SourceName: filename,
		SourceKey:  domain.SourceKey(jobID, filename),
		SourceKind: kind,
		Status:     domain.JobQueued,
	}

	if err := m.artifacts.Put(ctx, job.SourceKey, bytes.NewReader(data)); err != nil {
		m.logger.Error("failed to store deck",
			zap.String("job_id", jobID),
			zap.Error(err))
		return "", fmt.Errorf("failed to store deck: %w", err)
	}
	if err := m.store.Create(ctx, job); err != nil {
		m.logger.Error("failed to create job record",
			zap.String("job_id", jobID),
			zap.Error(err))
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	m.metrics.RecordJobSubmitted(string(kind))
	m.metrics.RecordJobStatus(string(domain.JobQueued))
	m.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("source_name", filename),
		zap.String("source_kind", string(kind)),
		zap.Int("bytes", len(data)))
	m.publish(ctx, domain.EventJobSubmitted, jobID, domain.JobSlide, map[string]interface{}{
		"source_name": filename,
		"source_kind": string(kind),
	})

	m.scheduler.Wake()
	return jobID, nil
}

// GetStatus reports the aggregate and per-slide status of a job
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*StatusReport, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return buildReport(job), nil
}

func buildReport(job *domain.Job) *StatusReport {
	report := &StatusReport{
		JobID:          job.ID,
		SourceName:     job.SourceName,
		Status:         job.Status,
		Progress:       pipeline.Progress(job),
		CompletedUnits: pipeline.CompletedUnits(job),
		TotalUnits:     pipeline.TotalUnits(job),
		Stages:         make(map[domain.Stage]StageStatus),
		Slides:         make([]SlideStatus, 0, len(job.Slides)),
		ResultReady:    job.Status == domain.JobDone && job.FinalKey != "",
		LastError:      job.LastError,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		CompletedAt:    job.CompletedAt,
	}

	for _, stage := range []domain.Stage{domain.StageExtract, domain.StageFinalize} {
		report.Stages[stage] = stageStatus(job, domain.JobSlide, stage)
	}
	for i, s := range job.Slides {
		slide := SlideStatus{
			Index:         i,
			ScriptSource:  s.ScriptSource,
			ScriptVersion: s.ScriptVersion,
			Stages:        make(map[domain.Stage]StageStatus, len(domain.SlideStages)),
		}
		for _, stage := range domain.SlideStages {
			slide.Stages[stage] = stageStatus(job, i, stage)
		}
		report.Slides = append(report.Slides, slide)
	}
	return report
}

func stageStatus(job *domain.Job, slide int, stage domain.Stage) StageStatus {
	st := job.UnitState(slide, stage)
	return StageStatus{
		Status:   st.Status,
		Version:  st.OutputVersion,
		Current:  pipeline.IsCurrent(job, slide, stage),
		Attempts: st.Attempts,
		Strategy: st.Strategy,
		Error:    st.LastError,
	}
}

// EditScript replaces one slide's narration. Only that slide's synthesize
// and assemble stages and finalize are re-run. It returns the new script
// version.
func (m *Manager) EditScript(ctx context.Context, jobID string, slide int, text string) (int, error) {
	versions, err := m.EditScripts(ctx, jobID, map[int]string{slide: text})
	if err != nil {
		return 0, err
	}
	return versions[slide], nil
}

// EditScripts applies several script edits atomically. Either every edit
// is applied or none is.
func (m *Manager) EditScripts(ctx context.Context, jobID string, scripts map[int]string) (map[int]int, error) {
	if len(scripts) == 0 {
		return nil, fmt.Errorf("%w: no scripts given", domain.ErrInvalidArgument)
	}
	slides := make([]int, 0, len(scripts))
	for slide := range scripts {
		slides = append(slides, slide)
	}
	sort.Ints(slides)

	var (
		before   domain.JobStatus
		versions map[int]int
	)
	job, err := m.store.Update(ctx, jobID, func(job *domain.Job) error {
		before = job.Status
		versions = make(map[int]int, len(slides))
		now := m.now().UTC()
		for _, slide := range slides {
			v, err := pipeline.EditScript(job, slide, scripts[slide], now)
			if err != nil {
				return fmt.Errorf("slide %d: %w", slide, err)
			}
			versions[slide] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, slide := range slides {
		s := job.Slide(slide)
		// The record holds the narration; the artifact mirrors it.
		key := domain.ScriptKey(jobID, slide, versions[slide])
		if err := m.artifacts.Put(ctx, key, strings.NewReader(s.Script)); err != nil {
			m.logger.Warn("failed to store edited script",
				zap.String("job_id", jobID),
				zap.Int("slide", slide),
				zap.Error(err))
		}
		m.logger.Info("script edited",
			zap.String("job_id", jobID),
			zap.Int("slide", slide),
			zap.Int("version", versions[slide]))
		m.publish(ctx, domain.EventScriptEdited, jobID, slide, map[string]interface{}{
			"version": versions[slide],
		})
	}
	m.statusChanged(ctx, job, before)
	m.scheduler.Wake()
	return versions, nil
}

// RegenerateScript discards one slide's narration and asks the narration
// writer for a new one. It returns the new script version.
func (m *Manager) RegenerateScript(ctx context.Context, jobID string, slide int) (int, error) {
	var (
		before  domain.JobStatus
		version int
	)
	job, err := m.store.Update(ctx, jobID, func(job *domain.Job) error {
		before = job.Status
		if _, err := pipeline.Invalidate(job, slide, domain.StageScript, m.now().UTC()); err != nil {
			return err
		}
		version = job.Slides[slide].ScriptVersion
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("script regeneration requested",
		zap.String("job_id", jobID),
		zap.Int("slide", slide),
		zap.Int("version", version))
	m.statusChanged(ctx, job, before)
	m.scheduler.Wake()
	return version, nil
}

// Scripts lists every slide's narration
func (m *Manager) Scripts(ctx context.Context, jobID string) ([]ScriptView, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	views := make([]ScriptView, 0, len(job.Slides))
	for i, s := range job.Slides {
		views = append(views, ScriptView{
			Index:    i,
			Script:   s.Script,
			Source:   s.ScriptSource,
			Version:  s.ScriptVersion,
			Current:  pipeline.IsCurrent(job, i, domain.StageScript),
			ImageKey: s.ImageKey,
		})
	}
	return views, nil
}

// SlideImage opens the rendered image of a slide
func (m *Manager) SlideImage(ctx context.Context, jobID string, slide int) (io.ReadCloser, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s := job.Slide(slide)
	if s == nil {
		return nil, fmt.Errorf("%w: slide %d of job %s", domain.ErrNotFound, slide, jobID)
	}
	return m.artifacts.Open(ctx, s.ImageKey)
}

// GetResult opens the final video. It fails with ErrNotReady until the
// job is done at its latest version.
func (m *Manager) GetResult(ctx context.Context, jobID string) (io.ReadCloser, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobDone || job.FinalKey == "" {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrNotReady, jobID, job.Status)
	}
	return m.artifacts.Open(ctx, job.FinalKey)
}

// ListJobs returns job summaries, newest first
func (m *Manager) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	summaries := make([]domain.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, job.Summary())
	}
	return summaries, nil
}

// Cancel marks a job cancelled and aborts its in-flight units
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	var before domain.JobStatus
	job, err := m.store.Update(ctx, jobID, func(job *domain.Job) error {
		before = job.Status
		return pipeline.Cancel(job, m.now().UTC())
	})
	if err != nil {
		return err
	}

	aborted := m.scheduler.CancelJob(jobID)
	m.logger.Info("job cancelled",
		zap.String("job_id", jobID),
		zap.Int("aborted_units", aborted))
	m.publish(ctx, domain.EventJobCancelled, jobID, domain.JobSlide, map[string]interface{}{
		"aborted_units": aborted,
	})
	m.statusChanged(ctx, job, before)
	return nil
}

// Recover settles units a previous process left running. It must run
// before the scheduler starts.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	lookup := pipeline.Lookup{
		Exists: func(key string) (bool, error) {
			return m.artifacts.Exists(ctx, key)
		},
		Strategy: func(key string) (string, error) {
			return m.readStrategy(ctx, key)
		},
	}

	total := 0
	for _, listed := range jobs {
		if listed.Status.Terminal() {
			continue
		}
		var n int
		_, err := m.store.Update(ctx, listed.ID, func(job *domain.Job) error {
			var err error
			n, err = pipeline.Recover(job, lookup, m.now().UTC())
			return err
		})
		if err != nil {
			return total, fmt.Errorf("failed to recover job %s: %w", listed.ID, err)
		}
		if n > 0 {
			m.logger.Info("recovered interrupted units",
				zap.String("job_id", listed.ID),
				zap.Int("units", n))
		}
		total += n
	}
	return total, nil
}

// readStrategy reads the strategy recorded next to a video artifact
func (m *Manager) readStrategy(ctx context.Context, key string) (string, error) {
	rc, err := m.artifacts.Open(ctx, domain.StrategyKey(key))
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RegisterCheck adds a dependency to the health report
func (m *Manager) RegisterCheck(name string, check HealthCheck) {
	m.checksMu.Lock()
	defer m.checksMu.Unlock()
	m.checks[name] = check
}

// Health probes every registered dependency
func (m *Manager) Health(ctx context.Context) *HealthReport {
	m.checksMu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.checksMu.RUnlock()

	report := &HealthReport{
		Healthy:    true,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  m.now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Healthy = false
				report.Components[name] = ComponentHealth{Healthy: false, Error: err.Error()}
				return
			}
			report.Components[name] = ComponentHealth{Healthy: true}
		}(name, check)
	}
	wg.Wait()
	return report
}

// statusChanged records a job status transition caused by the caller
func (m *Manager) statusChanged(ctx context.Context, job *domain.Job, before domain.JobStatus) {
	if job.Status == before {
		return
	}
	m.metrics.RecordJobStatus(string(job.Status))
	m.publish(ctx, domain.EventJobStatusChanged, job.ID, domain.JobSlide, map[string]interface{}{
		"from":     string(before),
		"to":       string(job.Status),
		"progress": pipeline.Progress(job),
	})
}

// publish publishes a job event. Failures are logged, not returned.
func (m *Manager) publish(ctx context.Context, eventType domain.EventType, jobID string, slide int, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Slide:     slide,
		Timestamp: m.now().UTC(),
		Data:      data,
	}
	if err := m.eventBus.Publish(ctx, domain.TopicJobs, event); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}
