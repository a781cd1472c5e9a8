package domain

import (
	"time"
)

// JobStatus is the aggregate status of a job.
type JobStatus string

const (
	JobQueued            JobStatus = "queued"
	JobRunning           JobStatus = "running"
	JobPartiallyComplete JobStatus = "partially-complete"
	JobDone              JobStatus = "done"
	JobFailed            JobStatus = "failed"
	JobCancelled         JobStatus = "cancelled"
)

// Terminal reports whether no further work is scheduled for the status.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// SourceKind is the format of the uploaded deck.
type SourceKind string

const (
	SourcePPTX SourceKind = "pptx"
	SourcePDF  SourceKind = "pdf"
)

// ScriptSource tells whether a narration script was generated or edited.
type ScriptSource string

const (
	ScriptGenerated ScriptSource = "generated"
	ScriptEdited    ScriptSource = "edited"
)

// StageState tracks one stage unit of a job or slide.
type StageState struct {
	Status UnitStatus `json:"status"`
	// OutputVersion is the input version the stored output was derived from.
	// Zero means no output exists.
	OutputVersion int `json:"output_version"`
	// ClaimedVersion is the input version being executed while running.
	ClaimedVersion int `json:"claimed_version,omitempty"`
	// FailedVersion is the input version that failed terminally.
	FailedVersion int `json:"failed_version,omitempty"`
	Attempts      int `json:"attempts,omitempty"`
	// AttemptVersion is the input version Attempts counts against.
	AttemptVersion int         `json:"attempt_version,omitempty"`
	NotBefore      time.Time   `json:"not_before,omitempty"`
	ArtifactKey    string      `json:"artifact_key,omitempty"`
	Strategy       string      `json:"strategy,omitempty"`
	LastError      *StageError `json:"last_error,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Current reports whether the stored output matches the required version.
func (s *StageState) Current(version int) bool {
	return version > 0 && s.OutputVersion == version && s.ArtifactKey != ""
}

// Running reports whether the unit has been claimed and not yet recorded.
func (s *StageState) Running() bool {
	return s.Status == UnitRunning
}

// FailedAt reports whether the unit failed terminally for the version.
func (s *StageState) FailedAt(version int) bool {
	return version > 0 && s.FailedVersion == version
}

// SlideRecord is the per-slide state of a job.
type SlideRecord struct {
	Index    int    `json:"index"`
	ImageKey string `json:"image_key"`
	// Script is the current narration text, the only user editable field.
	Script       string       `json:"script"`
	ScriptSource ScriptSource `json:"script_source,omitempty"`
	// ScriptVersion is the version every per-slide stage output must match.
	ScriptVersion int `json:"script_version"`

	ScriptStage     StageState `json:"script_stage"`
	SynthesizeStage StageState `json:"synthesize_stage"`
	AssembleStage   StageState `json:"assemble_stage"`
}

// State returns the stage state for a per-slide stage.
func (s *SlideRecord) State(stage Stage) *StageState {
	switch stage {
	case StageScript:
		return &s.ScriptStage
	case StageSynthesize:
		return &s.SynthesizeStage
	case StageAssemble:
		return &s.AssembleStage
	default:
		return nil
	}
}

// AudioKey returns the audio artifact pointer.
func (s *SlideRecord) AudioKey() string {
	return s.SynthesizeStage.ArtifactKey
}

// SegmentKey returns the video segment artifact pointer.
func (s *SlideRecord) SegmentKey() string {
	return s.AssembleStage.ArtifactKey
}

// Job is the durable record of one deck-to-video conversion.
type Job struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SourceName string     `json:"source_name"`
	SourceKey  string     `json:"source_key"`
	SourceKind SourceKind `json:"source_kind"`
	Status     JobStatus  `json:"status"`

	Slides        []SlideRecord `json:"slides"`
	ExtractStage  StageState    `json:"extract_stage"`
	FinalizeStage StageState    `json:"finalize_stage"`

	// FinalKey points to the latest final video.
	FinalKey  string      `json:"final_key,omitempty"`
	LastError *StageError `json:"last_error,omitempty"`

	// Rework counts completed units invalidated by edits.
	Rework int `json:"rework"`
	// CompletedOnce is set the first time the job reaches done.
	CompletedOnce bool       `json:"completed_once"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	// Revision increments on every persisted mutation.
	Revision int64 `json:"revision"`
}

// Slide returns the slide at index, or nil.
func (j *Job) Slide(index int) *SlideRecord {
	if index < 0 || index >= len(j.Slides) {
		return nil
	}
	return &j.Slides[index]
}

// JobState returns the stage state for a job-scoped stage.
func (j *Job) JobState(stage Stage) *StageState {
	switch stage {
	case StageExtract:
		return &j.ExtractStage
	case StageFinalize:
		return &j.FinalizeStage
	default:
		return nil
	}
}

// UnitState returns the stage state addressed by a unit.
func (j *Job) UnitState(slide int, stage Stage) *StageState {
	if stage.JobScoped() {
		return j.JobState(stage)
	}
	s := j.Slide(slide)
	if s == nil {
		return nil
	}
	return s.State(stage)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Slides = make([]SlideRecord, len(j.Slides))
	copy(c.Slides, j.Slides)
	for i := range c.Slides {
		cloneStageState(c.Slides[i].State(StageScript))
		cloneStageState(c.Slides[i].State(StageSynthesize))
		cloneStageState(c.Slides[i].State(StageAssemble))
	}
	cloneStageState(&c.ExtractStage)
	cloneStageState(&c.FinalizeStage)
	if j.LastError != nil {
		e := *j.LastError
		c.LastError = &e
	}
	if j.CancelledAt != nil {
		t := *j.CancelledAt
		c.CancelledAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneStageState(s *StageState) {
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
}

// JobSummary is the list view of a job.
type JobSummary struct {
	ID         string    `json:"id"`
	SourceName string    `json:"source_name"`
	Status     JobStatus `json:"status"`
	Slides     int       `json:"slides"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary returns the list view of the job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:         j.ID,
		SourceName: j.SourceName,
		Status:     j.Status,
		Slides:     len(j.Slides),
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}
