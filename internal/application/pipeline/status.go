package pipeline

import (
	"time"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Aggregate derives the job status from its units.
//
// A per-slide terminal failure does not fail the job: it reports
// partially-complete while the other slides continue. The job fails when
// extract or finalize fails, or when every slide has a terminally failed
// stage.
func Aggregate(job *domain.Job) domain.JobStatus {
	if job.CancelledAt != nil {
		return domain.JobCancelled
	}
	if job.ExtractStage.FailedAt(1) {
		return domain.JobFailed
	}
	if len(job.Slides) == 0 {
		ex := job.ExtractStage
		if ex.Running() || ex.Attempts > 0 || ex.LastError != nil {
			return domain.JobRunning
		}
		return domain.JobQueued
	}
	if job.FinalizeStage.FailedAt(FinalVersion(job)) {
		return domain.JobFailed
	}
	if allSlidesFailed(job) {
		return domain.JobFailed
	}
	if IsCurrent(job, domain.JobSlide, domain.StageFinalize) {
		return domain.JobDone
	}
	if anyRunning(job) || len(Advance(job)) > 0 {
		if job.CompletedOnce || anySlideFailed(job) {
			return domain.JobPartiallyComplete
		}
		return domain.JobRunning
	}
	return domain.JobPartiallyComplete
}

func allSlidesFailed(job *domain.Job) bool {
	for i := range job.Slides {
		if !slideFailed(job, i) {
			return false
		}
	}
	return len(job.Slides) > 0
}

func anySlideFailed(job *domain.Job) bool {
	for i := range job.Slides {
		if slideFailed(job, i) {
			return true
		}
	}
	return false
}

func slideFailed(job *domain.Job, slide int) bool {
	s := job.Slide(slide)
	for _, stage := range domain.SlideStages {
		if s.State(stage).FailedAt(s.ScriptVersion) {
			return true
		}
	}
	return false
}

func anyRunning(job *domain.Job) bool {
	if job.ExtractStage.Running() || job.FinalizeStage.Running() {
		return true
	}
	for i := range job.Slides {
		for _, stage := range domain.SlideStages {
			if job.Slides[i].State(stage).Running() {
				return true
			}
		}
	}
	return false
}

// Refresh recomputes the aggregate status and completion markers.
func Refresh(job *domain.Job, now time.Time) {
	status := Aggregate(job)
	if status == domain.JobDone {
		if !job.CompletedOnce || job.Status != domain.JobDone {
			job.CompletedAt = &now
		}
		job.CompletedOnce = true
	}
	if status == domain.JobFailed && job.Status != domain.JobFailed {
		job.CompletedAt = &now
	}
	job.Status = status
	job.UpdatedAt = now
}

// TotalUnits is the number of stage units a job needs including rework
// caused by edits. It is zero until the slide count is known.
func TotalUnits(job *domain.Job) int {
	if len(job.Slides) == 0 {
		return 0
	}
	return len(domain.SlideStages)*len(job.Slides) + 2 + job.Rework
}

// CompletedUnits counts current unit outputs plus completed units that
// were invalidated by edits.
func CompletedUnits(job *domain.Job) int {
	if len(job.Slides) == 0 {
		return 0
	}
	n := job.Rework
	if IsCurrent(job, domain.JobSlide, domain.StageExtract) {
		n++
	}
	for i := range job.Slides {
		for _, stage := range domain.SlideStages {
			if IsCurrent(job, i, stage) {
				n++
			}
		}
	}
	if IsCurrent(job, domain.JobSlide, domain.StageFinalize) {
		n++
	}
	return n
}

// Progress returns completed units over total units. It only decreases
// when an edit grows the total.
func Progress(job *domain.Job) float64 {
	total := TotalUnits(job)
	if total == 0 {
		return 0
	}
	return float64(CompletedUnits(job)) / float64(total)
}
