package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Policy controls retry behaviour for failed units.
type Policy struct {
	// MaxAttempts is the transient failure budget per unit version.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Decision describes what RecordResult did with an outcome.
type Decision string

const (
	DecisionApplied    Decision = "applied"
	DecisionDuplicate  Decision = "duplicate"
	DecisionSuperseded Decision = "superseded"
	DecisionDiscarded  Decision = "discarded"
	DecisionRetry      Decision = "retry"
	DecisionRequeued   Decision = "requeued"
	DecisionFailed     Decision = "failed"
)

// FinalVersion is the input version of the finalize unit.
func FinalVersion(job *domain.Job) int {
	sum := 0
	for i := range job.Slides {
		sum += job.Slides[i].ScriptVersion
	}
	return sum
}

// RequiredVersion returns the input version a unit must be derived from
// to be current. It returns 0 when the unit does not exist yet.
func RequiredVersion(job *domain.Job, slide int, stage domain.Stage) int {
	switch stage {
	case domain.StageExtract:
		return 1
	case domain.StageFinalize:
		if len(job.Slides) == 0 {
			return 0
		}
		return FinalVersion(job)
	default:
		s := job.Slide(slide)
		if s == nil {
			return 0
		}
		return s.ScriptVersion
	}
}

// IsCurrent reports whether the unit output is valid: its own version
// matches and every dependency is current.
func IsCurrent(job *domain.Job, slide int, stage domain.Stage) bool {
	switch stage {
	case domain.StageExtract:
		return job.ExtractStage.Current(1) && len(job.Slides) > 0
	case domain.StageFinalize:
		if !depsCurrent(job, slide, stage) {
			return false
		}
		return job.FinalizeStage.Current(FinalVersion(job))
	default:
		if !depsCurrent(job, slide, stage) {
			return false
		}
		s := job.Slide(slide)
		return s.State(stage).Current(s.ScriptVersion)
	}
}

func depsCurrent(job *domain.Job, slide int, stage domain.Stage) bool {
	switch stage {
	case domain.StageExtract:
		return true
	case domain.StageScript:
		return IsCurrent(job, domain.JobSlide, domain.StageExtract) && job.Slide(slide) != nil
	case domain.StageSynthesize:
		return IsCurrent(job, slide, domain.StageScript)
	case domain.StageAssemble:
		return IsCurrent(job, slide, domain.StageSynthesize)
	case domain.StageFinalize:
		if !IsCurrent(job, domain.JobSlide, domain.StageExtract) {
			return false
		}
		for i := range job.Slides {
			if !IsCurrent(job, i, domain.StageAssemble) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ready returns the required version and whether the unit can be dispatched.
func ready(job *domain.Job, slide int, stage domain.Stage) (int, bool) {
	if job.CancelledAt != nil {
		return 0, false
	}
	st := job.UnitState(slide, stage)
	if st == nil {
		return 0, false
	}
	v := RequiredVersion(job, slide, stage)
	if v == 0 || !depsCurrent(job, slide, stage) {
		return 0, false
	}
	if st.Current(v) || st.Running() || st.FailedAt(v) {
		return 0, false
	}
	return v, true
}

// Advance returns every unit whose dependencies are satisfied and whose
// output is missing or stale. It does not modify the job and returns the
// same set when called twice without an intervening mutation. Units are
// ordered by stage, then slide index.
func Advance(job *domain.Job) []domain.Unit {
	var units []domain.Unit
	if v, ok := ready(job, domain.JobSlide, domain.StageExtract); ok {
		units = append(units, domain.Unit{JobID: job.ID, Slide: domain.JobSlide, Stage: domain.StageExtract, Version: v})
	}
	for _, stage := range domain.SlideStages {
		for i := range job.Slides {
			if v, ok := ready(job, i, stage); ok {
				units = append(units, domain.Unit{JobID: job.ID, Slide: i, Stage: stage, Version: v})
			}
		}
	}
	if v, ok := ready(job, domain.JobSlide, domain.StageFinalize); ok {
		units = append(units, domain.Unit{JobID: job.ID, Slide: domain.JobSlide, Stage: domain.StageFinalize, Version: v})
	}
	sort.SliceStable(units, func(a, b int) bool {
		if units[a].Stage.Order() != units[b].Stage.Order() {
			return units[a].Stage.Order() < units[b].Stage.Order()
		}
		return units[a].Slide < units[b].Slide
	})
	return units
}

// Due reports whether a ready unit's retry backoff has elapsed.
func Due(job *domain.Job, u domain.Unit, now time.Time) bool {
	st := job.UnitState(u.Slide, u.Stage)
	if st == nil {
		return false
	}
	return st.NotBefore.IsZero() || !now.Before(st.NotBefore)
}

// Claim marks a ready unit as running. It fails with ErrStateConflict when
// the unit is no longer ready at the requested version.
func Claim(job *domain.Job, u domain.Unit, now time.Time) error {
	v, ok := ready(job, u.Slide, u.Stage)
	if !ok || v != u.Version {
		return fmt.Errorf("%w: unit %s is not ready", domain.ErrStateConflict, u)
	}
	st := job.UnitState(u.Slide, u.Stage)
	st.Status = domain.UnitRunning
	st.ClaimedVersion = u.Version
	st.NotBefore = time.Time{}
	st.StartedAt = &now
	st.UpdatedAt = now
	Refresh(job, now)
	return nil
}

// RecordResult applies an executor outcome to the job.
func RecordResult(job *domain.Job, out domain.Outcome, policy Policy, now time.Time) (Decision, error) {
	u := out.Unit
	st := job.UnitState(u.Slide, u.Stage)
	if st == nil {
		return "", fmt.Errorf("%w: unit %s", domain.ErrNotFound, u)
	}
	required := RequiredVersion(job, u.Slide, u.Stage)
	claimed := st.Running() && st.ClaimedVersion == u.Version
	release := func() {
		if claimed {
			st.Status = settledStatus(st, required)
			st.ClaimedVersion = 0
			st.StartedAt = nil
			st.UpdatedAt = now
		}
	}

	if job.CancelledAt != nil {
		release()
		Refresh(job, now)
		return DecisionDiscarded, nil
	}

	if st.Current(u.Version) {
		release()
		Refresh(job, now)
		return DecisionDuplicate, nil
	}
	if u.Version != required {
		release()
		Refresh(job, now)
		return DecisionSuperseded, nil
	}

	defer Refresh(job, now)
	st.ClaimedVersion = 0
	st.StartedAt = nil
	st.UpdatedAt = now

	if out.Succeeded() {
		if err := applySuccess(job, st, out); err != nil {
			return recordFailure(job, st, domain.Outcome{Unit: u, Err: err}, policy, now), nil
		}
		return DecisionApplied, nil
	}
	return recordFailure(job, st, out, policy, now), nil
}

func applySuccess(job *domain.Job, st *domain.StageState, out domain.Outcome) error {
	u := out.Unit
	switch u.Stage {
	case domain.StageExtract:
		if len(job.Slides) == 0 {
			if len(out.SlideKeys) == 0 {
				return domain.Wrap(domain.ErrInput, domain.StageExtract, "", "deck contains no slides", nil)
			}
			job.Slides = make([]domain.SlideRecord, len(out.SlideKeys))
			for i, key := range out.SlideKeys {
				job.Slides[i] = domain.SlideRecord{
					Index:         i,
					ImageKey:      key,
					ScriptSource:  domain.ScriptGenerated,
					ScriptVersion: 1,
				}
			}
		}
		if out.ArtifactKey == "" {
			out.ArtifactKey = job.Slides[0].ImageKey
		}
	case domain.StageScript:
		text := CleanScript(out.Script)
		if text == "" {
			return domain.Wrap(domain.ErrTransient, domain.StageScript, "", "empty narration", nil)
		}
		s := job.Slide(u.Slide)
		s.Script = text
		s.ScriptSource = domain.ScriptGenerated
	case domain.StageFinalize:
		job.FinalKey = out.ArtifactKey
	}

	st.Status = domain.UnitDone
	st.OutputVersion = u.Version
	st.ArtifactKey = out.ArtifactKey
	st.Strategy = out.Strategy
	st.FailedVersion = 0
	st.LastError = nil
	st.Attempts = 0
	st.AttemptVersion = 0
	st.NotBefore = time.Time{}
	return nil
}

func recordFailure(job *domain.Job, st *domain.StageState, out domain.Outcome, policy Policy, now time.Time) Decision {
	u := out.Unit
	serr := domain.NewStageError(u, out.Err, now)
	st.LastError = serr
	if st.AttemptVersion != u.Version {
		st.Attempts = 0
		st.AttemptVersion = u.Version
	}

	switch serr.Kind {
	case domain.KindResourceExhausted:
		st.Status = domain.UnitPending
		st.NotBefore = now.Add(policy.Backoff(st.Attempts + 1))
		return DecisionRequeued
	case domain.KindTransient:
		st.Attempts++
		if st.Attempts < policy.MaxAttempts {
			st.Status = domain.UnitPending
			st.NotBefore = now.Add(policy.Backoff(st.Attempts))
			return DecisionRetry
		}
		// Out of retries: the failure is reported as permanent.
		serr.Kind = domain.KindPermanent
	}

	st.Status = domain.UnitFailed
	st.FailedVersion = u.Version
	st.NotBefore = time.Time{}
	job.LastError = serr
	return DecisionFailed
}

// settledStatus is the status of a unit that is no longer running.
func settledStatus(st *domain.StageState, required int) domain.UnitStatus {
	switch {
	case st.Current(required):
		return domain.UnitDone
	case st.FailedAt(required):
		return domain.UnitFailed
	default:
		return domain.UnitPending
	}
}

// Invalidate bumps a slide's script version and stales every stage from
// fromStage downstream, plus finalize. Artifacts are kept. Supported
// fromStage values are script (regenerate narration) and synthesize
// (narration text replaced by the caller). It returns the number of
// current units that became stale.
func Invalidate(job *domain.Job, slide int, fromStage domain.Stage, now time.Time) (int, error) {
	if err := checkEditable(job); err != nil {
		return 0, err
	}
	s := job.Slide(slide)
	if s == nil {
		return 0, fmt.Errorf("%w: slide %d", domain.ErrNotFound, slide)
	}
	if fromStage != domain.StageScript && fromStage != domain.StageSynthesize {
		return 0, fmt.Errorf("%w: cannot invalidate from %s", domain.ErrInvalidArgument, fromStage)
	}

	stale := 0
	for _, stage := range domain.SlideStages {
		if stage.Order() < fromStage.Order() {
			continue
		}
		if IsCurrent(job, slide, stage) {
			stale++
		}
	}
	if IsCurrent(job, domain.JobSlide, domain.StageFinalize) {
		stale++
	}

	scriptWasCurrent := IsCurrent(job, slide, domain.StageScript)
	s.ScriptVersion++
	if fromStage == domain.StageSynthesize && scriptWasCurrent {
		s.ScriptStage.OutputVersion = s.ScriptVersion
	}
	if fromStage == domain.StageScript {
		s.ScriptSource = domain.ScriptGenerated
	}
	job.Rework += stale
	Refresh(job, now)
	return stale, nil
}

// EditScript replaces a slide's narration and invalidates its synthesize
// and assemble outputs. It returns the new script version.
func EditScript(job *domain.Job, slide int, text string, now time.Time) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: script text is empty", domain.ErrInvalidArgument)
	}
	if err := checkEditable(job); err != nil {
		return 0, err
	}
	s := job.Slide(slide)
	if s == nil {
		return 0, fmt.Errorf("%w: slide %d", domain.ErrNotFound, slide)
	}
	generated := s.ScriptStage.OutputVersion > 0 || s.ScriptStage.FailedAt(s.ScriptVersion)
	if !generated {
		return 0, fmt.Errorf("%w: script for slide %d has not been generated yet", domain.ErrStateConflict, slide)
	}

	if _, err := Invalidate(job, slide, domain.StageSynthesize, now); err != nil {
		return 0, err
	}

	v := s.ScriptVersion
	s.Script = text
	s.ScriptSource = domain.ScriptEdited
	st := &s.ScriptStage
	st.Status = domain.UnitDone
	st.OutputVersion = v
	st.ArtifactKey = domain.ScriptKey(job.ID, slide, v)
	st.ClaimedVersion = 0
	st.StartedAt = nil
	st.FailedVersion = 0
	st.LastError = nil
	st.Attempts = 0
	st.NotBefore = time.Time{}
	st.UpdatedAt = now
	Refresh(job, now)
	return v, nil
}

// Cancel marks the job cancelled. In-flight results are discarded when
// they are recorded.
func Cancel(job *domain.Job, now time.Time) error {
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrStateConflict, job.ID, job.Status)
	}
	job.CancelledAt = &now
	Refresh(job, now)
	return nil
}

func checkEditable(job *domain.Job) error {
	switch {
	case job.CancelledAt != nil:
		return fmt.Errorf("%w: job %s is cancelled", domain.ErrStateConflict, job.ID)
	case job.Status == domain.JobFailed:
		return fmt.Errorf("%w: job %s has failed", domain.ErrStateConflict, job.ID)
	case !IsCurrent(job, domain.JobSlide, domain.StageExtract):
		return fmt.Errorf("%w: slides of job %s are not extracted yet", domain.ErrStateConflict, job.ID)
	}
	return nil
}

// CleanScript normalizes generated narration: markdown emphasis is
// removed and whitespace collapsed.
func CleanScript(text string) string {
	text = strings.ReplaceAll(text, "*", "")
	return strings.Join(strings.Fields(text), " ")
}
