package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newJob() *domain.Job {
	return &domain.Job{
		ID:         "job-1",
		CreatedAt:  t0,
		SourceName: "deck.pptx",
		Status:     domain.JobQueued,
	}
}

// success builds the outcome an executor would return for u.
func success(u domain.Unit, slides int) domain.Outcome {
	out := domain.Outcome{Unit: u, ArtifactKey: domain.OutputKey(u)}
	switch u.Stage {
	case domain.StageExtract:
		for i := 0; i < slides; i++ {
			out.SlideKeys = append(out.SlideKeys, domain.SlideImageKey(u.JobID, i))
		}
		out.ArtifactKey = out.SlideKeys[0]
	case domain.StageScript:
		out.Script = fmt.Sprintf("Narration for slide %d.", u.Slide+1)
	case domain.StageAssemble:
		out.Strategy = "h264-aac"
	}
	return out
}

// run dispatches and succeeds every ready unit until the job is quiet,
// consulting fail for outcomes that should not succeed.
func run(t *testing.T, job *domain.Job, slides int, fail func(domain.Unit) error) {
	t.Helper()
	now := t0
	for round := 0; round < 100; round++ {
		units := Advance(job)
		if len(units) == 0 {
			return
		}
		for _, u := range units {
			require.NoError(t, Claim(job, u, now))
		}
		for _, u := range units {
			out := success(u, slides)
			if fail != nil {
				if err := fail(u); err != nil {
					out = domain.Outcome{Unit: u, Err: err}
				}
			}
			_, err := RecordResult(job, out, Policy{MaxAttempts: 3}, now)
			require.NoError(t, err)
		}
		now = now.Add(time.Second)
	}
	t.Fatal("job did not settle")
}

func TestHappyPathThreeSlides(t *testing.T) {
	job := newJob()
	assert.Equal(t, domain.JobQueued, Aggregate(job))
	assert.Zero(t, Progress(job))

	run(t, job, 3, nil)

	assert.Equal(t, domain.JobDone, job.Status)
	assert.True(t, job.CompletedOnce)
	require.Len(t, job.Slides, 3)
	assert.Equal(t, domain.FinalKey(job.ID, 3), job.FinalKey)
	assert.InDelta(t, 1.0, Progress(job), 1e-9)
	for i, s := range job.Slides {
		assert.Equal(t, fmt.Sprintf("Narration for slide %d.", i+1), s.Script)
		assert.Equal(t, domain.SegmentKey(job.ID, i, 1), s.SegmentKey())
		assert.Equal(t, "h264-aac", s.AssembleStage.Strategy)
	}
	assert.Empty(t, Advance(job))
}

func TestAdvanceIsIdempotent(t *testing.T) {
	job := newJob()
	first := Advance(job)
	second := Advance(job)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
	assert.Equal(t, domain.StageExtract, first[0].Stage)

	require.NoError(t, Claim(job, first[0], t0))
	_, err := RecordResult(job, success(first[0], 2), DefaultPolicy(), t0)
	require.NoError(t, err)

	a := Advance(job)
	b := Advance(job)
	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	for i, u := range a {
		assert.Equal(t, domain.StageScript, u.Stage)
		assert.Equal(t, i, u.Slide)
		assert.Equal(t, 1, u.Version)
	}
}

func TestAdvanceOrdersByStageThenSlide(t *testing.T) {
	job := newJob()
	run(t, job, 3, nil)
	_, err := EditScript(job, 2, "New text", t0)
	require.NoError(t, err)
	_, err = Invalidate(job, 0, domain.StageScript, t0)
	require.NoError(t, err)

	units := Advance(job)
	require.Len(t, units, 2)
	assert.Equal(t, domain.StageScript, units[0].Stage)
	assert.Equal(t, 0, units[0].Slide)
	assert.Equal(t, domain.StageSynthesize, units[1].Stage)
	assert.Equal(t, 2, units[1].Slide)
}

func TestClaimRejectsUnitThatIsNotReady(t *testing.T) {
	job := newJob()
	u := Advance(job)[0]
	require.NoError(t, Claim(job, u, t0))
	assert.Empty(t, Advance(job), "running units are not offered again")

	err := Claim(job, u, t0)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestRecordResultDuplicateIsNoOp(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)

	before := job.Clone()
	progress := Progress(job)
	u := domain.Unit{JobID: job.ID, Slide: 1, Stage: domain.StageSynthesize, Version: 1}
	decision, err := RecordResult(job, success(u, 2), DefaultPolicy(), t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, DecisionDuplicate, decision)
	assert.Equal(t, before.Slides, job.Slides)
	assert.Equal(t, before.FinalizeStage, job.FinalizeStage)
	assert.Equal(t, progress, Progress(job))

	decision, err = RecordResult(job, domain.Outcome{Unit: u, Err: domain.ErrTransient}, DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionDuplicate, decision)
	assert.Nil(t, job.Slides[1].SynthesizeStage.LastError)
}

func TestEditAfterDone(t *testing.T) {
	job := newJob()
	run(t, job, 3, nil)
	require.Equal(t, domain.JobDone, job.Status)
	progressBefore := Progress(job)
	totalBefore := TotalUnits(job)

	v, err := EditScript(job, 1, "  A better script.  ", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	s := job.Slides[1]
	assert.Equal(t, 2, s.ScriptVersion)
	assert.Equal(t, "A better script.", s.Script)
	assert.Equal(t, domain.ScriptEdited, s.ScriptSource)
	assert.True(t, IsCurrent(job, 1, domain.StageScript))
	assert.False(t, IsCurrent(job, 1, domain.StageSynthesize))
	assert.False(t, IsCurrent(job, 1, domain.StageAssemble))
	assert.False(t, IsCurrent(job, domain.JobSlide, domain.StageFinalize))
	assert.Equal(t, domain.AudioKey(job.ID, 1, 1), s.AudioKey(), "stale artifacts are kept")

	for _, other := range []int{0, 2} {
		assert.True(t, IsCurrent(job, other, domain.StageAssemble))
	}

	assert.Equal(t, domain.JobPartiallyComplete, job.Status)
	assert.Equal(t, totalBefore+3, TotalUnits(job))
	assert.LessOrEqual(t, Progress(job), progressBefore)

	units := Advance(job)
	require.Len(t, units, 1)
	assert.Equal(t, domain.Unit{JobID: job.ID, Slide: 1, Stage: domain.StageSynthesize, Version: 2}, units[0])

	executed := map[domain.Stage][]int{}
	run(t, job, 3, func(u domain.Unit) error {
		executed[u.Stage] = append(executed[u.Stage], u.Slide)
		return nil
	})
	assert.Equal(t, []int{1}, executed[domain.StageSynthesize])
	assert.Equal(t, []int{1}, executed[domain.StageAssemble])
	assert.Len(t, executed[domain.StageFinalize], 1)
	assert.Empty(t, executed[domain.StageScript])

	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, domain.FinalKey(job.ID, 4), job.FinalKey)
	assert.InDelta(t, 1.0, Progress(job), 1e-9)
}

func TestEditIncrementsVersionStrictly(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)
	last := job.Slides[0].ScriptVersion
	for i := 0; i < 3; i++ {
		v, err := EditScript(job, 0, fmt.Sprintf("edit %d", i), t0)
		require.NoError(t, err)
		assert.Greater(t, v, last)
		last = v
	}
	assert.Equal(t, 1, job.Slides[1].ScriptVersion)
}

func TestEditRejections(t *testing.T) {
	job := newJob()
	_, err := EditScript(job, 0, "text", t0)
	assert.ErrorIs(t, err, domain.ErrStateConflict, "slides not extracted")

	u := Advance(job)[0]
	require.NoError(t, Claim(job, u, t0))
	_, err = RecordResult(job, success(u, 2), DefaultPolicy(), t0)
	require.NoError(t, err)

	_, err = EditScript(job, 0, "text", t0)
	assert.ErrorIs(t, err, domain.ErrStateConflict, "script not generated")

	_, err = EditScript(job, 5, "text", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = EditScript(job, 0, "   ", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, Cancel(job, t0))
	_, err = EditScript(job, 0, "text", t0)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestScriptRetriesExhaustedLeavesPartiallyComplete(t *testing.T) {
	job := newJob()
	attempts := 0
	run(t, job, 3, func(u domain.Unit) error {
		if u.Stage == domain.StageScript && u.Slide == 1 {
			attempts++
			return domain.Wrap(domain.ErrTransient, u.Stage, "generate", "model unavailable", errors.New("503"))
		}
		return nil
	})

	assert.Equal(t, 3, attempts)
	assert.Equal(t, domain.JobPartiallyComplete, job.Status)
	st := job.Slides[1].ScriptStage
	assert.Equal(t, domain.UnitFailed, st.Status)
	require.NotNil(t, st.LastError)
	assert.Equal(t, domain.KindPermanent, st.LastError.Kind)
	assert.Contains(t, st.LastError.Message, "model unavailable")
	require.NotNil(t, job.LastError)
	assert.Equal(t, 1, job.LastError.Slide)
	assert.Equal(t, domain.KindPermanent, job.LastError.Kind)

	for _, i := range []int{0, 2} {
		assert.True(t, IsCurrent(job, i, domain.StageAssemble))
	}
	assert.Empty(t, job.FinalKey)

	// A manual script recovers the slide.
	_, err := EditScript(job, 1, "Handwritten narration.", t0)
	require.NoError(t, err)
	run(t, job, 3, nil)
	assert.Equal(t, domain.JobDone, job.Status)
}

func TestAllSlidesFailedFailsJob(t *testing.T) {
	job := newJob()
	run(t, job, 2, func(u domain.Unit) error {
		if u.Stage == domain.StageSynthesize {
			return domain.Wrap(domain.ErrPermanent, u.Stage, "", "voice model missing", nil)
		}
		return nil
	})
	assert.Equal(t, domain.JobFailed, job.Status)
	_, err := EditScript(job, 0, "text", t0)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestExtractInputErrorFailsJob(t *testing.T) {
	job := newJob()
	run(t, job, 2, func(u domain.Unit) error {
		return domain.Wrap(domain.ErrInput, u.Stage, "convert", "corrupt deck", nil)
	})
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 1, job.ExtractStage.FailedVersion)
	assert.Zero(t, job.ExtractStage.Attempts)
}

func TestResourceExhaustedRequeuesWithoutConsumingBudget(t *testing.T) {
	job := newJob()
	u := Advance(job)[0]
	policy := Policy{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Minute}

	for i := 0; i < 5; i++ {
		require.NoError(t, Claim(job, u, t0))
		decision, err := RecordResult(job, domain.Outcome{Unit: u, Err: domain.ErrResourceExhausted}, policy, t0)
		require.NoError(t, err)
		assert.Equal(t, DecisionRequeued, decision)
	}
	assert.Zero(t, job.ExtractStage.Attempts)
	assert.Equal(t, domain.UnitPending, job.ExtractStage.Status)
	assert.False(t, Due(job, u, t0))
	assert.True(t, Due(job, u, t0.Add(time.Second)))
	assert.Equal(t, domain.JobRunning, job.Status)
}

func TestTransientRetryBacksOff(t *testing.T) {
	job := newJob()
	u := Advance(job)[0]
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	require.NoError(t, Claim(job, u, t0))
	decision, err := RecordResult(job, domain.Outcome{Unit: u, Err: errors.New("timeout")}, policy, t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionRetry, decision)
	assert.Equal(t, t0.Add(time.Second), job.ExtractStage.NotBefore)

	require.NoError(t, Claim(job, u, t0))
	decision, err = RecordResult(job, domain.Outcome{Unit: u, Err: errors.New("timeout")}, policy, t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionRetry, decision)
	assert.Equal(t, t0.Add(2*time.Second), job.ExtractStage.NotBefore)

	require.NoError(t, Claim(job, u, t0))
	decision, err = RecordResult(job, domain.Outcome{Unit: u, Err: errors.New("timeout")}, policy, t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionFailed, decision)
	assert.Equal(t, domain.JobFailed, job.Status)
}

func TestBackoffIsCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestInFlightUnitIsSupersededByEdit(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)
	_, err := EditScript(job, 0, "v2 text", t0)
	require.NoError(t, err)
	u := Advance(job)[0]
	require.Equal(t, domain.StageSynthesize, u.Stage)
	require.Equal(t, 2, u.Version)
	require.NoError(t, Claim(job, u, t0))

	// A second edit arrives while synthesize v2 is in flight.
	_, err = EditScript(job, 0, "v3 text", t0)
	require.NoError(t, err)
	assert.Empty(t, Advance(job), "wait for the in-flight unit")

	decision, err := RecordResult(job, success(u, 2), DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionSuperseded, decision)
	assert.False(t, IsCurrent(job, 0, domain.StageSynthesize))

	next := Advance(job)
	require.Len(t, next, 1)
	assert.Equal(t, 3, next[0].Version)
}

func TestCancelDiscardsInFlightResults(t *testing.T) {
	job := newJob()
	u := Advance(job)[0]
	require.NoError(t, Claim(job, u, t0))
	require.NoError(t, Cancel(job, t0))
	assert.Equal(t, domain.JobCancelled, job.Status)

	decision, err := RecordResult(job, success(u, 2), DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionDiscarded, decision)
	assert.Empty(t, job.Slides)
	assert.Equal(t, domain.JobCancelled, job.Status)
	assert.Empty(t, Advance(job))

	assert.ErrorIs(t, Cancel(job, t0), domain.ErrStateConflict)
}

func TestInvalidateFromScriptRegenerates(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)
	_, err := EditScript(job, 0, "manual", t0)
	require.NoError(t, err)
	run(t, job, 2, nil)

	stale, err := Invalidate(job, 0, domain.StageScript, t0)
	require.NoError(t, err)
	assert.Equal(t, 4, stale)
	assert.Equal(t, domain.ScriptGenerated, job.Slides[0].ScriptSource)

	units := Advance(job)
	require.Len(t, units, 1)
	assert.Equal(t, domain.StageScript, units[0].Stage)

	_, err = Invalidate(job, 0, domain.StageAssemble, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestProgressIsMonotone(t *testing.T) {
	job := newJob()
	last := Progress(job)
	lastTotal := TotalUnits(job)
	check := func() {
		p, total := Progress(job), TotalUnits(job)
		if total == lastTotal {
			assert.GreaterOrEqual(t, p, last)
		} else {
			assert.Greater(t, total, lastTotal)
		}
		last, lastTotal = p, total
	}

	now := t0
	edited := false
	for round := 0; round < 50; round++ {
		units := Advance(job)
		if len(units) == 0 {
			if edited {
				break
			}
			_, err := EditScript(job, 1, "edited", now)
			require.NoError(t, err)
			edited = true
			check()
			continue
		}
		for _, u := range units {
			require.NoError(t, Claim(job, u, now))
			check()
			_, err := RecordResult(job, success(u, 3), DefaultPolicy(), now)
			require.NoError(t, err)
			check()
		}
	}
	assert.Equal(t, domain.JobDone, job.Status)
	assert.InDelta(t, 1.0, Progress(job), 1e-9)
}

func TestCleanScript(t *testing.T) {
	assert.Equal(t, "Welcome to the talk.", CleanScript("**Welcome**  to the\n talk."))
}

func TestSlideFailureReportsPartiallyCompleteWhileSiblingsRun(t *testing.T) {
	job := newJob()
	policy := Policy{MaxAttempts: 1}
	for _, u := range claimAll(t, job) {
		_, err := RecordResult(job, success(u, 2), policy, t0)
		require.NoError(t, err)
	}
	scripts := claimAll(t, job)
	require.Len(t, scripts, 2)

	fail := domain.Outcome{Unit: scripts[1], Err: domain.Wrap(domain.ErrPermanent, domain.StageScript, "", "refused", nil)}
	decision, err := RecordResult(job, fail, policy, t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionFailed, decision)

	// Slide 0's script is still running.
	assert.True(t, job.Slides[0].ScriptStage.Running())
	assert.Equal(t, domain.JobPartiallyComplete, job.Status)

	_, err = RecordResult(job, success(scripts[0], 2), policy, t0)
	require.NoError(t, err)
	next := Advance(job)
	require.Len(t, next, 1)
	assert.Equal(t, 0, next[0].Slide)
	assert.Equal(t, domain.JobPartiallyComplete, job.Status)
}
