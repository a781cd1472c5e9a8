package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

func claimAll(t *testing.T, job *domain.Job) []domain.Unit {
	t.Helper()
	units := Advance(job)
	for _, u := range units {
		require.NoError(t, Claim(job, u, t0))
	}
	return units
}

func TestRecoverUsesArtifactPresence(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)
	// Edit both slides and leave synthesize running as if the process died.
	for i := range job.Slides {
		_, err := EditScript(job, i, "recovered", t0)
		require.NoError(t, err)
	}
	units := claimAll(t, job)
	require.Len(t, units, 2)

	written := map[string]bool{domain.AudioKey(job.ID, 0, 2): true}
	n, err := Recover(job, Lookup{Exists: func(key string) (bool, error) { return written[key], nil }}, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s0 := job.Slides[0].SynthesizeStage
	assert.Equal(t, domain.UnitDone, s0.Status)
	assert.Equal(t, domain.AudioKey(job.ID, 0, 2), s0.ArtifactKey)
	assert.True(t, IsCurrent(job, 0, domain.StageSynthesize))

	s1 := job.Slides[1].SynthesizeStage
	assert.Equal(t, domain.UnitPending, s1.Status)
	assert.Zero(t, s1.ClaimedVersion)

	next := Advance(job)
	require.Len(t, next, 2)
	assert.Equal(t, domain.StageSynthesize, next[0].Stage)
	assert.Equal(t, 1, next[0].Slide)
	assert.Equal(t, domain.StageAssemble, next[1].Stage)
	assert.Equal(t, 0, next[1].Slide)
}

func TestRecoverResetsScriptAndExtract(t *testing.T) {
	job := newJob()
	claimAll(t, job)
	n, err := Recover(job, Lookup{Exists: func(string) (bool, error) { return true, nil }}, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.UnitPending, job.ExtractStage.Status)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Len(t, Advance(job), 1)
}

func TestRecoverPropagatesStoreErrors(t *testing.T) {
	job := newJob()
	run(t, job, 1, nil)
	_, err := EditScript(job, 0, "again", t0)
	require.NoError(t, err)
	claimAll(t, job)

	boom := errors.New("store offline")
	_, err = Recover(job, Lookup{Exists: func(string) (bool, error) { return false, boom }}, t0)
	assert.ErrorIs(t, err, boom)
}

func TestRecoverNothingRunning(t *testing.T) {
	job := newJob()
	run(t, job, 2, nil)
	before := job.Clone()
	n, err := Recover(job, Lookup{Exists: func(string) (bool, error) { return false, nil }}, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, job)
}

func TestRecoverRestoresEncodingStrategy(t *testing.T) {
	job := newJob()
	run(t, job, 1, nil)
	_, err := EditScript(job, 0, "new words", t0)
	require.NoError(t, err)
	for _, u := range claimAll(t, job) {
		_, err := RecordResult(job, success(u, 1), DefaultPolicy(), t0)
		require.NoError(t, err)
	}
	units := claimAll(t, job)
	require.Len(t, units, 1)
	require.Equal(t, domain.StageAssemble, units[0].Stage)
	segment := domain.SegmentKey(job.ID, 0, 2)

	lookup := Lookup{
		Exists: func(key string) (bool, error) { return key == segment, nil },
		Strategy: func(key string) (string, error) {
			if key == segment {
				return "mpeg4", nil
			}
			return "", nil
		},
	}
	n, err := Recover(job, lookup, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st := job.Slides[0].AssembleStage
	assert.Equal(t, domain.UnitDone, st.Status)
	assert.Equal(t, "mpeg4", st.Strategy)
	assert.True(t, IsCurrent(job, 0, domain.StageAssemble))
}
