package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &Job{
		ID:     "job-1",
		Slides: []SlideRecord{{Index: 0, Script: "hello", ScriptVersion: 1}},
		ExtractStage: StageState{
			Status:    UnitDone,
			LastError: &StageError{Kind: KindTransient},
			StartedAt: &now,
		},
		LastError: &StageError{Message: "x"},
	}

	c := j.Clone()
	c.Slides[0].Script = "changed"
	c.ExtractStage.LastError.Kind = KindPermanent
	c.LastError.Message = "y"

	assert.Equal(t, "hello", j.Slides[0].Script)
	assert.Equal(t, KindTransient, j.ExtractStage.LastError.Kind)
	assert.Equal(t, "x", j.LastError.Message)
}

func TestUnitState(t *testing.T) {
	j := &Job{Slides: []SlideRecord{{Index: 0}}}

	require.NotNil(t, j.UnitState(JobSlide, StageExtract))
	require.NotNil(t, j.UnitState(0, StageAssemble))
	assert.Nil(t, j.UnitState(3, StageScript))

	j.UnitState(0, StageSynthesize).ArtifactKey = "a.wav"
	assert.Equal(t, "a.wav", j.Slides[0].AudioKey())
}

func TestStageStateCurrent(t *testing.T) {
	s := StageState{OutputVersion: 2, ArtifactKey: "k"}
	assert.True(t, s.Current(2))
	assert.False(t, s.Current(3))
	assert.False(t, (&StageState{OutputVersion: 2}).Current(2))
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("assemble")
	require.NoError(t, err)
	assert.Equal(t, StageAssemble, s)

	_, err = ParseStage("render")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
