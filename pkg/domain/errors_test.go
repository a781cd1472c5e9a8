package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(ErrInput, StageExtract, "convert", "soffice failed", cause)

	assert.ErrorIs(t, err, ErrInput)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "extract: convert: soffice failed")
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "stage failure")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"input", Wrap(ErrInput, StageExtract, "", "bad deck", nil), KindInput},
		{"exhausted", fmt.Errorf("quota: %w", ErrResourceExhausted), KindResourceExhausted},
		{"permanent", Wrap(ErrPermanent, StageAssemble, "", "", nil), KindPermanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{"unclassified", errors.New("boom"), KindTransient},
		{"conflict", ErrStateConflict, KindStateConflict},
		{"not found", ErrNotFound, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

var timeZero time.Time

func TestStageErrorMessage(t *testing.T) {
	e := NewStageError(Unit{JobID: "j", Slide: 2, Stage: StageScript}, ErrTransient, timeZero)
	assert.Equal(t, "slide 2 script failed (transient): transient executor error", e.Error())

	e = NewStageError(Unit{JobID: "j", Slide: JobSlide, Stage: StageFinalize}, ErrPermanent, timeZero)
	assert.Equal(t, "finalize failed (permanent): permanent executor error", e.Error())
}
