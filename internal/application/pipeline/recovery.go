package pipeline

import (
	"fmt"
	"time"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// ExistsFunc reports whether an artifact key is present in storage.
type ExistsFunc func(key string) (bool, error)

// StrategyFunc returns the encoding strategy recorded for a video
// artifact, or "" when none was recorded.
type StrategyFunc func(key string) (string, error)

// Lookup answers artifact questions while recovering a job.
type Lookup struct {
	Exists   ExistsFunc
	Strategy StrategyFunc
}

// Recover settles units left running by a previous process. A unit whose
// output artifact exists at its claimed version is recorded as done;
// anything else goes back to pending. Script and extract units are always
// re-run since their outputs carry data that only lives in the record.
// Recovered videos get back the strategy recorded next to them.
func Recover(job *domain.Job, lookup Lookup, now time.Time) (int, error) {
	recovered := 0
	settle := func(slide int, stage domain.Stage) error {
		st := job.UnitState(slide, stage)
		if st == nil || !st.Running() {
			return nil
		}
		u := domain.Unit{JobID: job.ID, Slide: slide, Stage: stage, Version: st.ClaimedVersion}
		st.ClaimedVersion = 0
		st.StartedAt = nil
		st.UpdatedAt = now
		st.Status = domain.UnitPending
		recovered++

		if job.CancelledAt != nil || stage == domain.StageExtract || stage == domain.StageScript {
			return nil
		}
		if u.Version != RequiredVersion(job, slide, stage) {
			return nil
		}
		key := domain.OutputKey(u)
		ok, err := lookup.Exists(key)
		if err != nil {
			return fmt.Errorf("failed to check artifact %s: %w", key, err)
		}
		if !ok {
			return nil
		}
		strategy := ""
		if (stage == domain.StageAssemble || stage == domain.StageFinalize) && lookup.Strategy != nil {
			if strategy, err = lookup.Strategy(key); err != nil {
				return fmt.Errorf("failed to read strategy for %s: %w", key, err)
			}
		}
		st.Status = domain.UnitDone
		st.Strategy = strategy
		st.OutputVersion = u.Version
		st.ArtifactKey = key
		st.FailedVersion = 0
		st.LastError = nil
		if stage == domain.StageFinalize {
			job.FinalKey = key
		}
		return nil
	}

	if err := settle(domain.JobSlide, domain.StageExtract); err != nil {
		return recovered, err
	}
	for i := range job.Slides {
		for _, stage := range domain.SlideStages {
			if err := settle(i, stage); err != nil {
				return recovered, err
			}
		}
	}
	if err := settle(domain.JobSlide, domain.StageFinalize); err != nil {
		return recovered, err
	}
	if recovered > 0 {
		Refresh(job, now)
	}
	return recovered, nil
}
