package domain

import (
	"fmt"
	"path"
)

// Artifact keys are deterministic in (job, slide, stage, version) so a
// unit interrupted after writing its output can be recovered by checking
// whether the key exists.

// SourceKey addresses the uploaded deck.
func SourceKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/source/%s", jobID, path.Base(filename))
}

// SlideImageKey addresses the rendered image of a slide.
func SlideImageKey(jobID string, slide int) string {
	return fmt.Sprintf("jobs/%s/slides/%03d/image/v1.png", jobID, slide)
}

// ScriptKey addresses a narration script version.
func ScriptKey(jobID string, slide, version int) string {
	return fmt.Sprintf("jobs/%s/slides/%03d/script/v%d.txt", jobID, slide, version)
}

// AudioKey addresses synthesized narration audio.
func AudioKey(jobID string, slide, version int) string {
	return fmt.Sprintf("jobs/%s/slides/%03d/audio/v%d.wav", jobID, slide, version)
}

// SegmentKey addresses an assembled slide video segment.
func SegmentKey(jobID string, slide, version int) string {
	return fmt.Sprintf("jobs/%s/slides/%03d/segment/v%d.mp4", jobID, slide, version)
}

// FinalKey addresses the concatenated video.
func FinalKey(jobID string, version int) string {
	return fmt.Sprintf("jobs/%s/final/v%d.mp4", jobID, version)
}

// StrategyKey addresses the encoding strategy recorded next to a video
// artifact. It is written before the video so a present video always has
// its strategy.
func StrategyKey(artifactKey string) string {
	return artifactKey + ".strategy"
}

// OutputKey returns the artifact key a unit writes its output to. Extract
// writes one image per slide and has no single output key.
func OutputKey(u Unit) string {
	switch u.Stage {
	case StageScript:
		return ScriptKey(u.JobID, u.Slide, u.Version)
	case StageSynthesize:
		return AudioKey(u.JobID, u.Slide, u.Version)
	case StageAssemble:
		return SegmentKey(u.JobID, u.Slide, u.Version)
	case StageFinalize:
		return FinalKey(u.JobID, u.Version)
	default:
		return ""
	}
}
