package executors

import (
	"context"
	"fmt"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Synthesizer turns a slide's script into narration audio with the Coqui
// tts command line tool.
type Synthesizer struct {
	base
}

// Execute implements Executor.
func (s *Synthesizer) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	slide, err := s.slideOf(job, u)
	if err != nil {
		return s.fail(u, err)
	}
	if slide.ScriptVersion != u.Version {
		// The unit was claimed for a version that has since been edited.
		return s.fail(u, domain.Wrap(domain.ErrTransient, s.stage, "",
			fmt.Sprintf("script version %d superseded by %d", u.Version, slide.ScriptVersion), nil))
	}
	if slide.Script == "" {
		return s.fail(u, domain.Wrap(domain.ErrPermanent, s.stage, "", "script is empty", nil))
	}

	ws, err := s.workspace(u)
	if err != nil {
		return s.fail(u, err)
	}
	defer ws.cleanup()

	out := ws.path("narration.wav")
	args := []string{"--text", slide.Script, "--out_path", out}
	if s.cfg.TTSModel != "" {
		args = append(args, "--model_name", s.cfg.TTSModel)
	}
	res, err := s.runner.Run(ctx, s.cfg.TTSCommand, args...)
	if err != nil {
		return s.fail(u, commandError(ctx, domain.ErrTransient, s.stage, "tts", res, err))
	}
	if !nonEmpty(out) {
		return s.fail(u, domain.Wrap(domain.ErrTransient, s.stage, "tts", "no audio produced", nil))
	}

	key := domain.AudioKey(job.ID, u.Slide, u.Version)
	if err := ws.publish(ctx, key, out); err != nil {
		return s.fail(u, err)
	}
	return domain.Outcome{Unit: u, ArtifactKey: key}
}
