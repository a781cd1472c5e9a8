package executors

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/pipeline"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// ScriptWriter asks the narration model for a slide's script.
type ScriptWriter struct {
	base
	writer ports.NarrationWriter
}

// Execute implements Executor.
func (s *ScriptWriter) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	slide, err := s.slideOf(job, u)
	if err != nil {
		return s.fail(u, err)
	}

	rc, err := s.artifacts.Open(ctx, slide.ImageKey)
	if err != nil {
		return s.fail(u, storeError(s.stage, "fetch", slide.ImageKey, err))
	}
	image, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return s.fail(u, storeError(s.stage, "fetch", slide.ImageKey, err))
	}

	pos := ports.SlidePosition{Index: u.Slide, Total: len(job.Slides)}
	text, err := s.writer.WriteNarration(ctx, image, pos)
	if err != nil {
		return s.fail(u, domain.Wrap(domain.ErrTransient, s.stage, s.writer.Name(), "", err))
	}
	text = pipeline.CleanScript(text)
	if text == "" {
		return s.fail(u, domain.Wrap(domain.ErrTransient, s.stage, s.writer.Name(), "empty narration", nil))
	}

	key := domain.ScriptKey(job.ID, u.Slide, u.Version)
	if err := s.artifacts.Put(ctx, key, strings.NewReader(text)); err != nil {
		return s.fail(u, storeError(s.stage, "publish", key, err))
	}

	s.logger.Debug("script generated",
		zap.String("job_id", job.ID),
		zap.Int("slide", u.Slide),
		zap.String("writer", s.writer.Name()),
		zap.Int("words", len(strings.Fields(text))))

	return domain.Outcome{Unit: u, ArtifactKey: key, Script: text}
}
