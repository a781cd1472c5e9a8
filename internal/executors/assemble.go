package executors

import (
	"context"
	"errors"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Strategy is one way of invoking ffmpeg. Strategies are tried in order
// until one produces a non-empty output.
type Strategy struct {
	Name string
	Args func(inputs []string, out string) []string
}

// Encoding strategy names recorded on assembled segments.
const (
	StrategyH264AAC       = "h264-aac"
	StrategyH264Ultrafast = "h264-ultrafast"
	StrategyMPEG4         = "mpeg4"
)

// evenDimensions keeps frame sizes divisible by two as yuv420p requires.
const evenDimensions = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

// AssembleStrategies returns the still-image encoders in preference order.
func AssembleStrategies(fps int) []Strategy {
	rate := strconv.Itoa(fps)
	still := func(inputs []string) []string {
		return []string{"-y", "-loop", "1", "-framerate", rate, "-i", inputs[0], "-i", inputs[1]}
	}
	tailArgs := func(out string) []string {
		return []string{"-c:a", "aac", "-b:a", "192k", "-shortest", "-r", rate, "-movflags", "+faststart", out}
	}

	return []Strategy{
		{
			Name: StrategyH264AAC,
			Args: func(in []string, out string) []string {
				args := still(in)
				args = append(args, "-c:v", "libx264", "-tune", "stillimage", "-pix_fmt", "yuv420p", "-vf", evenDimensions)
				return append(args, tailArgs(out)...)
			},
		},
		{
			Name: StrategyH264Ultrafast,
			Args: func(in []string, out string) []string {
				args := still(in)
				args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p", "-vf", evenDimensions)
				return append(args, tailArgs(out)...)
			},
		},
		{
			Name: StrategyMPEG4,
			Args: func(in []string, out string) []string {
				args := still(in)
				args = append(args, "-c:v", "mpeg4", "-q:v", "3", "-vf", evenDimensions)
				return append(args, tailArgs(out)...)
			},
		},
	}
}

// Assembler encodes a slide image and its narration into a video segment.
type Assembler struct {
	base
	strategies []Strategy
}

// Execute implements Executor.
func (a *Assembler) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	slide, err := a.slideOf(job, u)
	if err != nil {
		return a.fail(u, err)
	}
	audioKey := slide.AudioKey()
	if audioKey == "" {
		return a.fail(u, domain.Wrap(domain.ErrTransient, a.stage, "", "audio not available", nil))
	}

	ws, err := a.workspace(u)
	if err != nil {
		return a.fail(u, err)
	}
	defer ws.cleanup()

	image, err := ws.fetch(ctx, slide.ImageKey, "slide.png")
	if err != nil {
		return a.fail(u, err)
	}
	audio, err := ws.fetch(ctx, audioKey, "narration.wav")
	if err != nil {
		return a.fail(u, err)
	}

	out := ws.path("segment.mp4")
	strategy, err := runStrategies(ctx, a.base, a.strategies, []string{image, audio}, out)
	if err != nil {
		return a.fail(u, err)
	}

	key := domain.SegmentKey(job.ID, u.Slide, u.Version)
	if err := ws.publishStrategy(ctx, key, strategy); err != nil {
		return a.fail(u, err)
	}
	if err := ws.publish(ctx, key, out); err != nil {
		return a.fail(u, err)
	}
	return domain.Outcome{Unit: u, ArtifactKey: key, Strategy: strategy}
}

// runStrategies tries each strategy in order and returns the name of the
// first that produced out. A missing ffmpeg or an expired context stops
// the search immediately; running out of strategies is permanent.
func runStrategies(ctx context.Context, b base, strategies []Strategy, inputs []string, out string) (string, error) {
	var lastErr error
	for i, s := range strategies {
		_ = os.Remove(out)

		res, err := b.runner.Run(ctx, b.cfg.FFmpeg, s.Args(inputs, out)...)
		if err == nil && nonEmpty(out) {
			if i > 0 {
				b.logger.Info("fallback strategy succeeded",
					zap.String("strategy", s.Name),
					zap.Int("attempted", i+1))
			}
			return s.Name, nil
		}
		if err == nil {
			err = errors.New("no output produced")
		}

		lastErr = commandError(ctx, domain.ErrTransient, b.stage, "ffmpeg "+s.Name, res, err)
		if domain.KindOf(lastErr) == domain.KindPermanent || ctx.Err() != nil {
			return "", lastErr
		}
		b.logger.Warn("encoding strategy failed",
			zap.String("strategy", s.Name),
			zap.Error(lastErr))
	}
	if lastErr == nil {
		return "", domain.Wrap(domain.ErrPermanent, b.stage, "ffmpeg", "no strategies configured", nil)
	}
	return "", domain.Wrap(domain.ErrPermanent, b.stage, "ffmpeg", "all encoding strategies failed", lastErr)
}
