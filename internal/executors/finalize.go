package executors

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Finalize strategy names.
const (
	StrategyConcatCopy     = "concat-copy"
	StrategyConcatReencode = "concat-reencode"
)

// FinalizeStrategies returns the concatenation methods in preference order.
// Stream copy is tried first; segments produced by different assemble
// fallbacks may not share a codec, which requires a re-encode.
func FinalizeStrategies() []Strategy {
	concat := func(in []string) []string {
		return []string{"-y", "-f", "concat", "-safe", "0", "-i", in[0]}
	}
	return []Strategy{
		{
			Name: StrategyConcatCopy,
			Args: func(in []string, out string) []string {
				return append(concat(in), "-c", "copy", "-movflags", "+faststart", out)
			},
		},
		{
			Name: StrategyConcatReencode,
			Args: func(in []string, out string) []string {
				return append(concat(in),
					"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
					"-c:a", "aac", "-b:a", "192k", "-movflags", "+faststart", out)
			},
		},
	}
}

// Finalizer concatenates every slide segment, in slide order, into the
// final video.
type Finalizer struct {
	base
	strategies []Strategy
}

// Execute implements Executor.
func (f *Finalizer) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	if len(job.Slides) == 0 {
		return f.fail(u, domain.Wrap(domain.ErrPermanent, f.stage, "", "job has no slides", nil))
	}
	for i := range job.Slides {
		if job.Slides[i].SegmentKey() == "" {
			return f.fail(u, domain.Wrap(domain.ErrTransient, f.stage, "",
				fmt.Sprintf("segment for slide %d not available", i), nil))
		}
	}

	ws, err := f.workspace(u)
	if err != nil {
		return f.fail(u, err)
	}
	defer ws.cleanup()

	var list strings.Builder
	for i := range job.Slides {
		local, err := ws.fetch(ctx, job.Slides[i].SegmentKey(), fmt.Sprintf("segment-%03d.mp4", i))
		if err != nil {
			return f.fail(u, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(local, "'", `'\''`))
	}

	listPath := ws.path("segments.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return f.fail(u, domain.Wrap(domain.ErrTransient, f.stage, "concat list", "", err))
	}

	out := ws.path("final.mp4")
	strategy, err := runStrategies(ctx, f.base, f.strategies, []string{listPath}, out)
	if err != nil {
		return f.fail(u, err)
	}

	key := domain.FinalKey(job.ID, u.Version)
	if err := ws.publishStrategy(ctx, key, strategy); err != nil {
		return f.fail(u, err)
	}
	if err := ws.publish(ctx, key, out); err != nil {
		return f.fail(u, err)
	}

	f.logger.Info("final video assembled",
		zap.String("job_id", job.ID),
		zap.Int("version", u.Version),
		zap.Int("segments", len(job.Slides)),
		zap.String("strategy", strategy))

	return domain.Outcome{Unit: u, ArtifactKey: key, Strategy: strategy}
}
