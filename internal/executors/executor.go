package executors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Executor runs one stage of one unit. job is a snapshot taken when the
// unit was claimed and must not be mutated.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome
}

// Config locates external tools and tunes their output.
type Config struct {
	SOffice    string
	PDFToPPM   string
	FFmpeg     string
	TTSCommand string
	TTSModel   string
	DPI        int
	FPS        int
	WorkDir    string
}

// Set routes units to the executor for their stage.
type Set struct {
	executors map[domain.Stage]Executor
	runner    Runner
	cfg       Config
}

// New builds executors for every stage.
func New(cfg Config, artifacts ports.ArtifactStore, writer ports.NarrationWriter, runner Runner, logger *zap.Logger) *Set {
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 24
	}
	base := base{cfg: cfg, artifacts: artifacts, runner: runner, logger: logger}

	return &Set{
		executors: map[domain.Stage]Executor{
			domain.StageExtract:    &Extractor{base: base.named(domain.StageExtract)},
			domain.StageScript:     &ScriptWriter{base: base.named(domain.StageScript), writer: writer},
			domain.StageSynthesize: &Synthesizer{base: base.named(domain.StageSynthesize)},
			domain.StageAssemble:   &Assembler{base: base.named(domain.StageAssemble), strategies: AssembleStrategies(cfg.FPS)},
			domain.StageFinalize:   &Finalizer{base: base.named(domain.StageFinalize), strategies: FinalizeStrategies()},
		},
		runner: runner,
		cfg:    cfg,
	}
}

// Execute runs u with the executor registered for its stage.
func (s *Set) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	exec, ok := s.executors[u.Stage]
	if !ok {
		return domain.Outcome{
			Unit: u,
			Err:  domain.Wrap(domain.ErrPermanent, u.Stage, "", fmt.Sprintf("no executor for stage %q", u.Stage), nil),
		}
	}
	out := exec.Execute(ctx, job, u)
	out.Unit = u
	return out
}

// CheckTools reports each required external program that cannot be found.
func (s *Set) CheckTools() map[string]error {
	missing := make(map[string]error)
	for _, tool := range []string{s.cfg.SOffice, s.cfg.PDFToPPM, s.cfg.TTSCommand, s.cfg.FFmpeg} {
		if tool == "" {
			continue
		}
		if _, err := s.runner.LookPath(tool); err != nil {
			missing[tool] = err
		}
	}
	return missing
}

// base holds dependencies shared by the stage executors.
type base struct {
	cfg       Config
	artifacts ports.ArtifactStore
	runner    Runner
	logger    *zap.Logger
	stage     domain.Stage
}

func (b base) named(stage domain.Stage) base {
	b.stage = stage
	b.logger = b.logger.With(zap.String("stage", string(stage)))
	return b
}

func (b base) workspace(u domain.Unit) (*workspace, error) {
	ws, err := newWorkspace(b.cfg.WorkDir, b.artifacts, u)
	if err != nil {
		return nil, domain.Wrap(domain.ErrTransient, b.stage, "workspace", "", err)
	}
	return ws, nil
}

func (b base) fail(u domain.Unit, err error) domain.Outcome {
	return domain.Outcome{Unit: u, Err: err}
}

// slideOf returns the slide a per-slide unit refers to.
func (b base) slideOf(job *domain.Job, u domain.Unit) (*domain.SlideRecord, error) {
	slide := job.Slide(u.Slide)
	if slide == nil {
		return nil, domain.Wrap(domain.ErrPermanent, b.stage, "", fmt.Sprintf("slide %d not found", u.Slide), nil)
	}
	return slide, nil
}
