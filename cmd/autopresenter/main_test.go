package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/config"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/sqlite"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sampleJob(id string, created time.Time) *domain.Job {
	job := &domain.Job{
		ID:         id,
		CreatedAt:  created,
		UpdatedAt:  created,
		SourceName: id + ".pptx",
		SourceKind: domain.SourcePPTX,
		Status:     domain.JobRunning,
		Slides: []domain.SlideRecord{
			{Index: 0, ScriptVersion: 1, ScriptSource: domain.ScriptGenerated},
			{Index: 1, ScriptVersion: 2, ScriptSource: domain.ScriptEdited},
		},
	}
	job.ExtractStage = domain.StageState{Status: domain.UnitDone, OutputVersion: 1, ArtifactKey: domain.SlideImageKey(id, 0)}
	job.Slides[0].ScriptStage = domain.StageState{Status: domain.UnitDone, OutputVersion: 1, ArtifactKey: domain.ScriptKey(id, 0, 1)}
	job.Slides[0].SynthesizeStage = domain.StageState{Status: domain.UnitDone, OutputVersion: 1, ArtifactKey: domain.AudioKey(id, 0, 1)}
	job.Slides[0].AssembleStage = domain.StageState{Status: domain.UnitDone, OutputVersion: 1, ArtifactKey: domain.SegmentKey(id, 0, 1), Strategy: "mpeg4"}
	job.Slides[1].ScriptStage = domain.StageState{Status: domain.UnitDone, OutputVersion: 2, ArtifactKey: domain.ScriptKey(id, 1, 2)}
	job.Slides[1].SynthesizeStage = domain.StageState{
		Status:        domain.UnitFailed,
		FailedVersion: 2,
		LastError:     &domain.StageError{Kind: domain.KindPermanent, Stage: domain.StageSynthesize, Slide: 1, Message: "no voice"},
	}
	return job
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["jobs"])
	assert.True(t, names["version"])
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "autopresenter dev")
}

func TestPrintJobList(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	jobs := []*domain.Job{sampleJob("older", base), sampleJob("newer", base.Add(time.Hour))}
	require.NoError(t, printJobList(&out, jobs, 0))

	text := out.String()
	assert.Contains(t, text, "older.pptx")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("newer")), bytes.Index(out.Bytes(), []byte("older")))

	out.Reset()
	require.NoError(t, printJobList(&out, jobs, 1))
	assert.NotContains(t, out.String(), "older")

	out.Reset()
	require.NoError(t, printJobList(&out, nil, 0))
	assert.Equal(t, "No jobs\n", out.String())
}

func TestPrintJob(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJob(&out, sampleJob("job-1", time.Now())))

	text := out.String()
	assert.Contains(t, text, "Job:       job-1")
	assert.Contains(t, text, "done [mpeg4]")
	assert.Contains(t, text, "failed (permanent)")
	assert.Contains(t, text, "v2 edited")
}

func TestJobsListReadsSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTOPRESENTER_DATA_DIR", dir)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := config.Parse()
	require.NoError(t, err)
	store, err := sqlite.Open(context.Background(), cfg.Store.SQLitePath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), sampleJob("job-42", time.Now())))
	require.NoError(t, store.Close())

	out, err := execute(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "job-42")

	out, err = execute(t, "jobs", "show", "job-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Source:    job-42.pptx (pptx)")

	_, err = execute(t, "jobs", "show", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobsRejectsMemoryStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	_, err := execute(t, "jobs", "list")
	assert.Error(t, err)
}

func TestPoolOptions(t *testing.T) {
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("WORKER_SCRIPT_LIMIT", "5")
	t.Setenv("TIMEOUT_FINALIZE", "42s")
	cfg, err := config.Load()
	require.NoError(t, err)

	opts := poolOptions(cfg)
	assert.Equal(t, cfg.Workers.PoolSize, opts.Size)
	assert.Equal(t, 5, opts.StageLimits[domain.StageScript])
	assert.Equal(t, 42*time.Second, opts.Timeouts[domain.StageFinalize])
	assert.Equal(t, cfg.Workers.MaxRetries, opts.Policy.MaxAttempts)
}

func TestToolsError(t *testing.T) {
	assert.NoError(t, toolsError(map[string]error{"ffmpeg": nil}))

	err := toolsError(map[string]error{
		"ffmpeg":   errors.New("not found"),
		"pdftoppm": nil,
		"soffice":  errors.New("not found"),
	})
	require.Error(t, err)
	assert.Equal(t, "ffmpeg: not found; soffice: not found", err.Error())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger("bogus")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}
