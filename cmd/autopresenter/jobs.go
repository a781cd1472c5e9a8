package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/pipeline"
	"github.com/danielcregg/powerpoint-to-video-old/internal/config"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs in the job store",
	}
	cmd.AddCommand(newJobsListCommand())
	cmd.AddCommand(newJobsShowCommand())
	return cmd
}

func newJobsListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(cmd.Context(), func(store ports.JobStore) error {
				jobs, err := store.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list jobs: %w", err)
				}
				return printJobList(cmd.OutOrStdout(), jobs, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many jobs")
	return cmd
}

func newJobsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show per-slide stage status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(cmd.Context(), func(store ports.JobStore) error {
				job, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd.OutOrStdout(), job)
			})
		},
	}
}

// withJobStore opens the configured durable job store for a read-only command
func withJobStore(ctx context.Context, fn func(ports.JobStore) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == "memory" {
		return fmt.Errorf("the memory store is only visible to the serving process")
	}

	var redisClient *goredis.Client
	if cfg.Store.Backend == "redis" {
		redisClient = newRedisClient(cfg)
		defer func() { _ = redisClient.Close() }()
	}

	store, err := openJobStore(ctx, cfg, redisClient, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func printJobList(w io.Writer, jobs []*domain.Job, limit int) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs")
		return err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.SourceName,
			string(job.Status),
			strconv.Itoa(len(job.Slides)),
			formatProgress(pipeline.Progress(job)),
			job.CreatedAt.Local().Format(time.DateTime),
		})
	}
	headers := []string{"ID", "Source", "Status", "Slides", "Progress", "Created"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, aligns))
	return err
}

func printJob(w io.Writer, job *domain.Job) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:       %s\n", job.ID)
	fmt.Fprintf(&b, "Source:    %s (%s)\n", job.SourceName, job.SourceKind)
	fmt.Fprintf(&b, "Status:    %s\n", job.Status)
	fmt.Fprintf(&b, "Progress:  %s (%d/%d units)\n",
		formatProgress(pipeline.Progress(job)), pipeline.CompletedUnits(job), pipeline.TotalUnits(job))
	fmt.Fprintf(&b, "Extract:   %s\n", describeStage(job, domain.JobSlide, domain.StageExtract))
	fmt.Fprintf(&b, "Finalize:  %s\n", describeStage(job, domain.JobSlide, domain.StageFinalize))
	if job.FinalKey != "" {
		fmt.Fprintf(&b, "Result:    %s\n", job.FinalKey)
	}
	if job.LastError != nil {
		fmt.Fprintf(&b, "Error:     %s\n", job.LastError.Error())
	}

	if len(job.Slides) > 0 {
		rows := make([][]string, 0, len(job.Slides))
		for i, s := range job.Slides {
			rows = append(rows, []string{
				strconv.Itoa(i),
				fmt.Sprintf("v%d %s", s.ScriptVersion, s.ScriptSource),
				describeStage(job, i, domain.StageScript),
				describeStage(job, i, domain.StageSynthesize),
				describeStage(job, i, domain.StageAssemble),
			})
		}
		headers := []string{"Slide", "Script", "Narration", "Audio", "Segment"}
		aligns := []columnAlignment{alignRight}
		b.WriteString(renderTable(headers, rows, aligns))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// describeStage renders a unit's status, flagging stale outputs and
// recording the encoding strategy when one was used
func describeStage(job *domain.Job, slide int, stage domain.Stage) string {
	st := job.UnitState(slide, stage)
	if st == nil {
		return "-"
	}
	desc := string(st.Status)
	if st.Status == domain.UnitDone && !pipeline.IsCurrent(job, slide, stage) {
		desc = "stale"
	}
	if st.Strategy != "" {
		desc += " [" + st.Strategy + "]"
	}
	if st.Status == domain.UnitFailed && st.LastError != nil {
		desc += " (" + string(st.LastError.Kind) + ")"
	} else if st.Attempts > 0 {
		desc += fmt.Sprintf(" (attempt %d)", st.Attempts)
	}
	return desc
}

func formatProgress(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}
