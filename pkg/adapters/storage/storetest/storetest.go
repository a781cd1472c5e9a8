// Package storetest holds the behaviour every ports.JobStore must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Run exercises a job store created by newStore.
func Run(t *testing.T, newStore func(t *testing.T) ports.JobStore) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdateErrorWritesNothing", func(t *testing.T) { testUpdateError(t, newStore(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

// NewJob returns a job fixture.
func NewJob(id string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:         id,
		CreatedAt:  created.UTC(),
		UpdatedAt:  created.UTC(),
		SourceName: id + ".pptx",
		SourceKey:  domain.SourceKey(id, id+".pptx"),
		SourceKind: domain.SourcePPTX,
		Status:     domain.JobQueued,
	}
}

func testCreateGet(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	job := NewJob("job-a", time.Now())
	job.Slides = []domain.SlideRecord{{Index: 0, ImageKey: "img", Script: "hello", ScriptVersion: 1}}
	require.NoError(t, store.Create(ctx, job))
	assert.Error(t, store.Create(ctx, job), "duplicate IDs are rejected")

	got, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "job-a", got.ID)
	assert.Equal(t, "hello", got.Slides[0].Script)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	got.Slides[0].Script = "mutated"
	again, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Slides[0].Script, "callers get copies")
}

func testUpdate(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewJob("job-u", time.Now())))

	updated, err := store.Update(ctx, "job-u", func(j *domain.Job) error {
		j.Status = domain.JobRunning
		j.Rework = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, updated.Status)

	got, err := store.Get(ctx, "job-u")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, got.Status)
	assert.Equal(t, 2, got.Rework)
	assert.Greater(t, got.Revision, int64(1))
}

func testUpdateError(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewJob("job-e", time.Now())))

	boom := errors.New("rejected")
	_, err := store.Update(ctx, "job-e", func(j *domain.Job) error {
		j.Status = domain.JobFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "job-e")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, got.Status)
}

func testConcurrentUpdates(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewJob("job-c", time.Now())))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "job-c", func(j *domain.Job) error {
				j.Rework++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "job-c")
	require.NoError(t, err)
	assert.Equal(t, writers, got.Rework, "no update is lost")
}

func testList(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, NewJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Equal(t, "job-1", jobs[1].ID)
	assert.Equal(t, "job-0", jobs[2].ID)
}

func testNotFound(t *testing.T, store ports.JobStore) {
	ctx := context.Background()
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Update(ctx, "missing", func(*domain.Job) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, store.Ping(ctx))
}
