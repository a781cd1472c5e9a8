package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

const (
	jobIndexKey  = "autopresenter:jobs"
	maxTxRetries = 32
)

// JobStore implements JobStore using Redis
type JobStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewJobStore creates a new Redis job store. A zero ttl keeps records forever.
func NewJobStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *JobStore {
	return &JobStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Create stores a new job and indexes it by creation time
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	key := getJobKey(job.ID)

	job.Revision = 1
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	if err := s.client.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index job: %w", err)
	}

	s.logger.Debug("job saved",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)))

	return nil
}

// Get retrieves a job from Redis
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.client.Get(ctx, getJobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

// Update applies fn inside a WATCH/MULTI transaction, retrying when
// another writer modified the record first
func (s *JobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	key := getJobKey(id)
	var updated *domain.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}

		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		job.Revision++

		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("job update conflict, retrying",
				zap.String("job_id", id),
				zap.Int("attempt", i+1))
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed to update job %s: too many concurrent writers", id)
}

// List returns all indexed jobs, newest first
func (s *JobStore) List(ctx context.Context) ([]*domain.Job, error) {
	ids, err := s.client.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = getJobKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired records leave a dangling index entry
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping unreadable job record",
				zap.String("job_id", ids[i]),
				zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Ping checks the Redis connection
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller
func (s *JobStore) Close() error {
	return nil
}

func decodeJob(data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// getJobKey returns the Redis key for a job record
func getJobKey(id string) string {
	return fmt.Sprintf("autopresenter:job:%s", id)
}
