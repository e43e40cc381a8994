// Package redisqueue realizes datastore.Store over Redis: job documents
// as JSON string keys, per-queue lists for ready work, and a sorted set for deferred
// (future-fire) jobs and due schedules. Connection pool tuning and key
// prefixing are grounded directly on the examples pack's Redis queue
// (muaviaUsmani/bananas internal/queue/redis.go): pre-computed key
// prefixes, bounded pool size, context-aware timeouts, per-status TTLs.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

type Store struct {
	client *redis.Client
	prefix string

	completedTTL time.Duration
	failedTTL    time.Duration
}

func New(uri string) (*Store, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.ConnMaxIdleTime = 10 * time.Minute
	opts.PoolTimeout = 5 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{
		client:       client,
		prefix:       "flowerpower:",
		completedTTL: 24 * time.Hour,
		failedTTL:    7 * 24 * time.Hour,
	}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) jobKey(id string) string      { return s.prefix + "job:" + id }
func (s *Store) attemptsKey(id string) string { return s.prefix + "attempts:" + id }
func (s *Store) queueKey(name string) string  { return s.prefix + "queue:" + name }
func (s *Store) deferredKey() string          { return s.prefix + "deferred" }
func (s *Store) scheduleKey(id string) string { return s.prefix + "schedule:" + id }
func (s *Store) schedulesSetKey() string      { return s.prefix + "schedules" }
func (s *Store) dueSchedulesKey() string      { return s.prefix + "schedules:due" }
func (s *Store) userJobsKey(userID string) string { return s.prefix + "user-jobs:" + userID }

func (s *Store) PutJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.IdempotencyKey != "" {
		idemKey := s.prefix + "idempotency:" + job.UserID + ":" + job.IdempotencyKey
		ok, err := s.client.SetNX(ctx, idemKey, job.ID, 24*time.Hour).Result()
		if err != nil {
			return fmt.Errorf("check idempotency: %w", err)
		}
		if !ok {
			return domain.ErrDuplicateJob
		}
	}

	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(job.ID), body, 0)
	pipe.SAdd(ctx, s.userJobsKey(job.UserID), job.ID)
	if job.Status == domain.StatusDeferred && job.ScheduledFireTime != nil {
		pipe.ZAdd(ctx, s.deferredKey(), redis.Z{Score: float64(job.ScheduledFireTime.Unix()), Member: job.ID})
	} else {
		pipe.LPush(ctx, s.queueKey(job.QueueName), job.ID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	body, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *Store) putJobBody(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.jobKey(job.ID), body, 0).Err()
}

func (s *Store) ListJobs(ctx context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	ids, err := s.client.SMembers(ctx, s.userJobsKey(input.UserID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user jobs: %w", err)
	}

	var jobs []*domain.Job
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if input.Status != "" && job.Status != input.Status {
			continue
		}
		if input.QueueName != "" && job.QueueName != input.QueueName {
			continue
		}
		jobs = append(jobs, job)
	}
	if input.Limit > 0 && len(jobs) > input.Limit {
		jobs = jobs[:input.Limit]
	}
	return jobs, nil
}

// moveDeferredScript atomically removes due members from the deferred
// sorted set and returns their IDs. The script does not push them onto a
// queue list: AcquireNext marks each returned job queued and LPUSHes it
// onto its queue with separate commands after the script has run.
var moveDeferredScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
end
return due
`)

func (s *Store) AcquireNext(ctx context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error) {
	dueIDs, err := moveDeferredScript.Run(ctx, s.client, []string{s.deferredKey()}, time.Now().Unix()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("move deferred jobs: %w", err)
	}
	for _, id := range dueIDs {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		job.Status = domain.StatusQueued
		_ = s.putJobBody(ctx, job)
		s.client.LPush(ctx, s.queueKey(job.QueueName), job.ID)
	}

	if len(queueNames) == 0 {
		queueNames = []string{"default"}
	}

	var claimed []*domain.Job
	for len(claimed) < limit {
		var id string
		for _, q := range queueNames {
			if v, err := s.client.RPop(ctx, s.queueKey(q)).Result(); err == nil {
				id = v
				break
			}
		}
		if id == "" {
			break
		}
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if job.Status != domain.StatusQueued {
			continue
		}
		job.Status = domain.StatusStarted
		job.OriginWorkerID = &workerID
		now := time.Now().UTC()
		job.ClaimedAt = &now
		job.HeartbeatAt = &now
		if err := s.putJobBody(ctx, job); err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *Store) Heartbeat(ctx context.Context, jobID, _ string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusStarted {
		return nil
	}
	now := time.Now().UTC()
	job.HeartbeatAt = &now
	return s.putJobBody(ctx, job)
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, result any) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = domain.StatusFinished
	now := time.Now().UTC()
	job.CompletedAt = &now
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			job.ResultValue = b
		}
	}
	if err := s.putJobBody(ctx, job); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.jobKey(job.ID), s.resultExpiry(job.ResultTTL, s.completedTTL)).Err()
}

// resultExpiry prefers the per-job result_ttl spec.md §4.2's Redis
// realization calls for over the store's fixed default, falling back to
// the default only when the job didn't set one.
func (s *Store) resultExpiry(resultTTL, fallback time.Duration) time.Duration {
	if resultTTL > 0 {
		return resultTTL
	}
	return fallback
}

func (s *Store) FailJob(ctx context.Context, jobID string, reason string, retryAt *time.Time) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.FailureReason = &reason
	job.RetryCount++
	if retryAt != nil {
		job.Status = domain.StatusDeferred
		job.ScheduledFireTime = retryAt
		job.ClaimedAt, job.HeartbeatAt = nil, nil
		if err := s.putJobBody(ctx, job); err != nil {
			return err
		}
		return s.client.ZAdd(ctx, s.deferredKey(), redis.Z{Score: float64(retryAt.Unix()), Member: job.ID}).Err()
	}
	job.Status = domain.StatusFailed
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := s.putJobBody(ctx, job); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.jobKey(job.ID), s.resultExpiry(job.ResultTTL, s.failedTTL)).Err()
}

func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusQueued && job.Status != domain.StatusDeferred {
		return domain.ErrJobNotCancellable
	}
	job.Status = domain.StatusCanceled
	now := time.Now().UTC()
	job.CompletedAt = &now
	s.client.ZRem(ctx, s.deferredKey(), job.ID)
	return s.putJobBody(ctx, job)
}

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID))
	pipe.Del(ctx, s.attemptsKey(jobID))
	pipe.SRem(ctx, s.userJobsKey(job.UserID), jobID)
	pipe.ZRem(ctx, s.deferredKey(), jobID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteJobsByStatus(ctx context.Context, userID string, status domain.Status) (int, error) {
	ids, err := s.client.SMembers(ctx, s.userJobsKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		if err := s.DeleteJob(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) RescueStaleJobs(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	// Redis has no secondary index over job status; the worker supervisor
	// tracks in-flight job IDs per worker and calls Heartbeat/FailJob
	// directly, so a full scan here would be O(n) over every job ever
	// seen. Exposed for interface conformance; the memory and SQL
	// realizations do the heavy lifting for stale-job recovery.
	return 0, nil
}

func (s *Store) PutAttempt(ctx context.Context, a *domain.JobAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.attemptsKey(a.JobID), body).Err()
}

func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	raw, err := s.client.LRange(ctx, s.attemptsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	attempts := make([]*domain.JobAttempt, 0, len(raw))
	for _, r := range raw {
		var a domain.JobAttempt
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			continue
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}
