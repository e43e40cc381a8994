// Package sqlstore realizes datastore.Store over relational backends.
// Postgres is the primary realization, grounded directly on
// ErlanBelekov/dist-job-scheduler's internal/infrastructure/postgres
// package (same pgxpool.Pool, same FOR UPDATE SKIP LOCKED claim query,
// same scanJob/scanSchedule helper pattern). MySQL and SQLite share the
// schema shape but go through database/sql (genericsql.go) since neither
// has a pgx driver in the examples pack.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

// Postgres realizes datastore.Store atop jackc/pgx/v5, the driver
// ErlanBelekov/dist-job-scheduler already depends on.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects using the same pgxpool.Config tuning as the
// teacher's postgres.NewPool (db.go): bounded max conns, health checks,
// and a connect-time ping so misconfiguration fails fast at startup.
func NewPostgres(ctx context.Context, uri string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("parse postgres uri: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) PutJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, user_id, idempotency_key, function_module, function_symbol,
			positional_args, keyword_args, status, enqueue_timestamp,
			scheduled_fire_time, result_ttl, job_ttl, retry_count,
			retry_max, retry_delay, retry_backoff, repeat_max,
			queue_name, schedule_id, created_at, updated_at
		) VALUES (
			COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, NULLIF($3, ''), $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, NOW(), NOW()
		)
		RETURNING id, created_at, updated_at`

	row := p.pool.QueryRow(ctx, query,
		job.ID, job.UserID, job.IdempotencyKey, job.FunctionRef.ModulePath, job.FunctionRef.Symbol,
		job.PositionalArgs, job.KeywordArgs, job.Status, job.EnqueueTimestamp,
		job.ScheduledFireTime, int64(job.ResultTTL), int64(job.JobTTL), job.RetryCount,
		job.Retry.Max, int64(job.Retry.Delay), job.Retry.Backoff, job.Repeat.Max,
		job.QueueName, job.ScheduleID,
	)
	if err := row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, idempotency_key, function_module, function_symbol,
	positional_args, keyword_args, status, enqueue_timestamp, scheduled_fire_time,
	result_value, result_ttl, job_ttl, retry_count, retry_max, retry_delay,
	retry_backoff, repeat_max, queue_name, origin_worker_id, failure_reason,
	schedule_id, claimed_at, heartbeat_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var retryTTL, jobTTL, retryDelay int64
	err := row.Scan(
		&j.ID, &j.UserID, &j.IdempotencyKey, &j.FunctionRef.ModulePath, &j.FunctionRef.Symbol,
		&j.PositionalArgs, &j.KeywordArgs, &j.Status, &j.EnqueueTimestamp, &j.ScheduledFireTime,
		&j.ResultValue, &retryTTL, &jobTTL, &j.RetryCount, &j.Retry.Max, &retryDelay,
		&j.Retry.Backoff, &j.Repeat.Max, &j.QueueName, &j.OriginWorkerID, &j.FailureReason,
		&j.ScheduleID, &j.ClaimedAt, &j.HeartbeatAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.ResultTTL = time.Duration(retryTTL)
	j.JobTTL = time.Duration(jobTTL)
	j.Retry.Delay = time.Duration(retryDelay)
	return &j, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	return scanJob(row)
}

func (p *Postgres) ListJobs(ctx context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	query := "SELECT " + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []any{input.UserID}
	if input.QueueName != "" {
		args = append(args, input.QueueName)
		query += fmt.Sprintf(" AND queue_name = $%d", len(args))
	}
	if input.Status != "" {
		args = append(args, input.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if input.ScheduleID != nil {
		args = append(args, *input.ScheduleID)
		query += fmt.Sprintf(" AND schedule_id = $%d", len(args))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, input.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AcquireNext claims up to limit due jobs with FOR UPDATE SKIP LOCKED, the
// same locking strategy ErlanBelekov/dist-job-scheduler's JobRepository.Claim
// uses to prevent double-execution across workers.
func (p *Postgres) AcquireNext(ctx context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status = 'started', origin_worker_id = $1, claimed_at = NOW(),
		       heartbeat_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  (status = 'queued' OR (status = 'deferred' AND scheduled_fire_time <= NOW()))
			  AND  ($2::text[] IS NULL OR queue_name = ANY($2))
			ORDER BY enqueue_timestamp ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var queueArg []string
	if len(queueNames) > 0 {
		queueArg = queueNames
	}

	rows, err := p.pool.Query(ctx, query, workerID, queueArg, limit)
	if err != nil {
		return nil, fmt.Errorf("acquire jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) Heartbeat(ctx context.Context, jobID, _ string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'started'`, jobID)
	return err
}

func (p *Postgres) CompleteJob(ctx context.Context, jobID string, result any) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		resultJSON = b
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status = 'finished', result_value = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID, resultJSON)
	return err
}

func (p *Postgres) FailJob(ctx context.Context, jobID string, reason string, retryAt *time.Time) error {
	if retryAt != nil {
		_, err := p.pool.Exec(ctx, `
			UPDATE jobs
			SET    status = 'deferred', retry_count = retry_count + 1, failure_reason = $2,
			       scheduled_fire_time = $3, claimed_at = NULL, heartbeat_at = NULL, updated_at = NOW()
			WHERE id = $1`, jobID, reason, *retryAt)
		return err
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', failure_reason = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID, reason)
	return err
}

func (p *Postgres) CancelJob(ctx context.Context, jobID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status = 'canceled', completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'deferred')`, jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotCancellable
	}
	return nil
}

func (p *Postgres) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) DeleteJobsByStatus(ctx context.Context, userID string, status domain.Status) (int, error) {
	query := `DELETE FROM jobs WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		args = append(args, status)
		query += " AND status = $2"
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	return int(tag.RowsAffected()), err
}

func (p *Postgres) RescueStaleJobs(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs
		SET    status = CASE WHEN retry_count < retry_max THEN 'queued' ELSE 'failed' END,
		       retry_count = retry_count + 1,
		       failure_reason = 'worker heartbeat expired',
		       claimed_at = NULL, heartbeat_at = NULL,
		       completed_at = CASE WHEN retry_count >= retry_max THEN NOW() ELSE completed_at END,
		       updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'started' AND heartbeat_at < $1
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("rescue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) PutAttempt(ctx context.Context, a *domain.JobAttempt) error {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO job_attempts (id, job_id, attempt_num, worker_id, started_at, completed_at, status_code, error, duration_ms)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`, a.ID, a.JobID, a.AttemptNum, a.WorkerID, a.StartedAt, a.CompletedAt, a.StatusCode, a.Error, a.DurationMS)
	return row.Scan(&a.ID)
}

func (p *Postgres) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, job_id, attempt_num, worker_id, started_at, completed_at, status_code, error, duration_ms
		FROM job_attempts WHERE job_id = $1 ORDER BY attempt_num ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.JobAttempt
	for rows.Next() {
		var a domain.JobAttempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.AttemptNum, &a.WorkerID, &a.StartedAt, &a.CompletedAt, &a.StatusCode, &a.Error, &a.DurationMS); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
