package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/backend"
	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

// GenericSQL realizes datastore.Store over database/sql for dialects that
// don't have a pgx driver in the examples pack: MySQL via
// go-sql-driver/mysql and SQLite via modernc.org/sqlite. It shares the
// jobs/schedules schema shape with Postgres but forgoes FOR UPDATE SKIP
// LOCKED (SQLite has no row locking; MySQL's SKIP LOCKED support varies by
// version) in favor of a short, explicit claim transaction instead.
type GenericSQL struct {
	db     *sql.DB
	dialect backend.Kind
}

func NewGenericSQL(ctx context.Context, dialect backend.Kind, driverName, dataSourceName string) (*GenericSQL, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &GenericSQL{db: db, dialect: dialect}, nil
}

func (g *GenericSQL) Close() error { return g.db.Close() }

func (g *GenericSQL) placeholder(i int) string {
	if g.dialect == backend.KindMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

func (g *GenericSQL) PutJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err := g.db.ExecContext(ctx, g.rewrite(`
		INSERT INTO jobs (id, user_id, idempotency_key, function_module, function_symbol,
			positional_args, keyword_args, status, enqueue_timestamp, scheduled_fire_time,
			result_ttl, job_ttl, retry_count, retry_max, retry_delay, retry_backoff, repeat_max,
			queue_name, schedule_id, created_at, updated_at)
		VALUES (?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?,?, ?,?,?,?)`),
		job.ID, job.UserID, nullableString(job.IdempotencyKey), job.FunctionRef.ModulePath, job.FunctionRef.Symbol,
		string(job.PositionalArgs), string(job.KeywordArgs), string(job.Status), job.EnqueueTimestamp, job.ScheduledFireTime,
		int64(job.ResultTTL), int64(job.JobTTL), job.RetryCount, job.Retry.Max, int64(job.Retry.Delay), string(job.Retry.Backoff), job.Repeat.Max,
		job.QueueName, job.ScheduleID, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// rewrite swaps "?" placeholders for Postgres-style "$N" when the dialect
// needs it; database/sql driver args stay positional either way.
func (g *GenericSQL) rewrite(query string) string {
	if g.dialect != backend.KindPostgreSQL {
		return query
	}
	n := 0
	out := make([]byte, 0, len(query)+16)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	// go-sql-driver/mysql and modernc.org/sqlite both surface distinct
	// error types; string matching keeps this dialect-agnostic without an
	// extra type-switch import per driver.
	msg := err.Error()
	return contains(msg, "UNIQUE constraint") || contains(msg, "Duplicate entry")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func (g *GenericSQL) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := g.db.QueryRowContext(ctx, g.rewrite("SELECT "+genericJobColumns+" FROM jobs WHERE id = ?"), id)
	return g.scanJobRow(row)
}

const genericJobColumns = `id, user_id, idempotency_key, function_module, function_symbol,
	positional_args, keyword_args, status, enqueue_timestamp, scheduled_fire_time,
	result_value, result_ttl, job_ttl, retry_count, retry_max, retry_delay,
	retry_backoff, repeat_max, queue_name, origin_worker_id, failure_reason,
	schedule_id, claimed_at, heartbeat_at, completed_at, created_at, updated_at`

type genericRowScanner interface {
	Scan(dest ...any) error
}

func (g *GenericSQL) scanJobRow(row genericRowScanner) (*domain.Job, error) {
	var j domain.Job
	var idempotencyKey, originWorkerID, failureReason, scheduleID sql.NullString
	var positionalArgs, keywordArgs, resultValue sql.NullString
	var scheduledFireTime, claimedAt, heartbeatAt, completedAt sql.NullTime
	var retryTTL, jobTTL, retryDelay int64
	var status, backoffStr string

	err := row.Scan(
		&j.ID, &j.UserID, &idempotencyKey, &j.FunctionRef.ModulePath, &j.FunctionRef.Symbol,
		&positionalArgs, &keywordArgs, &status, &j.EnqueueTimestamp, &scheduledFireTime,
		&resultValue, &retryTTL, &jobTTL, &j.RetryCount, &j.Retry.Max, &retryDelay,
		&backoffStr, &j.Repeat.Max, &j.QueueName, &originWorkerID, &failureReason,
		&scheduleID, &claimedAt, &heartbeatAt, &completedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.IdempotencyKey = idempotencyKey.String
	j.Status = domain.Status(status)
	j.Retry.Backoff = domain.Backoff(backoffStr)
	j.ResultTTL, j.JobTTL, j.Retry.Delay = time.Duration(retryTTL), time.Duration(jobTTL), time.Duration(retryDelay)
	if positionalArgs.Valid {
		j.PositionalArgs = json.RawMessage(positionalArgs.String)
	}
	if keywordArgs.Valid {
		j.KeywordArgs = json.RawMessage(keywordArgs.String)
	}
	if resultValue.Valid {
		j.ResultValue = json.RawMessage(resultValue.String)
	}
	if scheduledFireTime.Valid {
		j.ScheduledFireTime = &scheduledFireTime.Time
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if heartbeatAt.Valid {
		j.HeartbeatAt = &heartbeatAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if originWorkerID.Valid {
		j.OriginWorkerID = &originWorkerID.String
	}
	if failureReason.Valid {
		j.FailureReason = &failureReason.String
	}
	if scheduleID.Valid {
		j.ScheduleID = &scheduleID.String
	}
	return &j, nil
}

func (g *GenericSQL) ListJobs(ctx context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	query := "SELECT " + genericJobColumns + " FROM jobs WHERE user_id = ?"
	args := []any{input.UserID}
	if input.Status != "" {
		query += " AND status = ?"
		args = append(args, string(input.Status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, input.Limit)

	rows, err := g.db.QueryContext(ctx, g.rewrite(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := g.scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AcquireNext runs the select-then-update claim inside a transaction; this
// is the MySQL/SQLite fallback for backends that can't rely on
// FOR UPDATE SKIP LOCKED the way Postgres does.
func (g *GenericSQL) AcquireNext(ctx context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	query := "SELECT id FROM jobs WHERE status = 'queued' OR (status = 'deferred' AND scheduled_fire_time <= ?) ORDER BY enqueue_timestamp ASC LIMIT ?"
	rows, err := tx.QueryContext(ctx, g.rewrite(query), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var claimed []*domain.Job
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, g.rewrite(
			"UPDATE jobs SET status = 'started', origin_worker_id = ?, claimed_at = ?, heartbeat_at = ?, updated_at = ? WHERE id = ?"),
			workerID, time.Now().UTC(), time.Now().UTC(), time.Now().UTC(), id); err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		row := tx.QueryRowContext(ctx, g.rewrite("SELECT "+genericJobColumns+" FROM jobs WHERE id = ?"), id)
		j, err := g.scanJobRow(row)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}

	return claimed, tx.Commit()
}

func (g *GenericSQL) Heartbeat(ctx context.Context, jobID, _ string) error {
	_, err := g.db.ExecContext(ctx, g.rewrite("UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = 'started'"),
		time.Now().UTC(), time.Now().UTC(), jobID)
	return err
}

func (g *GenericSQL) CompleteJob(ctx context.Context, jobID string, result any) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = b
	}
	_, err := g.db.ExecContext(ctx, g.rewrite("UPDATE jobs SET status = 'finished', result_value = ?, completed_at = ?, updated_at = ? WHERE id = ?"),
		string(resultJSON), time.Now().UTC(), time.Now().UTC(), jobID)
	return err
}

func (g *GenericSQL) FailJob(ctx context.Context, jobID string, reason string, retryAt *time.Time) error {
	if retryAt != nil {
		_, err := g.db.ExecContext(ctx, g.rewrite(
			"UPDATE jobs SET status = 'deferred', retry_count = retry_count + 1, failure_reason = ?, scheduled_fire_time = ?, claimed_at = NULL, heartbeat_at = NULL, updated_at = ? WHERE id = ?"),
			reason, *retryAt, time.Now().UTC(), jobID)
		return err
	}
	_, err := g.db.ExecContext(ctx, g.rewrite("UPDATE jobs SET status = 'failed', failure_reason = ?, completed_at = ?, updated_at = ? WHERE id = ?"),
		reason, time.Now().UTC(), time.Now().UTC(), jobID)
	return err
}

func (g *GenericSQL) CancelJob(ctx context.Context, jobID string) error {
	res, err := g.db.ExecContext(ctx, g.rewrite(
		"UPDATE jobs SET status = 'canceled', completed_at = ?, updated_at = ? WHERE id = ? AND status IN ('queued', 'deferred')"),
		time.Now().UTC(), time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrJobNotCancellable
	}
	return nil
}

func (g *GenericSQL) DeleteJob(ctx context.Context, jobID string) error {
	res, err := g.db.ExecContext(ctx, g.rewrite("DELETE FROM jobs WHERE id = ?"), jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (g *GenericSQL) DeleteJobsByStatus(ctx context.Context, userID string, status domain.Status) (int, error) {
	query := "DELETE FROM jobs WHERE user_id = ?"
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	res, err := g.db.ExecContext(ctx, g.rewrite(query), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (g *GenericSQL) RescueStaleJobs(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	rows, err := g.db.QueryContext(ctx, g.rewrite(
		"SELECT id, retry_count, retry_max FROM jobs WHERE status = 'started' AND heartbeat_at < ? ORDER BY heartbeat_at ASC LIMIT ?"),
		staleCutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("select stale jobs: %w", err)
	}
	type stale struct {
		id               string
		retryCount, max int
	}
	var staleJobs []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.retryCount, &s.max); err != nil {
			rows.Close()
			return 0, err
		}
		staleJobs = append(staleJobs, s)
	}
	rows.Close()

	n := 0
	for _, s := range staleJobs {
		status := "queued"
		if s.retryCount >= s.max {
			status = "failed"
		}
		if _, err := g.db.ExecContext(ctx, g.rewrite(
			"UPDATE jobs SET status = ?, retry_count = retry_count + 1, failure_reason = 'worker heartbeat expired', claimed_at = NULL, heartbeat_at = NULL, updated_at = ? WHERE id = ?"),
			status, time.Now().UTC(), s.id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (g *GenericSQL) PutAttempt(ctx context.Context, a *domain.JobAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := g.db.ExecContext(ctx, g.rewrite(
		"INSERT INTO job_attempts (id, job_id, attempt_num, worker_id, started_at, completed_at, status_code, error, duration_ms) VALUES (?,?,?,?,?,?,?,?,?)"),
		a.ID, a.JobID, a.AttemptNum, a.WorkerID, a.StartedAt, a.CompletedAt, a.StatusCode, a.Error, a.DurationMS)
	return err
}

func (g *GenericSQL) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	rows, err := g.db.QueryContext(ctx, g.rewrite(
		"SELECT id, job_id, attempt_num, worker_id, started_at, completed_at, status_code, error, duration_ms FROM job_attempts WHERE job_id = ? ORDER BY attempt_num ASC"),
		jobID)
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
