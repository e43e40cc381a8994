package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

const genericScheduleColumns = `id, user_id, name, function_module, function_symbol, positional_args,
	keyword_args, trigger_kind, trigger_json, queue_name, next_fire_time, last_fire_time,
	misfire_grace_time, max_jitter, coalesce, max_running_jobs, paused, result_ttl,
	max_retries, backoff, created_at, updated_at`

func (g *GenericSQL) scanScheduleRow(row genericRowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var name, queueName sql.NullString
	var lastFireTime sql.NullTime
	var misfire, jitter, resultTTL int64
	var triggerKind, coalesceStr, backoffStr string
	var triggerJSONStr sql.NullString
	var positionalArgs, keywordArgs sql.NullString
	var paused bool

	err := row.Scan(
		&s.ID, &s.UserID, &name, &s.FunctionRef.ModulePath, &s.FunctionRef.Symbol, &positionalArgs,
		&keywordArgs, &triggerKind, &triggerJSONStr, &queueName, &s.NextFireTime, &lastFireTime,
		&misfire, &jitter, &coalesceStr, &s.MaxRunningJobs, &paused, &resultTTL,
		&s.MaxRetries, &backoffStr, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	s.Name = name.String
	s.QueueName = queueName.String
	s.Paused = paused
	s.Coalesce = domain.CoalescePolicy(coalesceStr)
	s.Backoff = domain.Backoff(backoffStr)
	s.MisfireGraceTime, s.MaxJitter, s.ResultTTL = time.Duration(misfire), time.Duration(jitter), time.Duration(resultTTL)
	if positionalArgs.Valid {
		s.PositionalArgs = []byte(positionalArgs.String)
	}
	if keywordArgs.Valid {
		s.KeywordArgs = []byte(keywordArgs.String)
	}
	if lastFireTime.Valid {
		s.LastFireTime = &lastFireTime.Time
	}
	s.Trigger.Kind = domain.TriggerKind(triggerKind)
	if triggerJSONStr.Valid {
		if err := decodeTriggerJSON([]byte(triggerJSONStr.String), &s.Trigger); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (g *GenericSQL) PutSchedule(ctx context.Context, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	triggerJSON, err := encodeTriggerJSON(s.Trigger)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err = g.db.ExecContext(ctx, g.rewrite(`
		INSERT INTO schedules (id, user_id, name, function_module, function_symbol, positional_args, keyword_args,
			trigger_kind, trigger_json, queue_name, next_fire_time, misfire_grace_time, max_jitter,
			coalesce, max_running_jobs, paused, result_ttl, max_retries, backoff, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?,?,?,?)`),
		s.ID, s.UserID, nullableString(s.Name), s.FunctionRef.ModulePath, s.FunctionRef.Symbol, string(s.PositionalArgs), string(s.KeywordArgs),
		string(s.Trigger.Kind), string(triggerJSON), nullableString(s.QueueName), s.NextFireTime, int64(s.MisfireGraceTime), int64(s.MaxJitter),
		string(s.Coalesce), s.MaxRunningJobs, s.Paused, int64(s.ResultTTL), s.MaxRetries, string(s.Backoff), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrScheduleNameConflict
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (g *GenericSQL) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	row := g.db.QueryRowContext(ctx, g.rewrite("SELECT "+genericScheduleColumns+" FROM schedules WHERE id = ?"), id)
	return g.scanScheduleRow(row)
}

func (g *GenericSQL) ListSchedules(ctx context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	rows, err := g.db.QueryContext(ctx, g.rewrite(
		"SELECT "+genericScheduleColumns+" FROM schedules WHERE user_id = ? ORDER BY id ASC LIMIT ?"),
		input.UserID, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := g.scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (g *GenericSQL) DeleteSchedule(ctx context.Context, id string) error {
	res, err := g.db.ExecContext(ctx, g.rewrite("DELETE FROM schedules WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (g *GenericSQL) PauseSchedule(ctx context.Context, id string) error {
	res, err := g.db.ExecContext(ctx, g.rewrite("UPDATE schedules SET paused = true, updated_at = ? WHERE id = ? AND paused = false"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrScheduleAlreadyPaused
	}
	return nil
}

func (g *GenericSQL) ResumeSchedule(ctx context.Context, id string) error {
	res, err := g.db.ExecContext(ctx, g.rewrite("UPDATE schedules SET paused = false, updated_at = ? WHERE id = ? AND paused = true"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resume schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrScheduleNotPaused
	}
	return nil
}

func (g *GenericSQL) ClaimDueSchedules(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	rows, err := g.db.QueryContext(ctx, g.rewrite(
		"SELECT "+genericScheduleColumns+" FROM schedules WHERE paused = false AND next_fire_time <= ? ORDER BY next_fire_time ASC LIMIT ?"),
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := g.scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (g *GenericSQL) AdvanceSchedule(ctx context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error {
	_, err := g.db.ExecContext(ctx, g.rewrite("UPDATE schedules SET next_fire_time = ?, last_fire_time = ?, updated_at = ? WHERE id = ?"),
		nextFireTime, lastFireTime, time.Now().UTC(), id)
	return err
}
