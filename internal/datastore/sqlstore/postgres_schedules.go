package sqlstore

import (
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

const scheduleColumns = `id, user_id, name, function_module, function_symbol, positional_args,
	keyword_args, trigger_kind, trigger_json, queue_name, next_fire_time, last_fire_time,
	misfire_grace_time, max_jitter, coalesce, max_running_jobs, paused, result_ttl,
	max_retries, backoff, created_at, updated_at`

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var misfire, jitter, resultTTL int64
	var triggerKind string
	var triggerJSON []byte

	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.FunctionRef.ModulePath, &s.FunctionRef.Symbol, &s.PositionalArgs,
		&s.KeywordArgs, &triggerKind, &triggerJSON, &s.QueueName, &s.NextFireTime, &s.LastFireTime,
		&misfire, &jitter, &s.Coalesce, &s.MaxRunningJobs, &s.Paused, &resultTTL,
		&s.MaxRetries, &s.Backoff, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	s.MisfireGraceTime = time.Duration(misfire)
	s.MaxJitter = time.Duration(jitter)
	s.ResultTTL = time.Duration(resultTTL)
	s.Trigger.Kind = domain.TriggerKind(triggerKind)
	if err := decodeTriggerJSON(triggerJSON, &s.Trigger); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) PutSchedule(ctx context.Context, s *domain.Schedule) error {
	triggerJSON, err := encodeTriggerJSON(s.Trigger)
	if err != nil {
		return err
	}

	conflictClause := "DO NOTHING"
	if s.ConflictPolicy == domain.ConflictReplace {
		conflictClause = `DO UPDATE SET trigger_kind = EXCLUDED.trigger_kind, trigger_json = EXCLUDED.trigger_json,
			positional_args = EXCLUDED.positional_args, keyword_args = EXCLUDED.keyword_args,
			next_fire_time = EXCLUDED.next_fire_time, updated_at = NOW()`
	} else if s.ConflictPolicy == domain.ConflictUpdate {
		conflictClause = `DO UPDATE SET trigger_kind = EXCLUDED.trigger_kind, trigger_json = EXCLUDED.trigger_json,
			positional_args = EXCLUDED.positional_args, keyword_args = EXCLUDED.keyword_args, updated_at = NOW()`
	}

	query := fmt.Sprintf(`
		INSERT INTO schedules (
			id, user_id, name, function_module, function_symbol, positional_args, keyword_args,
			trigger_kind, trigger_json, queue_name, next_fire_time, misfire_grace_time,
			max_jitter, coalesce, max_running_jobs, paused, result_ttl, max_retries, backoff,
			created_at, updated_at
		) VALUES (
			COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19,
			NOW(), NOW()
		)
		ON CONFLICT (id) %s
		RETURNING id, created_at, updated_at`, conflictClause)

	row := p.pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.Name, s.FunctionRef.ModulePath, s.FunctionRef.Symbol, s.PositionalArgs, s.KeywordArgs,
		s.Trigger.Kind, triggerJSON, s.QueueName, s.NextFireTime, int64(s.MisfireGraceTime),
		int64(s.MaxJitter), s.Coalesce, s.MaxRunningJobs, s.Paused, int64(s.ResultTTL), s.MaxRetries, s.Backoff,
	)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrScheduleNameConflict
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (p *Postgres) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = $1", id)
	return scanSchedule(row)
}

func (p *Postgres) ListSchedules(ctx context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules WHERE user_id = $1"
	args := []any{input.UserID}
	if input.CursorID != "" {
		args = append(args, input.CursorID)
		query += fmt.Sprintf(" AND id > $%d", len(args))
	}
	args = append(args, input.Limit)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (p *Postgres) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM schedules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (p *Postgres) PauseSchedule(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE schedules SET paused = true, updated_at = NOW() WHERE id = $1 AND paused = false", id)
	if err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleAlreadyPaused
	}
	return nil
}

func (p *Postgres) ResumeSchedule(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE schedules SET paused = false, updated_at = NOW() WHERE id = $1 AND paused = true", id)
	if err != nil {
		return fmt.Errorf("resume schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotPaused
	}
	return nil
}

// ClaimDueSchedules locks due, non-paused schedules with FOR UPDATE SKIP
// LOCKED so multiple scheduler instances can run against the same
// database without double-firing, the same pattern the teacher's
// ScheduleRepository.ClaimAndFire transaction used for webhook schedules.
func (p *Postgres) ClaimDueSchedules(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE paused = false AND next_fire_time <= $1
		ORDER BY next_fire_time ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (p *Postgres) AdvanceSchedule(ctx context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE schedules SET next_fire_time = $2, last_fire_time = $3, updated_at = NOW() WHERE id = $1",
		id, nextFireTime, lastFireTime)
	return err
}
