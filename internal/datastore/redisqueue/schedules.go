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

func (s *Store) PutSchedule(ctx context.Context, sched *domain.Schedule) error {
	if sched.ID != "" {
		if existing, err := s.GetSchedule(ctx, sched.ID); err == nil {
			switch sched.ConflictPolicy {
			case domain.ConflictDoNothing:
				return nil
			case domain.ConflictUpdate, domain.ConflictReplace:
				existing.Trigger = sched.Trigger
				existing.PositionalArgs = sched.PositionalArgs
				existing.KeywordArgs = sched.KeywordArgs
				existing.UpdatedAt = time.Now().UTC()
				return s.putScheduleBody(ctx, existing)
			}
		}
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sched.CreatedAt, sched.UpdatedAt = now, now

	if err := s.putScheduleBody(ctx, sched); err != nil {
		return err
	}
	s.client.SAdd(ctx, s.schedulesSetKey(), sched.ID)
	if !sched.Paused {
		s.client.ZAdd(ctx, s.dueSchedulesKey(), redis.Z{Score: float64(sched.NextFireTime.Unix()), Member: sched.ID})
	}
	return nil
}

func (s *Store) putScheduleBody(ctx context.Context, sched *domain.Schedule) error {
	body, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	return s.client.Set(ctx, s.scheduleKey(sched.ID), body, 0).Err()
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	body, err := s.client.Get(ctx, s.scheduleKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	var sched domain.Schedule
	if err := json.Unmarshal(body, &sched); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &sched, nil
}

func (s *Store) ListSchedules(ctx context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	ids, err := s.client.SMembers(ctx, s.schedulesSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	var out []*domain.Schedule
	for _, id := range ids {
		sc, err := s.GetSchedule(ctx, id)
		if err != nil {
			continue
		}
		if input.UserID != "" && sc.UserID != input.UserID {
			continue
		}
		out = append(out, sc)
	}
	if input.Limit > 0 && len(out) > input.Limit {
		out = out[:input.Limit]
	}
	return out, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.scheduleKey(id))
	pipe.SRem(ctx, s.schedulesSetKey(), id)
	pipe.ZRem(ctx, s.dueSchedulesKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) PauseSchedule(ctx context.Context, id string) error {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sc.Paused {
		return domain.ErrScheduleAlreadyPaused
	}
	sc.Paused = true
	if err := s.putScheduleBody(ctx, sc); err != nil {
		return err
	}
	return s.client.ZRem(ctx, s.dueSchedulesKey(), id).Err()
}

func (s *Store) ResumeSchedule(ctx context.Context, id string) error {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !sc.Paused {
		return domain.ErrScheduleNotPaused
	}
	sc.Paused = false
	if err := s.putScheduleBody(ctx, sc); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.dueSchedulesKey(), redis.Z{Score: float64(sc.NextFireTime.Unix()), Member: id}).Err()
}

func (s *Store) ClaimDueSchedules(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueSchedulesKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", before.Unix()), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	var due []*domain.Schedule
	for _, id := range ids {
		sc, err := s.GetSchedule(ctx, id)
		if err != nil {
			continue
		}
		due = append(due, sc)
	}
	return due, nil
}

func (s *Store) AdvanceSchedule(ctx context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	sc.NextFireTime = nextFireTime
	sc.LastFireTime = &lastFireTime
	sc.UpdatedAt = time.Now().UTC()
	if err := s.putScheduleBody(ctx, sc); err != nil {
		return err
	}
	if sc.Paused {
		return nil
	}
	return s.client.ZAdd(ctx, s.dueSchedulesKey(), redis.Z{Score: float64(nextFireTime.Unix()), Member: id}).Err()
}
