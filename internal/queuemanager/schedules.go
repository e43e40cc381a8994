package queuemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/eventbroker"
	"github.com/legout/flowerpower/internal/trigger"
)

// AddSchedule validates the trigger, computes the first fire time, and
// persists the schedule, applying sched.ConflictPolicy if a schedule with
// the same ID already exists (spec.md §4.4 put_schedule).
func (m *Manager) AddSchedule(ctx context.Context, sched *domain.Schedule) (*domain.Schedule, error) {
	computer, err := trigger.New(sched.Trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	if sched.ID == "" {
		id, err := m.nextScheduleID(ctx, sched)
		if err != nil {
			return nil, err
		}
		sched.ID = id
	}
	if sched.NextFireTime.IsZero() {
		next, ok := computer.Next(time.Now().UTC())
		if !ok {
			return nil, fmt.Errorf("%w: trigger never fires", domain.ErrInvalidTrigger)
		}
		sched.NextFireTime = next
	}

	if err := m.withRetry(ctx, func() error { return m.store.PutSchedule(ctx, sched) }); err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}

	m.publish(ctx, eventbroker.EventScheduleAdded, sched.ID, sched)
	return sched, nil
}

// nextScheduleID implements the original source's schedule_id
// auto-numbering: an unnamed schedule for a function already scheduled
// under sched.Name gets the lowest free numbered successor ("name-1",
// "name-2", ...); with ConflictReplace the first successor "name-1" is
// reused instead of growing forever.
func (m *Manager) nextScheduleID(ctx context.Context, sched *domain.Schedule) (string, error) {
	if sched.Name == "" {
		return uuid.NewString(), nil
	}
	existing, err := m.store.ListSchedules(ctx, datastore.ListSchedulesInput{UserID: sched.UserID})
	if err != nil {
		return "", fmt.Errorf("list schedules for auto-numbering: %w", err)
	}
	taken := make(map[string]bool)
	for _, sc := range existing {
		if sc.Name == sched.Name {
			taken[sc.ID] = true
		}
	}
	if !taken[sched.Name] {
		return sched.Name, nil
	}
	if sched.ConflictPolicy == domain.ConflictReplace {
		return sched.Name + "-1", nil
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d", sched.Name, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func (m *Manager) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	return m.store.GetSchedule(ctx, id)
}

func (m *Manager) GetSchedules(ctx context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	return m.store.ListSchedules(ctx, input)
}

func (m *Manager) PauseSchedule(ctx context.Context, id string) error {
	return m.store.PauseSchedule(ctx, id)
}

func (m *Manager) ResumeSchedule(ctx context.Context, id string) error {
	return m.store.ResumeSchedule(ctx, id)
}

// PauseAll pauses every one of userID's schedules, tolerating individual
// already-paused failures.
func (m *Manager) PauseAll(ctx context.Context, userID string) (int, error) {
	scheds, err := m.store.ListSchedules(ctx, datastore.ListSchedulesInput{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	n := 0
	for _, sc := range scheds {
		if err := m.store.PauseSchedule(ctx, sc.ID); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *Manager) ResumeAll(ctx context.Context, userID string) (int, error) {
	scheds, err := m.store.ListSchedules(ctx, datastore.ListSchedulesInput{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	n := 0
	for _, sc := range scheds {
		if err := m.store.ResumeSchedule(ctx, sc.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// CancelSchedule removes a schedule's future occurrences without deleting
// its historical record or the jobs it already produced.
func (m *Manager) CancelSchedule(ctx context.Context, id string) error {
	if err := m.store.PauseSchedule(ctx, id); err != nil && err != domain.ErrScheduleAlreadyPaused {
		return fmt.Errorf("cancel schedule %s: %w", id, err)
	}
	m.publish(ctx, eventbroker.EventScheduleRemoved, id, nil)
	return nil
}

func (m *Manager) CancelAllSchedules(ctx context.Context, userID string) (int, error) {
	scheds, err := m.store.ListSchedules(ctx, datastore.ListSchedulesInput{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	n := 0
	for _, sc := range scheds {
		if err := m.CancelSchedule(ctx, sc.ID); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *Manager) DeleteSchedule(ctx context.Context, id string) error {
	if err := m.store.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	m.publish(ctx, eventbroker.EventScheduleRemoved, id, nil)
	return nil
}

func (m *Manager) DeleteAllSchedules(ctx context.Context, userID string) (int, error) {
	scheds, err := m.store.ListSchedules(ctx, datastore.ListSchedulesInput{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	n := 0
	for _, sc := range scheds {
		if err := m.DeleteSchedule(ctx, sc.ID); err == nil {
			n++
		}
	}
	return n, nil
}
