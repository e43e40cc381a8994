package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound      = errors.New("schedule not found")
	ErrInvalidTrigger        = errors.New("invalid trigger")
	ErrInvalidTriggerField   = errors.New("invalid trigger field")
	ErrScheduleAlreadyPaused = errors.New("schedule is already paused")
	ErrScheduleNotPaused     = errors.New("schedule is not paused")
	ErrScheduleNameConflict  = errors.New("schedule with this name already exists")
)

// CoalescePolicy controls what happens when a schedule accumulates more
// than one missed fire (spec.md §3, §4.6).
type CoalescePolicy string

const (
	CoalesceLatest   CoalescePolicy = "latest"
	CoalesceEarliest CoalescePolicy = "earliest"
	CoalesceAll      CoalescePolicy = "all"
)

// ConflictPolicy controls put_schedule behavior when the id already exists.
type ConflictPolicy string

const (
	ConflictDoNothing ConflictPolicy = "do-nothing"
	ConflictReplace   ConflictPolicy = "replace"
	ConflictUpdate    ConflictPolicy = "update"
)

// Schedule is the persisted recurrence record from spec.md §3.
type Schedule struct {
	ID             string
	UserID         string
	Name           string
	FunctionRef    FunctionRef
	PositionalArgs []byte
	KeywordArgs    []byte
	Trigger        Trigger

	QueueName        string
	NextFireTime     time.Time
	LastFireTime     *time.Time
	MisfireGraceTime time.Duration
	MaxJitter        time.Duration
	Coalesce         CoalescePolicy
	MaxRunningJobs   int
	Paused           bool
	ConflictPolicy   ConflictPolicy
	ResultTTL        time.Duration

	MaxRetries int
	Backoff    Backoff

	CreatedAt time.Time
	UpdatedAt time.Time
}
