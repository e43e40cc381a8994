package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrDuplicateJob      = errors.New("job with this id or idempotency key already exists")
	ErrJobNotCancellable = errors.New("job cannot be cancelled in its current state")
	ErrJobTimedOut       = errors.New("job timed out waiting for a result")
	ErrLeaseExpired      = errors.New("worker lease on job expired")
	ErrFunctionNotFound  = errors.New("function reference is not registered")
	ErrInvalidStatus     = errors.New("invalid status value")
)

// Status is a job's position in the state machine from spec.md §4.5:
//
//	queued   -> deferred (scheduled in the future) | started (worker acquired)
//	deferred -> queued   (fire time reached)
//	started  -> finished | failed | deferred (retry at a later fire time, if retries remain)
//	{queued, deferred} -> canceled
type Status string

const (
	StatusQueued   Status = "queued"
	StatusDeferred Status = "deferred"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Backoff selects the delay curve applied between retry attempts.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

// FunctionRef identifies a callable by the (module_path, symbol_name) pair
// spec.md §3/§9 uses for dynamic dispatch. The worker resolves it through
// functionregistry.Registry rather than importing the callable directly.
type FunctionRef struct {
	ModulePath string `json:"modulePath"`
	Symbol     string `json:"symbol"`
}

func (f FunctionRef) String() string {
	return f.ModulePath + ":" + f.Symbol
}

// RetryPolicy bounds how many attempts a failed job gets and how long to
// wait between them.
type RetryPolicy struct {
	Max     int           `json:"max"`
	Delay   time.Duration `json:"delay"`
	Backoff Backoff       `json:"backoff"`
}

// RepeatPolicy records a repeat count for a schedule-produced job. The
// stores persist Max; no worker or scheduler reads it, so it does not
// cause any re-run.
type RepeatPolicy struct {
	Max int `json:"max"`
}

// Job is the persisted unit of work described in spec.md §3.
type Job struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userID"`
	IdempotencyKey string          `json:"idempotencyKey"`
	FunctionRef    FunctionRef     `json:"functionRef"`
	PositionalArgs json.RawMessage `json:"positionalArgs,omitempty"`
	KeywordArgs    json.RawMessage `json:"keywordArgs,omitempty"`

	Status            Status     `json:"status"`
	EnqueueTimestamp  time.Time  `json:"enqueueTimestamp"`
	ScheduledFireTime *time.Time `json:"scheduledFireTime,omitempty"`

	ResultValue json.RawMessage `json:"resultValue,omitempty"`
	ResultTTL   time.Duration   `json:"resultTTL"`
	JobTTL      time.Duration   `json:"jobTTL"`

	RetryCount int          `json:"retryCount"`
	Retry      RetryPolicy  `json:"retry"`
	Repeat     RepeatPolicy `json:"repeat"`

	QueueName      string  `json:"queueName"`
	OriginWorkerID *string `json:"originWorkerID,omitempty"`
	FailureReason  *string `json:"failureReason,omitempty"`
	ScheduleID     *string `json:"scheduleID,omitempty"`

	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobAttempt records one worker execution of a Job, independent of the
// job's own RetryCount — this is execution history, not state.
type JobAttempt struct {
	ID          string
	JobID       string
	AttemptNum  int
	WorkerID    string
	StartedAt   time.Time
	CompletedAt *time.Time
	StatusCode  *int
	Error       *string
	DurationMS  *int64
}

// ResultSelector picks attempts out of a schedule's job history per
// spec.md §4.5 schedule_results — an index, a slice, a list of indices, or
// one of "all"|"latest"|"earliest".
type ResultSelector struct {
	Index   *int
	Start   *int
	End     *int
	Indices []int
	Token   string // "all" | "latest" | "earliest" | ""
}
