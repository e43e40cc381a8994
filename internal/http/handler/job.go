package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legout/flowerpower/internal/domain"
	"github.com/legout/flowerpower/internal/usecase"
)

type JobHandler struct {
	jobUsecase *usecase.JobUsecase
	logger     *slog.Logger
}

func NewJobHandler(jobUsecase *usecase.JobUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobUsecase: jobUsecase, logger: logger.With("component", "job_handler")}
}

type createJobRequest struct {
	IdempotencyKey    string             `json:"idempotency_key" binding:"required,max=256"`
	FunctionRef       domain.FunctionRef `json:"function_ref"    binding:"required"`
	PositionalArgs    json.RawMessage    `json:"positional_args"`
	KeywordArgs       json.RawMessage    `json:"keyword_args"`
	QueueName         string             `json:"queue_name"`
	ScheduledFireTime *time.Time         `json:"scheduled_fire_time"`
	ResultTTLSeconds  int                `json:"result_ttl_seconds" binding:"omitempty,min=0"`
	JobTTLSeconds     int                `json:"job_ttl_seconds"    binding:"omitempty,min=0"`
	MaxRetries        int                `json:"max_retries"     binding:"omitempty,min=0,max=20"`
	Backoff           domain.Backoff     `json:"backoff"         binding:"omitempty,oneof=exponential linear"`
}

type createJobResponse struct {
	ID        string    `json:"id"`
	Status    domain.Status `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type getJobResponse struct {
	ID                string          `json:"id"`
	Status            domain.Status   `json:"status"`
	FunctionRef       domain.FunctionRef `json:"function_ref"`
	ScheduledFireTime *time.Time      `json:"scheduled_fire_time,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	ScheduleID        *string         `json:"schedule_id,omitempty"`
	ResultValue       json.RawMessage `json:"result_value,omitempty"`
}

func toGetJobResponse(j *domain.Job) getJobResponse {
	return getJobResponse{
		ID:                j.ID,
		Status:            j.Status,
		FunctionRef:       j.FunctionRef,
		ScheduledFireTime: j.ScheduledFireTime,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		CompletedAt:       j.CompletedAt,
		FailureReason:     j.FailureReason,
		ScheduleID:        j.ScheduleID,
		ResultValue:       j.ResultValue,
	}
}

type listJobItem struct {
	ID          string        `json:"id"`
	Status      domain.Status `json:"status"`
	FunctionRef domain.FunctionRef `json:"function_ref"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	FailureReason *string     `json:"failure_reason,omitempty"`
	ScheduleID  *string       `json:"schedule_id,omitempty"`
}

type listJobsResponse struct {
	Jobs       []listJobItem `json:"jobs"`
	NextCursor *string       `json:"next_cursor"`
}

type attemptResponse struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	AttemptNum  int        `json:"attempt_num"`
	WorkerID    string     `json:"worker_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	StatusCode  *int       `json:"status_code"`
	Error       *string    `json:"error"`
	DurationMS  *int64     `json:"duration_ms"`
}

func (h *JobHandler) Cancel(ctx *gin.Context) {
	jobID := ctx.Param("id")

	err := h.jobUsecase.CancelJob(ctx.Request.Context(), jobID, ctx.GetString("userID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrJobNotCancellable):
			ctx.JSON(http.StatusConflict, gin.H{"error": errJobNotCancellable})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "cancel job", "job_id", jobID, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *JobHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.jobUsecase.ListJobs(ctx.Request.Context(), usecase.ListJobsInput{
		UserID: ctx.GetString("userID"),
		Status: ctx.Query("status"),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatus) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidStatus})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]listJobItem, len(result.Jobs))
	for i, j := range result.Jobs {
		items[i] = listJobItem{
			ID:            j.ID,
			Status:        j.Status,
			FunctionRef:   j.FunctionRef,
			CreatedAt:     j.CreatedAt,
			CompletedAt:   j.CompletedAt,
			FailureReason: j.FailureReason,
			ScheduleID:    j.ScheduleID,
		}
	}
	ctx.JSON(http.StatusOK, listJobsResponse{
		Jobs:       items,
		NextCursor: result.NextCursor,
	})
}

func (h *JobHandler) Create(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobUsecase.CreateJob(ctx.Request.Context(), usecase.CreateJobInput{
		UserID:            ctx.GetString("userID"),
		IdempotencyKey:    req.IdempotencyKey,
		FunctionRef:       req.FunctionRef,
		PositionalArgs:    req.PositionalArgs,
		KeywordArgs:       req.KeywordArgs,
		QueueName:         req.QueueName,
		ScheduledFireTime: req.ScheduledFireTime,
		ResultTTL:         time.Duration(req.ResultTTLSeconds) * time.Second,
		JobTTL:            time.Duration(req.JobTTLSeconds) * time.Second,
		MaxRetries:        req.MaxRetries,
		Backoff:           req.Backoff,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errDuplicateJob})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "create job", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, createJobResponse{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.EnqueueTimestamp,
	})
}

func (h *JobHandler) ListAttempts(ctx *gin.Context) {
	jobID := ctx.Param("id")

	attempts, err := h.jobUsecase.ListAttempts(ctx.Request.Context(), jobID, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list attempts", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := make([]attemptResponse, len(attempts))
	for i, a := range attempts {
		resp[i] = attemptResponse{
			ID:          a.ID,
			JobID:       a.JobID,
			AttemptNum:  a.AttemptNum,
			WorkerID:    a.WorkerID,
			StartedAt:   a.StartedAt,
			CompletedAt: a.CompletedAt,
			StatusCode:  a.StatusCode,
			Error:       a.Error,
			DurationMS:  a.DurationMS,
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

// GetResult implements get_job_result(id, wait?, delete_after?) from
// spec.md §4.5: ?wait=true blocks (bounded by the job's own job_ttl)
// until the job reaches a terminal state; ?delete_after=true purges the
// job once its result has been read. A still-in-flight job with wait
// unset or false reports 202 Accepted with no body, distinguishing "not
// finished yet" from "doesn't exist" (404).
func (h *JobHandler) GetResult(ctx *gin.Context) {
	jobID := ctx.Param("id")
	wait := ctx.Query("wait") == "true"
	deleteAfter := ctx.Query("delete_after") == "true"

	job, err := h.jobUsecase.GetResult(ctx.Request.Context(), jobID, ctx.GetString("userID"), wait, deleteAfter)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrJobTimedOut):
			ctx.JSON(http.StatusGatewayTimeout, gin.H{"error": errJobTimedOut})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "get job result", "job_id", jobID, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}
	if job == nil {
		ctx.Status(http.StatusAccepted)
		return
	}

	ctx.JSON(http.StatusOK, toGetJobResponse(job))
}

func (h *JobHandler) GetByID(ctx *gin.Context) {
	jobID := ctx.Param("id")

	job, err := h.jobUsecase.GetByID(ctx.Request.Context(), jobID, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get job by id", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toGetJobResponse(job))
}
