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

type ScheduleHandler struct {
	scheduleUsecase *usecase.ScheduleUsecase
	logger          *slog.Logger
}

func NewScheduleHandler(scheduleUsecase *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduleUsecase: scheduleUsecase, logger: logger.With("component", "schedule_handler")}
}

type createScheduleRequest struct {
	Name              string             `json:"name"`
	FunctionRef       domain.FunctionRef `json:"function_ref" binding:"required"`
	PositionalArgs    json.RawMessage    `json:"positional_args"`
	KeywordArgs       json.RawMessage    `json:"keyword_args"`
	QueueName         string             `json:"queue_name"`
	Trigger           domain.Trigger     `json:"trigger" binding:"required"`
	Coalesce          domain.CoalescePolicy `json:"coalesce" binding:"omitempty,oneof=latest earliest all"`
	MaxRetries        int                `json:"max_retries" binding:"omitempty,min=0,max=20"`
	Backoff           domain.Backoff     `json:"backoff" binding:"omitempty,oneof=exponential linear"`
	ResultTTLSeconds  int                `json:"result_ttl_seconds" binding:"omitempty,min=0"`
	ConflictPolicy    domain.ConflictPolicy `json:"conflict_policy" binding:"omitempty,oneof=do-nothing replace update"`
}

type scheduleResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	FunctionRef  domain.FunctionRef `json:"function_ref"`
	Trigger      domain.Trigger     `json:"trigger"`
	QueueName    string             `json:"queue_name"`
	NextFireTime time.Time          `json:"next_fire_time"`
	LastFireTime *time.Time         `json:"last_fire_time,omitempty"`
	Coalesce     domain.CoalescePolicy `json:"coalesce"`
	Paused       bool               `json:"paused"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:           s.ID,
		Name:         s.Name,
		FunctionRef:  s.FunctionRef,
		Trigger:      s.Trigger,
		QueueName:    s.QueueName,
		NextFireTime: s.NextFireTime,
		LastFireTime: s.LastFireTime,
		Coalesce:     s.Coalesce,
		Paused:       s.Paused,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

type listSchedulesResponse struct {
	Schedules  []scheduleResponse `json:"schedules"`
	NextCursor *string            `json:"next_cursor"`
}

func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched, err := h.scheduleUsecase.CreateSchedule(ctx.Request.Context(), usecase.CreateScheduleInput{
		UserID:         ctx.GetString("userID"),
		Name:           req.Name,
		FunctionRef:    req.FunctionRef,
		PositionalArgs: req.PositionalArgs,
		KeywordArgs:    req.KeywordArgs,
		QueueName:      req.QueueName,
		Trigger:        req.Trigger,
		Coalesce:       req.Coalesce,
		MaxRetries:     req.MaxRetries,
		Backoff:        req.Backoff,
		ResultTTL:      time.Duration(req.ResultTTLSeconds) * time.Second,
		ConflictPolicy: req.ConflictPolicy,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTrigger), errors.Is(err, domain.ErrInvalidTriggerField):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTrigger})
		case errors.Is(err, domain.ErrScheduleNameConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "create schedule", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toScheduleResponse(sched))
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.scheduleUsecase.ListSchedules(ctx.Request.Context(), usecase.ListSchedulesInput{
		UserID: ctx.GetString("userID"),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTrigger) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list schedules", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]scheduleResponse, len(result.Schedules))
	for i, s := range result.Schedules {
		items[i] = toScheduleResponse(s)
	}
	ctx.JSON(http.StatusOK, listSchedulesResponse{Schedules: items, NextCursor: result.NextCursor})
}

func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	sched, err := h.scheduleUsecase.GetSchedule(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get schedule", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *ScheduleHandler) Pause(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.scheduleUsecase.PauseSchedule(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrScheduleNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
		case errors.Is(err, domain.ErrScheduleAlreadyPaused):
			ctx.JSON(http.StatusConflict, gin.H{"error": errScheduleAlreadyPaused})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "pause schedule", "schedule_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) Resume(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.scheduleUsecase.ResumeSchedule(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrScheduleNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
		case errors.Is(err, domain.ErrScheduleNotPaused):
			ctx.JSON(http.StatusConflict, gin.H{"error": errScheduleNotPaused})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "resume schedule", "schedule_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.scheduleUsecase.DeleteSchedule(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "delete schedule", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) ListJobs(ctx *gin.Context) {
	id := ctx.Param("id")

	selector := domain.ResultSelector{Token: ctx.DefaultQuery("select", "all")}
	if idx := ctx.Query("index"); idx != "" {
		if n, err := strconv.Atoi(idx); err == nil {
			selector.Index = &n
			selector.Token = ""
		}
	}

	jobs, err := h.scheduleUsecase.ListScheduleJobs(ctx.Request.Context(), usecase.ListScheduleJobsInput{
		ScheduleID: id,
		UserID:     ctx.GetString("userID"),
		Selector:   selector,
	})
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list schedule jobs", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]getJobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toGetJobResponse(j)
	}
	ctx.JSON(http.StatusOK, items)
}
