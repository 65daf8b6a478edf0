package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ErlanBelekov/schedule-engine/internal/conflict"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/usecase"
	"github.com/gin-gonic/gin"
)

type ScheduleHandler struct {
	uc     *usecase.ScheduleUsecase
	logger *slog.Logger
}

func NewScheduleHandler(uc *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{uc: uc, logger: logger.With("component", "schedule_handler")}
}

type createScheduleRequest struct {
	Title               string           `json:"title"       binding:"required,max=256"`
	Description         *string          `json:"description" binding:"omitempty,max=4096"`
	StartTime           int64            `json:"start_time"  binding:"required"`
	EndTime             int64            `json:"end_time"    binding:"required"`
	Duration            int              `json:"duration"    binding:"omitempty,min=1"`
	Priority            *domain.Priority `json:"priority"    binding:"omitempty,oneof=low normal high urgent"`
	Location            *string          `json:"location"    binding:"omitempty,max=512"`
	Attendees           []string         `json:"attendees"   binding:"omitempty,max=200,dive,max=256"`
	AutoDetectConflicts bool             `json:"auto_detect_conflicts"`
}

func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.uc.CreateSchedule(ctx.Request.Context(), usecase.CreateScheduleInput{
		AccountID:           ctx.GetString("accountID"),
		Title:               req.Title,
		Description:         req.Description,
		StartTime:           fromMS(req.StartTime),
		EndTime:             fromMS(req.EndTime),
		Duration:            req.Duration,
		Priority:            req.Priority,
		Location:            req.Location,
		Attendees:           req.Attendees,
		AutoDetectConflicts: req.AutoDetectConflicts,
	})
	if err != nil {
		writeError(ctx, h.logger, "create schedule", err)
		return
	}

	body := gin.H{"schedule": toScheduleResponse(res.Schedule)}
	if res.Conflicts != nil {
		body["conflicts"] = toDetectionResponse(*res.Conflicts)
	}
	ctx.JSON(http.StatusCreated, body)
}

type detectConflictsRequest struct {
	StartTime         int64  `json:"start_time" binding:"required"`
	EndTime           int64  `json:"end_time"   binding:"required"`
	ExcludeScheduleID string `json:"exclude_schedule_id"`
}

func (h *ScheduleHandler) DetectConflicts(ctx *gin.Context) {
	var req detectConflictsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.uc.DetectConflicts(ctx.Request.Context(), usecase.DetectConflictsInput{
		AccountID:         ctx.GetString("accountID"),
		StartTime:         fromMS(req.StartTime),
		EndTime:           fromMS(req.EndTime),
		ExcludeScheduleID: req.ExcludeScheduleID,
	})
	if err != nil {
		writeError(ctx, h.logger, "detect conflicts", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"result": toDetectionResponse(result)})
}

type resolveRequest struct {
	Strategy     domain.ResolutionStrategy `json:"strategy"       binding:"required"`
	NewStartTime *int64                    `json:"new_start_time"`
	NewEndTime   *int64                    `json:"new_end_time"`
	NewDuration  *int                      `json:"new_duration"   binding:"omitempty,min=1"`
}

func (h *ScheduleHandler) Resolve(ctx *gin.Context) {
	var req resolveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.uc.ResolveConflict(ctx.Request.Context(), conflict.ResolveRequest{
		ScheduleID:   ctx.Param("id"),
		AccountID:    ctx.GetString("accountID"),
		Strategy:     req.Strategy,
		NewStartTime: fromMSPtr(req.NewStartTime),
		NewEndTime:   fromMSPtr(req.NewEndTime),
		NewDuration:  req.NewDuration,
	})
	if err != nil {
		writeError(ctx, h.logger, "resolve conflict", err)
		return
	}
	ctx.JSON(http.StatusOK, toResolutionResponse(res))
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	activeOnly, _ := strconv.ParseBool(ctx.Query("active"))

	result, err := h.uc.ListSchedules(ctx.Request.Context(), usecase.ListSchedulesInput{
		AccountID:  ctx.GetString("accountID"),
		ActiveOnly: activeOnly,
		Cursor:     ctx.Query("cursor"),
		Limit:      limit,
	})
	if err != nil {
		writeError(ctx, h.logger, "list schedules", err)
		return
	}

	items := make([]scheduleResponse, len(result.Schedules))
	for i, s := range result.Schedules {
		items[i] = toScheduleResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"schedules":   items,
		"next_cursor": result.NextCursor,
	})
}

func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	e, err := h.uc.GetSchedule(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "get schedule", err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(e))
}

func (h *ScheduleHandler) ListResolutions(ctx *gin.Context) {
	audits, err := h.uc.ListResolutions(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "list resolutions", err)
		return
	}

	items := make([]auditResponse, len(audits))
	for i, a := range audits {
		items[i] = toAuditResponse(*a)
	}
	ctx.JSON(http.StatusOK, gin.H{"resolutions": items})
}
