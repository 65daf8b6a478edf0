package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/usecase"
	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	uc     *usecase.TaskUsecase
	logger *slog.Logger
}

func NewTaskHandler(uc *usecase.TaskUsecase, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{uc: uc, logger: logger.With("component", "task_handler")}
}

func (h *TaskHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.uc.ListTasks(ctx.Request.Context(), usecase.ListTasksInput{
		AccountID:    ctx.GetString("accountID"),
		Status:       domain.Status(ctx.Query("status")),
		SourceModule: ctx.Query("source_module"),
		Cursor:       ctx.Query("cursor"),
		Limit:        limit,
	})
	if err != nil {
		writeError(ctx, h.logger, "list tasks", err)
		return
	}

	items := make([]taskResponse, len(result.Tasks))
	for i, t := range result.Tasks {
		items[i] = toTaskResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"tasks":       items,
		"next_cursor": result.NextCursor,
	})
}

func (h *TaskHandler) GetByID(ctx *gin.Context) {
	t, err := h.uc.GetTask(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "get task", err)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Enable(ctx *gin.Context) {
	t, err := h.uc.EnableTask(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "enable task", err)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Disable(ctx *gin.Context) {
	t, err := h.uc.DisableTask(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "disable task", err)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Cancel(ctx *gin.Context) {
	t, err := h.uc.CancelTask(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"))
	if err != nil {
		writeError(ctx, h.logger, "cancel task", err)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) ListExecutions(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	recs, err := h.uc.ListExecutions(ctx.Request.Context(), ctx.Param("id"), ctx.GetString("accountID"), limit)
	if err != nil {
		writeError(ctx, h.logger, "list executions", err)
		return
	}

	items := make([]executionResponse, len(recs))
	for i, r := range recs {
		items[i] = toExecutionResponse(*r)
	}
	ctx.JSON(http.StatusOK, gin.H{"executions": items})
}
