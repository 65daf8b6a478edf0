package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/schedule-engine/internal/transport/http/handler"
	"github.com/ErlanBelekov/schedule-engine/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

type Handlers struct {
	Schedules *handler.ScheduleHandler
	Tasks     *handler.TaskHandler
	Events    *handler.EventHandler
}

func NewRouter(logger *slog.Logger, h Handlers, hmacKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(hmacKey)

	schedules := r.Group("/schedules", authMW)
	schedules.POST("", h.Schedules.Create)
	schedules.GET("", h.Schedules.List)
	schedules.POST("/conflicts", h.Schedules.DetectConflicts)
	schedules.GET("/:id", h.Schedules.GetByID)
	schedules.POST("/:id/resolve", h.Schedules.Resolve)
	schedules.GET("/:id/resolutions", h.Schedules.ListResolutions)

	tasks := r.Group("/tasks", authMW)
	tasks.GET("", h.Tasks.List)
	tasks.GET("/:id", h.Tasks.GetByID)
	tasks.POST("/:id/enable", h.Tasks.Enable)
	tasks.POST("/:id/disable", h.Tasks.Disable)
	tasks.DELETE("/:id", h.Tasks.Cancel)
	tasks.GET("/:id/executions", h.Tasks.ListExecutions)

	events := r.Group("/events", authMW)
	events.POST("/recurrence", h.Events.Recurrence)

	return r
}
