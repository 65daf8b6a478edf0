package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer    = "Internal server error"
	errScheduleNotFound  = "Schedule not found"
	errTaskNotFound      = "Task not found"
	errInvalidRecurrence = "Invalid recurrence"
	errInvalidTransition = "Task cannot change to the requested status"
	errVersionConflict   = "Resource was modified concurrently, re-fetch and retry"
	errAccountMismatch   = "Event account does not match the caller"
)

var validationErrors = []error{
	domain.ErrInvalidTimeRange,
	domain.ErrDurationMismatch,
	domain.ErrInvalidStrategy,
	domain.ErrInvalidEvent,
	domain.ErrInvalidCursor,
	domain.ErrInvalidStatus,
}

// writeError maps an engine error to a status code by its kind. Internal
// failures are logged and hidden.
func writeError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		msg := errTaskNotFound
		if errors.Is(err, domain.ErrScheduleNotFound) {
			msg = errScheduleNotFound
		}
		ctx.JSON(http.StatusNotFound, gin.H{"error": msg})
	case domain.KindTranslation:
		detail := err.Error()
		var tErr *domain.TranslationError
		if errors.As(err, &tErr) {
			detail = tErr.Error()
		}
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRecurrence, "detail": detail})
	case domain.KindValidation:
		for _, sentinel := range validationErrors {
			if errors.Is(err, sentinel) {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": sentinel.Error(), "detail": err.Error()})
				return
			}
		}
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domain.KindConcurrency:
		ctx.JSON(http.StatusConflict, gin.H{"error": errVersionConflict})
	case domain.KindTransition:
		ctx.JSON(http.StatusConflict, gin.H{"error": errInvalidTransition})
	default:
		logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
