package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/gin-gonic/gin"
)

const maxEventBytes = 1 << 20

// EventHandler accepts producer recurrence events over HTTP. The same
// events also arrive on the Redis recurrence channel.
type EventHandler struct {
	port   gateway.ProducerPort
	logger *slog.Logger
}

func NewEventHandler(port gateway.ProducerPort, logger *slog.Logger) *EventHandler {
	return &EventHandler{port: port, logger: logger.With("component", "event_handler")}
}

func (h *EventHandler) Recurrence(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxEventBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := gateway.DecodeEvent(body)
	if err != nil {
		writeError(ctx, h.logger, "decode event", err)
		return
	}

	// Producers act on behalf of the authenticated account only.
	account := ctx.GetString("accountID")
	switch ev.AccountID {
	case "":
		ev.AccountID = account
	case account:
	default:
		ctx.JSON(http.StatusForbidden, gin.H{"error": errAccountMismatch})
		return
	}

	task, err := h.port.HandleRecurrenceEvent(ctx.Request.Context(), ev)
	if err != nil {
		writeError(ctx, h.logger, "handle recurrence event", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"task": toTaskResponse(task)})
}
