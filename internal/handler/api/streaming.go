package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TickVault/internal/domain/models"
	"TickVault/internal/usecase"
	xhttp "TickVault/pkg/http"
	xlogger "TickVault/pkg/logger"
)

type StreamController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() models.StreamStatus
}

type StreamingHandler struct {
	logger *xlogger.Logger
	ctl    StreamController
}

func NewStreamingHandler(logger *xlogger.Logger, ctl StreamController) *StreamingHandler {
	return &StreamingHandler{logger: logger, ctl: ctl}
}

func (h *StreamingHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/streaming")
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.GET("/status", h.Status)
}

func (h *StreamingHandler) Start(c echo.Context) error {
	err := h.ctl.Start(c.Request().Context())
	if errors.Is(err, usecase.ErrAlreadyStreaming) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_ALREADY_RUNNING", "", err.Error(), http.StatusConflict))
	}
	if err != nil {
		return respondError(c, err, false)
	}
	return xhttp.SuccessResponse(c, h.ctl.Status())
}

func (h *StreamingHandler) Stop(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	if err := h.ctl.Stop(ctx); err != nil {
		h.logger.Error("stop streaming failed", xlogger.Error(err))
		return respondError(c, err, false)
	}
	return xhttp.SuccessResponse(c, h.ctl.Status())
}

func (h *StreamingHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.ctl.Status())
}
