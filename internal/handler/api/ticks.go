package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	xhttp "TickVault/pkg/http"
	xlogger "TickVault/pkg/logger"
)

type TicksHandler struct {
	logger *xlogger.Logger
	store  drepo.TickStore
}

func NewTicksHandler(logger *xlogger.Logger, store drepo.TickStore) *TicksHandler {
	return &TicksHandler{logger: logger, store: store}
}

func (h *TicksHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/historical/ticks", h.Ticks)
}

func (h *TicksHandler) Ticks(c echo.Context) error {
	req := &models.TicksRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, appErr := parseRange(req.FromDate, req.ToDate, time.Now())
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	ticks, err := h.store.QueryTicks(c.Request().Context(), req.InstrumentToken, from, to, req.Limit)
	if err != nil {
		h.logger.Error("query ticks failed", xlogger.Int64("instrument_token", req.InstrumentToken), xlogger.Error(err))
		return respondError(c, err, false)
	}
	return xhttp.ListResponse(c, ticks, int64(len(ticks)))
}
