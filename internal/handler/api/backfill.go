package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/usecase"
	xhttp "TickVault/pkg/http"
	xlogger "TickVault/pkg/logger"
)

type BackfillTrigger interface {
	Trigger(ctx context.Context, req usecase.BackfillRequest) (*usecase.TriggerResult, error)
}

type StatusLister interface {
	ListStatuses(ctx context.Context, limit int) ([]models.BackfillStatus, error)
}

type BackfillHandler struct {
	logger  *xlogger.Logger
	trigger BackfillTrigger
	status  drepo.BackfillStatusStore
	list    StatusLister
	now     func() time.Time
}

func NewBackfillHandler(logger *xlogger.Logger, trigger BackfillTrigger, status drepo.BackfillStatusStore, list StatusLister) *BackfillHandler {
	return &BackfillHandler{logger: logger, trigger: trigger, status: status, list: list, now: time.Now}
}

func (h *BackfillHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/backfill")
	g.POST("/trigger", h.Trigger)
	g.GET("/trigger", h.Trigger)
	g.GET("/status", h.Status)
}

// Trigger starts an asynchronous backfill. Without from/to it covers the
// trailing `days`.
func (h *BackfillHandler) Trigger(c echo.Context) error {
	req := &models.BackfillTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	iv, err := drepo.ParseInterval(req.Interval)
	if err != nil {
		return respondError(c, err, false)
	}

	now := h.now().UTC()
	from, to := now.Add(-time.Duration(req.Days)*24*time.Hour), now
	if req.FromDate != "" || req.ToDate != "" {
		if req.ToDate == "" {
			req.ToDate = now.Format(time.RFC3339)
		}
		var appErr *xhttp.AppError
		if from, to, appErr = parseRange(req.FromDate, req.ToDate, now); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
	}

	res, err := h.trigger.Trigger(c.Request().Context(), usecase.BackfillRequest{
		InstrumentToken: req.InstrumentToken,
		From:            from,
		To:              to,
		Interval:        iv,
	})
	if err != nil {
		h.logger.Error("trigger backfill failed", xlogger.Int64("instrument_token", req.InstrumentToken), xlogger.Error(err))
		return respondError(c, err, false)
	}
	return xhttp.AcceptedResponse(c, res)
}

// Status returns one instrument's status, or the most recent ones when no
// token is given.
func (h *BackfillHandler) Status(c echo.Context) error {
	req := &models.BackfillStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	if req.InstrumentToken == 0 {
		list, err := h.list.ListStatuses(ctx, 100)
		if err != nil {
			return respondError(c, err, false)
		}
		return xhttp.ListResponse(c, list, int64(len(list)))
	}
	st, err := h.status.GetStatus(ctx, req.InstrumentToken)
	if err != nil {
		return respondError(c, err, false)
	}
	if st == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("instrument %d was never backfilled", req.InstrumentToken))
	}
	return xhttp.SuccessResponse(c, st)
}
