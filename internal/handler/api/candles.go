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

type CandleReader interface {
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
}

// Toucher records that a client asked for an instrument.
type Toucher interface {
	Touch(token int64)
}

type CandlesHandler struct {
	logger  *xlogger.Logger
	reader  CandleReader
	tracker Toucher
	now     func() time.Time
}

func NewCandlesHandler(logger *xlogger.Logger, reader CandleReader, tracker Toucher) *CandlesHandler {
	return &CandlesHandler{logger: logger, reader: reader, tracker: tracker, now: time.Now}
}

func (h *CandlesHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.POST("/candles", h.Candles)
}

// Candles returns a gap-filled candle series. Gaps in the stored range are
// backfilled from the provider before responding.
func (h *CandlesHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	iv, err := drepo.ParseInterval(req.Interval)
	if err != nil {
		return respondError(c, err, false)
	}
	from, to, appErr := parseRange(req.FromDate, req.ToDate, h.now())
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	if h.tracker != nil && req.InstrumentToken > 0 {
		h.tracker.Touch(req.InstrumentToken)
	}

	res, err := h.reader.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		InstrumentToken: req.InstrumentToken,
		From:            from,
		To:              to,
		Interval:        iv,
	})
	if err != nil {
		h.logger.Error("get candles failed",
			xlogger.Int64("instrument_token", req.InstrumentToken),
			xlogger.String("interval", iv.String()),
			xlogger.Error(err))
		return respondError(c, err, true)
	}
	return xhttp.SuccessResponse(c, res)
}
