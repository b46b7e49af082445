package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"TickVault/internal/domain/models"
	xhttp "TickVault/pkg/http"
	xlogger "TickVault/pkg/logger"
)

type InstrumentService interface {
	List(ctx context.Context, limit, offset int) ([]models.Instrument, error)
	Search(ctx context.Context, q string, limit int) ([]models.Instrument, error)
	Get(ctx context.Context, token int64) (*models.Instrument, error)
	Sync(ctx context.Context) (int, error)
	Subscribe(ctx context.Context, tokens []int64) error
	Unsubscribe(ctx context.Context, tokens []int64) error
	Subscriptions(ctx context.Context) ([]int64, error)
}

type InstrumentsHandler struct {
	logger *xlogger.Logger
	svc    InstrumentService
}

func NewInstrumentsHandler(logger *xlogger.Logger, svc InstrumentService) *InstrumentsHandler {
	return &InstrumentsHandler{logger: logger, svc: svc}
}

func (h *InstrumentsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/instruments")
	g.GET("", h.List)
	g.GET("/search", h.Search)
	g.GET("/subscriptions/list", h.Subscriptions)
	g.GET("/:token", h.Get)
	g.POST("/sync", h.Sync)
	g.POST("/subscribe", h.Subscribe)
	g.POST("/unsubscribe", h.Unsubscribe)
}

func (h *InstrumentsHandler) List(c echo.Context) error {
	req := &models.InstrumentListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	list, err := h.svc.List(c.Request().Context(), req.Limit, req.Offset)
	if err != nil {
		return respondError(c, err, false)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *InstrumentsHandler) Search(c echo.Context) error {
	req := &models.InstrumentSearchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	list, err := h.svc.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		return respondError(c, err, false)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *InstrumentsHandler) Get(c echo.Context) error {
	req := &models.InstrumentTokenRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	inst, err := h.svc.Get(c.Request().Context(), req.Token)
	if err != nil {
		return respondError(c, err, false)
	}
	return xhttp.SuccessResponse(c, inst)
}

// Sync pulls the broker's instrument dump. It can take tens of seconds.
func (h *InstrumentsHandler) Sync(c echo.Context) error {
	n, err := h.svc.Sync(c.Request().Context())
	if err != nil {
		h.logger.Error("instrument sync failed", xlogger.Error(err))
		return respondError(c, err, true)
	}
	return xhttp.SuccessResponse(c, map[string]int{"synced": n})
}

func (h *InstrumentsHandler) Subscribe(c echo.Context) error {
	req := &models.SubscriptionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.Subscribe(c.Request().Context(), req.InstrumentTokens); err != nil {
		return respondError(c, err, false)
	}
	return xhttp.SuccessResponse(c, map[string]int{"subscribed": len(req.InstrumentTokens)})
}

func (h *InstrumentsHandler) Unsubscribe(c echo.Context) error {
	req := &models.SubscriptionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.Unsubscribe(c.Request().Context(), req.InstrumentTokens); err != nil {
		return respondError(c, err, false)
	}
	return xhttp.SuccessResponse(c, map[string]int{"unsubscribed": len(req.InstrumentTokens)})
}

func (h *InstrumentsHandler) Subscriptions(c echo.Context) error {
	tokens, err := h.svc.Subscriptions(c.Request().Context())
	if err != nil {
		return respondError(c, err, false)
	}
	return xhttp.ListResponse(c, tokens, int64(len(tokens)))
}
