package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	drepo "TickVault/internal/domain/repository"
	xhttp "TickVault/pkg/http"
	"TickVault/pkg/util"
)

// respondError maps domain errors onto the API error codes. Anything not
// recognised as a store or input problem is treated as an upstream provider
// failure when upstream is set.
func respondError(c echo.Context, err error, upstream bool) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return xhttp.AppErrorResponse(c, appErr)
	case errors.Is(err, drepo.ErrUnknownInterval):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("interval", err.Error()))
	case errors.Is(err, drepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("not found"))
	case errors.Is(err, drepo.ErrStoreUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("storage unavailable"))
	case errors.Is(err, drepo.ErrNotSupported):
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_NOT_SUPPORTED", "", err.Error(), http.StatusNotImplemented))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("request timed out"))
	case upstream:
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_BACKFILL", "backfill from provider failed").WithError(err))
	}
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}

// parseRange reads from/to. A bare date as to means the whole day.
func parseRange(fromS, toS string, now time.Time) (from, to time.Time, appErr *xhttp.AppError) {
	from, ok := util.ParseTime(fromS)
	if !ok {
		return from, to, xhttp.BadRequestError("from_date", "invalid date format")
	}
	to, ok = util.ParseTime(toS)
	if !ok {
		return from, to, xhttp.BadRequestError("to_date", "invalid date format")
	}
	if util.IsDateOnly(toS) {
		to = to.Add(24*time.Hour - time.Second)
	}
	if from.After(to) {
		return from, to, xhttp.BadRequestError("from_date", "from_date must be before to_date")
	}
	if from.After(now) {
		return from, to, xhttp.BadRequestError("from_date", "from_date is in the future")
	}
	return from, to, nil
}
