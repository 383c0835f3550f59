package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/relayerr"
)

// ErrorBody is the error envelope every failed request returns: the error
// kind name, a human message, and kind-specific structured details
// (retry_after_s, {resource, current, max}, ...).
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// mapServiceError maps the typed error taxonomy to HTTP error responses.
// KindQueued is deliberately absent: it is a success shape, handled by the
// assign handler directly.
func mapServiceError(err error) *echo.HTTPError {
	var re *relayerr.Error
	if !errors.As(err, &re) {
		slog.Error("unexpected service error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError,
			ErrorBody{Kind: "InternalError", Message: "internal server error"})
	}

	body := ErrorBody{Kind: re.Kind.String(), Message: re.Message, Details: re.Details}
	switch re.Kind {
	case relayerr.KindInputInvalid:
		return echo.NewHTTPError(http.StatusBadRequest, body)
	case relayerr.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, body)
	case relayerr.KindConflict:
		return echo.NewHTTPError(http.StatusConflict, body)
	case relayerr.KindQuotaExceeded:
		return echo.NewHTTPError(http.StatusForbidden, body)
	case relayerr.KindThrottled:
		return echo.NewHTTPError(http.StatusTooManyRequests, body)
	case relayerr.KindWorkerUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, body)
	case relayerr.KindPlatformTransient, relayerr.KindStoreBusy:
		return echo.NewHTTPError(http.StatusServiceUnavailable, body)
	case relayerr.KindPlatformPermanent:
		return echo.NewHTTPError(http.StatusBadGateway, body)
	default:
		slog.Error("internal service error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError,
			ErrorBody{Kind: "InternalError", Message: "internal server error"})
	}
}
