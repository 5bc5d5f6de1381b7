package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/session"
	"github.com/signalsfoundry/route-playback/kb"
)

// ErrBadRequest marks client input that failed binding or validation.
var ErrBadRequest = errors.New("bad request")

// toHTTPStatus maps domain errors onto HTTP status codes.
func toHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, kb.ErrRouteNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrUnknownVariant),
		errors.Is(err, core.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPauseUnsupported),
		errors.Is(err, kb.ErrRouteExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrControllerClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError aborts the request with the mapped status. Server errors are
// logged; client errors are not.
func writeError(c *gin.Context, err error) {
	code := toHTTPStatus(err)
	ctx := c.Request.Context()
	if code >= http.StatusInternalServerError {
		logging.FromContext(ctx, nil).Error(ctx, "request failed", logging.Err(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, errorBody{
		Error:     err.Error(),
		RequestID: logging.RequestIDFromContext(ctx),
	})
}
