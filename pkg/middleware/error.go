package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/fieldhaven/atlas/pkg/appcontext"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Error returns an echo error handler that maps httperror values to status
// codes and attaches request and trace IDs to the response body.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()

		statusCode := http.StatusInternalServerError
		message := "internal server error"
		var meta map[string]any

		if httperror.IsHTTPError(err) {
			httpErr := httperror.ToHTTPError(err)
			statusCode = httpErr.Code
			message = httpErr.Error()
			meta = httpErr.Meta
		} else if echoErr, ok := err.(*echo.HTTPError); ok {
			statusCode = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			}
		}

		if statusCode >= http.StatusInternalServerError {
			logger.WithContext(ctx).WithError(err).Error("request failed")
		}

		response := ErrorResponse{
			Message:   message,
			RequestID: appcontext.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		}

		if jsonErr := c.JSON(statusCode, response); jsonErr != nil {
			logger.WithContext(ctx).WithError(jsonErr).Error("failed to write error response")
		}
	}
}
