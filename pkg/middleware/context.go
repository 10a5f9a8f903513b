package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fieldhaven/atlas/pkg/appcontext"
)

// Context populates the request context with request-scoped identifiers
// pulled from headers.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			requestID := c.Request().Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = appcontext.SetRequestID(ctx, requestID)

			if userID := c.Request().Header.Get("X-User-ID"); userID != "" {
				ctx = appcontext.SetUserID(ctx, userID)
			}

			if reviewerID := c.Request().Header.Get("X-Reviewer-ID"); reviewerID != "" {
				ctx = appcontext.SetReviewerID(ctx, reviewerID)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
