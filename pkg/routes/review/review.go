package review

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/fieldhaven/atlas/pkg/appcontext"
	"github.com/fieldhaven/atlas/pkg/metrics"
	"github.com/fieldhaven/atlas/pkg/models"
	reviewsvc "github.com/fieldhaven/atlas/pkg/review"
)

const defaultListLimit = 50

// Register registers review queue routes
func Register(g *echo.Group) {
	g.GET("", ListPendingReviews)
	g.GET("/counts", GetReviewCounts)
	g.POST("/:id/verdict", RecordVerdict)
}

// ListPendingReviews lists pending review items, optionally filtered by tier
func ListPendingReviews(c echo.Context) error {
	ctx := c.Request().Context()

	var tier models.ReviewTier
	if raw := c.QueryParam("tier"); raw != "" {
		tier = models.ReviewTier(raw)
		switch tier {
		case models.ReviewTierHigh, models.ReviewTierMedium, models.ReviewTierLow:
		default:
			return httperror.NewHTTPError(http.StatusBadRequest, "tier must be high, medium, or low")
		}
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	ctx, manager, err := ectoinject.GetContext[*reviewsvc.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "review service unavailable")
	}

	items, err := manager.ListPending(ctx, tier, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}

// GetReviewCounts returns pending review counts by tier
func GetReviewCounts(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, manager, err := ectoinject.GetContext[*reviewsvc.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "review service unavailable")
	}

	counts, err := manager.CountPending(ctx)
	if err != nil {
		return err
	}

	for tier, count := range counts {
		metrics.SetReviewQueueDepth(string(tier), count)
	}

	return c.JSON(http.StatusOK, counts)
}

// RecordVerdict applies a reviewer's verdict to a pending item
func RecordVerdict(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req models.ReviewVerdictRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var reviewerID *string
	if reviewer := appcontext.GetReviewerID(ctx); reviewer != "" {
		reviewerID = &reviewer
	}

	ctx, manager, err := ectoinject.GetContext[*reviewsvc.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "review service unavailable")
	}

	item, err := manager.Verdict(ctx, id, req.Approve, reviewerID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, item)
}
