package quarantine

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	observationrepo "github.com/fieldhaven/atlas/internal/repositories/observation"
	quarantinerepo "github.com/fieldhaven/atlas/internal/repositories/quarantine"
	"github.com/fieldhaven/atlas/pkg/pipeline"
	"github.com/fieldhaven/atlas/pkg/redisq"
)

// Register registers quarantine routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("/:id/requeue", Requeue)
}

// List returns quarantined observations awaiting operator attention
func List(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 100
	}

	ctx, repo, err := ectoinject.GetContext[*quarantinerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	records, err := repo.List(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, records)
}

// Requeue puts a quarantined observation back on the resolution queue with
// its retry count reset
func Requeue(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*quarantinerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.RequeuedAt != nil {
		return httperror.NewHTTPError(http.StatusConflict, "quarantine record already requeued")
	}

	ctx, observations, err := ectoinject.GetContext[*observationrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "processor unavailable")
	}

	if err := observations.MarkPending(ctx, record.ObservationID); err != nil {
		return err
	}

	job := &redisq.JobMessage{
		ID:        uuid.New().String(),
		Type:      pipeline.JobTypeResolveObservation,
		CreatedAt: time.Now().UTC(),
		Payload: map[string]any{
			"observation_id": record.ObservationID,
		},
	}
	if err := processor.Enqueue(ctx, job); err != nil {
		return err
	}

	if err := repo.MarkRequeued(ctx, record.ID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}
