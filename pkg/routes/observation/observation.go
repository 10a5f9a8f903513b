package observation

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	decisionrepo "github.com/fieldhaven/atlas/internal/repositories/decision"
	observationrepo "github.com/fieldhaven/atlas/internal/repositories/observation"
	"github.com/fieldhaven/atlas/pkg/kafka"
	"github.com/fieldhaven/atlas/pkg/pipeline"
)

// Register registers observation routes
func Register(g *echo.Group) {
	g.POST("", IngestObservation)
	g.GET("/:id", GetObservation)
	g.GET("/:id/decisions", GetObservationDecisions)
}

// IngestResponse reports whether the observation was accepted or deduplicated
type IngestResponse struct {
	ObservationID string `json:"observation_id"`
	Version       int    `json:"version"`
	Created       bool   `json:"created"`
}

// IngestObservation accepts a source record observation for resolution
func IngestObservation(c echo.Context) error {
	ctx := c.Request().Context()

	var env kafka.ObservationEnvelope
	if err := c.Bind(&env); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := env.Validate(); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, intake, err := ectoinject.GetContext[*pipeline.Intake](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "intake service unavailable")
	}

	obs, created, err := intake.Ingest(ctx, &env)
	if err != nil {
		return err
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}

	return c.JSON(status, IngestResponse{
		ObservationID: obs.ID,
		Version:       obs.Version,
		Created:       created,
	})
}

// GetObservation gets an observation by ID
func GetObservation(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*observationrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	obs, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, obs)
}

// GetObservationDecisions lists the decisions recorded for an observation
func GetObservationDecisions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decisions, err := repo.ListByObservation(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, decisions)
}
