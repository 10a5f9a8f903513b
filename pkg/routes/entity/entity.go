package entity

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	decisionrepo "github.com/fieldhaven/atlas/internal/repositories/decision"
	entityrepo "github.com/fieldhaven/atlas/internal/repositories/entity"
	identifierrepo "github.com/fieldhaven/atlas/internal/repositories/identifier"
	identityedgerepo "github.com/fieldhaven/atlas/internal/repositories/identityedge"
	observationrepo "github.com/fieldhaven/atlas/internal/repositories/observation"
	"github.com/fieldhaven/atlas/pkg/appcontext"
	"github.com/fieldhaven/atlas/pkg/merging"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/pipeline"
)

const defaultListLimit = 100

var validate = validator.New()

// Register registers entity routes
func Register(g *echo.Group) {
	g.GET("/:id", GetEntity)
	g.GET("/:id/resolve", ResolveEntity)
	g.GET("/:id/history", GetEntityHistory)
	g.GET("/:id/edges", GetEntityEdges)
	g.GET("/:id/observations", GetEntityObservations)
	g.GET("/:id/identifiers", GetEntityIdentifiers)
	g.POST("/:id/split", SplitEntity)
	g.POST("/:id/reindex", ReindexEntity)
}

// GetEntity gets a canonical entity by ID. Merged entities are returned
// as stored, with merged_into pointing at the survivor.
func GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entityrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entity, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entity)
}

// ResolveEntity follows the merge chain and returns the live root entity
func ResolveEntity(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge engine unavailable")
	}

	root, err := engine.ResolveRoot(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, root)
}

// GetEntityHistory lists the resolution decisions that shaped an entity
func GetEntityHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	limit := queryLimit(c)

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decisions, err := repo.ListByEntity(ctx, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, decisions)
}

// GetEntityEdges lists merge, split, and kept-separate edges touching an entity
func GetEntityEdges(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	limit := queryLimit(c)

	ctx, repo, err := ectoinject.GetContext[*identityedgerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	edges, err := repo.ListByEntity(ctx, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, edges)
}

// GetEntityObservations lists the observations attached to an entity
func GetEntityObservations(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	limit := queryLimit(c)

	ctx, repo, err := ectoinject.GetContext[*observationrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	observations, err := repo.ListByEntity(ctx, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, observations)
}

// GetEntityIdentifiers lists the indexed identifier values for an entity
func GetEntityIdentifiers(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*identifierrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	identifiers, err := repo.ListByEntity(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, identifiers)
}

// SplitEntity carves identifiers out of a merge recorded against this
// entity into a fresh entity. The edge named in the request must be a merge
// edge the entity took part in.
func SplitEntity(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req models.SplitEntityRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var performedBy *string
	if reviewerID := appcontext.GetReviewerID(ctx); reviewerID != "" {
		performedBy = &reviewerID
	}

	ctx, edges, err := ectoinject.GetContext[*identityedgerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	edge, err := edges.Get(ctx, req.EdgeID)
	if err != nil {
		return err
	}
	if edge.LeftEntityID != id && edge.RightEntityID != id {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity is not a party to the edge")
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge engine unavailable")
	}

	restored, err := engine.Split(ctx, req.EdgeID, req.IdentifierIDs, merging.SplitOptions{
		PerformedBy: performedBy,
		Reason:      req.Reason,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, restored)
}

// ReindexEntity rebuilds the entity's identifier index from its processed
// observations. Useful after blacklist changes alter which values index.
func ReindexEntity(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, reindexer, err := ectoinject.GetContext[*pipeline.Reindexer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := reindexer.Reindex(ctx, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

func queryLimit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
