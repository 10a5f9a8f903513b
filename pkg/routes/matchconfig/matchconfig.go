package matchconfig

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	matchconfigrepo "github.com/fieldhaven/atlas/internal/repositories/matchconfig"
	"github.com/fieldhaven/atlas/pkg/appcontext"
	"github.com/fieldhaven/atlas/pkg/matching"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

var validate = validator.New()

// Register registers match config routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.GET("/active", GetActive)
	g.GET("/:version", GetByVersion)
	g.POST("", Publish)
}

// List returns all config versions, newest first
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "matchconfig_handler.List")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*matchconfigrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	configs, err := repo.List(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, configs)
}

// GetActive returns the config version currently used for scoring
func GetActive(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "matchconfig_handler.GetActive")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*matchconfigrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	config, err := repo.GetActive(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, config)
}

// GetByVersion returns a specific config version
func GetByVersion(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "matchconfig_handler.GetByVersion")
	defer span.End()

	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		return httperror.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
	}

	ctx, repo, err := ectoinject.GetContext[*matchconfigrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	config, err := repo.GetByVersion(ctx, version)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, config)
}

// Publish creates a new config version and activates it. Versions are
// immutable once published; decisions made under earlier versions keep
// their recorded version number.
func Publish(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "matchconfig_handler.Publish")
	defer span.End()

	var req models.CreateMatchConfigRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// A scorer is built from the params to reject configs that could never
	// score an observation.
	if _, err := matching.NewScorer(req.Params, 0); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	params, err := json.Marshal(req.Params)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid params")
	}

	var createdBy *string
	if userID := appcontext.GetUserID(ctx); userID != "" {
		createdBy = &userID
	}

	ctx, repo, err := ectoinject.GetContext[*matchconfigrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	config, err := repo.Create(ctx, &models.MatchConfig{
		Params:    params,
		Comment:   req.Comment,
		CreatedBy: createdBy,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, config)
}
