package blacklist

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	blacklistrepo "github.com/fieldhaven/atlas/internal/repositories/blacklist"
	"github.com/fieldhaven/atlas/pkg/appcontext"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/normalizers"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

var validate = validator.New()

// Register registers blacklist routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.DELETE("/:id", Delete)
}

// List returns active blacklist entries, optionally filtered by type
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "blacklist_handler.List")
	defer span.End()

	var identifierType models.IdentifierType
	if raw := c.QueryParam("type"); raw != "" {
		identifierType = models.IdentifierType(raw)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 200
	}

	ctx, repo, err := ectoinject.GetContext[*blacklistrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	entries, err := repo.List(ctx, identifierType, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// Create adds an identifier value to the blacklist. The value takes effect
// for observations resolved after this call; existing index rows are not
// rewritten.
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "blacklist_handler.Create")
	defer span.End()

	var req models.CreateBlacklistEntryRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Values are stored in normalized form so they match the identifier
	// index exactly.
	value := normalizeValue(req.Type, req.Value)
	if value == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "value normalizes to empty")
	}

	var createdBy *string
	if userID := appcontext.GetUserID(ctx); userID != "" {
		createdBy = &userID
	}

	ctx, repo, err := ectoinject.GetContext[*blacklistrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	entry, err := repo.Create(ctx, &models.BlacklistEntry{
		Type:      req.Type,
		Value:     value,
		Reason:    req.Reason,
		CreatedBy: createdBy,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, entry)
}

// Delete soft-deletes a blacklist entry
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "blacklist_handler.Delete")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*blacklistrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	if err := repo.Delete(ctx, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

func normalizeValue(identifierType models.IdentifierType, value string) string {
	switch identifierType {
	case models.IdentifierTypeEmail:
		return normalizers.NormalizeEmail(value)
	case models.IdentifierTypePhone:
		return normalizers.NormalizePhone(value)
	case models.IdentifierTypeNameToken:
		return normalizers.NormalizeName(value)
	case models.IdentifierTypeAddress:
		return normalizers.NormalizeAddress(value)
	default:
		return normalizers.ApplyChain(value, "trim", "lowercase")
	}
}
