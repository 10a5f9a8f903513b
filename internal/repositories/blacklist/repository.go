package blacklist

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/fieldhaven/atlas/pkg/database"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

var columns = []string{"id", "type", "value", "reason", "created_by", "created_at", "deleted_at"}

// Repository handles blacklist persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new blacklist repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create adds a value to the blacklist. Re-adding a soft-deleted value
// revives it.
func (r *Repository) Create(ctx context.Context, entry *models.BlacklistEntry) (*models.BlacklistEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.Create")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("blacklist")
	sb.Cols(columns...)
	sb.Values(entry.ID, entry.Type, entry.Value, entry.Reason, entry.CreatedBy, entry.CreatedAt, nil)

	query, args := sb.Build()
	query += " ON CONFLICT (type, value) DO UPDATE SET deleted_at = NULL, reason = EXCLUDED.reason, created_by = EXCLUDED.created_by"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": entry.Type, "value": entry.Value}).Error("Failed to create blacklist entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create blacklist entry")
	}

	return entry, nil
}

// Delete soft-deletes a blacklist entry
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.Delete")
	defer span.End()

	query := `
		UPDATE blacklist
		SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete blacklist entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete blacklist entry")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("blacklist entry %s not found", id))
	}

	return nil
}

// List returns active blacklist entries
func (r *Repository) List(ctx context.Context, identifierType models.IdentifierType, limit int) ([]models.BlacklistEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.List")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("blacklist")
	where := []string{sb.IsNull("deleted_at")}
	if identifierType != "" {
		where = append(where, sb.Equal("type", identifierType))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entries []models.BlacklistEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list blacklist entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list blacklist entries")
	}

	return entries, nil
}

// ActiveValues returns the active blacklisted values for a type as a set
func (r *Repository) ActiveValues(ctx context.Context, identifierType models.IdentifierType) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.ActiveValues")
	defer span.End()

	query := `
		SELECT value
		FROM blacklist
		WHERE type = $1 AND deleted_at IS NULL
	`

	var values []string
	if err := r.db.SelectContext(ctx, &values, query, identifierType); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load blacklist values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load blacklist values")
	}

	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set, nil
}
