package entity

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

var columns = []string{"id", "kind", "display_name", "first_name", "last_name", "quality", "merged_into", "merged_at", "source_count", "created_at", "updated_at", "version"}

// Repository handles canonical entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database for transaction management
func (r *Repository) DB() database.DB {
	return r.db
}

// Create creates a new canonical entity
func (r *Repository) Create(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	if entity.Quality == "" {
		entity.Quality = models.EntityQualityNormal
	}
	entity.CreatedAt = time.Now().UTC()
	entity.UpdatedAt = entity.CreatedAt
	entity.SourceCount = 1
	entity.Version = 1

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols(columns...)
	sb.Values(entity.ID, entity.Kind, entity.DisplayName, entity.FirstName, entity.LastName, entity.Quality, entity.MergedInto, entity.MergedAt, entity.SourceCount, entity.CreatedAt, entity.UpdatedAt, entity.Version)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctxTx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entity.ID}).Error("Failed to create entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit entity create")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
	}

	return entity, nil
}

// Get retrieves an entity by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("entities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}

	return &entity, nil
}

// GetByIDs retrieves multiple entities by ID
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("entities")
	sb.Where(sb.In("id", idsToAny(ids)...))

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entities by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entities")
	}

	return entities, nil
}

// Update updates an entity's name fields and quality. Version is bumped and
// checked for optimistic concurrency.
func (r *Repository) Update(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("display_name", entity.DisplayName),
		sb.Assign("first_name", entity.FirstName),
		sb.Assign("last_name", entity.LastName),
		sb.Assign("quality", entity.Quality),
		sb.Assign("source_count", entity.SourceCount),
		sb.Assign("updated_at", now),
		sb.Incr("version"),
	)
	sb.Where(
		sb.Equal("id", entity.ID),
		sb.Equal("version", entity.Version),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("entity %s was modified concurrently", entity.ID))
	}

	entity.Version++
	entity.UpdatedAt = now
	return nil
}

// SetMergedInto points an entity at its merge survivor. Only entities that
// are not already merged can be redirected.
func (r *Repository) SetMergedInto(ctx context.Context, id, survivorID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetMergedInto")
	defer span.End()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	now := time.Now().UTC()
	query := `
		UPDATE entities
		SET merged_into = $1, merged_at = $2, updated_at = $2, version = version + 1
		WHERE id = $3 AND merged_into IS NULL
	`

	result, err := tx.ExecContext(ctxTx, query, survivorID, now, id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set merged_into")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("entity %s is already merged", id))
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit merge pointer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}

	return nil
}

// CompressPointer re-targets a stale merge pointer directly at the root so
// chains stay at most one hop long.
func (r *Repository) CompressPointer(ctx context.Context, id, rootID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CompressPointer")
	defer span.End()

	query := `
		UPDATE entities
		SET merged_into = $1, updated_at = $2
		WHERE id = $3 AND merged_into IS NOT NULL
	`

	if _, err := r.db.ExecContext(ctx, query, rootID, time.Now().UTC(), id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to compress merge pointer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to compress merge pointer")
	}

	return nil
}

// ListMergedInto returns entities whose merge pointer targets the given
// entity.
func (r *Repository) ListMergedInto(ctx context.Context, survivorID string) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListMergedInto")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("entities")
	sb.Where(sb.Equal("merged_into", survivorID))

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merged entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merged entities")
	}

	return entities, nil
}

// IncrementSourceCount bumps the count of source records attached to an
// entity.
func (r *Repository) IncrementSourceCount(ctx context.Context, id string, delta int) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.IncrementSourceCount")
	defer span.End()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	query := `
		UPDATE entities
		SET source_count = source_count + $1, updated_at = $2
		WHERE id = $3
	`

	if _, err := tx.ExecContext(ctxTx, query, delta, time.Now().UTC(), id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment source count")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update source count")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit source count update")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update source count")
	}

	return nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
