package identifier

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

var columns = []string{"id", "entity_id", "type", "value", "source", "created_at", "updated_at"}

// Repository handles the identifier index, which is the sole source of
// match candidates
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new identifier repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch writes identifiers for an entity, skipping duplicates
func (r *Repository) UpsertBatch(ctx context.Context, identifiers []*models.Identifier) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.UpsertBatch")
	defer span.End()

	if len(identifiers) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("identifiers")
	sb.Cols(columns...)

	for _, ident := range identifiers {
		if ident.ID == "" {
			ident.ID = uuid.New().String()
		}
		ident.CreatedAt = now
		ident.UpdatedAt = now
		sb.Values(ident.ID, ident.EntityID, ident.Type, ident.Value, ident.Source, ident.CreatedAt, ident.UpdatedAt)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (entity_id, type, value) DO UPDATE SET updated_at = EXCLUDED.updated_at"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert identifiers")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert identifiers")
	}

	return nil
}

// ListByEntity returns all identifiers attached to an entity
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifiers")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("type", "value")

	query, args := sb.Build()
	var identifiers []models.Identifier
	if err := r.db.SelectContext(ctx, &identifiers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}

	return identifiers, nil
}

// ListByEntities returns all identifiers for a set of entities
func (r *Repository) ListByEntities(ctx context.Context, entityIDs []string) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.ListByEntities")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifiers")
	sb.Where(sb.In("entity_id", idsToAny(entityIDs)...))

	query, args := sb.Build()
	var identifiers []models.Identifier
	if err := r.db.SelectContext(ctx, &identifiers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifiers by entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}

	return identifiers, nil
}

// FindEntityIDs returns the distinct entity IDs carrying any of the given
// values for an identifier type. This is the exact-value lookup used by
// candidate generation for emails and phones.
func (r *Repository) FindEntityIDs(ctx context.Context, identifierType models.IdentifierType, values []string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.FindEntityIDs")
	defer span.End()

	if len(values) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT entity_id")
	sb.From("identifiers")
	sb.Where(
		sb.Equal("type", identifierType),
		sb.In("value", idsToAny(values)...),
	)

	query, args := sb.Build()
	var entityIDs []string
	if err := r.db.SelectContext(ctx, &entityIDs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find entities by identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entities by identifier")
	}

	return entityIDs, nil
}

// FindEntityIDsByTokenAndBucket returns entity IDs that share at least one
// name token with the probe and sit in one of the given geo buckets. Name
// tokens alone never generate candidates; the geo corroboration is required.
func (r *Repository) FindEntityIDsByTokenAndBucket(ctx context.Context, tokens, buckets []string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.FindEntityIDsByTokenAndBucket")
	defer span.End()

	if len(tokens) == 0 || len(buckets) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT t.entity_id")
	sb.From("identifiers t")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "identifiers g", "g.entity_id = t.entity_id")
	sb.Where(
		sb.Equal("t.type", models.IdentifierTypeNameToken),
		sb.In("t.value", idsToAny(tokens)...),
		sb.Equal("g.type", models.IdentifierTypeGeoBucket),
		sb.In("g.value", idsToAny(buckets)...),
	)

	query, args := sb.Build()
	var entityIDs []string
	if err := r.db.SelectContext(ctx, &entityIDs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find entities by name token and geo bucket")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entities by name and location")
	}

	return entityIDs, nil
}

// CountEntitiesByValue counts distinct entities carrying an identifier
// value. Used for the shared-address household cap.
func (r *Repository) CountEntitiesByValue(ctx context.Context, identifierType models.IdentifierType, value string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.CountEntitiesByValue")
	defer span.End()

	query := `
		SELECT COUNT(DISTINCT entity_id)
		FROM identifiers
		WHERE type = $1 AND value = $2
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, identifierType, value); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entities by identifier value")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entities by identifier")
	}

	return count, nil
}

// ReassignEntity moves all identifiers from one entity to another during a
// merge. Values the survivor already carries are dropped. The copy and the
// delete commit together.
func (r *Repository) ReassignEntity(ctx context.Context, fromEntityID, toEntityID string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.ReassignEntity")
	defer span.End()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	query := `
		INSERT INTO identifiers (id, entity_id, type, value, source, created_at, updated_at)
		SELECT gen_random_uuid(), $1, type, value, source, created_at, $2
		FROM identifiers
		WHERE entity_id = $3
		ON CONFLICT (entity_id, type, value) DO NOTHING
	`

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctxTx, query, toEntityID, now, fromEntityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to copy identifiers to survivor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifiers")
	}

	deleteQuery := `DELETE FROM identifiers WHERE entity_id = $1`
	if _, err := tx.ExecContext(ctxTx, deleteQuery, fromEntityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to remove identifiers from merged entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifiers")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit identifier reassignment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifiers")
	}

	return nil
}

// ReassignByIDs re-homes a specific set of identifier rows onto another
// entity. Every row must currently belong to fromEntityID; a shortfall
// aborts the move.
func (r *Repository) ReassignByIDs(ctx context.Context, ids []string, fromEntityID, toEntityID string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.ReassignByIDs")
	defer span.End()

	if len(ids) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "no identifiers to reassign")
	}

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("identifiers")
	sb.Set(
		sb.Assign("entity_id", toEntityID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.In("id", idsToAny(ids)...),
		sb.Equal("entity_id", fromEntityID),
	)

	query, args := sb.Build()
	result, err := tx.ExecContext(ctxTx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reassign identifiers by id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifiers")
	}

	rows, _ := result.RowsAffected()
	if rows != int64(len(ids)) {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("expected to move %d identifiers, moved %d", len(ids), rows))
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit identifier reassignment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifiers")
	}

	return nil
}

// DeleteByEntity removes all identifiers for an entity. Used before a
// reindex rebuilds them from the entity's own observations.
func (r *Repository) DeleteByEntity(ctx context.Context, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.DeleteByEntity")
	defer span.End()

	query := `DELETE FROM identifiers WHERE entity_id = $1`
	if _, err := r.db.ExecContext(ctx, query, entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete identifiers")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete identifiers")
	}

	return nil
}

func idsToAny(values []string) []any {
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
