package identityedge

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

var columns = []string{"id", "left_entity_id", "right_entity_id", "type", "score_at_verdict", "reason", "references_edge_id", "created_by", "created_at"}

// Repository handles identity edge persistence. Edges are append-only.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new identity edge repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records an edge
func (r *Repository) Create(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "identityedge.Repository.Create")
	defer span.End()

	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	edge.CreatedAt = time.Now().UTC()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("identity_edges")
	sb.Cols(columns...)
	sb.Values(edge.ID, edge.LeftEntityID, edge.RightEntityID, edge.Type, edge.ScoreAtVerdict, edge.Reason, edge.ReferencesEdgeID, edge.CreatedBy, edge.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctxTx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"left": edge.LeftEntityID, "right": edge.RightEntityID, "type": edge.Type}).Error("Failed to create identity edge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create identity edge")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit identity edge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create identity edge")
	}

	return edge, nil
}

// Get retrieves an edge by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.IdentityEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "identityedge.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identity_edges")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var edge models.IdentityEdge
	if err := r.db.GetContext(ctx, &edge, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("identity edge %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get identity edge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get identity edge")
	}

	return &edge, nil
}

// GetByReference returns the edge that references the given edge, or nil
// when none does. A merge edge with a referencing split edge has already
// been split.
func (r *Repository) GetByReference(ctx context.Context, edgeID string) (*models.IdentityEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "identityedge.Repository.GetByReference")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identity_edges")
	sb.Where(sb.Equal("references_edge_id", edgeID))
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var edge models.IdentityEdge
	if err := r.db.GetContext(ctx, &edge, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get referencing edge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get identity edge")
	}

	return &edge, nil
}

// GetKeptSeparate returns the most recent kept_separate edge between two
// entities in either direction, or nil when none exists.
func (r *Repository) GetKeptSeparate(ctx context.Context, entityA, entityB string) (*models.IdentityEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "identityedge.Repository.GetKeptSeparate")
	defer span.End()

	query := `
		SELECT id, left_entity_id, right_entity_id, type, score_at_verdict, reason, references_edge_id, created_by, created_at
		FROM identity_edges
		WHERE type = $1
		AND ((left_entity_id = $2 AND right_entity_id = $3) OR (left_entity_id = $3 AND right_entity_id = $2))
		ORDER BY created_at DESC
		LIMIT 1
	`

	var edge models.IdentityEdge
	if err := r.db.GetContext(ctx, &edge, query, models.EdgeTypeKeptSeparate, entityA, entityB); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get kept_separate edge")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get identity edge")
	}

	return &edge, nil
}

// ListByEntity returns edges touching an entity, newest first
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.IdentityEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "identityedge.Repository.ListByEntity")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identity_edges")
	sb.Where(sb.Or(
		sb.Equal("left_entity_id", entityID),
		sb.Equal("right_entity_id", entityID),
	))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var edges []models.IdentityEdge
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identity edges")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identity edges")
	}

	return edges, nil
}
