package decision

import (
	"context"
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

var columns = []string{"id", "observation_id", "entity_id", "outcome", "log_odds", "probability", "breakdown", "config_version", "decided_by", "created_at"}

// Repository handles decision persistence. Decisions are append-only.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new decision repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a decision
func (r *Repository) Create(ctx context.Context, decision *models.Decision) (*models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.Create")
	defer span.End()

	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	decision.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("decisions")
	sb.Cols(columns...)
	sb.Values(decision.ID, decision.ObservationID, decision.EntityID, decision.Outcome, decision.LogOdds, decision.Probability, decision.Breakdown, decision.ConfigVersion, decision.DecidedBy, decision.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"observation_id": decision.ObservationID}).Error("Failed to create decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create decision")
	}

	return decision, nil
}

// ListByEntity returns decisions attached to an entity, newest first
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListByEntity")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("decisions")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var decisions []models.Decision
	if err := r.db.SelectContext(ctx, &decisions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list decisions by entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list decisions")
	}

	return decisions, nil
}

// ListByObservation returns decisions recorded for an observation
func (r *Repository) ListByObservation(ctx context.Context, observationID string) ([]models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListByObservation")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("decisions")
	sb.Where(sb.Equal("observation_id", observationID))
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var decisions []models.Decision
	if err := r.db.SelectContext(ctx, &decisions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list decisions by observation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list decisions")
	}

	return decisions, nil
}
