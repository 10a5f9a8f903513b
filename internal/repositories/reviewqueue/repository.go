package reviewqueue

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

var columns = []string{"id", "observation_id", "entity_id", "other_entity_id", "tier", "status", "log_odds", "probability", "breakdown", "config_version", "reviewed_by", "reviewed_at", "created_at", "updated_at"}

// Repository handles review queue persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new review queue repository
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

// Upsert records a pending review item. Re-observing the same pair keeps
// the higher score rather than resetting it.
func (r *Repository) Upsert(ctx context.Context, item *models.ReviewItem) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Upsert")
	defer span.End()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.ReviewStatusPending
	}
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("review_queue")
	sb.Cols(columns...)
	sb.Values(item.ID, item.ObservationID, item.EntityID, item.OtherEntityID, item.Tier, item.Status, item.LogOdds, item.Probability, item.Breakdown, item.ConfigVersion, item.ReviewedBy, item.ReviewedAt, item.CreatedAt, item.UpdatedAt)

	query, args := sb.Build()
	query += ` ON CONFLICT (observation_id, entity_id) WHERE status = 'pending' DO UPDATE SET
		log_odds = GREATEST(review_queue.log_odds, EXCLUDED.log_odds),
		probability = GREATEST(review_queue.probability, EXCLUDED.probability),
		tier = CASE WHEN EXCLUDED.log_odds > review_queue.log_odds THEN EXCLUDED.tier ELSE review_queue.tier END,
		breakdown = CASE WHEN EXCLUDED.log_odds > review_queue.log_odds THEN EXCLUDED.breakdown ELSE review_queue.breakdown END,
		config_version = CASE WHEN EXCLUDED.log_odds > review_queue.log_odds THEN EXCLUDED.config_version ELSE review_queue.config_version END,
		updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"observation_id": item.ObservationID, "entity_id": item.EntityID}).Error("Failed to upsert review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert review item")
	}

	return item, nil
}

// Get retrieves a review item by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("review_queue")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.ReviewItem
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("review item %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get review item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get review item")
	}

	return &item, nil
}

// ListPending returns pending review items, highest tier and score first
func (r *Repository) ListPending(ctx context.Context, tier models.ReviewTier, limit int) ([]models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.ListPending")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("review_queue")
	where := []string{sb.Equal("status", models.ReviewStatusPending)}
	if tier != "" {
		where = append(where, sb.Equal("tier", tier))
	}
	sb.Where(where...)
	sb.OrderBy("CASE tier WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END", "log_odds DESC", "created_at ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var items []models.ReviewItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending review items")
	}

	return items, nil
}

// SetStatus transitions a pending review item to a terminal status
func (r *Repository) SetStatus(ctx context.Context, id string, status models.ReviewStatus, reviewedBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.SetStatus")
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE review_queue
		SET status = $1, reviewed_by = $2, reviewed_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, status, reviewedBy, now, id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update review item status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update review item")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("review item %s is not pending", id))
	}

	return nil
}

// MarkStaleByEntity invalidates pending items touching an entity. Called
// when the entity is merged away or split so reviewers never act on a
// verdict computed against stale state.
func (r *Repository) MarkStaleByEntity(ctx context.Context, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.MarkStaleByEntity")
	defer span.End()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	query := `
		UPDATE review_queue
		SET status = $1, updated_at = $2
		WHERE status = 'pending' AND (entity_id = $3 OR other_entity_id = $3)
	`

	if _, err := tx.ExecContext(ctxTx, query, models.ReviewStatusStale, time.Now().UTC(), entityID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark review items stale")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark review items stale")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit review staling")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark review items stale")
	}

	return nil
}

// MarkStaleByObservation invalidates pending items for superseded
// observations.
func (r *Repository) MarkStaleByObservation(ctx context.Context, observationID string) error {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.MarkStaleByObservation")
	defer span.End()

	query := `
		UPDATE review_queue
		SET status = $1, updated_at = $2
		WHERE status = 'pending' AND observation_id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, models.ReviewStatusStale, time.Now().UTC(), observationID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark review items stale")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark review items stale")
	}

	return nil
}

// CountPending returns pending counts grouped by tier
func (r *Repository) CountPending(ctx context.Context) (map[models.ReviewTier]int, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.CountPending")
	defer span.End()

	query := `
		SELECT tier, COUNT(*) AS count
		FROM review_queue
		WHERE status = 'pending'
		GROUP BY tier
	`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending review items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count pending review items")
	}
	defer rows.Close()

	counts := make(map[models.ReviewTier]int)
	for rows.Next() {
		var tier models.ReviewTier
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count pending review items")
		}
		counts[tier] = count
	}

	return counts, nil
}
