package quarantine

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

var columns = []string{"id", "observation_id", "reason", "attempts", "payload", "created_at", "requeued_at"}

// Repository handles quarantine persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new quarantine repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a quarantined observation
func (r *Repository) Create(ctx context.Context, record *models.QuarantineRecord) (*models.QuarantineRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Create")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("quarantine")
	sb.Cols(columns...)
	sb.Values(record.ID, record.ObservationID, record.Reason, record.Attempts, record.Payload, record.CreatedAt, record.RequeuedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"observation_id": record.ObservationID}).Error("Failed to create quarantine record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create quarantine record")
	}

	return record, nil
}

// Get retrieves a quarantine record by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.QuarantineRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("quarantine")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var record models.QuarantineRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("quarantine record %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get quarantine record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get quarantine record")
	}

	return &record, nil
}

// List returns quarantine records that have not been requeued, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]models.QuarantineRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.List")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("quarantine")
	sb.Where(sb.IsNull("requeued_at"))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var records []models.QuarantineRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list quarantine records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list quarantine records")
	}

	return records, nil
}

// MarkRequeued flags a record as sent back into the pipeline
func (r *Repository) MarkRequeued(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.MarkRequeued")
	defer span.End()

	query := `
		UPDATE quarantine
		SET requeued_at = $1
		WHERE id = $2 AND requeued_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark quarantine record requeued")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to requeue quarantine record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("quarantine record %s was already requeued", id))
	}

	return nil
}
