package observation

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

var columns = []string{"id", "source", "source_record_id", "kind", "raw_identifiers", "fingerprint", "version", "status", "entity_id", "observed_at", "created_at", "updated_at"}

// Repository handles observation persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new observation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a new observation. The version is set to one more than the
// newest existing observation for the same source record, so later
// observations always supersede earlier ones.
func (r *Repository) Create(ctx context.Context, obs *models.Observation) (*models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.Create")
	defer span.End()

	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	obs.Status = models.ObservationStatusPending
	obs.CreatedAt = time.Now().UTC()
	obs.UpdatedAt = obs.CreatedAt

	query := `
		INSERT INTO observations (id, source, source_record_id, kind, raw_identifiers, fingerprint, version, status, entity_id, observed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			COALESCE((SELECT MAX(version) FROM observations WHERE source = $2 AND source_record_id = $3), 0) + 1,
			$7, NULL, $8, $9, $9)
		RETURNING version
	`

	row := r.db.QueryRowxContext(ctx, query, obs.ID, obs.Source, obs.SourceRecordID, obs.Kind, obs.RawIdentifiers, obs.Fingerprint, obs.Status, obs.ObservedAt, obs.CreatedAt)
	if err := row.Scan(&obs.Version); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": obs.Source, "source_record_id": obs.SourceRecordID}).Error("Failed to create observation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create observation")
	}

	return obs, nil
}

// Get retrieves an observation by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("observations")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var obs models.Observation
	if err := r.db.GetContext(ctx, &obs, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("observation %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get observation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get observation")
	}

	return &obs, nil
}

// GetLatestBySourceRecord returns the newest observation for a source record
func (r *Repository) GetLatestBySourceRecord(ctx context.Context, source, sourceRecordID string) (*models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.GetLatestBySourceRecord")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("observations")
	sb.Where(
		sb.Equal("source", source),
		sb.Equal("source_record_id", sourceRecordID),
	)
	sb.OrderBy("version DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var obs models.Observation
	if err := r.db.GetContext(ctx, &obs, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest observation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest observation")
	}

	return &obs, nil
}

// IsSuperseded reports whether a newer observation exists for the same
// source record. The pipeline checks this before committing a verdict.
func (r *Repository) IsSuperseded(ctx context.Context, obs *models.Observation) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.IsSuperseded")
	defer span.End()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM observations
			WHERE source = $1 AND source_record_id = $2 AND version > $3
		)
	`

	var superseded bool
	if err := r.db.GetContext(ctx, &superseded, query, obs.Source, obs.SourceRecordID, obs.Version); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check observation supersession")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check observation supersession")
	}

	return superseded, nil
}

// MarkProcessed records the entity an observation resolved to
func (r *Repository) MarkProcessed(ctx context.Context, id string, entityID *string) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.MarkProcessed")
	defer span.End()

	return r.setStatus(ctx, id, models.ObservationStatusProcessed, entityID)
}

// MarkSuperseded flags an observation as replaced by a newer version
func (r *Repository) MarkSuperseded(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.MarkSuperseded")
	defer span.End()

	return r.setStatus(ctx, id, models.ObservationStatusSuperseded, nil)
}

// MarkQuarantined flags an observation that exhausted processing retries
func (r *Repository) MarkQuarantined(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.MarkQuarantined")
	defer span.End()

	return r.setStatus(ctx, id, models.ObservationStatusQuarantined, nil)
}

// MarkPending requeues a quarantined observation
func (r *Repository) MarkPending(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.MarkPending")
	defer span.End()

	return r.setStatus(ctx, id, models.ObservationStatusPending, nil)
}

func (r *Repository) setStatus(ctx context.Context, id string, status models.ObservationStatus, entityID *string) error {
	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("observations")
	assignments := []string{
		sb.Assign("status", status),
		sb.Assign("updated_at", now),
	}
	if entityID != nil {
		assignments = append(assignments, sb.Assign("entity_id", *entityID))
	}
	sb.Set(assignments...)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"observation_id": id, "status": status}).Error("Failed to update observation status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update observation status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("observation %s not found", id))
	}

	return nil
}

// ListByEntity returns observations resolved to an entity, newest first
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.ListByEntity")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("observations")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("observed_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list observations by entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list observations")
	}

	return observations, nil
}

// ListByEntities returns observations resolved to any of the given
// entities. Entity history reads pass the full merge cluster here.
func (r *Repository) ListByEntities(ctx context.Context, entityIDs []string, limit int) ([]models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.ListByEntities")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("observations")
	sb.Where(sb.In("entity_id", args...))
	sb.OrderBy("observed_at DESC")
	sb.Limit(limit)

	query, queryArgs := sb.Build()
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, queryArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list observations by entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list observations")
	}

	return observations, nil
}
