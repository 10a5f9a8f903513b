package matchconfig

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

var columns = []string{"id", "version", "params", "comment", "active", "created_by", "created_at"}

// Repository handles versioned match configuration persistence. Config rows
// are immutable; publishing creates the next version and deactivates the
// rest.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match config repository
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

// Create publishes a new config version and makes it active
func (r *Repository) Create(ctx context.Context, config *models.MatchConfig) (*models.MatchConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Repository.Create")
	defer span.End()

	ctxTx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to open transaction")
	}
	defer tx.Rollback(ctxTx)

	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	config.Active = true
	config.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctxTx, "UPDATE match_configs SET active = FALSE WHERE active = TRUE"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to deactivate previous match configs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to publish match config")
	}

	query := `
		INSERT INTO match_configs (id, version, params, comment, active, created_by, created_at)
		VALUES ($1, COALESCE((SELECT MAX(version) FROM match_configs), 0) + 1, $2, $3, $4, $5, $6)
		RETURNING version
	`

	row := tx.QueryRowxContext(ctxTx, query, config.ID, config.Params, config.Comment, config.Active, config.CreatedBy, config.CreatedAt)
	if err := row.Scan(&config.Version); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create match config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to publish match config")
	}

	if err := tx.Commit(ctxTx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit match config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to publish match config")
	}

	return config, nil
}

// GetActive returns the active config
func (r *Repository) GetActive(ctx context.Context) (*models.MatchConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Repository.GetActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_configs")
	sb.Where(sb.Equal("active", true))
	sb.OrderBy("version DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var config models.MatchConfig
	if err := r.db.GetContext(ctx, &config, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "no active match config")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active match config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active match config")
	}

	return &config, nil
}

// GetByVersion returns a specific config version
func (r *Repository) GetByVersion(ctx context.Context, version int) (*models.MatchConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Repository.GetByVersion")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_configs")
	sb.Where(sb.Equal("version", version))

	query, args := sb.Build()
	var config models.MatchConfig
	if err := r.db.GetContext(ctx, &config, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match config version %d not found", version))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match config")
	}

	return &config, nil
}

// List returns all config versions, newest first
func (r *Repository) List(ctx context.Context) ([]models.MatchConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_configs")
	sb.OrderBy("version DESC")

	query, args := sb.Build()
	var configs []models.MatchConfig
	if err := r.db.SelectContext(ctx, &configs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match configs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match configs")
	}

	return configs, nil
}
