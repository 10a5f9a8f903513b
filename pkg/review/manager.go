// Package review coordinates human verdicts on candidate match pairs.
package review

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/merging"
	"github.com/fieldhaven/atlas/pkg/metrics"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// Queue is the review queue persistence surface the manager needs.
type Queue interface {
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	ListPending(ctx context.Context, tier models.ReviewTier, limit int) ([]models.ReviewItem, error)
	SetStatus(ctx context.Context, id string, status models.ReviewStatus, reviewedBy *string) error
	CountPending(ctx context.Context) (map[models.ReviewTier]int, error)
}

// Merger executes a confirmed merge.
type Merger interface {
	Merge(ctx context.Context, entityA, entityB string, opts merging.MergeOptions) (*models.CanonicalEntity, error)
}

// EdgeStore records kept_separate verdicts.
type EdgeStore interface {
	Create(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error)
}

// DecisionStore records the audit trail of review verdicts.
type DecisionStore interface {
	Create(ctx context.Context, decision *models.Decision) (*models.Decision, error)
}

// Manager applies reviewer verdicts. An approval merges the pair; a
// rejection records a kept_separate edge carrying the score at verdict
// time, which gates future automatic merging of the pair.
type Manager struct {
	logger    ectologger.Logger
	queue     Queue
	merger    Merger
	edges     EdgeStore
	decisions DecisionStore
}

// NewManager creates a review manager
func NewManager(logger ectologger.Logger, queue Queue, merger Merger, edges EdgeStore, decisions DecisionStore) *Manager {
	return &Manager{
		logger:    logger,
		queue:     queue,
		merger:    merger,
		edges:     edges,
		decisions: decisions,
	}
}

// ListPending returns pending review items for a tier ("" for all tiers)
func (m *Manager) ListPending(ctx context.Context, tier models.ReviewTier, limit int) ([]models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Manager.ListPending")
	defer span.End()

	return m.queue.ListPending(ctx, tier, limit)
}

// CountPending returns pending counts by tier
func (m *Manager) CountPending(ctx context.Context) (map[models.ReviewTier]int, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Manager.CountPending")
	defer span.End()

	return m.queue.CountPending(ctx)
}

// Verdict applies a reviewer's decision to a pending item
func (m *Manager) Verdict(ctx context.Context, itemID string, approve bool, reviewerID *string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Manager.Verdict")
	defer span.End()

	item, err := m.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewStatusPending {
		return nil, fmt.Errorf("review item %s is %s, not pending", itemID, item.Status)
	}
	if item.OtherEntityID == nil {
		return nil, fmt.Errorf("review item %s has no counterpart entity", itemID)
	}

	if approve {
		return m.approve(ctx, item, reviewerID)
	}
	return m.reject(ctx, item, reviewerID)
}

func (m *Manager) approve(ctx context.Context, item *models.ReviewItem, reviewerID *string) (*models.ReviewItem, error) {
	score := item.LogOdds
	if _, err := m.merger.Merge(ctx, item.EntityID, *item.OtherEntityID, merging.MergeOptions{
		PerformedBy: reviewerID,
		Score:       &score,
	}); err != nil {
		return nil, err
	}

	if err := m.queue.SetStatus(ctx, item.ID, models.ReviewStatusConfirmed, reviewerID); err != nil {
		return nil, err
	}

	if _, err := m.decisions.Create(ctx, &models.Decision{
		ObservationID: item.ObservationID,
		EntityID:      &item.EntityID,
		Outcome:       models.DecisionOutcomeReviewConfirmed,
		LogOdds:       item.LogOdds,
		Probability:   item.Probability,
		Breakdown:     item.Breakdown,
		ConfigVersion: item.ConfigVersion,
		DecidedBy:     reviewerID,
	}); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to record review decision")
	}

	item.Status = models.ReviewStatusConfirmed
	item.ReviewedBy = reviewerID
	metrics.ReviewVerdictsTotal.WithLabelValues("confirmed").Inc()
	metrics.RecordMerge("review")
	m.logger.WithContext(ctx).WithFields(map[string]any{"review_id": item.ID, "entity_id": item.EntityID}).Info("Review approved")
	return item, nil
}

func (m *Manager) reject(ctx context.Context, item *models.ReviewItem, reviewerID *string) (*models.ReviewItem, error) {
	score := item.LogOdds
	if _, err := m.edges.Create(ctx, &models.IdentityEdge{
		LeftEntityID:   item.EntityID,
		RightEntityID:  *item.OtherEntityID,
		Type:           models.EdgeTypeKeptSeparate,
		ScoreAtVerdict: &score,
		CreatedBy:      reviewerID,
	}); err != nil {
		return nil, err
	}

	if err := m.queue.SetStatus(ctx, item.ID, models.ReviewStatusRejected, reviewerID); err != nil {
		return nil, err
	}

	if _, err := m.decisions.Create(ctx, &models.Decision{
		ObservationID: item.ObservationID,
		EntityID:      &item.EntityID,
		Outcome:       models.DecisionOutcomeReviewRejected,
		LogOdds:       item.LogOdds,
		Probability:   item.Probability,
		Breakdown:     item.Breakdown,
		ConfigVersion: item.ConfigVersion,
		DecidedBy:     reviewerID,
	}); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to record review decision")
	}

	item.Status = models.ReviewStatusRejected
	item.ReviewedBy = reviewerID
	metrics.ReviewVerdictsTotal.WithLabelValues("rejected").Inc()
	m.logger.WithContext(ctx).WithFields(map[string]any{"review_id": item.ID, "entity_id": item.EntityID}).Info("Review rejected")
	return item, nil
}
