package review

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/merging"
	"github.com/fieldhaven/atlas/pkg/models"
)

type fakeQueue struct {
	items    map[string]*models.ReviewItem
	statuses map[string]models.ReviewStatus
}

func (f *fakeQueue) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("review item %s not found", id)
	}
	clone := *item
	return &clone, nil
}

func (f *fakeQueue) ListPending(ctx context.Context, tier models.ReviewTier, limit int) ([]models.ReviewItem, error) {
	var items []models.ReviewItem
	for _, item := range f.items {
		if item.Status == models.ReviewStatusPending && (tier == "" || item.Tier == tier) {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (f *fakeQueue) SetStatus(ctx context.Context, id string, status models.ReviewStatus, reviewedBy *string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeQueue) CountPending(ctx context.Context) (map[models.ReviewTier]int, error) {
	counts := make(map[models.ReviewTier]int)
	for _, item := range f.items {
		if item.Status == models.ReviewStatusPending {
			counts[item.Tier]++
		}
	}
	return counts, nil
}

type fakeMerger struct {
	calls []string
	err   error
}

func (f *fakeMerger) Merge(ctx context.Context, entityA, entityB string, opts merging.MergeOptions) (*models.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, entityA+"+"+entityB)
	return &models.CanonicalEntity{ID: entityA}, nil
}

type fakeEdges struct {
	edges []*models.IdentityEdge
}

func (f *fakeEdges) Create(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error) {
	f.edges = append(f.edges, edge)
	return edge, nil
}

type fakeDecisions struct {
	decisions []*models.Decision
}

func (f *fakeDecisions) Create(ctx context.Context, decision *models.Decision) (*models.Decision, error) {
	f.decisions = append(f.decisions, decision)
	return decision, nil
}

func newFixture(item *models.ReviewItem) (*Manager, *fakeQueue, *fakeMerger, *fakeEdges, *fakeDecisions) {
	queue := &fakeQueue{
		items:    map[string]*models.ReviewItem{},
		statuses: map[string]models.ReviewStatus{},
	}
	if item != nil {
		queue.items[item.ID] = item
	}
	merger := &fakeMerger{}
	edges := &fakeEdges{}
	decisions := &fakeDecisions{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewManager(logger, queue, merger, edges, decisions), queue, merger, edges, decisions
}

func pendingItem() *models.ReviewItem {
	other := "candidate"
	return &models.ReviewItem{
		ID:            "r1",
		ObservationID: "obs1",
		EntityID:      "provisional",
		OtherEntityID: &other,
		Tier:          models.ReviewTierHigh,
		Status:        models.ReviewStatusPending,
		LogOdds:       9.5,
		Probability:   0.99,
		ConfigVersion: 1,
	}
}

func TestManagerVerdict(t *testing.T) {
	reviewer := "reviewer-1"

	t.Run("approval should merge the pair and confirm the item", func(t *testing.T) {
		manager, queue, merger, _, decisions := newFixture(pendingItem())

		item, err := manager.Verdict(context.Background(), "r1", true, &reviewer)
		require.NoError(t, err)

		assert.Equal(t, models.ReviewStatusConfirmed, item.Status)
		assert.Equal(t, []string{"provisional+candidate"}, merger.calls)
		assert.Equal(t, models.ReviewStatusConfirmed, queue.statuses["r1"])
		require.Len(t, decisions.decisions, 1)
		assert.Equal(t, models.DecisionOutcomeReviewConfirmed, decisions.decisions[0].Outcome)
	})

	t.Run("rejection should record a kept_separate edge with the verdict score", func(t *testing.T) {
		manager, queue, merger, edges, _ := newFixture(pendingItem())

		item, err := manager.Verdict(context.Background(), "r1", false, &reviewer)
		require.NoError(t, err)

		assert.Equal(t, models.ReviewStatusRejected, item.Status)
		assert.Empty(t, merger.calls)
		assert.Equal(t, models.ReviewStatusRejected, queue.statuses["r1"])
		require.Len(t, edges.edges, 1)
		assert.Equal(t, models.EdgeTypeKeptSeparate, edges.edges[0].Type)
		assert.Equal(t, 9.5, *edges.edges[0].ScoreAtVerdict)
	})

	t.Run("should reject verdicts on non pending items", func(t *testing.T) {
		item := pendingItem()
		item.Status = models.ReviewStatusStale
		manager, _, _, _, _ := newFixture(item)

		_, err := manager.Verdict(context.Background(), "r1", true, &reviewer)
		assert.Error(t, err)
	})

	t.Run("should not confirm when the merge fails", func(t *testing.T) {
		manager, queue, merger, _, _ := newFixture(pendingItem())
		merger.err = fmt.Errorf("lock not acquired")

		_, err := manager.Verdict(context.Background(), "r1", true, &reviewer)
		assert.Error(t, err)
		assert.Empty(t, queue.statuses)
	})

	t.Run("should error on unknown items", func(t *testing.T) {
		manager, _, _, _, _ := newFixture(nil)

		_, err := manager.Verdict(context.Background(), "missing", true, &reviewer)
		assert.Error(t, err)
	})
}
