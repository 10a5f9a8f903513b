package merging

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/database"
	"github.com/fieldhaven/atlas/pkg/models"
)

type memStore struct {
	mu          sync.Mutex
	entities    map[string]*models.CanonicalEntity
	identifiers map[string][]string // entityID -> identifier row IDs
	edges       []*models.IdentityEdge
	staled      []string
	lockOrder   []string
	merges      []string
	splits      []string
	created     int
	commits     int
	rollbacks   int
}

func newMemStore(now time.Time, ids ...string) *memStore {
	s := &memStore{
		entities:    make(map[string]*models.CanonicalEntity),
		identifiers: make(map[string][]string),
	}
	for i, id := range ids {
		s.entities[id] = &models.CanonicalEntity{
			ID:          id,
			Kind:        models.EntityKindPerson,
			DisplayName: "Entity " + id,
			SourceCount: 1,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		}
		s.identifiers[id] = []string{"ident-" + id}
	}
	return s
}

// fakeTx satisfies database.Tx for the engine, which only opens, commits,
// and rolls back. The embedded interface covers the query surface the
// engine never touches.
type fakeTx struct {
	database.Tx
	store *memStore
	open  bool
}

func (t *fakeTx) IsOpen() bool { return t.open }

func (t *fakeTx) Commit(ctx context.Context) error {
	if !t.open {
		return nil
	}
	t.open = false
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.open {
		return nil
	}
	t.open = false
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	return nil
}

func (s *memStore) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, &fakeTx{store: s, open: true}, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", id)
	}
	clone := *entity
	return &clone, nil
}

func (s *memStore) CreateEntity(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	entity.ID = fmt.Sprintf("fresh-%d", s.created)
	entity.SourceCount = 1
	entity.CreatedAt = time.Now().UTC()
	clone := *entity
	s.entities[entity.ID] = &clone
	return entity, nil
}

func (s *memStore) SetMergedInto(ctx context.Context, id, survivorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity := s.entities[id]
	if entity.MergedInto != nil {
		return fmt.Errorf("entity %s is already merged", id)
	}
	entity.MergedInto = &survivorID
	return nil
}

func (s *memStore) CompressPointer(ctx context.Context, id, rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[id].MergedInto != nil {
		s.entities[id].MergedInto = &rootID
	}
	return nil
}

func (s *memStore) IncrementSourceCount(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id].SourceCount += delta
	return nil
}

func (s *memStore) ReassignEntity(ctx context.Context, fromEntityID, toEntityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identifiers[toEntityID] = append(s.identifiers[toEntityID], s.identifiers[fromEntityID]...)
	s.identifiers[fromEntityID] = nil
	return nil
}

func (s *memStore) ReassignByIDs(ctx context.Context, ids []string, fromEntityID, toEntityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		found := false
		kept := s.identifiers[fromEntityID][:0]
		for _, existing := range s.identifiers[fromEntityID] {
			if existing == id {
				found = true
				continue
			}
			kept = append(kept, existing)
		}
		if !found {
			return fmt.Errorf("identifier %s does not belong to entity %s", id, fromEntityID)
		}
		s.identifiers[fromEntityID] = kept
		s.identifiers[toEntityID] = append(s.identifiers[toEntityID], id)
	}
	return nil
}

func (s *memStore) CreateEdge(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if edge.ID == "" {
		edge.ID = fmt.Sprintf("edge-%d", len(s.edges)+1)
	}
	s.edges = append(s.edges, edge)
	return edge, nil
}

func (s *memStore) GetEdge(ctx context.Context, id string) (*models.IdentityEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, edge := range s.edges {
		if edge.ID == id {
			clone := *edge
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("identity edge %s not found", id)
}

func (s *memStore) GetEdgeByReference(ctx context.Context, edgeID string) (*models.IdentityEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, edge := range s.edges {
		if edge.ReferencesEdgeID != nil && *edge.ReferencesEdgeID == edgeID {
			clone := *edge
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memStore) MarkStaleByEntity(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staled = append(s.staled, entityID)
	return nil
}

func (s *memStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.lockOrder = append(s.lockOrder, key)
	s.mu.Unlock()
	return fn(ctx)
}

func (s *memStore) EntityMerged(ctx context.Context, survivorID, mergedID string, performedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, survivorID+"<-"+mergedID)
	return nil
}

func (s *memStore) EntitySplit(ctx context.Context, survivorID, restoredID string, performedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = append(s.splits, survivorID+"->"+restoredID)
	return nil
}

// memEntities and memEdges resolve the Create name collision between the
// entity and edge surfaces of memStore.
type memEntities struct{ *memStore }

func (m memEntities) Create(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error) {
	return m.CreateEntity(ctx, entity)
}

type memEdges struct{ *memStore }

func (m memEdges) Create(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error) {
	return m.CreateEdge(ctx, edge)
}

func (m memEdges) Get(ctx context.Context, id string) (*models.IdentityEdge, error) {
	return m.GetEdge(ctx, id)
}

func (m memEdges) GetByReference(ctx context.Context, edgeID string) (*models.IdentityEdge, error) {
	return m.GetEdgeByReference(ctx, edgeID)
}

func newTestEngine(s *memStore) *Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewEngine(logger, s, memEntities{s}, s, memEdges{s}, s, s, s)
}

func mergeEdgeID(t *testing.T, s *memStore) string {
	t.Helper()
	for _, edge := range s.edges {
		if edge.Type == models.EdgeTypeMergedInto {
			return edge.ID
		}
	}
	t.Fatal("no merge edge recorded")
	return ""
}

func TestEngineMerge(t *testing.T) {
	now := time.Now().UTC()

	t.Run("should pick the older entity as survivor", func(t *testing.T) {
		store := newMemStore(now, "old", "new")
		engine := newTestEngine(store)

		survivor, err := engine.Merge(context.Background(), "new", "old", MergeOptions{})
		require.NoError(t, err)
		assert.Equal(t, "old", survivor.ID)
		assert.Equal(t, "old", *store.entities["new"].MergedInto)
		assert.Equal(t, 2, store.entities["old"].SourceCount)
	})

	t.Run("should be commutative", func(t *testing.T) {
		left := newMemStore(now, "a", "b")
		right := newMemStore(now, "a", "b")

		sl, err := newTestEngine(left).Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)
		sr, err := newTestEngine(right).Merge(context.Background(), "b", "a", MergeOptions{})
		require.NoError(t, err)

		assert.Equal(t, sl.ID, sr.ID)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		first, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)
		second, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, store.edges, 1)
		assert.Len(t, store.merges, 1)
		assert.Equal(t, 2, store.entities[first.ID].SourceCount)
	})

	t.Run("should commit all writes in a single transaction", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, store.commits)
		assert.Equal(t, 0, store.rollbacks)
	})

	t.Run("should not commit when the pair already shares a root", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)
		_, err = engine.Merge(context.Background(), "b", "a", MergeOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, store.commits)
	})

	t.Run("should resolve both sides through existing merges", func(t *testing.T) {
		store := newMemStore(now, "a", "b", "c")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)
		survivor, err := engine.Merge(context.Background(), "b", "c", MergeOptions{})
		require.NoError(t, err)

		assert.Equal(t, "a", survivor.ID)
		assert.Equal(t, "a", *store.entities["c"].MergedInto)
	})

	t.Run("should move identifier evidence to the survivor", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"ident-a", "ident-b"}, store.identifiers["a"])
		assert.Empty(t, store.identifiers["b"])
	})

	t.Run("should record a merged_into edge with the score", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		score := 14.2
		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{Score: &score})
		require.NoError(t, err)

		require.Len(t, store.edges, 1)
		assert.Equal(t, models.EdgeTypeMergedInto, store.edges[0].Type)
		assert.Equal(t, "b", store.edges[0].LeftEntityID)
		assert.Equal(t, "a", store.edges[0].RightEntityID)
		assert.Equal(t, 14.2, *store.edges[0].ScoreAtVerdict)
	})

	t.Run("should acquire locks in sorted order", func(t *testing.T) {
		store := newMemStore(now, "b", "a")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "b", "a", MergeOptions{})
		require.NoError(t, err)

		require.Len(t, store.lockOrder, 2)
		assert.Equal(t, "entity:a", store.lockOrder[0])
		assert.Equal(t, "entity:b", store.lockOrder[1])
	})

	t.Run("should invalidate pending reviews for the merged entity", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)

		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)

		assert.Contains(t, store.staled, "b")
	})
}

func TestEngineResolveRoot(t *testing.T) {
	now := time.Now().UTC()

	t.Run("should return a live entity unchanged", func(t *testing.T) {
		store := newMemStore(now, "a")
		engine := newTestEngine(store)

		root, err := engine.ResolveRoot(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a", root.ID)
	})

	t.Run("should compress multi hop chains", func(t *testing.T) {
		store := newMemStore(now, "a", "b", "c")
		b, c := "b", "a"
		store.entities["c"].MergedInto = &b
		store.entities["b"].MergedInto = &c

		engine := newTestEngine(store)
		root, err := engine.ResolveRoot(context.Background(), "c")
		require.NoError(t, err)
		assert.Equal(t, "a", root.ID)
		assert.Equal(t, "a", *store.entities["c"].MergedInto)
	})

	t.Run("should fail on a cyclic chain", func(t *testing.T) {
		store := newMemStore(now, "a", "b")
		a, b := "a", "b"
		store.entities["a"].MergedInto = &b
		store.entities["b"].MergedInto = &a

		engine := newTestEngine(store)
		_, err := engine.ResolveRoot(context.Background(), "a")
		assert.Error(t, err)
	})
}

func TestEngineSplit(t *testing.T) {
	now := time.Now().UTC()

	setup := func(t *testing.T) (*memStore, *Engine, string) {
		t.Helper()
		store := newMemStore(now, "a", "b")
		engine := newTestEngine(store)
		_, err := engine.Merge(context.Background(), "a", "b", MergeOptions{})
		require.NoError(t, err)
		return store, engine, mergeEdgeID(t, store)
	}

	t.Run("should carve identifiers into a fresh entity", func(t *testing.T) {
		store, engine, edgeID := setup(t)

		restored, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{})
		require.NoError(t, err)

		assert.NotEqual(t, "a", restored.ID)
		assert.NotEqual(t, "b", restored.ID)
		assert.Equal(t, "Entity b", restored.DisplayName)
		assert.Equal(t, []string{"ident-b"}, store.identifiers[restored.ID])
		assert.Equal(t, []string{"ident-a"}, store.identifiers["a"])
	})

	t.Run("should leave the absorbed entity as a redirect", func(t *testing.T) {
		store, engine, edgeID := setup(t)

		_, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{})
		require.NoError(t, err)

		require.NotNil(t, store.entities["b"].MergedInto)
		assert.Equal(t, "a", *store.entities["b"].MergedInto)
	})

	t.Run("should record a split edge referencing the merge edge", func(t *testing.T) {
		store, engine, edgeID := setup(t)

		reason := "different people at the same shelter"
		restored, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{Reason: &reason})
		require.NoError(t, err)

		var split, kept *models.IdentityEdge
		for _, edge := range store.edges {
			switch edge.Type {
			case models.EdgeTypeSplit:
				split = edge
			case models.EdgeTypeKeptSeparate:
				kept = edge
			}
		}

		require.NotNil(t, split)
		assert.Equal(t, restored.ID, split.LeftEntityID)
		assert.Equal(t, "a", split.RightEntityID)
		require.NotNil(t, split.ReferencesEdgeID)
		assert.Equal(t, edgeID, *split.ReferencesEdgeID)
		assert.Equal(t, reason, *split.Reason)

		require.NotNil(t, kept)
		assert.Equal(t, restored.ID, kept.LeftEntityID)
		assert.Equal(t, "a", kept.RightEntityID)
	})

	t.Run("should commit the split in a single transaction", func(t *testing.T) {
		store, engine, edgeID := setup(t)
		commitsAfterMerge := store.commits

		_, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{})
		require.NoError(t, err)

		assert.Equal(t, commitsAfterMerge+1, store.commits)
	})

	t.Run("should reject a second split of the same edge", func(t *testing.T) {
		_, engine, edgeID := setup(t)

		_, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{})
		require.NoError(t, err)

		_, err = engine.Split(context.Background(), edgeID, []string{"ident-a"}, SplitOptions{})
		assert.ErrorContains(t, err, "already split")
	})

	t.Run("should reject a non-merge edge", func(t *testing.T) {
		store, engine, _ := setup(t)

		kept, err := store.CreateEdge(context.Background(), &models.IdentityEdge{
			LeftEntityID:  "b",
			RightEntityID: "a",
			Type:          models.EdgeTypeKeptSeparate,
		})
		require.NoError(t, err)

		_, err = engine.Split(context.Background(), kept.ID, []string{"ident-b"}, SplitOptions{})
		assert.ErrorContains(t, err, "not a merge")
	})

	t.Run("should reject identifiers the survivor does not hold", func(t *testing.T) {
		_, engine, edgeID := setup(t)

		_, err := engine.Split(context.Background(), edgeID, []string{"ident-z"}, SplitOptions{})
		assert.Error(t, err)
	})

	t.Run("should reject an empty identifier list", func(t *testing.T) {
		_, engine, edgeID := setup(t)

		_, err := engine.Split(context.Background(), edgeID, nil, SplitOptions{})
		assert.Error(t, err)
	})

	t.Run("should stale pending reviews on the survivor", func(t *testing.T) {
		store, engine, edgeID := setup(t)

		_, err := engine.Split(context.Background(), edgeID, []string{"ident-b"}, SplitOptions{})
		require.NoError(t, err)

		assert.Contains(t, store.staled, "a")
	})
}
