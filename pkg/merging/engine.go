// Package merging implements entity merge and split execution over the
// merged_into pointer graph.
package merging

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/database"
	"github.com/fieldhaven/atlas/pkg/metrics"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// maxChainHops bounds merged_into traversal. Pointers are compressed toward
// one hop, so a longer walk indicates corruption.
const maxChainHops = 8

// TxStarter opens a transaction and plants it on the context so every
// repository call inside the closure joins it.
type TxStarter interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EntityStore is the entity persistence surface the engine needs.
type EntityStore interface {
	Get(ctx context.Context, id string) (*models.CanonicalEntity, error)
	Create(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error)
	SetMergedInto(ctx context.Context, id, survivorID string) error
	CompressPointer(ctx context.Context, id, rootID string) error
	IncrementSourceCount(ctx context.Context, id string, delta int) error
}

// IdentifierStore moves identifier evidence between entities.
type IdentifierStore interface {
	ReassignEntity(ctx context.Context, fromEntityID, toEntityID string) error
	ReassignByIDs(ctx context.Context, ids []string, fromEntityID, toEntityID string) error
}

// EdgeStore records and reads identity edges.
type EdgeStore interface {
	Create(ctx context.Context, edge *models.IdentityEdge) (*models.IdentityEdge, error)
	Get(ctx context.Context, id string) (*models.IdentityEdge, error)
	GetByReference(ctx context.Context, edgeID string) (*models.IdentityEdge, error)
}

// ReviewStore invalidates review items touching an entity.
type ReviewStore interface {
	MarkStaleByEntity(ctx context.Context, entityID string) error
}

// Locker serializes work on an entity cluster.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// EventSink publishes identity lifecycle events.
type EventSink interface {
	EntityMerged(ctx context.Context, survivorID, mergedID string, performedBy *string) error
	EntitySplit(ctx context.Context, survivorID, restoredID string, performedBy *string) error
}

// MergeOptions carries merge provenance.
type MergeOptions struct {
	PerformedBy *string
	Score       *float64
}

// SplitOptions carries split provenance.
type SplitOptions struct {
	PerformedBy *string
	Reason      *string
}

// Engine executes merges and splits. All mutations happen under per-entity
// locks taken in sorted key order, and each operation's writes commit in a
// single transaction.
type Engine struct {
	logger      ectologger.Logger
	db          TxStarter
	entities    EntityStore
	identifiers IdentifierStore
	edges       EdgeStore
	reviews     ReviewStore
	locker      Locker
	events      EventSink
}

// NewEngine creates a merge engine
func NewEngine(
	logger ectologger.Logger,
	db TxStarter,
	entities EntityStore,
	identifiers IdentifierStore,
	edges EdgeStore,
	reviews ReviewStore,
	locker Locker,
	events EventSink,
) *Engine {
	return &Engine{
		logger:      logger,
		db:          db,
		entities:    entities,
		identifiers: identifiers,
		edges:       edges,
		reviews:     reviews,
		locker:      locker,
		events:      events,
	}
}

// ResolveRoot follows the merged_into chain to the live root. Walks longer
// than one hop are compressed so the next resolution is direct.
func (e *Engine) ResolveRoot(ctx context.Context, entityID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.ResolveRoot")
	defer span.End()

	current, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}

	hops := 0
	for current.IsMerged() {
		hops++
		if hops > maxChainHops {
			return nil, fmt.Errorf("merge chain for entity %s exceeds %d hops", entityID, maxChainHops)
		}
		next, err := e.entities.Get(ctx, *current.MergedInto)
		if err != nil {
			return nil, err
		}
		current = next
	}

	if hops > 1 {
		if err := e.entities.CompressPointer(ctx, entityID, current.ID); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Warn("Failed to compress merge pointer")
		}
	}

	return current, nil
}

// Merge folds two entities into one cluster. Both IDs are resolved to their
// roots first; merging an already-merged pair is a no-op, so retries are
// idempotent. The survivor is the older root (ties broken by ID), which
// makes the operation commutative in its arguments. The pointer write, the
// identifier move, the edge, and the review staling commit together; a
// crash leaves either no trace of the merge or all of it.
func (e *Engine) Merge(ctx context.Context, entityA, entityB string, opts MergeOptions) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	rootA, err := e.ResolveRoot(ctx, entityA)
	if err != nil {
		return nil, err
	}
	rootB, err := e.ResolveRoot(ctx, entityB)
	if err != nil {
		return nil, err
	}

	if rootA.ID == rootB.ID {
		return rootA, nil
	}

	var survivor *models.CanonicalEntity
	var mergedID string

	keys := lockKeys(rootA.ID, rootB.ID)
	err = e.locker.WithLock(ctx, keys[0], func(ctx context.Context) error {
		return e.locker.WithLock(ctx, keys[1], func(ctx context.Context) error {
			// Re-resolve under the locks; a concurrent merge may have
			// already joined or moved either root.
			rootA, err := e.ResolveRoot(ctx, rootA.ID)
			if err != nil {
				return err
			}
			rootB, err := e.ResolveRoot(ctx, rootB.ID)
			if err != nil {
				return err
			}
			if rootA.ID == rootB.ID {
				survivor = rootA
				return nil
			}

			winner, loser := pickSurvivor(rootA, rootB)

			ctxTx, tx, err := e.db.GetTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctxTx)

			if err := e.entities.SetMergedInto(ctxTx, loser.ID, winner.ID); err != nil {
				return err
			}
			if err := e.identifiers.ReassignEntity(ctxTx, loser.ID, winner.ID); err != nil {
				return err
			}
			if _, err := e.edges.Create(ctxTx, &models.IdentityEdge{
				LeftEntityID:   loser.ID,
				RightEntityID:  winner.ID,
				Type:           models.EdgeTypeMergedInto,
				ScoreAtVerdict: opts.Score,
				CreatedBy:      opts.PerformedBy,
			}); err != nil {
				return err
			}
			if err := e.reviews.MarkStaleByEntity(ctxTx, loser.ID); err != nil {
				return err
			}
			if err := e.entities.IncrementSourceCount(ctxTx, winner.ID, loser.SourceCount); err != nil {
				return err
			}
			if err := tx.Commit(ctxTx); err != nil {
				return err
			}

			survivor = winner
			mergedID = loser.ID
			e.logger.WithContext(ctx).WithFields(map[string]any{"survivor": winner.ID, "merged": loser.ID}).Info("Merged entities")
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if mergedID != "" {
		if err := e.events.EntityMerged(ctx, survivor.ID, mergedID, opts.PerformedBy); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to publish entity merged event")
		}
	}

	return survivor, nil
}

// Split partially undoes a recorded merge. A fresh entity is created
// carrying the absorbed entity's name, the listed identifier rows are
// re-homed from the merge survivor onto it, and a split edge referencing
// the original merge edge plus a kept_separate edge are written. The
// absorbed entity stays a redirect stub so stored entity IDs keep
// resolving. Everything commits in one transaction.
func (e *Engine) Split(ctx context.Context, edgeID string, identifierIDs []string, opts SplitOptions) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Split")
	defer span.End()

	if len(identifierIDs) == 0 {
		return nil, fmt.Errorf("split of edge %s names no identifiers", edgeID)
	}

	edge, err := e.edges.Get(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge.Type != models.EdgeTypeMergedInto {
		return nil, fmt.Errorf("edge %s is a %s edge, not a merge", edgeID, edge.Type)
	}

	absorbed, err := e.entities.Get(ctx, edge.LeftEntityID)
	if err != nil {
		return nil, err
	}
	survivor, err := e.ResolveRoot(ctx, edge.RightEntityID)
	if err != nil {
		return nil, err
	}

	var restored *models.CanonicalEntity

	keys := lockKeys(absorbed.ID, survivor.ID)
	err = e.locker.WithLock(ctx, keys[0], func(ctx context.Context) error {
		return e.locker.WithLock(ctx, keys[1], func(ctx context.Context) error {
			prior, err := e.edges.GetByReference(ctx, edgeID)
			if err != nil {
				return err
			}
			if prior != nil {
				return fmt.Errorf("merge edge %s was already split by edge %s", edgeID, prior.ID)
			}

			ctxTx, tx, err := e.db.GetTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctxTx)

			fresh, err := e.entities.Create(ctxTx, &models.CanonicalEntity{
				Kind:        absorbed.Kind,
				DisplayName: absorbed.DisplayName,
				FirstName:   absorbed.FirstName,
				LastName:    absorbed.LastName,
				Quality:     absorbed.Quality,
			})
			if err != nil {
				return err
			}
			if err := e.identifiers.ReassignByIDs(ctxTx, identifierIDs, survivor.ID, fresh.ID); err != nil {
				return err
			}
			if _, err := e.edges.Create(ctxTx, &models.IdentityEdge{
				LeftEntityID:     fresh.ID,
				RightEntityID:    survivor.ID,
				Type:             models.EdgeTypeSplit,
				Reason:           opts.Reason,
				ReferencesEdgeID: &edgeID,
				CreatedBy:        opts.PerformedBy,
			}); err != nil {
				return err
			}
			if _, err := e.edges.Create(ctxTx, &models.IdentityEdge{
				LeftEntityID:  fresh.ID,
				RightEntityID: survivor.ID,
				Type:          models.EdgeTypeKeptSeparate,
				CreatedBy:     opts.PerformedBy,
			}); err != nil {
				return err
			}
			if err := e.reviews.MarkStaleByEntity(ctxTx, survivor.ID); err != nil {
				return err
			}
			if err := tx.Commit(ctxTx); err != nil {
				return err
			}

			restored = fresh
			metrics.SplitsTotal.Inc()
			e.logger.WithContext(ctx).WithFields(map[string]any{"restored": fresh.ID, "survivor": survivor.ID, "edge": edgeID}).Info("Split entity")
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := e.events.EntitySplit(ctx, survivor.ID, restored.ID, opts.PerformedBy); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to publish entity split event")
	}

	return restored, nil
}

// pickSurvivor chooses the older root, breaking ties by ID
func pickSurvivor(a, b *models.CanonicalEntity) (winner, loser *models.CanonicalEntity) {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// lockKeys returns the per-entity lock keys in sorted order so concurrent
// merges always acquire in the same sequence.
func lockKeys(a, b string) [2]string {
	ka, kb := "entity:"+a, "entity:"+b
	if kb < ka {
		ka, kb = kb, ka
	}
	return [2]string{ka, kb}
}
