package pipeline

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/nameclass"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

const reindexObservationLimit = 500

// ObservationLister lists the observations attached to an entity.
type ObservationLister interface {
	ListByEntity(ctx context.Context, entityID string, limit int) ([]models.Observation, error)
}

// IdentifierIndexWriter mutates the identifier index for one entity.
type IdentifierIndexWriter interface {
	UpsertBatch(ctx context.Context, identifiers []*models.Identifier) error
	DeleteByEntity(ctx context.Context, entityID string) error
}

// Reindexer rebuilds an entity's identifier index from its own observations.
// After a split this restores each side to exactly the evidence its
// observations support.
type Reindexer struct {
	observations ObservationLister
	identifiers  IdentifierIndexWriter
	normalizer   *Normalizer
	logger       ectologger.Logger
}

// NewReindexer creates a reindexer
func NewReindexer(
	observations ObservationLister,
	identifiers IdentifierIndexWriter,
	normalizer *Normalizer,
	logger ectologger.Logger,
) *Reindexer {
	return &Reindexer{
		observations: observations,
		identifiers:  identifiers,
		normalizer:   normalizer,
		logger:       logger,
	}
}

// Reindex drops the entity's identifiers and rebuilds them from its
// processed observations.
func (r *Reindexer) Reindex(ctx context.Context, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Reindexer.Reindex")
	defer span.End()

	if err := r.identifiers.DeleteByEntity(ctx, entityID); err != nil {
		return err
	}

	observations, err := r.observations.ListByEntity(ctx, entityID, reindexObservationLimit)
	if err != nil {
		return err
	}

	var rows []*models.Identifier
	for i := range observations {
		obs := &observations[i]
		if obs.Status != models.ObservationStatusProcessed {
			continue
		}

		norm, err := r.normalizer.Normalize(ctx, obs)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"observation_id": obs.ID,
			}).Warn("Skipping unnormalizable observation during reindex")
			continue
		}

		rows = append(rows, identifierRows(norm, obs, entityID)...)
	}

	if len(rows) == 0 {
		return nil
	}

	if err := r.identifiers.UpsertBatch(ctx, rows); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":    entityID,
		"identifiers":  len(rows),
		"observations": len(observations),
	}).Info("Entity identifiers reindexed")

	return nil
}

// identifierRows builds the index rows an observation contributes to an
// entity. Name tokens index only when the name is usable for matching, and
// only alongside a geo bucket row when coordinates are known.
func identifierRows(norm *models.NormalizedObservation, obs *models.Observation, entityID string) []*models.Identifier {
	var rows []*models.Identifier

	add := func(t models.IdentifierType, value string) {
		rows = append(rows, &models.Identifier{
			EntityID: entityID,
			Type:     t,
			Value:    value,
			Source:   obs.Source,
		})
	}

	for _, v := range norm.Emails {
		add(models.IdentifierTypeEmail, v)
	}
	for _, v := range norm.Phones {
		add(models.IdentifierTypePhone, v)
	}
	if norm.Address != "" {
		add(models.IdentifierTypeAddress, norm.Address)
	}
	if norm.GeoBucket != "" {
		add(models.IdentifierTypeGeoBucket, norm.GeoBucket)
	}
	if nameclass.UsableForMatching(norm.NameClass) {
		for _, tok := range norm.NameTokens {
			add(models.IdentifierTypeNameToken, tok)
		}
	}
	for _, ref := range norm.ExternalRefs {
		add(models.IdentifierTypeExternalRef, ref)
	}
	add(models.IdentifierTypeExternalRef, sourceRef(obs))

	return rows
}

// sourceRef is the index value tying a source record to its entity.
func sourceRef(obs *models.Observation) string {
	return obs.Source + ":" + obs.SourceRecordID
}
