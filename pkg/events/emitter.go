// Package events handles event emission for identity lifecycle changes
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/kafka"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// Emitter publishes identity lifecycle events to Kafka
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EntityMerged emits an entity.merged event keyed by the survivor
func (e *Emitter) EntityMerged(ctx context.Context, survivorID, mergedID string, performedBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMerged")
	defer span.End()

	event := EntityMergedEvent{
		EventType:     EventEntityMerged,
		SchemaVersion: SchemaVersion,
		SurvivorID:    survivorID,
		MergedID:      mergedID,
		PerformedBy:   performedBy,
		Timestamp:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := e.producer.Publish(ctx, survivorID, EventEntityMerged, data); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged event")
		return err
	}

	return nil
}

// EntitySplit emits an entity.split event keyed by the survivor
func (e *Emitter) EntitySplit(ctx context.Context, survivorID, restoredID string, performedBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntitySplit")
	defer span.End()

	event := EntitySplitEvent{
		EventType:     EventEntitySplit,
		SchemaVersion: SchemaVersion,
		SurvivorID:    survivorID,
		RestoredID:    restoredID,
		PerformedBy:   performedBy,
		Timestamp:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := e.producer.Publish(ctx, survivorID, EventEntitySplit, data); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.split event")
		return err
	}

	return nil
}

// DecisionRecorded emits a decision.recorded event keyed by the entity
func (e *Emitter) DecisionRecorded(ctx context.Context, decision *models.Decision) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DecisionRecorded")
	defer span.End()

	event := DecisionRecordedEvent{
		EventType:     EventDecisionRecorded,
		SchemaVersion: SchemaVersion,
		ObservationID: decision.ObservationID,
		Outcome:       decision.Outcome,
		LogOdds:       decision.LogOdds,
		Probability:   decision.Probability,
		ConfigVersion: decision.ConfigVersion,
		Timestamp:     time.Now().UTC(),
	}

	key := decision.ObservationID
	if decision.EntityID != nil {
		event.EntityID = *decision.EntityID
		key = *decision.EntityID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := e.producer.Publish(ctx, key, EventDecisionRecorded, data); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit decision.recorded event")
		return err
	}

	return nil
}
