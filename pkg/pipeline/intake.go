package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/fieldhaven/atlas/pkg/fingerprint"
	"github.com/fieldhaven/atlas/pkg/kafka"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/redisq"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// JobTypeResolveObservation is the queue job type for observation resolution
const JobTypeResolveObservation = "resolve_observation"

// ObservationWriter is the observation persistence surface intake needs.
type ObservationWriter interface {
	Create(ctx context.Context, obs *models.Observation) (*models.Observation, error)
	GetLatestBySourceRecord(ctx context.Context, source, sourceRecordID string) (*models.Observation, error)
	MarkSuperseded(ctx context.Context, id string) error
}

// ReviewInvalidator marks review items stale when their observation is
// replaced.
type ReviewInvalidator interface {
	MarkStaleByObservation(ctx context.Context, observationID string) error
}

// JobPublisher enqueues resolution jobs.
type JobPublisher interface {
	Publish(ctx context.Context, stream string, job *redisq.JobMessage) (string, error)
}

// Intake persists inbound observations and enqueues them for resolution.
// Re-observations with an unchanged fingerprint are dropped; a changed
// fingerprint supersedes any still-pending older version of the same source
// record.
type Intake struct {
	observations ObservationWriter
	reviews      ReviewInvalidator
	queue        JobPublisher
	stream       string
	logger       ectologger.Logger
}

// NewIntake creates an intake service
func NewIntake(
	observations ObservationWriter,
	reviews ReviewInvalidator,
	queue JobPublisher,
	stream string,
	logger ectologger.Logger,
) *Intake {
	return &Intake{
		observations: observations,
		reviews:      reviews,
		queue:        queue,
		stream:       stream,
		logger:       logger,
	}
}

// Ingest records an observation envelope. Returns the stored observation
// and whether a new version was created.
func (i *Intake) Ingest(ctx context.Context, env *kafka.ObservationEnvelope) (*models.Observation, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Intake.Ingest")
	defer span.End()

	if err := env.Validate(); err != nil {
		return nil, false, err
	}

	fp := fingerprint.Observation(env.Source, env.SourceRecordID, env.Kind, env.RawIdentifiers)

	latest, err := i.observations.GetLatestBySourceRecord(ctx, env.Source, env.SourceRecordID)
	if err != nil {
		return nil, false, err
	}

	if latest != nil && !fingerprint.HasChanged(latest.Fingerprint, fp) {
		i.logger.WithContext(ctx).WithFields(map[string]any{
			"source":           env.Source,
			"source_record_id": env.SourceRecordID,
			"observation_id":   latest.ID,
		}).Debug("Observation unchanged, skipping")
		return latest, false, nil
	}

	rawJSON, err := json.Marshal(env.RawIdentifiers)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal raw identifiers: %w", err)
	}

	observedAt := time.Now().UTC()
	if env.ObservedAt != nil {
		observedAt = env.ObservedAt.UTC()
	}

	obs := &models.Observation{
		Source:         env.Source,
		SourceRecordID: env.SourceRecordID,
		Kind:           env.Kind,
		RawIdentifiers: rawJSON,
		Fingerprint:    fp,
		Status:         models.ObservationStatusPending,
		ObservedAt:     observedAt,
	}

	created, err := i.observations.Create(ctx, obs)
	if err != nil {
		return nil, false, err
	}

	if latest != nil && latest.Status == models.ObservationStatusPending {
		if err := i.observations.MarkSuperseded(ctx, latest.ID); err != nil {
			i.logger.WithContext(ctx).WithError(err).Warn("Failed to supersede older observation")
		}
		if err := i.reviews.MarkStaleByObservation(ctx, latest.ID); err != nil {
			i.logger.WithContext(ctx).WithError(err).Warn("Failed to stale reviews for superseded observation")
		}
	}

	job := &redisq.JobMessage{
		ID:        uuid.New().String(),
		Type:      JobTypeResolveObservation,
		CreatedAt: time.Now().UTC(),
		Payload: map[string]any{
			"observation_id": created.ID,
		},
	}

	if _, err := i.queue.Publish(ctx, i.stream, job); err != nil {
		i.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"observation_id": created.ID,
		}).Error("Failed to enqueue resolution job")
		return created, true, err
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"observation_id":   created.ID,
		"source":           env.Source,
		"source_record_id": env.SourceRecordID,
		"version":          created.Version,
	}).Info("Observation ingested")

	return created, true, nil
}

// HandleMessage adapts intake to the Kafka consumer handler shape.
func (i *Intake) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	if msg.Envelope == nil {
		return fmt.Errorf("message has no observation envelope")
	}
	_, _, err := i.Ingest(ctx, msg.Envelope)
	return err
}
