package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/matching"
	"github.com/fieldhaven/atlas/pkg/merging"
	"github.com/fieldhaven/atlas/pkg/metrics"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/nameclass"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// ObservationStore is the observation surface resolution needs.
type ObservationStore interface {
	Get(ctx context.Context, id string) (*models.Observation, error)
	IsSuperseded(ctx context.Context, obs *models.Observation) (bool, error)
	MarkProcessed(ctx context.Context, id string, entityID *string) error
	MarkSuperseded(ctx context.Context, id string) error
}

// EntityCreator creates canonical entities.
type EntityCreator interface {
	Create(ctx context.Context, entity *models.CanonicalEntity) (*models.CanonicalEntity, error)
	IncrementSourceCount(ctx context.Context, id string, delta int) error
}

// IdentifierStore is the identifier index surface resolution needs.
type IdentifierStore interface {
	UpsertBatch(ctx context.Context, identifiers []*models.Identifier) error
	FindEntityIDs(ctx context.Context, identifierType models.IdentifierType, values []string) ([]string, error)
	CountEntitiesByValue(ctx context.Context, identifierType models.IdentifierType, value string) (int, error)
}

// ConfigSource supplies the active match configuration.
type ConfigSource interface {
	GetActive(ctx context.Context) (*models.MatchConfig, error)
}

// Merger resolves merge roots and executes merges.
type Merger interface {
	ResolveRoot(ctx context.Context, entityID string) (*models.CanonicalEntity, error)
	Merge(ctx context.Context, entityA, entityB string, opts merging.MergeOptions) (*models.CanonicalEntity, error)
}

// ReviewQueue enqueues candidate pairs for human review.
type ReviewQueue interface {
	Upsert(ctx context.Context, item *models.ReviewItem) (*models.ReviewItem, error)
	MarkStaleByObservation(ctx context.Context, observationID string) error
}

// DecisionWriter records resolution decisions.
type DecisionWriter interface {
	Create(ctx context.Context, decision *models.Decision) (*models.Decision, error)
}

// NegativeCache reads kept-separate verdicts between entity pairs.
type NegativeCache interface {
	GetKeptSeparate(ctx context.Context, entityA, entityB string) (*models.IdentityEdge, error)
}

// DecisionSink publishes decision events.
type DecisionSink interface {
	DecisionRecorded(ctx context.Context, decision *models.Decision) error
}

// Resolver executes the resolution decision for one observation: normalize,
// generate candidates, score, decide, and apply the outcome.
type Resolver struct {
	logger       ectologger.Logger
	observations ObservationStore
	entities     EntityCreator
	identifiers  IdentifierStore
	configs      ConfigSource
	normalizer   *Normalizer
	candidates   *matching.CandidateGenerator
	merger       Merger
	reviews      ReviewQueue
	decisions    DecisionWriter
	edges        NegativeCache
	locker       merging.Locker
	events       DecisionSink
}

// NewResolver creates a resolver
func NewResolver(
	logger ectologger.Logger,
	observations ObservationStore,
	entities EntityCreator,
	identifiers IdentifierStore,
	configs ConfigSource,
	normalizer *Normalizer,
	candidates *matching.CandidateGenerator,
	merger Merger,
	reviews ReviewQueue,
	decisions DecisionWriter,
	edges NegativeCache,
	locker merging.Locker,
	events DecisionSink,
) *Resolver {
	return &Resolver{
		logger:       logger,
		observations: observations,
		entities:     entities,
		identifiers:  identifiers,
		configs:      configs,
		normalizer:   normalizer,
		candidates:   candidates,
		merger:       merger,
		reviews:      reviews,
		decisions:    decisions,
		edges:        edges,
		locker:       locker,
		events:       events,
	}
}

type scoredCandidate struct {
	evidence    *matching.EntityEvidence
	breakdown   models.ScoreBreakdown
	forceReview bool
}

// Resolve processes one pending observation end to end. It is safe to call
// again for an already-processed or superseded observation.
func (r *Resolver) Resolve(ctx context.Context, observationID string) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Resolver.Resolve")
	defer span.End()

	start := time.Now()

	obs, err := r.observations.Get(ctx, observationID)
	if err != nil {
		return err
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"observation_id":   obs.ID,
		"source":           obs.Source,
		"source_record_id": obs.SourceRecordID,
	})

	switch obs.Status {
	case models.ObservationStatusPending:
	case models.ObservationStatusProcessed:
		log.Debug("Observation already processed")
		return nil
	default:
		log.WithFields(map[string]any{"status": obs.Status}).Debug("Observation not resolvable")
		return nil
	}

	if stale, err := r.supersede(ctx, obs); err != nil || stale {
		return err
	}

	config, err := r.configs.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active match config: %w", err)
	}
	var params models.MatchParams
	if err := json.Unmarshal(config.Params, &params); err != nil {
		return fmt.Errorf("malformed match config version %d: %w", config.Version, err)
	}
	scorer, err := matching.NewScorer(params, config.Version)
	if err != nil {
		return fmt.Errorf("invalid match config version %d: %w", config.Version, err)
	}

	norm, err := r.normalizer.Normalize(ctx, obs)
	if err != nil {
		return err
	}

	if !HasUsableIdentifiers(norm) {
		return r.resolveAsNew(ctx, obs, norm, models.ScoreBreakdown{ConfigVersion: config.Version}, start)
	}

	evidence, err := r.candidates.Generate(ctx, norm, params.CandidateLimit)
	if err != nil {
		return err
	}
	metrics.CandidatesGenerated.Observe(float64(len(evidence)))

	guard := matching.NewHouseholdGuard(r.identifiers, params.HouseholdCap, params.AddressWeightCap)

	scored := make([]scoredCandidate, 0, len(evidence))
	for _, ev := range evidence {
		cand := scoredCandidate{
			evidence:  ev,
			breakdown: scorer.Score(norm, ev),
		}
		guarded, err := guard.Apply(ctx, norm, &cand.breakdown)
		if err != nil {
			return err
		}
		cand.forceReview = guarded.ForceReview
		scored = append(scored, cand)
	}

	best := bestCandidate(scored)
	if best == nil {
		return r.resolveAsNew(ctx, obs, norm, models.ScoreBreakdown{ConfigVersion: config.Version}, start)
	}

	prior, err := r.priorEntity(ctx, obs)
	if err != nil {
		return err
	}

	opts, err := r.verdictOptions(ctx, prior, best)
	if err != nil {
		return err
	}

	verdict := matching.Decide(best.breakdown.LogOdds, params, opts)
	if best.breakdown.HouseholdCap && verdict.Outcome == models.DecisionOutcomeReviewPending {
		metrics.HouseholdCapDemotions.Inc()
	}

	log.WithFields(map[string]any{
		"outcome":        verdict.Outcome,
		"log_odds":       best.breakdown.LogOdds,
		"probability":    best.breakdown.Probability,
		"candidate":      best.evidence.EntityID,
		"candidates":     len(scored),
		"config_version": config.Version,
		"reason":         verdict.Reason,
	}).Info("Observation scored")

	if prior != nil {
		return r.resolveWithPrior(ctx, obs, norm, prior, best, verdict, start)
	}

	switch verdict.Outcome {
	case models.DecisionOutcomeAutoMatch:
		return r.resolveAutoMatch(ctx, obs, norm, best, start)
	case models.DecisionOutcomeReviewPending:
		return r.resolveForReview(ctx, obs, norm, scorer, scored, best, start)
	default:
		return r.resolveAsNew(ctx, obs, norm, best.breakdown, start)
	}
}

// supersede marks the observation superseded if a newer version exists.
// Returns true when resolution should stop.
func (r *Resolver) supersede(ctx context.Context, obs *models.Observation) (bool, error) {
	superseded, err := r.observations.IsSuperseded(ctx, obs)
	if err != nil {
		return false, err
	}
	if !superseded {
		return false, nil
	}

	if err := r.observations.MarkSuperseded(ctx, obs.ID); err != nil {
		return true, err
	}
	if err := r.reviews.MarkStaleByObservation(ctx, obs.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to stale reviews for superseded observation")
	}
	return true, nil
}

// priorEntity finds the live root this source record already resolved to,
// via its external_ref index row.
func (r *Resolver) priorEntity(ctx context.Context, obs *models.Observation) (*models.CanonicalEntity, error) {
	ids, err := r.identifiers.FindEntityIDs(ctx, models.IdentifierTypeExternalRef, []string{sourceRef(obs)})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.merger.ResolveRoot(ctx, ids[0])
}

func (r *Resolver) verdictOptions(
	ctx context.Context,
	prior *models.CanonicalEntity,
	best *scoredCandidate,
) (matching.VerdictOptions, error) {
	opts := matching.VerdictOptions{
		HouseholdCapped: best.breakdown.HouseholdCap,
		ForceReview:     best.forceReview,
	}

	if prior != nil && prior.ID != best.evidence.EntityID {
		edge, err := r.edges.GetKeptSeparate(ctx, prior.ID, best.evidence.EntityID)
		if err != nil {
			return opts, err
		}
		if edge != nil {
			opts.KeptSeparateScore = edge.ScoreAtVerdict
		}
	}

	return opts, nil
}

// resolveWithPrior handles a source record whose earlier version already
// resolved to an entity. The observation stays with that entity; the
// verdict governs whether the entity merges with the best candidate.
func (r *Resolver) resolveWithPrior(
	ctx context.Context,
	obs *models.Observation,
	norm *models.NormalizedObservation,
	prior *models.CanonicalEntity,
	best *scoredCandidate,
	verdict matching.Verdict,
	start time.Time,
) error {
	target := prior

	if best.evidence.EntityID != prior.ID {
		switch verdict.Outcome {
		case models.DecisionOutcomeAutoMatch:
			survivor, err := r.merger.Merge(ctx, prior.ID, best.evidence.EntityID, merging.MergeOptions{
				Score: &best.breakdown.LogOdds,
			})
			if err != nil {
				return err
			}
			metrics.RecordMerge("auto")
			target = survivor
		case models.DecisionOutcomeReviewPending:
			if err := r.enqueueReview(ctx, obs, prior.ID, best); err != nil {
				return err
			}
		}
	}

	if err := r.attach(ctx, obs, norm, target.ID, false); err != nil {
		return err
	}

	return r.recordDecision(ctx, obs, target.ID, verdict.Outcome, best.breakdown, start)
}

// resolveAutoMatch attaches the observation to the best candidate.
func (r *Resolver) resolveAutoMatch(
	ctx context.Context,
	obs *models.Observation,
	norm *models.NormalizedObservation,
	best *scoredCandidate,
	start time.Time,
) error {
	if err := r.attach(ctx, obs, norm, best.evidence.EntityID, true); err != nil {
		return err
	}
	return r.recordDecision(ctx, obs, best.evidence.EntityID, models.DecisionOutcomeAutoMatch, best.breakdown, start)
}

// resolveForReview creates a provisional entity, attaches the observation
// to it, and enqueues review items against every candidate inside the
// review band, plus any the household guard routed to review.
func (r *Resolver) resolveForReview(
	ctx context.Context,
	obs *models.Observation,
	norm *models.NormalizedObservation,
	scorer *matching.Scorer,
	scored []scoredCandidate,
	best *scoredCandidate,
	start time.Time,
) error {
	entity, err := r.createEntity(ctx, obs, norm)
	if err != nil {
		return err
	}

	if err := r.attach(ctx, obs, norm, entity.ID, false); err != nil {
		return err
	}

	params := scorer.Params()
	for i := range scored {
		cand := &scored[i]
		if cand.breakdown.LogOdds < params.LowerThreshold && !cand.forceReview {
			continue
		}
		if err := r.enqueueReview(ctx, obs, entity.ID, cand); err != nil {
			return err
		}
	}

	return r.recordDecision(ctx, obs, entity.ID, models.DecisionOutcomeReviewPending, best.breakdown, start)
}

// resolveAsNew creates a fresh entity for the observation.
func (r *Resolver) resolveAsNew(
	ctx context.Context,
	obs *models.Observation,
	norm *models.NormalizedObservation,
	breakdown models.ScoreBreakdown,
	start time.Time,
) error {
	entity, err := r.createEntity(ctx, obs, norm)
	if err != nil {
		return err
	}

	if err := r.attach(ctx, obs, norm, entity.ID, false); err != nil {
		return err
	}

	return r.recordDecision(ctx, obs, entity.ID, models.DecisionOutcomeNewEntity, breakdown, start)
}

// attach writes the observation's identifier rows onto the entity and
// marks it processed, under the entity lock. A version that became
// superseded while waiting for the lock is dropped without attaching.
func (r *Resolver) attach(ctx context.Context, obs *models.Observation, norm *models.NormalizedObservation, entityID string, countSource bool) error {
	return r.locker.WithLock(ctx, "entity:"+entityID, func(ctx context.Context) error {
		if stale, err := r.supersede(ctx, obs); err != nil || stale {
			return err
		}

		if err := r.identifiers.UpsertBatch(ctx, identifierRows(norm, obs, entityID)); err != nil {
			return err
		}
		if countSource {
			if err := r.entities.IncrementSourceCount(ctx, entityID, 1); err != nil {
				return err
			}
		}
		return r.observations.MarkProcessed(ctx, obs.ID, &entityID)
	})
}

func (r *Resolver) enqueueReview(ctx context.Context, obs *models.Observation, entityID string, cand *scoredCandidate) error {
	breakdownJSON, err := json.Marshal(cand.breakdown)
	if err != nil {
		return err
	}

	otherID := cand.evidence.EntityID
	_, err = r.reviews.Upsert(ctx, &models.ReviewItem{
		ObservationID: obs.ID,
		EntityID:      entityID,
		OtherEntityID: &otherID,
		Tier:          matching.TierFor(cand.breakdown.Probability),
		Status:        models.ReviewStatusPending,
		LogOdds:       cand.breakdown.LogOdds,
		Probability:   cand.breakdown.Probability,
		Breakdown:     breakdownJSON,
		ConfigVersion: cand.breakdown.ConfigVersion,
	})
	return err
}

func (r *Resolver) createEntity(ctx context.Context, obs *models.Observation, norm *models.NormalizedObservation) (*models.CanonicalEntity, error) {
	entity := &models.CanonicalEntity{
		Kind:        obs.Kind,
		DisplayName: displayName(obs, norm),
		Quality:     models.EntityQualityNormal,
	}
	if norm.FirstName != "" {
		first := norm.FirstName
		entity.FirstName = &first
	}
	if norm.LastName != "" {
		last := norm.LastName
		entity.LastName = &last
	}
	if !nameclass.UsableForMatching(norm.NameClass) {
		entity.Quality = models.EntityQualityLowInformation
	}
	return r.entities.Create(ctx, entity)
}

func (r *Resolver) recordDecision(
	ctx context.Context,
	obs *models.Observation,
	entityID string,
	outcome models.DecisionOutcome,
	breakdown models.ScoreBreakdown,
	start time.Time,
) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}

	decision := &models.Decision{
		ObservationID: obs.ID,
		EntityID:      &entityID,
		Outcome:       outcome,
		LogOdds:       breakdown.LogOdds,
		Probability:   breakdown.Probability,
		Breakdown:     breakdownJSON,
		ConfigVersion: breakdown.ConfigVersion,
	}

	if created, err := r.decisions.Create(ctx, decision); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to record decision")
	} else if err := r.events.DecisionRecorded(ctx, created); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to publish decision event")
	}

	metrics.RecordResolution(obs.Source, string(outcome), time.Since(start).Seconds())
	return nil
}

// displayName picks a human-readable label for a fresh entity.
func displayName(obs *models.Observation, norm *models.NormalizedObservation) string {
	if norm.FirstName != "" || norm.LastName != "" {
		return strings.TrimSpace(norm.FirstName + " " + norm.LastName)
	}
	if len(norm.NameTokens) > 0 && nameclass.UsableForMatching(norm.NameClass) {
		return strings.Join(norm.NameTokens, " ")
	}
	if len(norm.Emails) > 0 {
		return norm.Emails[0]
	}
	if norm.Address != "" {
		return norm.Address
	}
	return obs.Source + " " + obs.SourceRecordID
}

func bestCandidate(scored []scoredCandidate) *scoredCandidate {
	var best *scoredCandidate
	for i := range scored {
		if best == nil || scored[i].breakdown.LogOdds > best.breakdown.LogOdds {
			best = &scored[i]
		}
	}
	return best
}
