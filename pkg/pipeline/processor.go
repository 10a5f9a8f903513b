package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/fieldhaven/atlas/pkg/metrics"
	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/redisq"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// ErrProcessorStopped is returned when the processor is stopped
var ErrProcessorStopped = errors.New("processor stopped")

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of retries for a job
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to claim stale pending messages
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is the minimum idle time before claiming a message
	DefaultClaimMinIdle = 60 * time.Second
)

// ProcessorConfig holds configuration for the resolution job processor
type ProcessorConfig struct {
	// Stream name for the job queue
	Stream string

	// Consumer group name
	ConsumerGroup string

	// Consumer name (unique per instance)
	ConsumerName string

	// Number of messages to fetch per batch
	BatchSize int64

	// How long to block waiting for new messages
	BlockTimeout time.Duration

	// Maximum number of retries for a job
	MaxRetries int

	// How often to check for and claim stale pending messages
	ClaimInterval time.Duration

	// Minimum idle time before claiming a pending message
	ClaimMinIdle time.Duration

	// Number of worker goroutines
	WorkerCount int
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return ProcessorConfig{
		Stream:        "atlas:observations",
		ConsumerGroup: "atlas-resolvers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
	}
}

// ObservationResolver resolves one queued observation.
type ObservationResolver interface {
	Resolve(ctx context.Context, observationID string) error
}

// QuarantineStore persists records for observations that exhausted retries.
type QuarantineStore interface {
	Create(ctx context.Context, record *models.QuarantineRecord) (*models.QuarantineRecord, error)
}

// ObservationQuarantiner flags observations as quarantined.
type ObservationQuarantiner interface {
	MarkQuarantined(ctx context.Context, id string) error
}

// Processor consumes resolution jobs from a Redis Streams queue and drives
// them through the resolver. Failed jobs are retried via consumer-group
// reclaim; jobs past the retry limit are quarantined and dead-lettered.
type Processor struct {
	streams      *redisq.Streams
	dlq          *redisq.DeadLetterQueue
	resolver     ObservationResolver
	quarantine   QuarantineStore
	observations ObservationQuarantiner
	config       ProcessorConfig
	logger       ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan jobItem

	running bool
	mu      sync.RWMutex
}

type jobItem struct {
	message redisq.StreamMessage
	job     *redisq.JobMessage
}

// NewProcessor creates a new job processor
func NewProcessor(
	streams *redisq.Streams,
	dlq *redisq.DeadLetterQueue,
	resolver ObservationResolver,
	quarantine QuarantineStore,
	observations ObservationQuarantiner,
	config ProcessorConfig,
	logger ectologger.Logger,
) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:      streams,
		dlq:          dlq,
		resolver:     resolver,
		quarantine:   quarantine,
		observations: observations,
		config:       config,
		logger:       logger,
		stopCh:       make(chan struct{}),
		stoppedC:     make(chan struct{}),
		jobsCh:       make(chan jobItem, config.BatchSize*2),
	}
}

// Start starts the processor
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	p.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Processor.Start")
	defer span.End()

	p.logger.WithContext(ctx).Infof("Starting resolution processor: stream=%s group=%s consumer=%s workers=%d",
		p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.WorkerCount)

	if err := p.streams.CreateConsumerGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, i)
	}

	wg.Add(1)
	go p.consumeLoop(ctx, &wg)

	wg.Add(1)
	go p.claimLoop(ctx, &wg)

	go func() {
		<-p.stopCh
		close(p.jobsCh)
		wg.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Info("Resolution processor started")
	return nil
}

// Stop stops the processor gracefully
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping resolution processor...")

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Resolution processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Resolution processor shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the processor is running
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Enqueue publishes a job to the processor's stream. Used by requeue paths
// that bypass intake.
func (p *Processor) Enqueue(ctx context.Context, job *redisq.JobMessage) error {
	_, err := p.streams.Publish(ctx, p.config.Stream, job)
	return err
}

// consumeLoop continuously consumes messages from the stream
func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debug("Consumer loop started")

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Consumer loop stopping")
			return
		default:
		}

		messages, err := p.streams.Consume(
			ctx,
			p.config.Stream,
			p.config.ConsumerGroup,
			p.config.ConsumerName,
			p.config.BatchSize,
			p.config.BlockTimeout,
		)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			time.Sleep(time.Second) // Back off on error
			continue
		}

		for _, msg := range messages {
			job, err := p.parseJobMessage(msg)
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse job message %s", msg.ID)
				// Acknowledge invalid messages to prevent reprocessing
				if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, msg.ID); ackErr != nil {
					p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack invalid message %s", msg.ID)
				}
				continue
			}

			select {
			case p.jobsCh <- jobItem{message: msg, job: job}:
			case <-p.stopCh:
				return
			}
		}
	}
}

// claimLoop periodically claims stale pending messages
func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	p.logger.WithContext(ctx).Debug("Claim loop started")

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Claim loop stopping")
			return
		case <-ticker.C:
			p.claimPendingMessages(ctx)
		}
	}
}

// claimPendingMessages claims stale pending messages from other consumers
func (p *Processor) claimPendingMessages(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Processor.claimPendingMessages")
	defer span.End()

	pending, err := p.streams.Pending(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to get pending messages")
		return
	}

	if len(pending) == 0 {
		return
	}

	var staleIDs []string
	for _, msg := range pending {
		if msg.Idle < p.config.ClaimMinIdle {
			continue
		}
		if msg.RetryCount <= int64(p.config.MaxRetries) {
			staleIDs = append(staleIDs, msg.ID)
		} else {
			p.logger.WithContext(ctx).Warnf("Message %s exceeded max retries (%d), quarantining", msg.ID, msg.RetryCount)
			p.moveToDLQ(ctx, msg.ID, int(msg.RetryCount), redisq.ReasonMaxRetries, "exceeded maximum retry count")
		}
	}

	if len(staleIDs) == 0 {
		return
	}

	p.logger.WithContext(ctx).Infof("Claiming %d stale pending messages", len(staleIDs))

	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, staleIDs...)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
		return
	}

	for _, msg := range claimed {
		job, err := p.parseJobMessage(msg)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse claimed job message %s", msg.ID)
			continue
		}

		select {
		case p.jobsCh <- jobItem{message: msg, job: job}:
		case <-p.stopCh:
			return
		default:
			// Channel full, skip for now
		}
	}
}

// worker processes jobs from the channel
func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)

	for item := range p.jobsCh {
		err := p.processJob(ctx, item)

		if err == nil {
			metrics.RecordQueueJob("success")
			if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, item.message.ID); ackErr != nil {
				p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s", item.message.ID)
			}
			continue
		}

		if errors.Is(err, redisq.ErrLockNotAcquired) {
			// Another worker holds the entity; leave unacked so the
			// message is reclaimed after ClaimMinIdle.
			metrics.RecordQueueJob("contended")
			p.logger.WithContext(ctx).Debugf("Job %s hit a held lock, will be retried", item.job.ID)
			continue
		}

		metrics.RecordQueueJob("error")
		p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed, will be retried", item.job.ID)
	}

	p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

// processJob processes a single job
func (p *Processor) processJob(ctx context.Context, item jobItem) error {
	ctx, span := tracing.StartSpan(ctx, "Processor.processJob")
	defer span.End()

	metrics.QueueJobsInFlight.Inc()
	defer metrics.QueueJobsInFlight.Dec()

	start := time.Now()

	if item.job.Type != JobTypeResolveObservation {
		// Unknown job types are acked; retrying cannot fix them.
		p.logger.WithContext(ctx).Warnf("Unknown job type %q on message %s", item.job.Type, item.message.ID)
		return nil
	}

	observationID := item.job.ObservationID()
	if observationID == "" {
		p.logger.WithContext(ctx).Warnf("Job %s has no observation_id", item.job.ID)
		return nil
	}

	p.logger.WithContext(ctx).Infof("Processing job %s: observation=%s", item.job.ID, observationID)

	if err := p.resolver.Resolve(ctx, observationID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed after %s", item.job.ID, time.Since(start))
		return err
	}

	p.logger.WithContext(ctx).Infof("Job %s completed in %s", item.job.ID, time.Since(start))
	return nil
}

// parseJobMessage parses a stream message into a JobMessage
func (p *Processor) parseJobMessage(msg redisq.StreamMessage) (*redisq.JobMessage, error) {
	jobBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}

	var job redisq.JobMessage
	if err := json.Unmarshal(jobBytes, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job message: %w", err)
	}

	return &job, nil
}

// moveToDLQ quarantines a job that exhausted its retries and records it on
// the dead letter queue.
func (p *Processor) moveToDLQ(ctx context.Context, messageID string, retryCount int, reason redisq.DeadLetterReason, errorMsg string) {
	ctx, span := tracing.StartSpan(ctx, "Processor.moveToDLQ")
	defer span.End()

	// Claiming with zero idle transfers the message here so its payload
	// can be copied to the DLQ.
	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, 0, messageID)
	if err != nil || len(claimed) == 0 {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to fetch message %s for DLQ", messageID)
		if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); ackErr != nil {
			p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack failed message %s", messageID)
		}
		return
	}

	msg := claimed[0]
	job, err := p.parseJobMessage(msg)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse message %s for DLQ", messageID)
		if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); ackErr != nil {
			p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack failed message %s", messageID)
		}
		return
	}

	observationID := job.ObservationID()

	if p.dlq != nil {
		entry := &redisq.DLQEntry{
			ObservationID: observationID,
			OriginalJob:   job,
			Reason:        reason,
			ErrorMessage:  errorMsg,
			RetryCount:    retryCount,
		}

		if _, dlqErr := p.dlq.Add(ctx, entry); dlqErr != nil {
			p.logger.WithContext(ctx).WithError(dlqErr).Errorf("Failed to add job %s to DLQ", job.ID)
		} else {
			metrics.RecordDLQJob(string(reason))
		}
	}

	if observationID != "" {
		p.quarantineObservation(ctx, observationID, job, retryCount, reason, errorMsg)
	}

	if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); ackErr != nil {
		p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s after DLQ", messageID)
	}
}

func (p *Processor) quarantineObservation(
	ctx context.Context,
	observationID string,
	job *redisq.JobMessage,
	retryCount int,
	reason redisq.DeadLetterReason,
	errorMsg string,
) {
	payload, err := json.Marshal(job)
	if err != nil {
		payload = nil
	}

	record := &models.QuarantineRecord{
		ObservationID: observationID,
		Reason:        fmt.Sprintf("%s: %s", reason, errorMsg),
		Attempts:      retryCount,
		Payload:       payload,
	}

	if _, err := p.quarantine.Create(ctx, record); err != nil {
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to create quarantine record for observation %s", observationID)
		return
	}

	if err := p.observations.MarkQuarantined(ctx, observationID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to mark observation %s quarantined", observationID)
	}

	metrics.QuarantinedObservations.WithLabelValues(string(reason)).Inc()
}
