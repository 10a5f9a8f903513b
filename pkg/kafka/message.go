package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldhaven/atlas/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Envelope *ObservationEnvelope
}

// ObservationEnvelope is the wire format for inbound observations
type ObservationEnvelope struct {
	Source         string                 `json:"source"`
	SourceRecordID string                 `json:"source_record_id"`
	Kind           models.EntityKind      `json:"kind"`
	RawIdentifiers []models.RawIdentifier `json:"raw_identifiers"`
	ObservedAt     *time.Time             `json:"observed_at,omitempty"`
}

// Validate checks the envelope carries enough to be ingested
func (e *ObservationEnvelope) Validate() error {
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.SourceRecordID == "" {
		return fmt.Errorf("source_record_id is required")
	}
	switch e.Kind {
	case models.EntityKindPerson, models.EntityKindPlace, models.EntityKindAnimal:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if len(e.RawIdentifiers) == 0 {
		return fmt.Errorf("raw_identifiers is empty")
	}
	for i, id := range e.RawIdentifiers {
		if id.Type == "" {
			return fmt.Errorf("raw_identifiers[%d]: type is required", i)
		}
	}
	return nil
}

// ParseEnvelope parses the message value as an observation envelope
func (m *IncomingMessage) ParseEnvelope() error {
	var env ObservationEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}
	m.Envelope = &env
	return nil
}

// GetSource returns the source system from the envelope
func (m *IncomingMessage) GetSource() string {
	if m.Envelope != nil {
		return m.Envelope.Source
	}
	return m.Headers["source"]
}

// GetSourceRecordID returns the source record ID from the envelope
func (m *IncomingMessage) GetSourceRecordID() string {
	if m.Envelope != nil {
		return m.Envelope.SourceRecordID
	}
	return m.Key
}
