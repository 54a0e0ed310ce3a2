package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/madslake/logtap/internal/domain"
)

// RawEvent is an inbound log event before validation.
type RawEvent struct {
	Level      string          `json:"level"`
	Message    string          `json:"message"`
	Timestamp  string          `json:"timestamp"`
	ResourceID string          `json:"resourceId"`
	TraceID    string          `json:"traceId"`
	SpanID     string          `json:"spanId"`
	Commit     string          `json:"commit"`
	Metadata   domain.Metadata `json:"metadata"`
}

// Normalizer validates raw events and canonicalizes them into stored records.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// NewNormalizer builds a Normalizer using the real clock and uuid generation.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now, newID: uuid.NewString}
}

// NewNormalizerWithClock is used by tests to pin id and time generation.
func NewNormalizerWithClock(now func() time.Time, newID func() string) *Normalizer {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Normalizer{now: now, newID: newID}
}

// Normalize turns a raw event into a LogRecord, assigning a fresh id and the
// ingestion instant. It has no side effects on any store.
func (n *Normalizer) Normalize(raw RawEvent) (domain.LogRecord, error) {
	if strings.TrimSpace(raw.Level) == "" {
		return domain.LogRecord{}, fmt.Errorf("%w: level", domain.ErrMissingField)
	}
	if strings.TrimSpace(raw.Message) == "" {
		return domain.LogRecord{}, fmt.Errorf("%w: message", domain.ErrMissingField)
	}
	if strings.TrimSpace(raw.Timestamp) == "" {
		return domain.LogRecord{}, fmt.Errorf("%w: timestamp", domain.ErrMissingField)
	}

	level, ok := domain.ParseLevel(raw.Level)
	if !ok {
		return domain.LogRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidLevel, raw.Level)
	}

	ts, ok := domain.ParseTime(raw.Timestamp)
	if !ok {
		return domain.LogRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimestamp, raw.Timestamp)
	}

	metadata := raw.Metadata
	if metadata == nil {
		metadata = domain.Metadata{}
	}

	return domain.LogRecord{
		ID:         n.newID(),
		Level:      level,
		Message:    raw.Message,
		ResourceID: raw.ResourceID,
		Timestamp:  ts,
		TraceID:    raw.TraceID,
		SpanID:     raw.SpanID,
		Commit:     raw.Commit,
		Metadata:   metadata,
		IngestedAt: n.now().UTC(),
	}, nil
}

// NormalizeBatch validates every entry before returning; if any entry fails,
// no records are returned so the caller stores nothing.
func (n *Normalizer) NormalizeBatch(raws []RawEvent) ([]domain.LogRecord, error) {
	records := make([]domain.LogRecord, 0, len(raws))
	for i, raw := range raws {
		record, err := n.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records = append(records, record)
	}
	return records, nil
}
