package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/madslake/logtap/internal/analytics"
	"github.com/madslake/logtap/internal/domain"
	"github.com/madslake/logtap/internal/ingest"
	"github.com/madslake/logtap/internal/query"
	"github.com/madslake/logtap/internal/stats"
	"github.com/madslake/logtap/internal/store"
	"github.com/madslake/logtap/internal/stream"
)

// Service wires normalization, storage, queries, and live fan-out together.
// Every ingestion follows the same sequence: validate, durably append, then
// broadcast. Broadcast problems never fail the ingestion call.
type Service struct {
	store      store.Store
	normalizer *ingest.Normalizer
	hub        *stream.Hub
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a log service.
func New(st store.Store, normalizer *ingest.Normalizer, hub *stream.Hub, logger *slog.Logger) *Service {
	if normalizer == nil {
		normalizer = ingest.NewNormalizer()
	}
	if hub == nil {
		hub = stream.NewHub(0)
	}
	return &Service{
		store:      st,
		normalizer: normalizer,
		hub:        hub,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest validates, stores, and broadcasts a single raw event.
func (s *Service) Ingest(ctx context.Context, raw ingest.RawEvent) (domain.LogRecord, error) {
	record, err := s.normalizer.Normalize(raw)
	if err != nil {
		return domain.LogRecord{}, err
	}
	if err := s.store.Append(ctx, record); err != nil {
		return domain.LogRecord{}, err
	}
	s.broadcast(record)
	return record, nil
}

// IngestBatch validates every entry up front, stores the batch atomically,
// then broadcasts per record in insertion order. Any invalid entry rejects
// the whole batch before the store is touched.
func (s *Service) IngestBatch(ctx context.Context, raws []ingest.RawEvent) ([]domain.LogRecord, error) {
	records, err := s.normalizer.NormalizeBatch(raws)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendBatch(ctx, records); err != nil {
		return nil, err
	}
	for _, record := range records {
		s.broadcast(record)
	}
	return records, nil
}

// Query answers a filtered, sorted, paginated read over a point-in-time
// snapshot.
func (s *Service) Query(ctx context.Context, p query.Params) (domain.QueryResult, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return domain.QueryResult{}, err
	}
	return query.Run(snapshot, p)
}

// Get returns the record with the given id.
func (s *Service) Get(ctx context.Context, id string) (domain.LogRecord, error) {
	return s.store.GetByID(ctx, id)
}

// Stats computes a full-store aggregation anchored to a single now.
func (s *Service) Stats(ctx context.Context) (domain.StatsSnapshot, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return stats.Compute(snapshot, s.now()), nil
}

// Analytics buckets the store into an hourly severity series.
func (s *Service) Analytics(ctx context.Context, window analytics.Window) ([]domain.HourBucket, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.BucketByHour(snapshot, window)
}

// Hub exposes the broadcaster for transport handlers.
func (s *Service) Hub() *stream.Hub {
	return s.hub
}

func (s *Service) broadcast(record domain.LogRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("failed to marshal record for broadcast", "id", record.ID, "error", err)
		return
	}
	s.hub.Broadcast(payload)
}
