package store

import (
	"context"

	"github.com/madslake/logtap/internal/domain"
)

// Store owns the authoritative ordered log collection. Mutation is
// serialized; readers always observe a consistent, insertion-ordered view.
type Store interface {
	// Append durably stores one record before returning success.
	Append(ctx context.Context, record domain.LogRecord) error
	// AppendBatch stores the full batch or none of it.
	AppendBatch(ctx context.Context, records []domain.LogRecord) error
	// Snapshot returns a point-in-time copy of all records in insertion order.
	Snapshot(ctx context.Context) ([]domain.LogRecord, error)
	// GetByID returns the record with the given id or domain.ErrNotFound.
	GetByID(ctx context.Context, id string) (domain.LogRecord, error)
	// Count reports the number of stored records.
	Count(ctx context.Context) (int, error)
	// Ping verifies the backing medium is reachable.
	Ping(ctx context.Context) error
	// Close releases the backing medium.
	Close() error
}
