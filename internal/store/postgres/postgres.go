package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/madslake/logtap/internal/domain"
	"github.com/madslake/logtap/internal/store"
)

// Store persists the log collection in PostgreSQL. Insertion order is the
// seq column; the database provides the durability guarantee.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const insertQuery = `INSERT INTO log_records
	(id, level, message, resource_id, ts, trace_id, span_id, commit_hash, metadata, ingested_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectColumns = `id, level, message, resource_id, ts, trace_id, span_id, commit_hash, metadata, ingested_at`

// Append stores a single record.
func (s *Store) Append(ctx context.Context, record domain.LogRecord) error {
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	_, err = s.pool.Exec(ctx, insertQuery,
		record.ID, record.Level, record.Message, record.ResourceID, record.Timestamp,
		record.TraceID, record.SpanID, record.Commit, metadata, record.IngestedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// AppendBatch stores every record inside one transaction so a failure leaves
// no partial batch behind.
func (s *Store) AppendBatch(ctx context.Context, records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreWrite, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, record := range records {
		metadata, err := encodeMetadata(record.Metadata)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
		batch.Queue(insertQuery,
			record.ID, record.Level, record.Message, record.ResourceID, record.Timestamp,
			record.TraceID, record.SpanID, record.Commit, metadata, record.IngestedAt)
	}
	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// Snapshot fetches the full collection in insertion order.
func (s *Store) Snapshot(ctx context.Context) ([]domain.LogRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM log_records ORDER BY seq`, selectColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.LogRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetByID fetches one record by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (domain.LogRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM log_records WHERE id = $1`, selectColumns)
	record, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LogRecord{}, domain.ErrNotFound
		}
		return domain.LogRecord{}, err
	}
	return record, nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM log_records`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.LogRecord, error) {
	var (
		record   domain.LogRecord
		metadata []byte
	)
	err := row.Scan(&record.ID, &record.Level, &record.Message, &record.ResourceID,
		&record.Timestamp, &record.TraceID, &record.SpanID, &record.Commit,
		&metadata, &record.IngestedAt)
	if err != nil {
		return domain.LogRecord{}, err
	}
	record.Timestamp = record.Timestamp.UTC()
	record.IngestedAt = record.IngestedAt.UTC()
	record.Metadata = domain.Metadata{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return domain.LogRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return record, nil
}

func encodeMetadata(m domain.Metadata) ([]byte, error) {
	if m == nil {
		m = domain.Metadata{}
	}
	return json.Marshal(m)
}
