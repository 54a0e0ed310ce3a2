package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/madslake/logtap/internal/domain"
	"github.com/madslake/logtap/internal/store"
)

const journalName = "logtap.wal"

// Store keeps the full ordered collection in memory and journals every
// append before acknowledging it. Restarts rebuild the collection by
// replaying the journal.
type Store struct {
	mu      sync.RWMutex
	records []domain.LogRecord
	byID    map[string]int
	journal *WAL
}

var _ store.Store = (*Store)(nil)

// OpenStore opens the journal under dataDir and replays it into memory.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	journal, err := Open(filepath.Join(dataDir, journalName))
	if err != nil {
		return nil, err
	}
	records, err := journal.Replay()
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	byID := make(map[string]int, len(records))
	for i, record := range records {
		byID[record.ID] = i
	}
	return &Store{
		records: records,
		byID:    byID,
		journal: journal,
	}, nil
}

// Append journals and publishes one record.
func (s *Store) Append(ctx context.Context, record domain.LogRecord) error {
	return s.AppendBatch(ctx, []domain.LogRecord{record})
}

// AppendBatch journals the whole batch, fsyncs, then publishes all records
// at once. Success is only reported after the fsync, so every acknowledged
// record survives a crash. A journal failure leaves both the journal and the
// in-memory collection untouched.
func (s *Store) AppendBatch(ctx context.Context, records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Append(records...); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", domain.ErrStoreWrite, err)
	}

	for _, record := range records {
		s.byID[record.ID] = len(s.records)
		s.records = append(s.records, record)
	}
	return nil
}

// Snapshot copies the current collection in insertion order.
func (s *Store) Snapshot(ctx context.Context) ([]domain.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LogRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// GetByID looks up a record by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (domain.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.LogRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return domain.LogRecord{}, domain.ErrNotFound
	}
	return s.records[idx], nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Ping verifies the journal file is still accessible.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.journal.path)
	return err
}

// Close closes the journal.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.Close()
}
