package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/madslake/logtap/internal/domain"
)

func mkRecord(id string, level domain.Level, ts time.Time) domain.LogRecord {
	return domain.LogRecord{
		ID:         id,
		Level:      level,
		Message:    "message for " + id,
		Timestamp:  ts,
		Metadata:   domain.Metadata{},
		IngestedAt: ts.Add(time.Second),
	}
}

func TestStoreAppendAndSnapshot(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, mkRecord(fmt.Sprintf("r%d", i), domain.LevelInfo, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snapshot))
	}
	for i, record := range snapshot {
		if record.ID != fmt.Sprintf("r%d", i) {
			t.Fatalf("insertion order broken at %d: %s", i, record.ID)
		}
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	batch := []domain.LogRecord{
		mkRecord("a", domain.LevelInfo, base),
		mkRecord("b", domain.LevelError, base.Add(time.Minute)),
	}
	if err := s.AppendBatch(ctx, batch); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", count)
	}
	record, err := reopened.GetByID(ctx, "b")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if record.Level != domain.LevelError || record.Message != "message for b" {
		t.Fatalf("record corrupted across restart: %+v", record)
	}
	if !record.Timestamp.Equal(base.Add(time.Minute)) {
		t.Fatalf("timestamp corrupted across restart: %s", record.Timestamp)
	}
}

func TestStoreToleratesTornFinalFrame(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Append(ctx, mkRecord("ok", domain.LevelInfo, time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// simulate a crash mid-write: a frame header promising more bytes than
	// were flushed
	f, err := os.OpenFile(filepath.Join(dir, journalName), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	torn := make([]byte, 4)
	binary.LittleEndian.PutUint32(torn, 500)
	if _, err := f.Write(append(torn, []byte("{\"id\":\"trunc")...)); err != nil {
		t.Fatalf("write torn frame: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen after torn frame: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the intact record only, got %d", count)
	}
}

func TestStoreAcknowledgedRecordsSurviveWithoutClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	base := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, mkRecord(fmt.Sprintf("r%d", i), domain.LevelInfo, base)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// no Close: replay the journal the way a restart after a crash would
	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("every acknowledged append must be on disk, got %d of 3", count)
	}
}

func TestStoreGetByIDNotFound(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if _, err := s.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreConcurrentAppendsKeepAllRecords(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := s.Append(ctx, mkRecord(id, domain.LevelInfo, time.Now().UTC())); err != nil {
					t.Errorf("append %s: %v", id, err)
				}
			}
		}(w)
	}
	wg.Wait()

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != writers*perWriter {
		t.Fatalf("expected %d records, got %d", writers*perWriter, len(snapshot))
	}
	seen := make(map[string]struct{}, len(snapshot))
	for _, record := range snapshot {
		if _, dup := seen[record.ID]; dup {
			t.Fatalf("duplicate id %s", record.ID)
		}
		seen[record.ID] = struct{}{}
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Append(ctx, mkRecord("a", domain.LevelInfo, time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.Append(ctx, mkRecord("b", domain.LevelInfo, time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatal("snapshot must not observe later appends")
	}
}
