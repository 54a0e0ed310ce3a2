package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/madslake/logtap/internal/domain"
)

// WAL is a length-prefixed append-only journal of log records. Every frame
// is [uint32 little-endian length][JSON record].
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens or creates the journal at path.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &WAL{file: f, path: path}, nil
}

// Append writes every record as one frame. If any write fails the file is
// truncated back to its starting offset so a batch is never partially
// durable.
func (w *WAL) Append(records ...domain.LogRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}

	for _, record := range records {
		if err := w.writeFrame(record); err != nil {
			if truncErr := w.file.Truncate(start); truncErr != nil {
				return fmt.Errorf("append wal: %v (rollback failed: %w)", err, truncErr)
			}
			if _, seekErr := w.file.Seek(start, io.SeekStart); seekErr != nil {
				return fmt.Errorf("append wal: %v (reseek failed: %w)", err, seekErr)
			}
			return err
		}
	}
	return nil
}

func (w *WAL) writeFrame(record domain.LogRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.file.Write(lenBuf); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Sync flushes journal buffers to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Replay reads every frame from the start of the journal. A truncated final
// frame, left by a crash mid-write, ends the replay without error.
func (w *WAL) Replay() ([]domain.LogRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wal: %w", err)
	}
	defer func() {
		_, _ = w.file.Seek(0, io.SeekEnd)
	}()

	var records []domain.LogRecord
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.file, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				break
			}
			return records, fmt.Errorf("replay frame length: %w", err)
		}
		length := binary.LittleEndian.Uint32(lenBuf)
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return records, fmt.Errorf("replay frame: %w", err)
		}
		var record domain.LogRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return records, fmt.Errorf("decode frame: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes the journal file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
