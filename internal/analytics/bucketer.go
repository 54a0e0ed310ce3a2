package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/madslake/logtap/internal/domain"
)

// Window optionally bounds the records considered, using the same inclusive
// from/to semantics as the query engine.
type Window struct {
	From string
	To   string
}

// BucketByHour groups records into UTC hour buckets with per-severity
// counters. Only hours containing at least one record appear; output is
// ascending by bucket start.
func BucketByHour(records []domain.LogRecord, window Window) ([]domain.HourBucket, error) {
	var from, to time.Time
	if window.From != "" {
		parsed, ok := domain.ParseTime(window.From)
		if !ok {
			return nil, fmt.Errorf("%w: from %q", domain.ErrInvalidQuery, window.From)
		}
		from = parsed
	}
	if window.To != "" {
		parsed, ok := domain.ParseTime(window.To)
		if !ok {
			return nil, fmt.Errorf("%w: to %q", domain.ErrInvalidQuery, window.To)
		}
		to = parsed
	}

	buckets := make(map[time.Time]*domain.HourBucket)
	for _, record := range records {
		if !from.IsZero() && record.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && record.Timestamp.After(to) {
			continue
		}
		start := record.Timestamp.UTC().Truncate(time.Hour)
		bucket := buckets[start]
		if bucket == nil {
			bucket = &domain.HourBucket{Timestamp: start}
			buckets[start] = bucket
		}
		switch record.Level {
		case domain.LevelInfo:
			bucket.Info++
		case domain.LevelWarning:
			bucket.Warning++
		case domain.LevelError:
			bucket.Error++
		case domain.LevelDebug:
			bucket.Debug++
		case domain.LevelCritical:
			bucket.Critical++
		}
	}

	series := make([]domain.HourBucket, 0, len(buckets))
	for _, bucket := range buckets {
		series = append(series, *bucket)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	return series, nil
}
