package stats

import (
	"math"
	"sort"
	"time"

	"github.com/madslake/logtap/internal/domain"
)

// Compute aggregates a full snapshot into a StatsSnapshot. The supplied now
// is captured once by the caller and anchors both recent-activity windows.
func Compute(records []domain.LogRecord, now time.Time) domain.StatsSnapshot {
	snapshot := domain.StatsSnapshot{
		TotalLogs:    len(records),
		LogLevels:    make(map[domain.Level]int),
		TopResources: []domain.ResourceCount{},
	}

	last24Hours := now.Add(-24 * time.Hour)
	lastHour := now.Add(-time.Hour)

	resourceCounts := make(map[string]int)
	firstSeen := make(map[string]int)

	for i, record := range records {
		snapshot.LogLevels[record.Level]++
		if !record.Timestamp.Before(last24Hours) {
			snapshot.RecentActivity.Last24Hours++
		}
		if !record.Timestamp.Before(lastHour) {
			snapshot.RecentActivity.LastHour++
		}
		if record.ResourceID != "" {
			if _, seen := resourceCounts[record.ResourceID]; !seen {
				firstSeen[record.ResourceID] = i
			}
			resourceCounts[record.ResourceID]++
		}
	}

	snapshot.TopResources = topResources(resourceCounts, firstSeen, 10)
	snapshot.ErrorRate = errorRate(snapshot.LogLevels, len(records))
	return snapshot
}

// topResources ranks resources by count descending; equal counts keep the
// order the resource first appeared in the store.
func topResources(counts map[string]int, firstSeen map[string]int, limit int) []domain.ResourceCount {
	ranked := make([]domain.ResourceCount, 0, len(counts))
	for resource, count := range counts {
		ranked = append(ranked, domain.ResourceCount{Resource: resource, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return firstSeen[ranked[i].Resource] < firstSeen[ranked[j].Resource]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// errorRate is the error+critical share of the whole store as a percentage
// rounded to two decimals; an empty store reports zero.
func errorRate(levels map[domain.Level]int, total int) float64 {
	if total == 0 {
		return 0
	}
	errors := levels[domain.LevelError] + levels[domain.LevelCritical]
	rate := float64(errors) / float64(total) * 100
	return math.Round(rate*100) / 100
}
