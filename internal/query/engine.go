package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/madslake/logtap/internal/domain"
)

const (
	defaultPage  = 1
	defaultLimit = 100
)

// Params carries the predicate, sort, and page window of one query. String
// predicates arrive untyped from the transport layer; time-valued ones are
// parsed here so malformed input surfaces as ErrInvalidQuery.
type Params struct {
	Level            string
	Message          string
	ResourceID       string
	TraceID          string
	SpanID           string
	Commit           string
	ParentResourceID string
	Timestamp        string
	From             string
	To               string

	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Run filters, sorts, and paginates a snapshot. All predicates combine with
// logical AND; pagination metadata always describes the full matching set.
func Run(records []domain.LogRecord, p Params) (domain.QueryResult, error) {
	match, err := compile(p)
	if err != nil {
		return domain.QueryResult{}, err
	}

	matched := make([]domain.LogRecord, 0, len(records))
	for _, record := range records {
		if match(record) {
			matched = append(matched, record)
		}
	}

	if err := sortRecords(matched, p.SortBy, p.SortOrder); err != nil {
		return domain.QueryResult{}, err
	}

	page := p.Page
	if page <= 0 {
		page = defaultPage
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	total := len(matched)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return domain.QueryResult{
		Logs: matched[start:end],
		Pagination: domain.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

type matcher func(domain.LogRecord) bool

// compile builds the conjunction of all supplied predicates.
func compile(p Params) (matcher, error) {
	var preds []matcher

	if p.Level != "" {
		level := strings.ToLower(p.Level)
		preds = append(preds, func(r domain.LogRecord) bool {
			return string(r.Level) == level
		})
	}
	if p.Message != "" {
		preds = append(preds, containsFold(p.Message, func(r domain.LogRecord) string { return r.Message }))
	}
	if p.ResourceID != "" {
		preds = append(preds, containsFold(p.ResourceID, func(r domain.LogRecord) string { return r.ResourceID }))
	}
	if p.TraceID != "" {
		preds = append(preds, containsFold(p.TraceID, func(r domain.LogRecord) string { return r.TraceID }))
	}
	if p.SpanID != "" {
		preds = append(preds, containsFold(p.SpanID, func(r domain.LogRecord) string { return r.SpanID }))
	}
	if p.Commit != "" {
		preds = append(preds, containsFold(p.Commit, func(r domain.LogRecord) string { return r.Commit }))
	}
	if p.ParentResourceID != "" {
		preds = append(preds, containsFold(p.ParentResourceID, func(r domain.LogRecord) string {
			return r.Metadata.ParentResourceID()
		}))
	}
	if p.Timestamp != "" {
		exact, ok := domain.ParseTime(p.Timestamp)
		if !ok {
			return nil, fmt.Errorf("%w: timestamp %q", domain.ErrInvalidQuery, p.Timestamp)
		}
		preds = append(preds, func(r domain.LogRecord) bool {
			return r.Timestamp.Equal(exact)
		})
	}
	if p.From != "" {
		from, ok := domain.ParseTime(p.From)
		if !ok {
			return nil, fmt.Errorf("%w: from %q", domain.ErrInvalidQuery, p.From)
		}
		preds = append(preds, func(r domain.LogRecord) bool {
			return !r.Timestamp.Before(from)
		})
	}
	if p.To != "" {
		to, ok := domain.ParseTime(p.To)
		if !ok {
			return nil, fmt.Errorf("%w: to %q", domain.ErrInvalidQuery, p.To)
		}
		preds = append(preds, func(r domain.LogRecord) bool {
			return !r.Timestamp.After(to)
		})
	}

	return func(r domain.LogRecord) bool {
		for _, pred := range preds {
			if !pred(r) {
				return false
			}
		}
		return true
	}, nil
}

// containsFold matches records whose field is non-empty and contains needle
// case-insensitively; records missing the field never match.
func containsFold(needle string, field func(domain.LogRecord) string) matcher {
	lowered := strings.ToLower(needle)
	return func(r domain.LogRecord) bool {
		value := field(r)
		if value == "" {
			return false
		}
		return strings.Contains(strings.ToLower(value), lowered)
	}
}

// sortRecords orders matched records in place. Instant-valued fields compare
// as instants; everything else compares lexically. Ties keep insertion order.
func sortRecords(records []domain.LogRecord, sortBy, sortOrder string) error {
	if sortBy == "" {
		sortBy = "timestamp"
	}
	desc := true
	switch strings.ToLower(sortOrder) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		return fmt.Errorf("%w: sortOrder %q", domain.ErrInvalidQuery, sortOrder)
	}

	var less func(a, b domain.LogRecord) bool
	switch sortBy {
	case "timestamp":
		less = timeLess(func(r domain.LogRecord) time.Time { return r.Timestamp })
	case "ingested_at":
		less = timeLess(func(r domain.LogRecord) time.Time { return r.IngestedAt })
	case "id":
		less = stringLess(func(r domain.LogRecord) string { return r.ID })
	case "level":
		less = stringLess(func(r domain.LogRecord) string { return string(r.Level) })
	case "message":
		less = stringLess(func(r domain.LogRecord) string { return r.Message })
	case "resourceId":
		less = stringLess(func(r domain.LogRecord) string { return r.ResourceID })
	case "traceId":
		less = stringLess(func(r domain.LogRecord) string { return r.TraceID })
	case "spanId":
		less = stringLess(func(r domain.LogRecord) string { return r.SpanID })
	case "commit":
		less = stringLess(func(r domain.LogRecord) string { return r.Commit })
	default:
		return fmt.Errorf("%w: sortBy %q", domain.ErrInvalidQuery, sortBy)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})
	return nil
}

func timeLess(field func(domain.LogRecord) time.Time) func(a, b domain.LogRecord) bool {
	return func(a, b domain.LogRecord) bool {
		return field(a).Before(field(b))
	}
}

func stringLess(field func(domain.LogRecord) string) func(a, b domain.LogRecord) bool {
	return func(a, b domain.LogRecord) bool {
		return field(a) < field(b)
	}
}
