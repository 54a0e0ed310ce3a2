package domain

import (
	"strings"
	"time"
)

// Level classifies the severity of a log record.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelDebug    Level = "debug"
	LevelCritical Level = "critical"
)

// Levels lists every accepted severity in a fixed order.
var Levels = []Level{LevelInfo, LevelWarning, LevelError, LevelDebug, LevelCritical}

// ParseLevel matches s case-insensitively against the accepted severities.
func ParseLevel(s string) (Level, bool) {
	lowered := Level(strings.ToLower(strings.TrimSpace(s)))
	for _, l := range Levels {
		if l == lowered {
			return l, true
		}
	}
	return "", false
}

// timeLayouts are attempted in order when parsing caller-supplied instants.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a caller-supplied instant and normalizes it to UTC.
func ParseTime(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Metadata is the open key/value payload attached to a record.
type Metadata map[string]any

// ParentResourceID returns metadata.parentResourceId when present and a string.
func (m Metadata) ParentResourceID() string {
	if m == nil {
		return ""
	}
	if v, ok := m["parentResourceId"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// LogRecord is one stored log event. Records are immutable once appended.
type LogRecord struct {
	ID         string    `json:"id"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	ResourceID string    `json:"resourceId"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"traceId"`
	SpanID     string    `json:"spanId"`
	Commit     string    `json:"commit"`
	Metadata   Metadata  `json:"metadata"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Pagination describes the full matching set of a query, not just the
// returned page.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// QueryResult is one page of matching records plus pagination metadata.
type QueryResult struct {
	Logs       []LogRecord `json:"logs"`
	Pagination Pagination  `json:"pagination"`
}

// RecentActivity counts records ingested within rolling windows ending now.
type RecentActivity struct {
	Last24Hours int `json:"last24Hours"`
	LastHour    int `json:"lastHour"`
}

// ResourceCount pairs a resource identifier with its record count.
type ResourceCount struct {
	Resource string `json:"resource"`
	Count    int    `json:"count"`
}

// StatsSnapshot is a full-store aggregation computed at a single instant.
type StatsSnapshot struct {
	TotalLogs      int             `json:"totalLogs"`
	LogLevels      map[Level]int   `json:"logLevels"`
	RecentActivity RecentActivity  `json:"recentActivity"`
	TopResources   []ResourceCount `json:"topResources"`
	ErrorRate      float64         `json:"errorRate"`
}

// HourBucket counts records per severity within one UTC hour. Timestamp is
// the start of the hour.
type HourBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Info      int       `json:"info"`
	Warning   int       `json:"warning"`
	Error     int       `json:"error"`
	Debug     int       `json:"debug"`
	Critical  int       `json:"critical"`
}
