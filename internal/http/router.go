package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/madslake/logtap/internal/analytics"
	"github.com/madslake/logtap/internal/domain"
	"github.com/madslake/logtap/internal/ingest"
	"github.com/madslake/logtap/internal/query"
	"github.com/madslake/logtap/internal/service/logs"
	"github.com/madslake/logtap/internal/stream"
)

const (
	healthCheckTimeout     = 2 * time.Second
	defaultRateLimitIngest = 600
	defaultRateLimitQuery  = 240
	defaultRateLimitWindow = time.Minute
	sseHeartbeatInterval   = 25 * time.Second
	maxIngestBodyBytes     = 10 << 20
)

// Config tunes router behavior.
type Config struct {
	RateLimitIngest int
	RateLimitQuery  int
	RateLimitWindow time.Duration
	Registry        *prometheus.Registry
}

// Router wires HTTP endpoints to the log engine.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	logs        *logs.Service
	limiter     RateLimiter
	upgrader    websocket.Upgrader
	metrics     *metrics
	registry    *prometheus.Registry
	storeHealth func(context.Context) error

	limitIngest int
	limitQuery  int
	rateWindow  time.Duration
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc *logs.Service, limiter RateLimiter, storeHealth func(context.Context) error, cfg Config) *Router {
	if cfg.RateLimitIngest == 0 {
		cfg.RateLimitIngest = defaultRateLimitIngest
	}
	if cfg.RateLimitQuery == 0 {
		cfg.RateLimitQuery = defaultRateLimitQuery
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		logs:    svc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry:    cfg.Registry,
		storeHealth: storeHealth,
		limitIngest: cfg.RateLimitIngest,
		limitQuery:  cfg.RateLimitQuery,
		rateWindow:  cfg.RateLimitWindow,
	}
	r.metrics = newMetrics(cfg.Registry, func() float64 {
		return float64(svc.Hub().Count())
	})
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/api/health", r.audit("health", r.handleHealth))
	r.mux.HandleFunc("/api/ingest", r.audit("ingest", r.withRateLimit("ingest", r.limitIngest, r.handleIngest)))
	r.mux.HandleFunc("/api/ingest/batch", r.audit("ingest_batch", r.withRateLimit("ingest", r.limitIngest, r.handleIngestBatch)))
	r.mux.HandleFunc("/api/query", r.audit("query", r.withRateLimit("query", r.limitQuery, r.handleQuery)))
	r.mux.HandleFunc("/api/logs/", r.audit("log_by_id", r.handleLogByID))
	r.mux.HandleFunc("/api/stats", r.audit("stats", r.withRateLimit("query", r.limitQuery, r.handleStats)))
	r.mux.HandleFunc("/api/analytics/logs-by-level", r.audit("analytics", r.withRateLimit("query", r.limitQuery, r.handleAnalytics)))
	r.mux.HandleFunc("/api/live", r.handleLive)
	r.mux.HandleFunc("/api/live/sse", r.handleLiveSSE)
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var raw ingest.RawEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxIngestBodyBytes)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record, err := r.logs.Ingest(req.Context(), raw)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	r.metrics.recordIngested(string(record.Level), 1)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "log ingested successfully",
		"id":      record.ID,
	})
}

func (r *Router) handleIngestBatch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Logs []ingest.RawEvent `json:"logs"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxIngestBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Logs) == 0 {
		writeError(w, http.StatusBadRequest, "logs array must not be empty")
		return
	}
	records, err := r.logs.IngestBatch(req.Context(), payload.Logs)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	for _, record := range records {
		r.metrics.recordIngested(string(record.Level), 1)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("%d logs ingested successfully", len(records)),
		"count":   len(records),
	})
}

func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	params, err := parseQueryParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := r.logs.Query(req.Context(), params)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseQueryParams(req *http.Request) (query.Params, error) {
	values := req.URL.Query()
	params := query.Params{
		Level:            values.Get("level"),
		Message:          values.Get("message"),
		ResourceID:       values.Get("resourceId"),
		TraceID:          values.Get("traceId"),
		SpanID:           values.Get("spanId"),
		Commit:           values.Get("commit"),
		ParentResourceID: values.Get("parentResourceId"),
		Timestamp:        values.Get("timestamp"),
		From:             values.Get("from"),
		To:               values.Get("to"),
		SortBy:           values.Get("sortBy"),
		SortOrder:        values.Get("sortOrder"),
	}
	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return query.Params{}, fmt.Errorf("%w: page %q", domain.ErrInvalidQuery, raw)
		}
		params.Page = page
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return query.Params{}, fmt.Errorf("%w: limit %q", domain.ErrInvalidQuery, raw)
		}
		params.Limit = limit
	}
	return params, nil
}

func (r *Router) handleLogByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/api/logs/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	record, err := r.logs.Get(req.Context(), id)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	snapshot, err := r.logs.Stats(req.Context())
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Router) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	window := analytics.Window{
		From: req.URL.Query().Get("from"),
		To:   req.URL.Query().Get("to"),
	}
	series, err := r.logs.Analytics(req.Context(), window)
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.storeHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.storeHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	message := "log engine operational"
	if status != "ok" {
		message = "log engine degraded"
	}
	payload := map[string]any{
		"status":           status,
		"message":          message,
		"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
		"connectedClients": r.logs.Hub().Count(),
		"components":       components,
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleLive(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := stream.NewClient(conn, r.logger)
	r.logs.Hub().Register(client)
	go func() {
		defer func() {
			r.logs.Hub().Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleLiveSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := stream.NewSSEClient(w, flusher, r.logger)
	r.logs.Hub().Register(client)
	defer func() {
		r.logs.Hub().Unregister(client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// audit wraps handlers with request logging and metrics.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		r.logger.Info("http request", fields...)
	}
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
