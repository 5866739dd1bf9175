// Package handlers provides the control API handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/audiocast/internal/scheduler"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CircuitReporter exposes the media API breaker state.
type CircuitReporter interface {
	CircuitState() httpclient.CircuitState
}

// StreamCounter reports the number of open streams and cached URLs.
type StreamCounter interface {
	Len() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Pinger
	circuit   CircuitReporter
	scheduler *scheduler.Scheduler
	streams   StreamCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database used by the URL cache.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithCircuit sets the media API breaker reporter.
func (h *HealthHandler) WithCircuit(c CircuitReporter) *HealthHandler {
	h.circuit = c
	return h
}

// WithScheduler sets the scheduler whose jobs are reported.
func (h *HealthHandler) WithScheduler(s *scheduler.Scheduler) *HealthHandler {
	h.scheduler = s
	return h
}

// WithStreams sets the open stream counter.
func (h *HealthHandler) WithStreams(s StreamCounter) *HealthHandler {
	h.streams = s
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse describes service health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	OpenStreams   int               `json:"open_streams"`
	Checks        map[string]string `json:"checks"`
	Jobs          []JobStatus       `json:"jobs,omitempty"`
}

// JobStatus is a scheduled job and its last outcome.
type JobStatus struct {
	scheduler.Entry
	LastError string `json:"last_error,omitempty"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns service health including the media API circuit and scheduled jobs",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        StatusHealthy,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Checks:        make(map[string]string),
	}

	if h.db != nil {
		resp.Checks["database"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			resp.Checks["database"] = "error: " + err.Error()
			resp.Status = StatusDegraded
		}
	}

	if h.circuit != nil {
		state := h.circuit.CircuitState()
		resp.Checks["media_api"] = state.String()
		if state == httpclient.CircuitOpen {
			resp.Status = StatusDegraded
		}
	}

	if h.streams != nil {
		resp.OpenStreams = h.streams.Len()
	}

	if h.scheduler != nil {
		for _, e := range h.scheduler.Entries() {
			js := JobStatus{Entry: e}
			if last, ok := h.scheduler.Executor().LastResult(e.Name); ok {
				js.LastError = last.Error
			}
			resp.Jobs = append(resp.Jobs, js)
		}
	}

	return &HealthOutput{Body: resp}, nil
}
