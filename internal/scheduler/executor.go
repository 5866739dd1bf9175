package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobHandler is a named unit of scheduled work.
type JobHandler interface {
	Name() string
	// Execute runs the job and returns a short result summary.
	Execute(ctx context.Context) (string, error)
}

// Result records one execution of a job.
type Result struct {
	Job      string        `json:"job"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// DefaultJobTimeout bounds a single job execution.
const DefaultJobTimeout = 5 * time.Minute

// Executor runs jobs with a timeout, panic recovery and logging, and keeps
// the last result of each job.
type Executor struct {
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.RWMutex
	last map[string]Result
}

// NewExecutor creates an executor.
func NewExecutor() *Executor {
	return &Executor{
		logger:  slog.Default(),
		timeout: DefaultJobTimeout,
		last:    make(map[string]Result),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithTimeout sets the per-job timeout.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Execute runs h and records the result.
func (e *Executor) Execute(ctx context.Context, h JobHandler) (result Result) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result = Result{Job: h.Name(), Started: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(result.Started)
		e.record(result)
	}()

	e.logger.Debug("job started", slog.String("job", result.Job))

	output, err := h.Execute(ctx)
	result.Output = output
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// LastResult returns the most recent result for the named job.
func (e *Executor) LastResult(name string) (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.last[name]
	return r, ok
}

func (e *Executor) record(r Result) {
	e.mu.Lock()
	e.last[r.Job] = r
	e.mu.Unlock()

	if r.Error != "" {
		e.logger.Error("job failed",
			slog.String("job", r.Job),
			slog.Duration("duration", r.Duration),
			slog.String("error", r.Error))
		return
	}
	e.logger.Info("job completed",
		slog.String("job", r.Job),
		slog.Duration("duration", r.Duration),
		slog.String("result", r.Output))
}

// CachePruner drops expired signed URL cache entries.
type CachePruner interface {
	PruneCache(ctx context.Context) int
}

// CachePruneHandler prunes the signed URL cache.
type CachePruneHandler struct {
	pruner CachePruner
}

// NewCachePruneHandler creates a handler pruning through p.
func NewCachePruneHandler(p CachePruner) *CachePruneHandler {
	return &CachePruneHandler{pruner: p}
}

// Name implements JobHandler.
func (h *CachePruneHandler) Name() string { return "cache_prune" }

// Execute implements JobHandler.
func (h *CachePruneHandler) Execute(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := h.pruner.PruneCache(ctx)
	return fmt.Sprintf("pruned %d expired entries", n), nil
}
