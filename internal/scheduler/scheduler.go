// Package scheduler runs recurring maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Errors returned by the scheduler.
var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrUnknownJob     = errors.New("unknown job")
	ErrDuplicateJob   = errors.New("job already registered")
)

// Parser accepts six-field expressions with a leading seconds field, plus
// descriptors such as @every 10m.
var Parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Entry describes a registered job.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
}

type registration struct {
	handler  JobHandler
	schedule string
	id       cron.EntryID
}

// Scheduler triggers registered jobs on their cron schedules.
type Scheduler struct {
	mu sync.RWMutex

	cron     *cron.Cron
	executor *Executor
	logger   *slog.Logger
	jobs     map[string]*registration

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a stopped scheduler that runs jobs through executor.
func NewScheduler(executor *Executor) *Scheduler {
	if executor == nil {
		executor = NewExecutor()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithParser(Parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		executor: executor,
		logger:   slog.Default(),
		jobs:     make(map[string]*registration),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Register adds h on schedule. Jobs may be registered before or after Start.
func (s *Scheduler) Register(schedule string, h JobHandler) error {
	if err := ValidateCron(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := h.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.run(h) })
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	s.jobs[name] = &registration{handler: h, schedule: schedule, id: id}

	s.logger.Debug("job registered", slog.String("job", name), slog.String("schedule", schedule))
	return nil
}

// Start begins triggering jobs. Jobs are cancelled through ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops triggering jobs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	started := s.ctx != nil
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow executes the named job immediately and returns its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.RLock()
	reg, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.executor.Execute(ctx, reg.handler), nil
}

// Entries lists registered jobs ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.jobs))
	for name, reg := range s.jobs {
		ce := s.cron.Entry(reg.id)
		out = append(out, Entry{Name: name, Schedule: reg.schedule, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Executor returns the executor jobs run through.
func (s *Scheduler) Executor() *Executor {
	return s.executor
}

func (s *Scheduler) run(h JobHandler) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.executor.Execute(ctx, h)
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the next time expr fires after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}
