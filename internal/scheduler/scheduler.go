package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config bounds the engine. Zero values take the documented defaults.
type Config struct {
	MaxConcurrency         int
	MaxRetries             int
	RetryBaseDelay         time.Duration
	MaxConsecutiveFailures int
	JobTimeout             time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
}

// Scheduler fires persisted jobs through a Runner, bounded by a concurrency
// cap with a FIFO overflow queue.
type Scheduler struct {
	store  *Store
	runner Runner
	cfg    Config
	logger *slog.Logger

	now          clock
	tickInterval time.Duration

	mu        sync.Mutex
	started   bool
	lifecycle context.Context // governs firings; set by Start
	running   map[string]bool
	queued    map[string]bool
	pending   []string // FIFO of job ids waiting for a slot

	wg sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the evaluation tick.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

func New(store *Store, runner Runner, cfg Config, opts ...Option) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		store:        store,
		runner:       runner,
		cfg:          cfg,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: time.Second,
		lifecycle:    context.Background(),
		running:      make(map[string]bool),
		queued:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start recovers missed one-shot jobs, arms the rest, and runs the
// evaluation loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lifecycle = ctx
	s.mu.Unlock()

	s.recover()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop waits for in-flight firings to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recover arms every enabled job on startup. A one-shot whose time passed
// while the process was down fires once, but only if it never ran.
func (s *Scheduler) recover() {
	now := s.now()
	for _, job := range s.store.List() {
		if !job.Enabled {
			continue
		}
		id := job.ID
		if job.Schedule.Kind == KindAt && time.UnixMilli(job.Schedule.AtMs).Before(now) {
			if job.State.RunCount == 0 {
				s.logger.Info("recovering missed one-shot job", "job", id)
				_ = s.store.Mutate(id, func(j *Job) { j.State.NextRunAt = now.UnixMilli() })
			} else {
				_ = s.store.Mutate(id, func(j *Job) { j.State.NextRunAt = 0 })
			}
			continue
		}
		_ = s.store.Mutate(id, func(j *Job) { s.rearmLocked(j, now) })
	}
}

// rearmLocked recomputes NextRunAt. Called inside store.Mutate.
func (s *Scheduler) rearmLocked(job *Job, now time.Time) {
	next, ok, err := job.Schedule.Next(now)
	if err != nil {
		s.logger.Warn("cannot arm job", "job", job.ID, "error", err)
		job.State.NextRunAt = 0
		return
	}
	if !ok {
		job.State.NextRunAt = 0
		return
	}
	job.State.NextRunAt = next.UnixMilli()
}

// Tick evaluates due jobs and dispatches as capacity allows. Exported for
// tests; the Start loop calls it on every tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UnixMilli()

	s.mu.Lock()
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.NextRunAt == 0 || job.State.NextRunAt > now {
			continue
		}
		s.enqueueLocked(job.ID)
	}
	s.dispatchLocked()
	s.mu.Unlock()
}

// enqueueLocked adds a job to the FIFO unless it is already queued or
// running. Caller holds s.mu.
func (s *Scheduler) enqueueLocked(id string) {
	if s.queued[id] || s.running[id] {
		return
	}
	s.queued[id] = true
	s.pending = append(s.pending, id)
}

// dispatchLocked starts queued jobs while slots remain. Caller holds s.mu.
// Firings run under the scheduler's lifecycle context, never a caller's: a
// run_now triggered from an agent turn must outlive that turn.
func (s *Scheduler) dispatchLocked() {
	for len(s.pending) > 0 && len(s.running) < s.cfg.MaxConcurrency {
		id := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.queued, id)

		job, ok := s.store.Get(id)
		if !ok || !job.Enabled {
			continue
		}
		s.running[id] = true
		s.wg.Add(1)
		go s.execute(s.lifecycle, job)
	}
}

// execute runs one firing with retries, then updates state and re-arms.
func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.dispatchLocked()
		s.mu.Unlock()
	}()

	// The firing counts as a run from the moment it starts; missed-job
	// recovery keys off run_count to tell "never fired" from "fired and
	// failed".
	_ = s.store.Mutate(job.ID, func(j *Job) {
		j.State.LastRunAt = s.now().UnixMilli()
		j.State.RunCount++
	})

	status, errMsg := s.runWithRetries(ctx, job)

	now := s.now()
	finished := false
	_ = s.store.Mutate(job.ID, func(j *Job) {
		j.State.LastStatus = status
		j.State.LastError = errMsg

		if status == StatusOK {
			j.State.ConsecutiveFailures = 0
		} else {
			j.State.ConsecutiveFailures++
			if j.State.ConsecutiveFailures >= s.cfg.MaxConsecutiveFailures {
				j.Enabled = false
				s.logger.Warn("job auto-disabled after repeated failures",
					"job", j.ID, "failures", j.State.ConsecutiveFailures)
			}
		}

		if j.OneShot() {
			finished = status == StatusOK
			j.State.NextRunAt = 0
			return
		}
		if j.Enabled {
			s.rearmLocked(j, now)
		} else {
			j.State.NextRunAt = 0
		}
	})

	if finished && job.DeleteAfterRun {
		if _, err := s.store.Remove(job.ID); err != nil {
			s.logger.Warn("remove finished job", "job", job.ID, "error", err)
		}
	}
}

// runWithRetries performs the firing. Timeouts are terminal for the
// attempt; errors retry with exponential backoff.
func (s *Scheduler) runWithRetries(ctx context.Context, job *Job) (status, errMsg string) {
	for attempt := 0; ; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
		err := s.runner.RunJob(runCtx, job)
		timedOut := runCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil && !timedOut {
			return StatusOK, ""
		}
		if timedOut {
			s.logger.Warn("job timed out", "job", job.ID, "timeout", s.cfg.JobTimeout)
			return StatusTimeout, "job timed out"
		}
		if ctx.Err() != nil {
			return StatusSkipped, "scheduler shutting down"
		}
		if attempt >= s.cfg.MaxRetries {
			return StatusError, err.Error()
		}

		delay := s.cfg.RetryBaseDelay << attempt
		s.logger.Info("retrying job", "job", job.ID, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return StatusSkipped, "scheduler shutting down"
		case <-time.After(delay):
		}
	}
}

// Add persists and arms a new job.
func (s *Scheduler) Add(name string, sched Schedule, payload Payload, deleteAfterRun bool) (*Job, error) {
	now := s.now()
	if sched.Kind == KindEvery && sched.AnchorMs == 0 {
		// Interval schedules fire on a fixed grid anchored at creation.
		sched.AnchorMs = now.UnixMilli()
	}
	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		Schedule:       sched,
		Payload:        payload,
		Enabled:        true,
		CreatedAt:      now.UnixMilli(),
		UpdatedAt:      now.UnixMilli(),
		DeleteAfterRun: deleteAfterRun || sched.Kind == KindAt,
	}
	s.rearmLocked(job, now)
	if err := s.store.Put(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Update applies a mutation and re-arms the job. Re-enabling a disabled job
// clears its failure streak.
func (s *Scheduler) Update(id string, apply func(*Job)) (*Job, error) {
	now := s.now()
	err := s.store.Mutate(id, func(j *Job) {
		wasEnabled := j.Enabled
		apply(j)
		j.UpdatedAt = now.UnixMilli()
		if j.Enabled && !wasEnabled {
			j.State.ConsecutiveFailures = 0
		}
		if j.Enabled {
			s.rearmLocked(j, now)
		} else {
			j.State.NextRunAt = 0
		}
	})
	if err != nil {
		return nil, err
	}
	job, _ := s.store.Get(id)
	return job, nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) (bool, error) {
	return s.store.Remove(id)
}

// List returns all jobs.
func (s *Scheduler) List() []*Job {
	return s.store.List()
}

// RunNow queues a job for immediate execution regardless of its schedule.
// The firing detaches from ctx; cancelling the caller does not abort it.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	if _, ok := s.store.Get(id); !ok {
		return errNoJob(id)
	}
	s.mu.Lock()
	s.enqueueLocked(id)
	s.dispatchLocked()
	s.mu.Unlock()
	return nil
}

type errNoJob string

func (e errNoJob) Error() string { return "no job " + string(e) }
