package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"encore/internal/game"

	"github.com/google/uuid"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrNotLeader  = errors.New("scheduler lease held by another process")
)

type CursorStore interface {
	// SeedCursors upserts frequency metadata without touching last_applied.
	SeedCursors(ctx context.Context, cursors []Cursor) error
	Cursor(ctx context.Context, name string) (Cursor, error)
	ListCursors(ctx context.Context) ([]Cursor, error)
	AdvanceCursor(ctx context.Context, name string, at time.Time) error
}

// Lease guards the tick loop against a second live process.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
}

type Job func(ctx context.Context) error

type Options struct {
	Policy     Policy
	Clock      game.Clock
	Lease      Lease
	JobTimeout time.Duration
	Logger     *slog.Logger
	// AfterTick runs after every tick, leader or not.
	AfterTick func()
}

type Run struct {
	ID       string        `json:"id"`
	Job      string        `json:"job"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

func (r Run) OK() bool { return r.Err == nil }

type JobStatus struct {
	Name        string     `json:"name"`
	Frequency   Frequency  `json:"frequency"`
	Weekday     *int       `json:"weekday,omitempty"`
	DayOfMonth  int        `json:"day_of_month,omitempty"`
	LastApplied time.Time  `json:"last_applied"`
	Target      *time.Time `json:"target,omitempty"`
	Next        *time.Time `json:"next,omitempty"`
	Due         bool       `json:"due"`
	Registered  bool       `json:"registered"`
}

type Scheduler struct {
	store     CursorStore
	policy    Policy
	clock     game.Clock
	lease     Lease
	timeout   time.Duration
	log       *slog.Logger
	afterTick func()

	runMu sync.Mutex
	regMu sync.RWMutex
	jobs  map[string]Job
	order []string
}

func New(store CursorStore, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = game.SystemClock{}
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	return &Scheduler{
		store:     store,
		policy:    opts.Policy,
		clock:     opts.Clock,
		lease:     opts.Lease,
		timeout:   opts.JobTimeout,
		log:       opts.Logger,
		afterTick: opts.AfterTick,
		jobs:      map[string]Job{},
	}
}

// Register adds a job; jobs run in registration order within a tick.
func (s *Scheduler) Register(name string, job Job) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		s.order = append(s.order, name)
	}
	s.jobs[name] = job
}

func (s *Scheduler) Names() []string {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return append([]string(nil), s.order...)
}

// Tick evaluates every registered job once and runs the due ones
// sequentially. It returns the runs that were attempted.
func (s *Scheduler) Tick(ctx context.Context) []Run {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.afterTick != nil {
		defer s.afterTick()
	}

	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			s.log.Error("scheduler lease check failed", "err", err)
			return nil
		}
		if !held {
			s.log.Warn("scheduler lease not held, skipping tick")
			return nil
		}
	}

	var runs []Run
	for _, name := range s.Names() {
		if ctx.Err() != nil {
			break
		}
		cursor, err := s.store.Cursor(ctx, name)
		if err != nil {
			s.log.Error("job cursor read failed", "job", name, "err", err)
			continue
		}
		now := s.clock.Now()
		if !s.policy.Due(cursor, now) {
			continue
		}
		runs = append(runs, s.execute(ctx, name, s.job(name), now))
	}
	return runs
}

// RunNow executes a registered job immediately, outside its window. The
// cursor advances on success exactly as in a tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Run, error) {
	job := s.job(name)
	if job == nil {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			return Run{}, err
		}
		if !held {
			return Run{}, ErrNotLeader
		}
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.execute(ctx, name, job, s.clock.Now()), nil
}

func (s *Scheduler) job(name string) Job {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return s.jobs[name]
}

func (s *Scheduler) execute(ctx context.Context, name string, job Job, now time.Time) Run {
	run := Run{ID: uuid.NewString(), Job: name, Started: now}
	log := s.log.With("job", name, "run_id", run.ID)
	log.Info("job started")

	began := time.Now()
	run.Err = s.call(ctx, job)
	run.Duration = time.Since(began)
	if run.Err != nil {
		log.Error("job failed", "err", run.Err, "duration", run.Duration.String())
		return run
	}
	if err := s.store.AdvanceCursor(ctx, name, now); err != nil {
		run.Err = fmt.Errorf("advance cursor: %w", err)
		log.Error("job cursor advance failed", "err", err)
		return run
	}
	log.Info("job complete", "duration", run.Duration.String())
	return run
}

func (s *Scheduler) call(ctx context.Context, job Job) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
			s.log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return job(ctx)
}

// RunForever ticks immediately and then every interval until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	s.log.Info("scheduler started", "poll_every", every.String(), "jobs", len(s.Names()))
	s.Tick(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutdown")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Status(ctx context.Context) ([]JobStatus, error) {
	cursors, err := s.store.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	registered := map[string]bool{}
	for _, name := range s.Names() {
		registered[name] = true
	}

	now := s.clock.Now()
	out := make([]JobStatus, 0, len(cursors))
	for _, c := range cursors {
		st := JobStatus{
			Name:        c.Name,
			Frequency:   c.Frequency,
			DayOfMonth:  c.DayOfMonth,
			LastApplied: c.LastApplied,
			Due:         s.policy.Due(c, now),
			Registered:  registered[c.Name],
		}
		if c.Weekday != nil {
			wd := int(*c.Weekday)
			st.Weekday = &wd
		}
		if target, ok := s.policy.Target(c, now); ok {
			st.Target = &target
		}
		if next, ok := s.policy.Next(c, now); ok {
			st.Next = &next
		}
		out = append(out, st)
	}
	return out, nil
}
