// Package scheduler runs SDK work on a single serialized worker goroutine.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval is the period of the timer-driven task.
	DefaultInterval = 12 * time.Second

	// DefaultThreshold is the queue length that triggers an immediate flush.
	DefaultThreshold = 10
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Task is a unit of work executed on the worker.
type Task func(ctx context.Context)

// Scheduler executes submitted tasks one at a time in submission order,
// plus a periodic task on a fixed-rate timer. Submission never blocks.
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	pending   []Task
	kicked    bool
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   chan struct{}
	wake      chan struct{}
	closeOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the timer period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler. Nothing runs until Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: DefaultInterval,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker with tick as the periodic task. Start is a
// no-op when already started.
func (s *Scheduler) Start(ctx context.Context, tick Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return false
	}
	select {
	case <-s.stopped:
		return false
	default:
	}

	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx, tick)
	return true
}

// Started reports whether Start has run.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Submit queues fn. It returns false when the scheduler is stopped.
func (s *Scheduler) Submit(fn Task) bool {
	s.mu.Lock()
	select {
	case <-s.stopped:
		s.mu.Unlock()
		return false
	default:
	}
	s.pending = append(s.pending, fn)
	s.mu.Unlock()

	s.signal()
	return true
}

// Kick submits fn unless an earlier kick is still pending, in which case
// the request is coalesced into it.
func (s *Scheduler) Kick(fn Task) bool {
	s.mu.Lock()
	if s.kicked {
		s.mu.Unlock()
		return false
	}
	s.kicked = true
	s.mu.Unlock()

	ok := s.Submit(func(ctx context.Context) {
		s.mu.Lock()
		s.kicked = false
		s.mu.Unlock()
		fn(ctx)
	})
	if !ok {
		s.mu.Lock()
		s.kicked = false
		s.mu.Unlock()
	}
	return ok
}

// Do submits fn and waits for it to finish.
func (s *Scheduler) Do(ctx context.Context, fn Task) error {
	finished := make(chan struct{})
	if !s.Submit(func(ctx context.Context) {
		defer close(finished)
		fn(ctx)
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-s.stopped:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the worker after the running task returns. Pending tasks are
// dropped. Stop waits for the worker to exit or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closeOnce.Do(func() { close(s.stopped) })
	started := s.started
	cancel := s.cancel
	s.pending = nil
	s.mu.Unlock()

	if !started {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, tick Task) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, tick)
		case <-s.wake:
			for {
				if ctx.Err() != nil {
					return
				}
				fn := s.pop()
				if fn == nil {
					break
				}
				s.run(ctx, fn)
			}
		}
	}
}

func (s *Scheduler) pop() Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	fn := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return fn
}

func (s *Scheduler) run(ctx context.Context, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", slog.Any("panic", r))
		}
	}()
	fn(ctx)
}
