package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(interval time.Duration) *Scheduler {
	return New(WithInterval(interval), WithLogger(slog.New(slog.DiscardHandler)))
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestScheduler_RunsTasksInOrderOneAtATime(t *testing.T) {
	s := newTestScheduler(time.Hour)
	s.Start(context.Background(), func(context.Context) {})
	defer stop(t, s)

	var (
		mu        sync.Mutex
		order     []int
		active    atomic.Int32
		maxActive atomic.Int32
	)
	for i := 0; i < 50; i++ {
		s.Submit(func(context.Context) {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
		})
	}

	if err := s.Do(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", maxActive.Load())
	}
}

func TestScheduler_PeriodicTick(t *testing.T) {
	var ticks atomic.Int32
	s := newTestScheduler(5 * time.Millisecond)
	s.Start(context.Background(), func(context.Context) { ticks.Add(1) })
	defer stop(t, s)

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("ticks = %d after 2s, want >= 2", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_KickCoalesces(t *testing.T) {
	var ticks atomic.Int32
	s := newTestScheduler(time.Hour)
	s.Start(context.Background(), func(context.Context) {})
	kick := func(context.Context) { ticks.Add(1) }
	defer stop(t, s)

	release := make(chan struct{})
	s.Submit(func(context.Context) { <-release })
	for i := 0; i < 5; i++ {
		s.Kick(kick)
	}
	close(release)

	if err := s.Do(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := ticks.Load(); got != 1 {
		t.Errorf("ticks = %d, want 1", got)
	}

	s.Kick(kick)
	_ = s.Do(context.Background(), func(context.Context) {})
	if got := ticks.Load(); got != 2 {
		t.Errorf("ticks after second kick = %d, want 2", got)
	}
}

func TestScheduler_StartOnce(t *testing.T) {
	s := newTestScheduler(time.Hour)
	if !s.Start(context.Background(), func(context.Context) {}) {
		t.Fatal("first Start() = false")
	}
	defer stop(t, s)
	if s.Start(context.Background(), func(context.Context) {}) {
		t.Error("second Start() = true, want false")
	}
	if !s.Started() {
		t.Error("Started() = false")
	}
}

func TestScheduler_Stop(t *testing.T) {
	s := newTestScheduler(time.Hour)
	s.Start(context.Background(), func(context.Context) {})
	stop(t, s)

	if s.Submit(func(context.Context) {}) {
		t.Error("Submit() after Stop = true")
	}
	if err := s.Do(context.Background(), func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after Stop error = %v, want ErrStopped", err)
	}
	if s.Start(context.Background(), func(context.Context) {}) {
		t.Error("Start() after Stop = true")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := newTestScheduler(time.Hour)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	s := newTestScheduler(time.Hour)
	s.Start(context.Background(), func(context.Context) {})
	defer stop(t, s)

	s.Submit(func(context.Context) { panic("boom") })

	ran := false
	if err := s.Do(context.Background(), func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ran {
		t.Error("worker did not survive a panicking task")
	}
}

func TestScheduler_DoHonorsContext(t *testing.T) {
	s := newTestScheduler(time.Hour)
	s.Start(context.Background(), func(context.Context) {})
	defer stop(t, s)

	release := make(chan struct{})
	defer close(release)
	s.Submit(func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Do(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
}
