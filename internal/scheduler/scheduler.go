// Package scheduler runs recurring tasks keyed by string. Each key has at most
// one active ticker; starting an active key is a no-op and stopping an
// inactive key is a no-op.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type TaskFunc func(ctx context.Context)

type task struct {
	cancel context.CancelFunc
	ticker clockwork.Ticker
}

type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger
	mu     sync.Mutex
	tasks  map[string]*task
	wg     sync.WaitGroup
}

func New(clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Start runs fn every interval until Stop(key) or Close is called. Only the
// values of ctx are kept; its cancellation does not end the task. Start
// reports whether a new task was started.
func (s *Scheduler) Start(ctx context.Context, key string, interval time.Duration, fn TaskFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[key]; exists {
		return false
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		cancel: cancel,
		ticker: s.clock.NewTicker(interval),
	}
	s.tasks[key] = t

	s.wg.Add(1)
	go s.run(taskCtx, t, fn)

	s.logger.DebugContext(ctx, "task started", "key", key, "interval", interval)
	return true
}

func (s *Scheduler) run(ctx context.Context, t *task, fn TaskFunc) {
	defer s.wg.Done()
	defer t.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.Chan():
			// a tick may already be buffered when the task is cancelled
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// Stop cancels the task for key. It does not wait for a running tick, so a
// task may stop itself. It reports whether a task was active.
func (s *Scheduler) Stop(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[key]
	if !exists {
		return false
	}

	t.cancel()
	delete(s.tasks, key)

	s.logger.Debug("task stopped", "key", key)
	return true
}

// IsActive reports whether a task for key is running.
func (s *Scheduler) IsActive(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.tasks[key]
	return exists
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tasks)
}

// Close stops every task and waits for their goroutines to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for key, t := range s.tasks {
		t.cancel()
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
