// Package scheduler triggers drain cycles when the server becomes usable
// again. The primary path is event-driven: every offline-to-online
// transition from the connectivity monitor starts a drain. A bounded poll
// fallback covers missed transitions by checking queue depth at a fixed
// interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/faidahq/faida-offline/internal/connectivity"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
	syncpkg "github.com/faidahq/faida-offline/internal/sync"
	"github.com/faidahq/faida-offline/internal/sync/queue"
)

// Scheduler wires the connectivity monitor to the drain engine.
type Scheduler struct {
	engine  syncpkg.Drainer
	queue   *queue.Queue
	monitor *connectivity.Monitor

	pollInterval time.Duration
	pollAttempts int

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// Config holds scheduler configuration.
type Config struct {
	PollInterval time.Duration // queue-depth poll period (0 disables polling)
	PollAttempts int           // consecutive empty polls before the loop pauses
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Minute,
		PollAttempts: 5,
	}
}

// New creates a Scheduler.
func New(engine syncpkg.Drainer, q *queue.Queue, monitor *connectivity.Monitor, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		queue:        q,
		monitor:      monitor,
		pollInterval: config.PollInterval,
		pollAttempts: config.PollAttempts,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the scheduler's background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reconnectLoop(ctx)

	if s.pollInterval > 0 {
		s.wg.Add(1)
		go s.pollLoop(ctx)
	}

	logging.Info("sync scheduler started", nil)
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// SyncNow triggers an immediate drain, for a manual "retry now" action.
// Overlapping a background-triggered drain is harmless: the engine
// rejects the second cycle and submissions are idempotent anyway.
func (s *Scheduler) SyncNow(ctx context.Context) {
	s.drain(ctx)
}

// reconnectLoop drains whenever the monitor reports a transition to
// reachable.
func (s *Scheduler) reconnectLoop(ctx context.Context) {
	defer s.wg.Done()

	transitions := s.monitor.Subscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case state := <-transitions:
			if state != connectivity.StateReachable {
				continue
			}
			logging.Info("server reachable again, draining queue", nil)
			s.drain(ctx)
		}
	}
}

// pollLoop is the fallback path: it checks queue depth every pollInterval
// and drains when operations are waiting and the server is usable. After
// pollAttempts consecutive empty checks the loop exits; the reconnect
// loop remains the drain trigger from then on.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	emptyPolls := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			depth, err := s.queue.Count(models.StatusPending)
			if err != nil {
				logging.Error("queue depth check failed", err, nil)
				continue
			}
			if depth == 0 {
				emptyPolls++
				if s.pollAttempts > 0 && emptyPolls >= s.pollAttempts {
					logging.Debug("poll fallback idle, stopping", nil)
					return
				}
				continue
			}
			emptyPolls = 0

			if s.monitor.CurrentState() != connectivity.StateReachable {
				continue
			}
			logging.Debug("poll fallback draining queue", logging.Fields{"depth": depth})
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := s.engine.Drain(drainCtx); err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			logging.Debug("drain already in progress, skipping", nil)
			return
		}
		logging.Error("drain cycle failed", err, nil)
	}
}
