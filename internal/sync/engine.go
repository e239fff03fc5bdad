package sync

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/status"
	"github.com/faidahq/faida-offline/internal/sync/queue"
)

// Engine orchestrates drain cycles: it reads every pending operation,
// submits them concurrently and records each outcome through the queue's
// transition API. Operations are independent; no cross-operation ordering
// is imposed, and the server deduplicates retries by local id.
type Engine struct {
	queue   *queue.Queue
	client  *Client
	surface *status.Surface

	mu       sync.Mutex
	draining bool
	lastRun  *time.Time
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Submitted   int
	Synced      int
	Failed      int
	LeftPending int
}

// NewEngine creates an Engine.
func NewEngine(q *queue.Queue, client *Client, surface *status.Surface) *Engine {
	return &Engine{
		queue:   q,
		client:  client,
		surface: surface,
	}
}

// Draining reports whether a drain cycle is currently running.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// LastRun returns the end time of the last completed drain cycle.
func (e *Engine) LastRun() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// Drain performs one drain cycle. A second Drain while one is running
// returns ErrSyncInProgress; the caller simply tries again later, which
// is safe because submissions are idempotent server-side.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "drain already in progress")
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		now := time.Now()
		e.mu.Lock()
		e.draining = false
		e.lastRun = &now
		e.mu.Unlock()
	}()

	result := &DrainResult{StartTime: time.Now()}

	pending, err := e.queue.ListPending()
	if err != nil {
		return nil, err
	}
	result.Submitted = len(pending)

	if len(pending) == 0 {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, nil
	}

	e.surface.DrainStarted(len(pending))
	logging.Info("drain cycle started", logging.Fields{"pending": len(pending)})

	// All submissions run concurrently so a hung request cannot block
	// the rest of the batch.
	var wg sync.WaitGroup
	var tally struct {
		mu          sync.Mutex
		synced      int
		failed      int
		leftPending int
	}

	for _, op := range pending {
		wg.Add(1)
		go func(op *models.QueuedOperation) {
			defer wg.Done()

			res, detail, err := e.client.Submit(ctx, op)
			if err != nil {
				// Unsubmittable operation (no endpoint, undecodable
				// payload): terminal, not retriable.
				res = ResultFailed
				detail = err.Error()
			}

			switch res {
			case ResultSynced:
				if err := e.queue.MarkSynced(op.ID); err != nil {
					logging.Error("failed to mark operation synced", err, logging.Fields{"id": op.ID})
					return
				}
				tally.mu.Lock()
				tally.synced++
				tally.mu.Unlock()

			case ResultFailed:
				if err := e.queue.MarkFailed(op.ID, detail); err != nil {
					logging.Error("failed to mark operation failed", err, logging.Fields{"id": op.ID})
					return
				}
				logging.Warn("operation rejected by server", logging.Fields{
					"id":       op.ID,
					"local_id": op.LocalID,
					"kind":     op.Kind,
					"detail":   detail,
				})
				tally.mu.Lock()
				tally.failed++
				tally.mu.Unlock()

			case ResultUnreachable, ResultRejected:
				// Leave pending; retried on the next online transition.
				tally.mu.Lock()
				tally.leftPending++
				tally.mu.Unlock()
			}
		}(op)
	}

	wg.Wait()

	result.Synced = tally.synced
	result.Failed = tally.failed
	result.LeftPending = tally.leftPending
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.surface.DrainFinished(result.Synced, result.Failed, result.LeftPending)
	logging.Info("drain cycle finished", logging.Fields{
		"synced":       result.Synced,
		"failed":       result.Failed,
		"left_pending": result.LeftPending,
		"duration_ms":  result.Duration.Milliseconds(),
	})

	return result, nil
}
