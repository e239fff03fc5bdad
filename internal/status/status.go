// Package status projects queue and sync state into a transient,
// non-blocking surface. It carries no business logic: it only reflects
// what the queue and the sync engine report.
package status

import (
	"sync"
	"time"
)

// Phase is the headline state shown to the user.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseOffline Phase = "offline"
	PhaseSyncing Phase = "syncing"
	PhaseSynced  Phase = "synced"
	PhaseError   Phase = "error"
)

// Snapshot is one observable state of the surface.
type Snapshot struct {
	Phase   Phase
	Pending int
	Synced  int
	Failed  int
}

// Surface fans snapshots out to subscribers. The success notice
// auto-dismisses back to idle after dismissAfter; the error notice
// persists until Acknowledge is called, so terminal failures cannot be
// missed.
type Surface struct {
	mu           sync.Mutex
	current      Snapshot
	subs         []chan Snapshot
	dismissAfter time.Duration
	dismissTimer *time.Timer
}

// DefaultDismissAfter is how long the success notice stays visible.
const DefaultDismissAfter = 4 * time.Second

// NewSurface creates a Surface. dismissAfter <= 0 uses the default.
func NewSurface(dismissAfter time.Duration) *Surface {
	if dismissAfter <= 0 {
		dismissAfter = DefaultDismissAfter
	}
	return &Surface{
		current:      Snapshot{Phase: PhaseIdle},
		dismissAfter: dismissAfter,
	}
}

// Subscribe returns a channel receiving every published snapshot. The
// channel is buffered; slow consumers miss intermediate snapshots rather
// than blocking publishers.
func (s *Surface) Subscribe() <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 16)
	s.subs = append(s.subs, ch)
	return ch
}

// Current returns the latest snapshot.
func (s *Surface) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// QueuedWhileOffline reports the pending count while the app is offline.
func (s *Surface) QueuedWhileOffline(pending int) {
	s.publish(Snapshot{Phase: PhaseOffline, Pending: pending})
}

// DrainStarted switches the surface to the syncing indicator.
func (s *Surface) DrainStarted(pending int) {
	s.publish(Snapshot{Phase: PhaseSyncing, Pending: pending})
}

// DrainFinished reports a completed drain cycle. With failures the error
// notice persists; with nothing synced and operations still pending (the
// server dropped mid-drain) the surface goes back to offline rather than
// announcing a success that did not happen. Otherwise the success notice
// auto-dismisses.
func (s *Surface) DrainFinished(synced, failed, leftPending int) {
	if failed > 0 {
		s.publish(Snapshot{Phase: PhaseError, Pending: leftPending, Synced: synced, Failed: failed})
		return
	}
	if synced == 0 && leftPending > 0 {
		s.publish(Snapshot{Phase: PhaseOffline, Pending: leftPending})
		return
	}
	s.publish(Snapshot{Phase: PhaseSynced, Pending: leftPending, Synced: synced})
	s.scheduleDismiss()
}

// Acknowledge clears a persistent error notice.
func (s *Surface) Acknowledge() {
	s.mu.Lock()
	isError := s.current.Phase == PhaseError
	s.mu.Unlock()
	if isError {
		s.publish(Snapshot{Phase: PhaseIdle})
	}
}

func (s *Surface) scheduleDismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissTimer != nil {
		s.dismissTimer.Stop()
	}
	s.dismissTimer = time.AfterFunc(s.dismissAfter, func() {
		s.mu.Lock()
		dismiss := s.current.Phase == PhaseSynced
		s.mu.Unlock()
		if dismiss {
			s.publish(Snapshot{Phase: PhaseIdle})
		}
	})
}

func (s *Surface) publish(snap Snapshot) {
	s.mu.Lock()
	s.current = snap
	subs := s.subs
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
