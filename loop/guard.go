package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a run is requested while another one
// holds the guard.
var ErrAlreadyRunning = errors.New("a loop is already running; cancel it or wait for it to finish")

// ActiveRun describes the run currently holding a Guard.
type ActiveRun struct {
	ID        string
	StartedAt time.Time
	Config    Config

	cancel context.CancelFunc
}

// Guard is an ownership slot for at most one active run.
type Guard struct {
	mu     sync.Mutex
	active *ActiveRun
}

// processGuard is shared by every Controller that does not bring its own.
var processGuard = &Guard{}

// Acquire takes the slot for run, or fails with ErrAlreadyRunning.
func (g *Guard) Acquire(run *ActiveRun) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil {
		return ErrAlreadyRunning
	}
	g.active = run
	return nil
}

// Release frees the slot if run still holds it.
func (g *Guard) Release(run *ActiveRun) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == run {
		g.active = nil
	}
}

// Active returns a copy of the active run, if any.
func (g *Guard) Active() (ActiveRun, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ActiveRun{}, false
	}
	return *g.active, true
}

// Cancel signals the active run to stop at its next iteration boundary. It
// reports whether there was a run to signal.
func (g *Guard) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return false
	}
	if g.active.cancel != nil {
		g.active.cancel()
	}
	return true
}
