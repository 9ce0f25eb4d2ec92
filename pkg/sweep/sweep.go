package sweep

import (
	"context"
	"sync"
)

// Sweep is a handle on one sweep started by a Controller.
type Sweep struct {
	// ID is assigned by the controller, starting at 1.
	ID    int64
	Range VoltageRange

	cancel context.CancelFunc
	runs   chan Run
	done   chan struct{}

	mu        sync.Mutex
	state     State
	collected []Run
	err       error
}

func newSweep(id int64, r VoltageRange, cancel context.CancelFunc) *Sweep {
	return &Sweep{
		ID:     id,
		Range:  r,
		cancel: cancel,
		// One slot per pass, so the worker never blocks on a slow consumer.
		runs:  make(chan Run, len(r.Direction.Passes())),
		done:  make(chan struct{}),
		state: StateIdle,
	}
}

// Runs delivers each pass as soon as it ends, partial passes included. It is
// closed once the last pass has been delivered, just before the sweep turns
// terminal.
func (s *Sweep) Runs() <-chan Run {
	return s.runs
}

// Cancel asks the sweep to stop before its next voltage command. It does not
// wait; use Wait or Done for that.
func (s *Sweep) Cancel() {
	s.cancel()
}

// Done is closed when the sweep reaches a terminal state, after the state
// listener has seen it.
func (s *Sweep) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the sweep is terminal and returns its outcome.
func (s *Sweep) Wait() Result {
	<-s.done
	return s.Snapshot()
}

// Snapshot returns the current state and the runs collected so far.
func (s *Sweep) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Result{
		State: s.state,
		Runs:  append([]Run(nil), s.collected...),
		Err:   s.err,
	}
}

// State returns the current state.
func (s *Sweep) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Collected returns the runs emitted so far.
func (s *Sweep) Collected() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Run(nil), s.collected...)
}

func (s *Sweep) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
}

func (s *Sweep) emit(r Run) {
	s.mu.Lock()
	s.collected = append(s.collected, r)
	s.mu.Unlock()

	s.runs <- r
}

// closeRuns records the outcome error and closes Runs.
func (s *Sweep) closeRuns(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	close(s.runs)
}

// terminate makes st visible and closes Done in one step.
func (s *Sweep) terminate(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
	close(s.done)
}

func (s *Sweep) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
