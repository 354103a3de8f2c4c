package pipeline

import "sync/atomic"

// Signal carries the user's interrupt and skip requests. It is safe for
// concurrent use; the pipeline reads it at image boundaries.
type Signal struct {
	stopped atomic.Bool
	skipped atomic.Bool
}

// NewSignal creates a cleared signal
func NewSignal() *Signal {
	return &Signal{}
}

// Stop requests that no further image is processed
func (s *Signal) Stop() { s.stopped.Store(true) }

// Skip requests that the current image is left unprocessed
func (s *Signal) Skip() { s.skipped.Store(true) }

// Interrupted reports whether Stop was called
func (s *Signal) Interrupted() bool { return s.stopped.Load() }

// Skipped reports whether Skip was called since the last image boundary
func (s *Signal) Skipped() bool { return s.skipped.Load() }

// clearSkip is called once an image is finished
func (s *Signal) clearSkip() { s.skipped.Store(false) }

// Reset clears both requests
func (s *Signal) Reset() {
	s.stopped.Store(false)
	s.skipped.Store(false)
}
