package job

import "sync/atomic"

// Halt is the cooperative pause signal shared by all running jobs. Raising
// it asks every job to stop at its next safe point (after the current item
// or grouping); a job that never reaches one runs to natural completion.
type Halt struct {
	flag atomic.Bool
}

// Raise sets the halt signal.
func (h *Halt) Raise() { h.flag.Store(true) }

// Clear lowers the halt signal so future jobs run normally.
func (h *Halt) Clear() { h.flag.Store(false) }

// Raised reports whether the signal is set.
func (h *Halt) Raised() bool {
	if h == nil {
		return false
	}
	return h.flag.Load()
}
